// Package rating implements the tier/division/XP ladder as a pure function
// so match resolution can be exercised without any storage behind it.
package rating

import (
	"fmt"

	"ranked-coordinator/internal/constants"
)

// Tiers, lowest to highest. Demotion never drops a player below FloorTier;
// promotion never leaves the last entry.
var Tiers = []string{
	"Ferro",
	"Bronze",
	"Prata",
	"Ouro",
	"Platina",
	"Esmeralda",
	"Diamante",
	"Mestre",
	"Grão-Mestre",
	"Desafiante",
}

// Divisions within a tier, highest first: index 0 is I, index 3 is IV.
// A fresh tier is entered at IV and left upward through I.
var Divisions = []string{"I", "II", "III", "IV"}

const FloorTier = "Prata"

type Rank struct {
	Tier     string
	Division string
	XP       int
}

func (r Rank) String() string {
	return fmt.Sprintf("%s %s (%d XP)", r.Tier, r.Division, r.XP)
}

func tierIndex(tier string) int {
	for i, t := range Tiers {
		if t == tier {
			return i
		}
	}
	return -1
}

func divisionIndex(division string) int {
	for i, d := range Divisions {
		if d == division {
			return i
		}
	}
	return -1
}

// ApplyDelta advances the ladder odometer by one win or loss and returns the
// new rank. XP is a 0-99 counter inside the current division; overflow rolls
// into a division promotion (or a tier promotion from division I), underflow
// rolls into a division demotion (or a tier demotion from division IV).
// The ladder saturates at Desafiante I / 99 XP on the way up and at
// Prata IV / 0 XP on the way down.
func ApplyDelta(tier, division string, xp int, won bool) (Rank, error) {
	ti := tierIndex(tier)
	if ti < 0 {
		return Rank{}, fmt.Errorf("unknown tier %q", tier)
	}
	di := divisionIndex(division)
	if di < 0 {
		return Rank{}, fmt.Errorf("unknown division %q", division)
	}

	if won {
		xp += constants.XPPerWin
	} else {
		xp -= constants.XPPerLoss
	}

	for xp >= 100 {
		xp -= 100
		if di > 0 {
			di--
			continue
		}
		if ti == len(Tiers)-1 {
			// ladder ceiling
			xp = constants.XPMax
			break
		}
		ti++
		di = len(Divisions) - 1
	}

	floor := tierIndex(FloorTier)
	for xp < 0 {
		xp += 100
		if di < len(Divisions)-1 {
			di++
			continue
		}
		if ti <= floor {
			// ladder floor
			return Rank{Tier: FloorTier, Division: Divisions[len(Divisions)-1], XP: 0}, nil
		}
		ti--
		di = 0
	}

	return Rank{Tier: Tiers[ti], Division: Divisions[di], XP: xp}, nil
}
