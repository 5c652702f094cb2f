package domain

import (
	"strings"
	"time"
)

type MatchStatus string

const (
	StatusOpen      MatchStatus = "open"
	StatusConfirmed MatchStatus = "confirmed"
	StatusCancelled MatchStatus = "cancelled"
	StatusTimeout   MatchStatus = "timeout"
)

func (s MatchStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled || s == StatusTimeout
}

type Acceptance string

const (
	AcceptancePending  Acceptance = ""
	AcceptanceAccepted Acceptance = "accepted"
	AcceptanceDeclined Acceptance = "declined"
)

// WinnerUnresolved is the sentinel a HistoryMatch carries until an external
// write resolves the winner. Legacy documents also use "Pendente".
const WinnerUnresolved = "N/A"

// ChannelRecipient keys the shared-channel message handle in
// PendingMatch.Messages; every other key is a player id.
const ChannelRecipient = "channel"

type PlayerRef struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type Roster struct {
	Name    string      `json:"name"`
	Players []PlayerRef `json:"players"`
}

type QueueEntry struct {
	PlayerID   string
	Name       string
	Tag        string
	Tier       string
	Division   string
	Role       string
	ChatUserID string
	JoinedAt   time.Time
}

type PendingMatch struct {
	ID           string
	Status       MatchStatus
	Teams        [2]Roster
	Participants []string
	Acceptance   map[string]Acceptance
	Messages     map[string]string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	HistoryID    string
}

func (m *PendingMatch) HasParticipant(playerID string) bool {
	for _, uid := range m.Participants {
		if uid == playerID {
			return true
		}
	}
	return false
}

func (m *PendingMatch) AllAccepted() bool {
	if len(m.Participants) == 0 {
		return false
	}
	for _, uid := range m.Participants {
		if m.Acceptance[uid] != AcceptanceAccepted {
			return false
		}
	}
	return true
}

func (m *PendingMatch) AcceptedParticipants() []string {
	var out []string
	for _, uid := range m.Participants {
		if m.Acceptance[uid] == AcceptanceAccepted {
			out = append(out, uid)
		}
	}
	return out
}

func (m *PendingMatch) UndecidedParticipants() []string {
	var out []string
	for _, uid := range m.Participants {
		if m.Acceptance[uid] == AcceptancePending {
			out = append(out, uid)
		}
	}
	return out
}

type HistoryMatch struct {
	ID        string
	Teams     [2]Roster
	Winner    string
	MVPs      map[string]string
	CreatedAt time.Time
}

func (h *HistoryMatch) WinnerResolved() bool {
	w := strings.TrimSpace(h.Winner)
	return w != "" && !strings.EqualFold(w, WinnerUnresolved) && !strings.EqualFold(w, "Pendente")
}

// WinningTeam matches the winner field against the roster names,
// case- and whitespace-insensitive. The second return is false when the
// winner names neither roster.
func (h *HistoryMatch) WinningTeam() (int, bool) {
	want := foldName(h.Winner)
	for i := range h.Teams {
		if foldName(h.Teams[i].Name) == want {
			return i, true
		}
	}
	return 0, false
}

func foldName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

type PlayerProfile struct {
	PlayerID         string
	Name             string
	Tag              string
	Tier             string
	Division         string
	XP               int
	Wins             int
	Losses           int
	MVPs             int
	Role             string
	ChatUserID       string
	NotifyReadyCheck bool
	NotifyResult     bool
	CooldownUntil    time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RatingUpdate carries the absolute post-match values for one player.
// Counters are totals, not deltas, so applying the same update twice leaves
// the profile unchanged.
type RatingUpdate struct {
	PlayerID string
	Tier     string
	Division string
	XP       int
	Wins     int
	Losses   int
	MVPs     int
}

func (p *PlayerProfile) OnCooldown(now time.Time) bool {
	return p.CooldownUntil.After(now)
}

// NewQueueEntry rebuilds a queue entry from the profile. Re-entry after a
// cancelled or timed-out ready check always goes through here so stale
// proposal-time data never flows back into the queue.
func (p *PlayerProfile) NewQueueEntry(now time.Time) QueueEntry {
	return QueueEntry{
		PlayerID:   p.PlayerID,
		Name:       p.Name,
		Tag:        p.Tag,
		Tier:       p.Tier,
		Division:   p.Division,
		Role:       p.Role,
		ChatUserID: p.ChatUserID,
		JoinedAt:   now,
	}
}
