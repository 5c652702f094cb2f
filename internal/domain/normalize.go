package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Documents written by the legacy matchmaker carry Portuguese field names,
// several status aliases and a handful of optional roster shapes. All of that
// is flattened into the canonical structs here, once, when a document crosses
// the boundary; nothing past this file knows about the aliases.

type rawPlayer struct {
	UID           string `json:"uid"`
	ID            string `json:"id"`
	Nome          string `json:"nome"`
	Name          string `json:"name"`
	RolePrincipal string `json:"rolePrincipal"`
	Role          string `json:"role"`
}

type rawTeam struct {
	Nome      string      `json:"nome"`
	Name      string      `json:"name"`
	Jogadores []rawPlayer `json:"jogadores"`
	Players   []rawPlayer `json:"players"`
}

type rawPendingMatch struct {
	ID         string            `json:"id"`
	Status     string            `json:"status"`
	Time1      *rawTeam          `json:"time1"`
	Time2      *rawTeam          `json:"time2"`
	Teams      []rawTeam         `json:"teams"`
	UIDs       []string          `json:"uids"`
	Acceptance map[string]string `json:"acceptance"`
	Aceites    map[string]string `json:"aceites"`
	ExpiresAt  json.RawMessage   `json:"expiresAt"`
	ExpiraEm   json.RawMessage   `json:"expiraEm"`
}

type rawHistoryMatch struct {
	ID       string          `json:"id"`
	Vencedor string          `json:"vencedor"`
	Winner   string          `json:"winner"`
	Time1    *rawTeam        `json:"time1"`
	Time2    *rawTeam        `json:"time2"`
	Teams    []rawTeam       `json:"teams"`
	MVPs     map[string]string `json:"mvps"`
	MVPTime1 string          `json:"mvpTime1"`
	MVPTime2 string          `json:"mvpTime2"`
}

// NormalizePendingMatch decodes a raw proposal document into the canonical
// PendingMatch. The id argument wins over any id embedded in the payload.
func NormalizePendingMatch(id string, data []byte, now time.Time, defaultTTL time.Duration) (*PendingMatch, error) {
	var raw rawPendingMatch
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode pending match: %w", err)
	}

	if id == "" {
		id = raw.ID
	}
	if id == "" {
		return nil, fmt.Errorf("pending match has no id")
	}

	teams, err := normalizeTeams(raw.Time1, raw.Time2, raw.Teams)
	if err != nil {
		return nil, fmt.Errorf("pending match %s: %w", id, err)
	}

	participants := raw.UIDs
	if len(participants) == 0 {
		for _, t := range teams {
			for _, p := range t.Players {
				if p.UID != "" {
					participants = append(participants, p.UID)
				}
			}
		}
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("pending match %s has no participants", id)
	}

	acceptance := make(map[string]Acceptance)
	for uid, v := range mergeMaps(raw.Acceptance, raw.Aceites) {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "accepted", "aceito", "true":
			acceptance[uid] = AcceptanceAccepted
		case "declined", "recusado", "false":
			acceptance[uid] = AcceptanceDeclined
		}
	}

	expiresAt := parseTimestamp(firstRaw(raw.ExpiresAt, raw.ExpiraEm))
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultTTL)
	}

	return &PendingMatch{
		ID:           id,
		Status:       NormalizeStatus(raw.Status),
		Teams:        teams,
		Participants: participants,
		Acceptance:   acceptance,
		Messages:     make(map[string]string),
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}, nil
}

// NormalizeHistoryMatch decodes a raw history document.
func NormalizeHistoryMatch(id string, data []byte, now time.Time) (*HistoryMatch, error) {
	var raw rawHistoryMatch
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode history match: %w", err)
	}

	if id == "" {
		id = raw.ID
	}
	if id == "" {
		return nil, fmt.Errorf("history match has no id")
	}

	teams, err := normalizeTeams(raw.Time1, raw.Time2, raw.Teams)
	if err != nil {
		return nil, fmt.Errorf("history match %s: %w", id, err)
	}

	winner := raw.Winner
	if winner == "" {
		winner = raw.Vencedor
	}
	if winner == "" {
		winner = WinnerUnresolved
	}

	mvps := make(map[string]string)
	for team, name := range raw.MVPs {
		if name != "" {
			mvps[team] = name
		}
	}
	if raw.MVPTime1 != "" {
		mvps[teams[0].Name] = raw.MVPTime1
	}
	if raw.MVPTime2 != "" {
		mvps[teams[1].Name] = raw.MVPTime2
	}

	return &HistoryMatch{
		ID:        id,
		Teams:     teams,
		Winner:    winner,
		MVPs:      mvps,
		CreatedAt: now,
	}, nil
}

// NormalizeStatus maps the legacy status aliases onto the canonical set.
// Anything unknown is treated as open so a half-written document never
// short-circuits the guard checks downstream.
func NormalizeStatus(s string) MatchStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed", "confirmada":
		return StatusConfirmed
	case "cancelled", "canceled", "cancelada":
		return StatusCancelled
	case "timeout", "expirada":
		return StatusTimeout
	default:
		// "open", "pending", "readycheck", "aberta", ""
		return StatusOpen
	}
}

func normalizeTeams(t1, t2 *rawTeam, list []rawTeam) ([2]Roster, error) {
	var teams [2]Roster

	switch {
	case t1 != nil && t2 != nil:
		teams[0] = normalizeTeam(*t1, "Time 1")
		teams[1] = normalizeTeam(*t2, "Time 2")
	case len(list) >= 2:
		teams[0] = normalizeTeam(list[0], "Time 1")
		teams[1] = normalizeTeam(list[1], "Time 2")
	default:
		return teams, fmt.Errorf("document has no team rosters")
	}

	if len(teams[0].Players) == 0 && len(teams[1].Players) == 0 {
		return teams, fmt.Errorf("document has empty team rosters")
	}
	return teams, nil
}

func normalizeTeam(t rawTeam, fallbackName string) Roster {
	name := t.Name
	if name == "" {
		name = t.Nome
	}
	if name == "" {
		name = fallbackName
	}

	players := t.Players
	if len(players) == 0 {
		players = t.Jogadores
	}

	roster := Roster{Name: name, Players: make([]PlayerRef, 0, len(players))}
	for _, p := range players {
		ref := PlayerRef{UID: p.UID, Name: p.Name, Role: p.Role}
		if ref.UID == "" {
			ref.UID = p.ID
		}
		if ref.Name == "" {
			ref.Name = p.Nome
		}
		if ref.Role == "" {
			ref.Role = p.RolePrincipal
		}
		if ref.UID == "" && ref.Name == "" {
			continue
		}
		roster.Players = append(roster.Players, ref)
	}
	return roster
}

func mergeMaps(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

func firstRaw(vals ...json.RawMessage) json.RawMessage {
	for _, v := range vals {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
		return time.Time{}
	}
	var unix int64
	if err := json.Unmarshal(raw, &unix); err == nil && unix > 0 {
		// millisecond timestamps are common in the legacy documents
		if unix > 1e12 {
			return time.UnixMilli(unix)
		}
		return time.Unix(unix, 0)
	}
	return time.Time{}
}
