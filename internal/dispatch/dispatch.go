// Package dispatch delivers announcements and direct messages to the chat
// platform. The platform is an external sink: every delivery is best effort,
// and callers never let a failed send block a state transition.
package dispatch

import "context"

// MessageRef identifies a previously sent message so it can be edited or
// deleted later.
type MessageRef string

// ReadyCheck is the render request for a proposed match announcement.
type ReadyCheck struct {
	Title            string
	PlayerLines      []string
	SecondsRemaining int
}

// WinnerAnnouncement is the render request for a resolved match.
type WinnerAnnouncement struct {
	Winner string
	TeamA  []string
	TeamB  []string
}

// ResultSummary is the per-player direct result message.
type ResultSummary struct {
	Outcome     string
	XPBefore    int
	XPAfter     int
	NewTier     string
	NewDivision string
	IsMVP       bool
}

// Sender is the outbound contract the services depend on.
type Sender interface {
	SendReadyCheck(ctx context.Context, rc ReadyCheck) (MessageRef, error)
	EditReadyCheck(ctx context.Context, ref MessageRef, rc ReadyCheck) error
	DeleteMessage(ctx context.Context, ref MessageRef) error

	// SendDirect DMs the chat user, falling back to the shared channel when
	// the player has no usable chat link.
	SendDirect(ctx context.Context, chatUserID, content string) (MessageRef, error)

	AnnounceWinner(ctx context.Context, w WinnerAnnouncement) error
}
