package dispatch

import (
	"context"
	"sync"
	"time"

	"ranked-coordinator/internal/domain"

	"github.com/rs/zerolog"
)

// Recipient is the slice of a profile the dispatcher cares about.
type Recipient struct {
	ChatUserID       string
	NotifyReadyCheck bool
	NotifyResult     bool
}

// ProfileGetter is the profile lookup the directory wraps.
type ProfileGetter interface {
	Get(ctx context.Context, playerID string) (*domain.PlayerProfile, error)
}

// Directory resolves chat links and notification preferences, cached for a
// few minutes since they change rarely and every ready check touches ten of
// them at once.
type Directory struct {
	profiles ProfileGetter
	ttl      time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	cache map[string]directoryItem
}

type directoryItem struct {
	recipient Recipient
	fetchedAt time.Time
}

func NewDirectory(profiles ProfileGetter, ttl time.Duration, logger zerolog.Logger) *Directory {
	return &Directory{
		profiles: profiles,
		ttl:      ttl,
		logger:   logger,
		cache:    make(map[string]directoryItem),
	}
}

// Lookup returns the recipient for a player. An unknown player yields the
// zero Recipient, which suppresses DMs without failing the caller.
func (d *Directory) Lookup(ctx context.Context, playerID string) Recipient {
	d.mu.Lock()
	if item, ok := d.cache[playerID]; ok && time.Since(item.fetchedAt) < d.ttl {
		d.mu.Unlock()
		return item.recipient
	}
	d.mu.Unlock()

	profile, err := d.profiles.Get(ctx, playerID)
	if err != nil {
		d.logger.Debug().Err(err).Str("player_id", playerID).Msg("recipient lookup failed")
		return Recipient{}
	}

	r := Recipient{
		ChatUserID:       profile.ChatUserID,
		NotifyReadyCheck: profile.NotifyReadyCheck,
		NotifyResult:     profile.NotifyResult,
	}
	d.mu.Lock()
	d.cache[playerID] = directoryItem{recipient: r, fetchedAt: time.Now()}
	d.mu.Unlock()
	return r
}

// Invalidate drops a cached entry, used after preference updates.
func (d *Directory) Invalidate(playerID string) {
	d.mu.Lock()
	delete(d.cache, playerID)
	d.mu.Unlock()
}
