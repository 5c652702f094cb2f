package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ranked-coordinator/internal/config"
	"ranked-coordinator/internal/constants"
	"ranked-coordinator/internal/dispatch"
	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/feed"
	"ranked-coordinator/internal/metrics"
	"ranked-coordinator/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ReadyCheckService owns the pending-match lifecycle: proposal, accept,
// decline, timeout and confirmation, plus the queue reconciliation each
// outcome demands.
//
// Change-feed deliveries can race each other, race direct player actions and
// be redelivered, so no decision here trusts an event payload: every handler
// reloads the document and every externally visible effect sits behind a
// status guard (CAS on the document, or the message refs for announcements).
type ReadyCheckService struct {
	pending   PendingStore
	queue     QueueStore
	profiles  ProfileStore
	promoter  Promoter
	sender    dispatch.Sender
	directory *dispatch.Directory
	tracker   EventTracker
	logger    zerolog.Logger

	ttl      time.Duration
	cooldown time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewReadyCheckService(
	pending *repository.PendingMatchRepository,
	queue *repository.QueueRepository,
	profiles *repository.ProfileRepository,
	promoter *repository.Promoter,
	sender *dispatch.WebhookSender,
	directory *dispatch.Directory,
	tracker EventTracker,
	cfg *config.Config,
	logger zerolog.Logger,
) *ReadyCheckService {
	return newReadyCheckService(pending, queue, profiles, promoter, sender, directory, tracker, cfg.ReadyCheckTTL, cfg.DeclineCooldown, logger)
}

func newReadyCheckService(
	pending PendingStore,
	queue QueueStore,
	profiles ProfileStore,
	promoter Promoter,
	sender dispatch.Sender,
	directory *dispatch.Directory,
	tracker EventTracker,
	ttl, cooldown time.Duration,
	logger zerolog.Logger,
) *ReadyCheckService {
	return &ReadyCheckService{
		pending:   pending,
		queue:     queue,
		profiles:  profiles,
		promoter:  promoter,
		sender:    sender,
		directory: directory,
		tracker:   tracker,
		logger:    logger,
		ttl:       ttl,
		cooldown:  cooldown,
		timers:    make(map[string]*time.Timer),
	}
}

// Propose stores an externally built match proposal. The document is
// normalized at this boundary; the feed event it produces drives the
// announcement and the expiry timer.
func (s *ReadyCheckService) Propose(ctx context.Context, id string, raw []byte) (*domain.PendingMatch, error) {
	if id == "" {
		var err error
		if id, err = gonanoid.New(); err != nil {
			return nil, fmt.Errorf("failed to generate match id: %w", err)
		}
	}

	m, err := domain.NormalizePendingMatch(id, raw, time.Now().UTC(), s.ttl)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, fmt.Errorf("refusing proposal %s with terminal status %s", m.ID, m.Status)
	}

	if err := s.pending.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("match_id", m.ID).
		Int("participants", len(m.Participants)).
		Time("expires_at", m.ExpiresAt).
		Msg("ready check proposed")
	return m, nil
}

// Accept records a participant's acceptance. Re-accepting is a successful
// no-op. When the last participant accepts, the match is confirmed.
func (s *ReadyCheckService) Accept(ctx context.Context, matchID, playerID string) (*domain.PendingMatch, error) {
	m, err := s.loadForAction(ctx, matchID, playerID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, ErrMatchClosed
	}
	if m.Acceptance[playerID] == domain.AcceptanceAccepted {
		return m, nil
	}

	ok, err := s.pending.SetAcceptance(ctx, matchID, playerID, domain.AcceptanceAccepted)
	if err != nil {
		return nil, err
	}
	if !ok {
		// status flipped between the read and the write
		return nil, ErrMatchClosed
	}

	m, err = s.pending.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("match_id", matchID).Str("player_id", playerID).Msg("ready check accepted")
	if m.AllAccepted() {
		s.confirm(ctx, m)
	}
	return m, nil
}

// Decline cancels the whole proposal: the decliner leaves the queue and takes
// a re-join cooldown, everyone else returns to the queue, and the downstream
// matchmaker starts over.
func (s *ReadyCheckService) Decline(ctx context.Context, matchID, playerID string) (*domain.PendingMatch, error) {
	m, err := s.loadForAction(ctx, matchID, playerID)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		if m.Acceptance[playerID] == domain.AcceptanceDeclined {
			return m, nil
		}
		return nil, ErrMatchClosed
	}

	if _, err := s.pending.SetAcceptance(ctx, matchID, playerID, domain.AcceptanceDeclined); err != nil {
		return nil, err
	}

	ok, err := s.pending.CASStatus(ctx, matchID, domain.StatusOpen, domain.StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMatchClosed
	}

	s.cancelTimer(matchID)
	s.deleteAnnouncements(ctx, m)

	if err := s.queue.Delete(ctx, playerID); err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to remove decliner from queue")
	}
	if err := s.profiles.SetCooldown(ctx, playerID, time.Now().Add(s.cooldown)); err != nil {
		s.logger.Error().Err(err).Str("player_id", playerID).Msg("failed to apply decline cooldown")
	}

	s.requeue(ctx, m, func(uid string) bool { return uid != playerID })

	metrics.ReadyChecksCancelled.Inc()
	s.track("ready_check_declined", map[string]any{"match_id": matchID}, playerID)
	s.logger.Info().Str("match_id", matchID).Str("player_id", playerID).Msg("ready check declined, match cancelled")

	return s.pending.Get(ctx, matchID)
}

// HandlePendingEvent is the single entry point for pending-match change
// events. It derives everything from current document state.
func (s *ReadyCheckService) HandlePendingEvent(ctx context.Context, ev feed.Event) error {
	if ev.Type == repository.ChangeRemoved {
		s.cancelTimer(ev.DocID)
		return nil
	}

	m, err := s.pending.Get(ctx, ev.DocID)
	if errors.Is(err, repository.ErrNotFound) {
		s.cancelTimer(ev.DocID)
		return nil
	}
	if err != nil {
		return err
	}

	if m.Status.Terminal() {
		s.cancelTimer(m.ID)
		// Crash cleanup: a terminal match that still holds message refs was
		// closed right before its announcements were deleted.
		if len(m.Messages) > 0 {
			s.deleteAnnouncements(ctx, m)
		}
		return nil
	}

	if !time.Now().Before(m.ExpiresAt) {
		s.expire(ctx, m.ID)
		return nil
	}
	s.scheduleTimer(m.ID, m.ExpiresAt)

	if m.AllAccepted() {
		// Also the retry path when a previous promotion attempt failed.
		s.confirm(ctx, m)
		return nil
	}

	s.announce(ctx, m)
	return nil
}

// RestoreTimers reschedules expiry for every open match, called once on
// startup so a restart never leaks a ready check.
func (s *ReadyCheckService) RestoreTimers(ctx context.Context) error {
	open, err := s.pending.ListOpen(ctx)
	if err != nil {
		return err
	}
	for _, m := range open {
		if !time.Now().Before(m.ExpiresAt) {
			s.expire(ctx, m.ID)
			continue
		}
		s.scheduleTimer(m.ID, m.ExpiresAt)
	}
	s.logger.Info().Int("open_matches", len(open)).Msg("expiry timers restored")
	return nil
}

// StopTimers cancels every scheduled expiry, for shutdown.
func (s *ReadyCheckService) StopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *ReadyCheckService) loadForAction(ctx context.Context, matchID, playerID string) (*domain.PendingMatch, error) {
	m, err := s.pending.Get(ctx, matchID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if !m.HasParticipant(playerID) {
		return nil, ErrNotParticipant
	}
	return m, nil
}

// confirm promotes a fully-accepted match. The promoter's CAS makes this safe
// to call from every path that observes full acceptance: exactly one caller
// wins, the rest see ErrNotPromotable.
func (s *ReadyCheckService) confirm(ctx context.Context, m *domain.PendingMatch) {
	historyID, err := s.promoter.Promote(ctx, m)
	if errors.Is(err, repository.ErrNotPromotable) {
		return
	}
	if err != nil {
		// the match stays open; the feed redelivers and we try again
		s.logger.Error().Err(err).Str("match_id", m.ID).Msg("promotion failed, awaiting retry")
		return
	}

	s.cancelTimer(m.ID)
	s.deleteAnnouncements(ctx, m)

	metrics.ReadyChecksConfirmed.Inc()
	s.track("ready_check_confirmed", map[string]any{"match_id": m.ID, "history_id": historyID}, "")
	s.logger.Info().Str("match_id", m.ID).Str("history_id", historyID).Msg("ready check confirmed")
}

// expire times out a still-open match: players who accepted return to the
// queue, players who never answered are dropped.
func (s *ReadyCheckService) expire(ctx context.Context, matchID string) {
	s.cancelTimer(matchID)

	m, err := s.pending.Get(ctx, matchID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error().Err(err).Str("match_id", matchID).Msg("failed to load match for expiry")
		}
		return
	}
	if m.Status.Terminal() {
		return
	}
	if time.Now().Before(m.ExpiresAt) {
		// stale timer from before a reschedule
		s.scheduleTimer(m.ID, m.ExpiresAt)
		return
	}

	ok, err := s.pending.CASStatus(ctx, matchID, domain.StatusOpen, domain.StatusTimeout, "")
	if err != nil {
		s.logger.Error().Err(err).Str("match_id", matchID).Msg("failed to time out match")
		return
	}
	if !ok {
		return
	}

	s.deleteAnnouncements(ctx, m)

	accepted := make(map[string]bool)
	for _, uid := range m.AcceptedParticipants() {
		accepted[uid] = true
	}
	s.requeue(ctx, m, func(uid string) bool { return accepted[uid] })

	metrics.ReadyChecksTimedOut.Inc()
	s.track("ready_check_timeout", map[string]any{"match_id": matchID}, "")
	s.logger.Info().
		Str("match_id", matchID).
		Int("requeued", len(m.AcceptedParticipants())).
		Int("dropped", len(m.UndecidedParticipants())).
		Msg("ready check timed out")
}

// requeue returns participants matching the filter to the queue, rebuilding
// each entry from the profile so proposal-time data never leaks back.
func (s *ReadyCheckService) requeue(ctx context.Context, m *domain.PendingMatch, include func(string) bool) {
	now := time.Now().UTC()
	for _, uid := range m.Participants {
		if !include(uid) {
			continue
		}
		if _, err := s.queue.Get(ctx, uid); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error().Err(err).Str("player_id", uid).Msg("failed to check queue membership")
			continue
		}

		profile, err := s.profiles.Get(ctx, uid)
		if err != nil {
			s.logger.Error().Err(err).Str("player_id", uid).Msg("failed to load profile for requeue")
			continue
		}
		if err := s.queue.Put(ctx, profile.NewQueueEntry(now)); err != nil {
			s.logger.Error().Err(err).Str("player_id", uid).Msg("failed to return player to queue")
		}
	}
}

// announce sends the channel announcement and the opt-in DMs once, then keeps
// the channel message's check-marks current on later events.
func (s *ReadyCheckService) announce(ctx context.Context, m *domain.PendingMatch) {
	render := s.render(m)

	if ref, ok := m.Messages[domain.ChannelRecipient]; ok && ref != "" {
		if err := s.sender.EditReadyCheck(ctx, dispatch.MessageRef(ref), render); err != nil {
			metrics.DispatchFailures.Inc()
			s.logger.Warn().Err(err).Str("match_id", m.ID).Msg("failed to edit ready check announcement")
		}
		return
	}

	refs := make(map[string]string)
	channelRef, err := s.sender.SendReadyCheck(ctx, render)
	if err != nil {
		metrics.DispatchFailures.Inc()
		s.logger.Warn().Err(err).Str("match_id", m.ID).Msg("failed to send ready check announcement")
	} else {
		refs[domain.ChannelRecipient] = string(channelRef)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.DMFanoutParallel)
	for _, uid := range m.Participants {
		g.Go(func() error {
			recipient := s.directory.Lookup(gctx, uid)
			if !recipient.NotifyReadyCheck || recipient.ChatUserID == "" {
				return nil
			}
			ref, err := s.sender.SendDirect(gctx, recipient.ChatUserID, dispatch.FormatReadyCheck(render))
			if err != nil {
				metrics.DispatchFailures.Inc()
				s.logger.Warn().Err(err).Str("player_id", uid).Msg("failed to DM ready check")
				return nil
			}
			mu.Lock()
			refs[uid] = string(ref)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(refs) == 0 {
		return
	}
	if err := s.pending.SetMessages(ctx, m.ID, refs); err != nil {
		s.logger.Error().Err(err).Str("match_id", m.ID).Msg("failed to store message refs")
	}
}

// deleteAnnouncements removes the channel message and every DM, then clears
// the stored refs so redelivered events do not re-delete. Chat failures are
// logged and dropped: the document, not the announcement, is the source of
// truth.
func (s *ReadyCheckService) deleteAnnouncements(ctx context.Context, m *domain.PendingMatch) {
	if len(m.Messages) == 0 {
		return
	}
	for owner, ref := range m.Messages {
		if ref == "" {
			continue
		}
		if err := s.sender.DeleteMessage(ctx, dispatch.MessageRef(ref)); err != nil {
			metrics.DispatchFailures.Inc()
			s.logger.Warn().Err(err).
				Str("match_id", m.ID).
				Str("recipient", owner).
				Msg("failed to delete announcement")
		}
	}
	if err := s.pending.SetMessages(ctx, m.ID, map[string]string{}); err != nil {
		s.logger.Error().Err(err).Str("match_id", m.ID).Msg("failed to clear message refs")
	}
}

func (s *ReadyCheckService) render(m *domain.PendingMatch) dispatch.ReadyCheck {
	remaining := int(time.Until(m.ExpiresAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	var lines []string
	for _, team := range m.Teams {
		for _, p := range team.Players {
			name := p.Name
			if name == "" {
				name = p.UID
			}
			role := p.Role
			if role == "" {
				role = "Preencher"
			}
			mark := ""
			switch m.Acceptance[p.UID] {
			case domain.AcceptanceAccepted:
				mark = " ✅"
			case domain.AcceptanceDeclined:
				mark = " ❌"
			}
			lines = append(lines, fmt.Sprintf("• %s (%s)%s", name, role, mark))
		}
	}

	return dispatch.ReadyCheck{
		Title:            "Ready Check aberto!",
		PlayerLines:      lines,
		SecondsRemaining: remaining,
	}
}

func (s *ReadyCheckService) scheduleTimer(matchID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[matchID]; ok {
		t.Stop()
	}
	s.timers[matchID] = time.AfterFunc(time.Until(expiresAt), func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
		defer cancel()
		s.expire(ctx, matchID)
	})
}

func (s *ReadyCheckService) cancelTimer(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[matchID]; ok {
		t.Stop()
		delete(s.timers, matchID)
	}
}

func (s *ReadyCheckService) track(name string, params map[string]any, userID string) {
	if s.tracker != nil {
		s.tracker.Track(name, params, userID)
	}
}
