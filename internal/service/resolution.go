package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ranked-coordinator/internal/constants"
	"ranked-coordinator/internal/dispatch"
	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/domain/rating"
	"ranked-coordinator/internal/feed"
	"ranked-coordinator/internal/metrics"
	"ranked-coordinator/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ledgerTypeResult keys processed results in the notification ledger.
const ledgerTypeResult = "result"

// ResolutionService consumes history matches whose winner has been resolved
// and applies rating deltas, counters and notifications exactly once.
type ResolutionService struct {
	history   HistoryStore
	profiles  ProfileStore
	queue     QueueStore
	ledger    Ledger
	applier   ResultApplier
	sender    dispatch.Sender
	directory *dispatch.Directory
	tracker   EventTracker
	logger    zerolog.Logger
}

func NewResolutionService(
	history *repository.HistoryRepository,
	profiles *repository.ProfileRepository,
	queue *repository.QueueRepository,
	ledger *repository.LedgerRepository,
	applier *repository.ResultWriter,
	sender *dispatch.WebhookSender,
	directory *dispatch.Directory,
	tracker EventTracker,
	logger zerolog.Logger,
) *ResolutionService {
	return newResolutionService(history, profiles, queue, ledger, applier, sender, directory, tracker, logger)
}

func newResolutionService(
	history HistoryStore,
	profiles ProfileStore,
	queue QueueStore,
	ledger Ledger,
	applier ResultApplier,
	sender dispatch.Sender,
	directory *dispatch.Directory,
	tracker EventTracker,
	logger zerolog.Logger,
) *ResolutionService {
	return &ResolutionService{
		history:   history,
		profiles:  profiles,
		queue:     queue,
		ledger:    ledger,
		applier:   applier,
		sender:    sender,
		directory: directory,
		tracker:   tracker,
		logger:    logger,
	}
}

// SubmitResult is the external result write: it flips the winner field once.
// The change event it produces drives the actual rating application.
func (s *ResolutionService) SubmitResult(ctx context.Context, historyID, winner string, mvps map[string]string) error {
	if strings.TrimSpace(winner) == "" {
		return fmt.Errorf("winner must not be empty")
	}
	err := s.history.SetResult(ctx, historyID, winner, mvps)
	if errors.Is(err, repository.ErrAlreadyApplied) {
		return ErrAlreadyResolved
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrMatchNotFound
	}
	return err
}

// playerOutcome pairs a rating update with what the player gets told.
type playerOutcome struct {
	update  domain.RatingUpdate
	summary dispatch.ResultSummary
}

// HandleHistoryEvent is the single entry point for history change events.
func (s *ResolutionService) HandleHistoryEvent(ctx context.Context, ev feed.Event) error {
	h, err := s.history.Get(ctx, ev.DocID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if !h.WinnerResolved() {
		return nil
	}

	seen, err := s.ledger.Seen(ctx, ledgerTypeResult, h.ID)
	if err != nil {
		return err
	}
	if seen {
		metrics.DuplicateEvents.Inc()
		return nil
	}

	winIdx, ok := h.WinningTeam()
	if !ok {
		// Unresolvable winner string: record it processed so the feed does
		// not spin on it forever.
		s.logger.Error().
			Str("history_id", h.ID).
			Str("winner", h.Winner).
			Msg("winner matches neither roster, skipping result")
		return s.applier.Apply(ctx, repository.ResultApplication{
			LedgerType: ledgerTypeResult,
			LedgerID:   h.ID,
		})
	}

	outcomes, participants := s.computeOutcomes(ctx, h, winIdx)

	err = s.applier.Apply(ctx, repository.ResultApplication{
		LedgerType:      ledgerTypeResult,
		LedgerID:        h.ID,
		Updates:         updatesOf(outcomes),
		RemoveFromQueue: participants,
	})
	if errors.Is(err, repository.ErrAlreadyApplied) {
		metrics.DuplicateEvents.Inc()
		return nil
	}
	if err != nil {
		return err
	}

	metrics.ResultsResolved.Inc()
	s.track("match_resolved", map[string]any{"history_id": h.ID, "winner": h.Winner}, "")
	s.notify(ctx, h, outcomes)
	return nil
}

// computeOutcomes resolves every roster entry to a profile and runs the
// ladder odometer. Unresolvable players are logged and skipped rather than
// failing the whole match.
func (s *ResolutionService) computeOutcomes(ctx context.Context, h *domain.HistoryMatch, winIdx int) ([]playerOutcome, []string) {
	var outcomes []playerOutcome
	var participants []string

	for ti := range h.Teams {
		team := h.Teams[ti]
		won := ti == winIdx
		mvpName := h.MVPs[team.Name]

		for _, ref := range team.Players {
			profile, err := s.resolveProfile(ctx, ref)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("history_id", h.ID).
					Str("uid", ref.UID).
					Str("name", ref.Name).
					Msg("cannot resolve roster entry, skipping rating update")
				continue
			}
			participants = append(participants, profile.PlayerID)

			rank, err := rating.ApplyDelta(profile.Tier, profile.Division, profile.XP, won)
			if err != nil {
				s.logger.Warn().Err(err).
					Str("player_id", profile.PlayerID).
					Msg("profile holds an unknown rank, skipping rating update")
				continue
			}

			update := domain.RatingUpdate{
				PlayerID: profile.PlayerID,
				Tier:     rank.Tier,
				Division: rank.Division,
				XP:       rank.XP,
				Wins:     profile.Wins,
				Losses:   profile.Losses,
				MVPs:     profile.MVPs,
			}
			outcome := "Derrota"
			if won {
				update.Wins++
				outcome = "Vitória"
			} else {
				update.Losses++
			}

			isMVP := mvpName != "" && (strings.EqualFold(mvpName, profile.Name) || strings.EqualFold(mvpName, ref.Name))
			if isMVP {
				update.MVPs++
			}

			outcomes = append(outcomes, playerOutcome{
				update: update,
				summary: dispatch.ResultSummary{
					Outcome:     outcome,
					XPBefore:    profile.XP,
					XPAfter:     rank.XP,
					NewTier:     rank.Tier,
					NewDivision: rank.Division,
					IsMVP:       isMVP,
				},
			})
		}
	}
	return outcomes, participants
}

// resolveProfile prefers the stable id carried on the roster entry; the
// case-insensitive name lookup is the documented lower-trust fallback for
// legacy rosters built without ids.
func (s *ResolutionService) resolveProfile(ctx context.Context, ref domain.PlayerRef) (*domain.PlayerProfile, error) {
	if ref.UID != "" {
		return s.profiles.Get(ctx, ref.UID)
	}
	if ref.Name == "" {
		return nil, fmt.Errorf("roster entry has neither uid nor name")
	}
	s.logger.Debug().Str("name", ref.Name).Msg("resolving roster entry by name fallback")
	return s.profiles.GetByName(ctx, ref.Name)
}

// notify announces the winner and DMs each opted-in player their summary.
// Best effort throughout: the result is already committed.
func (s *ResolutionService) notify(ctx context.Context, h *domain.HistoryMatch, outcomes []playerOutcome) {
	announcement := dispatch.WinnerAnnouncement{
		Winner: h.Winner,
		TeamA:  rosterNames(h.Teams[0]),
		TeamB:  rosterNames(h.Teams[1]),
	}
	if err := s.sender.AnnounceWinner(ctx, announcement); err != nil {
		metrics.DispatchFailures.Inc()
		s.logger.Warn().Err(err).Str("history_id", h.ID).Msg("failed to announce winner")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.DMFanoutParallel)
	for _, o := range outcomes {
		g.Go(func() error {
			recipient := s.directory.Lookup(gctx, o.update.PlayerID)
			if !recipient.NotifyResult || recipient.ChatUserID == "" {
				return nil
			}
			if _, err := s.sender.SendDirect(gctx, recipient.ChatUserID, dispatch.FormatResultSummary(o.summary)); err != nil {
				metrics.DispatchFailures.Inc()
				s.logger.Warn().Err(err).Str("player_id", o.update.PlayerID).Msg("failed to DM result summary")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *ResolutionService) track(name string, params map[string]any, userID string) {
	if s.tracker != nil {
		s.tracker.Track(name, params, userID)
	}
}

func updatesOf(outcomes []playerOutcome) []domain.RatingUpdate {
	updates := make([]domain.RatingUpdate, 0, len(outcomes))
	for _, o := range outcomes {
		updates = append(updates, o.update)
	}
	return updates
}

func rosterNames(team domain.Roster) []string {
	names := make([]string, 0, len(team.Players))
	for _, p := range team.Players {
		if p.Name != "" {
			names = append(names, p.Name)
			continue
		}
		names = append(names, p.UID)
	}
	return names
}
