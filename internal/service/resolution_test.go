package service

import (
	"context"
	"testing"
	"time"

	"ranked-coordinator/internal/dispatch"
	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/feed"
	"ranked-coordinator/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolutionFixture struct {
	history  *fakeHistory
	profiles *fakeProfiles
	queue    *fakeQueue
	ledger   *fakeLedger
	applier  *fakeApplier
	sender   *fakeSender
	tracker  *fakeTracker
	svc      *ResolutionService
}

func newResolutionFixture(t *testing.T) *resolutionFixture {
	t.Helper()

	f := &resolutionFixture{
		history:  newFakeHistory(),
		profiles: newFakeProfiles(),
		queue:    newFakeQueue(),
		ledger:   newFakeLedger(),
		sender:   &fakeSender{},
		tracker:  &fakeTracker{},
	}
	f.applier = &fakeApplier{profiles: f.profiles, queue: f.queue, ledger: f.ledger}

	directory := dispatch.NewDirectory(f.profiles, time.Minute, zerolog.Nop())
	f.svc = newResolutionService(
		f.history, f.profiles, f.queue, f.ledger, f.applier,
		f.sender, directory, f.tracker, zerolog.Nop(),
	)
	return f
}

func (f *resolutionFixture) seed(t *testing.T, winner string) {
	t.Helper()

	f.profiles.put(&domain.PlayerProfile{
		PlayerID: "u1", Name: "Ana", Tier: "Ouro", Division: "II", XP: 80,
		Wins: 10, Losses: 5, ChatUserID: "chat-u1", NotifyResult: true,
	})
	f.profiles.put(&domain.PlayerProfile{
		PlayerID: "u2", Name: "Bia", Tier: "Prata", Division: "IV", XP: 10,
		Wins: 3, Losses: 7, ChatUserID: "chat-u2", NotifyResult: false,
	})

	f.history.put(&domain.HistoryMatch{
		ID: "h1",
		Teams: [2]domain.Roster{
			{Name: "Time Azul", Players: []domain.PlayerRef{{UID: "u1", Name: "Ana"}}},
			{Name: "Time Vermelho", Players: []domain.PlayerRef{{UID: "u2", Name: "Bia"}}},
		},
		Winner: winner,
		MVPs:   map[string]string{"Time Azul": "Ana"},
	})
}

func historyEvent(id string) feed.Event {
	return feed.Event{Collection: repository.CollectionHistoryMatches, DocID: id, Type: repository.ChangeModified}
}

func TestSubmitResultRejectsDoubleWrite(t *testing.T) {
	f := newResolutionFixture(t)
	f.seed(t, domain.WinnerUnresolved)

	require.NoError(t, f.svc.SubmitResult(context.Background(), "h1", "Time Azul", nil))

	err := f.svc.SubmitResult(context.Background(), "h1", "Time Vermelho", nil)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	err = f.svc.SubmitResult(context.Background(), "missing", "Time Azul", nil)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestHandleHistoryEventAppliesRatingsOnce(t *testing.T) {
	f := newResolutionFixture(t)
	f.seed(t, "Time Azul")
	require.NoError(t, f.queue.Put(context.Background(), domain.QueueEntry{PlayerID: "u1"}))

	require.NoError(t, f.svc.HandleHistoryEvent(context.Background(), historyEvent("h1")))

	// winner: Ouro II 80 + 30 wraps into Ouro I 10, win counter up, MVP up
	u1, err := f.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ouro", u1.Tier)
	assert.Equal(t, "I", u1.Division)
	assert.Equal(t, 10, u1.XP)
	assert.Equal(t, 11, u1.Wins)
	assert.Equal(t, 5, u1.Losses)
	assert.Equal(t, 1, u1.MVPs)

	// loser: Prata IV 10 - 30 clamps at the floor, loss counter up
	u2, err := f.profiles.Get(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "Prata", u2.Tier)
	assert.Equal(t, "IV", u2.Division)
	assert.Equal(t, 0, u2.XP)
	assert.Equal(t, 8, u2.Losses)

	// finished participants are no longer waiting
	assert.False(t, f.queue.has("u1"))

	// winner announcement plus one DM: u2 opted out of result messages
	require.Len(t, f.sender.winners, 1)
	assert.Equal(t, "Time Azul", f.sender.winners[0].Winner)
	assert.Equal(t, 1, f.sender.directSends("chat-u1"))
	assert.Equal(t, 0, f.sender.directSends("chat-u2"))

	// redelivery changes nothing
	require.NoError(t, f.svc.HandleHistoryEvent(context.Background(), historyEvent("h1")))
	u1, err = f.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 11, u1.Wins)
	assert.Equal(t, 1, f.applier.applied)
	assert.Len(t, f.sender.winners, 1)
}

func TestHandleHistoryEventSkipsUnresolvedWinner(t *testing.T) {
	f := newResolutionFixture(t)
	f.seed(t, domain.WinnerUnresolved)

	require.NoError(t, f.svc.HandleHistoryEvent(context.Background(), historyEvent("h1")))

	u1, err := f.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, u1.Wins)
	assert.Equal(t, 0, f.applier.applied)
	assert.Empty(t, f.sender.winners)
}

func TestHandleHistoryEventUnknownWinnerIsRecordedNotRetried(t *testing.T) {
	f := newResolutionFixture(t)
	f.seed(t, "Time Verde")

	require.NoError(t, f.svc.HandleHistoryEvent(context.Background(), historyEvent("h1")))

	// no rating movement, but the ledger entry stops the feed from respinning
	u1, err := f.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, u1.Wins)

	seen, err := f.ledger.Seen(context.Background(), "result", "h1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Empty(t, f.sender.winners)
}

func TestHandleHistoryEventNameFallback(t *testing.T) {
	f := newResolutionFixture(t)
	f.profiles.put(&domain.PlayerProfile{
		PlayerID: "u9", Name: "Rui", Tier: "Ouro", Division: "III", XP: 40, Wins: 1,
	})
	f.profiles.put(&domain.PlayerProfile{
		PlayerID: "u8", Name: "Leo", Tier: "Ouro", Division: "III", XP: 40, Losses: 1,
	})
	// legacy roster entries carry names only
	f.history.put(&domain.HistoryMatch{
		ID: "h2",
		Teams: [2]domain.Roster{
			{Name: "Alpha", Players: []domain.PlayerRef{{Name: "rui"}}},
			{Name: "Beta", Players: []domain.PlayerRef{{Name: "LEO"}}},
		},
		Winner: "Alpha",
		MVPs:   map[string]string{},
	})

	require.NoError(t, f.svc.HandleHistoryEvent(context.Background(), historyEvent("h2")))

	u9, err := f.profiles.Get(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, 2, u9.Wins)
	assert.Equal(t, 70, u9.XP)

	u8, err := f.profiles.Get(context.Background(), "u8")
	require.NoError(t, err)
	assert.Equal(t, 2, u8.Losses)
	assert.Equal(t, 10, u8.XP)
}

func TestHandleHistoryEventSkipsUnknownPlayers(t *testing.T) {
	f := newResolutionFixture(t)
	f.profiles.put(&domain.PlayerProfile{
		PlayerID: "u1", Name: "Ana", Tier: "Ouro", Division: "II", XP: 10,
	})
	f.history.put(&domain.HistoryMatch{
		ID: "h3",
		Teams: [2]domain.Roster{
			{Name: "Alpha", Players: []domain.PlayerRef{{UID: "u1", Name: "Ana"}}},
			{Name: "Beta", Players: []domain.PlayerRef{{UID: "ghost", Name: "Ghost"}}},
		},
		Winner: "Alpha",
		MVPs:   map[string]string{},
	})

	require.NoError(t, f.svc.HandleHistoryEvent(context.Background(), historyEvent("h3")))

	// the resolvable player still gets their update
	u1, err := f.profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 40, u1.XP)
	assert.Equal(t, 1, u1.Wins)
	assert.Equal(t, 1, f.applier.applied)
}
