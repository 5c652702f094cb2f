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

type readyCheckFixture struct {
	pending  *fakePending
	queue    *fakeQueue
	profiles *fakeProfiles
	promoter *fakePromoter
	history  *fakeHistory
	sender   *fakeSender
	tracker  *fakeTracker
	svc      *ReadyCheckService
}

func newReadyCheckFixture(t *testing.T) *readyCheckFixture {
	t.Helper()

	f := &readyCheckFixture{
		pending:  newFakePending(),
		queue:    newFakeQueue(),
		profiles: newFakeProfiles(),
		history:  newFakeHistory(),
		sender:   &fakeSender{},
		tracker:  &fakeTracker{},
	}
	f.promoter = &fakePromoter{pending: f.pending, history: f.history, queue: f.queue}

	directory := dispatch.NewDirectory(f.profiles, time.Minute, zerolog.Nop())
	f.svc = newReadyCheckService(
		f.pending, f.queue, f.profiles, f.promoter,
		f.sender, directory, f.tracker,
		time.Minute, 5*time.Minute, zerolog.Nop(),
	)
	t.Cleanup(f.svc.StopTimers)
	return f
}

func (f *readyCheckFixture) seedProfiles(t *testing.T) {
	t.Helper()
	for _, p := range []*domain.PlayerProfile{
		{PlayerID: "u1", Name: "Ana", Tier: "Ouro", Division: "II", Role: "Top", ChatUserID: "chat-u1", NotifyReadyCheck: true, NotifyResult: true},
		{PlayerID: "u2", Name: "Bia", Tier: "Prata", Division: "I", Role: "Mid", ChatUserID: "chat-u2", NotifyReadyCheck: true, NotifyResult: true},
		{PlayerID: "u3", Name: "Caio", Tier: "Ouro", Division: "IV", Role: "ADC", ChatUserID: "chat-u3", NotifyReadyCheck: false, NotifyResult: true},
		{PlayerID: "u4", Name: "Davi", Tier: "Prata", Division: "III", Role: "Sup"},
	} {
		f.profiles.put(p)
	}
}

func (f *readyCheckFixture) seedMatch(t *testing.T, expiresAt time.Time) *domain.PendingMatch {
	t.Helper()
	m := &domain.PendingMatch{
		ID:     "m1",
		Status: domain.StatusOpen,
		Teams: [2]domain.Roster{
			{Name: "Time Azul", Players: []domain.PlayerRef{
				{UID: "u1", Name: "Ana", Role: "Top"},
				{UID: "u2", Name: "Bia", Role: "Mid"},
			}},
			{Name: "Time Vermelho", Players: []domain.PlayerRef{
				{UID: "u3", Name: "Caio", Role: "ADC"},
				{UID: "u4", Name: "Davi", Role: "Sup"},
			}},
		},
		Participants: []string{"u1", "u2", "u3", "u4"},
		Acceptance:   make(map[string]domain.Acceptance),
		Messages:     make(map[string]string),
		ExpiresAt:    expiresAt,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, f.pending.Create(context.Background(), m))
	return m
}

func TestProposeNormalizesAndStores(t *testing.T) {
	f := newReadyCheckFixture(t)

	raw := []byte(`{
		"status": "Aberta",
		"time1": {"nome": "Time Azul", "jogadores": [{"uid": "u1", "nome": "Ana"}]},
		"time2": {"nome": "Time Vermelho", "jogadores": [{"uid": "u2", "nome": "Bia"}]}
	}`)

	m, err := f.svc.Propose(context.Background(), "m1", raw)
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, domain.StatusOpen, m.Status)

	stored, err := f.pending.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, stored.Participants)
}

func TestProposeRejectsTerminalStatus(t *testing.T) {
	f := newReadyCheckFixture(t)

	raw := []byte(`{
		"status": "Confirmada",
		"time1": {"jogadores": [{"uid": "u1"}]},
		"time2": {"jogadores": [{"uid": "u2"}]}
	}`)

	_, err := f.svc.Propose(context.Background(), "m1", raw)
	assert.Error(t, err)
}

func TestAcceptIsIdempotent(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))

	_, err := f.svc.Accept(context.Background(), "m1", "u1")
	require.NoError(t, err)

	m, err := f.svc.Accept(context.Background(), "m1", "u1")
	require.NoError(t, err)

	assert.Equal(t, domain.AcceptanceAccepted, m.Acceptance["u1"])
	assert.Equal(t, 1, f.pending.acceptanceSets)
}

func TestAcceptValidation(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))

	_, err := f.svc.Accept(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = f.svc.Accept(context.Background(), "m1", "stranger")
	assert.ErrorIs(t, err, ErrNotParticipant)

	ok, err := f.pending.CASStatus(context.Background(), "m1", domain.StatusOpen, domain.StatusCancelled, "")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Accept(context.Background(), "m1", "u1")
	assert.ErrorIs(t, err, ErrMatchClosed)
}

func TestLastAcceptConfirmsMatch(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))
	require.NoError(t, f.pending.SetMessages(context.Background(), "m1", map[string]string{
		domain.ChannelRecipient: "msg-channel",
		"u1":                    "msg-dm-u1",
	}))

	// everyone is still queued until the match confirms
	for _, uid := range []string{"u1", "u2", "u3", "u4"} {
		p, err := f.profiles.Get(context.Background(), uid)
		require.NoError(t, err)
		require.NoError(t, f.queue.Put(context.Background(), p.NewQueueEntry(time.Now())))
	}

	for _, uid := range []string{"u1", "u2", "u3", "u4"} {
		_, err := f.svc.Accept(context.Background(), "m1", uid)
		require.NoError(t, err)
	}

	m, err := f.pending.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, m.Status)
	assert.NotEmpty(t, m.HistoryID)
	assert.Empty(t, m.Messages)

	h, err := f.history.Get(context.Background(), m.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, domain.WinnerUnresolved, h.Winner)
	assert.Equal(t, "Time Azul", h.Teams[0].Name)

	for _, uid := range []string{"u1", "u2", "u3", "u4"} {
		assert.False(t, f.queue.has(uid), "player %s should have left the queue", uid)
	}
	assert.ElementsMatch(t, []string{"msg-channel", "msg-dm-u1"}, f.sender.deletes)
	assert.Equal(t, 1, f.promoter.calls)
}

func TestDeclineCancelsAndCompensates(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))
	require.NoError(t, f.pending.SetMessages(context.Background(), "m1", map[string]string{
		domain.ChannelRecipient: "msg-channel",
	}))

	m, err := f.svc.Decline(context.Background(), "m1", "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, m.Status)
	assert.Equal(t, domain.AcceptanceDeclined, m.Acceptance["u2"])

	// decliner is out of the queue and on cooldown
	assert.False(t, f.queue.has("u2"))
	p, err := f.profiles.Get(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, p.CooldownUntil.After(time.Now()))

	// everyone else is back in the queue
	for _, uid := range []string{"u1", "u3", "u4"} {
		assert.True(t, f.queue.has(uid), "player %s should be requeued", uid)
	}

	assert.Equal(t, []string{"msg-channel"}, f.sender.deletes)
}

func TestDeclineIsIdempotentForSameDecliner(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))

	_, err := f.svc.Decline(context.Background(), "m1", "u2")
	require.NoError(t, err)

	m, err := f.svc.Decline(context.Background(), "m1", "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, m.Status)

	// a different player acting on the cancelled match is rejected
	_, err = f.svc.Decline(context.Background(), "m1", "u1")
	assert.ErrorIs(t, err, ErrMatchClosed)
}

func TestHandlePendingEventAnnouncesOnceThenEdits(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))

	ev := feed.Event{Collection: repository.CollectionPendingMatches, DocID: "m1", Type: repository.ChangeAdded}
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))

	// channel message plus DMs for u1 and u2 only: u3 opted out, u4 has no
	// chat link
	assert.Equal(t, 1, f.sender.directSends("chat-u1"))
	assert.Equal(t, 1, f.sender.directSends("chat-u2"))
	assert.Equal(t, 0, f.sender.directSends("chat-u3"))

	m, err := f.pending.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.NotEmpty(t, m.Messages[domain.ChannelRecipient])

	// redelivery edits the existing announcement instead of resending
	ev.Type = repository.ChangeModified
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))
	assert.Len(t, f.sender.edits, 1)
	assert.Equal(t, 1, f.sender.directSends("chat-u1"))
}

func TestHandlePendingEventConfirmsWhenAllAccepted(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	m := f.seedMatch(t, time.Now().Add(time.Minute))
	for _, uid := range m.Participants {
		_, err := f.pending.SetAcceptance(context.Background(), "m1", uid, domain.AcceptanceAccepted)
		require.NoError(t, err)
	}
	ev := feed.Event{Collection: repository.CollectionPendingMatches, DocID: "m1", Type: repository.ChangeModified}
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))

	got, err := f.pending.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, 1, f.promoter.calls)

	// redelivery after confirmation is a clean no-op
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))
	assert.Equal(t, 1, f.promoter.calls)
}

func TestHandlePendingEventExpiresAndPartitions(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(-time.Second))
	for _, uid := range []string{"u1", "u3"} {
		_, err := f.pending.SetAcceptance(context.Background(), "m1", uid, domain.AcceptanceAccepted)
		require.NoError(t, err)
	}

	ev := feed.Event{Collection: repository.CollectionPendingMatches, DocID: "m1", Type: repository.ChangeModified}
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))

	m, err := f.pending.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, m.Status)

	// accepted players return to the queue, the silent ones are dropped
	assert.True(t, f.queue.has("u1"))
	assert.True(t, f.queue.has("u3"))
	assert.False(t, f.queue.has("u2"))
	assert.False(t, f.queue.has("u4"))
}

func TestHandlePendingEventRemovedCancelsTimer(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(time.Minute))

	ev := feed.Event{Collection: repository.CollectionPendingMatches, DocID: "m1", Type: repository.ChangeAdded}
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))

	ev.Type = repository.ChangeRemoved
	require.NoError(t, f.svc.HandlePendingEvent(context.Background(), ev))
	assert.Empty(t, f.svc.timers)
}

func TestRestoreTimersExpiresOverdueMatches(t *testing.T) {
	f := newReadyCheckFixture(t)
	f.seedProfiles(t)
	f.seedMatch(t, time.Now().Add(-time.Minute))

	require.NoError(t, f.svc.RestoreTimers(context.Background()))

	m, err := f.pending.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, m.Status)
}
