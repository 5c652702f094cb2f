package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ranked-coordinator/internal/dispatch"
	"ranked-coordinator/internal/domain"
	"ranked-coordinator/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// In-memory fakes for the store ports. They mirror the guard semantics of the
// sqlite repositories (status-guarded writes, idempotency rejections) so the
// services can be exercised without a database.

type fakePending struct {
	mu             sync.Mutex
	matches        map[string]*domain.PendingMatch
	acceptanceSets int
}

func newFakePending() *fakePending {
	return &fakePending{matches: make(map[string]*domain.PendingMatch)}
}

func copyMatch(m *domain.PendingMatch) *domain.PendingMatch {
	cp := *m
	cp.Participants = append([]string(nil), m.Participants...)
	cp.Acceptance = make(map[string]domain.Acceptance, len(m.Acceptance))
	for k, v := range m.Acceptance {
		cp.Acceptance[k] = v
	}
	cp.Messages = make(map[string]string, len(m.Messages))
	for k, v := range m.Messages {
		cp.Messages[k] = v
	}
	return &cp
}

func (f *fakePending) Create(ctx context.Context, m *domain.PendingMatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[m.ID] = copyMatch(m)
	return nil
}

func (f *fakePending) Get(ctx context.Context, id string) (*domain.PendingMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyMatch(m), nil
}

func (f *fakePending) ListOpen(ctx context.Context) ([]*domain.PendingMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.PendingMatch
	for _, m := range f.matches {
		if m.Status == domain.StatusOpen {
			out = append(out, copyMatch(m))
		}
	}
	return out, nil
}

func (f *fakePending) HasActiveWith(ctx context.Context, playerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.matches {
		if m.Status == domain.StatusOpen && m.HasParticipant(playerID) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePending) SetAcceptance(ctx context.Context, id, playerID string, a domain.Acceptance) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok || m.Status != domain.StatusOpen {
		return false, nil
	}
	m.Acceptance[playerID] = a
	f.acceptanceSets++
	return true, nil
}

func (f *fakePending) CASStatus(ctx context.Context, id string, from, to domain.MatchStatus, historyID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	if historyID != "" {
		m.HistoryID = historyID
	}
	return true, nil
}

func (f *fakePending) SetMessages(ctx context.Context, id string, messages map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Messages = make(map[string]string, len(messages))
	for k, v := range messages {
		m.Messages[k] = v
	}
	return nil
}

type fakeQueue struct {
	mu      sync.Mutex
	entries map[string]domain.QueueEntry
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[string]domain.QueueEntry)}
}

func (f *fakeQueue) Put(ctx context.Context, entry domain.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.PlayerID] = entry
	return nil
}

func (f *fakeQueue) Get(ctx context.Context, playerID string) (*domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[playerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (f *fakeQueue) Delete(ctx context.Context, playerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, playerID)
	return nil
}

func (f *fakeQueue) List(ctx context.Context, limit int) ([]domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.QueueEntry
	for _, e := range f.entries {
		if len(out) == limit {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeQueue) has(playerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[playerID]
	return ok
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*domain.PlayerProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*domain.PlayerProfile)}
}

func (f *fakeProfiles) put(p *domain.PlayerProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.profiles[p.PlayerID] = &cp
}

func (f *fakeProfiles) Get(ctx context.Context, playerID string) (*domain.PlayerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[playerID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) GetByName(ctx context.Context, name string) (*domain.PlayerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if strings.EqualFold(p.Name, name) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeProfiles) Upsert(ctx context.Context, p *domain.PlayerProfile) error {
	f.put(p)
	return nil
}

func (f *fakeProfiles) SetCooldown(ctx context.Context, playerID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[playerID]
	if !ok {
		return repository.ErrNotFound
	}
	p.CooldownUntil = until
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	matches map[string]*domain.HistoryMatch
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{matches: make(map[string]*domain.HistoryMatch)}
}

func (f *fakeHistory) put(h *domain.HistoryMatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	f.matches[h.ID] = &cp
}

func (f *fakeHistory) Get(ctx context.Context, id string) (*domain.HistoryMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.matches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHistory) SetResult(ctx context.Context, id, winner string, mvps map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.matches[id]
	if !ok {
		return repository.ErrNotFound
	}
	if h.WinnerResolved() {
		return repository.ErrAlreadyApplied
	}
	h.Winner = winner
	if h.MVPs == nil {
		h.MVPs = make(map[string]string)
	}
	for k, v := range mvps {
		h.MVPs[k] = v
	}
	return nil
}

type fakeLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: make(map[string]bool)}
}

func (f *fakeLedger) key(eventType, entityID string) string {
	return eventType + "/" + entityID
}

func (f *fakeLedger) Seen(ctx context.Context, eventType, entityID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[f.key(eventType, entityID)], nil
}

func (f *fakeLedger) record(eventType, entityID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.key(eventType, entityID)
	if f.seen[k] {
		return false
	}
	f.seen[k] = true
	return true
}

// fakePromoter mirrors the transactional promoter: status CAS, history
// creation and queue drain as one step.
type fakePromoter struct {
	pending  *fakePending
	history  *fakeHistory
	queue    *fakeQueue
	failWith error
	calls    int
}

func (f *fakePromoter) Promote(ctx context.Context, m *domain.PendingMatch) (string, error) {
	f.calls++
	if f.failWith != nil {
		return "", f.failWith
	}
	historyID, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	ok, err := f.pending.CASStatus(ctx, m.ID, domain.StatusOpen, domain.StatusConfirmed, historyID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", repository.ErrNotPromotable
	}
	f.history.put(&domain.HistoryMatch{
		ID:     historyID,
		Teams:  m.Teams,
		Winner: domain.WinnerUnresolved,
		MVPs:   make(map[string]string),
	})
	for _, uid := range m.Participants {
		_ = f.queue.Delete(ctx, uid)
	}
	return historyID, nil
}

// fakeApplier mirrors the transactional result writer: ledger first, then
// rating updates and the queue drain, all or nothing.
type fakeApplier struct {
	profiles *fakeProfiles
	queue    *fakeQueue
	ledger   *fakeLedger
	applied  int
}

func (f *fakeApplier) Apply(ctx context.Context, app repository.ResultApplication) error {
	if !f.ledger.record(app.LedgerType, app.LedgerID) {
		return repository.ErrAlreadyApplied
	}
	for _, u := range app.Updates {
		p, err := f.profiles.Get(ctx, u.PlayerID)
		if err != nil {
			return err
		}
		p.Tier = u.Tier
		p.Division = u.Division
		p.XP = u.XP
		p.Wins = u.Wins
		p.Losses = u.Losses
		p.MVPs = u.MVPs
		f.profiles.put(p)
	}
	for _, uid := range app.RemoveFromQueue {
		_ = f.queue.Delete(ctx, uid)
	}
	f.applied++
	return nil
}

type sentMessage struct {
	kind    string
	ref     string
	content string
}

type fakeSender struct {
	mu      sync.Mutex
	nextRef int
	sends   []sentMessage
	edits   []string
	deletes []string
	winners []dispatch.WinnerAnnouncement
}

func (f *fakeSender) ref() dispatch.MessageRef {
	f.nextRef++
	return dispatch.MessageRef(fmt.Sprintf("msg-%03d", f.nextRef))
}

func (f *fakeSender) SendReadyCheck(ctx context.Context, rc dispatch.ReadyCheck) (dispatch.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := f.ref()
	f.sends = append(f.sends, sentMessage{kind: "channel", ref: string(ref), content: rc.Title})
	return ref, nil
}

func (f *fakeSender) EditReadyCheck(ctx context.Context, ref dispatch.MessageRef, rc dispatch.ReadyCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, string(ref))
	return nil
}

func (f *fakeSender) DeleteMessage(ctx context.Context, ref dispatch.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, string(ref))
	return nil
}

func (f *fakeSender) SendDirect(ctx context.Context, chatUserID, content string) (dispatch.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := f.ref()
	f.sends = append(f.sends, sentMessage{kind: "dm:" + chatUserID, ref: string(ref), content: content})
	return ref, nil
}

func (f *fakeSender) AnnounceWinner(ctx context.Context, w dispatch.WinnerAnnouncement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.winners = append(f.winners, w)
	return nil
}

func (f *fakeSender) directSends(chatUserID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.kind == "dm:"+chatUserID {
			n++
		}
	}
	return n
}

type fakeTracker struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeTracker) Track(name string, params map[string]any, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}
