package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betchain/settlementd/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory doubles for the orchestrator's collaborators. They implement the
// domain interfaces faithfully enough to exercise the write paths, with
// injectable errors for failure scenarios.
// ---------------------------------------------------------------------------

func betKey(eventID int64, user string) string {
	return fmt.Sprintf("%d/%s", eventID, strings.ToLower(user))
}

type fakeLedger struct {
	mu     sync.Mutex
	events map[int64]domain.LedgerEvent
	bets   map[string]domain.LedgerBet

	// signerAddr stands in for the address the real client derives from its
	// signing key; SubmitBet records stakes under it.
	signerAddr string

	// claimStarted is closed when SubmitClaim begins; claimGate, when set,
	// stalls that call until the test closes it. Both are one-shot.
	claimStarted chan struct{}
	claimGate    chan struct{}

	submitErr error
	awaitErr  error
	submits   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		events:     make(map[int64]domain.LedgerEvent),
		bets:       make(map[string]domain.LedgerBet),
		signerAddr: "0xabc",
	}
}

func (l *fakeLedger) ListEventIDs(ctx context.Context) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int64, 0, len(l.events))
	for id := range l.events {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (l *fakeLedger) GetEvent(ctx context.Context, id int64) (domain.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[id]
	if !ok {
		return domain.LedgerEvent{}, domain.NewLedgerError(domain.LedgerReverted, "event does not exist", nil)
	}
	return ev, nil
}

func (l *fakeLedger) GetUserBet(ctx context.Context, id int64, user string) (domain.LedgerBet, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.bets[betKey(id, user)]
	return b, ok, nil
}

func (l *fakeLedger) GetOutcomeTotal(ctx context.Context, id int64, option int) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := new(big.Int)
	prefix := fmt.Sprintf("%d/", id)
	for k, b := range l.bets {
		if strings.HasPrefix(k, prefix) && b.Option == option {
			total.Add(total, b.Amount)
		}
	}
	return total, nil
}

func (l *fakeLedger) SubmitBet(ctx context.Context, id int64, option int, amount *big.Int) (domain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return domain.TxHandle{}, l.submitErr
	}
	l.submits++
	l.bets[betKey(id, l.signerAddr)] = domain.LedgerBet{Amount: amount, Option: option}
	ev := l.events[id]
	if ev.Pool == nil {
		ev.Pool = new(big.Int)
	}
	ev.Pool = new(big.Int).Add(ev.Pool, amount)
	l.events[id] = ev
	return domain.TxHandle{Hash: uuid.NewString()}, nil
}

func (l *fakeLedger) SubmitResolve(ctx context.Context, id int64, winningOption int) (domain.TxHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return domain.TxHandle{}, l.submitErr
	}
	l.submits++
	ev := l.events[id]
	ev.Closed = true
	ev.WinningOption = winningOption
	l.events[id] = ev
	return domain.TxHandle{Hash: uuid.NewString()}, nil
}

func (l *fakeLedger) SubmitClaim(ctx context.Context, id int64, user string) (domain.TxHandle, error) {
	l.mu.Lock()
	started, gate := l.claimStarted, l.claimGate
	l.claimStarted, l.claimGate = nil, nil
	l.mu.Unlock()
	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return domain.TxHandle{}, l.submitErr
	}
	l.submits++
	b := l.bets[betKey(id, user)]
	b.Claimed = true
	l.bets[betKey(id, user)] = b
	return domain.TxHandle{Hash: uuid.NewString()}, nil
}

func (l *fakeLedger) WithdrawFees(ctx context.Context) (domain.TxHandle, error) {
	return domain.TxHandle{Hash: uuid.NewString()}, nil
}

func (l *fakeLedger) Await(ctx context.Context, h domain.TxHandle) (domain.TxResult, error) {
	if l.awaitErr != nil {
		return domain.TxResult{}, l.awaitErr
	}
	return domain.TxResult{TxID: h.Hash, BlockNumber: 1}, nil
}

type memEventStore struct {
	mu         sync.Mutex
	byID       map[int64]domain.Event
	resolveErr error
}

func newMemEventStore() *memEventStore {
	return &memEventStore{byID: make(map[int64]domain.Event)}
}

func (s *memEventStore) Create(ctx context.Context, ev domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[ev.ID]; ok {
		return domain.Event{}, domain.ErrAlreadyExists
	}
	ev.CreatedAt = time.Now().UTC()
	ev.UpdatedAt = ev.CreatedAt
	s.byID[ev.ID] = ev
	return ev, nil
}

func (s *memEventStore) GetByID(ctx context.Context, id int64) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return ev, nil
}

func (s *memEventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.byID))
	for _, ev := range s.byID {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memEventStore) ListByCategory(ctx context.Context, category string, opts domain.ListOpts) ([]domain.Event, error) {
	all, _ := s.List(ctx, opts)
	out := all[:0]
	for _, ev := range all {
		if ev.Category == category {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memEventStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byID)), nil
}

func (s *memEventStore) Resolve(ctx context.Context, eventID int64, winningOutcomeID string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return domain.Event{}, s.resolveErr
	}
	ev, ok := s.byID[eventID]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	if ev.WinningOutcomeID != "" {
		if ev.WinningOutcomeID == winningOutcomeID {
			return ev, nil
		}
		return domain.Event{}, domain.ErrAlreadyResolved
	}
	ev.WinningOutcomeID = winningOutcomeID
	ev.Status = domain.EventStatusCompleted
	ev.UpdatedAt = time.Now().UTC()
	s.byID[eventID] = ev
	return ev, nil
}

// applyStake mirrors the increments the SQL store commits with each bet
// insert: outcome staked amount, event pool, and the bet counter.
func (s *memEventStore) applyStake(eventID int64, outcomeID string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	found := false
	for i, out := range ev.Outcomes {
		if out.ID != outcomeID {
			continue
		}
		staked := out.StakedAmount
		if staked == nil {
			staked = new(big.Int)
		}
		ev.Outcomes[i].StakedAmount = new(big.Int).Add(staked, amount)
		found = true
		break
	}
	if !found {
		return domain.ErrNotFound
	}
	pool := ev.Pool
	if pool == nil {
		pool = new(big.Int)
	}
	ev.Pool = new(big.Int).Add(pool, amount)
	ev.TotalBets++
	ev.UpdatedAt = time.Now().UTC()
	s.byID[eventID] = ev
	return nil
}

func (s *memEventStore) Delete(ctx context.Context, eventID int64) (domain.DeleteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[eventID]; !ok {
		return domain.DeleteCounts{}, domain.ErrNotFound
	}
	delete(s.byID, eventID)
	return domain.DeleteCounts{Events: 1}, nil
}

type memBetStore struct {
	mu        sync.Mutex
	byID      map[string]domain.Bet
	events    *memEventStore
	createErr error
	claimErr  error
}

func newMemBetStore(events *memEventStore) *memBetStore {
	return &memBetStore{byID: make(map[string]domain.Bet), events: events}
}

func (s *memBetStore) Create(ctx context.Context, b domain.Bet) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return domain.Bet{}, s.createErr
	}
	for _, ex := range s.byID {
		if ex.EventID == b.EventID && strings.EqualFold(ex.User, b.User) {
			return domain.Bet{}, domain.ErrAlreadyBet
		}
	}
	if s.events != nil {
		if err := s.events.applyStake(b.EventID, b.OutcomeID, b.Amount); err != nil {
			return domain.Bet{}, err
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()
	s.byID[b.ID] = b
	return b, nil
}

// seed installs a bet row directly, for fixtures whose stake the seeded
// event totals already include.
func (s *memBetStore) seed(b domain.Bet) domain.Bet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()
	s.byID[b.ID] = b
	return b
}

func (s *memBetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *memBetStore) GetByUserEvent(ctx context.Context, user string, eventID int64) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.byID {
		if b.EventID == eventID && strings.EqualFold(b.User, user) {
			return b, nil
		}
	}
	return domain.Bet{}, domain.ErrNotFound
}

func (s *memBetStore) ListByUser(ctx context.Context, user string) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.byID {
		if strings.EqualFold(b.User, user) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memBetStore) ListByEvent(ctx context.Context, eventID int64) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Bet
	for _, b := range s.byID {
		if b.EventID == eventID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memBetStore) MarkClaimed(ctx context.Context, id string) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return domain.Bet{}, s.claimErr
	}
	b, ok := s.byID[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	if b.Claimed {
		return domain.Bet{}, domain.ErrAlreadyClaimed
	}
	b.Claimed = true
	s.byID[id] = b
	return b, nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.held[key] = false
	}, nil
}

type memQueue struct {
	mu    sync.Mutex
	tasks []domain.MirrorTask
}

func (q *memQueue) Enqueue(ctx context.Context, t domain.MirrorTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *memQueue) Next(ctx context.Context) (domain.MirrorTask, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return domain.MirrorTask{}, false, nil
	}
	best := 0
	for i, t := range q.tasks {
		if t.RetryCount < q.tasks[best].RetryCount {
			best = i
		}
	}
	return q.tasks[best], true, nil
}

func (q *memQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *memQueue) Requeue(ctx context.Context, t domain.MirrorTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, ex := range q.tasks {
		if ex.ID == t.ID {
			q.tasks[i].RetryCount++
			return nil
		}
	}
	t.RetryCount++
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *memQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type memBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{messages: make(map[string][][]byte)}
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type fakeSnapshots struct {
	mu       sync.Mutex
	written  []domain.SettlementSnapshot
	writeErr error
}

func (f *fakeSnapshots) WriteSettlement(ctx context.Context, snap domain.SettlementSnapshot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return "", f.writeErr
	}
	f.written = append(f.written, snap)
	return fmt.Sprintf("settlements/%d.json", snap.EventID), nil
}

// Interface conformance for the doubles.
var (
	_ domain.LedgerClient   = (*fakeLedger)(nil)
	_ domain.EventStore     = (*memEventStore)(nil)
	_ domain.BetStore       = (*memBetStore)(nil)
	_ domain.LockManager    = (*fakeLocks)(nil)
	_ domain.MirrorQueue    = (*memQueue)(nil)
	_ domain.SignalBus      = (*memBus)(nil)
	_ domain.SnapshotWriter = (*fakeSnapshots)(nil)
)
