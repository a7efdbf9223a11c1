package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockWait = 3 * time.Second

// memoryStore keeps the whole ledger in process memory. Writers serialize per
// account through channel-based locks acquired in ascending identifier order;
// committed state is published under a single store-wide mutex so readers
// never observe a debit without its matching credit.
type memoryStore struct {
	lockWait time.Duration

	mu        sync.RWMutex
	accounts  map[string]*memoryAccount
	byUser    map[string]string
	movements []Movement
	requests  map[string]Movement
	pending   map[string]struct{}

	// creditHook simulates destination-side storage failures in tests.
	creditHook func(accountID string) error
}

type memoryAccount struct {
	lock    chan struct{}
	account Account
}

// NewMemory creates a concurrency-safe in-memory ledger store. lockWait
// bounds how long a transfer may wait for contended account locks.
func NewMemory(lockWait time.Duration) Store {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &memoryStore{
		lockWait: lockWait,
		accounts: make(map[string]*memoryAccount),
		byUser:   make(map[string]string),
		requests: make(map[string]Movement),
		pending:  make(map[string]struct{}),
	}
}

func (s *memoryStore) CreateAccount(_ context.Context, account Account) error {
	if account.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidOperation)
	}
	if account.Kind == "" {
		account.Kind = KindOrdinary
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return errors.New("account exists")
	}
	if account.UserID != "" {
		if _, exists := s.byUser[account.UserID]; exists {
			return errors.New("user already has an account")
		}
		s.byUser[account.UserID] = account.ID
	}
	s.accounts[account.ID] = &memoryAccount{
		lock:    make(chan struct{}, 1),
		account: account,
	}
	return nil
}

func (s *memoryStore) Account(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.account, nil
}

func (s *memoryStore) AccountByUser(_ context.Context, userID string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return Account{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return s.accounts[id].account, nil
}

func (s *memoryStore) Balance(ctx context.Context, accountID string) (int64, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s *memoryStore) BalanceAsOf(ctx context.Context, accountID string, at time.Time) (int64, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var balance int64
	for _, m := range s.movements {
		if m.Timestamp.After(at) {
			continue
		}
		if m.To == accountID {
			balance += m.Amount
		}
		if m.From == accountID {
			balance -= m.Amount
		}
	}
	return balance, nil
}

func (s *memoryStore) Apply(ctx context.Context, m Movement) (Movement, error) {
	if m.Amount <= 0 {
		return Movement{}, fmt.Errorf("%w: amount must be positive", ErrInvalidOperation)
	}

	release, err := s.reserve(ctx, m.From, m.To)
	if err != nil {
		return Movement{}, err
	}
	defer release()

	// Claim the request id under the store mutex before staging anything.
	// Account locks alone cannot serialize reuse across disjoint account
	// pairs, so the claim is what makes a duplicate on another pair observe
	// this transfer and fail instead of committing a second movement.
	s.mu.Lock()
	if m.RequestID != "" {
		if stored, seen := s.requests[m.RequestID]; seen {
			s.mu.Unlock()
			if stored.From != m.From || stored.To != m.To || stored.Amount != m.Amount {
				return Movement{}, fmt.Errorf("%w: %s", ErrConflict, m.RequestID)
			}
			return stored, nil
		}
		if _, inFlight := s.pending[m.RequestID]; inFlight {
			s.mu.Unlock()
			return Movement{}, fmt.Errorf("%w: %s", ErrConflict, m.RequestID)
		}
		s.pending[m.RequestID] = struct{}{}
	}
	fromRec := s.accounts[m.From]
	toRec := s.accounts[m.To]
	s.mu.Unlock()

	claimed := m.RequestID != ""
	defer func() {
		if claimed {
			s.mu.Lock()
			delete(s.pending, m.RequestID)
			s.mu.Unlock()
		}
	}()

	if fromRec == nil {
		return Movement{}, fmt.Errorf("%w: %s", ErrNotFound, m.From)
	}
	if toRec == nil {
		return Movement{}, fmt.Errorf("%w: %s", ErrNotFound, m.To)
	}

	// Stage the debit. The balance floor only binds ordinary accounts; the
	// reserved bank account models unlimited deposit liquidity.
	if !fromRec.account.Reserved() && fromRec.account.Balance < m.Amount {
		return Movement{}, fmt.Errorf("%w: account %s", ErrInsufficientFunds, m.From)
	}
	newFrom := fromRec.account.Balance - m.Amount
	newTo := toRec.account.Balance + m.Amount
	if m.From == m.To {
		newFrom = fromRec.account.Balance
		newTo = toRec.account.Balance
	}

	// Stage the credit. A failure here reverses the staged debit before the
	// locks are released; nothing was published, so readers saw no trace.
	if s.creditHook != nil {
		if hookErr := s.creditHook(m.To); hookErr != nil {
			return Movement{}, fmt.Errorf("%w: credit %s: %v", ErrRolledBack, m.To, hookErr)
		}
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	// Commit point: both balances and the movement become visible together,
	// and the pending claim is promoted to a committed request record.
	s.mu.Lock()
	fromRec.account.Balance = newFrom
	toRec.account.Balance = newTo
	s.movements = append(s.movements, m)
	if m.RequestID != "" {
		s.requests[m.RequestID] = m
		delete(s.pending, m.RequestID)
		claimed = false
	}
	s.mu.Unlock()

	return m, nil
}

func (s *memoryStore) Movements(_ context.Context, accountID string, from, to time.Time, limit int) ([]Movement, error) {
	s.mu.RLock()
	matched := make([]Movement, 0)
	for _, m := range s.movements {
		if m.From != accountID && m.To != accountID {
			continue
		}
		if !from.IsZero() && m.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && m.Timestamp.After(to) {
			continue
		}
		matched = append(matched, m)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	if limit <= 0 {
		return matched, nil
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched, nil
}

// reserve acquires exclusive update rights on the given accounts, always in
// ascending identifier order so opposing transfers on the same pair cannot
// deadlock. The wait is bounded by lockWait.
func (s *memoryStore) reserve(ctx context.Context, ids ...string) (func(), error) {
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		uniq = append(uniq, id)
	}
	sort.Strings(uniq)

	recs := make([]*memoryAccount, 0, len(uniq))
	s.mu.RLock()
	for _, id := range uniq {
		rec, ok := s.accounts[id]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	held := make([]*memoryAccount, 0, len(recs))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].lock
		}
	}
	for _, rec := range recs {
		select {
		case rec.lock <- struct{}{}:
			held = append(held, rec)
		case <-timer.C:
			release()
			return nil, ErrTimeout
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}
