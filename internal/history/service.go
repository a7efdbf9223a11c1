package history

import (
	"context"
	"errors"
	"time"

	"github.com/nova-wallet/nova_ledger/internal/identity"
	"github.com/nova-wallet/nova_ledger/internal/ledger"
)

// recentPageSize is the page returned when callers ask for recent movements
// only. Callers needing more narrow by time window instead.
const recentPageSize = 20

// bankDisplayName labels movements against the reserved bank account.
const bankDisplayName = "nova"

// Service reads movement history and resolves raw account identifiers to
// display-friendly usernames through the user directory.
type Service struct {
	store ledger.Store
	users identity.Repository
}

// NewService builds a movement query service.
func NewService(store ledger.Store, users identity.Repository) *Service {
	return &Service{store: store, users: users}
}

// Entry is one movement with both parties resolved for display.
type Entry struct {
	ID        string
	FromUser  string
	ToUser    string
	Amount    int64
	Timestamp time.Time
}

// List returns movements involving the user within [from, to]. recentOnly
// selects the most recent page newest first; otherwise the full range is
// returned oldest first. userRef may be a user id, an account id or a
// username. Unknown users yield an empty list, not an error; an account with
// no movements is a valid state.
func (s *Service) List(ctx context.Context, userRef string, from, to time.Time, recentOnly bool) ([]Entry, error) {
	account, err := s.resolve(ctx, userRef)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return []Entry{}, nil
		}
		return nil, err
	}

	limit := 0
	if recentOnly {
		limit = recentPageSize
	}
	movements, err := s.store.Movements(ctx, account.ID, from, to, limit)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, 2)
	entries := make([]Entry, 0, len(movements))
	for _, m := range movements {
		entries = append(entries, Entry{
			ID:        m.ID,
			FromUser:  s.displayName(ctx, names, m.From),
			ToUser:    s.displayName(ctx, names, m.To),
			Amount:    m.Amount,
			Timestamp: m.Timestamp,
		})
	}
	return entries, nil
}

// resolve finds the ledger account behind a user id, account id or username
// reference, in that order.
func (s *Service) resolve(ctx context.Context, userRef string) (ledger.Account, error) {
	account, err := ledger.Resolve(ctx, s.store, userRef)
	if err == nil || !errors.Is(err, ledger.ErrNotFound) {
		return account, err
	}
	user, userErr := s.users.FindByUsername(ctx, userRef)
	if userErr != nil {
		if errors.Is(userErr, identity.ErrUserNotFound) {
			return ledger.Account{}, err
		}
		return ledger.Account{}, userErr
	}
	return s.store.AccountByUser(ctx, user.ID)
}

// displayName maps an account identifier to a username, memoizing lookups
// across one query. Resolution failures fall back to the raw identifier so a
// directory outage degrades display without hiding history.
func (s *Service) displayName(ctx context.Context, cache map[string]string, accountID string) string {
	if accountID == ledger.SystemAccountID {
		return bankDisplayName
	}
	if name, ok := cache[accountID]; ok {
		return name
	}

	name := accountID
	if account, err := s.store.Account(ctx, accountID); err == nil && account.UserID != "" {
		name = account.UserID
		if user, err := s.users.FindByID(ctx, account.UserID); err == nil {
			name = user.Username
		}
	}
	cache[accountID] = name
	return name
}
