package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, accounts ...Account) Store {
	t.Helper()
	s := NewMemory(200 * time.Millisecond)
	ctx := context.Background()
	if err := EnsureSystemAccount(ctx, s); err != nil {
		t.Fatalf("ensure system account: %v", err)
	}
	for _, a := range accounts {
		if err := s.CreateAccount(ctx, a); err != nil {
			t.Fatalf("create account %s: %v", a.ID, err)
		}
	}
	return s
}

func TestApplyConservesTotalAcrossConcurrentTransfers(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
		Account{ID: "acct-c", UserID: "user-c"},
		Account{ID: "acct-d", UserID: "user-d"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 100_000)
	SeedBalance(s, "acct-c", 100_000)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := "acct-a", "acct-b"
			if i%2 == 0 {
				from, to = "acct-c", "acct-d"
			}
			_, err := s.Apply(ctx, Movement{
				RequestID: fmt.Sprintf("req-%d", i),
				From:      from,
				To:        to,
				Amount:    500,
			})
			if err != nil {
				t.Errorf("apply %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, id := range []string{"acct-a", "acct-b", "acct-c", "acct-d"} {
		balance, err := s.Balance(ctx, id)
		if err != nil {
			t.Fatalf("balance %s: %v", id, err)
		}
		if balance < 0 {
			t.Fatalf("account %s went negative: %d", id, balance)
		}
		total += balance
	}
	if total != 200_000 {
		t.Fatalf("ledger not balanced, total=%d", total)
	}
}

func TestApplyNoLostUpdateOnOpposingTransfers(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 1_000)
	SeedBalance(s, "acct-b", 1_000)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := s.Apply(ctx, Movement{RequestID: "a-to-b", From: "acct-a", To: "acct-b", Amount: 100}); err != nil {
			t.Errorf("a to b: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := s.Apply(ctx, Movement{RequestID: "b-to-a", From: "acct-b", To: "acct-a", Amount: 50}); err != nil {
			t.Errorf("b to a: %v", err)
		}
	}()
	wg.Wait()

	balanceA, _ := s.Balance(ctx, "acct-a")
	balanceB, _ := s.Balance(ctx, "acct-b")
	if balanceA != 950 || balanceB != 1_050 {
		t.Fatalf("expected 950/1050, got %d/%d", balanceA, balanceB)
	}
}

func TestApplyInsufficientFundsLeavesNoTrace(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 99)

	_, err := s.Apply(ctx, Movement{RequestID: "req-1", From: "acct-a", To: "acct-b", Amount: 100})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	balanceA, _ := s.Balance(ctx, "acct-a")
	balanceB, _ := s.Balance(ctx, "acct-b")
	if balanceA != 99 || balanceB != 0 {
		t.Fatalf("balances changed: %d/%d", balanceA, balanceB)
	}
	movements, _ := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 0)
	if len(movements) != 0 {
		t.Fatalf("expected no movements, got %d", len(movements))
	}
}

func TestApplyIdempotentRetry(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 1_000)

	m := Movement{RequestID: "retry-me", From: "acct-a", To: "acct-b", Amount: 300}
	first, err := s.Apply(ctx, m)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}
	second, err := s.Apply(ctx, m)
	if err != nil {
		t.Fatalf("retry apply: %v", err)
	}
	if second.ID != first.ID || !second.Timestamp.Equal(first.Timestamp) {
		t.Fatalf("retry returned a different movement: %+v vs %+v", second, first)
	}

	balanceA, _ := s.Balance(ctx, "acct-a")
	if balanceA != 700 {
		t.Fatalf("retry double-applied, balance=%d", balanceA)
	}
	movements, _ := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 0)
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
}

func TestApplyRejectsReusedRequestIDWithDifferentPayload(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 1_000)

	if _, err := s.Apply(ctx, Movement{RequestID: "dup", From: "acct-a", To: "acct-b", Amount: 100}); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	_, err := s.Apply(ctx, Movement{RequestID: "dup", From: "acct-a", To: "acct-b", Amount: 999})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	balanceA, _ := s.Balance(ctx, "acct-a")
	if balanceA != 900 {
		t.Fatalf("conflicting retry mutated balance: %d", balanceA)
	}
}

func TestApplyRejectsConcurrentReuseAcrossAccountPairs(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
		Account{ID: "acct-c", UserID: "user-c"},
		Account{ID: "acct-d", UserID: "user-d"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 1_000)
	SeedBalance(s, "acct-c", 1_000)

	// Park the first transfer mid-flight, after its request id is claimed
	// but before it commits.
	entered := make(chan struct{})
	proceed := make(chan struct{})
	FailCredits(s, func(accountID string) error {
		if accountID == "acct-b" {
			close(entered)
			<-proceed
		}
		return nil
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Apply(ctx, Movement{RequestID: "dup", From: "acct-a", To: "acct-b", Amount: 100})
		firstDone <- err
	}()
	<-entered

	// Disjoint account pair, so no account lock protects against the reuse;
	// only the request id claim can reject it.
	_, err := s.Apply(ctx, Movement{RequestID: "dup", From: "acct-c", To: "acct-d", Amount: 999})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for in-flight reuse, got %v", err)
	}

	close(proceed)
	if err := <-firstDone; err != nil {
		t.Fatalf("first transfer: %v", err)
	}

	var committed int
	for _, id := range []string{"acct-a", "acct-c"} {
		movements, err := s.Movements(ctx, id, time.Time{}, time.Time{}, 0)
		if err != nil {
			t.Fatalf("movements %s: %v", id, err)
		}
		committed += len(movements)
	}
	if committed != 1 {
		t.Fatalf("expected exactly one committed movement for the reused id, got %d", committed)
	}
	balanceC, _ := s.Balance(ctx, "acct-c")
	if balanceC != 1_000 {
		t.Fatalf("rejected reuse mutated balance: %d", balanceC)
	}
}

func TestApplyDepositFromSystemAccount(t *testing.T) {
	s := newTestStore(t, Account{ID: "acct-a", UserID: "user-a"})
	ctx := context.Background()

	if _, err := s.Apply(ctx, Movement{RequestID: "dep-1", From: SystemAccountID, To: "acct-a", Amount: 200}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	balanceA, _ := s.Balance(ctx, "acct-a")
	if balanceA != 200 {
		t.Fatalf("expected balance 200, got %d", balanceA)
	}
	movements, _ := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 0)
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
	if movements[0].From != SystemAccountID {
		t.Fatalf("expected system account source, got %s", movements[0].From)
	}

	// The reserved account is exempt from the balance floor.
	systemBalance, _ := s.Balance(ctx, SystemAccountID)
	if systemBalance != -200 {
		t.Fatalf("expected system balance -200, got %d", systemBalance)
	}
}

func TestApplyTimesOutOnHeldLock(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 1_000)

	release := HoldAccount(s, "acct-b")
	defer release()

	_, err := s.Apply(ctx, Movement{RequestID: "stuck", From: "acct-a", To: "acct-b", Amount: 100})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	balanceA, _ := s.Balance(ctx, "acct-a")
	if balanceA != 1_000 {
		t.Fatalf("timed-out transfer mutated balance: %d", balanceA)
	}
	movements, _ := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 0)
	if len(movements) != 0 {
		t.Fatalf("timed-out transfer left a movement")
	}
}

func TestApplyRollsBackWhenCreditFails(t *testing.T) {
	s := newTestStore(t,
		Account{ID: "acct-a", UserID: "user-a"},
		Account{ID: "acct-b", UserID: "user-b"},
	)
	ctx := context.Background()
	SeedBalance(s, "acct-a", 1_000)

	FailCredits(s, func(accountID string) error {
		if accountID == "acct-b" {
			return errors.New("destination store unavailable")
		}
		return nil
	})

	_, err := s.Apply(ctx, Movement{RequestID: "doomed", From: "acct-a", To: "acct-b", Amount: 100})
	if !errors.Is(err, ErrRolledBack) {
		t.Fatalf("expected rollback, got %v", err)
	}

	balanceA, _ := s.Balance(ctx, "acct-a")
	balanceB, _ := s.Balance(ctx, "acct-b")
	if balanceA != 1_000 || balanceB != 0 {
		t.Fatalf("rollback left partial state: %d/%d", balanceA, balanceB)
	}
	movements, _ := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 0)
	if len(movements) != 0 {
		t.Fatalf("rolled-back transfer appended a movement")
	}

	// The same request must succeed once the destination recovers.
	FailCredits(s, nil)
	if _, err := s.Apply(ctx, Movement{RequestID: "doomed", From: "acct-a", To: "acct-b", Amount: 100}); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestMovementsUnknownAccountIsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	movements, err := s.Movements(context.Background(), "acct-ghost", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("expected empty result, got error %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no movements, got %d", len(movements))
	}
}

func TestMovementsOrderingAndLimit(t *testing.T) {
	s := newTestStore(t, Account{ID: "acct-a", UserID: "user-a"})
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Apply(ctx, Movement{
			RequestID: fmt.Sprintf("dep-%d", i),
			From:      SystemAccountID,
			To:        "acct-a",
			Amount:    int64(100 + i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	full, err := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("full query: %v", err)
	}
	if len(full) != 5 {
		t.Fatalf("expected 5 movements, got %d", len(full))
	}
	for i := 1; i < len(full); i++ {
		if full[i].Timestamp.Before(full[i-1].Timestamp) {
			t.Fatalf("full query not ascending at %d", i)
		}
	}

	recent, err := s.Movements(ctx, "acct-a", time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("recent query: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 movements, got %d", len(recent))
	}
	if recent[0].Amount != 104 || recent[1].Amount != 103 {
		t.Fatalf("recent query not newest first: %d, %d", recent[0].Amount, recent[1].Amount)
	}

	windowed, err := s.Movements(ctx, "acct-a", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	if err != nil {
		t.Fatalf("windowed query: %v", err)
	}
	if len(windowed) != 3 {
		t.Fatalf("expected 3 movements in window, got %d", len(windowed))
	}
}

func TestBalanceAsOfReplaysMovementLog(t *testing.T) {
	s := newTestStore(t, Account{ID: "acct-a", UserID: "user-a"})
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	deposits := []int64{100, 200, 300}
	for i, amount := range deposits {
		_, err := s.Apply(ctx, Movement{
			RequestID: fmt.Sprintf("dep-%d", i),
			From:      SystemAccountID,
			To:        "acct-a",
			Amount:    amount,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	asOf, err := s.BalanceAsOf(ctx, "acct-a", base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("balance as of: %v", err)
	}
	if asOf != 300 {
		t.Fatalf("expected 300 as of mid-window, got %d", asOf)
	}

	current, _ := s.Balance(ctx, "acct-a")
	if current != 600 {
		t.Fatalf("expected current 600, got %d", current)
	}
}
