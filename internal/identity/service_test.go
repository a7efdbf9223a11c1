package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nova-wallet/nova_ledger/internal/ledger"
)

func newTestService(t *testing.T) (*Service, ledger.Store) {
	t.Helper()
	store := ledger.NewMemory(200 * time.Millisecond)
	if err := ledger.EnsureSystemAccount(context.Background(), store); err != nil {
		t.Fatalf("ensure system account: %v", err)
	}
	return NewService(NewMemoryRepository(), store), store
}

func TestRegisterOpensLedgerAccount(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected an assigned user id")
	}

	account, err := store.AccountByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("account lookup: %v", err)
	}
	if account.Balance != 0 {
		t.Fatalf("new account not empty: %d", account.Balance)
	}
	if account.Kind != ledger.KindOrdinary {
		t.Fatalf("expected ordinary account, got %s", account.Kind)
	}
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "alice"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Username: "alice"})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected user exists, got %v", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "   "}); !errors.Is(err, ledger.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for blank username, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "not-an-email"}); !errors.Is(err, ledger.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for bad email, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "bob", UserID: "not-a-uuid"}); !errors.Is(err, ledger.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for bad user id, got %v", err)
	}
}

func TestFindReturnsRegisteredUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterInput{Username: "carol"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	found, err := svc.Find(ctx, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.Username != "carol" {
		t.Fatalf("expected carol, got %s", found.Username)
	}

	if _, err := svc.Find(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
