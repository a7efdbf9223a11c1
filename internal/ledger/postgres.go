package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes surfaced by the apply path.
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// PostgresStore persists the ledger in PostgreSQL. Expects an accounts table
// (id, user_id, kind, balance, created_at) and an append-only movements table
// (id, request_id unique, from_account, to_account, amount, email, created_at)
// indexed on (from_account, created_at) and (to_account, created_at).
type PostgresStore struct {
	db       *pgxpool.Pool
	lockWait time.Duration
	logger   *slog.Logger
}

// NewPostgres constructs a Postgres-backed ledger store. lockWait bounds row
// lock acquisition inside Apply via a transaction-local lock_timeout.
func NewPostgres(db *pgxpool.Pool, lockWait time.Duration, logger *slog.Logger) *PostgresStore {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &PostgresStore{db: db, lockWait: lockWait, logger: logger}
}

// CreateAccount inserts an account row. Duplicate identifiers fail.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	accountID, err := uuid.Parse(account.ID)
	if err != nil {
		return fmt.Errorf("%w: account id: %v", ErrInvalidOperation, err)
	}
	if account.Kind == "" {
		account.Kind = KindOrdinary
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	var userID uuid.NullUUID
	if account.UserID != "" {
		parsed, err := uuid.Parse(account.UserID)
		if err != nil {
			return fmt.Errorf("%w: user id: %v", ErrInvalidOperation, err)
		}
		userID = uuid.NullUUID{UUID: parsed, Valid: true}
	}

	_, err = s.db.Exec(ctx, `INSERT INTO accounts (id, user_id, kind, balance, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		accountID, userID, string(account.Kind), account.Balance, account.CreatedAt.UTC())
	return err
}

// Account fetches an account by identifier. Malformed identifiers are
// reported as not found rather than as a uuid cast failure from Postgres.
func (s *PostgresStore) Account(ctx context.Context, id string) (Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Account{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	row := s.db.QueryRow(ctx, `SELECT id, user_id, kind, balance, created_at
        FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// AccountByUser fetches the account owned by the given user.
func (s *PostgresStore) AccountByUser(ctx context.Context, userID string) (Account, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return Account{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	row := s.db.QueryRow(ctx, `SELECT id, user_id, kind, balance, created_at
        FROM accounts WHERE user_id = $1`, userID)
	account, err := scanAccount(row)
	if errors.Is(err, ErrNotFound) {
		return Account{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return account, err
}

// Balance reads the committed balance for an account.
func (s *PostgresStore) Balance(ctx context.Context, accountID string) (int64, error) {
	account, err := s.Account(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// BalanceAsOf replays the movement log up to the given instant.
func (s *PostgresStore) BalanceAsOf(ctx context.Context, accountID string, at time.Time) (int64, error) {
	if _, err := s.Account(ctx, accountID); err != nil {
		return 0, err
	}

	const query = `
        SELECT COALESCE(SUM(CASE
            WHEN to_account = $1 AND from_account = $1 THEN 0
            WHEN to_account = $1 THEN amount
            ELSE -amount END), 0)
        FROM movements
        WHERE (from_account = $1 OR to_account = $1) AND created_at <= $2`
	var balance int64
	if err := s.db.QueryRow(ctx, query, accountID, at.UTC()).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// Apply commits a transfer as one transaction: both account rows are locked
// in ascending identifier order, balances updated and the movement appended,
// so the balance change and its audit record are never separated.
func (s *PostgresStore) Apply(ctx context.Context, m Movement) (Movement, error) {
	if m.Amount <= 0 {
		return Movement{}, fmt.Errorf("%w: amount must be positive", ErrInvalidOperation)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Movement{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return Movement{}, err
	}

	if m.RequestID != "" {
		stored, found, err := s.storedRequest(ctx, tx, m)
		if err != nil {
			return Movement{}, err
		}
		if found {
			return stored, nil
		}
	}

	accounts, err := lockAccounts(ctx, tx, m.From, m.To)
	if err != nil {
		return Movement{}, err
	}
	from := accounts[m.From]
	to := accounts[m.To]

	if !from.Reserved() && from.Balance < m.Amount {
		return Movement{}, fmt.Errorf("%w: account %s", ErrInsufficientFunds, m.From)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	if m.From != m.To {
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1 WHERE id = $2`, m.Amount, from.ID); err != nil {
			return Movement{}, fmt.Errorf("%w: debit %s: %v", ErrRolledBack, from.ID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, m.Amount, to.ID); err != nil {
			return Movement{}, fmt.Errorf("%w: credit %s: %v", ErrRolledBack, to.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, `INSERT INTO movements (id, request_id, from_account, to_account, amount, email, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.RequestID, m.From, m.To, m.Amount, m.Email, m.Timestamp.UTC()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// A retry of the same request committed while this one was in
			// flight. The enclosing transaction rolls the staged updates back.
			return s.resolveRace(ctx, m)
		}
		return Movement{}, fmt.Errorf("%w: movement append: %v", ErrRolledBack, err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return Movement{}, ErrTimeout
		}
		// A failed commit reverts balances and movement together.
		s.log().Error("ledger commit failed", "request_id", m.RequestID, "error", err)
		return Movement{}, fmt.Errorf("%w: commit: %v", ErrRolledBack, err)
	}

	return m, nil
}

// Movements lists movements for one account, newest first when limited.
func (s *PostgresStore) Movements(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Movement, error) {
	query := `SELECT id, request_id, from_account, to_account, amount, email, created_at
        FROM movements
        WHERE (from_account = $1 OR to_account = $1)
          AND ($2::timestamptz IS NULL OR created_at >= $2)
          AND ($3::timestamptz IS NULL OR created_at <= $3)
        ORDER BY created_at ASC`
	args := []any{accountID, nullTime(from), nullTime(to)}
	if limit > 0 {
		query = `SELECT id, request_id, from_account, to_account, amount, email, created_at
            FROM movements
            WHERE (from_account = $1 OR to_account = $1)
              AND ($2::timestamptz IS NULL OR created_at >= $2)
              AND ($3::timestamptz IS NULL OR created_at <= $3)
            ORDER BY created_at DESC LIMIT $4`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]Movement, 0)
	for rows.Next() {
		var (
			m         Movement
			id        uuid.UUID
			fromAcct  uuid.UUID
			toAcct    uuid.UUID
			createdAt time.Time
		)
		if err := rows.Scan(&id, &m.RequestID, &fromAcct, &toAcct, &m.Amount, &m.Email, &createdAt); err != nil {
			return nil, err
		}
		m.ID = id.String()
		m.From = fromAcct.String()
		m.To = toAcct.String()
		m.Timestamp = createdAt.UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// storedRequest checks for a previously committed movement with the same
// request identifier, enforcing payload equality.
func (s *PostgresStore) storedRequest(ctx context.Context, q interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}, m Movement) (Movement, bool, error) {
	row := q.QueryRow(ctx, `SELECT id, request_id, from_account, to_account, amount, email, created_at
        FROM movements WHERE request_id = $1`, m.RequestID)

	var (
		stored    Movement
		id        uuid.UUID
		fromAcct  uuid.UUID
		toAcct    uuid.UUID
		createdAt time.Time
	)
	err := row.Scan(&id, &stored.RequestID, &fromAcct, &toAcct, &stored.Amount, &stored.Email, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, false, nil
	}
	if err != nil {
		return Movement{}, false, err
	}
	stored.ID = id.String()
	stored.From = fromAcct.String()
	stored.To = toAcct.String()
	stored.Timestamp = createdAt.UTC()

	if stored.From != m.From || stored.To != m.To || stored.Amount != m.Amount {
		return Movement{}, false, fmt.Errorf("%w: %s", ErrConflict, m.RequestID)
	}
	return stored, true, nil
}

// resolveRace re-reads a movement that lost a request-id uniqueness race.
func (s *PostgresStore) resolveRace(ctx context.Context, m Movement) (Movement, error) {
	stored, found, err := s.storedRequest(ctx, s.db, m)
	if err != nil {
		return Movement{}, err
	}
	if !found {
		return Movement{}, fmt.Errorf("%w: %s", ErrConflict, m.RequestID)
	}
	return stored, nil
}

func (s *PostgresStore) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// lockAccounts takes row locks on the given accounts in ascending identifier
// order to keep opposing transfers on the same pair deadlock-free.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids ...string) (map[string]Account, error) {
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

	accounts := make(map[string]Account, len(uniq))
	for _, id := range uniq {
		row := tx.QueryRow(ctx, `SELECT id, user_id, kind, balance, created_at
            FROM accounts WHERE id = $1 FOR UPDATE`, id)
		account, err := scanAccount(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
				return nil, ErrTimeout
			}
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		account   Account
		id        uuid.UUID
		userID    uuid.NullUUID
		kind      string
		createdAt time.Time
	)
	if err := row.Scan(&id, &userID, &kind, &account.Balance, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	account.ID = id.String()
	if userID.Valid {
		account.UserID = userID.UUID.String()
	}
	account.Kind = AccountKind(kind)
	account.CreatedAt = createdAt.UTC()
	return account, nil
}
