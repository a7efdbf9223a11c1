package identity

import (
	"errors"
	"time"
)

// User is a registered wallet owner as the ledger sees one: just enough to
// resolve account identifiers to display-friendly names. Credentials and
// sessions live with the external identity collaborator.
type User struct {
	ID        string
	Username  string
	Email     string
	CreatedAt time.Time
}

var (
	// ErrUserNotFound occurs when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists occurs when a registration collides on id or username.
	ErrUserExists = errors.New("user already exists")
)
