package account

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email is already registered")

	// ErrInvalidCredentials covers both unknown email and wrong password so
	// login failures do not reveal which one it was.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned while the login lockout window is open.
	ErrAccountLocked = errors.New("account temporarily locked after repeated failed logins")

	// ErrEntityMismatch is returned when a registration claims an entity
	// whose registered email does not match the account email.
	ErrEntityMismatch = errors.New("entity is not registered to this email")
)

// TransactionEntry is one line of the user's ledger activity log, appended
// whenever an operation performed by the user was mirrored on-chain.
type TransactionEntry struct {
	Type     string    `json:"type"`
	TxHash   string    `json:"tx_hash"`
	LoggedAt time.Time `json:"logged_at"`
}

// User is a login account bound to at most one identity entity. The
// transaction log lives on the account, not the entity, because it tracks
// what the user did, not what happened to the entity.
type User struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	Email         string             `db:"email" json:"email"`
	PasswordHash  string             `db:"password_hash" json:"-"`
	Role          string             `db:"role" json:"role"`
	EntityID      *uuid.UUID         `db:"entity_id" json:"entity_id,omitempty"`
	EntityModel   *string            `db:"entity_model" json:"entity_model,omitempty"`
	WalletAddress *string            `db:"wallet_address" json:"wallet_address,omitempty"`
	Transactions  []TransactionEntry `db:"transactions" json:"transactions"`
	LoginAttempts int                `db:"login_attempts" json:"-"`
	LockedUntil   *time.Time         `db:"locked_until" json:"-"`
	LastLogin     *time.Time         `db:"last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}
