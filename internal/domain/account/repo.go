package account

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
	// AppendTransaction atomically appends one entry to the user's
	// transaction log.
	AppendTransaction(ctx context.Context, id uuid.UUID, entry TransactionEntry) error
}
