package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

func mapPGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, email, password_hash, role, entity_id, entity_model, wallet_address, transactions,
	login_attempts, locked_until, last_login, created_at, updated_at`

func scan(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.EntityID, &u.EntityModel, &u.WalletAddress, &u.Transactions,
		&u.LoginAttempts, &u.LockedUntil, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapPGError(err)
	}
	return u, nil
}

func (r *repoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	if u.Transactions == nil {
		u.Transactions = []TransactionEntry{}
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO app_user (id, email, password_hash, role, entity_id, entity_model, wallet_address, transactions)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.PasswordHash, u.Role, u.EntityID, u.EntityModel, u.WalletAddress, u.Transactions,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapPGError(err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+cols+` FROM app_user WHERE id = $1`, id))
}

func (r *repoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scan(r.pool.QueryRow(ctx, `SELECT `+cols+` FROM app_user WHERE email = $1`, email))
}

func (r *repoPG) Update(ctx context.Context, u *User) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE app_user
		SET email=$2, password_hash=$3, wallet_address=$4, login_attempts=$5, locked_until=$6,
			last_login=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Email, u.PasswordHash, u.WalletAddress, u.LoginAttempts, u.LockedUntil, u.LastLogin,
	).Scan(&u.UpdatedAt)
	return mapPGError(err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM app_user WHERE id = $1`, id)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AppendTransaction(ctx context.Context, id uuid.UUID, entry TransactionEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode transaction entry: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE app_user
		SET transactions = transactions || $2::jsonb, updated_at = NOW()
		WHERE id = $1`,
		id, raw)
	if err != nil {
		return mapPGError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
