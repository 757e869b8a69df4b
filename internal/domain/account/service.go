package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medledger/medledger/internal/platform/auth"
)

// Lockout parameters: five failed logins lock the account for two hours.
const (
	maxLoginAttempts = 5
	lockoutDuration  = 2 * time.Hour
)

// EntityDirectory resolves and deletes the identity entity backing a user
// account. Implemented by the identity service.
type EntityDirectory interface {
	EntityEmail(ctx context.Context, entityModel string, id uuid.UUID) (string, error)
	DeleteEntity(ctx context.Context, entityModel string, id uuid.UUID) error
}

// Service owns the login-account lifecycle: registration, credential
// verification with lockout, password changes, the user's ledger activity
// log, and the delete cascade to the owned identity entity.
type Service struct {
	users    Repository
	entities EntityDirectory
	issuer   *auth.TokenIssuer
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users Repository, entities EntityDirectory, issuer *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		entities: entities,
		issuer:   issuer,
		logger:   logger,
		now:      time.Now,
	}
}

// entityModelForRole maps each registrable role to the entity collection its
// login may bind to. Admin is deliberately absent: admin accounts are
// provisioned out of band, never through the public register endpoint.
var entityModelForRole = map[string]string{
	auth.RolePatient:  "Patient",
	auth.RoleDoctor:   "Doctor",
	auth.RoleHospital: "Hospital",
}

// Register creates a login account, optionally bound to an already
// registered identity entity. A binding is only accepted when the entity's
// registered email matches the account email, so a login cannot claim an
// entity it does not own.
func (s *Service) Register(ctx context.Context, email, password, role string, entityID *uuid.UUID, entityModel *string, walletAddress *string) (*User, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	boundModel, ok := entityModelForRole[role]
	if !ok {
		if role == auth.RoleAdmin {
			return nil, fmt.Errorf("admin accounts cannot be created through registration")
		}
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if (entityID == nil) != (entityModel == nil) {
		return nil, fmt.Errorf("entity_id and entity_model must be set together")
	}
	if entityID != nil {
		if *entityModel != boundModel {
			return nil, fmt.Errorf("role %q cannot bind a %q entity", role, *entityModel)
		}
		entityEmail, err := s.entities.EntityEmail(ctx, *entityModel, *entityID)
		if err != nil {
			return nil, fmt.Errorf("resolve entity: %w", err)
		}
		if !strings.EqualFold(entityEmail, email) {
			return nil, ErrEntityMismatch
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Email:         email,
		PasswordHash:  string(hash),
		Role:          role,
		EntityID:      entityID,
		EntityModel:   entityModel,
		WalletAddress: walletAddress,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies the credentials and issues a token. Five consecutive
// failures lock the account for two hours; a successful login resets the
// counter and stamps last_login.
func (s *Service) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	now := s.now()
	if u.LockedUntil != nil && now.Before(*u.LockedUntil) {
		return "", nil, ErrAccountLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		u.LoginAttempts++
		if u.LoginAttempts >= maxLoginAttempts {
			lockedUntil := now.Add(lockoutDuration)
			u.LockedUntil = &lockedUntil
			u.LoginAttempts = 0
			s.logger.Warn().Str("email", email).Time("locked_until", lockedUntil).
				Msg("account locked after repeated failed logins")
		}
		if err := s.users.Update(ctx, u); err != nil {
			s.logger.Error().Err(err).Str("email", email).Msg("failed to record login attempt")
		}
		return "", nil, ErrInvalidCredentials
	}

	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LastLogin = &now
	if err := s.users.Update(ctx, u); err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("failed to stamp last login")
	}

	token, err := s.issuer.Issue(s.identity(u))
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, u, nil
}

func (s *Service) identity(u *User) *auth.Identity {
	id := &auth.Identity{UserID: u.ID, Email: u.Email, Role: u.Role}
	if u.EntityID != nil {
		id.EntityID = *u.EntityID
	}
	if u.EntityModel != nil {
		id.EntityModel = *u.EntityModel
	}
	if u.WalletAddress != nil {
		id.WalletAddress = *u.WalletAddress
	}
	return id
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// ChangePassword verifies the current password before replacing it.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, current, next string) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	return s.users.Update(ctx, u)
}

// LogTransaction appends a ledger activity entry to the user's log.
func (s *Service) LogTransaction(ctx context.Context, id uuid.UUID, txType, txHash string) error {
	if txType == "" || txHash == "" {
		return fmt.Errorf("type and tx_hash are required")
	}
	return s.users.AppendTransaction(ctx, id, TransactionEntry{
		Type:     txType,
		TxHash:   txHash,
		LoggedAt: s.now(),
	})
}

// Delete removes the account and cascades to its owned identity entity.
// The entity is removed first so a failed cascade leaves a consistent,
// retryable state.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if u.EntityID != nil && u.EntityModel != nil {
		if err := s.entities.DeleteEntity(ctx, *u.EntityModel, *u.EntityID); err != nil {
			return fmt.Errorf("delete owned entity: %w", err)
		}
	}
	return s.users.Delete(ctx, id)
}
