package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/clearproof/preflight/internal/audit"
	"github.com/clearproof/preflight/internal/database"
)

// User-auth failures.
var (
	ErrBadCredentials = errors.New("auth: invalid email or password")
	ErrEmailTaken     = errors.New("auth: email already registered")
	ErrUserInactive   = errors.New("auth: user disabled")
)

// UserService handles dashboard signup, login and password changes.
type UserService struct {
	store *database.Store
	audit *audit.Logger
	jwt   *JWTManager
}

// NewUserService wires dashboard auth.
func NewUserService(store *database.Store, auditLog *audit.Logger, jwtMgr *JWTManager) *UserService {
	return &UserService{store: store, audit: auditLog, jwt: jwtMgr}
}

// SignupResult is the signup response payload.
type SignupResult struct {
	Tenant *database.Tenant
	User   *database.User
	Token  string
}

// Signup creates a fresh tenant plus its first admin user, in one
// transaction, and issues an access token.
func (s *UserService) Signup(ctx context.Context, tenantName, email, password string) (*SignupResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: malformed email", ErrBadCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	tenant := &database.Tenant{
		ID:        newID(),
		Name:      tenantName,
		Settings:  map[string]any{},
		CreatedAt: now,
	}
	user := &database.User{
		ID:           newID(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: string(hash),
		Role:         "admin",
		IsActive:     true,
		CreatedAt:    now,
	}

	err = s.store.WithSession(ctx, func(tx *sql.Tx) error {
		if err := database.CreateTenant(ctx, tx, tenant); err != nil {
			return err
		}
		if err := database.CreateUser(ctx, tx, user); err != nil {
			return err
		}
		return s.audit.LogTx(ctx, tx, audit.Event{
			Action:       audit.ActionUserSignup,
			TenantID:     tenant.ID,
			ActorID:      user.ID,
			ResourceType: "user",
			ResourceID:   user.ID,
			Details:      map[string]any{"email": email},
		})
	})
	var dup *database.ErrDuplicate
	if errors.As(err, &dup) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}

	token, _, err := s.jwt.Issue(user.ID, tenant.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	return &SignupResult{Tenant: tenant, User: user, Token: token}, nil
}

// Login verifies the bcrypt hash and issues an access token.
func (s *UserService) Login(ctx context.Context, email, password string) (*database.User, string, error) {
	var user *database.User
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = database.GetUserByEmail(ctx, tx, email)
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		// Burn a comparison so missing users cost the same as bad passwords.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return nil, "", ErrBadCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !user.IsActive {
		return nil, "", ErrUserInactive
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrBadCredentials
	}

	now := time.Now().UTC()
	s.store.WithSession(ctx, func(tx *sql.Tx) error {
		return database.UpdateUserLogin(ctx, tx, user.ID, now)
	})
	s.audit.Log(ctx, audit.Event{
		Action:       audit.ActionUserLogin,
		TenantID:     user.TenantID,
		ActorID:      user.ID,
		ResourceType: "user",
		ResourceID:   user.ID,
	})

	token, _, err := s.jwt.Issue(user.ID, user.TenantID, user.Email, user.Role)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Logout revokes the presented token.
func (s *UserService) Logout(ctx context.Context, claims *Claims) error {
	if err := s.jwt.Revoke(ctx, claims); err != nil {
		return err
	}
	s.audit.Log(ctx, audit.Event{
		Action:       audit.ActionUserLogout,
		TenantID:     claims.TenantID,
		ActorID:      claims.UserID,
		ResourceType: "user",
		ResourceID:   claims.UserID,
	})
	return nil
}

// Refresh issues a fresh access token for a still-valid one.
func (s *UserService) Refresh(ctx context.Context, claims *Claims) (string, error) {
	token, _, err := s.jwt.Issue(claims.UserID, claims.TenantID, claims.Email, claims.Role)
	return token, err
}

// ChangePassword verifies the current password before storing a new hash.
func (s *UserService) ChangePassword(ctx context.Context, claims *Claims, current, next string) error {
	var user *database.User
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = database.GetUser(ctx, tx, claims.UserID)
		return err
	})
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrBadCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.store.WithSession(ctx, func(tx *sql.Tx) error {
		if err := database.UpdateUserPassword(ctx, tx, user.ID, string(hash)); err != nil {
			return err
		}
		return s.audit.LogTx(ctx, tx, audit.Event{
			Action:       audit.ActionPasswordChanged,
			TenantID:     user.TenantID,
			ActorID:      user.ID,
			ResourceType: "user",
			ResourceID:   user.ID,
		})
	})
	return err
}

// Me returns the user for a verified token.
func (s *UserService) Me(ctx context.Context, claims *Claims) (*database.User, error) {
	var user *database.User
	err := s.store.WithSession(ctx, func(tx *sql.Tx) error {
		var err error
		user, err = database.GetUser(ctx, tx, claims.UserID)
		return err
	})
	return user, err
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
