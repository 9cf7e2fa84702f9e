// Package services – AuthService
//
// This file implements the AuthService, which owns the credential flows.
// It validates and normalizes identifiers, enforces the password policy,
// checks uniqueness, and coordinates the repository, the password hasher and
// the token issuer.
//
// Usernames and emails live in disjoint namespaces: a username may never
// contain '@' and an email must. Login uses that to decide which column to
// look up, so one user's username can never shadow another user's email.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/secure/precis"
	"gorm.io/gorm"

	"github.com/jonbobo/Capstone-UNY/internal/auth"
	"github.com/jonbobo/Capstone-UNY/internal/domain"
	"github.com/jonbobo/Capstone-UNY/internal/repo"
)

// UserRepo defines the repository contract required by AuthService.
type UserRepo interface {
	// CreateUser inserts a new account; unique violations surface as repo.ErrDuplicate.
	CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error

	// GetUserByID fetches an account by primary key.
	GetUserByID(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error)

	// FindUserByUsername fetches an account by exact username.
	FindUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error)

	// FindUserByEmail fetches an account by exact email.
	FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error)

	// ExistingIdentifiers reports which of username/email are already taken.
	ExistingIdentifiers(ctx context.Context, db *gorm.DB, username, email string) (bool, bool, error)

	// EmailTakenByOther reports whether email belongs to another account.
	EmailTakenByOther(ctx context.Context, db *gorm.DB, email string, id uint) (bool, error)

	// UpdateEmail sets a new email on the account.
	UpdateEmail(ctx context.Context, db *gorm.DB, id uint, email string) error

	// UpdatePasswordHash replaces the stored digest.
	UpdatePasswordHash(ctx context.Context, db *gorm.DB, id uint, hash string) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
	VerifyDummy(plain string) bool
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(userID uint, username string) (string, time.Time, error)
}

// Session is the result of a successful registration or login.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// AuthService implements the credential flows.
type AuthService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo

	Hasher PasswordHasher
	Tokens TokenIssuer

	// MinPasswordLength is counted in characters.
	MinPasswordLength int
}

// DefaultMinPasswordLength applies when MinPasswordLength is unset.
const DefaultMinPasswordLength = 6

// NewAuthService constructs an AuthService.
func NewAuthService(db *gorm.DB, r UserRepo, h PasswordHasher, t TokenIssuer, minPasswordLen int) *AuthService {
	if minPasswordLen <= 0 {
		minPasswordLen = DefaultMinPasswordLength
	}
	return &AuthService{DB: db, Repo: r, Hasher: h, Tokens: t, MinPasswordLength: minPasswordLen}
}

func tracer() trace.Tracer { return otel.Tracer("services/AuthService") }

// Register creates an account and signs the new user in.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*Session, error) {
	ctx, span := tracer().Start(ctx, "Register")
	defer span.End()

	if strings.TrimSpace(username) == "" || strings.TrimSpace(email) == "" || password == "" {
		return nil, missingField(map[string]string{"username": username, "email": email, "password": password})
	}
	username, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword("password", password); err != nil {
		return nil, err
	}

	uTaken, eTaken, err := s.Repo.ExistingIdentifiers(ctx, s.DB, username, email)
	if err != nil {
		return nil, storeErr("check identifiers", err)
	}
	switch {
	case uTaken:
		return nil, &ConflictError{Field: "username"}
	case eTaken:
		return nil, &ConflictError{Field: "email"}
	}

	digest, err := s.Hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &domain.User{Username: username, Email: email, PasswordHash: digest}
	if err := s.Repo.CreateUser(ctx, s.DB, u); err != nil {
		// a concurrent registration won the race between check and insert
		if conflict := asConflict(err, "username"); conflict != nil {
			return nil, conflict
		}
		return nil, storeErr("create user", err)
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))

	return s.session(u)
}

// Login authenticates by username or email. Unknown accounts and wrong
// passwords both yield ErrInvalidCredentials after one bcrypt comparison.
func (s *AuthService) Login(ctx context.Context, login, password string) (*Session, error) {
	ctx, span := tracer().Start(ctx, "Login")
	defer span.End()

	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, missingField(map[string]string{"username": login, "password": password})
	}

	var (
		u   *domain.User
		err error
	)
	if strings.Contains(login, "@") {
		u, err = s.Repo.FindUserByEmail(ctx, s.DB, login)
	} else if norm, nerr := precis.UsernameCasePreserved.String(login); nerr != nil {
		err = repo.ErrNotFound
	} else {
		u, err = s.Repo.FindUserByUsername(ctx, s.DB, norm)
	}
	if errors.Is(err, repo.ErrNotFound) {
		s.Hasher.VerifyDummy(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeErr("find user", err)
	}
	if !s.Hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))

	return s.session(u)
}

// Profile returns the account behind userID.
func (s *AuthService) Profile(ctx context.Context, userID uint) (*domain.User, error) {
	ctx, span := tracer().Start(ctx, "Profile",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	return s.load(ctx, userID)
}

// UpdateEmail changes the caller's email. Setting the current address again
// is a successful no-op.
func (s *AuthService) UpdateEmail(ctx context.Context, userID uint, email string) (*domain.User, error) {
	ctx, span := tracer().Start(ctx, "UpdateEmail",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	if strings.TrimSpace(email) == "" {
		return nil, &ValidationError{Field: "email", Message: "email is required"}
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Email == email {
		return u, nil
	}

	taken, err := s.Repo.EmailTakenByOther(ctx, s.DB, email, userID)
	if err != nil {
		return nil, storeErr("check email", err)
	}
	if taken {
		return nil, &ConflictError{Field: "email"}
	}
	if err := s.Repo.UpdateEmail(ctx, s.DB, userID, email); err != nil {
		if conflict := asConflict(err, "email"); conflict != nil {
			return nil, conflict
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr("update email", err)
	}
	return s.load(ctx, userID)
}

// ChangePassword replaces the caller's password after re-verifying the
// current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, current, next string) error {
	ctx, span := tracer().Start(ctx, "ChangePassword",
		trace.WithAttributes(attribute.Int64("user.id", int64(userID))),
	)
	defer span.End()

	if current == "" || next == "" {
		return missingField(map[string]string{"currentPassword": current, "newPassword": next})
	}
	if err := s.checkPassword("newPassword", next); err != nil {
		return err
	}

	u, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if !s.Hasher.Verify(current, u.PasswordHash) {
		return ErrWrongPassword
	}

	digest, err := s.Hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Repo.UpdatePasswordHash(ctx, s.DB, userID, digest); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return storeErr("update password", err)
	}
	return nil
}

func (s *AuthService) load(ctx context.Context, userID uint) (*domain.User, error) {
	u, err := s.Repo.GetUserByID(ctx, s.DB, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return u, nil
}

func (s *AuthService) session(u *domain.User) (*Session, error) {
	tok, exp, err := s.Tokens.Issue(u.ID, u.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: u, Token: tok, ExpiresAt: exp}, nil
}

func (s *AuthService) checkPassword(field, pw string) error {
	if utf8.RuneCountInString(pw) < s.MinPasswordLength {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s must be at least %d characters", field, s.MinPasswordLength)}
	}
	if len(pw) > auth.MaxPasswordBytes {
		return &ValidationError{Field: field, Message: fmt.Sprintf("%s must be at most %d bytes", field, auth.MaxPasswordBytes)}
	}
	return nil
}

// missingField reports the first empty value in request order.
func missingField(fields map[string]string) error {
	for _, name := range []string{"username", "email", "password", "currentPassword", "newPassword"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			return &ValidationError{Field: name, Message: name + " is required"}
		}
	}
	return &ValidationError{Message: "missing required field"}
}

// normalizeUsername applies the PRECIS UsernameCasePreserved profile (width
// mapping, NFC, no spaces or control characters) and the disjoint-namespace
// rule.
func normalizeUsername(raw string) (string, error) {
	u, err := precis.UsernameCasePreserved.String(strings.TrimSpace(raw))
	if err != nil {
		return "", &ValidationError{Field: "username", Message: "username contains invalid characters"}
	}
	if strings.Contains(u, "@") {
		return "", &ValidationError{Field: "username", Message: "username must not contain '@'"}
	}
	if utf8.RuneCountInString(u) > domain.MaxUsernameLen {
		return "", &ValidationError{Field: "username", Message: fmt.Sprintf("username must be at most %d characters", domain.MaxUsernameLen)}
	}
	return u, nil
}

// normalizeEmail accepts a bare address (no display name).
func normalizeEmail(raw string) (string, error) {
	e := strings.TrimSpace(raw)
	invalid := &ValidationError{Field: "email", Message: "email must be a valid address"}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || !strings.Contains(e, "@") {
		return "", invalid
	}
	if len(e) > domain.MaxEmailLen {
		return "", &ValidationError{Field: "email", Message: fmt.Sprintf("email must be at most %d characters", domain.MaxEmailLen)}
	}
	return e, nil
}

// asConflict converts a repository unique violation into a ConflictError.
func asConflict(err error, fallback string) error {
	var de *repo.DuplicateError
	if !errors.As(err, &de) {
		return nil
	}
	field := de.Field
	if field == "" {
		field = fallback
	}
	return &ConflictError{Field: field}
}
