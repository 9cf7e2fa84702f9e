// Package repo implements the credential store: GORM-backed persistence for
// user accounts. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. Queries
// are always parameterized; no business rules live here.
//
// Error semantics:
//   - Missing rows are reported as ErrNotFound (an alias of
//     gorm.ErrRecordNotFound).
//   - Unique violations on username or email are reported as a
//     *DuplicateError naming the column, matched by errors.Is(err, ErrDuplicate).
//   - Any other DB error is propagated unchanged.
//
// Usage:
//
//	u, err := repo.FindUserByUsername(ctx, db, "ava")
//	if errors.Is(err, repo.ErrNotFound) {
//	    // unknown account
//	}
package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/jonbobo/Capstone-UNY/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate matches any unique-constraint violation.
var ErrDuplicate = errors.New("duplicate")

// DuplicateError reports which unique column rejected a write. Field is
// "username", "email" or "" when the driver did not say.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return "duplicate"
	}
	return "duplicate " + e.Field
}

// Is lets errors.Is(err, ErrDuplicate) match.
func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// CreateUser inserts a new account. ID and timestamps are filled in on u.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		return translateWriteErr(err)
	}
	return nil
}

// GetUserByID fetches a user by primary key.
func GetUserByID(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByUsername fetches a user by exact (case-sensitive) username.
func FindUserByUsername(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByEmail fetches a user by exact (case-sensitive) email.
func FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ExistingIdentifiers reports whether username and/or email are already taken
// by any account, in a single query.
func ExistingIdentifiers(ctx context.Context, db *gorm.DB, username, email string) (usernameTaken, emailTaken bool, err error) {
	var rows []domain.User
	err = db.WithContext(ctx).
		Select("username", "email").
		Where("username = ? OR email = ?", username, email).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return false, false, err
	}
	for _, r := range rows {
		if r.Username == username {
			usernameTaken = true
		}
		if r.Email == email {
			emailTaken = true
		}
	}
	return usernameTaken, emailTaken, nil
}

// EmailTakenByOther reports whether email belongs to an account other than id.
func EmailTakenByOther(ctx context.Context, db *gorm.DB, email string, id uint) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("email = ? AND id <> ?", email, id).
		Count(&n).Error
	return n > 0, err
}

// UpdateEmail sets a new email on the account. Returns ErrNotFound if the
// row is missing and a *DuplicateError if another account holds the address.
func UpdateEmail(ctx context.Context, db *gorm.DB, id uint, email string) error {
	return updateColumn(ctx, db, id, "email", email)
}

// UpdatePasswordHash replaces the stored digest.
func UpdatePasswordHash(ctx context.Context, db *gorm.DB, id uint, hash string) error {
	return updateColumn(ctx, db, id, "password_hash", hash)
}

func updateColumn(ctx context.Context, db *gorm.DB, id uint, column string, value any) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update(column, value)
	if res.Error != nil {
		return translateWriteErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// translateWriteErr maps driver-specific unique violations to *DuplicateError.
// Postgres reports SQLSTATE 23505 with the index name; glebarez/sqlite returns
// plain text such as "UNIQUE constraint failed: users.email".
func translateWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return &DuplicateError{Field: fieldFromConstraint(pgErr.ConstraintName + " " + pgErr.Detail)}
		}
		return err
	}
	low := strings.ToLower(err.Error())
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value") {
		return &DuplicateError{Field: fieldFromConstraint(low)}
	}
	return err
}

func fieldFromConstraint(s string) string {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "username"):
		return "username"
	case strings.Contains(s, "email"):
		return "email"
	default:
		return ""
	}
}
