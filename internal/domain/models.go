// Package domain defines the persistence models for user accounts. These
// types are mapped with GORM and shared across the repository, service and
// HTTP layers.
package domain

import "time"

// Username and email column limits.
const (
	MaxUsernameLen = 50
	MaxEmailLen    = 100
)

// User is a registered account. Rows are created on registration, mutated by
// profile and password updates, and never deleted.
//
// Fields:
//   - ID: auto-increment primary key.
//   - Username: unique, case-sensitive login name.
//   - Email: unique, case-sensitive address.
//   - PasswordHash: adaptive digest of the password; never serialized.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ID           uint      `json:"id"         gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username"   gorm:"type:varchar(50);not null;uniqueIndex:ux_users_username"`
	Email        string    `json:"email"      gorm:"type:varchar(100);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// PublicUser is the client-visible projection of a User.
type PublicUser struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public strips the password digest.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
