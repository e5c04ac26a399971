package auth

import (
	"time"

	"github.com/google/uuid"
)

// User represents an application user together with its storage account.
type User struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	DisplayName       *string   `json:"display_name,omitempty"`
	IsAdmin           bool      `json:"is_admin"`
	PasswordHash      string    `json:"-"`
	StorageLimitBytes int64     `json:"storage_limit_bytes"`
	StorageUsedBytes  int64     `json:"storage_used_bytes"`
	CreatedAt         time.Time `json:"created_at"`
}

// SafeUser removes sensitive fields for response payloads.
func (u User) SafeUser() User {
	u.PasswordHash = ""
	return u
}

// Token carries an issued access token.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Identity is the resolved principal handed to core operations: the core never
// touches raw credentials.
type Identity struct {
	UserID  uuid.UUID
	IsAdmin bool
}
