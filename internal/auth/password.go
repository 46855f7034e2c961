// Package auth provides authentication primitives for the shelter registry: bcrypt
// password hashing, admin credential checks, and session JWT creation/verification.
// See internal/middleware/auth.go for the request-time logic that uses these primitives.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinPasswordLength is the minimum number of characters in an association password.
	MinPasswordLength = 8
)

// ErrWeakPassword is returned when a password does not meet the length policy.
var ErrWeakPassword = fmt.Errorf("auth: password must be at least %d characters", MinPasswordLength)

// HashPassword returns the bcrypt hash of password at the given cost (0 means BcryptCost).
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = BcryptCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CheckPasswordPolicy validates a new password.
func CheckPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}

// ErrInvalidCredentials is returned by AdminDirectory.Authenticate on any mismatch.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// AdminDirectory checks administrator logins against configured username → bcrypt hash pairs.
type AdminDirectory struct {
	admins map[string]string
}

// NewAdminDirectory creates a directory from the auth.admins configuration map.
func NewAdminDirectory(admins map[string]string) *AdminDirectory {
	copied := make(map[string]string, len(admins))
	for user, hash := range admins {
		copied[user] = hash
	}
	return &AdminDirectory{admins: copied}
}

// Authenticate returns nil when username exists and password matches its hash.
// Unknown users still pay a bcrypt comparison so timing does not reveal them.
func (d *AdminDirectory) Authenticate(username, password string) error {
	hash, ok := d.admins[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return ErrInvalidCredentials
	}
	if !VerifyPassword(hash, password) {
		return ErrInvalidCredentials
	}
	return nil
}

// Len returns the number of configured administrators.
func (d *AdminDirectory) Len() int { return len(d.admins) }

var (
	dummyHashOnce  sync.Once
	dummyHashValue []byte
)

// dummyHash returns a bcrypt hash at BcryptCost used for timing equalisation.
func dummyHash() []byte {
	dummyHashOnce.Do(func() {
		dummyHashValue, _ = bcrypt.GenerateFromPassword([]byte("shelter-registry-timing"), BcryptCost)
	})
	return dummyHashValue
}
