package lifecycle

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// maxTokenAttempts bounds the collision re-check loop before falling back.
const maxTokenAttempts = 10

// TokenExistsFunc reports whether token is already held for purpose.
type TokenExistsFunc func(ctx context.Context, purpose models.TokenPurpose, token string) (bool, error)

// TokenIssuer generates 64-hex-character tokens for out-of-band links.
type TokenIssuer struct {
	exists TokenExistsFunc
	rand   io.Reader
	now    func() time.Time
}

// NewTokenIssuer creates an issuer that re-checks candidates with exists.
func NewTokenIssuer(exists TokenExistsFunc) *TokenIssuer {
	return &TokenIssuer{exists: exists, rand: rand.Reader, now: time.Now}
}

func (ti *TokenIssuer) randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(ti.rand, b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func digest(parts string) string {
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:])
}

// Issue returns a token for purpose not currently held by any association.
//
// Candidates hash name, email, purpose, a microsecond timestamp and 16 random
// bytes. After maxTokenAttempts collisions the token is derived from 32 random
// bytes alone and accepted without a further check.
func (ti *TokenIssuer) Issue(ctx context.Context, name, email string, purpose models.TokenPurpose) (string, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		salt, err := ti.randomHex(16)
		if err != nil {
			return "", err
		}
		candidate := digest(fmt.Sprintf("%s-%s-%s-%d-%s", name, email, purpose, ti.now().UnixMicro(), salt))

		taken, err := ti.exists(ctx, purpose, candidate)
		if err != nil {
			return "", fmt.Errorf("check %s token uniqueness: %w", purpose, err)
		}
		if !taken {
			return candidate, nil
		}
	}

	salt, err := ti.randomHex(32)
	if err != nil {
		return "", err
	}
	return digest(fmt.Sprintf("%s-%s-%s-%s", name, email, purpose, salt)), nil
}

// IssueReset returns a password reset token and its expiry instant.
func (ti *TokenIssuer) IssueReset(ctx context.Context, name, email string, ttl time.Duration) (string, time.Time, error) {
	token, err := ti.Issue(ctx, name, email, models.TokenPasswordReset)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, ti.now().Add(ttl), nil
}

// ResetTokenValid reports whether presented matches the stored reset token and
// now is strictly before expiresAt. A token is expired at or after its expiry.
func ResetTokenValid(stored *string, expiresAt *time.Time, presented string, now time.Time) bool {
	if stored == nil || *stored == "" || presented == "" || expiresAt == nil {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(presented)) != 1 {
		return false
	}
	return now.Before(*expiresAt)
}
