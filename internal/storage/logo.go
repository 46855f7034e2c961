package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// MaxLogoSize is the largest accepted logo upload.
const MaxLogoSize = 2 << 20

var (
	// ErrLogoTooLarge is returned for uploads over MaxLogoSize.
	ErrLogoTooLarge = errors.New("logo exceeds 2 MB")
	// ErrLogoType is returned for anything other than JPEG or PNG.
	ErrLogoType = errors.New("logo must be a JPEG or PNG image")
)

var logoExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
}

// CheckLogo validates a logo upload from its size and first bytes, returning
// the sniffed content type.
func CheckLogo(size int64, head []byte) (string, error) {
	if size > MaxLogoSize {
		return "", ErrLogoTooLarge
	}
	if size <= 0 || len(head) == 0 {
		return "", ErrLogoType
	}
	contentType := http.DetectContentType(head)
	if _, ok := logoExtensions[contentType]; !ok {
		return "", ErrLogoType
	}
	return contentType, nil
}

// LogoKey returns a fresh object key for an association logo.
func LogoKey(associationID, contentType string) string {
	ext, ok := logoExtensions[contentType]
	if !ok {
		ext = "bin"
	}
	return fmt.Sprintf("logos/%s/%s.%s", associationID, uuid.NewString(), ext)
}
