package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/shelter-registry/shelter-registry/internal/config"
	"github.com/shelter-registry/shelter-registry/internal/storage"
)

// ---------------------------------------------------------------------------
// Minimal mock Storage implementation for Register tests
// ---------------------------------------------------------------------------

type mockStorage struct{}

func (m *mockStorage) Upload(_ context.Context, _ string, _ io.Reader, _ int64, _ string) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockStorage) Delete(_ context.Context, _ string) error           { return nil }
func (m *mockStorage) GetURL(_ context.Context, _ string) (string, error) { return "", nil }
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error)   { return false, nil }

// ---------------------------------------------------------------------------
// Register / NewStorage
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}

	found := false
	for _, name := range storage.Registered() {
		if name == "test-backend" {
			found = true
		}
	}
	if !found {
		t.Errorf("Registered() = %v, want test-backend listed", storage.Registered())
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	for _, name := range []string{"completely-unknown-backend", ""} {
		cfg := &config.Config{}
		cfg.Storage.DefaultBackend = name

		if _, err := storage.NewStorage(cfg); err == nil {
			t.Errorf("NewStorage(%q) = nil error, want error for unregistered backend", name)
		}
	}
}

// ---------------------------------------------------------------------------
// Logo validation
// ---------------------------------------------------------------------------

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
)

func TestCheckLogo(t *testing.T) {
	tests := []struct {
		name    string
		size    int64
		head    []byte
		want    string
		wantErr error
	}{
		{"png", 1024, pngHeader, "image/png", nil},
		{"jpeg", 1024, jpegHeader, "image/jpeg", nil},
		{"exactly max", storage.MaxLogoSize, pngHeader, "image/png", nil},
		{"too large", storage.MaxLogoSize + 1, pngHeader, "", storage.ErrLogoTooLarge},
		{"gif", 1024, []byte("GIF89a"), "", storage.ErrLogoType},
		{"text", 1024, []byte("hello world"), "", storage.ErrLogoType},
		{"empty", 0, nil, "", storage.ErrLogoType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.CheckLogo(tt.size, tt.head)
			if err != tt.wantErr {
				t.Fatalf("CheckLogo() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CheckLogo() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogoKey(t *testing.T) {
	key := storage.LogoKey("abc", "image/png")
	if !strings.HasPrefix(key, "logos/abc/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("LogoKey() = %q, want logos/abc/<uuid>.png", key)
	}
	if storage.LogoKey("abc", "image/png") == key {
		t.Error("LogoKey() returned the same key twice")
	}
	if k := storage.LogoKey("abc", "image/jpeg"); !strings.HasSuffix(k, ".jpg") {
		t.Errorf("LogoKey(jpeg) = %q, want .jpg suffix", k)
	}
}
