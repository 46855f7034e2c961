package associations

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/shelter-registry/shelter-registry/internal/auth"
	"github.com/shelter-registry/shelter-registry/internal/config"
	"github.com/shelter-registry/shelter-registry/internal/db/models"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle"
	"github.com/shelter-registry/shelter-registry/internal/lifecycle/lifecycletest"
	"github.com/shelter-registry/shelter-registry/internal/middleware"
	"github.com/shelter-registry/shelter-registry/internal/notify"
	"github.com/shelter-registry/shelter-registry/internal/storage"
	"github.com/shelter-registry/shelter-registry/internal/storage/local"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const goodPassword = "s3cure-password"

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type env struct {
	router   *gin.Engine
	store    *lifecycletest.Store
	svc      *lifecycle.Service
	events   *[]notify.Event
	mediaDir string
}

func newEnv(t *testing.T, withStorage bool) *env {
	t.Helper()
	store := lifecycletest.NewStore()
	var events []notify.Event
	rec := notify.NotifierFunc(func(_ context.Context, ev notify.Event) error {
		events = append(events, ev)
		return nil
	})
	svc := lifecycle.NewService(store, rec, lifecycle.Options{
		Links:      notify.NewLinkBuilder("https://shelters.example/manage"),
		BcryptCost: bcrypt.MinCost,
	})

	var logos storage.Storage
	dir := t.TempDir()
	if withStorage {
		ls, err := local.New(&config.LocalStorageConfig{BasePath: dir}, "https://shelters.example")
		require.NoError(t, err)
		logos = ls
	}
	h := NewHandlers(svc, logos, time.Hour)

	r := gin.New()
	r.POST("/associations", h.RegisterHandler())
	r.POST("/auth/login", h.LoginHandler())
	r.POST("/password-reset", h.RequestResetHandler())
	r.GET("/password-reset/:token", h.ValidateResetHandler())
	r.POST("/password-reset/:token", h.ConsumeResetHandler())
	me := r.Group("/associations/me", middleware.RequireRole(auth.RoleAssociation))
	me.GET("", h.MeHandler())
	me.PUT("/logo", h.UploadLogoHandler())

	return &env{router: r, store: store, svc: svc, events: &events, mediaDir: dir}
}

func (e *env) send(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) registerActive(t *testing.T, name string) *models.Association {
	t.Helper()
	a, err := e.svc.Register(context.Background(), lifecycle.RegistrationInput{
		Name: name, Email: "info@" + name + ".example", Password: goodPassword,
	})
	require.NoError(t, err)
	_, err = e.svc.Approve(context.Background(), lifecycle.ByID(a.ID), "maria", "")
	require.NoError(t, err)
	return e.store.Get(a.ID)
}

func sessionFor(t *testing.T, a *models.Association) string {
	t.Helper()
	token, err := auth.GenerateJWT(a.ID, a.Name, auth.RoleAssociation, time.Hour)
	require.NoError(t, err)
	return token
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegisterHandler_Created(t *testing.T) {
	e := newEnv(t, false)

	w := e.send(http.MethodPost, "/associations", lifecycle.RegistrationInput{
		Name: "Paws", Email: "info@paws.example", City: "Turin", Password: goodPassword,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Association models.PublicAssociation `json:"association"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.StatePending, body.Association.State)
	assert.NotContains(t, w.Body.String(), goodPassword)

	require.Len(t, *e.events, 1)
	assert.Equal(t, notify.EventRegistered, (*e.events)[0].Kind)
}

func TestRegisterHandler_Errors(t *testing.T) {
	e := newEnv(t, false)
	e.registerActive(t, "paws")

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"duplicate name ignoring case", lifecycle.RegistrationInput{Name: "PAWS", Email: "x@y.example", Password: goodPassword}, http.StatusConflict},
		{"bad email", lifecycle.RegistrationInput{Name: "Tails", Email: "nope", Password: goodPassword}, http.StatusBadRequest},
		{"short password", lifecycle.RegistrationInput{Name: "Tails", Email: "t@t.example", Password: "short"}, http.StatusBadRequest},
		{"not json", "garbage", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.send(http.MethodPost, "/associations", tt.body, "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

// ---------------------------------------------------------------------------
// Login and profile
// ---------------------------------------------------------------------------

func TestLoginHandler(t *testing.T) {
	e := newEnv(t, false)
	a := e.registerActive(t, "paws")

	w := e.send(http.MethodPost, "/auth/login", LoginRequest{Name: "paws", Password: goodPassword}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	claims, err := auth.ValidateJWT(body.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, claims.Subject)
	assert.Equal(t, auth.RoleAssociation, claims.Role)

	w = e.send(http.MethodPost, "/auth/login", LoginRequest{Name: "paws", Password: "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginHandler_PendingRefused(t *testing.T) {
	e := newEnv(t, false)
	_, err := e.svc.Register(context.Background(), lifecycle.RegistrationInput{
		Name: "tails", Email: "info@tails.example", Password: goodPassword,
	})
	require.NoError(t, err)

	w := e.send(http.MethodPost, "/auth/login", LoginRequest{Name: "tails", Password: goodPassword}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMeHandler(t *testing.T) {
	e := newEnv(t, false)
	a := e.registerActive(t, "paws")
	token := sessionFor(t, a)

	w := e.send(http.MethodGet, "/associations/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"paws"`)

	// A session issued before suspension stops working.
	_, err := e.svc.Suspend(context.Background(), lifecycle.ByID(a.ID), "maria")
	require.NoError(t, err)
	w = e.send(http.MethodGet, "/associations/me", nil, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMeHandler_HidesModeratorNotes(t *testing.T) {
	e := newEnv(t, false)
	a, err := e.svc.Register(context.Background(), lifecycle.RegistrationInput{
		Name: "paws", Email: "info@paws.example", Password: goodPassword,
	})
	require.NoError(t, err)
	_, err = e.svc.Approve(context.Background(), lifecycle.ByID(a.ID), "maria", "vet records still unchecked")
	require.NoError(t, err)

	w := e.send(http.MethodGet, "/associations/me", nil, sessionFor(t, e.store.Get(a.ID)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "admin_notes")
	assert.NotContains(t, w.Body.String(), "vet records still unchecked")
}

// ---------------------------------------------------------------------------
// Logo upload
// ---------------------------------------------------------------------------

func logoRequest(t *testing.T, token, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("logo", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/associations/me/logo", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadLogoHandler_StoresPNG(t *testing.T) {
	e := newEnv(t, true)
	a := e.registerActive(t, "paws")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, logoRequest(t, sessionFor(t, a), "logo.png", append(pngHeader, make([]byte, 1024)...)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored := e.store.Get(a.ID)
	require.NotNil(t, stored.LogoURL)
	assert.True(t, strings.HasPrefix(*stored.LogoURL, "https://shelters.example/media/logos/"+a.ID+"/"))
	assert.True(t, strings.HasSuffix(*stored.LogoURL, ".png"))

	key := strings.TrimPrefix(*stored.LogoURL, "https://shelters.example/media/")
	_, err := os.Stat(filepath.Join(e.mediaDir, filepath.FromSlash(key)))
	assert.NoError(t, err)
}

func TestUploadLogoHandler_RejectsWrongType(t *testing.T) {
	e := newEnv(t, true)
	a := e.registerActive(t, "paws")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, logoRequest(t, sessionFor(t, a), "logo.gif", []byte("GIF89a\x01\x00\x01\x00")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, e.store.Get(a.ID).LogoURL)
}

func TestUploadLogoHandler_RejectsLargeFile(t *testing.T) {
	e := newEnv(t, true)
	a := e.registerActive(t, "paws")

	big := append(append([]byte{}, pngHeader...), make([]byte, storage.MaxLogoSize)...)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, logoRequest(t, sessionFor(t, a), "logo.png", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

// corruptStorage acknowledges uploads with a checksum that does not match the data.
type corruptStorage struct {
	deleted []string
}

func (s *corruptStorage) Upload(_ context.Context, path string, _ io.Reader, size int64, _ string) (*storage.UploadResult, error) {
	return &storage.UploadResult{Path: path, Size: size, Checksum: strings.Repeat("0", 64)}, nil
}

func (s *corruptStorage) Delete(_ context.Context, path string) error {
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *corruptStorage) GetURL(_ context.Context, path string) (string, error) {
	return "https://cdn.example/" + path, nil
}

func (s *corruptStorage) Exists(context.Context, string) (bool, error) { return true, nil }

func TestUploadLogoHandler_ChecksumMismatchIsDiscarded(t *testing.T) {
	e := newEnv(t, false)
	a := e.registerActive(t, "paws")

	backend := &corruptStorage{}
	h := NewHandlers(e.svc, backend, time.Hour)
	r := gin.New()
	r.PUT("/associations/me/logo", middleware.RequireRole(auth.RoleAssociation), h.UploadLogoHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, logoRequest(t, sessionFor(t, a), "logo.png", pngHeader))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Len(t, backend.deleted, 1)
	assert.Nil(t, e.store.Get(a.ID).LogoURL)
}

func TestUploadLogoHandler_NoStorage(t *testing.T) {
	e := newEnv(t, false)
	a := e.registerActive(t, "paws")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, logoRequest(t, sessionFor(t, a), "logo.png", pngHeader))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
