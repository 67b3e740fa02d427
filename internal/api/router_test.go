package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/cache"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/kuranet/kuranet/internal/events"
	"github.com/kuranet/kuranet/internal/rbac"
	"github.com/kuranet/kuranet/internal/service"
	"gorm.io/gorm"
)

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "api.db")
	cfg.Database.LogLevel = "silent"
	cfg.Auth.JWTSecret = "test-secret"

	database, err := db.New(cfg.Database)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	enforcer, err := rbac.New(database, slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	if err != nil {
		t.Fatalf("failed to create enforcer: %v", err)
	}

	broker := events.NewBroker()
	results := service.NewResultsService(database, cache.NewMemoryCache(), broker, time.Minute)
	authenticator := auth.NewBasicAuthenticator(database, cfg.Auth)
	paging := service.Paging{DefaultSize: 20, MaxSize: 100}

	router := NewRouter(cfg, Services{
		Auth:    authenticator,
		Broker:  broker,
		Polls:   service.NewPollService(database, enforcer, results, paging),
		Options: service.NewOptionService(database, enforcer, results),
		Votes:   service.NewVoteService(database, enforcer, results, paging),
		Users:   service.NewUserService(database, enforcer, authenticator, results, paging),
	})
	return router, database
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

type tokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    struct {
		ID string `json:"id"`
	} `json:"user"`
}

func register(t *testing.T, router http.Handler, username string) tokenResponse {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d: %s", username, w.Code, w.Body.String())
	}
	return decode[tokenResponse](t, w)
}

type pollResponse struct {
	ID      string                    `json:"id"`
	Status  string                    `json:"status"`
	Owner   struct{ Username string } `json:"owner"`
	Options []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"options"`
}

func createPoll(t *testing.T, router http.Handler, token, status string) pollResponse {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/api/v1/polls", token, map[string]any{
		"title":     "Lunch?",
		"closes_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"status":    status,
		"options":   []map[string]string{{"text": "Pizza"}, {"text": "Sushi"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create poll: status %d: %s", w.Code, w.Body.String())
	}
	return decode[pollResponse](t, w)
}

func TestHealthAndVersion(t *testing.T) {
	router, _ := setupRouter(t)

	if w := doRequest(t, router, http.MethodGet, "/api/v1/health", "", nil); w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}
	w := doRequest(t, router, http.MethodGet, "/api/v1/version", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("version: expected 200, got %d", w.Code)
	}
	if v := decode[map[string]string](t, w); v["version"] == "" || v["go_version"] == "" {
		t.Errorf("unexpected version body: %v", v)
	}
}

func TestAuthFlow(t *testing.T) {
	router, _ := setupRouter(t)
	tokens := register(t, router, "alice")

	w := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "password123",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	login := decode[tokenResponse](t, w)
	if login.Access == "" || login.Refresh == "" {
		t.Error("expected access and refresh tokens")
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/auth/me", tokens.Access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	if me := decode[map[string]any](t, w); me["username"] != "alice" {
		t.Errorf("me: unexpected body %v", me)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh": login.Refresh})
	if w.Code != http.StatusOK {
		t.Errorf("refresh: expected 200, got %d", w.Code)
	}
	w = doRequest(t, router, http.MethodPost, "/api/v1/auth/refresh", "", map[string]string{"refresh": login.Access})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("refresh with access token: expected 401, got %d", w.Code)
	}

	if w := doRequest(t, router, http.MethodGet, "/api/v1/auth/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("me without token: expected 401, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPost, "/api/v1/auth/logout", tokens.Access, nil); w.Code != http.StatusOK {
		t.Errorf("logout: expected 200, got %d", w.Code)
	}
}

func TestRegister_Errors(t *testing.T) {
	router, _ := setupRouter(t)
	register(t, router, "alice")

	w := doRequest(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "password123",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["fields"] == nil {
		t.Errorf("duplicate: expected field details, got %v", body)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "bob", "email": "bad", "password": "short",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid: expected 400, got %d", w.Code)
	}
	fields, _ := decode[map[string]any](t, w)["fields"].(map[string]any)
	if fields["email"] == nil || fields["password"] == nil {
		t.Errorf("invalid: expected email and password errors, got %v", fields)
	}
}

func TestPollLifecycle(t *testing.T) {
	router, _ := setupRouter(t)
	alice := register(t, router, "alice")
	bob := register(t, router, "bob")

	poll := createPoll(t, router, alice.Access, "active")
	if poll.Owner.Username != "alice" || len(poll.Options) != 2 || poll.Status != "active" {
		t.Fatalf("unexpected poll: %+v", poll)
	}

	w := doRequest(t, router, http.MethodGet, "/api/v1/polls", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	if page := decode[map[string]any](t, w); page["count"] != float64(1) {
		t.Errorf("list: expected one poll, got %v", page["count"])
	}

	votePath := "/api/v1/polls/" + poll.ID + "/votes"
	vote := map[string]string{"option_id": poll.Options[0].ID}
	if w := doRequest(t, router, http.MethodPost, votePath, "", vote); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous vote: expected 401, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPost, votePath, bob.Access, vote); w.Code != http.StatusCreated {
		t.Fatalf("vote: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(t, router, http.MethodPost, votePath, bob.Access, vote); w.Code != http.StatusConflict {
		t.Errorf("second vote: expected 409, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPost, votePath, alice.Access, map[string]string{"option_id": "nope"}); w.Code != http.StatusBadRequest {
		t.Errorf("malformed option: expected 400, got %d", w.Code)
	}

	w = doRequest(t, router, http.MethodGet, "/api/v1/polls/"+poll.ID+"/results", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", w.Code)
	}
	if res := decode[map[string]any](t, w); res["total_votes"] != float64(1) {
		t.Errorf("results: expected 1 vote, got %v", res["total_votes"])
	}

	pollPath := "/api/v1/polls/" + poll.ID
	if w := doRequest(t, router, http.MethodPatch, pollPath, bob.Access, map[string]string{"title": "Mine now"}); w.Code != http.StatusForbidden {
		t.Errorf("non-owner patch: expected 403, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPut, pollPath, alice.Access, map[string]string{"title": "Dinner?"}); w.Code != http.StatusBadRequest {
		t.Errorf("put without closes_at: expected 400, got %d", w.Code)
	}
	w = doRequest(t, router, http.MethodPatch, pollPath, alice.Access, map[string]string{"status": "closed"})
	if w.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(t, router, http.MethodPatch, pollPath, alice.Access, map[string]string{"status": "active"}); w.Code != http.StatusBadRequest {
		t.Errorf("reopen: expected 400, got %d", w.Code)
	}

	if w := doRequest(t, router, http.MethodDelete, pollPath, bob.Access, nil); w.Code != http.StatusForbidden {
		t.Errorf("non-owner delete: expected 403, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodDelete, pollPath, alice.Access, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, pollPath, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("deleted poll: expected 404, got %d", w.Code)
	}
}

func TestCreatePoll_Validation(t *testing.T) {
	router, _ := setupRouter(t)
	alice := register(t, router, "alice")

	w := doRequest(t, router, http.MethodPost, "/api/v1/polls", alice.Access, map[string]any{
		"title":     "Lunch?",
		"closes_at": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		"options":   []map[string]string{{"text": "Pizza"}, {"text": "Sushi"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("past closes_at: expected 400, got %d", w.Code)
	}
	fields, _ := decode[map[string]any](t, w)["fields"].(map[string]any)
	if fields["closes_at"] == nil {
		t.Errorf("expected closes_at error, got %v", fields)
	}

	w = doRequest(t, router, http.MethodPost, "/api/v1/polls", alice.Access, map[string]any{
		"title":     "Lunch?",
		"closes_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"options":   []map[string]string{{"text": "Pizza"}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("one option: expected 400, got %d", w.Code)
	}
	fields, _ = decode[map[string]any](t, w)["fields"].(map[string]any)
	if fields["options"] == nil {
		t.Errorf("expected options error, got %v", fields)
	}

	if w := doRequest(t, router, http.MethodPost, "/api/v1/polls", "", map[string]any{}); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous create: expected 401, got %d", w.Code)
	}
}

func TestDraftVisibility(t *testing.T) {
	router, _ := setupRouter(t)
	alice := register(t, router, "alice")
	bob := register(t, router, "bob")
	draft := createPoll(t, router, alice.Access, "")

	if draft.Status != "draft" {
		t.Fatalf("expected draft, got %q", draft.Status)
	}
	path := "/api/v1/polls/" + draft.ID
	if w := doRequest(t, router, http.MethodGet, path, bob.Access, nil); w.Code != http.StatusNotFound {
		t.Errorf("stranger: expected 404, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, path, alice.Access, nil); w.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, path, "not-a-token", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/api/v1/polls/not-a-uuid", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("malformed id: expected 404, got %d", w.Code)
	}
}

func TestAdminRoutes(t *testing.T) {
	router, database := setupRouter(t)
	alice := register(t, router, "alice")

	rolesPath := "/api/v1/admin/users/" + alice.User.ID + "/roles"
	if w := doRequest(t, router, http.MethodPost, rolesPath, alice.Access, map[string]string{"role": "creator"}); w.Code != http.StatusForbidden {
		t.Errorf("non-admin assign: expected 403, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/api/v1/admin/audit-logs", alice.Access, nil); w.Code != http.StatusForbidden {
		t.Errorf("non-admin audit: expected 403, got %d", w.Code)
	}

	if _, _, err := db.EnsureAdmin(database, "root", "", "supersecret"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	w := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "root", "password": "supersecret"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", w.Code)
	}
	admin := decode[tokenResponse](t, w)

	w = doRequest(t, router, http.MethodPost, rolesPath, admin.Access, map[string]string{"role": "creator"})
	if w.Code != http.StatusOK {
		t.Fatalf("assign: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(t, router, http.MethodDelete, rolesPath+"/creator", admin.Access, nil); w.Code != http.StatusOK {
		t.Errorf("revoke: expected 200, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodGet, "/api/v1/admin/audit-logs?action=assign_role", admin.Access, nil); w.Code != http.StatusOK {
		t.Errorf("audit: expected 200, got %d", w.Code)
	} else if page := decode[map[string]any](t, w); page["count"] != float64(1) {
		t.Errorf("audit: expected one assign_role entry, got %v", page["count"])
	}
	if w := doRequest(t, router, http.MethodGet, "/api/v1/roles", alice.Access, nil); w.Code != http.StatusOK {
		t.Errorf("roles: expected 200, got %d", w.Code)
	}
}

func TestUserRoutes(t *testing.T) {
	router, _ := setupRouter(t)
	alice := register(t, router, "alice")
	bob := register(t, router, "bob")

	userPath := "/api/v1/users/" + alice.User.ID
	if w := doRequest(t, router, http.MethodGet, "/api/v1/users", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous list: expected 401, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPatch, userPath, bob.Access, map[string]string{"first_name": "Mallory"}); w.Code != http.StatusForbidden {
		t.Errorf("other user patch: expected 403, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPatch, userPath, alice.Access, map[string]string{"first_name": "Alice"}); w.Code != http.StatusOK {
		t.Errorf("self patch: expected 200, got %d", w.Code)
	}
	if w := doRequest(t, router, http.MethodPost, userPath+"/deactivate", alice.Access, nil); w.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d", w.Code)
	}

	if w := doRequest(t, router, http.MethodGet, "/api/v1/auth/me", alice.Access, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("inactive token: expected 401, got %d", w.Code)
	}
	w := doRequest(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "alice", "password": "password123"})
	if w.Code != http.StatusForbidden {
		t.Errorf("inactive login: expected 403, got %d", w.Code)
	}
}

func TestTrailingSlashRedirect(t *testing.T) {
	router, _ := setupRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/polls/", "", nil)
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/api/v1/polls" {
		t.Errorf("unexpected redirect target %q", loc)
	}
}
