package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAuth(t *testing.T) (*BasicAuthenticator, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.Role{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	a := NewBasicAuthenticator(db, config.AuthConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	return a, db
}

func createUser(t *testing.T, db *gorm.DB, username, password string) *models.User {
	t.Helper()
	hash, err := HashPasswordCost(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &models.User{Username: username, Email: username + "@example.com", PasswordHash: hash, IsActive: true}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestLogin_IssuesPair(t *testing.T) {
	a, db := setupAuth(t)
	createUser(t, db, "alice", "password123")

	resp, err := a.Login(" alice ", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Access == "" || resp.Refresh == "" {
		t.Fatal("expected both tokens")
	}
	if resp.Access == resp.Refresh {
		t.Error("access and refresh tokens must differ")
	}

	claims, err := a.validateToken(resp.Access)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.TokenType != TokenTypeAccess || claims.Username != "alice" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	a, db := setupAuth(t)
	createUser(t, db, "alice", "password123")

	if _, err := a.Login("alice", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Login("bob", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLogin_InactiveUser(t *testing.T) {
	a, db := setupAuth(t)
	u := createUser(t, db, "alice", "password123")
	db.Model(u).Update("is_active", false)

	if _, err := a.Login("alice", "password123"); !errors.Is(err, ErrInactiveUser) {
		t.Errorf("expected ErrInactiveUser, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	a, db := setupAuth(t)
	createUser(t, db, "alice", "password123")

	resp, err := a.Login("alice", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pair, err := a.Refresh(resp.Refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.Access == "" || pair.Refresh == resp.Refresh {
		t.Error("refresh should rotate the token pair")
	}

	if _, err := a.Refresh(resp.Access); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("access token must not refresh, got %v", err)
	}
	if _, err := a.Refresh("garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRefresh_Expired(t *testing.T) {
	a, db := setupAuth(t)
	u := createUser(t, db, "alice", "password123")

	pair, err := a.IssueTokens(u)
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}

	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := a.Refresh(pair.Refresh); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected expired refresh to fail, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, db := setupAuth(t)
	u := createUser(t, db, "alice", "password123")
	pair, err := a.IssueTokens(u)
	if err != nil {
		t.Fatalf("IssueTokens: %v", err)
	}

	router := gin.New()
	router.GET("/private", a.Middleware(), func(c *gin.Context) {
		user, err := a.GetUserFromContext(c)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, user.Username)
	})
	router.GET("/public", a.OptionalMiddleware(), func(c *gin.Context) {
		if _, err := UserFromContext(c); err != nil {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, "known")
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"no header", "/private", "", http.StatusUnauthorized, ""},
		{"access token", "/private", "Bearer " + pair.Access, http.StatusOK, "alice"},
		{"refresh token", "/private", "Bearer " + pair.Refresh, http.StatusUnauthorized, ""},
		{"malformed header", "/private", "Token " + pair.Access, http.StatusUnauthorized, ""},
		{"optional anonymous", "/public", "", http.StatusOK, "anonymous"},
		{"optional known", "/public", "Bearer " + pair.Access, http.StatusOK, "known"},
		{"optional bad token", "/public", "Bearer nope", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}

	// Deactivated users lose access immediately
	db.Model(u).Update("is_active", false)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("inactive user status = %d, want 401", w.Code)
	}
}

func TestNormalize(t *testing.T) {
	// U+FF41 FULLWIDTH LATIN SMALL LETTER A folds to "a" under NFKC
	if got := NormalizeUsername(" ａlice "); got != "alice" {
		t.Errorf("NormalizeUsername = %q", got)
	}
	if got := NormalizeEmail("Bob@Example.COM"); got != "Bob@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
	if got := NormalizeEmail("not-an-email"); got != "not-an-email" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
