package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// UserContextKey is the key used to store user in Gin context
	UserContextKey = "user"

	issuer = "kuranet"
)

// BasicAuthenticator implements username/password authentication with
// short-lived access tokens and longer-lived refresh tokens.
type BasicAuthenticator struct {
	db         *gorm.DB
	jwtSecret  []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewBasicAuthenticator creates a new basic authenticator
func NewBasicAuthenticator(db *gorm.DB, cfg config.AuthConfig) *BasicAuthenticator {
	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = 5 * time.Minute
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = 24 * time.Hour
	}
	return &BasicAuthenticator{
		db:         db,
		jwtSecret:  []byte(cfg.JWTSecret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	return HashPasswordCost(password, bcrypt.DefaultCost)
}

// HashPasswordCost hashes a password with an explicit bcrypt cost
func HashPasswordCost(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks if a password matches the hash
func VerifyPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Claims represents JWT claims
type Claims struct {
	UserID    string `json:"user_id"` // UUID stored as string
	Username  string `json:"username"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Login authenticates a user and returns an access/refresh pair
func (a *BasicAuthenticator) Login(username, password string) (*LoginResponse, error) {
	username = NormalizeUsername(username)

	var user models.User
	result := a.db.Preload("Roles").Where("username = ?", username).First(&user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Warn("Login attempt with non-existent username", "username", username)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", result.Error)
	}

	if !VerifyPassword(user.PasswordHash, password) {
		slog.Warn("Login attempt with incorrect password", "username", username)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		slog.Warn("Login attempt for disabled account", "username", username)
		return nil, ErrInactiveUser
	}

	pair, err := a.IssueTokens(&user)
	if err != nil {
		return nil, err
	}

	slog.Info("User logged in successfully", "user_id", user.ID, "username", user.Username)
	return &LoginResponse{TokenPair: *pair, User: &user}, nil
}

// Refresh validates a refresh token and issues a new pair.
// Access tokens are rejected.
func (a *BasicAuthenticator) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := a.validateToken(refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}

	user, err := a.loadUser(claims)
	if err != nil {
		return nil, err
	}
	return a.IssueTokens(user)
}

// IssueTokens creates a fresh access/refresh pair for a user
func (a *BasicAuthenticator) IssueTokens(user *models.User) (*TokenPair, error) {
	access, err := a.generateToken(user, TokenTypeAccess, a.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}
	refresh, err := a.generateToken(user, TokenTypeRefresh, a.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return &TokenPair{Access: access, Refresh: refresh}, nil
}

func (a *BasicAuthenticator) generateToken(user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		UserID:    user.ID.String(),
		Username:  user.Username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// validateToken validates a JWT token and returns claims
func (a *BasicAuthenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrUnauthorized
}

// loadUser resolves the token subject to an active user with roles
func (a *BasicAuthenticator) loadUser(claims *Claims) (*models.User, error) {
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in token: %w", err)
	}

	var user models.User
	if err := a.db.Preload("Roles").First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &user, nil
}

// authenticate extracts the bearer token from the request. ok is false when
// no Authorization header was sent at all.
func (a *BasicAuthenticator) authenticate(c *gin.Context) (user *models.User, ok bool, err error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, false, nil
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, true, errors.New("invalid authorization header format")
	}

	claims, err := a.validateToken(parts[1])
	if err != nil {
		return nil, true, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, true, ErrWrongTokenType
	}

	user, err = a.loadUser(claims)
	return user, true, err
}

// Middleware returns a Gin middleware that requires a valid access token
func (a *BasicAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, present, err := a.authenticate(c)
		if !present {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication credentials were not provided"})
			return
		}
		if err != nil {
			abortInvalidToken(c, err)
			return
		}
		c.Set(UserContextKey, user)
		c.Next()
	}
}

// OptionalMiddleware lets anonymous requests through but still rejects a
// token that is present and invalid.
func (a *BasicAuthenticator) OptionalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, present, err := a.authenticate(c)
		if !present {
			c.Next()
			return
		}
		if err != nil {
			abortInvalidToken(c, err)
			return
		}
		c.Set(UserContextKey, user)
		c.Next()
	}
}

func abortInvalidToken(c *gin.Context, err error) {
	msg := "invalid or expired token"
	if errors.Is(err, ErrInactiveUser) {
		msg = ErrInactiveUser.Error()
	}
	slog.Warn("Rejected token", "error", err, "path", c.Request.URL.Path)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// GetUserFromContext extracts the authenticated user from the Gin context
func (a *BasicAuthenticator) GetUserFromContext(c *gin.Context) (*models.User, error) {
	return UserFromContext(c)
}

// UserFromContext returns the user set by the middleware, or ErrUnauthorized
func UserFromContext(c *gin.Context) (*models.User, error) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return nil, ErrUnauthorized
	}

	user, ok := value.(*models.User)
	if !ok {
		return nil, errors.New("invalid user in context")
	}
	return user, nil
}
