package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/kuranet/kuranet/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInactiveUser       = errors.New("user account is disabled")
	ErrWrongTokenType     = errors.New("wrong token type")
)

// Token types carried in the "typ" claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest carries a refresh token to exchange for a new pair
type RefreshRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// TokenPair is an access/refresh token pair
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginResponse represents a login or registration response
type LoginResponse struct {
	TokenPair
	User *models.User `json:"user"`
}

// Authenticator is an interface for authentication providers
type Authenticator interface {
	// Login verifies credentials and issues a token pair
	Login(username, password string) (*LoginResponse, error)

	// Refresh exchanges a valid refresh token for a new pair
	Refresh(refreshToken string) (*TokenPair, error)

	// IssueTokens creates a token pair for an already-authenticated user
	IssueTokens(user *models.User) (*TokenPair, error)

	// Middleware rejects requests without a valid access token
	Middleware() gin.HandlerFunc

	// OptionalMiddleware attaches the user when a valid access token is present
	OptionalMiddleware() gin.HandlerFunc

	// GetUserFromContext extracts the authenticated user from the Gin context
	GetUserFromContext(c *gin.Context) (*models.User, error)
}
