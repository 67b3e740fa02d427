package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/service"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// handleServiceError maps service-layer errors to HTTP status codes.
func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found"})
		return
	case errors.Is(err, service.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
		return
	}

	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: validationErr.Message, Fields: validationErr.Fields})
		return
	}
	var conflictErr *service.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, ErrorResponse{Error: conflictErr.Message, Fields: conflictErr.Fields})
		return
	}
	slog.Error("unhandled service error", "error", err, "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
}

// currentUser returns the authenticated user, or nil for anonymous requests
func currentUser(c *gin.Context) *models.User {
	user, err := auth.UserFromContext(c)
	if err != nil {
		return nil
	}
	return user
}

// uuidParam parses a UUID path parameter. Malformed IDs are reported as
// not found, since no such resource can exist.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found"})
		return uuid.Nil, false
	}
	return id, true
}

// pageRequest reads ?page= and ?page_size=
func pageRequest(c *gin.Context) (service.PageRequest, bool) {
	var pr service.PageRequest
	fields := map[string]string{}
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fields["page"] = "must be a positive integer"
		}
		pr.Page = n
	}
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fields["page_size"] = "must be a positive integer"
		}
		pr.PageSize = n
	}
	if len(fields) > 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid pagination", Fields: fields})
		return pr, false
	}
	return pr, true
}

// HealthCheck godoc
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
