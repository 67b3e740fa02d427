package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kuranet/kuranet/internal/service"
)

func TestHandleServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"not found", fmt.Errorf("load: %w", service.ErrNotFound), http.StatusNotFound, "Not found"},
		{"unauthenticated", service.ErrUnauthenticated, http.StatusUnauthorized, service.ErrUnauthenticated.Error()},
		{"forbidden", service.ErrForbidden, http.StatusForbidden, service.ErrForbidden.Error()},
		{"validation", &service.ValidationError{Message: "invalid poll", Fields: map[string]string{"title": "blank"}}, http.StatusBadRequest, "invalid poll"},
		{"conflict", service.ErrAlreadyVoted, http.StatusConflict, "you have already voted in this poll"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			handleServiceError(c, tt.err)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.Error != tt.body {
				t.Errorf("expected error %q, got %q", tt.body, resp.Error)
			}
		})
	}
}

func TestBindJSON_FieldErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"","options":[{"text":"only"}]}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreatePollRequest
	if bindJSON(c, &req) {
		t.Fatal("expected binding to fail")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	want := map[string]string{
		"title":     "this field is required",
		"closes_at": "this field is required",
		"options":   "must contain at least 2 items",
	}
	for field, msg := range want {
		if resp.Fields[field] != msg {
			t.Errorf("field %s: expected %q, got %q", field, msg, resp.Fields[field])
		}
	}
}

func TestPageRequest_Invalid(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=0&page_size=abc", nil)

	if _, ok := pageRequest(c); ok {
		t.Fatal("expected invalid pagination")
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Fields["page"] == "" || resp.Fields["page_size"] == "" {
		t.Errorf("expected page and page_size errors, got %v", resp.Fields)
	}
}

func TestGetVersion(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/version", nil)

	GetVersion(c)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var response VersionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response.Version != Version {
		t.Errorf("expected version %s, got %s", Version, response.Version)
	}
	if response.GoVersion != runtime.Version() || response.OS != runtime.GOOS || response.Arch != runtime.GOARCH {
		t.Errorf("unexpected runtime info: %+v", response)
	}
}
