package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound indicates the requested resource was not found.
var ErrNotFound = errors.New("not found")

// ErrForbidden indicates the actor lacks permission (HTTP 403).
var ErrForbidden = errors.New("you do not have permission to perform this action")

// ErrUnauthenticated indicates the operation requires a logged-in user (HTTP 401).
var ErrUnauthenticated = errors.New("authentication credentials were not provided")

// ValidationError represents a bad-request condition (HTTP 400).
// Fields maps input field names to messages.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %s", k, e.Fields[k])
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// ConflictError represents a conflict condition (HTTP 409).
type ConflictError struct {
	Message string
	Fields  map[string]string
}

func (e *ConflictError) Error() string { return e.Message }

// fieldErrors collects per-field validation messages
type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, exists := f[field]; !exists {
		f[field] = msg
	}
}

func (f fieldErrors) err(message string) error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Message: message, Fields: f}
}
