package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerTagNames sync.Once

// useJSONFieldNames makes validation errors report the JSON field name
// instead of the Go struct field name.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

// bindJSON decodes and validates the request body, writing a 400 with
// per-field messages on failure.
func bindJSON(c *gin.Context, obj any) bool {
	useJSONFieldNames()
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, bindingError(err))
		return false
	}
	return true
}

func bindingError(err error) ErrorResponse {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe)
		}
		return ErrorResponse{Error: "invalid request body", Fields: fields}
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return ErrorResponse{
			Error:  "invalid request body",
			Fields: map[string]string{typeErr.Field: fmt.Sprintf("expected %s", typeErr.Type)},
		}
	}

	var timeErr *time.ParseError
	if errors.As(err, &timeErr) {
		return ErrorResponse{Error: "invalid timestamp, expected RFC 3339 such as 2030-01-02T15:04:05Z"}
	}

	return ErrorResponse{Error: "invalid request body"}
}

func fieldMessage(fe validator.FieldError) string {
	isList := fe.Kind() == reflect.Slice || fe.Kind() == reflect.Array
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		if isList {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		if isList {
			return fmt.Sprintf("must contain at most %s items", fe.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "enter a valid email address"
	case "oneof":
		return "must be one of: " + strings.Join(strings.Fields(fe.Param()), ", ")
	case "uuid":
		return "must be a valid UUID"
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
