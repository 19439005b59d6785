// Package middleware provides HTTP middleware for request validation.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
)

// ValidationError represents a validation error response
type ValidationError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ContentTypeValidator requires application/json on modifying requests
func ContentTypeValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				contentType := r.Header.Get("Content-Type")
				if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
					writeValidationError(w, "Content-Type must be application/json", "Content-Type")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParamValidator validates a URL parameter against a closed set of values.
// Path parameters name a specific resource, so unlike query parameters they
// reject instead of falling back to a default.
func ParamValidator(paramName string, allowed []string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, v := range allowed {
		allowedSet[v] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := chi.URLParam(r, paramName)
			if value == "" {
				writeValidationError(w, fmt.Sprintf("%s is required", paramName), paramName)
				return
			}
			if _, ok := allowedSet[value]; !ok {
				writeValidationError(w,
					fmt.Sprintf("%s must be one of: %s", paramName, strings.Join(allowed, ", ")), paramName)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeValidationError writes a 400 response with validation details
func writeValidationError(w http.ResponseWriter, message, field string) {
	response := ValidationError{
		Error:   "validation_failed",
		Message: message,
		Field:   field,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(response)
}
