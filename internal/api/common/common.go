// Package common provides shared HTTP utility functions for API handlers.
package common

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-chi/chi/v5"
)

// maxIDLength bounds identifiers taken from the URL
const maxIDLength = 128

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteJSONResponse writes a JSON response with the given data
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// WriteErrorResponse writes a standardized error response
func WriteErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	WriteJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}

// IDParam returns the named URL parameter after decoding it. Identifiers start with a letter or
// digit and may contain letters, digits, dots, dashes and underscores.
func IDParam(r *http.Request, name string) (string, error) {
	decoded, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}
	if decoded == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if len(decoded) > maxIDLength {
		return "", fmt.Errorf("%s cannot be longer than %d characters", name, maxIDLength)
	}
	if !idPattern.MatchString(decoded) {
		return "", fmt.Errorf("%s contains invalid characters: %q", name, decoded)
	}
	return decoded, nil
}
