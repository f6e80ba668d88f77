package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// StatusError is returned when the session endpoint answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code: %d", e.Method, e.Path, e.StatusCode)
}

// ValidationError carries the per-field messages of a rejected write.
type ValidationError struct {
	Fields map[string]string
	Status *StatusError
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return e.Status
}

func statusError(req *http.Request, statusCode int, body []byte) error {
	se := &StatusError{
		Method:     req.Method,
		Path:       req.URL.Path,
		StatusCode: statusCode,
		Body:       string(body),
	}
	if statusCode == http.StatusBadRequest {
		var out struct {
			Errors map[string]string `json:"errors"`
		}
		if err := json.Unmarshal(body, &out); err == nil && len(out.Errors) > 0 {
			return &ValidationError{Fields: out.Errors, Status: se}
		}
	}
	return se
}
