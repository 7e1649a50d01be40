package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Kind classifies a failure for presentation.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport means no response was received at all.
	KindTransport
	// KindUnauthorized is a 401 that survived the refresh-and-retry path.
	KindUnauthorized
	// KindValidation is a 4xx carrying field-level errors.
	KindValidation
	// KindServer is any other error response; shown as a page-level message.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is a non-2xx response from the API.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
	// Fields holds per-field validation messages keyed by field name.
	Fields map[string]string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Method, e.Path, e.StatusCode, msg)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s %s failed (status %d): %s [%s]", e.Method, e.Path, e.StatusCode, msg, strings.Join(parts, "; "))
}

// TransportError wraps a failure where no response was received.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: failed to send request: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RefreshError is returned when a 401 could not be recovered because the
// refresh itself failed. Both the refresh failure and the original 401 are
// reachable through errors.Is / errors.As.
type RefreshError struct {
	Original *Error
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("session refresh failed: %v (after %v)", e.Err, e.Original)
}

func (e *RefreshError) Unwrap() []error { return []error{e.Err, e.Original} }

// Classify maps an error returned by this package to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return KindTransport
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized:
		return KindUnauthorized
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && len(apiErr.Fields) > 0:
		return KindValidation
	default:
		return KindServer
	}
}

// UserMessage returns the server-provided message for err, or fallback
// when there is none.
func UserMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// FieldErrors returns per-field validation messages carried by err, if any.
func FieldErrors(err error) map[string]string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Fields
	}
	return nil
}

type errorBody struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Errors  json.RawMessage `json:"errors"`
}

// readError consumes and closes resp.Body and builds an *Error from it.
func readError(resp *http.Response, method, path string) *Error {
	defer resp.Body.Close()

	apiErr := &Error{Method: method, Path: path, StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return apiErr
	}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(raw))
		return apiErr
	}

	apiErr.Message = body.Message
	if apiErr.Message == "" {
		apiErr.Message = body.Error
	}
	apiErr.Fields = decodeFields(body.Errors)
	return apiErr
}

// decodeFields accepts {"field": "msg"} or {"field": ["msg", ...]}.
func decodeFields(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return dropEmpty(flat)
	}

	var lists map[string][]string
	if err := json.Unmarshal(raw, &lists); err == nil {
		flat = make(map[string]string, len(lists))
		for k, v := range lists {
			flat[k] = strings.Join(v, ", ")
		}
		return dropEmpty(flat)
	}

	return nil
}

func dropEmpty(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
