package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/alexjbarnes/trialdesk/internal/errors"
	"github.com/tidwall/gjson"
)

// Response is a completed API exchange. The gateway does not interpret
// resource payloads; callers decode Body themselves.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if v == nil {
		return nil
	}

	if len(r.Body) == 0 {
		return fmt.Errorf("decoding response: empty body (status %d)", r.StatusCode)
	}

	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// RequestFailedError is a non-2xx answer the gateway does not resolve
// itself. It matches ErrRequestFailed with errors.Is.
type RequestFailedError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func newRequestFailed(method, path string, resp *Response) *RequestFailedError {
	return &RequestFailedError{
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
		Body:   resp.Body,
	}
}

func (e *RequestFailedError) Error() string {
	if detail := e.Detail(); detail != "" {
		return fmt.Sprintf("API %s %s (%d): %s", e.Method, e.Path, e.Status, detail)
	}

	return fmt.Sprintf("API %s %s returned status %d: %s", e.Method, e.Path, e.Status, sanitizeResponseBody(e.Body))
}

// Is matches the ErrRequestFailed sentinel.
func (e *RequestFailedError) Is(target error) bool {
	return target == apperrors.ErrRequestFailed
}

// Detail returns the API's error message from a {"detail": ...} or
// {"error": ...} body, or "".
func (e *RequestFailedError) Detail() string {
	if !gjson.ValidBytes(e.Body) {
		return ""
	}

	for _, field := range []string{"detail", "error"} {
		if v := gjson.GetBytes(e.Body, field); v.Type == gjson.String && v.Str != "" {
			return sanitizeResponseBody([]byte(v.Str))
		}
	}

	return ""
}
