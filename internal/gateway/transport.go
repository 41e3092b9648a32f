package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/trialdesk/internal/errors"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// defaultHTTPTimeout applies when NewHTTPClient is given no timeout.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads. List endpoints are
	// unpaginated, so this is larger than a single record needs. A body
	// over the cap fails the call instead of being truncated.
	maxResponseBytes = 4 * 1024 * 1024
)

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This keeps the bearer token from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns the client used for API calls: a per-exchange
// timeout and a same-host redirect policy. A non-positive timeout uses
// 30 seconds.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// pendingCall is a logical call captured so it can be dispatched twice:
// once with the original token and, after a refresh, once more.
type pendingCall struct {
	method string
	path   string
	query  url.Values
	body   []byte
}

func newPendingCall(method, path string, body any, query url.Values) (*pendingCall, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	return &pendingCall{
		method: method,
		path:   path,
		query:  query,
		body:   payload,
	}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling request body: %w", err)
	}

	return payload, nil
}

// result maps a final response to the caller-visible outcome.
func (c *pendingCall) result(resp *Response) (*Response, error) {
	if isSuccess(resp.StatusCode) {
		return resp, nil
	}

	return nil, newRequestFailed(c.method, c.path, resp)
}

// send dispatches call once. access is attached as a bearer token when
// non-empty. Only transport failures are errors; every HTTP status is a
// Response.
func (g *Gateway) send(ctx context.Context, call *pendingCall, access string) (*Response, error) {
	target := g.baseURL + call.path
	if len(call.query) > 0 {
		target += "?" + call.query.Encode()
	}

	var reader io.Reader
	if call.body != nil {
		reader = bytes.NewReader(call.body)
	}

	req, err := http.NewRequestWithContext(ctx, call.method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if call.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", apperrors.ErrUnreachable, call.method, call.path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response from %s: %w", apperrors.ErrUnreachable, call.path, err)
	}

	if len(respBody) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s %s: response exceeds %d MiB", apperrors.ErrRequestFailed, call.method, call.path, maxResponseBytes>>20)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// post sends an unauthenticated JSON POST. Used for the login and
// refresh endpoints, which never carry a bearer token.
func (g *Gateway) post(ctx context.Context, path string, body any) (*Response, error) {
	call, err := newPendingCall(http.MethodPost, path, body, nil)
	if err != nil {
		return nil, err
	}

	return g.send(ctx, call, "")
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
