// Package gateway issues authenticated calls against the trials REST API.
//
// Every call carries the stored access token as a bearer credential. When
// the API answers 401 the gateway refreshes the access token once, shared
// across concurrent callers, and replays the call exactly once with the
// new token. Any other outcome is returned to the caller unchanged.
package gateway

//go:generate mockgen -destination=mock_store_test.go -package=gateway . CredentialStore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/alexjbarnes/trialdesk/internal/errors"
	"github.com/alexjbarnes/trialdesk/internal/models"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	loginPath   = "/auth/login/"
	refreshPath = "/auth/refresh/"

	// refreshKey is the singleflight key for token refresh. A gateway
	// owns exactly one credential pair, so one key suffices.
	refreshKey = "refresh"
)

// CredentialStore holds the session's token pair. Implementations must
// apply each method atomically; Clear in particular removes both tokens
// or neither.
type CredentialStore interface {
	Credentials() (models.Credentials, error)
	SetCredentials(creds models.Credentials) error
	SetAccessToken(token string) error
	Clear() error
}

// Options configures a Gateway.
type Options struct {
	// BaseURL is the API root, e.g. http://localhost:8000/api. Auth and
	// resource paths are both resolved against it.
	BaseURL string

	// HTTPClient defaults to NewHTTPClient(0).
	HTTPClient *http.Client

	Store  CredentialStore
	Logger *slog.Logger
}

// Gateway is the single entry point for API calls. It is safe for
// concurrent use.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	store      CredentialStore
	logger     *slog.Logger
	refreshes  singleflight.Group
}

// New creates a Gateway. Store is required.
func New(opts Options) *Gateway {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Gateway{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		store:      opts.Store,
		logger:     logger,
	}
}

// Request performs one logical call. body is JSON-encoded unless it is
// nil, []byte or json.RawMessage. query may be nil.
//
// A 2xx response is returned as is. A first 401 triggers one refresh and
// one replay; the replay's outcome is final, including another 401.
// Non-2xx outcomes are *RequestFailedError, transport failures wrap
// ErrUnreachable, a missing refresh token is ErrUnauthenticated and a
// rejected refresh is ErrSessionExpired.
func (g *Gateway) Request(ctx context.Context, method, path string, body any, query url.Values) (*Response, error) {
	call, err := newPendingCall(method, path, body, query)
	if err != nil {
		return nil, err
	}

	logger := g.logger.With(
		slog.String("call_id", uuid.NewString()),
		slog.String("method", method),
		slog.String("path", path),
	)

	creds, err := g.store.Credentials()
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	resp, err := g.send(ctx, call, creds.Access)
	if err != nil {
		logger.Debug("api call failed", slog.String("error", err.Error()))
		return nil, err
	}

	logger.Debug("api call", slog.Int("status", resp.StatusCode), slog.Bool("bearer", creds.Access != ""))

	if resp.StatusCode != http.StatusUnauthorized {
		return call.result(resp)
	}

	access, err := g.refresh(ctx, creds.Access, logger)
	if err != nil {
		return nil, err
	}

	resp, err = g.send(ctx, call, access)
	if err != nil {
		logger.Debug("api retry failed", slog.String("error", err.Error()))
		return nil, err
	}

	logger.Debug("api retry", slog.Int("status", resp.StatusCode))

	return call.result(resp)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username and password for a token pair and stores
// it. On rejection nothing is stored and the error wraps
// ErrInvalidCredentials.
func (g *Gateway) Login(ctx context.Context, username, password string) (models.Credentials, error) {
	if username == "" || password == "" {
		return models.Credentials{}, fmt.Errorf("%w: username and password are required", apperrors.ErrInvalidCredentials)
	}

	resp, err := g.post(ctx, loginPath, loginRequest{Username: username, Password: password})
	if err != nil {
		return models.Credentials{}, fmt.Errorf("logging in: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return models.Credentials{}, fmt.Errorf("logging in: %w", newRequestFailed(http.MethodPost, loginPath, resp))
	}

	if !isSuccess(resp.StatusCode) {
		return models.Credentials{}, fmt.Errorf("%w (status %d)", apperrors.ErrInvalidCredentials, resp.StatusCode)
	}

	creds := models.Credentials{
		Access:  stringField(resp.Body, "access"),
		Refresh: stringField(resp.Body, "refresh"),
	}
	if creds.Access == "" || creds.Refresh == "" {
		return models.Credentials{}, fmt.Errorf("%w: login response missing tokens", apperrors.ErrInvalidCredentials)
	}

	if err := g.store.SetCredentials(creds); err != nil {
		return models.Credentials{}, fmt.Errorf("saving credentials: %w", err)
	}

	g.logger.Info("logged in", slog.String("username", username))

	return creds, nil
}

// Logout forgets the stored token pair. It makes no network call.
func (g *Gateway) Logout() error {
	if err := g.store.Clear(); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}

	return nil
}

// Authenticated reports whether any credentials are stored. It does not
// verify them with the API.
func (g *Gateway) Authenticated() bool {
	creds, err := g.store.Credentials()
	if err != nil {
		return false
	}

	return !creds.Empty()
}

// AccessTokenInfo describes the stored access token. ok is false when no
// token is stored or it is not a JWT.
func (g *Gateway) AccessTokenInfo() (info TokenInfo, ok bool) {
	creds, err := g.store.Credentials()
	if err != nil || creds.Access == "" {
		return TokenInfo{}, false
	}

	info, err = ParseTokenInfo(creds.Access)
	if err != nil {
		return TokenInfo{}, false
	}

	return info, true
}

// IsSessionError reports whether err means the user must log in again.
func IsSessionError(err error) bool {
	return errors.Is(err, apperrors.ErrSessionExpired) || errors.Is(err, apperrors.ErrUnauthenticated)
}

// stringField extracts a non-empty top-level string field from a JSON
// body, or "".
func stringField(body []byte, field string) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	v := gjson.GetBytes(body, field)
	if v.Type != gjson.String {
		return ""
	}

	return v.Str
}
