// Package trials is a typed client for the seed, plot, trial and
// incident resources. Every call goes through a Requester, normally a
// *gateway.Gateway, so authentication and token refresh stay in one
// place.
package trials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexjbarnes/trialdesk/internal/gateway"
	"golang.org/x/text/unicode/norm"
)

// ErrEmptyQuery is returned by searches given a blank query. The API
// answers 400 for it, so it is rejected before any call is made.
var ErrEmptyQuery = errors.New("search query is empty")

// Requester performs one logical API call.
type Requester interface {
	Request(ctx context.Context, method, path string, body any, query url.Values) (*gateway.Response, error)
}

// Client groups the per-resource services.
type Client struct {
	Seeds     *SeedService
	Plots     *PlotService
	Trials    *TrialService
	Incidents *IncidentService
	Users     *UserService
}

// New returns a Client issuing calls through api.
func New(api Requester) *Client {
	return &Client{
		Seeds:     &SeedService{api: api},
		Plots:     &PlotService{api: api},
		Trials:    &TrialService{api: api},
		Incidents: &IncidentService{api: api},
		Users:     &UserService{api: api},
	}
}

// getJSON issues a GET and decodes the body into a T.
func getJSON[T any](ctx context.Context, api Requester, path string, query url.Values) (T, error) {
	var out T

	resp, err := api.Request(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return out, err
	}

	if err := resp.Decode(&out); err != nil {
		return out, err
	}

	return out, nil
}

// sendJSON issues a write call and decodes the body into a T.
func sendJSON[T any](ctx context.Context, api Requester, method, path string, body any) (T, error) {
	var out T

	resp, err := api.Request(ctx, method, path, body, nil)
	if err != nil {
		return out, err
	}

	if err := resp.Decode(&out); err != nil {
		return out, err
	}

	return out, nil
}

func deletePath(ctx context.Context, api Requester, path string) error {
	_, err := api.Request(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// itemPath builds /<collection>/<id>/<suffix...>/ with the id escaped.
func itemPath(collection, id string, suffix ...string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%s id is required", strings.TrimSuffix(collection, "s"))
	}

	parts := append([]string{"", collection, url.PathEscape(id)}, suffix...)

	return strings.Join(parts, "/") + "/", nil
}

// normalizeQuery trims q and converts it to NFC so that composed and
// decomposed accents match the same stored names.
func normalizeQuery(q string) (string, error) {
	q = norm.NFC.String(strings.TrimSpace(q))
	if q == "" {
		return "", ErrEmptyQuery
	}

	return q, nil
}
