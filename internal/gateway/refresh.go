package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/trialdesk/internal/errors"
)

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// refresh returns an access token to replay a call whose token
// (rejected) got a 401. Concurrent callers share one in-flight refresh.
// The refresh runs detached from the caller's cancellation so that every
// waiter observes the same completed outcome.
func (g *Gateway) refresh(ctx context.Context, rejected string, logger *slog.Logger) (string, error) {
	v, err, shared := g.refreshes.Do(refreshKey, func() (any, error) {
		return g.refreshOnce(context.WithoutCancel(ctx), rejected, logger)
	})
	if err != nil {
		return "", err
	}

	if shared {
		logger.Debug("joined in-flight token refresh")
	}

	return v.(string), nil
}

func (g *Gateway) refreshOnce(ctx context.Context, rejected string, logger *slog.Logger) (string, error) {
	creds, err := g.store.Credentials()
	if err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}

	// Another call already replaced the rejected token; replay with it
	// instead of spending the refresh token again.
	if creds.Access != "" && creds.Access != rejected {
		logger.Debug("access token already refreshed")
		return creds.Access, nil
	}

	if creds.Refresh == "" {
		return "", apperrors.ErrUnauthenticated
	}

	access, err := g.requestAccessToken(ctx, creds.Refresh)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnreachable) {
			return "", err
		}

		logger.Warn("token refresh rejected, clearing session", slog.String("error", err.Error()))

		if clearErr := g.store.Clear(); clearErr != nil {
			return "", fmt.Errorf("%w: %v (clearing session: %v)", apperrors.ErrSessionExpired, err, clearErr)
		}

		return "", fmt.Errorf("%w: %v", apperrors.ErrSessionExpired, err)
	}

	if err := g.store.SetAccessToken(access); err != nil {
		return "", fmt.Errorf("saving refreshed access token: %w", err)
	}

	logger.Debug("access token refreshed")

	return access, nil
}

// requestAccessToken calls the refresh endpoint. Transport failures wrap
// ErrUnreachable; every other failure means the refresh token was not
// accepted.
func (g *Gateway) requestAccessToken(ctx context.Context, refreshToken string) (string, error) {
	resp, err := g.post(ctx, refreshPath, refreshRequest{Refresh: refreshToken})
	if err != nil {
		return "", err
	}

	if !isSuccess(resp.StatusCode) {
		return "", newRequestFailed(http.MethodPost, refreshPath, resp)
	}

	access := stringField(resp.Body, "access")
	if access == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}

	return access, nil
}
