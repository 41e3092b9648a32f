package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what can be read from an access token without verifying
// it. Only the API can verify tokens; this is for display.
type TokenInfo struct {
	Subject   string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the token's expiry is before now. Tokens
// without an expiry never report expired.
func (t TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// ParseTokenInfo reads the claims of a JWT without checking its
// signature.
func ParseTokenInfo(token string) (TokenInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("parsing access token: %w", err)
	}

	var info TokenInfo

	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}

	// simplejwt puts the user's primary key in user_id.
	switch v := claims["user_id"].(type) {
	case string:
		info.UserID = v
	case float64:
		info.UserID = fmt.Sprintf("%.0f", v)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}

	return info, nil
}
