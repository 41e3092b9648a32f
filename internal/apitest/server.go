// Package apitest runs an in-process fake of the trials REST API for
// tests. It issues real HS256 JWTs from /auth/login/ and /auth/refresh/,
// rejects stale or missing bearer tokens with 401, and serves in-memory
// seed, plot, trial and incident collections under /api.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BasePath is the prefix every route is mounted under.
const BasePath = "/api"

const (
	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
)

type contextKey int

const ctxUsername contextKey = iota

type account struct {
	id   int
	hash []byte
}

// Server is a fake trials API. Create it with New.
type Server struct {
	*httptest.Server

	secret []byte

	mu         sync.Mutex
	users      map[string]account
	accessGen  int
	refreshGen int
	colls      map[string]*collection

	refreshDelay time.Duration
	refreshFail  int

	loginCalls   atomic.Int64
	refreshCalls atomic.Int64
	hitsMu       sync.Mutex
	hits         map[string]int
}

// New starts a fake API and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		secret: []byte("apitest-" + uuid.NewString()),
		users:  make(map[string]account),
		colls:  newCollections(),
		hits:   make(map[string]int),
	}

	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)

	return s
}

// BaseURL is the API root to configure clients with.
func (s *Server) BaseURL() string {
	return s.URL + BasePath
}

// AddUser registers a user. The password is kept only as a bcrypt hash.
func (s *Server) AddUser(username, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("hashing password: %v", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[username] = account{id: len(s.users) + 1, hash: hash}
}

// ExpireAccessTokens invalidates every access token issued so far.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	s.accessGen++
	s.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	s.refreshGen++
	s.mu.Unlock()
}

// SetRefreshDelay makes /auth/refresh/ wait d before answering, so tests
// can pile concurrent callers onto one refresh.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	s.refreshDelay = d
	s.mu.Unlock()
}

// FailRefreshes makes the next n refresh calls answer 500.
func (s *Server) FailRefreshes(n int) {
	s.mu.Lock()
	s.refreshFail = n
	s.mu.Unlock()
}

// LoginCalls counts /auth/login/ requests.
func (s *Server) LoginCalls() int64 { return s.loginCalls.Load() }

// RefreshCalls counts /auth/refresh/ requests.
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }

// Hits returns how many times "METHOD /path" was requested, path
// relative to BasePath.
func (s *Server) Hits(method, path string) int {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()

	return s.hits[method+" "+path]
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+BasePath+"/auth/login/{$}", s.handleLogin)
	mux.HandleFunc("POST "+BasePath+"/auth/refresh/{$}", s.handleRefresh)

	protected := http.NewServeMux()
	protected.HandleFunc("GET "+BasePath+"/users/me/{$}", s.handleMe)
	s.resourceRoutes(protected)
	mux.Handle(BasePath+"/", s.requireBearer(protected))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hitsMu.Lock()
		s.hits[r.Method+" "+strings.TrimPrefix(r.URL.Path, BasePath)]++
		s.hitsMu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID    int    `json:"user_id"`
	TokenType string `json:"token_type"`
	Gen       int    `json:"gen"`
}

func (s *Server) issue(username string, userID int, tokenType string, gen int, ttl time.Duration) string {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID:    userID,
		TokenType: tokenType,
		Gen:       gen,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(fmt.Sprintf("signing token: %v", err))
	}

	return signed
}

// verify returns the claims of a valid token of the given type issued in
// the current generation, or nil.
func (s *Server) verify(raw, tokenType string) *tokenClaims {
	claims := &tokenClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || claims.TokenType != tokenType {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.accessGen
	if tokenType == "refresh" {
		gen = s.refreshGen
	}

	if claims.Gen != gen {
		return nil
	}

	return claims
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginCalls.Add(1)

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}

	s.mu.Lock()
	acct, ok := s.users[req.Username]
	accessGen, refreshGen := s.accessGen, s.refreshGen
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access":  s.issue(req.Username, acct.id, "access", accessGen, defaultAccessTTL),
		"refresh": s.issue(req.Username, acct.id, "refresh", refreshGen, defaultRefreshTTL),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)

	s.mu.Lock()
	delay := s.refreshDelay
	fail := s.refreshFail > 0
	if fail {
		s.refreshFail--
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "refresh unavailable"})
		return
	}

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"refresh": "This field is required."})
		return
	}

	claims := s.verify(req.Refresh, "refresh")
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}

	s.mu.Lock()
	gen := s.accessGen
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"access": s.issue(claims.Subject, claims.UserID, "access", gen, defaultAccessTTL),
	})
}

// requireBearer rejects requests without a current access token.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})

			return
		}

		claims := s.verify(strings.TrimPrefix(authHeader, "Bearer "), "access")
		if claims == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type", "code": "token_not_valid"})

			return
		}

		ctx := context.WithValue(r.Context(), ctxUsername, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	username, _ := r.Context().Value(ctxUsername).(string)

	s.mu.Lock()
	acct := s.users[username]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       acct.id,
		"username": username,
		"email":    username + "@example.com",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
