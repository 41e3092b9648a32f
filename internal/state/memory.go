package state

import (
	"sync"

	"github.com/alexjbarnes/trialdesk/internal/models"
)

// Memory is a process-local credential store. It satisfies the same
// contract as State and is used for tests and for sessions that should
// not outlive the process.
type Memory struct {
	mu    sync.RWMutex
	creds models.Credentials
}

// NewMemory returns a store seeded with creds.
func NewMemory(creds models.Credentials) *Memory {
	return &Memory{creds: creds}
}

// Credentials returns a copy of the stored tokens.
func (m *Memory) Credentials() (models.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.creds, nil
}

// SetCredentials replaces both tokens.
func (m *Memory) SetCredentials(creds models.Credentials) error {
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()

	return nil
}

// SetAccessToken replaces the access token, keeping the refresh token.
func (m *Memory) SetAccessToken(token string) error {
	m.mu.Lock()
	m.creds.Access = token
	m.mu.Unlock()

	return nil
}

// Clear removes both tokens.
func (m *Memory) Clear() error {
	m.mu.Lock()
	m.creds = models.Credentials{}
	m.mu.Unlock()

	return nil
}
