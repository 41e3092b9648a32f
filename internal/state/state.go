// Package state persists the session's credential pair.
package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/trialdesk/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.trialdesk/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	sessionBucket   = []byte("session")
	accessTokenKey  = []byte("access_token")
	refreshTokenKey = []byte("refresh_token")
)

// State wraps a bbolt database holding the credential pair. Every
// mutation is a single bolt transaction, so the pair is never observed
// half-written or half-cleared.
type State struct {
	db *bolt.DB
}

// Open opens the state database at path, creating it and its parent
// directory if they do not exist.
func Open(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Credentials returns the stored pair. Missing tokens are empty strings.
func (s *State) Credentials() (models.Credentials, error) {
	var creds models.Credentials

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		creds.Access = string(b.Get(accessTokenKey))
		creds.Refresh = string(b.Get(refreshTokenKey))

		return nil
	})
	if err != nil {
		return models.Credentials{}, fmt.Errorf("reading credentials: %w", err)
	}

	return creds, nil
}

// SetCredentials replaces both tokens.
func (s *State) SetCredentials(creds models.Credentials) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := putOrDelete(b, accessTokenKey, creds.Access); err != nil {
			return err
		}

		return putOrDelete(b, refreshTokenKey, creds.Refresh)
	})
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	return nil
}

// SetAccessToken overwrites the access token and leaves the refresh
// token unchanged.
func (s *State) SetAccessToken(token string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putOrDelete(tx.Bucket(sessionBucket), accessTokenKey, token)
	})
	if err != nil {
		return fmt.Errorf("saving access token: %w", err)
	}

	return nil
}

// Clear removes both tokens in one transaction.
func (s *State) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if err := b.Delete(accessTokenKey); err != nil {
			return err
		}

		return b.Delete(refreshTokenKey)
	})
	if err != nil {
		return fmt.Errorf("clearing credentials: %w", err)
	}

	return nil
}

// putOrDelete stores value under key, or removes the key when value is
// empty so an absent token reads back as "".
func putOrDelete(b *bolt.Bucket, key []byte, value string) error {
	if value == "" {
		return b.Delete(key)
	}

	return b.Put(key, []byte(value))
}
