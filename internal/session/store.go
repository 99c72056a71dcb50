package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SecretSource reads and writes the credential bundle in the external secret
// store.
type SecretSource interface {
	Fetch(ctx context.Context) (Credential, error)
	Update(ctx context.Context, cred Credential) error
}

// Store caches the credential in memory with a secret-store fallback.
// Refreshes are single-flight: concurrent callers share one fetch instead of
// each hitting the secret store.
type Store struct {
	source SecretSource
	logger *zap.Logger

	mu     sync.RWMutex
	cached *Credential
	group  singleflight.Group
}

// NewStore creates a credential store over the given secret source.
func NewStore(source SecretSource, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{source: source, logger: logger}
}

// Current returns the cached credential, fetching it on first use.
func (s *Store) Current(ctx context.Context) (Credential, error) {
	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	return s.Refresh(ctx)
}

// Refresh re-pulls the credential from the secret store and replaces the
// cache. Concurrent refreshes collapse into a single fetch.
func (s *Store) Refresh(ctx context.Context) (Credential, error) {
	v, err, _ := s.group.Do("credential", func() (any, error) {
		cred, err := s.source.Fetch(ctx)
		if err != nil {
			return Credential{}, fmt.Errorf("fetch credential: %w", err)
		}
		if !cred.Valid() {
			return Credential{}, fmt.Errorf("credential bundle carries no cookies")
		}
		s.mu.Lock()
		s.cached = &cred
		s.mu.Unlock()
		s.logger.Info("credential refreshed", zap.Int("cookies", len(cred.Cookies)))
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// PushBack writes a server-rotated credential observed after a successful
// authenticated request back to the secret store and updates the cache.
func (s *Store) PushBack(ctx context.Context, cred Credential) error {
	if !cred.Valid() {
		return fmt.Errorf("refusing to push back empty credential")
	}
	if err := s.source.Update(ctx, cred); err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	s.mu.Lock()
	s.cached = &cred
	s.mu.Unlock()
	return nil
}
