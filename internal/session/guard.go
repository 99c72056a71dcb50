package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/metrics"
)

// CredentialApplier installs a credential into the fetch context (the
// browser session, in production).
type CredentialApplier interface {
	ApplyCredential(ctx context.Context, cred Credential) error
}

// GuardConfig bounds the recovery behavior of a Guard.
type GuardConfig struct {
	// MaxRefreshes is the credential refresh budget per producer crawl.
	MaxRefreshes int
	// MaxTransientRetries bounds same-page retries on transient failures.
	MaxTransientRetries int
	// Backoff is the fixed wait between transient retries.
	Backoff time.Duration
}

func (c GuardConfig) withDefaults() GuardConfig {
	if c.MaxRefreshes <= 0 {
		c.MaxRefreshes = 2
	}
	if c.MaxTransientRetries <= 0 {
		c.MaxTransientRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	return c
}

// Guard wraps page fetches with failure classification and bounded recovery.
// A Guard is scoped to one producer crawl; its refresh budget does not carry
// over between producers.
type Guard struct {
	store      *Store
	classifier Classifier
	applier    CredentialApplier
	cfg        GuardConfig
	logger     *zap.Logger

	refreshesUsed int
}

// NewGuard builds a Guard for one producer crawl.
func NewGuard(store *Store, classifier Classifier, applier CredentialApplier, cfg GuardConfig, logger *zap.Logger) *Guard {
	if classifier == nil {
		classifier = NewKeywordClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		store:      store,
		classifier: classifier,
		applier:    applier,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// RefreshesUsed reports how much of the refresh budget this crawl has spent.
func (g *Guard) RefreshesUsed() int { return g.refreshesUsed }

// Do runs fetch, absorbing transient failures with bounded same-page retries
// and session expiry with bounded credential refreshes. When either budget
// runs out the returned error wraps harvest.ErrProducerAborted: the caller
// abandons the current producer, not the run.
func (g *Guard) Do(ctx context.Context, fetch func(ctx context.Context) error) error {
	policy := harvest.RetryPolicy{
		MaxAttempts: 1 + g.cfg.MaxTransientRetries,
		Backoff:     g.cfg.Backoff,
		Retryable: func(err error) bool {
			return g.classifier.Classify(err) == ClassTransient
		},
	}

	for {
		err := policy.Do(ctx, fetch)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if g.classifier.Classify(err) != ClassSessionExpired {
			return fmt.Errorf("%w: transient retries exhausted: %w", harvest.ErrProducerAborted, err)
		}
		if g.refreshesUsed >= g.cfg.MaxRefreshes {
			return fmt.Errorf("%w: refresh budget exhausted after %d attempts: %w",
				harvest.ErrProducerAborted, g.refreshesUsed, err)
		}
		g.refreshesUsed++
		metrics.ObserveSessionRefresh()
		g.logger.Warn("session expired, refreshing credential",
			zap.Int("refresh", g.refreshesUsed),
			zap.Int("budget", g.cfg.MaxRefreshes),
			zap.Error(err),
		)
		cred, rerr := g.store.Refresh(ctx)
		if rerr != nil {
			return fmt.Errorf("%w: credential refresh failed: %w", harvest.ErrProducerAborted, rerr)
		}
		if g.applier != nil {
			if aerr := g.applier.ApplyCredential(ctx, cred); aerr != nil {
				return fmt.Errorf("%w: apply credential: %w", harvest.ErrProducerAborted, aerr)
			}
		}
	}
}
