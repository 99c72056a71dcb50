package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/browser"
	"github.com/mediagrab/harvester/internal/clock/system"
	"github.com/mediagrab/harvester/internal/config"
	"github.com/mediagrab/harvester/internal/dedup"
	"github.com/mediagrab/harvester/internal/harvest"
	"github.com/mediagrab/harvester/internal/metrics"
	"github.com/mediagrab/harvester/internal/ops"
	"github.com/mediagrab/harvester/internal/secrets/gist"
	"github.com/mediagrab/harvester/internal/session"
	"github.com/mediagrab/harvester/internal/store/postgres"
	"github.com/mediagrab/harvester/internal/weibo"
)

// core holds the services both subcommands share: the database store, the
// credential store, the browser-backed client, and the dedup gate.
type core struct {
	cfg    config.Config
	logger *zap.Logger

	store   *postgres.Store
	creds   *session.Store
	browser *browser.Session
	client  *weibo.Client
	gate    *dedup.Gate
	clock   *system.Clock
	ops     *ops.Server
}

// buildCore wires the shared services. The caller owns the returned core and
// must Close it.
func buildCore(ctx context.Context, rt *runtime) (*core, error) {
	cfg := rt.cfg
	logger := rt.logger

	metrics.Init()

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns),
		MinConns: int32(cfg.DB.MinConns),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	source, err := gist.New(nil, gist.Config{
		GistID:   cfg.Secrets.GistID,
		Token:    cfg.Secrets.Token,
		FileName: cfg.Secrets.FileName,
	}, logger.Named("gist"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init secret source: %w", err)
	}
	creds := session.NewStore(source, logger.Named("session"))

	sess, err := browser.Open(browser.Config{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
	}, logger.Named("browser"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open browser: %w", err)
	}

	cred, err := creds.Current(ctx)
	if err != nil {
		sess.Close()
		store.Close()
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if err := sess.ApplyCredential(ctx, cred); err != nil {
		sess.Close()
		store.Close()
		return nil, fmt.Errorf("apply credential: %w", err)
	}

	client := weibo.NewClient(sess, weibo.ClientConfig{
		BaseURL:    cfg.Crawl.BaseURL,
		NavTimeout: time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
	}, logger.Named("weibo"))

	c := &core{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		creds:   creds,
		browser: sess,
		client:  client,
		gate:    dedup.New(store, store, logger.Named("dedup")),
		clock:   system.New(),
	}
	c.startOps()
	return c, nil
}

// startOps brings up the operational HTTP listener when configured.
func (c *core) startOps() {
	if c.cfg.Ops.Addr == "" {
		return
	}
	c.ops = ops.NewServer(ops.Config{Addr: c.cfg.Ops.Addr}, c.logger.Named("ops"))
	go func() {
		if err := c.ops.Start(); err != nil {
			c.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

// Close tears down the core services in reverse construction order.
func (c *core) Close() {
	if c.ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.ops.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("ops server shutdown error", zap.Error(err))
		}
		cancel()
	}
	c.browser.Close()
	c.store.Close()
}

// pushBackCredential exports the possibly-rotated cookie bundle from the
// browser and writes it back to the secret store. Failures are logged only;
// the run already finished.
func (c *core) pushBackCredential() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred, err := c.browser.ExportCredential(ctx)
	if err != nil {
		c.logger.Warn("credential export failed", zap.Error(err))
		return
	}
	if !cred.Valid() {
		return
	}
	if err := c.creds.PushBack(ctx, cred); err != nil {
		c.logger.Warn("credential push-back failed", zap.Error(err))
	}
}

// newGuard builds a fresh session guard over the shared credential store and
// browser session.
func (c *core) newGuard() *session.Guard {
	return session.NewGuard(c.creds, nil, c.browser, session.GuardConfig{
		MaxRefreshes:        c.cfg.Session.MaxRefreshes,
		MaxTransientRetries: c.cfg.Session.MaxTransientRetries,
		Backoff:             time.Duration(c.cfg.Session.RetryBackoffSeconds) * time.Second,
	}, c.logger.Named("guard"))
}

func producerKinds(names []string) []harvest.ProducerKind {
	kinds := make([]harvest.ProducerKind, 0, len(names))
	for _, name := range names {
		kinds = append(kinds, harvest.ProducerKind(name))
	}
	return kinds
}
