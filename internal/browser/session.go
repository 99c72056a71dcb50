// Package browser provides the chromedp-backed browsing capability used for
// feed and detail fetches.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/session"
)

// Config controls the behavior of the browser session.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	ExtraHeaders      map[string]string
}

// Session is one long-lived browser tab, reused serially across page fetches.
// It is not safe for concurrent use; the crawl domain is sequential by
// design.
type Session struct {
	cfg         Config
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	// origins preserves the storage-state origins of the last applied
	// credential; CDP only round-trips cookies.
	origins json.RawMessage
}

// Open launches the browser process and opens the session tab.
func Open(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		tab:         tabCtx,
		tabCancel:   tabCancel,
	}
	if err := chromedp.Run(tabCtx, s.setupAction()); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	return s, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	s.tabCancel()
	s.allocCancel()
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cfg.ExtraHeaders) > 0 {
			headers := network.Headers{}
			for key, value := range s.cfg.ExtraHeaders {
				headers[key] = value
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// Navigate loads pageURL and waits for the document body, bounded by timeout.
// A timeout cancels the in-flight navigation but leaves the tab usable.
func (s *Session) Navigate(ctx context.Context, pageURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.NavigationTimeout
	}
	runCtx, cancel := s.boundedTab(ctx, timeout)
	defer cancel()

	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

// Evaluate runs script in the current page and decodes the result into out.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	runCtx, cancel := s.boundedTab(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate in page: %w", err)
	}
	return nil
}

// RawTextBody returns the visible text of the current document. Navigating to
// a JSON endpoint leaves the payload as the body text.
func (s *Session) RawTextBody(ctx context.Context) (string, error) {
	var body string
	if err := s.Evaluate(ctx, "document.body ? document.body.innerText : ''", &body); err != nil {
		return "", err
	}
	return body, nil
}

// ApplyCredential installs the cookie bundle into the browser.
func (s *Session) ApplyCredential(ctx context.Context, cred session.Credential) error {
	runCtx, cancel := s.boundedTab(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, cookie := range cred.Cookies {
			param := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(orDefault(cookie.Path, "/")).
				WithHTTPOnly(cookie.HTTPOnly).
				WithSecure(cookie.Secure)
			if cookie.Expires > 0 {
				expiry := cdp.TimeSinceEpoch(time.Unix(int64(cookie.Expires), 0))
				param = param.WithExpires(&expiry)
			}
			if sameSite := toSameSite(cookie.SameSite); sameSite != "" {
				param = param.WithSameSite(sameSite)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", cookie.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("apply credential: %w", err)
	}
	s.origins = cred.Origins
	s.logger.Debug("credential applied to browser", zap.Int("cookies", len(cred.Cookies)))
	return nil
}

// ExportCredential reads the cookie jar back out of the browser, producing a
// bundle that reflects any server-side rotation observed during the crawl.
func (s *Session) ExportCredential(ctx context.Context) (session.Credential, error) {
	runCtx, cancel := s.boundedTab(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return session.Credential{}, fmt.Errorf("export credential: %w", err)
	}

	cred := session.Credential{Origins: s.origins}
	for _, c := range cookies {
		cred.Cookies = append(cred.Cookies, session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cred, nil
}

// boundedTab derives a deadline-bounded context from the session tab that
// also respects the caller's cancellation.
func (s *Session) boundedTab(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func toSameSite(v string) network.CookieSameSite {
	switch strings.ToLower(v) {
	case "strict":
		return network.CookieSameSiteStrict
	case "lax":
		return network.CookieSameSiteLax
	case "none", "no_restriction":
		return network.CookieSameSiteNone
	default:
		return ""
	}
}
