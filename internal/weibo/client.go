package weibo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
)

// Browser is the fetch-with-script-evaluation capability the client rides on.
// The crawl domain reuses one serially-shared browser session, so callers
// must not overlap page fetches.
type Browser interface {
	Navigate(ctx context.Context, pageURL string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string, out any) error
	RawTextBody(ctx context.Context) (string, error)
}

// ClientConfig controls endpoints and timeouts of the feed client.
type ClientConfig struct {
	BaseURL     string
	NavTimeout  time.Duration
	BodySnippet int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://m.weibo.cn"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.BodySnippet <= 0 {
		c.BodySnippet = 200
	}
	return c
}

// FeedPage is one page of a producer's feed plus the cursor for the next one.
// An empty NextCursor means the source has no more data.
type FeedPage struct {
	Posts      []*Post
	NextCursor string
}

// Client fetches feed pages and post detail payloads through the browser.
type Client struct {
	browser Browser
	cfg     ClientConfig
	logger  *zap.Logger

	mu         sync.Mutex
	containers map[string]string
}

// NewClient builds a feed client over the given browser session.
func NewClient(browser Browser, cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		browser:    browser,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		containers: make(map[string]string),
	}
}

type feedEnvelope struct {
	OK   int `json:"ok"`
	Data struct {
		Cards        []Card `json:"cards"`
		CardlistInfo struct {
			SinceID FlexID `json:"since_id"`
		} `json:"cardlistInfo"`
		PageInfo struct {
			SinceID FlexID `json:"since_id"`
		} `json:"pageInfo"`
	} `json:"data"`
}

type containerEnvelope struct {
	OK   int `json:"ok"`
	Data struct {
		TabsInfo struct {
			Tabs []struct {
				ContainerID string `json:"containerid"`
			} `json:"tabs"`
		} `json:"tabsInfo"`
	} `json:"data"`
}

// FetchPage retrieves one feed page for the producer at the given cursor.
func (c *Client) FetchPage(ctx context.Context, producer harvest.Producer, cursor string) (FeedPage, error) {
	containerID, err := c.containerID(ctx, producer)
	if err != nil {
		return FeedPage{}, err
	}

	query := url.Values{}
	query.Set("containerid", containerID)
	if producer.Kind == harvest.KindPersonalAccount {
		query.Set("type", "uid")
		query.Set("value", producer.SourceID)
	}
	if cursor != "" {
		query.Set("since_id", cursor)
	}
	pageURL := c.cfg.BaseURL + "/api/container/getIndex?" + query.Encode()

	body, err := c.fetchJSON(ctx, pageURL)
	if err != nil {
		return FeedPage{}, err
	}

	var envelope feedEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return FeedPage{}, fmt.Errorf("%w: decode feed page: %v: %s",
			harvest.ErrMalformedPayload, err, c.snippet(body))
	}
	if envelope.OK != 1 {
		// The login prompt arrives as an ok!=1 body; surface a snippet so the
		// session classifier can see it.
		return FeedPage{}, fmt.Errorf("feed response not ok: %s", c.snippet(body))
	}

	next := envelope.Data.CardlistInfo.SinceID.String()
	if next == "" || next == "0" {
		next = envelope.Data.PageInfo.SinceID.String()
	}
	if next == "0" {
		next = ""
	}
	return FeedPage{
		Posts:      FlattenPostCards(envelope.Data.Cards),
		NextCursor: next,
	}, nil
}

// DetailURL is the canonical post page for a platform id.
func (c *Client) DetailURL(platformID string) string {
	return c.cfg.BaseURL + "/detail/" + platformID
}

// FetchDetail renders a post's detail page and returns its payload as seen by
// the page script ($render_data.status).
func (c *Client) FetchDetail(ctx context.Context, platformID string) (*Post, error) {
	detailURL := c.DetailURL(platformID)
	if err := c.browser.Navigate(ctx, detailURL, c.cfg.NavTimeout); err != nil {
		return nil, fmt.Errorf("navigate detail %s: %w", platformID, err)
	}

	var raw json.RawMessage
	script := `(() => { const d = window.$render_data; return d ? JSON.stringify(d) : ""; })()`
	var encoded string
	if err := c.browser.Evaluate(ctx, script, &encoded); err != nil {
		return nil, fmt.Errorf("evaluate render data for %s: %w", platformID, err)
	}
	if strings.TrimSpace(encoded) == "" {
		body, _ := c.browser.RawTextBody(ctx)
		return nil, fmt.Errorf("$render_data missing for %s: %s", platformID, c.snippet(body))
	}
	raw = json.RawMessage(encoded)

	var payload struct {
		Status *Post `json:"status"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode render data for %s: %v", harvest.ErrMalformedPayload, platformID, err)
	}
	if payload.Status == nil {
		return nil, fmt.Errorf("%w: render data carries no status for %s", harvest.ErrMalformedPayload, platformID)
	}
	return payload.Status, nil
}

// containerID resolves the feed container for a producer. Topics carry it
// directly as their source id; personal accounts need a profile lookup,
// cached per source id for the life of the client.
func (c *Client) containerID(ctx context.Context, producer harvest.Producer) (string, error) {
	if producer.Kind != harvest.KindPersonalAccount {
		return producer.SourceID, nil
	}
	c.mu.Lock()
	cached, ok := c.containers[producer.SourceID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	lookupURL := c.cfg.BaseURL + "/api/container/getIndex?type=uid&value=" + url.QueryEscape(producer.SourceID)
	body, err := c.fetchJSON(ctx, lookupURL)
	if err != nil {
		return "", err
	}
	var envelope containerEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return "", fmt.Errorf("%w: decode profile for %s: %v", harvest.ErrMalformedPayload, producer.SourceID, err)
	}
	if envelope.OK != 1 {
		return "", fmt.Errorf("profile response not ok for %s: %s", producer.SourceID, c.snippet(body))
	}
	tabs := envelope.Data.TabsInfo.Tabs
	if len(tabs) < 2 || tabs[1].ContainerID == "" {
		return "", fmt.Errorf("%w: profile for %s has no feed tab", harvest.ErrMalformedPayload, producer.SourceID)
	}
	id := tabs[1].ContainerID
	c.mu.Lock()
	c.containers[producer.SourceID] = id
	c.mu.Unlock()
	c.logger.Debug("resolved container id",
		zap.String("source_id", producer.SourceID),
		zap.String("container_id", id),
	)
	return id, nil
}

func (c *Client) fetchJSON(ctx context.Context, pageURL string) (string, error) {
	if err := c.browser.Navigate(ctx, pageURL, c.cfg.NavTimeout); err != nil {
		return "", fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	body, err := c.browser.RawTextBody(ctx)
	if err != nil {
		return "", fmt.Errorf("read body of %s: %w", pageURL, err)
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("empty body from %s", pageURL)
	}
	return body, nil
}

func (c *Client) snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > c.cfg.BodySnippet {
		return body[:c.cfg.BodySnippet]
	}
	return body
}
