// Package gist stores the browser storage-state bundle in a GitHub Gist.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/session"
)

// Config identifies the gist holding the credential bundle.
type Config struct {
	GistID string
	Token  string
	// FileName is the gist file carrying the bundle.
	FileName string
	// APIBaseURL overrides the GitHub API endpoint, for tests.
	APIBaseURL string
	Timeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.FileName == "" {
		c.FileName = "storage-state.json"
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://api.github.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	return c
}

// Source implements session.SecretSource over the GitHub Gist API.
type Source struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// New builds a gist-backed secret source.
func New(httpClient *http.Client, cfg Config, logger *zap.Logger) (*Source, error) {
	if cfg.GistID == "" {
		return nil, fmt.Errorf("secrets.gist_id is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("secrets.token is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{httpClient: httpClient, cfg: cfg.withDefaults(), logger: logger}, nil
}

type gistFile struct {
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
	RawURL    string `json:"raw_url"`
}

type gistEnvelope struct {
	Files map[string]gistFile `json:"files"`
}

// Fetch reads the credential bundle out of the gist.
func (s *Source) Fetch(ctx context.Context) (session.Credential, error) {
	var cred session.Credential

	body, err := s.request(ctx, http.MethodGet, s.gistURL(), nil)
	if err != nil {
		return cred, err
	}

	var envelope gistEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return cred, fmt.Errorf("decode gist: %w", err)
	}
	file, ok := envelope.Files[s.cfg.FileName]
	if !ok {
		return cred, fmt.Errorf("gist has no file %q", s.cfg.FileName)
	}

	content := []byte(file.Content)
	if file.Truncated {
		// Large bundles only arrive in full through the raw URL.
		content, err = s.request(ctx, http.MethodGet, file.RawURL, nil)
		if err != nil {
			return cred, fmt.Errorf("fetch truncated gist content: %w", err)
		}
	}

	if err := json.Unmarshal(content, &cred); err != nil {
		return cred, fmt.Errorf("decode storage state: %w", err)
	}
	s.logger.Debug("credential bundle fetched", zap.Int("cookies", len(cred.Cookies)))
	return cred, nil
}

// Update PATCHes the (possibly rotated) bundle back into the gist.
func (s *Source) Update(ctx context.Context, cred session.Credential) error {
	content, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode storage state: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"files": map[string]any{
			s.cfg.FileName: map[string]string{"content": string(content)},
		},
	})
	if err != nil {
		return fmt.Errorf("encode gist patch: %w", err)
	}
	if _, err := s.request(ctx, http.MethodPatch, s.gistURL(), payload); err != nil {
		return err
	}
	s.logger.Debug("credential bundle pushed back", zap.Int("cookies", len(cred.Cookies)))
	return nil
}

func (s *Source) gistURL() string {
	return s.cfg.APIBaseURL + "/gists/" + s.cfg.GistID
}

func (s *Source) request(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build gist request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s gist: %w", method, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close gist response", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read gist response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s gist: status %d: %s",
			method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
