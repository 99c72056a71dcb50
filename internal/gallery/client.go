// Package gallery uploads media to the remote content store over multipart
// HTTP.
package gallery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediagrab/harvester/internal/harvest"
)

// Config points the client at the gallery service.
type Config struct {
	BaseURL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// Client implements harvest.Gallery against the upload endpoint. The service
// answers with a JSON array of sources, one per uploaded part.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// NewClient builds a gallery client.
func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gallery.base_url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{httpClient: httpClient, cfg: cfg.withDefaults(), logger: logger}, nil
}

type uploadedSource struct {
	Src string `json:"src"`
}

// Upload posts the item (and its thumbnail, when present) as one multipart
// request. Non-2xx and malformed responses come back wrapped in
// ErrTransientFetch so the pipeline's bounded retry takes another shot.
func (c *Client) Upload(ctx context.Context, item harvest.UploadItem) (harvest.GalleryResult, error) {
	var result harvest.GalleryResult
	if len(item.Data) == 0 {
		return result, fmt.Errorf("upload %s: empty payload", item.Filename)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writeFilePart(writer, item.Filename, item.MimeType, item.Data); err != nil {
		return result, err
	}
	if len(item.Thumb) > 0 {
		if err := writeFilePart(writer, "thumb_"+item.Filename, item.MimeType, item.Thumb); err != nil {
			return result, err
		}
	}
	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/upload", &body)
	if err != nil {
		return result, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("%w: upload %s: %v", harvest.ErrTransientFetch, item.Filename, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close upload response", zap.Error(cerr))
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return result, fmt.Errorf("%w: read upload response: %v", harvest.ErrTransientFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("%w: upload %s: status %d: %s",
			harvest.ErrTransientFetch, item.Filename, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var sources []uploadedSource
	if err := json.Unmarshal(raw, &sources); err != nil {
		return result, fmt.Errorf("%w: decode upload response: %v", harvest.ErrTransientFetch, err)
	}
	if len(sources) == 0 || sources[0].Src == "" {
		return result, fmt.Errorf("%w: upload response carries no source", harvest.ErrTransientFetch)
	}

	result.URL = c.absoluteURL(sources[0].Src)
	if len(sources) > 1 && sources[1].Src != "" {
		result.ThumbnailURL = c.absoluteURL(sources[1].Src)
	}
	return result, nil
}

func writeFilePart(writer *multipart.Writer, filename, mimeType string, data []byte) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files"; filename="%s"`, filename))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create multipart part for %s: %w", filename, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write multipart part for %s: %w", filename, err)
	}
	return nil
}

func (c *Client) absoluteURL(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return c.cfg.BaseURL + "/" + strings.TrimLeft(src, "/")
}
