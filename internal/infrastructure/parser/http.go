package parser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"PageHarvester/internal/domain"
)

const maxBodyBytes = 32 << 20

// ErrUnexpectedStatus is returned for any non-2xx upstream response.
var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPConfig is shared by every HTTP-backed strategy.
type HTTPConfig struct {
	UserAgent          string
	ListTimeout        time.Duration
	DetailTimeout      time.Duration
	InsecureSkipVerify bool
}

// HTTPClient fetches listing and detail documents with per-call timeouts.
type HTTPClient struct {
	client        *http.Client
	userAgent     string
	listTimeout   time.Duration
	detailTimeout time.Duration
	logger        *slog.Logger
}

// NewHTTPClient wires an HTTP client; a nil client gets a transport honouring InsecureSkipVerify.
func NewHTTPClient(cfg HTTPConfig, client *http.Client, logger *slog.Logger) *HTTPClient {
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // government portals ship broken chains
		client = &http.Client{Transport: transport}
	}
	return &HTTPClient{
		client:        client,
		userAgent:     cfg.UserAgent,
		listTimeout:   cfg.ListTimeout,
		detailTimeout: cfg.DetailTimeout,
		logger:        logger,
	}
}

// List fetches a listing resource. Bodies are returned as sent (JSON, feeds).
func (c *HTTPClient) List(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	return c.get(ctx, rawURL, c.listTimeout, header, false)
}

// ListHTML fetches a listing page and decodes it to UTF-8.
func (c *HTTPClient) ListHTML(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, rawURL, c.listTimeout, nil, true)
}

// Detail fetches a detail page decoded to UTF-8.
func (c *HTTPClient) Detail(ctx context.Context, rawURL string) (domain.RawPage, error) {
	body, err := c.get(ctx, rawURL, c.detailTimeout, nil, true)
	if err != nil {
		return domain.RawPage{}, err
	}
	return domain.RawPage{URL: rawURL, Body: body, FetchedAt: time.Now()}, nil
}

func (c *HTTPClient) get(ctx context.Context, rawURL string, timeout time.Duration, header http.Header, decode bool) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.debug("http get", "url", rawURL)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnexpectedStatus, rawURL, resp.Status)
	}

	var body io.Reader = io.LimitReader(resp.Body, maxBodyBytes)
	if decode {
		body, err = charset.NewReader(body, resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", rawURL, err)
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, nil
}

func (c *HTTPClient) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
