// Package httpfetch downloads media over HTTP with streamed progress reporting.
package httpfetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tgmedia/pkg/media"

	"github.com/dustin/go-humanize"
	"resty.dev/v3"
)

// Type is the fetcher definition type token for HTTP fetchers.
const Type = "http"

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBytes  = 64 << 20
	defaultUserAgent = "tgmedia/1"
	progressChunk    = 32 << 10
)

var defaultPrefixes = []string{"http://", "https://"}

// ErrTooLarge indicates a response body beyond the configured limit.
var ErrTooLarge = errors.New("httpfetch: response too large")

type fileConfig struct {
	BaseURL   string   `json:"base_url"`
	Prefixes  []string `json:"prefixes"`
	Timeout   string   `json:"timeout"`
	UserAgent string   `json:"user_agent"`
	MaxBytes  int64    `json:"max_bytes"`
}

// Config is the parsed HTTP fetcher configuration.
type Config struct {
	// BaseURL is joined with keys that are not absolute URLs.
	BaseURL   string
	Prefixes  []string
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// ParseConfig parses one HTTP fetcher definition payload.
func ParseConfig(raw []byte) (Config, error) {
	var parsed fileConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return Config{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	cfg := Config{
		BaseURL:   strings.TrimSpace(parsed.BaseURL),
		Timeout:   defaultTimeout,
		UserAgent: strings.TrimSpace(parsed.UserAgent),
		MaxBytes:  parsed.MaxBytes,
	}
	if cfg.BaseURL != "" && !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return Config{}, fmt.Errorf("base_url must be an http(s) URL")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBytes < 0 {
		return Config{}, fmt.Errorf("max_bytes must be >= 0")
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	for _, prefix := range parsed.Prefixes {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			cfg.Prefixes = append(cfg.Prefixes, trimmed)
		}
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = append([]string(nil), defaultPrefixes...)
	}
	if timeout := strings.TrimSpace(parsed.Timeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return Config{}, fmt.Errorf("parse timeout: must be > 0")
		}
		cfg.Timeout = parsedTimeout
	}

	return cfg, nil
}

// Fetcher downloads keys that are URLs, or paths under a base URL.
type Fetcher struct {
	client *resty.Client
	cfg    Config
	logger *slog.Logger
}

// Option mutates fetcher construction.
type Option func(*Fetcher)

// WithLogger configures the fetcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(fetcher *Fetcher) {
		if logger != nil {
			fetcher.logger = logger
		}
	}
}

// New creates an HTTP fetcher.
func New(cfg Config, options ...Option) *Fetcher {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	fetcher := &Fetcher{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(fetcher)
	}

	return fetcher
}

// URL returns the request URL for key.
func (f *Fetcher) URL(key media.Key) (string, error) {
	raw := string(key)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}
	if f.cfg.BaseURL == "" {
		return "", fmt.Errorf("%w: %s is not a URL and no base_url is configured", media.ErrNoFetcher, key)
	}

	return strings.TrimSuffix(f.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(raw, "/"), nil
}

// Download performs one GET and streams the body, reporting progress when the
// response declares its length.
func (f *Fetcher) Download(
	ctx context.Context,
	request media.Request,
	onProgress media.ProgressFunc,
) (media.Payload, error) {
	url, err := f.URL(request.Key)
	if err != nil {
		return media.Payload{}, err
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return media.Payload{}, fmt.Errorf("http get %s: %w", url, err)
	}
	body := resp.RawResponse.Body
	defer body.Close()

	switch status := resp.StatusCode(); {
	case status == http.StatusNotFound || status == http.StatusGone:
		return media.Payload{}, fmt.Errorf("%w: %s", media.ErrNotFound, url)
	case status < 200 || status > 299:
		return media.Payload{}, fmt.Errorf("http get %s: status %d", url, status)
	}

	mimeType := resp.RawResponse.Header.Get("Content-Type")
	if !request.AllowUnsafe && media.IsUnsafeMIME(mimeType) {
		return media.Payload{}, fmt.Errorf("%w: %s served %s", media.ErrUnsafeContent, url, mimeType)
	}

	total := resp.RawResponse.ContentLength
	if total > f.cfg.MaxBytes {
		return media.Payload{}, fmt.Errorf("%w: %w: %s declares %s", media.ErrPermanent, ErrTooLarge, url, humanize.Bytes(uint64(total)))
	}

	data, err := readWithProgress(body, total, f.cfg.MaxBytes, onProgress)
	if err != nil {
		return media.Payload{}, fmt.Errorf("http read %s: %w", url, err)
	}
	f.logger.DebugContext(ctx, "http media downloaded", "url", url, "size", humanize.Bytes(uint64(len(data))))

	return media.Payload{Data: data, MIMEType: mimeType}, nil
}

// Close releases idle connections.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// readWithProgress reads at most limit bytes from body. Progress is reported
// after each chunk when total is known, and 100 is always reported at the end.
func readWithProgress(body io.Reader, total int64, limit int64, onProgress media.ProgressFunc) ([]byte, error) {
	capacity := total
	if capacity <= 0 || capacity > limit {
		capacity = 0
	}
	data := make([]byte, 0, capacity)
	chunk := make([]byte, progressChunk)
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			data = append(data, chunk[:n]...)
			if int64(len(data)) > limit {
				return nil, fmt.Errorf("%w: %w: over %s", media.ErrPermanent, ErrTooLarge, humanize.Bytes(uint64(limit)))
			}
			if onProgress != nil && total > 0 {
				onProgress(min(float64(len(data))*100/float64(total), 100))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if onProgress != nil {
		onProgress(100)
	}

	return data, nil
}
