// Copyright 2024-2026 Aiku AI

// Package media downloads attachments that a platform refused to fetch by
// URL, so that they can be uploaded instead.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/connector"
)

var _ connector.MediaFetcher = (*Fetcher)(nil)

var ErrTooLarge = errors.New("media exceeds size limit")

const defaultTimeout = time.Minute

// Fetcher downloads media over HTTP and caches it on disk by URL.
type Fetcher struct {
	http     *resty.Client
	cacheDir string
	maxSize  int64
	log      zerolog.Logger
}

// NewFetcher creates a fetcher. An empty CacheDir disables the cache and
// a zero MaxSize disables the limit.
func NewFetcher(cfg connector.MediaConfig, log zerolog.Logger) (*Fetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if cfg.CacheDir != "" {
		if err := os.MkdirAll(cfg.CacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create media cache dir: %w", err)
		}
	}
	client := resty.New().SetTimeout(timeout).SetRetryCount(2)
	if cfg.MaxSize > 0 {
		client.SetResponseBodyLimit(int(cfg.MaxSize))
	}
	return &Fetcher{
		http:     client,
		cacheDir: cfg.CacheDir,
		maxSize:  cfg.MaxSize,
		log:      log.With().Str("component", "media").Logger(),
	}, nil
}

// Fetch returns the content of url and its detected MIME type.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if data, ok := f.cached(url); ok {
		return data, mimetype.Detect(data).String(), nil
	}
	resp, err := f.http.R().SetContext(ctx).Get(url)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, "", fmt.Errorf("%w: larger than %s", ErrTooLarge, humanize.Bytes(uint64(f.maxSize)))
	} else if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("failed to download media: unexpected status %d", resp.StatusCode())
	}
	data := resp.Body()
	f.store(url, data)
	mimeType := mimetype.Detect(data).String()
	f.log.Debug().
		Str("mime_type", mimeType).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("Downloaded media")
	return data, mimeType, nil
}

func (f *Fetcher) cachePath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:]))
}

func (f *Fetcher) cached(url string) ([]byte, bool) {
	if f.cacheDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(f.cachePath(url))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *Fetcher) store(url string, data []byte) {
	if f.cacheDir == "" {
		return
	}
	if err := os.WriteFile(f.cachePath(url), data, 0o600); err != nil {
		f.log.Warn().Err(err).Msg("Failed to cache media")
	}
}
