// Copyright 2024-2026 Aiku AI

package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/q2tg/pkg/connector"
)

// 1x1 transparent GIF.
var gifData = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

func newServer(t *testing.T, body []byte, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDetectsMIME(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := newServer(t, gifData, &hits)
	f, err := NewFetcher(connector.MediaConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	data, mimeType, err := f.Fetch(context.Background(), srv.URL+"/a")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if mimeType != "image/gif" {
		t.Errorf("mime type = %q, want image/gif", mimeType)
	}
	if len(data) != len(gifData) {
		t.Errorf("got %d bytes, want %d", len(data), len(gifData))
	}
}

func TestFetchCache(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := newServer(t, gifData, &hits)
	f, err := NewFetcher(connector.MediaConfig{CacheDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, _, err = f.Fetch(context.Background(), srv.URL+"/a"); err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := newServer(t, gifData, &hits)
	f, err := NewFetcher(connector.MediaConfig{MaxSize: 10}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err = f.Fetch(context.Background(), srv.URL+"/a"); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Fetch(large) error = %v, want ErrTooLarge", err)
	}
	if _, _, err = f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("Fetch(missing) succeeded, want error")
	}
}

func TestFetchStopsAtSizeLimit(t *testing.T) {
	t.Parallel()
	const limit = 64 * 1024
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		size := limit
		if r.URL.Path == "/large" {
			size = 16 * limit
		}
		// Stream without a Content-Length.
		chunk := []byte(strings.Repeat("x", 4096))
		for written := 0; written < size; written += len(chunk) {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	f, err := NewFetcher(connector.MediaConfig{MaxSize: limit}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	data, _, err := f.Fetch(context.Background(), srv.URL+"/exact")
	if err != nil {
		t.Fatalf("Fetch(exact) error = %v", err)
	}
	if len(data) != limit {
		t.Errorf("Fetch(exact) got %d bytes, want %d", len(data), limit)
	}
	_, _, err = f.Fetch(context.Background(), srv.URL+"/large")
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("Fetch(large) error = %v, want ErrTooLarge", err)
	}
}
