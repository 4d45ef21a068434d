// Package shell keeps the client operable with no network.
//
// It plays the role of a service worker in front of the app shell:
//
//   - Install precaches every manifest asset under the current generation's
//     cache name, all or nothing.
//   - Activate deletes every other generation.
//   - ServeHTTP answers API requests network-first, falling back to a
//     synthesized {"ok":false,"error":"offline"} response, and answers
//     everything else cache-first, filling the cache from the origin on a miss.
//
// API responses are never cached.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cdlta/tracker/internal/config"
	"github.com/cdlta/tracker/internal/metrics"
	"github.com/cdlta/tracker/internal/store"
)

// APIPrefix routes local requests to the remote endpoint.
const APIPrefix = "/api"

// OfflineBody is returned for API requests when the remote is unreachable.
const OfflineBody = `{"ok":false,"error":"offline"}`

const maxAssetBytes = 64 << 20

// hopHeaders are not copied between proxied requests and responses.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Options configures a Shell.
type Options struct {
	Manifest *Manifest
	Cache    *Cache

	// Settings supplies the endpoint base for API requests.
	Settings config.Source

	// HTTPClient is used for origin and API fetches.
	HTTPClient *http.Client

	Logger *log.Logger
}

// Shell is the offline-capable request handler.
type Shell struct {
	manifest *Manifest
	cache    *Cache
	settings config.Source
	client   *http.Client
	logger   *log.Logger

	fills sync.WaitGroup
}

// New returns a Shell.
func New(opts Options) *Shell {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[shell] ", log.LstdFlags)
	}
	return &Shell{
		manifest: opts.Manifest,
		cache:    opts.Cache,
		settings: opts.Settings,
		client:   client,
		logger:   logger,
	}
}

// CacheName is the active cache name.
func (s *Shell) CacheName() string {
	return s.manifest.CacheName()
}

// Install fetches every manifest asset and stores them under the current
// cache name. If any fetch fails nothing is stored.
func (s *Shell) Install(ctx context.Context) error {
	entries := make([]*Entry, 0, len(s.manifest.Assets))
	for _, key := range s.manifest.Assets {
		e, err := s.fetchAsset(ctx, key)
		if err != nil {
			return fmt.Errorf("install %s aborted: %w", s.CacheName(), err)
		}
		if e.Status < 200 || e.Status > 299 {
			return fmt.Errorf("install %s aborted: %s returned HTTP %d", s.CacheName(), key, e.Status)
		}
		entries = append(entries, e)
	}

	if err := s.cache.PutAll(ctx, s.CacheName(), entries); err != nil {
		return fmt.Errorf("install %s aborted: %w", s.CacheName(), err)
	}
	s.logger.Printf("Installed %s (%d assets)", s.CacheName(), len(entries))
	return nil
}

// Activate deletes every cache other than the current one and returns the
// deleted names.
func (s *Shell) Activate(ctx context.Context) ([]string, error) {
	names, err := s.cache.Names(ctx)
	if err != nil {
		return nil, err
	}
	current := s.CacheName()
	deleted := []string{}
	for _, n := range names {
		if n == current {
			continue
		}
		if err := s.cache.Delete(ctx, n); err != nil {
			return deleted, err
		}
		deleted = append(deleted, n)
	}
	if len(deleted) > 0 {
		s.logger.Printf("Activated %s, removed %s", current, strings.Join(deleted, ", "))
	}
	return deleted, nil
}

// Wait blocks until background cache fills have finished.
func (s *Shell) Wait() {
	s.fills.Wait()
}

// ServeHTTP implements http.Handler.
func (s *Shell) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isAPI(r) {
		s.serveAPI(w, r)
		return
	}
	s.serveAsset(w, r)
}

func (s *Shell) isAPI(r *http.Request) bool {
	if r.URL.IsAbs() && s.manifest.IsAPIHost(r.URL.Host) {
		return true
	}
	p := r.URL.Path
	return p == APIPrefix || strings.HasPrefix(p, APIPrefix+"/")
}

// serveAPI forwards to the remote and answers the offline body when the
// remote cannot be reached.
func (s *Shell) serveAPI(w http.ResponseWriter, r *http.Request) {
	target, err := s.apiTarget(r)
	if err != nil {
		s.logger.Printf("API request %s: %v", r.URL.Path, err)
		s.offline(w)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		s.offline(w)
		return
	}
	copyHeader(req.Header, r.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Printf("API request to remote failed: %v", err)
		s.offline(w)
		return
	}
	defer resp.Body.Close()

	metrics.ShellRequests.WithLabelValues("api", "network").Inc()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Shell) apiTarget(r *http.Request) (string, error) {
	if r.URL.IsAbs() {
		return r.URL.String(), nil
	}
	settings, err := s.settings.Load()
	if err != nil {
		return "", err
	}
	if settings.APIBase == "" {
		return "", errors.New("endpoint is not configured")
	}
	target := settings.APIBase
	if r.URL.RawQuery != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.URL.RawQuery
	}
	return target, nil
}

func (s *Shell) offline(w http.ResponseWriter) {
	metrics.ShellRequests.WithLabelValues("api", "offline").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, OfflineBody)
}

// serveAsset answers from the cache, or from the origin on a miss while the
// cache is filled in the background.
func (s *Shell) serveAsset(w http.ResponseWriter, r *http.Request) {
	key := CacheKey(r.URL.RequestURI())
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.passThrough(w, r, key)
		return
	}

	e, err := s.cache.Get(r.Context(), s.CacheName(), key)
	if err == nil {
		metrics.ShellRequests.WithLabelValues("asset", "cache").Inc()
		writeEntry(w, r, e)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.logger.Printf("Cache read for %s failed: %v", key, err)
	}

	e, err = s.fetchAsset(r.Context(), key)
	if err != nil {
		metrics.ShellRequests.WithLabelValues("asset", "unavailable").Inc()
		http.Error(w, "offline and not cached", http.StatusBadGateway)
		return
	}
	metrics.ShellRequests.WithLabelValues("asset", "network").Inc()
	writeEntry(w, r, e)

	if e.Status >= 200 && e.Status <= 299 {
		name := s.CacheName()
		s.fills.Add(1)
		go func() {
			defer s.fills.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.cache.Put(ctx, name, e); err != nil {
				s.logger.Printf("Cache fill for %s failed: %v", e.URL, err)
			}
		}()
	}
}

func (s *Shell) passThrough(w http.ResponseWriter, r *http.Request, key string) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, s.manifest.AssetURL(key), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	copyHeader(req.Header, r.Header)
	resp, err := s.client.Do(req)
	if err != nil {
		http.Error(w, "origin unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Shell) fetchAsset(ctx context.Context, key string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.manifest.AssetURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", key, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Content-Length")
	return &Entry{URL: key, Status: resp.StatusCode, Header: header, Body: body}, nil
}

func writeEntry(w http.ResponseWriter, r *http.Request, e *Entry) {
	copyHeader(w.Header(), e.Header)
	w.WriteHeader(e.Status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.Copy(w, bytes.NewReader(e.Body))
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		skip := false
		for _, h := range hopHeaders {
			if strings.EqualFold(k, h) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
