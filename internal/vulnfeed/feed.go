// Package vulnfeed fetches advisory feeds and correlates installed software
// against them by name.
package vulnfeed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/stone-age-io/hostscan/internal/config"
	"go.uber.org/zap"
)

// maxFeedSize caps how much of a feed body is read
const maxFeedSize = 256 * 1024 * 1024

// Advisory is one record of a feed reduced to the field software names are
// matched against and the vulnerability identifier it reports
type Advisory struct {
	Field string
	ID    string
}

// Feed is one advisory source
type Feed interface {
	Name() string
	Fetch(ctx context.Context) ([]Advisory, error)
}

// Cache keeps raw feed payloads between runs
type Cache interface {
	GetFeed(name string) (data []byte, fetchedAt time.Time, ok bool, err error)
	PutFeed(name string, data []byte, fetchedAt time.Time) error
}

// parseFunc turns a raw payload into advisories
type parseFunc func(data []byte) ([]Advisory, error)

// HTTPFeed downloads a JSON payload over HTTP GET and parses it with the
// schema of the named source
type HTTPFeed struct {
	name       string
	url        string
	parse      parseFunc
	httpClient *http.Client
	cache      Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// NewFeed builds the feed adapter for a configured source
func NewFeed(src config.FeedSource, client *http.Client, logger *zap.Logger) (*HTTPFeed, error) {
	var parse parseFunc
	switch src.Name {
	case config.FeedCISAKEV:
		parse = parseKEV
	case config.FeedNVD:
		parse = parseNVD
	case config.FeedCVEDetails:
		parse = parseCVEDetails
	default:
		return nil, fmt.Errorf("unknown feed %q", src.Name)
	}
	if client == nil {
		client = createHTTPClient()
	}
	return &HTTPFeed{
		name:       src.Name,
		url:        src.URL,
		parse:      parse,
		httpClient: client,
		logger:     logger,
	}, nil
}

// WithCache makes the feed reuse payloads younger than ttl
func (f *HTTPFeed) WithCache(cache Cache, ttl time.Duration) *HTTPFeed {
	f.cache = cache
	f.cacheTTL = ttl
	return f
}

// Name returns the source name used in matches and failures
func (f *HTTPFeed) Name() string {
	return f.name
}

// Fetch returns the current advisories. A fresh cached payload is used when
// available; a stale one is never used in place of a failed download.
func (f *HTTPFeed) Fetch(ctx context.Context) ([]Advisory, error) {
	if data, ok := f.cached(); ok {
		advisories, err := f.parse(data)
		if err == nil {
			f.logger.Debug("Using cached feed",
				zap.String("feed", f.name),
				zap.Int("advisories", len(advisories)))
			return advisories, nil
		}
		f.logger.Debug("Cached feed unreadable, downloading",
			zap.String("feed", f.name),
			zap.Error(err))
	}

	data, err := f.download(ctx)
	if err != nil {
		return nil, err
	}
	advisories, err := f.parse(data)
	if err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", f.name, err)
	}

	if f.cache != nil {
		if err := f.cache.PutFeed(f.name, data, time.Now().UTC()); err != nil {
			f.logger.Warn("Failed to cache feed", zap.String("feed", f.name), zap.Error(err))
		}
	}
	return advisories, nil
}

func (f *HTTPFeed) cached() ([]byte, bool) {
	if f.cache == nil || f.cacheTTL <= 0 {
		return nil, false
	}
	data, fetchedAt, ok, err := f.cache.GetFeed(f.name)
	if err != nil {
		f.logger.Warn("Failed to read feed cache", zap.String("feed", f.name), zap.Error(err))
		return nil, false
	}
	if !ok || time.Since(fetchedAt) > f.cacheTTL {
		return nil, false
	}
	return data, true
}

func (f *HTTPFeed) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "hostscan/1.0")
	req.Header.Set("Accept", "application/json")

	f.logger.Debug("Fetching feed", zap.String("feed", f.name), zap.String("url", f.url))

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("feed fetch timed out: %w", err)
		}
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed body: %w", err)
	}
	return data, nil
}

// createHTTPClient creates an HTTP client for feed downloads. The overall
// deadline comes from the per-feed context.
func createHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:       10 * time.Second,
				KeepAlive:     30 * time.Second,
				FallbackDelay: 300 * time.Millisecond,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
