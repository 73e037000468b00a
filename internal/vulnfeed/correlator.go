package vulnfeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/stone-age-io/hostscan/internal/config"
	"github.com/stone-age-io/hostscan/internal/probe"
	"go.uber.org/zap"
)

// Result is the outcome of one correlation run
type Result struct {
	Matches  []Match   `json:"matches" yaml:"matches"`
	Failures []Failure `json:"failures" yaml:"failures"`
}

// CountBySource returns the number of matches per feed
func (r Result) CountBySource() map[string]int {
	counts := make(map[string]int)
	for _, m := range r.Matches {
		counts[m.Source]++
	}
	return counts
}

// Correlator checks software against every configured feed
type Correlator struct {
	feeds   []Feed
	mode    MatchMode
	timeout time.Duration
	logger  *zap.Logger
}

// NewCorrelator creates a correlator over feeds. timeout bounds each fetch
// separately.
func NewCorrelator(feeds []Feed, mode MatchMode, timeout time.Duration, logger *zap.Logger) *Correlator {
	if mode == "" {
		mode = MatchSubstring
	}
	return &Correlator{feeds: feeds, mode: mode, timeout: timeout, logger: logger}
}

// NewCorrelatorFromConfig builds HTTP feeds for every enabled source, in
// configured order. cache may be nil.
func NewCorrelatorFromConfig(cfg config.FeedsConfig, cache Cache, logger *zap.Logger) (*Correlator, error) {
	mode, err := ParseMatchMode(cfg.MatchMode)
	if err != nil {
		return nil, err
	}

	client := createHTTPClient()
	var feeds []Feed
	if cfg.Enabled {
		for _, src := range cfg.Sources {
			if !src.Enabled {
				continue
			}
			feed, err := NewFeed(src, client, logger)
			if err != nil {
				return nil, err
			}
			if cache != nil {
				feed.WithCache(cache, cfg.CacheTTL)
			}
			feeds = append(feeds, feed)
		}
	}
	return NewCorrelator(feeds, mode, cfg.Timeout, logger), nil
}

type fetchOutcome struct {
	advisories []Advisory
	err        error
}

// Correlate fetches all feeds concurrently and matches software against
// them. A failing feed is recorded and skipped; it never fails the call.
// With no software no feed is contacted.
func (c *Correlator) Correlate(ctx context.Context, software []probe.Software) Result {
	result := Result{Matches: []Match{}, Failures: []Failure{}}
	if len(software) == 0 || len(c.feeds) == 0 {
		return result
	}

	outcomes := make([]fetchOutcome, len(c.feeds))
	p := pool.New().WithMaxGoroutines(len(c.feeds))
	for i, feed := range c.feeds {
		p.Go(func() {
			outcomes[i] = c.fetch(ctx, feed)
		})
	}
	p.Wait()

	names := make([]string, len(software))
	for i, sw := range software {
		names[i] = strings.ToLower(sw.Name)
	}

	for i, feed := range c.feeds {
		out := outcomes[i]
		if out.err != nil {
			c.logger.Warn("Failed to fetch vulnerability feed, skipping",
				zap.String("feed", feed.Name()),
				zap.Error(out.err))
			result.Failures = append(result.Failures, Failure{Source: feed.Name(), Error: out.err.Error()})
			continue
		}

		fields := make([]string, len(out.advisories))
		for j, adv := range out.advisories {
			fields[j] = strings.ToLower(adv.Field)
		}

		before := len(result.Matches)
		for si, sw := range software {
			for j, adv := range out.advisories {
				if c.mode.matches(names[si], fields[j]) {
					result.Matches = append(result.Matches, Match{
						Name:          sw.Name,
						Version:       sw.Version,
						Vulnerability: adv.ID,
						Source:        feed.Name(),
					})
				}
			}
		}

		c.logger.Info("Correlated vulnerability feed",
			zap.String("feed", feed.Name()),
			zap.Int("advisories", len(out.advisories)),
			zap.Int("matches", len(result.Matches)-before))
	}

	return result
}

// fetch runs one feed inside its own timeout and panic boundary
func (c *Correlator) fetch(ctx context.Context, feed Feed) (out fetchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = fetchOutcome{err: fmt.Errorf("feed %s panicked: %v", feed.Name(), r)}
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	advisories, err := feed.Fetch(ctx)
	return fetchOutcome{advisories: advisories, err: err}
}
