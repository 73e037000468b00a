// Package portscan probes TCP ports on a single target and reports which
// of them accept connections.
package portscan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the observed state of a port
type State string

const (
	// StateOpen means the target answered the probe with SYN+ACK
	StateOpen State = "open"
	// StateClosed covers both an RST answer and no answer at all
	StateClosed State = "closed"
)

// Result is the outcome for one port
type Result struct {
	Port  uint16 `json:"port" yaml:"port"`
	State State  `json:"state" yaml:"state"`
}

// Prober tests a single port
type Prober interface {
	Probe(ctx context.Context, target net.IP, port uint16, timeout time.Duration) (State, error)
}

// Scanner fans port probes out over a bounded pool of workers
type Scanner struct {
	prober  Prober
	workers int
	logger  *zap.Logger
}

// NewScanner creates a scanner running at most workers probes at once
func NewScanner(prober Prober, workers int, logger *zap.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{prober: prober, workers: workers, logger: logger}
}

// Scan probes every port once and returns one result per distinct port,
// ordered by port number. When ctx is cancelled, ports already probed are
// returned together with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, target net.IP, ports []uint16, timeout time.Duration) ([]Result, error) {
	if target.To4() == nil {
		return nil, fmt.Errorf("target %s is not an IPv4 address", target)
	}

	unique := dedupe(ports)

	s.logger.Info("Starting port scan",
		zap.String("target", target.String()),
		zap.Int("ports", len(unique)),
		zap.Int("workers", s.workers),
		zap.Duration("timeout", timeout))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[uint16]State, len(unique))
		sem     = make(chan struct{}, s.workers)
	)

dispatch:
	for _, port := range unique {
		select {
		case <-ctx.Done():
			break dispatch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(port uint16) {
			defer wg.Done()
			defer func() { <-sem }()

			state, err := s.prober.Probe(ctx, target, port, timeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Debug("Probe failed, reporting port as closed",
					zap.Uint16("port", port),
					zap.Error(err))
				state = StateClosed
			}

			mu.Lock()
			results[port] = state
			mu.Unlock()
		}(port)
	}
	wg.Wait()

	out := make([]Result, 0, len(results))
	for port, state := range results {
		out = append(out, Result{Port: port, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })

	if err := ctx.Err(); err != nil {
		s.logger.Warn("Port scan interrupted",
			zap.Int("probed", len(out)),
			zap.Int("requested", len(unique)))
		return out, err
	}

	s.logger.Info("Port scan complete",
		zap.Int("open", len(OpenPorts(out))),
		zap.Int("probed", len(out)))
	return out, nil
}

// OpenPorts filters results down to the open ones
func OpenPorts(results []Result) []Result {
	open := []Result{}
	for _, r := range results {
		if r.State == StateOpen {
			open = append(open, r)
		}
	}
	return open
}

func dedupe(ports []uint16) []uint16 {
	seen := make(map[uint16]bool, len(ports))
	unique := make([]uint16, 0, len(ports))
	for _, p := range ports {
		if !seen[p] {
			seen[p] = true
			unique = append(unique, p)
		}
	}
	return unique
}

// ParsePorts parses a port list such as "22,80,8000-8100"
func ParsePorts(expr string) ([]uint16, error) {
	var ports []uint16
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parsePort(hi); err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("invalid port range %q", part)
			}
		}
		for p := int(start); p <= int(end); p++ {
			ports = append(ports, uint16(p))
		}
	}
	if len(ports) == 0 {
		return nil, errors.New("no ports specified")
	}
	return ports, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// PortsFromInts converts configured port numbers, dropping out-of-range values
func PortsFromInts(in []int) []uint16 {
	out := make([]uint16, 0, len(in))
	for _, p := range in {
		if p >= 1 && p <= 65535 {
			out = append(out, uint16(p))
		}
	}
	return out
}
