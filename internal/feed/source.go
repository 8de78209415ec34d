// Package feed receives samples from a companion device (phone or watch
// bridge) streaming newline-delimited JSON over TCP.
//
// Each line is one object with a "type" of heart_rate, pressure, location,
// inertial or nmea, for example:
//
//	{"type":"heart_rate","bpm":92}
//	{"type":"location","lat":46.1,"lon":7.9,"alt_m":1820,"vertical_accuracy_m":4}
//	{"type":"inertial","kind":"gravity","xyz":[0,0,9.81]}
//
// Pressure records are only forwarded when Config.Pressure is set.
package feed

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"paravario/internal/fusion"
	"paravario/internal/sample"
)

type Config struct {
	Addr           string
	ReconnectDelay time.Duration
	// Pressure forwards pressure records. Off by default so a companion
	// barometer never feeds the estimator alongside a local one.
	Pressure       bool
}

type Snapshot struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`

	// SkippedPressure counts pressure records ignored while Pressure is off.
	SkippedPressure uint64 `json:"skipped_pressure,omitempty"`
}

// Source is a fusion.Source; it holds a connection only while subscribed.
type Source struct {
	cfg Config

	clock func() int64
	now   func() time.Time

	mu    sync.Mutex
	cur   *client
	last  Snapshot
	lines uint64
	drops uint64

	skipped atomic.Uint64
}

func NewSource(cfg Config) (*Source, error) {
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, errors.New("feed: addr is required")
	}
	return &Source{cfg: cfg, clock: sample.MonotonicNanos, now: time.Now, last: Snapshot{Addr: cfg.Addr, State: "stopped"}}, nil
}

func (s *Source) Name() string { return "feed" }

func (s *Source) Subscribe(ctx context.Context, h fusion.Handler) error {
	if s == nil {
		return errors.New("feed: source is nil")
	}
	if h == nil {
		return errors.New("feed: handler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil
	}
	c := newClient(clientConfig{Addr: s.cfg.Addr, ReconnectDelay: s.cfg.ReconnectDelay})
	c.start(ctx, func(line []byte) error {
		smp, err := decode(line, s.now(), s.clock())
		if err != nil {
			return err
		}
		if _, ok := smp.(sample.Pressure); ok && !s.cfg.Pressure {
			s.skipped.Add(1)
			return nil
		}
		h(smp)
		return nil
	})
	s.cur = c
	log.Printf("feed: connecting addr=%s", s.cfg.Addr)
	return nil
}

func (s *Source) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	c := s.cur
	s.cur = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.close()

	snap := c.snapshot(s.cfg.Addr)
	s.mu.Lock()
	s.lines += snap.Lines
	s.drops += snap.Dropped
	s.last = snap
	s.mu.Unlock()
	log.Printf("feed: stopped addr=%s lines=%d dropped=%d", s.cfg.Addr, snap.Lines, snap.Dropped)
}

// Snapshot reports the live connection, or the last one if unsubscribed.
// Line counters accumulate across subscriptions.
func (s *Source) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	c := s.cur
	out := s.last
	lines, drops := s.lines, s.drops
	s.mu.Unlock()
	if c != nil {
		out = c.snapshot(s.cfg.Addr)
	} else {
		out.Lines, out.Dropped = 0, 0
	}
	out.Lines += lines
	out.Dropped += drops
	out.SkippedPressure = s.skipped.Load()
	return out
}

func (c *client) snapshot(addr string) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := Snapshot{Addr: addr, State: c.state, LastError: c.lastErr, Lines: c.lines, Dropped: c.dropped}
	if !c.lastSeen.IsZero() {
		out.LastSeenUTC = c.lastSeen.Format(time.RFC3339Nano)
	}
	return out
}
