package replay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"paravario/internal/fusion"
	"paravario/internal/sample"
)

type SourceConfig struct {
	Path  string
	Speed float64
	Loop  bool
}

// Source plays a pressure log into the fusion pipeline. Timestamps are
// rebased onto the monotonic clock at subscribe time and keep increasing
// across loops, so the estimator never sees time run backwards.
type Source struct {
	cfg SourceConfig

	clock   func() int64
	sleeper func(ctx context.Context) Sleeper

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	played uint64
	err    error
}

func NewSource(cfg SourceConfig) *Source {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &Source{cfg: cfg, clock: sample.MonotonicNanos, sleeper: newCtxSleeper}
}

func (s *Source) Name() string { return "replay" }

func (s *Source) Subscribe(ctx context.Context, h fusion.Handler) error {
	if s == nil {
		return errors.New("replay: source is nil")
	}
	if h == nil {
		return errors.New("replay: handler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	recs, err := ReadFile(s.cfg.Path)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("replay: %s has no records", s.cfg.Path)
	}

	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.err = nil
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.play(childCtx, recs, h)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("replay: playback stopped path=%s err=%v", s.cfg.Path, err)
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	log.Printf("replay: playing path=%s records=%d speed=%v loop=%v", s.cfg.Path, len(recs), s.cfg.Speed, s.cfg.Loop)
	return nil
}

func (s *Source) play(ctx context.Context, recs []Record, h fusion.Handler) error {
	base := s.clock()
	first := recs[0].TimestampNanos
	var offset, last int64
	return Play(recs, s.cfg.Speed, s.cfg.Loop, s.sleeper(ctx), func(r Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ts := base + offset + (r.TimestampNanos - first)
		if ts <= last {
			// Loop restart or a backwards step: continue just after the last one.
			offset += last - ts + 1
			ts = last + 1
		}
		last = ts
		p := r.Sample()
		p.TimestampNanos = ts
		h(p)
		s.mu.Lock()
		s.played++
		s.mu.Unlock()
		return nil
	})
}

func (s *Source) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Played reports how many records have been delivered so far.
func (s *Source) Played() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// ctxSleeper wakes early when ctx is done; the next callback then sees the
// cancellation.
type ctxSleeper struct{ ctx context.Context }

func newCtxSleeper(ctx context.Context) Sleeper { return ctxSleeper{ctx: ctx} }

func (c ctxSleeper) Sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
	case <-t.C:
	}
}
