// Package button toggles recording from a push button wired to a GPIO
// line (pulled up, pressed pulls low).
package button

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"paravario/internal/fusion"
)

// Recorder is the part of the fusion manager a button drives.
type Recorder interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Status() fusion.Status
}

type Config struct {
	// Pin is the BCM GPIO number.
	Pin      int
	Debounce time.Duration
	// HoldOff ignores presses this soon after an accepted one.
	HoldOff time.Duration
}

// Button turns presses into recording toggles.
type Button struct {
	cfg  Config
	rec  Recorder
	open func(pin int, debounce time.Duration, onPress func(time.Time)) (io.Closer, error)
}

func New(cfg Config, rec Recorder) (*Button, error) {
	if rec == nil {
		return nil, errors.New("button: recorder is nil")
	}
	if cfg.Pin <= 0 {
		return nil, fmt.Errorf("button: invalid gpio pin %d", cfg.Pin)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	if cfg.HoldOff <= 0 {
		cfg.HoldOff = time.Second
	}
	return &Button{cfg: cfg, rec: rec, open: openLine}, nil
}

// Run watches the line until ctx is done.
func (b *Button) Run(ctx context.Context) error {
	presses := make(chan time.Time, 4)
	line, err := b.open(b.cfg.Pin, b.cfg.Debounce, func(at time.Time) {
		select {
		case presses <- at:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer line.Close()
	log.Printf("button: watching gpio=%d", b.cfg.Pin)

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case at := <-presses:
			if !last.IsZero() && at.Sub(last) < b.cfg.HoldOff {
				continue
			}
			last = at
			b.toggle(ctx)
		}
	}
}

func (b *Button) toggle(ctx context.Context) {
	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if b.rec.Status().Recording {
		if err := b.rec.StopRecording(actx); err != nil {
			log.Printf("button: stop recording failed err=%v", err)
			return
		}
		log.Printf("button: recording stopped")
		return
	}
	if err := b.rec.StartRecording(actx); err != nil {
		log.Printf("button: start recording failed err=%v", err)
		return
	}
	log.Printf("button: recording started")
}
