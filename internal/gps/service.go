package gps

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"paravario/internal/fusion"
	"paravario/internal/sample"
)

// Config controls the position source.
//
// Source is "nmea" (serial receiver, the default) or "gpsd". Device may be
// empty to auto-detect a USB receiver.
type Config struct {
	Source   string
	GPSDAddr string
	Device   string
	Baud     int
}

type Snapshot struct {
	Enabled bool `json:"enabled"`
	Valid   bool `json:"valid"`

	Source   string `json:"source,omitempty"`
	GPSDAddr string `json:"gpsd_addr,omitempty"`
	Device   string `json:"device,omitempty"`
	Baud     int    `json:"baud,omitempty"`

	LatDeg     float64  `json:"lat_deg,omitempty"`
	LonDeg     float64  `json:"lon_deg,omitempty"`
	AltM       *float64 `json:"alt_m,omitempty"`
	SpeedMps   *float64 `json:"speed_mps,omitempty"`
	TrackDeg   *float64 `json:"track_deg,omitempty"`
	FixQuality *int     `json:"fix_quality,omitempty"`
	FixMode    *int     `json:"fix_mode,omitempty"`
	Satellites *int     `json:"satellites,omitempty"`
	HDOP       *float64 `json:"hdop,omitempty"`
	HorizAccM  *float64 `json:"horiz_acc_m,omitempty"`
	VertAccM   *float64 `json:"vert_acc_m,omitempty"`

	Sentences  uint64 `json:"sentences"`
	LastFixUTC string `json:"last_fix_utc,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// Service is a fusion.Source. The receiver is opened on Subscribe and
// released on Unsubscribe.
type Service struct {
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	last      atomic.Value // Snapshot
	sentences atomic.Uint64

	now func() time.Time
}

func New(cfg Config) *Service {
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = "nmea"
	}
	cfg.GPSDAddr = strings.TrimSpace(cfg.GPSDAddr)
	if cfg.Source == "gpsd" && cfg.GPSDAddr == "" {
		cfg.GPSDAddr = gpsdDefaultAddr
	}
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	s := &Service{cfg: cfg, now: time.Now}
	s.last.Store(Snapshot{Source: cfg.Source, GPSDAddr: cfg.GPSDAddr, Device: cfg.Device, Baud: cfg.Baud})
	return s
}

func (s *Service) Name() string { return "gps" }

func (s *Service) Subscribe(ctx context.Context, h fusion.Handler) error {
	if s == nil {
		return errors.New("gps: service is nil")
	}
	if h == nil {
		return errors.New("gps: handler is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	switch s.cfg.Source {
	case "gpsd":
		st := newGPSDState(s.cfg.GPSDAddr)
		log.Printf("gps: enabled source=gpsd addr=%s", s.cfg.GPSDAddr)
		s.spawn(childCtx, s.dialGPSD, func(line string) {
			loc, ok, err := st.applyLine(s.now(), sample.MonotonicNanos(), line)
			if err != nil {
				s.setError(err.Error())
				return
			}
			if ok {
				h(loc)
			}
			s.publish(st.snapshot())
		})
	case "nmea":
		device := strings.TrimSpace(s.cfg.Device)
		if device == "" {
			device = autoDetectDevice()
			if device == "" {
				cancel()
				s.cancel = nil
				s.setErrorLocked("gps auto-detect failed: no serial receiver found")
				return errors.New("gps: auto-detect failed")
			}
		}
		st := &nmeaState{device: device, baud: s.cfg.Baud}
		log.Printf("gps: enabled device=%s baud=%d", device, s.cfg.Baud)
		s.spawn(childCtx, func(context.Context) (io.ReadCloser, error) {
			return openSerial(device, s.cfg.Baud)
		}, func(line string) {
			s.handleNMEA(st, h, line)
		})
	default:
		cancel()
		s.cancel = nil
		return fmt.Errorf("gps: unknown source %q", s.cfg.Source)
	}
	return nil
}

func (s *Service) dialGPSD(ctx context.Context) (io.ReadCloser, error) {
	conn, err := dialGPSD(ctx, s.cfg.GPSDAddr)
	if err != nil {
		return nil, err
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch: %w", err)
	}
	return conn, nil
}

// handleNMEA forwards every raw sentence and any completed fix.
func (s *Service) handleNMEA(st *nmeaState, h fusion.Handler, line string) {
	if !strings.HasPrefix(line, "$") {
		return
	}
	now := s.now()
	s.sentences.Add(1)
	h(sample.NMEA{Time: now, Sentence: line})

	sent, err := nmea.Parse(line)
	if err != nil {
		s.setError(err.Error())
		return
	}
	if loc, ok := st.apply(now, sample.MonotonicNanos(), sent); ok {
		h(loc)
	}
	s.publish(st.snapshot())
}

// spawn runs open+scan with reconnect backoff until ctx is done.
func (s *Service) spawn(ctx context.Context, open func(context.Context) (io.ReadCloser, error), onLine func(string)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := 250 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for {
			if ctx.Err() != nil {
				return
			}
			rc, err := open(ctx)
			if err != nil {
				s.setError(fmt.Sprintf("gps open failed: %v", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
				continue
			}
			backoff = 250 * time.Millisecond

			// Closing the reader is what unblocks a pending Scan on cancel.
			stop := context.AfterFunc(ctx, func() { _ = rc.Close() })

			scanner := bufio.NewScanner(rc)
			scanner.Buffer(make([]byte, 0, 4096), 256*1024)
			for scanner.Scan() {
				if ctx.Err() != nil {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				onLine(line)
			}
			err = scanner.Err()
			if err == nil {
				err = io.EOF
			}
			stop()
			_ = rc.Close()
			if ctx.Err() != nil {
				return
			}
			s.setError(fmt.Sprintf("gps read stopped: %v", err))
		}
	}()
}

// Unsubscribe stops reading and waits for the reader goroutine.
func (s *Service) Unsubscribe() {
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

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap, _ := s.last.Load().(Snapshot)
	s.mu.Lock()
	snap.Enabled = s.cancel != nil
	s.mu.Unlock()
	snap.Sentences = s.sentences.Load()
	return snap
}

func (s *Service) publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _ := s.last.Load().(Snapshot)
	snap.LastError = prev.LastError
	s.last.Store(snap)
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErrorLocked(msg)
}

func (s *Service) setErrorLocked(msg string) {
	cur, _ := s.last.Load().(Snapshot)
	cur.LastError = msg
	s.last.Store(cur)
}
