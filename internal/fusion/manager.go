// Package fusion multiplexes sensor sources into the pressure filter, the
// recording session and a single display sink.
package fusion

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"paravario/internal/display"
	"paravario/internal/kalman"
	"paravario/internal/sample"
	"paravario/internal/session"
)

// Handler receives samples on the source's own goroutine.
type Handler func(sample.Sample)

// Source delivers samples between Subscribe and Unsubscribe.
type Source interface {
	Name() string
	Subscribe(ctx context.Context, h Handler) error
	Unsubscribe()
}

// Host keeps the process in the foreground while a session records.
type Host interface {
	Start()
	Stop()
}

type Config struct {
	Sources []Source
	Session *session.Controller
	Host    Host

	// StartInactive leaves sources unsubscribed until
	// SetSubscriptionActive(true) or StartRecording.
	StartInactive bool
	// FlushInterval is how often session logs are flushed. Default 2s.
	FlushInterval time.Duration
}

type Status struct {
	Recording              bool          `json:"recording"`
	Session                *session.Info `json:"session,omitempty"`
	SubscriptionsActive    bool          `json:"subscriptions_active"`
	SubscriptionsRequested bool          `json:"subscriptions_requested"`
	Sources                []string      `json:"sources"`
	FailedSources          []string      `json:"failed_sources,omitempty"`
	Filter                 kalman.State  `json:"filter"`
	VerticalSpeedMps       float64       `json:"vertical_speed_mps"`
	Accepted               uint64        `json:"accepted"`
	Rejected               uint64        `json:"rejected"`
	OutOfOrder             uint64        `json:"out_of_order"`
	LastError              string        `json:"last_error,omitempty"`
}

type op int

const (
	opStart op = iota
	opStop
	opSetActive
)

type request struct {
	op     op
	active bool
	done   chan error
}

type Manager struct {
	sources []Source
	sess    *session.Controller
	host    Host
	filter  *kalman.Filter
	flush   time.Duration

	sinkMu sync.RWMutex
	sink   display.Sink

	reqCh   chan request
	kickCh  chan struct{}
	running atomic.Bool

	// subscribed and subErr are indexed like sources. Only the Run loop
	// writes them.
	mu         sync.Mutex
	requested  bool
	subscribed []bool
	subErr     []string
	lastErr    string

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	outOfOrder atomic.Uint64
}

func New(cfg Config) (*Manager, error) {
	if cfg.Session == nil {
		return nil, errors.New("fusion: session controller is required")
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	m := &Manager{
		sources:   cfg.Sources,
		sess:      cfg.Session,
		host:      cfg.Host,
		filter:    kalman.New(),
		flush:     cfg.FlushInterval,
		reqCh:     make(chan request),
		kickCh:    make(chan struct{}, 1),
		requested: !cfg.StartInactive,

		subscribed: make([]bool, len(cfg.Sources)),
		subErr:     make([]string, len(cfg.Sources)),
	}
	cfg.Session.AddObserver(observer{m})
	return m, nil
}

// Run is the session-management loop. Start, stop and subscription changes
// are applied here, one at a time. On return recording is stopped and all
// sources are unsubscribed.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return errors.New("fusion: manager is nil")
	}
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("fusion: manager already running")
	}
	defer m.running.Store(false)

	m.reconcile(ctx)
	tick := time.NewTicker(m.flush)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, _, err := m.sess.Stop(); err != nil {
				log.Printf("fusion: stop on shutdown err=%v", err)
			}
			m.unsubscribeAll()
			return nil
		case req := <-m.reqCh:
			req.done <- m.apply(ctx, req)
		case <-m.kickCh:
			m.reconcile(ctx)
		case <-tick.C:
			if err := m.sess.Flush(); err != nil {
				log.Printf("fusion: flush failed err=%v", err)
			}
			// Retries sources whose Subscribe failed, e.g. a sensor not
			// ready at boot.
			m.reconcile(ctx)
		}
	}
}

func (m *Manager) submit(ctx context.Context, req request) error {
	req.done = make(chan error, 1)
	select {
	case m.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) StartRecording(ctx context.Context) error {
	return m.submit(ctx, request{op: opStart})
}

func (m *Manager) StopRecording(ctx context.Context) error {
	return m.submit(ctx, request{op: opStop})
}

// SetSubscriptionActive turns source subscriptions on or off. While
// recording the change is not applied; it takes effect when recording
// stops.
func (m *Manager) SetSubscriptionActive(ctx context.Context, active bool) error {
	return m.submit(ctx, request{op: opSetActive, active: active})
}

func (m *Manager) apply(ctx context.Context, req request) error {
	switch req.op {
	case opStart:
		if _, err := m.sess.Start(); err != nil {
			m.setErr(err)
			return err
		}
	case opStop:
		if _, _, err := m.sess.Stop(); err != nil {
			m.setErr(err)
			m.reconcile(ctx)
			return err
		}
	case opSetActive:
		m.mu.Lock()
		m.requested = req.active
		m.mu.Unlock()
		if m.sess.Recording() {
			log.Printf("fusion: subscription change ignored while recording active=%v", req.active)
			return nil
		}
	}
	m.reconcile(ctx)
	return nil
}

// reconcile subscribes or unsubscribes so that sources are active exactly
// when requested or recording. Sources that failed to subscribe are tried
// again on every call.
func (m *Manager) reconcile(ctx context.Context) {
	m.mu.Lock()
	want := m.requested || m.sess.Recording()
	var active, missing, failed bool
	for i, ok := range m.subscribed {
		if ok {
			active = true
		} else {
			missing = true
			failed = failed || m.subErr[i] != ""
		}
	}
	m.mu.Unlock()

	switch {
	case want && missing:
		m.subscribeAll(ctx)
	case !want && (active || failed):
		m.unsubscribeAll()
	}
}

func (m *Manager) subscribeAll(ctx context.Context) {
	for i, src := range m.sources {
		m.mu.Lock()
		done := m.subscribed[i]
		m.mu.Unlock()
		if done {
			continue
		}
		err := src.Subscribe(ctx, m.Handle)

		m.mu.Lock()
		if err != nil {
			msg := err.Error()
			if m.subErr[i] != msg {
				log.Printf("fusion: subscribe failed source=%s err=%v", src.Name(), err)
			}
			m.subErr[i] = msg
			m.lastErr = msg
			m.mu.Unlock()
			continue
		}
		m.subscribed[i] = true
		m.subErr[i] = ""
		m.mu.Unlock()
		log.Printf("fusion: subscribed source=%s", src.Name())
	}
}

func (m *Manager) unsubscribeAll() {
	m.mu.Lock()
	for i := range m.subscribed {
		m.subscribed[i] = false
		m.subErr[i] = ""
	}
	m.mu.Unlock()
	for _, src := range m.sources {
		src.Unsubscribe()
	}
	log.Printf("fusion: unsubscribed sources=%d", len(m.sources))
}

func (m *Manager) kick() {
	select {
	case m.kickCh <- struct{}{}:
	default:
	}
}

// SetListener registers s as the only display sink and immediately tells
// it whether a session is recording.
func (m *Manager) SetListener(s display.Sink) {
	m.sinkMu.Lock()
	m.sink = s
	m.sinkMu.Unlock()
	if s != nil {
		s.OnRecordingChanged(m.sess.Recording())
	}
}

func (m *Manager) ClearListener() {
	m.sinkMu.Lock()
	m.sink = nil
	m.sinkMu.Unlock()
}

func (m *Manager) listener() display.Sink {
	m.sinkMu.RLock()
	defer m.sinkMu.RUnlock()
	return m.sink
}

// Handle routes one sample. Sources call it concurrently.
func (m *Manager) Handle(s sample.Sample) {
	if s == nil {
		return
	}
	if err := s.Validate(); err != nil {
		n := m.rejected.Add(1)
		if n == 1 || n%100 == 0 {
			log.Printf("fusion: sample rejected count=%d err=%v", n, err)
		}
		return
	}
	m.accepted.Add(1)

	if err := m.sess.Record(s); err != nil {
		log.Printf("fusion: record failed err=%v", err)
		m.setErr(err)
	}

	switch v := s.(type) {
	case sample.Pressure:
		est, err := m.filter.OnNewMeasure(v.TimestampNanos, v.HPa)
		if err != nil {
			n := m.outOfOrder.Add(1)
			if n == 1 || n%100 == 0 {
				log.Printf("fusion: pressure sample out of order count=%d ts=%d", n, v.TimestampNanos)
			}
			return
		}
		if sink := m.listener(); sink != nil {
			sink.OnPressure(est.Pressure)
			sink.OnVerticalSpeed(est.VerticalSpeed)
		}
	case sample.Location:
		sink := m.listener()
		if sink == nil {
			return
		}
		if v.HasAltitude && v.HasVerticalAccuracy {
			sink.OnElevation(v.Altitude)
		}
		if v.HasSpeed {
			sink.OnHorizontalSpeed(v.Speed)
		}
	case sample.HeartRate, sample.Inertial, sample.NMEA:
		// Logged only.
	}
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *Manager) Status() Status {
	st := Status{
		Recording:        m.sess.Recording(),
		Filter:           m.filter.Snapshot(),
		VerticalSpeedMps: m.filter.VerticalSpeed(),
		Accepted:         m.accepted.Load(),
		Rejected:         m.rejected.Load(),
		OutOfOrder:       m.outOfOrder.Load(),
	}
	if info, ok := m.sess.Info(); ok {
		st.Session = &info
	}
	for _, src := range m.sources {
		st.Sources = append(st.Sources, src.Name())
	}
	m.mu.Lock()
	for i, ok := range m.subscribed {
		if ok {
			st.SubscriptionsActive = true
		} else if m.subErr[i] != "" {
			st.FailedSources = append(st.FailedSources, m.sources[i].Name())
		}
	}
	st.SubscriptionsRequested = m.requested
	st.LastError = m.lastErr
	m.mu.Unlock()
	return st
}

// observer forwards session transitions to the sink and host. Subscription
// changes are left to the Run loop.
type observer struct{ m *Manager }

func (o observer) SessionStarted(session.Info) {
	if sink := o.m.listener(); sink != nil {
		sink.OnRecordingChanged(true)
	}
	if o.m.host != nil {
		o.m.host.Start()
	}
}

func (o observer) SessionStopped(sum session.Summary) {
	if sum.Err != nil {
		o.m.setErr(sum.Err)
	}
	if sink := o.m.listener(); sink != nil {
		sink.OnRecordingChanged(false)
	}
	if o.m.host != nil {
		o.m.host.Stop()
	}
	o.m.kick()
}
