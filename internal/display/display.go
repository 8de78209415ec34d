// Package display carries derived quantities to whatever shows them.
package display

import (
	"sync"
	"time"
)

// Sink receives derived-quantity notifications. Implementations must be
// safe for concurrent use; callbacks arrive on sensor goroutines.
type Sink interface {
	OnRecordingChanged(recording bool)
	OnHorizontalSpeed(mps float64)
	OnElevation(meters float64)
	OnPressure(hpa float64)
	OnVerticalSpeed(mps float64)
}

type Kind string

const (
	KindRecording       Kind = "recording"
	KindHorizontalSpeed Kind = "horizontal_speed"
	KindElevation       Kind = "elevation"
	KindPressure        Kind = "pressure"
	KindVerticalSpeed   Kind = "vertical_speed"
)

// Event is the wire form of one notification. Value and Recording are
// always encoded: zero is a real reading and false a real state.
type Event struct {
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Recording bool      `json:"recording"`
	At        time.Time `json:"at"`
}

// Emitter turns Sink callbacks into Events.
type Emitter struct {
	Emit func(Event)
	// Now defaults to time.Now.
	Now func() time.Time
}

func (e Emitter) send(ev Event) {
	if e.Emit == nil {
		return
	}
	if e.Now != nil {
		ev.At = e.Now()
	} else {
		ev.At = time.Now().UTC()
	}
	e.Emit(ev)
}

func (e Emitter) OnRecordingChanged(recording bool) {
	e.send(Event{Kind: KindRecording, Recording: recording})
}
func (e Emitter) OnHorizontalSpeed(v float64) { e.send(Event{Kind: KindHorizontalSpeed, Value: v}) }
func (e Emitter) OnElevation(v float64)       { e.send(Event{Kind: KindElevation, Value: v}) }
func (e Emitter) OnPressure(v float64)        { e.send(Event{Kind: KindPressure, Value: v}) }
func (e Emitter) OnVerticalSpeed(v float64)   { e.send(Event{Kind: KindVerticalSpeed, Value: v}) }

// Fanout forwards every callback to each non-nil sink in order.
type Fanout []Sink

func (f Fanout) OnRecordingChanged(r bool) {
	for _, s := range f {
		if s != nil {
			s.OnRecordingChanged(r)
		}
	}
}

func (f Fanout) OnHorizontalSpeed(v float64) {
	for _, s := range f {
		if s != nil {
			s.OnHorizontalSpeed(v)
		}
	}
}

func (f Fanout) OnElevation(v float64) {
	for _, s := range f {
		if s != nil {
			s.OnElevation(v)
		}
	}
}

func (f Fanout) OnPressure(v float64) {
	for _, s := range f {
		if s != nil {
			s.OnPressure(v)
		}
	}
}

func (f Fanout) OnVerticalSpeed(v float64) {
	for _, s := range f {
		if s != nil {
			s.OnVerticalSpeed(v)
		}
	}
}

// Values is the most recent value of each quantity. Valid flags stay
// false until the first notification.
type Values struct {
	Recording bool `json:"recording"`

	PressureHPa   float64 `json:"pressure_hpa"`
	PressureValid bool    `json:"pressure_valid"`

	VerticalSpeedMps   float64 `json:"vertical_speed_mps"`
	VerticalSpeedValid bool    `json:"vertical_speed_valid"`

	HorizontalSpeedMps   float64 `json:"horizontal_speed_mps"`
	HorizontalSpeedValid bool    `json:"horizontal_speed_valid"`

	ElevationM     float64 `json:"elevation_m"`
	ElevationValid bool    `json:"elevation_valid"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Latest is a Sink that remembers the last value of everything.
type Latest struct {
	mu sync.RWMutex
	v  Values
}

func (l *Latest) Values() Values {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.v
}

func (l *Latest) update(fn func(v *Values)) {
	l.mu.Lock()
	fn(&l.v)
	l.v.UpdatedAt = time.Now().UTC()
	l.mu.Unlock()
}

func (l *Latest) OnRecordingChanged(r bool) {
	l.update(func(v *Values) { v.Recording = r })
}

func (l *Latest) OnHorizontalSpeed(mps float64) {
	l.update(func(v *Values) { v.HorizontalSpeedMps, v.HorizontalSpeedValid = mps, true })
}

func (l *Latest) OnElevation(m float64) {
	l.update(func(v *Values) { v.ElevationM, v.ElevationValid = m, true })
}

func (l *Latest) OnPressure(hpa float64) {
	l.update(func(v *Values) { v.PressureHPa, v.PressureValid = hpa, true })
}

func (l *Latest) OnVerticalSpeed(mps float64) {
	l.update(func(v *Values) { v.VerticalSpeedMps, v.VerticalSpeedValid = mps, true })
}
