package web

import (
	"context"
	"sort"
	"sync"
	"time"

	"paravario/internal/display"
	"paravario/internal/fusion"
	"paravario/internal/physics"
)

// Controller is the part of the fusion manager the API drives.
type Controller interface {
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	SetSubscriptionActive(ctx context.Context, active bool) error
	Status() fusion.Status
}

// Status assembles /api/status from the manager, the latest display values
// and whatever per-source snapshots were registered.
type Status struct {
	start  time.Time
	ctl    Controller
	latest *display.Latest

	mu          sync.RWMutex
	seaLevelHPa float64
	sources     map[string]func() any
}

func NewStatus(ctl Controller, latest *display.Latest) *Status {
	return &Status{
		start:       time.Now().UTC(),
		ctl:         ctl,
		latest:      latest,
		seaLevelHPa: physics.StandardSeaLevelHPa,
		sources:     map[string]func() any{},
	}
}

// SetSeaLevel sets the QNH used for the pressure altitude field.
func (s *Status) SetSeaLevel(hpa float64) {
	if hpa <= 0 {
		return
	}
	s.mu.Lock()
	s.seaLevelHPa = hpa
	s.mu.Unlock()
}

// AddSource registers a snapshot function reported under name.
func (s *Status) AddSource(name string, snap func() any) {
	s.mu.Lock()
	s.sources[name] = snap
	s.mu.Unlock()
}

type StatusSnapshot struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	UptimeSec int64  `json:"uptime_sec"`

	Fusion  *fusion.Status  `json:"fusion,omitempty"`
	Display *display.Values `json:"display,omitempty"`

	SeaLevelHPa       float64  `json:"sea_level_hpa"`
	PressureAltitudeM *float64 `json:"pressure_altitude_m,omitempty"`

	Sources map[string]any `json:"sources,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.mu.RLock()
	qnh := s.seaLevelHPa
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]func() any, len(names))
	for i, name := range names {
		fns[i] = s.sources[name]
	}
	s.mu.RUnlock()

	snap := StatusSnapshot{
		Service:     "paravario",
		NowUTC:      nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:   int64(nowUTC.Sub(s.start).Seconds()),
		SeaLevelHPa: qnh,
	}
	if s.ctl != nil {
		st := s.ctl.Status()
		snap.Fusion = &st
	}
	if s.latest != nil {
		v := s.latest.Values()
		snap.Display = &v
		if v.PressureValid {
			alt := physics.AltitudeFromPressure(v.PressureHPa, qnh)
			snap.PressureAltitudeM = &alt
		}
	}
	if len(names) > 0 {
		snap.Sources = make(map[string]any, len(names))
		for i, name := range names {
			snap.Sources[name] = fns[i]()
		}
	}
	return snap
}
