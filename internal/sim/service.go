package sim

import (
	"context"
	"errors"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"paravario/internal/fusion"
	"paravario/internal/physics"
	"paravario/internal/sample"
)

type Config struct {
	Flight Flight
	// ScriptPath selects a keyframed scenario instead of Flight.
	ScriptPath string

	// TickHz drives pressure and inertial samples. Location, NMEA and heart
	// rate are emitted every FixEvery ticks.
	TickHz   int
	FixEvery int

	SeaLevelHPa float64
	// NoiseHPa is the standard deviation of the pressure noise.
	NoiseHPa float64
	Seed     uint64
}

// Service replays a Model in real time as a fusion source.
type Service struct {
	cfg   Config
	model Model

	clock func() int64
	now   func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	emitted uint64
	last    FlightState
}

func New(cfg Config) (*Service, error) {
	if cfg.TickHz <= 0 {
		cfg.TickHz = 25
	}
	if cfg.FixEvery <= 0 {
		cfg.FixEvery = cfg.TickHz
	}
	if cfg.SeaLevelHPa <= 0 {
		cfg.SeaLevelHPa = physics.StandardSeaLevelHPa
	}
	if cfg.NoiseHPa < 0 {
		cfg.NoiseHPa = 0
	}

	var model Model = cfg.Flight
	if cfg.ScriptPath != "" {
		script, err := LoadScenarioScript(cfg.ScriptPath)
		if err != nil {
			return nil, err
		}
		scn, err := NewScenario(script)
		if err != nil {
			return nil, err
		}
		model = scn
	}
	return &Service{cfg: cfg, model: model, clock: sample.MonotonicNanos, now: time.Now}, nil
}

func (s *Service) Name() string { return "sim" }

func (s *Service) Subscribe(ctx context.Context, h fusion.Handler) error {
	if s == nil {
		return errors.New("sim: service is nil")
	}
	if h == nil {
		return errors.New("sim: handler is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx, h)
	}()
	log.Printf("sim: started tick_hz=%d fix_every=%d script=%q", s.cfg.TickHz, s.cfg.FixEvery, s.cfg.ScriptPath)
	return nil
}

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

// Emitted counts samples delivered so far.
func (s *Service) Emitted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// Last returns the most recent simulated state.
func (s *Service) Last() FlightState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) run(ctx context.Context, h fusion.Handler) {
	tick := time.NewTicker(time.Second / time.Duration(s.cfg.TickHz))
	defer tick.Stop()

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9E3779B97F4A7C15))
	start := s.clock()
	var n int
	var prevVS float64
	var prevTS int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		ts := s.clock()
		st := s.model.StateAt(time.Duration(ts - start))
		emit := func(x sample.Sample) {
			h(x)
			s.mu.Lock()
			s.emitted++
			s.mu.Unlock()
		}

		hpa := physics.PressureAtAltitude(st.AltM, s.cfg.SeaLevelHPa) + rng.NormFloat64()*s.cfg.NoiseHPa
		emit(sample.Pressure{TimestampNanos: ts, HPa: hpa, Accuracy: sample.AccuracyHigh})

		// Vertical acceleration from the change in climb rate; the harness
		// hangs level, so gravity stays on z.
		var az float64
		if prevTS != 0 && ts > prevTS {
			az = (st.VerticalSpeedMps - prevVS) / (float64(ts-prevTS) / 1e9)
		}
		prevVS, prevTS = st.VerticalSpeedMps, ts
		jitter := func() float64 { return rng.NormFloat64() * 0.05 }
		lin := [3]float64{jitter(), jitter(), az + jitter()}
		emit(sample.Inertial{TimestampNanos: ts, Kind: sample.Gravity, Z: physics.Gravity})
		emit(sample.Inertial{TimestampNanos: ts, Kind: sample.LinearAcceleration, X: lin[0], Y: lin[1], Z: lin[2]})
		emit(sample.Inertial{TimestampNanos: ts, Kind: sample.Accelerometer, X: lin[0], Y: lin[1], Z: lin[2] + physics.Gravity})

		if n%s.cfg.FixEvery == 0 {
			now := s.now()
			emit(sample.NMEA{Time: now, Sentence: gga(now, st, 9, 0.9)})
			emit(sample.NMEA{Time: now, Sentence: rmc(now, st)})
			emit(sample.Location{
				Time:                 now.UTC(),
				ElapsedRealtimeNanos: ts,
				Latitude:             st.LatDeg,
				Longitude:            st.LonDeg,
				Altitude:             math.Round(st.AltM),
				Speed:                st.SpeedMps,
				Bearing:              st.TrackDeg,
				Accuracy:             4.5,
				VerticalAccuracy:     6.75,
				SpeedAccuracy:        0.3,
				BearingAccuracy:      5,
				HasAltitude:          true,
				HasSpeed:             true,
				HasVerticalAccuracy:  true,
			})
			if st.HeartBPM > 0 {
				emit(sample.HeartRate{TimestampNanos: ts, BPM: math.Round(st.HeartBPM), Accuracy: sample.AccuracyHigh})
			}
		}
		n++

		s.mu.Lock()
		s.last = st
		s.mu.Unlock()
	}
}
