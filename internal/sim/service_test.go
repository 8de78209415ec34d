package sim

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"paravario/internal/physics"
	"paravario/internal/sample"
)

type collector struct {
	mu  sync.Mutex
	got []sample.Sample
	loc chan struct{}
}

func (c *collector) handle(s sample.Sample) {
	c.mu.Lock()
	c.got = append(c.got, s)
	c.mu.Unlock()
	if _, ok := s.(sample.Location); ok {
		select {
		case c.loc <- struct{}{}:
		default:
		}
	}
}

func (c *collector) samples() []sample.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sample.Sample(nil), c.got...)
}

func TestServiceEmitsEveryKind(t *testing.T) {
	svc, err := New(Config{
		Flight:   Flight{CenterLatDeg: 46.5, CenterLonDeg: 8, BaseAltM: 1200},
		TickHz:   100,
		FixEvery: 3,
		Seed:     1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ts int64
	svc.clock = func() int64 { ts += int64(10 * time.Millisecond); return ts }

	c := &collector{loc: make(chan struct{}, 1)}
	if err := svc.Subscribe(context.Background(), c.handle); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Second subscribe is a no-op.
	if err := svc.Subscribe(context.Background(), c.handle); err != nil {
		t.Fatalf("Subscribe again: %v", err)
	}
	select {
	case <-c.loc:
	case <-time.After(5 * time.Second):
		t.Fatal("no location emitted")
	}
	svc.Unsubscribe()

	got := c.samples()
	n := len(got)
	time.Sleep(30 * time.Millisecond)
	if len(c.samples()) != n {
		t.Fatal("samples emitted after Unsubscribe")
	}
	if svc.Emitted() != uint64(n) {
		t.Fatalf("Emitted=%d want %d", svc.Emitted(), n)
	}

	counts := map[string]int{}
	for _, s := range got {
		if err := s.Validate(); err != nil {
			t.Fatalf("invalid sample %+v: %v", s, err)
		}
		switch v := s.(type) {
		case sample.Pressure:
			counts["pressure"]++
			want := physics.PressureAtAltitude(1200, physics.StandardSeaLevelHPa)
			if math.Abs(v.HPa-want) > 2 {
				t.Fatalf("pressure=%v want near %v", v.HPa, want)
			}
		case sample.Inertial:
			counts[v.Kind.String()]++
			if v.Kind == sample.Gravity && v.Z != physics.Gravity {
				t.Fatalf("gravity=%+v", v)
			}
		case sample.Location:
			counts["location"]++
			if !v.HasAltitude || !v.HasSpeed || !v.HasVerticalAccuracy {
				t.Fatalf("location flags=%+v", v)
			}
		case sample.NMEA:
			counts["nmea"]++
		case sample.HeartRate:
			counts["heart"]++
			if v.Accuracy != sample.AccuracyHigh || v.BPM < 60 {
				t.Fatalf("heart=%+v", v)
			}
		}
	}
	for _, k := range []string{"pressure", "accelerometer", "gravity", "linear_acceleration", "location", "nmea", "heart"} {
		if counts[k] == 0 {
			t.Fatalf("no %s samples, counts=%v", k, counts)
		}
	}
	if counts["pressure"] != counts["gravity"] {
		t.Fatalf("counts=%v want one inertial triplet per pressure sample", counts)
	}
}

func TestServicePressureIsMonotonicInTime(t *testing.T) {
	svc, err := New(Config{TickHz: 200, NoiseHPa: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var mu sync.Mutex
	var stamps []int64
	done := make(chan struct{})
	err = svc.Subscribe(context.Background(), func(s sample.Sample) {
		p, ok := s.(sample.Pressure)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		stamps = append(stamps, p.TimestampNanos)
		if len(stamps) == 5 {
			close(done)
		}
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	svc.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(stamps); i++ {
		if stamps[i] <= stamps[i-1] {
			t.Fatalf("stamps not increasing: %v", stamps)
		}
	}
}

func TestNewLoadsScript(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flight.yaml")
	script := `version: 1
duration: 60s
keyframes:
  - t: 0s
    lat_deg: 46.0
    lon_deg: 8.0
    alt_m: 2000
    speed_mps: 10
    track_deg: 90
    heart_bpm: 90
  - t: 60s
    lat_deg: 46.0
    lon_deg: 8.01
    alt_m: 1940
    speed_mps: 10
    track_deg: 90
    heart_bpm: 95
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, err := New(Config{ScriptPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	st := svc.model.StateAt(30 * time.Second)
	if math.Abs(st.AltM-1970) > 1e-9 || math.Abs(st.VerticalSpeedMps+1) > 1e-9 {
		t.Fatalf("state=%+v", st)
	}

	if _, err := New(Config{ScriptPath: filepath.Join(dir, "missing.yaml")}); err == nil {
		t.Fatal("expected error for missing script")
	}
}

func TestNilService(t *testing.T) {
	var s *Service
	if err := s.Subscribe(context.Background(), func(sample.Sample) {}); err == nil {
		t.Fatal("expected error")
	}
	s.Unsubscribe()
}
