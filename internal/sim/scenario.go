package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a keyframed flight, for reproducing a specific profile
// (a launch, a collapse, a landing) deterministically.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 10m   # optional, defaults to the last keyframe
//	loop: true
//	keyframes:
//	  - t: 0s
//	    lat_deg: 45.9
//	    lon_deg: 6.1
//	    alt_m: 1800
//	    speed_mps: 10
//	    track_deg: 90
//	    heart_bpm: 110
//
// Keyframes must be sorted by t. Values are linearly interpolated; track
// takes the short way round.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Loop      bool          `yaml:"loop"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

type Keyframe struct {
	T        time.Duration `yaml:"t"`
	LatDeg   float64       `yaml:"lat_deg"`
	LonDeg   float64       `yaml:"lon_deg"`
	AltM     float64       `yaml:"alt_m"`
	SpeedMps float64       `yaml:"speed_mps"`
	TrackDeg float64       `yaml:"track_deg"`
	HeartBPM float64       `yaml:"heart_bpm"`
}

// Scenario is the validated runtime form of a script.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, fmt.Errorf("sim: %w", err)
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, fmt.Errorf("sim: parse scenario: %w", err)
	}
	return s, nil
}

func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("sim: unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("sim: keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("sim: keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("sim: keyframes must be sorted by t (index %d)", i)
		}
	}
	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("sim: duration is required (or derivable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

// StateAt wraps elapsed around Duration when the script loops and clamps it
// otherwise.
func (s *Scenario) StateAt(elapsed time.Duration) FlightState {
	if s == nil {
		return FlightState{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if s.script.Loop {
		elapsed %= s.duration
	} else if elapsed > s.duration {
		elapsed = s.duration
	}

	k0, k1, alpha := selectSegment(s.script.Keyframes, elapsed)
	st := FlightState{
		LatDeg:   lerp(k0.LatDeg, k1.LatDeg, alpha),
		LonDeg:   lerp(k0.LonDeg, k1.LonDeg, alpha),
		TrackDeg: lerpAngleDeg(k0.TrackDeg, k1.TrackDeg, alpha),
		AltM:     lerp(k0.AltM, k1.AltM, alpha),
		SpeedMps: lerp(k0.SpeedMps, k1.SpeedMps, alpha),
		HeartBPM: lerp(k0.HeartBPM, k1.HeartBPM, alpha),
	}
	if dt := (k1.T - k0.T).Seconds(); dt > 0 {
		st.VerticalSpeedMps = (k1.AltM - k0.AltM) / dt
	}
	return st
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0 := kfs[idx-1]
	k1 := kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	return k0, k1, min(max(alpha, 0), 1)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// lerpAngleDeg interpolates along the shorter arc and returns [0, 360).
func lerpAngleDeg(a0, a1, t float64) float64 {
	norm := func(x float64) float64 {
		for x < 0 {
			x += 360
		}
		for x >= 360 {
			x -= 360
		}
		return x
	}
	a0 = norm(a0)
	a1 = norm(a1)
	delta := a1 - a0
	if delta > 180 {
		delta -= 360
	} else if delta < -180 {
		delta += 360
	}
	return norm(a0 + delta*t)
}
