// Package sample defines the raw readings delivered by sensor and position
// sources. Sample is a closed set: Pressure, Location, HeartRate, Inertial
// and NMEA.
package sample

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var processStart = time.Now()

// MonotonicNanos is the monotonic clock used for sensor timestamps:
// nanoseconds since process start.
func MonotonicNanos() int64 {
	return int64(time.Since(processStart))
}

// ErrNonFinite marks a sample carrying NaN or Inf in a numeric field.
var ErrNonFinite = errors.New("sample: non-finite value")

// Sample is implemented only by the types in this package.
type Sample interface {
	Validate() error
	isSample()
}

// Accuracy follows the sensor status scale used by most platforms.
type Accuracy int

const (
	AccuracyUnreliable Accuracy = 0
	AccuracyLow        Accuracy = 1
	AccuracyMedium     Accuracy = 2
	AccuracyHigh       Accuracy = 3
)

type Pressure struct {
	TimestampNanos int64    `json:"timestamp_ns"`
	HPa            float64  `json:"hpa"`
	Accuracy       Accuracy `json:"accuracy"`
}

// Location is a position fix. Altitude, speed and vertical accuracy are
// only meaningful when the matching Has flag is set.
type Location struct {
	Time                 time.Time `json:"time"`
	ElapsedRealtimeNanos int64     `json:"elapsed_realtime_ns"`
	Latitude             float64   `json:"lat"`
	Longitude            float64   `json:"lon"`
	Altitude             float64   `json:"alt_m"`
	Speed                float64   `json:"speed_mps"`
	Bearing              float64   `json:"bearing_deg"`
	Accuracy             float64   `json:"accuracy_m"`
	VerticalAccuracy     float64   `json:"vertical_accuracy_m"`
	SpeedAccuracy        float64   `json:"speed_accuracy_mps"`
	BearingAccuracy      float64   `json:"bearing_accuracy_deg"`

	HasAltitude         bool `json:"has_alt"`
	HasSpeed            bool `json:"has_speed"`
	HasVerticalAccuracy bool `json:"has_vertical_accuracy"`
}

type HeartRate struct {
	TimestampNanos int64    `json:"timestamp_ns"`
	BPM            float64  `json:"bpm"`
	Accuracy       Accuracy `json:"accuracy"`
}

type InertialKind int

const (
	Accelerometer InertialKind = iota
	Gravity
	LinearAcceleration
)

func (k InertialKind) String() string {
	switch k {
	case Accelerometer:
		return "accelerometer"
	case Gravity:
		return "gravity"
	case LinearAcceleration:
		return "linear_acceleration"
	default:
		return fmt.Sprintf("inertial(%d)", int(k))
	}
}

type Inertial struct {
	TimestampNanos int64        `json:"timestamp_ns"`
	Kind           InertialKind `json:"kind"`
	X              float64      `json:"x"`
	Y              float64      `json:"y"`
	Z              float64      `json:"z"`
}

// NMEA is one raw sentence as received from a position source.
type NMEA struct {
	Time     time.Time `json:"time"`
	Sentence string    `json:"sentence"`
}

func (Pressure) isSample()  {}
func (Location) isSample()  {}
func (HeartRate) isSample() {}
func (Inertial) isSample()  {}
func (NMEA) isSample()      {}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Pressure) Validate() error {
	if !finite(p.HPa) {
		return fmt.Errorf("%w: pressure=%v", ErrNonFinite, p.HPa)
	}
	return nil
}

func (l Location) Validate() error {
	if !finite(l.Latitude, l.Longitude, l.Altitude, l.Speed, l.Bearing,
		l.Accuracy, l.VerticalAccuracy, l.SpeedAccuracy, l.BearingAccuracy) {
		return fmt.Errorf("%w: location lat=%v lon=%v alt=%v speed=%v", ErrNonFinite, l.Latitude, l.Longitude, l.Altitude, l.Speed)
	}
	return nil
}

func (h HeartRate) Validate() error {
	if !finite(h.BPM) {
		return fmt.Errorf("%w: bpm=%v", ErrNonFinite, h.BPM)
	}
	return nil
}

func (i Inertial) Validate() error {
	if !finite(i.X, i.Y, i.Z) {
		return fmt.Errorf("%w: %s x=%v y=%v z=%v", ErrNonFinite, i.Kind, i.X, i.Y, i.Z)
	}
	return nil
}

func (NMEA) Validate() error { return nil }
