package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"paravario/internal/sample"
)

// record is one NDJSON line from the companion bridge. Type selects which
// of the remaining fields apply. Peer timestamps are not trusted for
// ordering; samples are restamped on arrival.
type record struct {
	Type string `json:"type"`

	BPM      *float64 `json:"bpm"`
	HPa      *float64 `json:"hpa"`
	Accuracy *int     `json:"accuracy"`

	Lat      *float64 `json:"lat"`
	Lon      *float64 `json:"lon"`
	AltM     *float64 `json:"alt_m"`
	SpeedMps *float64 `json:"speed_mps"`
	Bearing  float64  `json:"bearing_deg"`
	AccM     float64  `json:"accuracy_m"`
	VAccM    *float64 `json:"vertical_accuracy_m"`
	Time     string   `json:"time"`

	Kind string    `json:"kind"`
	Vec  []float64 `json:"xyz"`

	Sentence string `json:"sentence"`
}

var errUnknownType = errors.New("feed: unknown record type")

func decode(line []byte, now time.Time, elapsed int64) (sample.Sample, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, fmt.Errorf("feed: json parse: %w", err)
	}
	acc := sample.AccuracyHigh
	if r.Accuracy != nil {
		acc = sample.Accuracy(*r.Accuracy)
		if acc < sample.AccuracyUnreliable || acc > sample.AccuracyHigh {
			return nil, fmt.Errorf("feed: accuracy %d out of range", *r.Accuracy)
		}
	}

	switch strings.ToLower(strings.TrimSpace(r.Type)) {
	case "heart_rate", "hr":
		if r.BPM == nil {
			return nil, errors.New("feed: heart_rate without bpm")
		}
		return sample.HeartRate{TimestampNanos: elapsed, BPM: *r.BPM, Accuracy: acc}, nil
	case "pressure":
		if r.HPa == nil {
			return nil, errors.New("feed: pressure without hpa")
		}
		return sample.Pressure{TimestampNanos: elapsed, HPa: *r.HPa, Accuracy: acc}, nil
	case "location":
		return decodeLocation(r, now, elapsed)
	case "inertial":
		return decodeInertial(r, elapsed)
	case "nmea":
		if !strings.HasPrefix(r.Sentence, "$") {
			return nil, errors.New("feed: nmea sentence must start with $")
		}
		return sample.NMEA{Time: now.UTC(), Sentence: r.Sentence}, nil
	default:
		return nil, fmt.Errorf("%w %q", errUnknownType, r.Type)
	}
}

func decodeLocation(r record, now time.Time, elapsed int64) (sample.Sample, error) {
	if r.Lat == nil || r.Lon == nil {
		return nil, errors.New("feed: location without lat/lon")
	}
	loc := sample.Location{
		Time:                 now.UTC(),
		ElapsedRealtimeNanos: elapsed,
		Latitude:             *r.Lat,
		Longitude:            *r.Lon,
		Bearing:              r.Bearing,
		Accuracy:             r.AccM,
	}
	if r.Time != "" {
		t, err := time.Parse(time.RFC3339Nano, r.Time)
		if err != nil {
			return nil, fmt.Errorf("feed: location time: %w", err)
		}
		loc.Time = t.UTC()
	}
	if r.AltM != nil {
		loc.Altitude, loc.HasAltitude = *r.AltM, true
	}
	if r.SpeedMps != nil {
		loc.Speed, loc.HasSpeed = *r.SpeedMps, true
	}
	if r.VAccM != nil {
		loc.VerticalAccuracy, loc.HasVerticalAccuracy = *r.VAccM, true
	}
	return loc, nil
}

func decodeInertial(r record, elapsed int64) (sample.Sample, error) {
	if len(r.Vec) != 3 {
		return nil, fmt.Errorf("feed: inertial xyz has %d components", len(r.Vec))
	}
	var kind sample.InertialKind
	switch r.Kind {
	case "accelerometer":
		kind = sample.Accelerometer
	case "gravity":
		kind = sample.Gravity
	case "linear_acceleration":
		kind = sample.LinearAcceleration
	default:
		return nil, fmt.Errorf("feed: unknown inertial kind %q", r.Kind)
	}
	return sample.Inertial{TimestampNanos: elapsed, Kind: kind, X: r.Vec[0], Y: r.Vec[1], Z: r.Vec[2]}, nil
}
