// Package sim generates a synthetic paragliding flight: pressure, position,
// heart rate and acceleration, for bench testing without sensors.
package sim

import (
	"math"
	"time"
)

const metersPerDegLat = 111320.0

// FlightState is the simulated pilot state at one instant.
type FlightState struct {
	LatDeg           float64
	LonDeg           float64
	TrackDeg         float64
	AltM             float64
	SpeedMps         float64
	VerticalSpeedMps float64
	HeartBPM         float64
}

// Model yields the state at an elapsed time since the start of the flight.
type Model interface {
	StateAt(elapsed time.Duration) FlightState
}

// Flight is a procedural model: a figure-eight ground track with a
// repeating thermal climb then glide. Climb and glide durations are chosen
// so each cycle ends at the altitude it started from.
type Flight struct {
	CenterLatDeg float64
	CenterLonDeg float64
	BaseAltM     float64
	RadiusM      float64
	// Period of one figure-eight lap.
	Period time.Duration
	// Cycle is one climb plus one glide.
	Cycle    time.Duration
	ClimbMps float64
	// SinkMps is the glide sink rate as a positive number.
	SinkMps      float64
	HeartRestBPM float64
}

func (f Flight) withDefaults() Flight {
	if f.BaseAltM == 0 {
		f.BaseAltM = 1500
	}
	if f.RadiusM <= 0 {
		f.RadiusM = 800
	}
	if f.Period <= 0 {
		f.Period = 240 * time.Second
	}
	if f.Cycle <= 0 {
		f.Cycle = 120 * time.Second
	}
	if f.ClimbMps <= 0 {
		f.ClimbMps = 2.0
	}
	if f.SinkMps <= 0 {
		f.SinkMps = 1.2
	}
	if f.HeartRestBPM <= 0 {
		f.HeartRestBPM = 85
	}
	return f
}

func (f Flight) StateAt(elapsed time.Duration) FlightState {
	f = f.withDefaults()
	if elapsed < 0 {
		elapsed = 0
	}
	lat, lon, trk, speed := f.position(elapsed)
	alt, vs := f.vertical(elapsed)

	hr := f.HeartRestBPM + 5*math.Sin(2*math.Pi*elapsed.Seconds()/37)
	if vs > 0 {
		// Thermalling is work.
		hr += 20
	}
	return FlightState{
		LatDeg:           lat,
		LonDeg:           lon,
		TrackDeg:         trk,
		AltM:             alt,
		SpeedMps:         speed,
		VerticalSpeedMps: vs,
		HeartBPM:         hr,
	}
}

// climbFraction is the share of a cycle spent climbing.
func (f Flight) climbFraction() float64 {
	return f.SinkMps / (f.ClimbMps + f.SinkMps)
}

func (f Flight) vertical(elapsed time.Duration) (altM, vsMps float64) {
	p := float64(elapsed%f.Cycle) / float64(time.Second)
	climbSecs := f.climbFraction() * f.Cycle.Seconds()
	if p < climbSecs {
		return f.BaseAltM + f.ClimbMps*p, f.ClimbMps
	}
	return f.BaseAltM + f.ClimbMps*climbSecs - f.SinkMps*(p-climbSecs), -f.SinkMps
}

// position traces x = cos(w), y = sin(2w)/2 around the center, scaled by
// RadiusM.
func (f Flight) position(elapsed time.Duration) (latDeg, lonDeg, trackDeg, speedMps float64) {
	phase := float64(elapsed%f.Period) / float64(f.Period)
	w := 2 * math.Pi * phase
	x := f.RadiusM * math.Cos(w)
	y := f.RadiusM * 0.5 * math.Sin(2*w)

	latDeg = f.CenterLatDeg + y/metersPerDegLat
	lonDeg = f.CenterLonDeg + x/(metersPerDegLat*math.Cos(f.CenterLatDeg*math.Pi/180.0))

	omega := 2 * math.Pi / f.Period.Seconds()
	vx := -f.RadiusM * omega * math.Sin(w)
	vy := f.RadiusM * omega * math.Cos(2*w)
	trackDeg = math.Mod(math.Atan2(vx, vy)*180/math.Pi+360, 360)
	speedMps = math.Hypot(vx, vy)
	return latDeg, lonDeg, trackDeg, speedMps
}
