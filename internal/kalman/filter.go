// Package kalman implements the two-state pressure estimator.
//
// The state is (pressure, pressure rate) under a constant-velocity model
// driven by white acceleration noise. Covariance entries are kept in
// rate-first order: cov[0][0] is the rate variance, cov[1][1] the pressure
// variance. All four entries are propagated independently.
package kalman

import (
	"errors"
	"sync"

	"paravario/internal/physics"
)

const (
	// NoiseAcceleration is the process noise density, (hPa/s²)².
	NoiseAcceleration = 0.06 * 0.06
	// NoiseSensor is the measurement variance of the pressure sensor, hPa².
	NoiseSensor = 0.034 * 0.034

	initialRateVariance = 0.01
)

// ErrOutOfOrder is returned for a measurement older than the previous one.
// The filter state is left untouched.
var ErrOutOfOrder = errors.New("kalman: timestamp before previous measurement")

// State is a copy of the filter's internal state.
type State struct {
	Pressure           float64       `json:"pressure_hpa"`
	PressureRate       float64       `json:"pressure_rate_hpa_s"`
	Covariance         [2][2]float64 `json:"covariance"`
	LastTimestampNanos int64         `json:"last_timestamp_ns"`
	HasData            bool          `json:"has_data"`
}

// Estimate is what a caller needs after one measurement.
type Estimate struct {
	Pressure      float64
	PressureRate  float64
	VerticalSpeed float64
}

// Filter is safe for concurrent use. The whole predict and update
// sequence runs under one lock.
type Filter struct {
	mu sync.Mutex
	st State
}

func New() *Filter {
	return &Filter{}
}

// OnNewMeasure feeds one pressure sample (hPa) taken at timestampNanos on a
// monotonic clock. The first sample initializes the filter. A sample with
// the same timestamp as the previous one is applied as a second
// measurement at that instant.
func (f *Filter) OnNewMeasure(timestampNanos int64, pressureHPa float64) (Estimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := &f.st
	if !st.HasData {
		st.Pressure = pressureHPa
		st.PressureRate = 0
		st.Covariance = [2][2]float64{{initialRateVariance, 0}, {0, NoiseSensor}}
		st.LastTimestampNanos = timestampNanos
		st.HasData = true
		return st.estimate(), nil
	}
	if timestampNanos < st.LastTimestampNanos {
		return st.estimate(), ErrOutOfOrder
	}

	dt := float64(timestampNanos-st.LastTimestampNanos) / 1e9
	dt2 := dt * dt
	c := st.Covariance

	// Predict.
	predicted := st.Pressure + st.PressureRate*dt
	p00 := c[0][0] + dt2*NoiseAcceleration
	p01 := c[0][1] + dt*c[0][0] + dt*dt2*NoiseAcceleration/2
	p10 := c[1][0] + dt*c[0][0] + dt*dt2*NoiseAcceleration/2
	p11 := c[1][1] + dt*(c[1][0]+c[0][1]+c[0][0]*dt) + dt2*dt2*NoiseAcceleration/4

	// Update.
	innovation := pressureHPa - predicted
	s := p11 + NoiseSensor
	k0 := p01 / s
	k1 := p11 / s

	st.PressureRate += k0 * innovation
	st.Pressure = predicted + k1*innovation
	st.Covariance = [2][2]float64{
		{p00 - k0*p10, p01 - k0*p11},
		{p10 - k1*p10, p11 - k1*p11},
	}
	st.LastTimestampNanos = timestampNanos
	return st.estimate(), nil
}

func (st *State) estimate() Estimate {
	return Estimate{
		Pressure:      st.Pressure,
		PressureRate:  st.PressureRate,
		VerticalSpeed: physics.VerticalSpeedFromRate(st.PressureRate),
	}
}

// Pressure returns the smoothed pressure in hPa.
func (f *Filter) Pressure() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.Pressure
}

// PressureRate returns the estimated pressure derivative in hPa/s.
func (f *Filter) PressureRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.PressureRate
}

func (f *Filter) HasData() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.HasData
}

// VerticalSpeed converts the current rate with the empirical factor (m/s).
func (f *Filter) VerticalSpeed() float64 {
	return physics.VerticalSpeedFromRate(f.PressureRate())
}

func (f *Filter) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}
