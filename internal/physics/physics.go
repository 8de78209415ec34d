// Package physics holds closed-form barometric conversions.
//
// The live vertical-speed path uses VerticalSpeedFromRate, a fixed
// empirical factor that is accurate near sea level and degrades above
// roughly 3000 m or at extreme temperatures. The analytic formulas are kept
// for reference and offline comparison.
package physics

import "math"

const (
	MolarMassAir   = 0.0289644     // kg/mol
	Gravity        = 9.80665       // m/s²
	GasConstant    = 8.31446261815 // J/(mol·K)
	ReferenceTempK = 293.0         // K
	LapseRate      = 0.00984       // K/m

	// StandardSeaLevelHPa is the ISA sea-level pressure.
	StandardSeaLevelHPa = 1013.25

	// EmpiricalVerticalSpeedFactor converts a pressure rate in hPa/s into
	// m/s. Pressure falls while climbing, hence the sign.
	EmpiricalVerticalSpeedFactor = -9.7
)

// barometric exponent M·g/(R·A).
func exponent() float64 {
	return MolarMassAir * Gravity / (GasConstant * LapseRate)
}

// PressureAtSeaLevel reduces a station pressure (hPa) measured at
// altitudeM to sea level.
func PressureAtSeaLevel(altitudeM, pressureHPa float64) float64 {
	return pressureHPa / math.Pow(1-LapseRate*altitudeM/ReferenceTempK, exponent())
}

// PressureAtAltitude is the inverse of PressureAtSeaLevel.
func PressureAtAltitude(altitudeM, seaLevelHPa float64) float64 {
	return seaLevelHPa * math.Pow(1-LapseRate*altitudeM/ReferenceTempK, exponent())
}

// VerticalSpeedFromPressureDerivative differentiates the barometric formula
// with respect to time. dPdt is in hPa/s; pressure and reference in hPa.
// Result in m/s, positive when climbing.
func VerticalSpeedFromPressureDerivative(dPdt, pressureHPa, referenceHPa float64) float64 {
	p := pressureHPa * 100
	p0 := referenceHPa * 100
	coeff := -ReferenceTempK * GasConstant / (MolarMassAir * Gravity * p0) *
		math.Pow(p/p0, GasConstant*LapseRate/(MolarMassAir*Gravity)-1)
	return coeff * dPdt * 100
}

// VerticalSpeedFromRate applies the empirical factor to a filtered pressure
// rate (hPa/s).
func VerticalSpeedFromRate(rateHPaPerSec float64) float64 {
	return rateHPaPerSec * EmpiricalVerticalSpeedFactor
}

// AltitudeFromPressure returns the ISA pressure altitude in metres.
// h = 44330 * (1 - (p/p0)^(1/5.255))
func AltitudeFromPressure(pressureHPa, seaLevelHPa float64) float64 {
	if seaLevelHPa <= 0 {
		seaLevelHPa = StandardSeaLevelHPa
	}
	return 44330.0 * (1.0 - math.Pow(pressureHPa/seaLevelHPa, 1.0/5.255))
}
