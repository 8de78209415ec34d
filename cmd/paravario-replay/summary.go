package main

import (
	"fmt"
	"io"
	"math"
	"time"

	"paravario/internal/replay"
	"paravario/internal/sample"
)

type logSummary struct {
	Records    int
	OutOfOrder int
	Duration   time.Duration
	MinHPa     float64
	MaxHPa     float64
	// MeanRateHz is records per second over the whole log.
	MeanRateHz float64
	ByAccuracy map[sample.Accuracy]int

	MaxClimbMps float64
	MaxSinkMps  float64
}

func summarizePressureLog(records []replay.Record, filtered replay.Result) logSummary {
	s := logSummary{Records: len(records), OutOfOrder: filtered.OutOfOrder, ByAccuracy: map[sample.Accuracy]int{}}
	if len(records) == 0 {
		return s
	}
	s.MinHPa, s.MaxHPa = math.Inf(1), math.Inf(-1)
	for _, r := range records {
		s.MinHPa = math.Min(s.MinHPa, r.HPa)
		s.MaxHPa = math.Max(s.MaxHPa, r.HPa)
		s.ByAccuracy[r.Accuracy]++
	}
	span := records[len(records)-1].TimestampNanos - records[0].TimestampNanos
	if span > 0 {
		s.Duration = time.Duration(span)
		s.MeanRateHz = float64(len(records)-1) / s.Duration.Seconds()
	}
	for _, p := range filtered.Points {
		s.MaxClimbMps = math.Max(s.MaxClimbMps, p.VerticalSpeed)
		s.MaxSinkMps = math.Min(s.MaxSinkMps, p.VerticalSpeed)
	}
	return s
}

func printLogSummary(w io.Writer, path string, s logSummary) {
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "records: %d\n", s.Records)
	fmt.Fprintf(w, "out_of_order: %d\n", s.OutOfOrder)
	fmt.Fprintf(w, "duration: %s\n", s.Duration.Round(time.Millisecond))
	if s.Records == 0 {
		return
	}
	fmt.Fprintf(w, "mean_rate_hz: %.2f\n", s.MeanRateHz)
	fmt.Fprintf(w, "pressure_hpa: min=%.3f max=%.3f\n", s.MinHPa, s.MaxHPa)
	fmt.Fprintf(w, "vertical_speed_mps: max_climb=%.2f max_sink=%.2f\n", s.MaxClimbMps, s.MaxSinkMps)
	fmt.Fprintf(w, "accuracy_counts:\n")
	for a := sample.AccuracyUnreliable; a <= sample.AccuracyHigh; a++ {
		if n := s.ByAccuracy[a]; n > 0 {
			fmt.Fprintf(w, "  %d: %d\n", a, n)
		}
	}
}
