package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"

	"paravario/internal/kalman"
)

// Point is one row of an offline replay.
type Point struct {
	TimestampNanos int64   `json:"timestamp_ns"`
	Pressure       float64 `json:"pressure_hpa"`
	Filtered       float64 `json:"filtered_hpa"`
	VerticalSpeed  float64 `json:"vertical_speed_mps"`
}

type Result struct {
	Points     []Point
	OutOfOrder int
}

// Filter runs records through a fresh estimator. Records that go back in
// time are counted and skipped, the same way the live pipeline drops them.
func Filter(records []Record) (Result, error) {
	f := kalman.New()
	res := Result{Points: make([]Point, 0, len(records))}
	for _, r := range records {
		est, err := f.OnNewMeasure(r.TimestampNanos, r.HPa)
		if errors.Is(err, kalman.ErrOutOfOrder) {
			res.OutOfOrder++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("replay: filter: %w", err)
		}
		res.Points = append(res.Points, Point{
			TimestampNanos: r.TimestampNanos,
			Pressure:       r.HPa,
			Filtered:       est.Pressure,
			VerticalSpeed:  est.VerticalSpeed,
		})
	}
	return res, nil
}

// WriteRows emits timestamp, raw pressure, filtered pressure and vertical
// speed, tab separated.
func WriteRows(w io.Writer, pts []Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range pts {
		_, err := fmt.Fprintf(bw, "%d\t%s\t%s\t%s\n",
			p.TimestampNanos,
			strconv.FormatFloat(p.Pressure, 'f', -1, 64),
			strconv.FormatFloat(p.Filtered, 'f', -1, 64),
			strconv.FormatFloat(p.VerticalSpeed, 'f', -1, 64))
		if err != nil {
			return fmt.Errorf("replay: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("replay: write: %w", err)
	}
	return nil
}
