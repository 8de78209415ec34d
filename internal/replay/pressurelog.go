// Package replay reads recorded pressure logs back, either in (scaled) real
// time as a fusion source or offline through the estimator.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"paravario/internal/sample"
)

// Log format: the session pressure stream.
//
//   - The first line may be the column header; any line whose first field is
//     not an integer is skipped as a header.
//   - Blank lines and lines starting with '#' are ignored.
//   - Data lines are <timestamp_ns>\t<hpa>\t<accuracy>.

type Record struct {
	TimestampNanos int64
	HPa            float64
	Accuracy       sample.Accuracy
}

func (r Record) Sample() sample.Pressure {
	return sample.Pressure{TimestampNanos: r.TimestampNanos, HPa: r.HPa, Accuracy: r.Accuracy}
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 4096)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		ts, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			if len(recs) == 0 {
				// Header.
				continue
			}
			return nil, fmt.Errorf("replay: line %d: invalid timestamp %q: %w", lineNo, fields[0], err)
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("replay: line %d: missing pressure: %q", lineNo, line)
		}
		hpa, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: invalid pressure %q: %w", lineNo, fields[1], err)
		}
		acc := sample.AccuracyHigh
		if len(fields) > 2 {
			n, err := strconv.Atoi(strings.TrimSpace(fields[2]))
			if err != nil {
				return nil, fmt.Errorf("replay: line %d: invalid accuracy %q: %w", lineNo, fields[2], err)
			}
			acc = sample.Accuracy(n)
		}
		recs = append(recs, Record{TimestampNanos: ts, HPa: hpa, Accuracy: acc})
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}
	return recs, nil
}

// ReadFile loads a whole pressure log.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play calls cb for each record, sleeping the recorded gap between them.
// speed 1.0 is real time, 2.0 halves every wait. A gap that runs backwards
// is played without a wait. With loop, the log restarts after the last
// record until cb returns an error.
func Play(records []Record, speed float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("replay: speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("replay: callback is nil")
	}
	if len(records) == 0 {
		return errors.New("replay: no records")
	}

	for {
		for i, r := range records {
			if i > 0 {
				wait := time.Duration(r.TimestampNanos - records[i-1].TimestampNanos)
				if wait > 0 {
					sleeper.Sleep(time.Duration(float64(wait) / speed))
				}
			}
			if err := cb(r); err != nil {
				return err
			}
		}
		if !loop {
			return nil
		}
	}
}
