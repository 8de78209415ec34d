// Command paravario-replay runs a recorded pressure log through the
// vertical-speed filter offline. It writes
// timestamp, pressure, filtered pressure and vertical speed rows, and can
// also plot them or summarize the log.
package main

import (
	"bufio"
	"errors"
	"flag"
	"io"
	"log"
	"os"

	"paravario/internal/replay"
)

type options struct {
	in      string
	out     string
	plot    string
	summary bool
}

func main() {
	var o options
	flag.StringVar(&o.in, "in", "", "Pressure log to replay")
	flag.StringVar(&o.out, "out", "-", "Output rows file ('-' for stdout)")
	flag.StringVar(&o.plot, "plot", "", "Write <base>.png and <base>_pressure.png charts")
	flag.BoolVar(&o.summary, "summary", false, "Print a summary instead of rows")
	flag.Parse()

	if err := run(o, os.Stdout); err != nil {
		log.Fatalf("paravario-replay: %v", err)
	}
}

func run(o options, stdout io.Writer) error {
	if o.in == "" {
		return errors.New("-in is required")
	}
	if o.summary && o.out != "" && o.out != "-" {
		return errors.New("-summary prints to stdout and cannot be combined with -out")
	}

	records, err := replay.ReadFile(o.in)
	if err != nil {
		return err
	}
	res, err := replay.Filter(records)
	if err != nil {
		return err
	}
	if res.OutOfOrder > 0 {
		log.Printf("paravario-replay: skipped out-of-order records=%d", res.OutOfOrder)
	}

	if o.summary {
		printLogSummary(stdout, o.in, summarizePressureLog(records, res))
	} else if err := writeRows(o.out, stdout, res.Points); err != nil {
		return err
	}

	if o.plot != "" {
		if err := replay.Plot(res.Points, o.plot); err != nil {
			return err
		}
		a, b := replay.PlotPaths(o.plot)
		log.Printf("paravario-replay: wrote %s %s", a, b)
	}
	return nil
}

func writeRows(path string, stdout io.Writer, pts []replay.Point) error {
	if path == "" || path == "-" {
		bw := bufio.NewWriter(stdout)
		if err := replay.WriteRows(bw, pts); err != nil {
			return err
		}
		return bw.Flush()
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := replay.WriteRows(bw, pts); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
