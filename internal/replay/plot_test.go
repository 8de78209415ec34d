package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPlot_WritesPNGs(t *testing.T) {
	res, err := Filter(rampRecords(40, 250_000_000, -0.05))
	if err != nil {
		t.Fatalf("Filter() error: %v", err)
	}
	base := filepath.Join(t.TempDir(), "flight.png")
	if err := Plot(res.Points, base); err != nil {
		t.Fatalf("Plot() error: %v", err)
	}
	vs, press := PlotPaths(base)
	if vs != base || filepath.Base(press) != "flight_pressure.png" {
		t.Fatalf("paths=%q %q", vs, press)
	}
	for _, p := range []string{vs, press} {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", p, err)
		}
		if !bytes.HasPrefix(b, []byte("\x89PNG")) {
			t.Fatalf("%s is not a PNG", p)
		}
	}
}

func TestPlot_Empty(t *testing.T) {
	if err := Plot(nil, filepath.Join(t.TempDir(), "x.png")); err == nil {
		t.Fatalf("expected error")
	}
}
