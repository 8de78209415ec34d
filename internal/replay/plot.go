package replay

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	rawColor      = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	filteredColor = color.RGBA{R: 20, G: 90, B: 200, A: 255}
	climbColor    = color.RGBA{R: 200, G: 60, B: 30, A: 255}
)

// PlotPaths returns the two image paths Plot writes for base: the vertical
// speed chart at base itself and the pressure chart next to it.
func PlotPaths(base string) (vspeed, pressure string) {
	stem := strings.TrimSuffix(base, ".png")
	return stem + ".png", stem + "_pressure.png"
}

// Plot renders the replay as PNG charts against seconds since the first
// point.
func Plot(pts []Point, base string) error {
	if len(pts) == 0 {
		return errors.New("replay: nothing to plot")
	}
	t0 := pts[0].TimestampNanos
	secs := func(p Point) float64 { return float64(p.TimestampNanos-t0) / 1e9 }

	raw := make(plotter.XYs, 0, len(pts))
	filtered := make(plotter.XYs, 0, len(pts))
	vs := make(plotter.XYs, 0, len(pts))
	for _, p := range pts {
		x := secs(p)
		raw = append(raw, plotter.XY{X: x, Y: p.Pressure})
		filtered = append(filtered, plotter.XY{X: x, Y: p.Filtered})
		vs = append(vs, plotter.XY{X: x, Y: p.VerticalSpeed})
	}

	pPress := plot.New()
	pPress.Title.Text = "Pressure"
	pPress.X.Label.Text = "Time (s)"
	pPress.Y.Label.Text = "Pressure (hPa)"
	if err := addLine(pPress, raw, rawColor, "raw"); err != nil {
		return err
	}
	if err := addLine(pPress, filtered, filteredColor, "filtered"); err != nil {
		return err
	}

	pVS := plot.New()
	pVS.Title.Text = "Vertical speed"
	pVS.X.Label.Text = "Time (s)"
	pVS.Y.Label.Text = "Vertical speed (m/s)"
	pVS.Add(plotter.NewGrid())
	if err := addLine(pVS, vs, climbColor, "vspeed"); err != nil {
		return err
	}

	for _, p := range []*plot.Plot{pPress, pVS} {
		p.Legend.Top = true
		p.Legend.Left = false
		p.Legend.XOffs = -10
		p.Legend.YOffs = -10
	}

	vsPath, pressPath := PlotPaths(base)
	if err := pVS.Save(14*vg.Inch, 6*vg.Inch, vsPath); err != nil {
		return fmt.Errorf("replay: save %s: %w", vsPath, err)
	}
	if err := pPress.Save(14*vg.Inch, 6*vg.Inch, pressPath); err != nil {
		return fmt.Errorf("replay: save %s: %w", pressPath, err)
	}
	return nil
}

func addLine(p *plot.Plot, xys plotter.XYs, c color.Color, label string) error {
	l, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("replay: %s line: %w", label, err)
	}
	l.Color = c
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(label, l)
	return nil
}
