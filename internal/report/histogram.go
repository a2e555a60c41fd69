package report

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveStepLengthPNG writes a histogram of observed step lengths as a
// standalone PNG, for embedding where the HTML report is not usable.
func SaveStepLengthPNG(path string, lengths []float64) error {
	if len(lengths) == 0 {
		return fmt.Errorf("no step lengths to plot")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}

	p := plot.New()
	p.Title.Text = "Observed step lengths"
	p.X.Label.Text = "step length (m)"
	p.Y.Label.Text = "count"

	vals := make(plotter.Values, len(lengths))
	copy(vals, lengths)
	h, err := plotter.NewHist(vals, 30)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	p.Add(h)

	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram %s: %w", path, err)
	}
	return nil
}
