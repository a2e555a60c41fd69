// Package report renders the post-run analysis artifacts: an HTML page
// of charts for the fitted model and its evaluation, and a PNG of the
// step-length distribution. Everything here is descriptive; nothing
// feeds back into the likelihood.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/tagbase/stepselect/internal/fit"
)

// Input bundles everything the report shows.
type Input struct {
	RunID      string
	Formula    []string
	FitResult  fit.Result
	CV         *fit.CVMetrics // nil when cross-validation did not run
	Metrics    map[string]float64
	StepLength []float64 // meters, used steps only
}

// WriteHTML renders the report page to path.
func WriteHTML(path string, in Input) error {
	page := components.NewPage()
	page.PageTitle = "Step-Selection Analysis Report"

	if in.FitResult.Status == fit.Fitted {
		page.AddCharts(coefficientChart(in.FitResult.Model))
	}
	if in.CV != nil {
		page.AddCharts(cvChart(in.CV))
	}
	if len(in.StepLength) > 0 {
		page.AddCharts(stepLengthChart(in.StepLength))
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report %s: %w", path, err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func coefficientChart(m *fit.Model) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Conditional logit coefficients",
			Subtitle: fmt.Sprintf("logLik=%.2f AIC=%.2f BIC=%.2f df=%d n=%d",
				m.LogLik, m.AIC, m.BIC, m.DF, m.NObs),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	data := make([]opts.BarData, len(m.Coef))
	for i, c := range m.Coef {
		data[i] = opts.BarData{Value: c}
	}
	bar.SetXAxis(m.Covariates).AddSeries("coefficient", data)
	return bar
}

func cvChart(cv *fit.CVMetrics) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Cross-validation",
			Subtitle: fmt.Sprintf("%d temporal folds, individual-aware", cv.Folds),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"log score", "mean rank (used)", "top-1 rate"}).
		AddSeries("metric", []opts.BarData{
			{Value: cv.LogScore},
			{Value: cv.MeanRank},
			{Value: cv.Top1},
		})
	return bar
}

// stepLengthChart bins the observed step lengths into a histogram bar
// chart.
func stepLengthChart(lengths []float64) *charts.Bar {
	const bins = 30
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range lengths {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		hi = lo + 1
	}
	width := (hi - lo) / bins
	counts := make([]int, bins)
	for _, v := range lengths {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}

	labels := make([]string, bins)
	data := make([]opts.BarData, bins)
	for i := 0; i < bins; i++ {
		labels[i] = fmt.Sprintf("%.0f", lo+(float64(i)+0.5)*width)
		data[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Observed step lengths (m)",
			Subtitle: fmt.Sprintf("%d used steps", len(lengths)),
		}),
	)
	bar.SetXAxis(labels).AddSeries("steps", data)
	return bar
}
