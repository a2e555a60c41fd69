// Package export writes the design table to external formats: a full
// CSV, a minimal CSV for fitting with R's survival::clogit when the
// in-process fitter cannot produce a model, and a Parquet file for
// columnar consumers.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tagbase/stepselect/internal/fit"
	"github.com/tagbase/stepselect/internal/steps"
)

// baseColumns is the fixed design-table column order. Passthrough
// covariates follow, sorted by name.
var baseColumns = []string{
	"stratum_id", "id", "time", "x_end", "y_end", "heading_step",
	"log_l", "log_l2", "cos_turn", "is_used",
	"nn_dist", "n_forward", "n_behind", "ahead_any", "behind_any",
	"mean_align_fwd", "rel_speed_fwd", "sex_M",
}

// WriteDesignCSV writes the full design table.
func WriteDesignCSV(path string, rows []steps.Row, passthrough []string) error {
	f, err := createWithDir(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(append([]string(nil), baseColumns...), passthrough...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write design header: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		rec := []string{
			strconv.FormatInt(r.StratumID, 10),
			r.ID,
			r.Time.UTC().Format(time.RFC3339),
			formatFloat(r.XEnd),
			formatFloat(r.YEnd),
			formatFloat(r.Heading),
			formatFloat(r.LogL),
			formatFloat(r.LogL2),
			formatFloat(r.CosTurn),
			strconv.Itoa(r.IsUsed),
			formatFloat(r.NNDist),
			formatFloat(r.NForward),
			formatFloat(r.NBehind),
			formatFloat(r.AheadAny),
			formatFloat(r.BehindAny),
			formatFloat(r.MeanAlignFwd),
			formatFloat(r.RelSpeedFwd),
			formatFloat(r.SexM),
		}
		for _, name := range passthrough {
			v, ok := r.Extra[name]
			if !ok {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, formatFloat(v))
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("write design row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteRExport writes the minimal columns an external conditional
// logit fit needs, and returns the R invocation hint.
func WriteRExport(path string, rows []steps.Row, covariates []string) (string, error) {
	f, err := createWithDir(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"stratum_id", "is_used"}, covariates...)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write export header: %w", err)
	}
	for i := range rows {
		r := &rows[i]
		rec := []string{strconv.FormatInt(r.StratumID, 10), strconv.Itoa(r.IsUsed)}
		for _, name := range covariates {
			v, _ := fit.Value(r, name)
			rec = append(rec, formatFloat(v))
		}
		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	hint := fmt.Sprintf(
		"In R: survival::clogit(is_used ~ %s + strata(stratum_id), data=read.csv(%q))",
		strings.Join(covariates, " + "), path)
	return hint, nil
}

func createWithDir(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
