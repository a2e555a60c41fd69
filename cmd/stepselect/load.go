package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tagbase/stepselect/internal/clean"
	"github.com/tagbase/stepselect/internal/config"
	"github.com/tagbase/stepselect/internal/track"
)

// timeLayouts are tried in order when parsing the time column.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// loadFixes reads the configured CSV into fixes. The required columns
// are checked against the header before any row is parsed; rows with
// unparseable core fields come back with NaN/zero values and are
// removed by the cleaning pass, which counts them.
func loadFixes(cfg *config.Config) ([]track.Fix, error) {
	f, err := os.Open(cfg.Dataset.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if err := clean.CheckSchema(header, cfg); err != nil {
		return nil, err
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	ds := cfg.Dataset

	var fixes []track.Fix
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A malformed row must not silently truncate the dataset.
			return nil, fmt.Errorf("read dataset row: %w", err)
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		fix := track.Fix{
			ID:  get(ds.IDCol),
			Lon: parseFloat(get(ds.LonCol)),
			Lat: parseFloat(get(ds.LatCol)),
			HPE: math.NaN(),
		}
		fix.Time = parseTime(get(ds.TimeCol))
		if ds.SexCol != "" {
			fix.Sex = get(ds.SexCol)
		}
		if ds.HPECol != "" {
			fix.HPE = parseFloat(get(ds.HPECol))
		}
		for _, name := range cfg.Passthrough {
			v := parseFloat(get(name))
			if math.IsNaN(v) {
				continue
			}
			if fix.Extra == nil {
				fix.Extra = make(map[string]float64)
			}
			fix.Extra[name] = v
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
