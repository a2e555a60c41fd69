// Package clean implements the conservative pre-regularization
// cleaning pass: schema and range checks, deduplication, gap-based
// segmentation, impossible-speed removal, and minimum-size filters.
// Nothing in this pass looks forward in time. Every drop is counted in
// the returned summary so data loss stays observable.
package clean

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tagbase/stepselect/internal/config"
	"github.com/tagbase/stepselect/internal/geo"
	"github.com/tagbase/stepselect/internal/track"
)

// SchemaError reports required input columns that are absent. It is
// fatal: no partial cleaning happens when the schema is wrong.
type SchemaError struct {
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("input is missing required columns %v (available: %v)",
		e.Missing, e.Available)
}

// Summary counts rows removed by each cleaning step.
type Summary struct {
	DroppedMissingCore   int `json:"dropped_missing_core"`
	DroppedOutOfRange    int `json:"dropped_out_of_range"`
	DroppedOutsideBounds int `json:"dropped_outside_bounds"`
	DroppedDuplicates    int `json:"dropped_duplicates"`
	DroppedSmallSegments int `json:"dropped_small_segments"`
	DroppedSpeedOutliers int `json:"dropped_speed_outliers"`
	DroppedSmallIDs      int `json:"dropped_ids_too_small"`
	FinalRows            int `json:"final_rows"`
	FinalIDs             int `json:"final_ids"`
}

// Clean applies the full cleaning pass and returns the kept fixes in
// (id, time) order together with the per-step drop counts.
func Clean(fixes []track.Fix, cfg *config.Config) ([]track.Fix, Summary) {
	var sum Summary
	c := &cfg.Cleaning

	// Missing core fields.
	kept := fixes[:0:0]
	for _, f := range fixes {
		if f.ID == "" || f.Time.IsZero() || math.IsNaN(f.Lon) || math.IsNaN(f.Lat) {
			sum.DroppedMissingCore++
			continue
		}
		kept = append(kept, f)
	}

	// Range checks and the (0,0) artifact.
	in := kept
	kept = kept[:0:0]
	for _, f := range in {
		if f.Lat < -90 || f.Lat > 90 || f.Lon < -180 || f.Lon > 180 {
			sum.DroppedOutOfRange++
			continue
		}
		if c.GetDropZeroZero() && f.Lon == 0 && f.Lat == 0 {
			sum.DroppedOutOfRange++
			continue
		}
		kept = append(kept, f)
	}

	// Optional bounding box.
	if b := c.Bounds; len(b) == 4 {
		in = kept
		kept = kept[:0:0]
		for _, f := range in {
			if f.Lon < b[0] || f.Lon > b[2] || f.Lat < b[1] || f.Lat > b[3] {
				sum.DroppedOutsideBounds++
				continue
			}
			kept = append(kept, f)
		}
	}

	kept, dup := dedupe(kept, c.GetPreferLowHPE())
	sum.DroppedDuplicates = dup

	kept, small := dropSmallSegments(kept, c.GetMaxGap(), c.GetMinSegmentPoints())
	sum.DroppedSmallSegments = small

	kept, fast := dropSpeedOutliers(kept, c.GetMaxSpeedMPS())
	sum.DroppedSpeedOutliers = fast

	kept, tiny := dropSmallIDs(kept, c.GetMinPointsPerID())
	sum.DroppedSmallIDs = tiny

	sortFixes(kept)
	sum.FinalRows = len(kept)
	sum.FinalIDs = countIDs(kept)

	log.Info().
		Int("final_rows", sum.FinalRows).
		Int("final_ids", sum.FinalIDs).
		Int("dropped_duplicates", sum.DroppedDuplicates).
		Int("dropped_speed_outliers", sum.DroppedSpeedOutliers).
		Int("dropped_small_segments", sum.DroppedSmallSegments).
		Msg("cleaning pass complete")
	return kept, sum
}

// CheckSchema validates that the configured required columns are all
// present in the input header. Optional columns are not checked.
func CheckSchema(header []string, cfg *config.Config) error {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[strings.TrimSpace(h)] = true
	}
	required := []string{cfg.Dataset.IDCol, cfg.Dataset.TimeCol, cfg.Dataset.LonCol, cfg.Dataset.LatCol}
	var missing []string
	for _, col := range required {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing, Available: header}
	}
	return nil
}

// dedupe keeps one fix per (id, time). When preferred, the fix with
// the lowest finite HPE wins; otherwise the first seen wins.
func dedupe(fixes []track.Fix, preferLowHPE bool) ([]track.Fix, int) {
	type key struct {
		id string
		t  int64
	}
	seen := make(map[key]int, len(fixes))
	out := make([]track.Fix, 0, len(fixes))
	dropped := 0
	for _, f := range fixes {
		k := key{f.ID, f.Time.UnixNano()}
		if i, ok := seen[k]; ok {
			dropped++
			if preferLowHPE && !math.IsNaN(f.HPE) &&
				(math.IsNaN(out[i].HPE) || f.HPE < out[i].HPE) {
				out[i] = f
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, f)
	}
	return out, dropped
}

// dropSmallSegments splits each individual's track at gaps larger than
// maxGap (or non-increasing time) and removes segments with fewer than
// minPoints fixes.
func dropSmallSegments(fixes []track.Fix, maxGap time.Duration, minPoints int) ([]track.Fix, int) {
	sortFixes(fixes)
	out := make([]track.Fix, 0, len(fixes))
	dropped := 0

	flush := func(seg []track.Fix) {
		if len(seg) >= minPoints {
			out = append(out, seg...)
		} else {
			dropped += len(seg)
		}
	}

	var seg []track.Fix
	for _, f := range fixes {
		if len(seg) > 0 {
			prev := seg[len(seg)-1]
			gap := f.Time.Sub(prev.Time)
			if f.ID != prev.ID || gap > maxGap || gap <= 0 {
				flush(seg)
				seg = nil
			}
		}
		seg = append(seg, f)
	}
	flush(seg)
	return out, dropped
}

// dropSpeedOutliers removes fixes implying an impossible speed from
// the previous kept fix of the same individual.
func dropSpeedOutliers(fixes []track.Fix, maxSpeed float64) ([]track.Fix, int) {
	out := make([]track.Fix, 0, len(fixes))
	dropped := 0
	var prev *track.Fix
	for i := range fixes {
		f := fixes[i]
		if prev != nil && f.ID == prev.ID {
			dt := f.Time.Sub(prev.Time).Seconds()
			if dt > 0 {
				speed := geo.Haversine(prev.Lon, prev.Lat, f.Lon, f.Lat) / dt
				if speed > maxSpeed {
					dropped++
					continue
				}
			}
		}
		out = append(out, f)
		prev = &out[len(out)-1]
	}
	return out, dropped
}

func dropSmallIDs(fixes []track.Fix, minPoints int) ([]track.Fix, int) {
	counts := make(map[string]int)
	for _, f := range fixes {
		counts[f.ID]++
	}
	out := make([]track.Fix, 0, len(fixes))
	dropped := 0
	for _, f := range fixes {
		if counts[f.ID] < minPoints {
			dropped++
			continue
		}
		out = append(out, f)
	}
	return out, dropped
}

func sortFixes(fixes []track.Fix) {
	sort.SliceStable(fixes, func(i, j int) bool {
		if fixes[i].ID != fixes[j].ID {
			return fixes[i].ID < fixes[j].ID
		}
		return fixes[i].Time.Before(fixes[j].Time)
	})
}

func countIDs(fixes []track.Fix) int {
	ids := make(map[string]struct{})
	for _, f := range fixes {
		ids[f.ID] = struct{}{}
	}
	return len(ids)
}
