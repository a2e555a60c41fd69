// Package design assembles the final model-ready table: social
// covariates joined per row, the sex indicator, deterministic
// missing-value fills, whole-stratum integrity drops, and z-scored
// numeric covariates. Assembly is a pure transform: the input rows are
// copied, never mutated.
package design

import (
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/tagbase/stepselect/internal/social"
	"github.com/tagbase/stepselect/internal/steps"
	"github.com/tagbase/stepselect/internal/track"
)

// Stats reports what the assembler dropped. Drops are whole strata;
// a stratum never loses a subset of its rows.
type Stats struct {
	StrataDropped int
	RowsDropped   int
}

// Assembler joins social covariates and standardizes the table.
type Assembler struct {
	Engine      *social.Engine
	RadiusM     float64
	Passthrough []string
}

// Assemble runs the four assembly stages in order: social join, sex
// indicator, missing-value policy, stratum drops, then
// standardization. It returns a new table.
func (a *Assembler) Assemble(rows []steps.Row, source []track.Step) ([]steps.Row, Stats) {
	out := make([]steps.Row, len(rows))
	copy(out, rows)

	for i := range out {
		r := &out[i]
		cov := a.Engine.Query(r.Time, r.XEnd, r.YEnd, r.Heading, r.ID)
		r.NNDist = cov.NNDist
		r.NForward = cov.NForward
		r.NBehind = cov.NBehind
		r.AheadAny = cov.AheadAny
		r.BehindAny = cov.BehindAny
		r.MeanAlignFwd = cov.MeanAlignFwd
		r.RelSpeedFwd = cov.RelSpeedFwd
	}

	sexM := sexIndicator(source)
	for i := range out {
		out[i].SexM = sexM[out[i].ID] // unknown individuals default to 0
	}

	applyFillPolicy(out, a.RadiusM)

	out, stats := dropBadStrata(out)
	if stats.StrataDropped > 0 {
		log.Info().
			Int("strata", stats.StrataDropped).
			Int("rows", stats.RowsDropped).
			Msg("dropped strata with invalid turn cosine")
	}

	standardize(out, a.Passthrough)
	return out, stats
}

// sexIndicator maps each individual to 1 when its modal sex value
// starts with "M", else 0.
func sexIndicator(source []track.Step) map[string]float64 {
	out := make(map[string]float64)
	for _, s := range source {
		if s.Sex == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(s.Sex), "M") {
			out[s.ID] = 1
		} else {
			out[s.ID] = 0
		}
	}
	return out
}

// applyFillPolicy resolves undefined social covariates
// deterministically: counts and indicators to 0 (already their zero
// value), no-neighbor distance to the detection radius, and alignment
// and relative speed to a neutral 0.
func applyFillPolicy(rows []steps.Row, radiusM float64) {
	for i := range rows {
		r := &rows[i]
		if math.IsNaN(r.NNDist) {
			r.NNDist = radiusM
		}
		if math.IsNaN(r.MeanAlignFwd) {
			r.MeanAlignFwd = 0
		}
		if math.IsNaN(r.RelSpeedFwd) {
			r.RelSpeedFwd = 0
		}
	}
}

// dropBadStrata removes every row of any stratum containing a
// non-finite turn cosine, so each surviving stratum keeps a complete,
// comparable alternative set.
func dropBadStrata(rows []steps.Row) ([]steps.Row, Stats) {
	bad := make(map[int64]bool)
	for _, r := range rows {
		if math.IsNaN(r.CosTurn) || math.IsInf(r.CosTurn, 0) {
			bad[r.StratumID] = true
		}
	}
	if len(bad) == 0 {
		return rows, Stats{}
	}
	kept := rows[:0:0]
	dropped := 0
	for _, r := range rows {
		if bad[r.StratumID] {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, Stats{StrataDropped: len(bad), RowsDropped: dropped}
}

// standardize z-scores the canonical numeric covariates and the
// configured passthrough covariates in place. Non-finite values are
// excluded from the moments and left untouched. A zero or non-finite
// standard deviation degrades to mean-centering.
func standardize(rows []steps.Row, passthrough []string) {
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.LogL })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.LogL2 })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.CosTurn })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.NNDist })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.NForward })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.NBehind })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.MeanAlignFwd })
	zscoreField(rows, func(r *steps.Row) *float64 { return &r.RelSpeedFwd })

	for _, name := range passthrough {
		zscoreExtra(rows, name)
	}
}

func zscoreField(rows []steps.Row, field func(*steps.Row) *float64) {
	vals := make([]float64, 0, len(rows))
	for i := range rows {
		v := *field(&rows[i])
		if isFinite(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return
	}
	m, sd := moments(vals)
	for i := range rows {
		p := field(&rows[i])
		if !isFinite(*p) {
			continue
		}
		if sd > 0 && isFinite(sd) {
			*p = (*p - m) / sd
		} else {
			*p = *p - m
		}
	}
}

func zscoreExtra(rows []steps.Row, name string) {
	vals := make([]float64, 0, len(rows))
	for i := range rows {
		if v, ok := rows[i].Extra[name]; ok && isFinite(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return
	}
	m, sd := moments(vals)
	for i := range rows {
		v, ok := rows[i].Extra[name]
		if !ok || !isFinite(v) {
			continue
		}
		// Copy-on-write so shared Extra maps from the builder are not
		// mutated through other rows.
		next := make(map[string]float64, len(rows[i].Extra))
		for k, val := range rows[i].Extra {
			next[k] = val
		}
		if sd > 0 && isFinite(sd) {
			next[name] = (v - m) / sd
		} else {
			next[name] = v - m
		}
		rows[i].Extra = next
	}
}

func moments(vals []float64) (mean, sd float64) {
	if len(vals) == 0 {
		return math.NaN(), math.NaN()
	}
	mean = stat.Mean(vals, nil)
	sd = stat.PopStdDev(vals, nil)
	return mean, sd
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
