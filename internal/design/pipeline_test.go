package design_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagbase/stepselect/internal/design"
	"github.com/tagbase/stepselect/internal/fit"
	"github.com/tagbase/stepselect/internal/social"
	"github.com/tagbase/stepselect/internal/steps"
	"github.com/tagbase/stepselect/internal/track"
)

// TestPipelineTwoIndividuals runs the full chain on a synthetic pair of
// co-moving animals: regularize, build choice sets, join social
// covariates, complete strata, fit, and cross-validate.
func TestPipelineTwoIndividuals(t *testing.T) {
	const (
		k        = 5
		interval = 10 * time.Minute
		radiusM  = 50.0
		coneDeg  = 90.0
	)
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(17))

	// Individual a wanders on a meandering path with fixes every 5
	// minutes for 2 hours; individual b shadows it 20 m to the east.
	const mPerDegLat = 6371000 * math.Pi / 180
	lon, lat := 151.0, -33.0
	heading := 0.0
	var fixes []track.Fix
	for i := 0; i < 25; i++ {
		ts := start.Add(time.Duration(i) * 5 * time.Minute)
		fixes = append(fixes,
			track.Fix{ID: "a", Time: ts, Lon: lon, Lat: lat, Sex: "F", HPE: math.NaN()},
			track.Fix{ID: "b", Time: ts, Lon: lon + 20/(mPerDegLat*math.Cos(lat*math.Pi/180)), Lat: lat, Sex: "M", HPE: math.NaN()},
		)
		heading += rng.Float64() - 0.5
		leg := 120 + 60*rng.Float64() // meters per 5-minute leg
		lat += leg * math.Cos(heading) / mPerDegLat
		lon += leg * math.Sin(heading) / (mPerDegLat * math.Cos(lat*math.Pi/180))
	}

	r := &track.Regularizer{Interval: interval}
	reg := r.Regularize(fixes)
	// 2 hours on a 10-minute grid is 13 rows per individual; only the
	// first row of each track produces no step.
	require.Len(t, reg, 2*12)

	gridTimes := make(map[string]map[int64]bool)
	for _, s := range reg {
		assert.Zero(t, s.Time.UnixNano()%int64(interval))
		if gridTimes[s.ID] == nil {
			gridTimes[s.ID] = make(map[int64]bool)
		}
		gridTimes[s.ID][s.Time.UnixNano()] = true
	}
	assert.Equal(t, gridTimes["a"], gridTimes["b"], "epoch-aligned bins put both individuals on one grid")

	b := &steps.Builder{K: k, IncludeLogL2: true, IncludeCosTurn: true}
	rows, err := b.Build(reg, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, rows, 24*(k+1))

	engine := social.NewEngine(reg, radiusM, coneDeg)
	asm := &design.Assembler{Engine: engine, RadiusM: radiusM}
	table, stats := asm.Assemble(rows, reg)
	// Each track's first step has an undefined turn cosine, so its
	// stratum drops whole.
	assert.Equal(t, 2, stats.StrataDropped)
	require.Len(t, table, 22*(k+1))

	sawNeighbor := false
	for _, row := range table {
		assert.False(t, math.IsNaN(row.NNDist))
		assert.False(t, math.IsNaN(row.MeanAlignFwd))
		assert.False(t, math.IsNaN(row.RelSpeedFwd))
		switch row.ID {
		case "a":
			assert.Equal(t, 0.0, row.SexM)
		case "b":
			assert.Equal(t, 1.0, row.SexM)
		}
		if row.IsUsed == 1 && (row.AheadAny == 1 || row.BehindAny == 1) {
			sawNeighbor = true
		}
	}
	assert.True(t, sawNeighbor, "the 20 m companion must show up in some used row")

	formula := []string{"log_l", "nn_dist"}
	complete, dropped := fit.CompleteStrata(table, formula)
	assert.Zero(t, dropped)

	res := fit.Fit(complete, formula)
	require.Equal(t, fit.Fitted, res.Status, "err: %v", res.Err)
	assert.Equal(t, 22*(k+1), res.Model.NObs)

	cv, err := fit.CrossValidate(complete, formula, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, cv.Folds)
	assert.Greater(t, cv.MeanRank, 1.0)
	assert.Less(t, cv.MeanRank, float64(k+1))
	assert.Greater(t, cv.LogScore, 0.0)
}
