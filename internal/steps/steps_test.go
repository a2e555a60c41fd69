package steps

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagbase/stepselect/internal/track"
)

func testSteps(n int) []track.Step {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]track.Step, n)
	for i := range out {
		heading := math.Mod(0.3*float64(i), 2*math.Pi)
		out[i] = track.Step{
			ID:          "a",
			Time:        t0.Add(time.Duration(i) * 10 * time.Minute),
			X:           float64(i) * 100,
			Y:           float64(i) * 50,
			XPrev:       float64(i-1) * 100,
			YPrev:       float64(i-1) * 50,
			Length:      80 + 10*float64(i),
			Heading:     heading,
			HeadingPrev: math.Mod(0.3*float64(i)+0.1, 2*math.Pi),
			Turn:        0.1 * float64(i-2),
			Speed:       0.2,
		}
	}
	return out
}

func TestBuildStrataShape(t *testing.T) {
	b := &Builder{K: 5, IncludeLogL2: true, IncludeCosTurn: true}
	src := testSteps(8)

	rows, err := b.Build(src, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Len(t, rows, 8*6)

	byStratum := make(map[int64][]Row)
	for _, r := range rows {
		byStratum[r.StratumID] = append(byStratum[r.StratumID], r)
	}
	require.Len(t, byStratum, 8)

	for id, rs := range byStratum {
		require.Len(t, rs, 6, "stratum %d", id)

		used := 0
		for _, r := range rs {
			if r.IsUsed == 1 {
				used++
			}
			assert.Equal(t, rs[0].ID, r.ID)
			assert.Equal(t, rs[0].Time, r.Time)
		}
		assert.Equal(t, 1, used, "exactly one used row per stratum")
		assert.Equal(t, 1, rs[0].IsUsed, "used row comes first")
	}
}

func TestBuildSharedOrigin(t *testing.T) {
	b := &Builder{K: 4, IncludeLogL2: true, IncludeCosTurn: true}
	src := testSteps(5)

	rows, err := b.Build(src, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	origins := Origins(src)
	for _, r := range rows {
		if r.IsUsed == 1 {
			continue
		}
		// Every available endpoint must be reachable from the stratum
		// origin at the row's own realized length and heading.
		o := origins[r.StratumID]
		realized := math.Hypot(r.XEnd-o[0], r.YEnd-o[1])
		assert.InDelta(t, math.Exp(r.LogL), realized, 1e-6)
		assert.InDelta(t, o[0]+realized*math.Sin(r.Heading), r.XEnd, 1e-6)
		assert.InDelta(t, o[1]+realized*math.Cos(r.Heading), r.YEnd, 1e-6)
	}
}

func TestBuildSamplesFromPool(t *testing.T) {
	b := &Builder{K: 10, IncludeLogL2: false, IncludeCosTurn: false}
	src := testSteps(6)

	poolLen := make(map[float64]bool)
	for _, s := range src {
		poolLen[s.Length] = true
	}

	rows, err := b.Build(src, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	origins := Origins(src)
	for _, r := range rows {
		if r.IsUsed == 1 {
			continue
		}
		o := origins[r.StratumID]
		realized := math.Hypot(r.XEnd-o[0], r.YEnd-o[1])
		found := false
		for l := range poolLen {
			if math.Abs(l-realized) < 1e-6 {
				found = true
			}
		}
		assert.True(t, found, "available length %v not from the empirical pool", realized)
	}
}

func TestBuildDeterministic(t *testing.T) {
	b := &Builder{K: 6, IncludeLogL2: true, IncludeCosTurn: true}
	src := testSteps(7)

	a, err := b.Build(src, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	c, err := b.Build(src, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	if diff := cmp.Diff(a, c); diff != "" {
		t.Fatalf("same seed produced different tables (-first +second):\n%s", diff)
	}

	d, err := b.Build(src, rand.New(rand.NewSource(100)))
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestBuildCovariateToggles(t *testing.T) {
	src := testSteps(4)

	t.Run("enabled", func(t *testing.T) {
		b := &Builder{K: 2, IncludeLogL2: true, IncludeCosTurn: true}
		rows, err := b.Build(src, rand.New(rand.NewSource(3)))
		require.NoError(t, err)
		for _, r := range rows {
			assert.InDelta(t, r.LogL*r.LogL, r.LogL2, 1e-12)
			if r.IsUsed == 0 {
				assert.Equal(t, 1.0, r.CosTurn)
			}
		}
	})

	t.Run("disabled", func(t *testing.T) {
		b := &Builder{K: 2}
		rows, err := b.Build(src, rand.New(rand.NewSource(3)))
		require.NoError(t, err)
		for _, r := range rows {
			assert.Zero(t, r.LogL2)
			assert.Zero(t, r.CosTurn)
		}
	})
}

func TestBuildUsedRowValues(t *testing.T) {
	b := &Builder{K: 1, IncludeLogL2: true, IncludeCosTurn: true}
	src := testSteps(3)

	rows, err := b.Build(src, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	for i, s := range src {
		used := rows[i*2]
		require.Equal(t, 1, used.IsUsed)
		assert.Equal(t, s.X, used.XEnd)
		assert.Equal(t, s.Y, used.YEnd)
		assert.Equal(t, s.Heading, used.Heading)
		assert.InDelta(t, math.Log(s.Length+1e-9), used.LogL, 1e-12)
		assert.InDelta(t, math.Cos(s.Turn), used.CosTurn, 1e-12)
	}
}

func TestBuildTrackFirstStep(t *testing.T) {
	// A track's first step has no predecessor: its turn and previous
	// heading are NaN. The length still seeds the pool, the turn stays
	// out of it, and the used row's turn cosine is NaN so the stratum
	// can be dropped downstream.
	b := &Builder{K: 3, IncludeCosTurn: true}
	src := testSteps(4)
	src[0].Turn = math.NaN()
	src[0].HeadingPrev = math.NaN()

	rows, err := b.Build(src, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	require.Len(t, rows, 4*4)

	assert.True(t, math.IsNaN(rows[0].CosTurn))
	for _, r := range rows {
		if r.IsUsed == 0 {
			assert.False(t, math.IsNaN(r.Heading), "candidate headings stay finite")
			assert.False(t, math.IsNaN(r.XEnd))
		}
	}

	origins := Origins(src)
	for _, r := range rows[1:4] {
		o := origins[0]
		realized := math.Hypot(r.XEnd-o[0], r.YEnd-o[1])
		assert.InDelta(t, math.Exp(r.LogL), realized, 1e-6,
			"first-step candidates draw lengths like any other stratum")
	}
}

func TestBuildInsufficientData(t *testing.T) {
	b := &Builder{K: 5}

	t.Run("no steps", func(t *testing.T) {
		_, err := b.Build(nil, rand.New(rand.NewSource(1)))
		var ide *InsufficientDataError
		require.ErrorAs(t, err, &ide)
	})

	t.Run("all lengths non-finite", func(t *testing.T) {
		src := testSteps(3)
		for i := range src {
			src[i].Length = math.NaN()
		}
		_, err := b.Build(src, rand.New(rand.NewSource(1)))
		var ide *InsufficientDataError
		require.ErrorAs(t, err, &ide)
		assert.Contains(t, ide.Error(), "step length")
	})

	t.Run("all turns non-finite", func(t *testing.T) {
		src := testSteps(3)
		for i := range src {
			src[i].Turn = math.NaN()
		}
		_, err := b.Build(src, rand.New(rand.NewSource(1)))
		var ide *InsufficientDataError
		require.ErrorAs(t, err, &ide)
		assert.Contains(t, ide.Error(), "turn angle")
	})
}
