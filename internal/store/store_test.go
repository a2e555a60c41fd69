package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagbase/stepselect/internal/steps"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stepselect.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenIdempotentMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepselect.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an already-migrated database must not fail.
	s, err = Open(path)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}

func TestRunLifecycle(t *testing.T) {
	s := openTest(t)

	_, err := s.LatestRun()
	assert.Error(t, err, "no runs yet")

	first, err := s.CreateRun(map[string]any{"k_available": 20})
	require.NoError(t, err)
	second, err := s.CreateRun(map[string]any{"k_available": 30})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, second, latest)
}

func TestDesignRoundTrip(t *testing.T) {
	s := openTest(t)
	runID, err := s.CreateRun(nil)
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	in := []steps.Row{
		{
			StratumID: 0, ID: "a", Time: t0, XEnd: 1.25, YEnd: -3.5, Heading: 0.7,
			LogL: 4.1, LogL2: 16.81, CosTurn: 0.95, IsUsed: 1,
			NNDist: 12, NForward: 1, AheadAny: 1, MeanAlignFwd: 0.8, RelSpeedFwd: 0.5,
			SexM:  1,
			Extra: map[string]float64{"depth": 31.5},
		},
		{
			StratumID: 0, ID: "a", Time: t0, XEnd: -8, YEnd: 2, Heading: 2.2,
			LogL: 3.7, LogL2: 13.69, CosTurn: 1, IsUsed: 0,
			NNDist: 50,
		},
		{
			StratumID: 1, ID: "b", Time: t0.Add(10 * time.Minute), XEnd: 4, YEnd: 4,
			LogL: 4.4, LogL2: 19.36, CosTurn: 0.2, IsUsed: 1, NNDist: 50,
		},
	}
	require.NoError(t, s.SaveDesign(runID, in))

	out, err := s.LoadDesign(runID)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, in, out)
}

func TestDesignIsolatedByRun(t *testing.T) {
	s := openTest(t)
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	runA, err := s.CreateRun(nil)
	require.NoError(t, err)
	runB, err := s.CreateRun(nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveDesign(runA, []steps.Row{{StratumID: 0, ID: "a", Time: t0, IsUsed: 1}}))
	require.NoError(t, s.SaveDesign(runB, []steps.Row{
		{StratumID: 0, ID: "b", Time: t0, IsUsed: 1},
		{StratumID: 0, ID: "b", Time: t0},
	}))

	rowsA, err := s.LoadDesign(runA)
	require.NoError(t, err)
	rowsB, err := s.LoadDesign(runB)
	require.NoError(t, err)
	assert.Len(t, rowsA, 1)
	assert.Len(t, rowsB, 2)
	assert.Equal(t, "a", rowsA[0].ID)
}

func TestMetricsUpsert(t *testing.T) {
	s := openTest(t)
	runID, err := s.CreateRun(nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveMetrics(runID, map[string]float64{
		"log_lik": -512.25,
		"aic":     1044.5,
	}))
	require.NoError(t, s.SaveMetrics(runID, map[string]float64{
		"log_lik": -498.0,
		"cv_top1": 0.31,
	}))

	got, err := s.LoadMetrics(runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"log_lik": -498.0,
		"aic":     1044.5,
		"cv_top1": 0.31,
	}, got)
}
