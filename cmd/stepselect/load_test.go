package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagbase/stepselect/internal/clean"
	"github.com/tagbase/stepselect/internal/config"
)

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracks.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(path string) *config.Config {
	cfg := &config.Config{}
	cfg.Dataset.Path = path
	cfg.Dataset.IDCol = "id"
	cfg.Dataset.TimeCol = "time"
	cfg.Dataset.LonCol = "lon"
	cfg.Dataset.LatCol = "lat"
	return cfg
}

func TestLoadFixes(t *testing.T) {
	path := writeDataset(t, `id,time,lon,lat,sex,hpe,depth
s1,2024-03-01T08:00:00Z,151.20,-33.85,F,4.2,12.5
s1,2024-03-01 08:05:00,151.21,-33.86,F,,13.0
s2,2024-03-01T08:00:00Z,151.30,-33.80,M,9.9,
bad,notatime,junk,-33.80,M,1,1
`)
	cfg := testConfig(path)
	cfg.Dataset.SexCol = "sex"
	cfg.Dataset.HPECol = "hpe"
	cfg.Passthrough = []string{"depth"}

	fixes, err := loadFixes(cfg)
	require.NoError(t, err)
	require.Len(t, fixes, 4)

	assert.Equal(t, "s1", fixes[0].ID)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), fixes[0].Time)
	assert.Equal(t, 151.20, fixes[0].Lon)
	assert.Equal(t, "F", fixes[0].Sex)
	assert.Equal(t, 4.2, fixes[0].HPE)
	assert.Equal(t, map[string]float64{"depth": 12.5}, fixes[0].Extra)

	// Space-separated timestamps parse too; missing HPE is NaN.
	assert.Equal(t, time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC), fixes[1].Time)
	assert.True(t, math.IsNaN(fixes[1].HPE))

	// Empty passthrough cell leaves no entry.
	assert.Nil(t, fixes[2].Extra)

	// Unparseable core fields surface as zero/NaN for the cleaner.
	assert.True(t, fixes[3].Time.IsZero())
	assert.True(t, math.IsNaN(fixes[3].Lon))
}

func TestLoadFixesSchemaError(t *testing.T) {
	path := writeDataset(t, "id,time,lon\ns1,2024-03-01T08:00:00Z,151.2\n")
	_, err := loadFixes(testConfig(path))

	var se *clean.SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Missing, "lat")
}

func TestLoadFixesMalformedRow(t *testing.T) {
	// A bare quote mid-file is a CSV parse error, not end of input.
	// It must surface as an error instead of truncating the dataset
	// to the rows before it.
	path := writeDataset(t, `id,time,lon,lat
s1,2024-03-01T08:00:00Z,151.20,-33.85
s1,2024-03-01T08:05:00Z,151."21,-33.86
s1,2024-03-01T08:10:00Z,151.22,-33.87
`)
	fixes, err := loadFixes(testConfig(path))
	require.Error(t, err)
	assert.ErrorContains(t, err, "read dataset row")
	assert.Nil(t, fixes)
}

func TestLoadFixesMissingFile(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "absent.csv"))
	_, err := loadFixes(cfg)
	assert.Error(t, err)
}
