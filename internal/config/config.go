// Package config defines the single run configuration for the pipeline.
// Configuration is loaded from YAML, validated eagerly, and every
// optional knob has a documented default. Components receive the loaded
// struct; there is no tolerant nested lookup anywhere downstream.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Dataset names the input file and its columns.
type Dataset struct {
	Path    string `yaml:"path"`
	IDCol   string `yaml:"id_col"`
	TimeCol string `yaml:"time_col"`
	LonCol  string `yaml:"lon_col"`
	LatCol  string `yaml:"lat_col"`
	// SexCol is optional; empty disables the sex indicator covariate.
	SexCol string `yaml:"sex_col"`
	// HPECol optionally names a horizontal-position-error column used
	// to pick the better fix when deduplicating.
	HPECol string `yaml:"hpe_col"`
}

// Cleaning holds the conservative pre-regularization cleaning knobs.
type Cleaning struct {
	DropZeroZero     *bool     `yaml:"drop_zero_zero"`      // default true
	Bounds           []float64 `yaml:"bounds"`              // [minLon, minLat, maxLon, maxLat], optional
	MaxSpeedMPS      *float64  `yaml:"max_speed_m_s"`       // default 6.0
	MinPointsPerID   *int      `yaml:"min_points_per_id"`   // default 10
	MinSegmentPoints *int      `yaml:"min_segment_points"`  // default 3
	MaxGapMinutes    *float64  `yaml:"max_gap_minutes"`     // default 480
	PreferLowHPE     *bool     `yaml:"prefer_low_hpe"`      // default true
}

// Social holds the neighbor-engine parameters.
type Social struct {
	RadiusM          float64 `yaml:"radius_m"`
	ConeHalfAngleDeg float64 `yaml:"cone_half_angle_deg"`
}

// Output names the artifact paths written by the CLI.
type Output struct {
	DesignCSV     string `yaml:"design_csv"`
	DesignParquet string `yaml:"design_parquet"`
	RExportCSV    string `yaml:"r_export_csv"`
	SQLitePath    string `yaml:"sqlite_path"`
	ReportHTML    string `yaml:"report_html"`
	HistogramPNG  string `yaml:"histogram_png"`
}

// Config is the full, validated run configuration.
type Config struct {
	Dataset  Dataset  `yaml:"dataset"`
	Cleaning Cleaning `yaml:"cleaning"`
	Social   Social   `yaml:"social"`
	Output   Output   `yaml:"output"`

	Regularization struct {
		DtMinutes int `yaml:"dt_minutes"`
	} `yaml:"regularization"`

	Steps struct {
		KAvailable     int   `yaml:"k_available"`
		IncludeLogL2   *bool `yaml:"include_log_l2"`   // default true
		IncludeCosTurn *bool `yaml:"include_cos_turn"` // default true
		Seed           int64 `yaml:"seed"`
	} `yaml:"steps"`

	Fit struct {
		Formula []string `yaml:"formula"`
		CVFolds int      `yaml:"cv_folds"`
	} `yaml:"fit"`

	// Passthrough lists numeric input columns carried onto the design
	// table by nearest-time join and standardized with the rest.
	Passthrough []string `yaml:"passthrough"`
}

// Defaults applied by Load for fields left unset.
const (
	DefaultDtMinutes        = 10
	DefaultKAvailable       = 20
	DefaultSeed             = 42
	DefaultRadiusM          = 500.0
	DefaultConeHalfAngleDeg = 60.0
	DefaultCVFolds          = 5

	defaultMaxSpeedMPS      = 6.0
	defaultMinPointsPerID   = 10
	defaultMinSegmentPoints = 3
	defaultMaxGapMinutes    = 480.0
)

// Load reads, defaults, and validates a YAML config file.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", clean, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", clean, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dataset.IDCol == "" {
		c.Dataset.IDCol = "id"
	}
	if c.Dataset.TimeCol == "" {
		c.Dataset.TimeCol = "time"
	}
	if c.Dataset.LonCol == "" {
		c.Dataset.LonCol = "lon"
	}
	if c.Dataset.LatCol == "" {
		c.Dataset.LatCol = "lat"
	}
	if c.Regularization.DtMinutes == 0 {
		c.Regularization.DtMinutes = DefaultDtMinutes
	}
	if c.Steps.KAvailable == 0 {
		c.Steps.KAvailable = DefaultKAvailable
	}
	if c.Steps.Seed == 0 {
		c.Steps.Seed = DefaultSeed
	}
	if c.Social.RadiusM == 0 {
		c.Social.RadiusM = DefaultRadiusM
	}
	if c.Social.ConeHalfAngleDeg == 0 {
		c.Social.ConeHalfAngleDeg = DefaultConeHalfAngleDeg
	}
	if c.Fit.CVFolds == 0 {
		c.Fit.CVFolds = DefaultCVFolds
	}
	if len(c.Fit.Formula) == 0 {
		c.Fit.Formula = []string{
			"log_l", "log_l2", "cos_turn", "nn_dist",
			"n_forward", "n_behind", "ahead_any", "behind_any",
			"mean_align_fwd", "rel_speed_fwd",
		}
		if c.Dataset.SexCol != "" {
			c.Fit.Formula = append(c.Fit.Formula, "sex_M")
		}
	}
	if c.Output.SQLitePath == "" {
		c.Output.SQLitePath = "outputs/stepselect.db"
	}
}

// Validate rejects configurations that cannot produce a coherent run.
func (c *Config) Validate() error {
	if c.Dataset.Path == "" {
		return fmt.Errorf("dataset.path is required")
	}
	if c.Regularization.DtMinutes <= 0 {
		return fmt.Errorf("regularization.dt_minutes must be positive, got %d", c.Regularization.DtMinutes)
	}
	if c.Steps.KAvailable <= 0 {
		return fmt.Errorf("steps.k_available must be positive, got %d", c.Steps.KAvailable)
	}
	if c.Social.RadiusM <= 0 {
		return fmt.Errorf("social.radius_m must be positive, got %g", c.Social.RadiusM)
	}
	if c.Social.ConeHalfAngleDeg <= 0 || c.Social.ConeHalfAngleDeg > 180 {
		return fmt.Errorf("social.cone_half_angle_deg must be in (0, 180], got %g", c.Social.ConeHalfAngleDeg)
	}
	if c.Fit.CVFolds < 2 {
		return fmt.Errorf("fit.cv_folds must be at least 2, got %d", c.Fit.CVFolds)
	}
	if b := c.Cleaning.Bounds; len(b) != 0 && len(b) != 4 {
		return fmt.Errorf("cleaning.bounds must have 4 values [minLon minLat maxLon maxLat], got %d", len(b))
	}
	if v := c.Cleaning.MaxSpeedMPS; v != nil && *v <= 0 {
		return fmt.Errorf("cleaning.max_speed_m_s must be positive, got %g", *v)
	}
	return nil
}

// Dt returns the regularization grid interval.
func (c *Config) Dt() time.Duration {
	return time.Duration(c.Regularization.DtMinutes) * time.Minute
}

// IncludeLogL2 reports whether the squared log-length feature is on.
func (c *Config) IncludeLogL2() bool {
	if c.Steps.IncludeLogL2 == nil {
		return true
	}
	return *c.Steps.IncludeLogL2
}

// IncludeCosTurn reports whether the turn-cosine feature is on.
func (c *Config) IncludeCosTurn() bool {
	if c.Steps.IncludeCosTurn == nil {
		return true
	}
	return *c.Steps.IncludeCosTurn
}

// Accessors for optional cleaning knobs with their defaults.

func (c *Cleaning) GetDropZeroZero() bool {
	if c.DropZeroZero == nil {
		return true
	}
	return *c.DropZeroZero
}

func (c *Cleaning) GetMaxSpeedMPS() float64 {
	if c.MaxSpeedMPS == nil {
		return defaultMaxSpeedMPS
	}
	return *c.MaxSpeedMPS
}

func (c *Cleaning) GetMinPointsPerID() int {
	if c.MinPointsPerID == nil {
		return defaultMinPointsPerID
	}
	return *c.MinPointsPerID
}

func (c *Cleaning) GetMinSegmentPoints() int {
	if c.MinSegmentPoints == nil {
		return defaultMinSegmentPoints
	}
	return *c.MinSegmentPoints
}

func (c *Cleaning) GetMaxGap() time.Duration {
	m := defaultMaxGapMinutes
	if c.MaxGapMinutes != nil {
		m = *c.MaxGapMinutes
	}
	return time.Duration(m * float64(time.Minute))
}

func (c *Cleaning) GetPreferLowHPE() bool {
	if c.PreferLowHPE == nil {
		return true
	}
	return *c.PreferLowHPE
}
