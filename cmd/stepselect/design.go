package main

import (
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tagbase/stepselect/internal/clean"
	"github.com/tagbase/stepselect/internal/config"
	"github.com/tagbase/stepselect/internal/design"
	"github.com/tagbase/stepselect/internal/export"
	"github.com/tagbase/stepselect/internal/report"
	"github.com/tagbase/stepselect/internal/social"
	"github.com/tagbase/stepselect/internal/steps"
	"github.com/tagbase/stepselect/internal/store"
	"github.com/tagbase/stepselect/internal/track"
)

var designCmd = &cobra.Command{
	Use:   "design",
	Short: "Build the iSSA design matrix from raw fixes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runDesign(cfg)
	},
}

func runDesign(cfg *config.Config) error {
	fixes, err := loadFixes(cfg)
	if err != nil {
		return err
	}
	log.Info().Int("rows", len(fixes)).Str("path", cfg.Dataset.Path).Msg("loaded fixes")

	cleaned, qc := clean.Clean(fixes, cfg)

	reg := (&track.Regularizer{
		Interval:    cfg.Dt(),
		Passthrough: cfg.Passthrough,
	}).Regularize(cleaned)
	log.Info().Int("steps", len(reg)).Msg("regularized tracks")
	if len(reg) == 0 {
		return fmt.Errorf("no regularized steps; nothing to build")
	}

	builder := &steps.Builder{
		K:              cfg.Steps.KAvailable,
		IncludeLogL2:   cfg.IncludeLogL2(),
		IncludeCosTurn: cfg.IncludeCosTurn(),
	}
	rng := rand.New(rand.NewSource(cfg.Steps.Seed))
	rows, err := builder.Build(reg, rng)
	if err != nil {
		return err
	}
	log.Info().Int("rows", len(rows)).Msg("built choice strata")

	engine := social.NewEngine(reg, cfg.Social.RadiusM, cfg.Social.ConeHalfAngleDeg)
	asm := &design.Assembler{
		Engine:      engine,
		RadiusM:     cfg.Social.RadiusM,
		Passthrough: cfg.Passthrough,
	}
	designRows, stats := asm.Assemble(rows, reg)
	log.Info().
		Int("rows", len(designRows)).
		Int("strata_dropped", stats.StrataDropped).
		Msg("assembled design table")

	// Descriptive only: never joined into the design table.
	lead := social.LeadFollowPosthoc(reg, cfg.Dt(), cfg.Social.RadiusM, cfg.Social.ConeHalfAngleDeg)
	leadRate := social.LeadRate(lead)
	log.Info().Float64("lead_future_rate", leadRate).Msg("post-hoc lead metric")

	if path := cfg.Output.DesignCSV; path != "" {
		if err := export.WriteDesignCSV(path, designRows, cfg.Passthrough); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wrote design CSV")
	}
	if path := cfg.Output.DesignParquet; path != "" {
		if err := export.WriteParquet(path, designRows); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wrote design parquet")
	}
	if path := cfg.Output.HistogramPNG; path != "" {
		lengths := usedStepLengths(reg)
		if err := report.SaveStepLengthPNG(path, lengths); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wrote step-length histogram")
	}

	db, err := store.Open(cfg.Output.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.CreateRun(cfg)
	if err != nil {
		return err
	}
	if err := db.SaveDesign(runID, designRows); err != nil {
		return err
	}
	qcMetrics := map[string]float64{
		"clean_final_rows":       float64(qc.FinalRows),
		"clean_final_ids":        float64(qc.FinalIDs),
		"clean_dropped_dupes":    float64(qc.DroppedDuplicates),
		"clean_dropped_speed":    float64(qc.DroppedSpeedOutliers),
		"clean_dropped_segments": float64(qc.DroppedSmallSegments),
		"design_rows":            float64(len(designRows)),
		"strata_dropped":         float64(stats.StrataDropped),
		"lead_future_rate":       leadRate,
	}
	if err := db.SaveMetrics(runID, qcMetrics); err != nil {
		return err
	}
	log.Info().Str("run_id", runID).Str("db", cfg.Output.SQLitePath).Msg("design run recorded")
	return nil
}

func usedStepLengths(reg []track.Step) []float64 {
	out := make([]float64, 0, len(reg))
	for _, s := range reg {
		out = append(out, s.Length)
	}
	return out
}
