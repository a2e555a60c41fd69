package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tagbase/stepselect/internal/config"
	"github.com/tagbase/stepselect/internal/export"
	"github.com/tagbase/stepselect/internal/fit"
	"github.com/tagbase/stepselect/internal/report"
	"github.com/tagbase/stepselect/internal/store"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the conditional logit on a stored design run",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runFit(cfg)
	},
}

func runFit(cfg *config.Config) error {
	db, err := store.Open(cfg.Output.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.LatestRun()
	if err != nil {
		return err
	}
	rows, err := db.LoadDesign(runID)
	if err != nil {
		return err
	}
	log.Info().Str("run_id", runID).Int("rows", len(rows)).Msg("loaded design")

	formula := cfg.Fit.Formula
	complete, dropped := fit.CompleteStrata(rows, formula)
	if dropped > 0 {
		log.Info().Int("strata", dropped).Msg("dropped incomplete strata before fitting")
	}

	res := fit.Fit(complete, formula)
	metrics := map[string]float64{}
	var cvOut *fit.CVMetrics

	switch res.Status {
	case fit.Fitted:
		m := res.Model
		log.Info().
			Float64("loglik", m.LogLik).
			Float64("aic", m.AIC).
			Float64("bic", m.BIC).
			Int("df", m.DF).
			Int("n", m.NObs).
			Msg("conditional logit fitted")
		for i, name := range m.Covariates {
			log.Info().Str("covariate", name).Float64("beta", m.Coef[i]).Msg("coefficient")
			metrics["beta_"+name] = m.Coef[i]
		}
		metrics["loglik"] = m.LogLik
		metrics["aic"] = m.AIC
		metrics["bic"] = m.BIC
		metrics["df"] = float64(m.DF)
		metrics["n_obs"] = float64(m.NObs)

		cv, err := fit.CrossValidate(complete, formula, cfg.Fit.CVFolds)
		if err != nil {
			// Partial fold metrics are not final metrics.
			log.Warn().Err(err).Msg("cross-validation halted")
			metrics["cv_error"] = 1
		} else {
			cvOut = &cv
			metrics["cv_log_score"] = cv.LogScore
			metrics["cv_mean_rank"] = cv.MeanRank
			metrics["cv_top1"] = cv.Top1
			metrics["cv_folds"] = float64(cv.Folds)
		}

	case fit.BackendUnavailable, fit.ConvergenceFailure:
		log.Warn().
			Stringer("status", res.Status).
			Err(res.Err).
			Msg("model not fitted; exporting design for external fitting")
		path := cfg.Output.RExportCSV
		if path == "" {
			path = "outputs/issa_design.csv"
		}
		hint, err := export.WriteRExport(path, complete, formula)
		if err != nil {
			return err
		}
		log.Info().Str("path", path).Msg(hint)
		metrics["fit_failed"] = 1
	}

	if len(metrics) > 0 {
		if err := db.SaveMetrics(runID, metrics); err != nil {
			return err
		}
	}

	if path := cfg.Output.ReportHTML; path != "" {
		in := report.Input{
			RunID:     runID,
			Formula:   formula,
			FitResult: res,
			CV:        cvOut,
			Metrics:   metrics,
		}
		if err := report.WriteHTML(path, in); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wrote report")
	}
	return nil
}
