// Command stepselect builds a case-control design matrix for
// step-selection analysis of movement tracks and fits a conditional
// logistic model on it.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "stepselect",
	Short: "Step-selection analysis for animal movement tracks",
	Long: `stepselect regularizes noisy location fixes onto a fixed time grid,
builds used/available choice strata from the empirical movement kernel,
joins strictly same-timestamp social covariates, and fits a conditional
logistic model with temporally blocked cross-validation.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "stepselect.yaml", "path to run configuration YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(designCmd)
	rootCmd.AddCommand(fitCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
