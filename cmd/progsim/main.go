package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/caarlos0/env/v11"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/san-kum/progsim/internal/experiment"
	"github.com/san-kum/progsim/internal/logging"
	"github.com/san-kum/progsim/internal/storage"
)

// settings are read from the environment and may be overridden by flags.
type settings struct {
	DataDir  string `env:"PROGSIM_DATA_DIR" envDefault:".progsim"`
	LogLevel string `env:"PROGSIM_LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"PROGSIM_LOG_JSON" envDefault:"false"`
}

type app struct {
	settings settings
	log      logr.Logger
	registry *experiment.Registry
}

func (a *app) store() (*storage.Store, error) {
	st := storage.New(a.settings.DataDir)
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("init data dir: %w", err)
	}
	return st, nil
}

func main() {
	a := &app{registry: experiment.NewRegistry()}
	if err := env.Parse(&a.settings); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:           "progsim",
		Short:         "prognostics model simulation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := logging.ParseLevel(a.settings.LogLevel)
			if err != nil {
				return err
			}
			a.log = logging.New(v, a.settings.LogJSON).WithName("progsim")
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.settings.DataDir, "data", a.settings.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&a.settings.LogLevel, "log-level", a.settings.LogLevel, "log level (info, debug, trace)")
	rootCmd.PersistentFlags().BoolVar(&a.settings.LogJSON, "log-json", a.settings.LogJSON, "log as json")

	rootCmd.AddCommand(
		a.runCmd(),
		a.ensembleCmd(),
		a.sweepCmd(),
		a.scenarioCmd(),
		a.listCmd(),
		a.plotCmd(),
		a.exportJSONCmd(),
		a.exportSVGCmd(),
		a.modelsCmd(),
		a.presetsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, eventStyle.Render("error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}
