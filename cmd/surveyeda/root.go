package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kshedden/surveyeda"
)

// app holds the state shared by the commands once the configuration
// has been resolved.
type app struct {
	cfg    Config
	logger *zap.Logger
}

// execute runs the command line and returns the exit code.
func execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		plotsDir   string
		logLevel   string
	)

	a := new(app)

	rootCmd := &cobra.Command{
		Use:           "surveyeda",
		Short:         "Load yearly survey exports and print an exploratory report",
		Long:          "Loads the yearly marriage and divorce survey files, unifies each domain into one table, and prints a descriptive report.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			// Apply precedence: flag > env > file > default
			if cmd.Flags().Changed("plots-dir") {
				cfg.PlotsDir = plotsDir
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.run(cmd.OutOrStdout())
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&plotsDir, "plots-dir", "", "Directory in which histogram PNG files are saved")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newCSVCmd(a))
	rootCmd.AddCommand(newInspectCmd())

	return rootCmd
}

// run loads and reports every configured domain in turn.  A domain
// that cannot be loaded is reported and skipped.
func (a *app) run(out io.Writer) {

	reporter := &surveyeda.Reporter{
		Out:     out,
		PlotDir: a.cfg.PlotsDir,
		Logger:  a.logger.Named("report"),
	}

	for _, d := range a.cfg.Domains {
		tbl := a.loadDomain(out, d)
		reporter.Roles = d.Schema.Roles
		if err := reporter.Report(tbl, d.Name); err != nil {
			a.logger.Error("report failed", zap.String("domain", d.Name), zap.Error(err))
		}
	}

	fmt.Fprintf(out, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintln(out, "TIP: for the 'relationships between variables' section,")
	fmt.Fprintln(out, "try crossing EDAD with DEPARTAMENTO or OCUPACION.")
	fmt.Fprintf(out, "%s\n", strings.Repeat("=", 60))
}

// loadDomain loads one domain, printing its progress to out.  It
// returns nil when the domain is absent.
func (a *app) loadDomain(out io.Writer, d surveyeda.Domain) *surveyeda.Table {

	fmt.Fprintf(out, "\n🚀 PROCESSING: %s from %s...\n", d.Name, d.Folder)

	loader := surveyeda.NewLoader(d.Schema, a.logger)
	res, err := loader.Load(d.Folder, d.Name)

	if res != nil {
		for _, fr := range res.Files {
			if fr.OK() {
				fmt.Fprintf(out, "   -> Loaded: %s (%d rows)\n", fr.Name, fr.Rows)
			} else {
				fmt.Fprintf(out, "   ❌ Error reading %s: %v\n", fr.Name, fr.Err)
			}
		}
	}

	switch {
	case errors.Is(err, surveyeda.ErrNoFiles):
		fmt.Fprintf(out, "⚠️  WARNING: no %s files found in %s\n", d.Schema.Extension, d.Folder)
		return nil
	case errors.Is(err, surveyeda.ErrNoFilesLoaded):
		fmt.Fprintf(out, "⚠️  WARNING: none of the files in %s could be loaded\n", d.Folder)
		return nil
	case err != nil:
		fmt.Fprintf(out, "❌ ERROR: %s could not be loaded: %v\n", d.Name, err)
		a.logger.Error("domain skipped", zap.String("domain", d.Name), zap.Error(err))
		return nil
	}

	return res.Table
}
