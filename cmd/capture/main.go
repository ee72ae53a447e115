// Package main provides the capture service: browser-driven screenshots
// and page-quality audits over HTTP, plus one-shot CLI equivalents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/capture/pkg/audit"
	"github.com/entrhq/capture/pkg/config"
	"github.com/entrhq/capture/pkg/engine"
	"github.com/entrhq/capture/pkg/intercept"
	"github.com/entrhq/capture/pkg/logging"
	"github.com/entrhq/capture/pkg/pipeline"
	"github.com/entrhq/capture/pkg/session"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
	install    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "capture: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "capture",
		Short:         "Browser screenshots and Lighthouse audits over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "Path to configuration file (YAML)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "Log format: json or console")
	root.PersistentFlags().BoolVar(&flags.install, "install-browsers", false, "Download the Playwright driver and Chromium before starting")

	root.AddCommand(
		newServeCmd(flags),
		newShootCmd(flags),
		newReportCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "capture v%s\n", version)
		},
	}
}

// app is everything a command needs once the engine is up.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	engine   *engine.Playwright
	pipeline *pipeline.Pipeline
}

// loadConfig reads the file and environment, then applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if flags.install {
		cfg.Engine.InstallBrowsers = true
	}
	return cfg, cfg.Validate()
}

// start builds the logger, launches the engine and wires the pipeline.
// The caller owns a.close.
func start(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil && log == nil {
		return nil, err
	}

	filter, err := intercept.NewFilter(cfg.Capture.TrustedOrigins)
	if err != nil {
		log.Close()
		return nil, err
	}

	eng := engine.NewPlaywright(cfg.Engine, log)
	if err := eng.Start(ctx); err != nil {
		_ = eng.Close()
		log.Close()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}

	sessions := session.NewManager(eng, cfg.Capture.MaxContexts, log)
	auditor := audit.NewLighthouse(cfg.Audit, eng.DebugPort(), nil, log)

	return &app{
		cfg:      cfg,
		log:      log,
		engine:   eng,
		pipeline: pipeline.New(sessions, filter, auditor, log),
	}, nil
}

func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		a.log.Warnf("engine close failed: %v", err)
	}
	_ = a.log.Close()
}
