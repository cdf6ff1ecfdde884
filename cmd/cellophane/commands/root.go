// Package commands implements the cellophane CLI.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ClinicalGenomicsGBG/cellophane/internal/observability"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/cfg"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/dispatcher"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/executor"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/modules"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/util"
	"github.com/ClinicalGenomicsGBG/cellophane/pkg/version"
)

// Exit codes: sample failures are not engine failures.
const (
	exitOK        = 0
	exitError     = 1
	exitInterrupt = 130
)

// engineSchema declares the flags the engine itself relies on; pipeline
// schemas merge on top.
const engineSchema = `
type: object
required: [workdir]
properties:
  workdir:
    type: string
    description: Session working directory
  resultdir:
    type: string
    description: Result directory (default workdir/results)
  logdir:
    type: string
    description: Log directory (default workdir/logs)
  tag:
    type: string
    description: Session tag (default timestamp)
  samples_file:
    type: string
    description: YAML file with input samples
  config_file:
    type: string
    description: Configuration file
  executor:
    type: object
    properties:
      name:
        type: string
        description: Executor implementation
        default: local
      cpus:
        type: integer
        description: Default CPUs per job
        default: 1
      memory:
        type: string
        format: size
        description: Default memory per job
`

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root, err := NewRootCommand()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := root.ExecuteContext(ctx)

	switch {
	case runErr == nil:
		return exitOK
	case errors.Is(runErr, dispatcher.ErrInterrupted):
		return exitInterrupt
	default:
		return exitError
	}
}

// NewRootCommand builds the CLI: engine flags plus one flag per leaf of
// the merged pipeline schema.
func NewRootCommand() (*cobra.Command, error) {
	pipelineRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline root: %w", err)
	}

	if fromEnv := os.Getenv("CELLOPHANE_ROOT"); fromEnv != "" {
		pipelineRoot = fromEnv
	}

	schema, err := loadMergedSchema(pipelineRoot)
	if err != nil {
		return nil, err
	}

	flags := schema.Flags()

	cmd := &cobra.Command{
		Use:           filepath.Base(pipelineRoot),
		Short:         "Run the " + filepath.Base(pipelineRoot) + " pipeline",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd, pipelineRoot, schema, flags)
		},
	}

	cmd.Flags().Bool("log_json", false, "JSON console logging")
	cmd.Flags().Bool("no_color", false, "Disable colored output")
	cmd.Flags().String("log_level", "info", "Minimum log level [debug|info|warn|error]")
	cmd.Flags().String("otlp_endpoint", "", "OTLP gRPC collector for trace export (empty disables)")
	cmd.Flags().Bool("otlp_insecure", false, "Disable TLS for the OTLP connection")
	cmd.Flags().Bool("metrics", false, "Collect prometheus metrics for the session")

	// Required keys are enforced by schema validation after the config
	// file merges in, not by cobra: --config_file may supply them.
	cfg.RegisterFlags(cmd, flags)

	return cmd, nil
}

// loadMergedSchema merges the engine schema with the pipeline's
// schema.yaml and every modules/*/schema.yaml.
func loadMergedSchema(pipelineRoot string) (*cfg.Schema, error) {
	paths := []string{filepath.Join(pipelineRoot, "schema.yaml")}

	moduleSchemas, _ := filepath.Glob(
		filepath.Join(pipelineRoot, "modules", "*", "schema.yaml"))
	paths = append(paths, moduleSchemas...)

	engine, err := cfg.LoadSchemaBytes([]byte(engineSchema))
	if err != nil {
		return nil, err
	}

	pipeline, err := cfg.LoadSchema(paths...)
	if err != nil {
		return nil, err
	}

	return engine.Merge(pipeline), nil
}

func parseLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runSession binds configuration, resolves modules, and dispatches.
func runSession(
	cmd *cobra.Command,
	pipelineRoot string,
	schema *cfg.Schema,
	flags []cfg.Flag,
) error {
	ts := util.NewTimestamp()

	overrides, err := cfg.CollectOverrides(cmd, flags)
	if err != nil {
		return err
	}

	configFile := cfg.LookupString(cmd.Flags(), "config_file")

	config, err := cfg.Load(schema, configFile, overrides, ts)
	if err != nil {
		return err
	}

	logJSON, _ := cmd.Flags().GetBool("log_json")
	noColor, _ := cmd.Flags().GetBool("no_color")
	logLevel, _ := cmd.Flags().GetString("log_level")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp_endpoint")
	otlpInsecure, _ := cmd.Flags().GetBool("otlp_insecure")
	metrics, _ := cmd.Flags().GetBool("metrics")

	obsCfg := observability.DefaultConfig()
	obsCfg.LogLevel = parseLevel(logLevel)
	obsCfg.LogJSON = logJSON
	obsCfg.NoColor = noColor
	obsCfg.Logdir = config.Logdir()
	obsCfg.Tag = config.Tag()
	obsCfg.OTLPEndpoint = otlpEndpoint
	obsCfg.OTLPInsecure = otlpInsecure
	obsCfg.EnableMetrics = metrics

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() { _ = providers.Shutdown(context.Background()) }()

	log := providers.Queue.Logger("cellophane")
	log.Info("Starting session",
		"tag", config.Tag(), "workdir", config.Workdir(), "version", version.Version)

	resolved, err := modules.Default.Resolve()
	if err != nil {
		return err
	}

	samples := resolved.SampleType.NewSamples()

	if path := config.SamplesFile(); path != "" {
		samples, err = resolved.SampleType.FromFile(path)
		if err != nil {
			return err
		}
	}

	// Reject unknown executor names before any worker starts.
	_, err = executor.NewImpl(config.ExecutorName())
	if err != nil {
		return err
	}

	implFactory := func() executor.Impl {
		impl, _ := executor.NewImpl(config.ExecutorName())

		return impl
	}

	dispatch := &dispatcher.Dispatcher{
		Config:       config,
		Root:         pipelineRoot,
		Timestamp:    ts,
		Hooks:        resolved.Hooks,
		Runners:      resolved.Runners,
		ExecutorImpl: implFactory,
		Log:          log,
		Tracer:       providers.Tracer,
		Meter:        providers.Meter,
	}

	result, runErr := dispatch.Run(cmd.Context(), samples)

	printSummary(cmd.OutOrStdout(), result, noColor)

	log.Info("Session finished",
		"complete", result.Complete().Len(), "failed", result.Failed().Len())

	if runErr != nil {
		return runErr
	}

	return nil
}
