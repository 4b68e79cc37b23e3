package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/vs-overlay/metric"
	"github.com/khaledhikmat/vs-overlay/mode"
	"github.com/khaledhikmat/vs-overlay/pipeline"
	"github.com/khaledhikmat/vs-overlay/service/config"
	"github.com/khaledhikmat/vs-overlay/service/data"
	"github.com/khaledhikmat/vs-overlay/service/lgr"
	"github.com/khaledhikmat/vs-overlay/service/orphan"
	"github.com/khaledhikmat/vs-overlay/vision"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "vs-overlay",
		Short:         "Video stream overlay agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loadEnv()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to VS_CONFIG)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "manager",
		Short: "Run pipeline agents for orphaned cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFlag, mode.Manager, false)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "simulate",
		Short: "Run one agent over a synthetic camera and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFlag, mode.Simulate, true)
		},
	})

	rootCmd.AddCommand(newExclusionCommand("exclude", "Stop serving cameras and keep them from being picked up", true, &configFlag))
	rootCmd.AddCommand(newExclusionCommand("include", "Make excluded cameras available to agents again", false, &configFlag))

	return rootCmd
}

func newExclusionCommand(use, short string, excluded bool, configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <camera-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgSvc, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}
			return mode.Exclude(data.NewFilesDB(cfgSvc), excluded, args...)
		},
	}
}

// Load env vars if we are in DEV mode
func loadEnv() {
	if env := os.Getenv("RUN_TIME_ENV"); env == "dev" || env == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			lgr.Logger.Error("error loading .env file", lgr.Err(xerrors.New(err.Error())))
		}
	}
	lgr.Configure(lgr.OptionsFromEnv())
}

func loadConfig(path string) (config.IService, error) {
	if path != "" {
		return config.NewToml(path)
	}
	return config.Load()
}

// newServices creates the services needed for the mode processor. The mode processor can
// override them with different implementations.
func newServices(canxCtx context.Context, cfgSvc config.IService, metrics *metric.Registry, simulate bool) (pipeline.ServicesFactory, func() error, error) {
	dataSvc := data.NewFilesDB(cfgSvc)

	svcs := pipeline.ServicesFactory{
		CfgSvc:  cfgSvc,
		DataSvc: dataSvc,
		OrphanSvc: orphan.NewPolled(canxCtx,
			dataSvc,
			time.Duration(cfgSvc.GetAgentsManagerPeriodicTimeout())*time.Second,
			cfgSvc.GetMaxOrphanedCameras()),
		Metrics: metrics.Metrics,
		Painter: vision.NewPainter(),
		Sinks:   vision.SinkOpener(cfgSvc),
	}

	if simulate {
		svcs.Sources = vision.SimulationOpener(cfgSvc)
		return svcs, func() error { return nil }, nil
	}

	svcs.Sources = vision.SourceOpener(cfgSvc)
	detector, err := vision.NewYolo5(cfgSvc.GetDetectorParameters(), cfgSvc.GetAnalyzerMaxWorkers())
	if err != nil {
		return svcs, nil, fmt.Errorf("error creating detector: %w", err)
	}
	svcs.InferenceSvc = detector
	return svcs, detector.Close, nil
}

func run(ctx context.Context, configPath string, modeProc mode.Processor, simulate bool) error {
	canxCtx, canxFn := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer canxFn()

	cfgSvc, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	metrics := metric.NewRegistry()
	svcs, closeSvcs, err := newServices(canxCtx, cfgSvc, metrics, simulate)
	if err != nil {
		return err
	}

	// Start the mode processor
	modeProcResult := make(chan error, 1)
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs, metrics)
	}()

	// Wait for cancellation or the mode proc
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"agents pod context cancelled",
		)
	case err := <-modeProcResult:
		closeSvcs()
		if err != nil {
			lgr.Logger.Info(
				"agents pod mode processor exited",
				lgr.Err(xerrors.Errorf("mode processor: %w", err)),
			)
		}
		return err
	}

	// The mode processor may need to report errors as it is exiting
	lgr.Logger.Info(
		"agents pod is waiting for the mode processor to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		// agents may still hold the detector nets
		lgr.Logger.Info(
			"agents pod shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)
		return nil
	case err := <-modeProcResult:
		closeSvcs()
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
