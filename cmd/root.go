package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/service"
	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/data"
	"github.com/khaledhikmat/df-go/service/inference"
	"github.com/khaledhikmat/df-go/service/lgr"
	"github.com/khaledhikmat/df-go/service/orphan"
	"github.com/khaledhikmat/df-go/service/probe"
	"github.com/khaledhikmat/df-go/service/storage"
)

// Version is the application version.
const Version = "0.1.0"

const thumbnailWidth = 350

var (
	// svcs is built once in PersistentPreRunE and shared by subcommands
	svcs      service.ServicesFactory
	logCloser io.Closer
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:           "df-go",
	Short:         "Deepfake detection front-end for images, videos and audio",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load env vars if we are in DEV mode
		if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return xerrors.Errorf("loading %s: %w", envFile, err)
			}
		}

		cfgSvc := config.NewEnv()
		logCloser = lgr.Init(lgr.Options{
			File:       cfgSvc.GetLogFile(),
			Level:      cfgSvc.GetLogLevel(),
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		})

		var err error
		svcs, err = newServices(cmd.Context(), cfgSvc)
		return err
	},
}

func newServices(canxCtx context.Context, cfgSvc config.IService) (service.ServicesFactory, error) {
	// Data service
	dataSvc := data.NewFilesDB(cfgSvc)
	// Storage service
	storageSvc := storage.NewScratch(cfgSvc)
	// Orphan service
	orphanSvc := orphan.NewTimed(canxCtx, cfgSvc, storageSvc)

	// Inference service
	var inferenceSvc inference.IService
	switch backend := cfgSvc.GetInferenceBackend(); backend {
	case config.PythonBackend:
		inferenceSvc = inference.NewPython(cfgSvc)
	case config.FakeBackend:
		inferenceSvc = inference.NewFake()
	default:
		return service.ServicesFactory{}, xerrors.Errorf("unknown inference backend %q", backend)
	}

	lgr.Logger.Info("services ready",
		slog.String("inference", cfgSvc.GetInferenceBackend()),
		slog.String("uploads", storageSvc.GetFolder()),
	)

	return service.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      dataSvc,
		StorageSvc:   storageSvc,
		OrphanSvc:    orphanSvc,
		InferenceSvc: inferenceSvc,
		ProbeSvc:     probe.NewOpenCV(thumbnailWidth),
	}, nil
}

func closeServices() {
	if svcs.InferenceSvc != nil {
		if err := svcs.InferenceSvc.Close(); err != nil {
			lgr.Logger.Error("failed to close inference service", slog.Any("error", err))
		}
	}
	if svcs.OrphanSvc != nil {
		svcs.OrphanSvc.Finalize()
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// Post-run hooks are skipped on error, so services are closed here
	closeServices()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file loaded when RUN_TIME_ENV is dev or unset")
}
