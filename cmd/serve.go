package cmd

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/khaledhikmat/df-go/mode"
	"github.com/khaledhikmat/df-go/service/lgr"
)

// WARNING: this has to be bigger than the mode processor shutdown time
const waitOnShutdown = 8 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web front-end",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, mode.Server)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runMode(cmd *cobra.Command, modeProc mode.Processor) error {
	canxCtx := cmd.Context()

	modeProcResult := make(chan error, 1)
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or the mode processor to exit on its own
	var procErr error
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"received kill signal",
		)
	case procErr = <-modeProcResult:
		if procErr != nil {
			lgr.Logger.Info(
				"mode processor exited",
				slog.Any("error", procErr),
			)
		}
		return procErr
	}

	lgr.Logger.Info(
		"waiting for the mode processor to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)
	case procErr = <-modeProcResult:
	}

	return procErr
}
