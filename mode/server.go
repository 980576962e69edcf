package mode

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/khaledhikmat/df-go/dispatch"
	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/render"
	"github.com/khaledhikmat/df-go/service"
	"github.com/khaledhikmat/df-go/service/lgr"
	"github.com/khaledhikmat/df-go/web"
)

// Server runs the web front-end until the context is cancelled. While it
// runs, it subscribes to the orphan service so stale scratch files are swept.
func Server(canxCtx context.Context, svcs service.ServicesFactory) error {
	gin.SetMode(svcs.CfgSvc.GetGinMode())

	// The rendering context is built once and shared by every request
	rc, err := render.NewContext(svcs.CfgSvc.GetPageTitle(), svcs.CfgSvc.GetPageIcon())
	if err != nil {
		return err
	}

	dispatcher := dispatch.New(svcs.CfgSvc, svcs.InferenceSvc, svcs.StorageSvc)
	srv := &http.Server{
		Addr:              svcs.CfgSvc.GetHTTPAddr(),
		Handler:           web.NewServer(svcs, rc, dispatcher).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Reclaim anything a previous run left behind
	report, err := svcs.OrphanSvc.SweepNow()
	if err != nil {
		procError(svcs.DataSvc, model.GenError("server", err, map[string]interface{}{}, "initial scratch sweep failed"))
	}
	procReport(report)

	orphanStream, err := svcs.OrphanSvc.Subscribe()
	if err != nil {
		return err
	}
	defer func() {
		_ = svcs.OrphanSvc.Unsubscribe()
	}()

	// Create an error stream
	errorStream := make(chan interface{}, 1)

	go func() {
		lgr.Logger.Info(
			"web server listening",
			slog.String("addr", srv.Addr),
		)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorStream <- model.GenError("server",
				err,
				map[string]interface{}{
					"addr": srv.Addr,
				},
				"web server stopped")
		}
	}()

	var serveErr error

	// Wait for cancellation, sweep reports or a server failure
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"web server context cancelled",
			)
			goto resume

		case report, ok := <-orphanStream:
			if !ok {
				orphanStream = nil
				continue
			}
			procReport(report)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
			if ce, ok := e.(model.CustomError); ok {
				serveErr = ce
			}
			goto resume
		}
	}

resume:
	period := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	lgr.Logger.Info(
		"web server is draining in-flight requests",
		slog.Duration("period", period),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), period)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Logger.Error(
			"web server shutdown did not complete",
			slog.Any("error", err),
		)
	}

	return serveErr
}
