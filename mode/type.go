package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/df-go/service"
	"github.com/khaledhikmat/df-go/service/data"
	"github.com/khaledhikmat/df-go/service/lgr"
	"github.com/khaledhikmat/df-go/service/orphan"
)

type Processor func(canxCtx context.Context, svcs service.ServicesFactory) error

func procReport(report orphan.Report) {
	if report.Removed == 0 {
		return
	}

	lgr.Logger.Info(
		"orphaned scratch files removed",
		slog.Int("removed", report.Removed),
		slog.Int64("timestamp", report.Timestamp),
	)
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}
