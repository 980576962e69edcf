package orphan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/lgr"
	"github.com/khaledhikmat/df-go/service/storage"
)

type timedService struct {
	CanxCtx       context.Context
	SubsCtx       context.Context
	SubsCancel    context.CancelFunc
	ReportChannel chan Report
	CfgSvc        config.IService
	StorageSvc    storage.IService

	mutex   sync.Mutex
	running sync.WaitGroup
}

// NewTimed sweeps the scratch folder every GetScratchSweepPeriod seconds once
// subscribed, removing files older than GetScratchTTL seconds.
func NewTimed(canxCtx context.Context, cfgSvc config.IService, storageSvc storage.IService) IService {
	return &timedService{
		CanxCtx:    canxCtx,
		CfgSvc:     cfgSvc,
		StorageSvc: storageSvc,
	}
}

func (svc *timedService) SweepNow() (Report, error) {
	ttl := time.Duration(svc.CfgSvc.GetScratchTTL()) * time.Second
	removed, err := svc.StorageSvc.Sweep(ttl)
	if err != nil {
		return Report{}, xerrors.Errorf("orphan sweep: %w", err)
	}

	return Report{
		Removed:   removed,
		Timestamp: time.Now().Unix(),
	}, nil
}

func (svc *timedService) Subscribe() (<-chan Report, error) {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	if svc.SubsCtx != nil {
		lgr.Logger.Error(
			"orphan timed service. Already subscribed. Unsubscribe first",
		)
		return nil, xerrors.New("orphan timed service. child context is not nil. Unsubscribe first")
	}

	// One report channel for the lifetime of the service regardless of
	// how many times we subscribe/unsubscribe
	if svc.ReportChannel == nil {
		svc.ReportChannel = make(chan Report, 1)
	}

	subsCtx, subsCancel := context.WithCancel(svc.CanxCtx)
	svc.SubsCtx = subsCtx
	svc.SubsCancel = subsCancel

	period := time.Duration(svc.CfgSvc.GetScratchSweepPeriod()) * time.Second
	reports := svc.ReportChannel

	svc.running.Add(1)
	go func() {
		defer svc.running.Done()
		defer svc.release(subsCtx)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-subsCtx.Done():
				lgr.Logger.Info(
					"orphan timed service context cancelled",
				)
				return
			case <-ticker.C:
				report, err := svc.SweepNow()
				if err != nil {
					lgr.Logger.Error(
						"orphan timed service sweep failed",
						slog.Any("error", err),
					)
					continue
				}

				// Drop the report if nobody is listening
				select {
				case reports <- report:
				default:
				}
			}
		}
	}()

	return reports, nil
}

func (svc *timedService) Unsubscribe() error {
	svc.mutex.Lock()
	subscribed := svc.SubsCtx != nil
	svc.mutex.Unlock()

	if !subscribed {
		return xerrors.New("not subscribed yet. Subscribe first")
	}

	svc.cleanup()
	return nil
}

func (svc *timedService) Finalize() {
	svc.cleanup()
	// The sweeper may still be publishing
	svc.running.Wait()

	svc.mutex.Lock()
	defer svc.mutex.Unlock()
	if svc.ReportChannel != nil {
		close(svc.ReportChannel)
		svc.ReportChannel = nil
	}
}

func (svc *timedService) cleanup() {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	if svc.SubsCancel != nil {
		svc.SubsCancel()
		svc.SubsCtx = nil
		svc.SubsCancel = nil
	}
}

// release clears the subscription only if it is still the one that ended
func (svc *timedService) release(ctx context.Context) {
	svc.mutex.Lock()
	defer svc.mutex.Unlock()

	if svc.SubsCtx == ctx && svc.SubsCancel != nil {
		svc.SubsCancel()
		svc.SubsCtx = nil
		svc.SubsCancel = nil
	}
}
