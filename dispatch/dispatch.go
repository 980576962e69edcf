package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/inference"
	"github.com/khaledhikmat/df-go/service/lgr"
	"github.com/khaledhikmat/df-go/service/storage"
)

const (
	errorPrefix = "Error processing file: "
	tracerName  = "df-go/dispatch"
)

// Progress receives the elapsed inference time on every tick and once more
// with done set when the call returns.
type Progress func(elapsed time.Duration, done bool)

type Dispatcher struct {
	InferenceSvc inference.IService
	StorageSvc   storage.IService
	Tracer       trace.Tracer
	Timeout      time.Duration
	Tick         time.Duration
}

func New(cfgSvc config.IService, inferenceSvc inference.IService, storageSvc storage.IService) *Dispatcher {
	return &Dispatcher{
		InferenceSvc: inferenceSvc,
		StorageSvc:   storageSvc,
		Tracer:       otel.Tracer(tracerName),
		Timeout:      time.Duration(cfgSvc.GetInferenceTimeout()) * time.Second,
		Tick:         time.Duration(cfgSvc.GetProgressInterval()) * time.Millisecond,
	}
}

// Dispatch runs one request through the matching inference entry point. It
// never returns an error: every failure, including a panic in the inference
// layer, becomes a failure verdict.
func (d *Dispatcher) Dispatch(ctx context.Context, req model.DetectionRequest, progress Progress) model.Verdict {
	return d.DispatchStaged(ctx, req, nil, progress)
}

// DispatchStaged is Dispatch for a video or audio payload the caller already
// staged. The caller keeps ownership of the lease. A nil lease stages the
// payload for the duration of the call.
func (d *Dispatcher) DispatchStaged(ctx context.Context, req model.DetectionRequest, lease storage.Lease, progress Progress) model.Verdict {
	ctx, span := d.Tracer.Start(ctx, "dispatch."+req.Media.Noun(),
		trace.WithAttributes(
			attribute.String("media", string(req.Media)),
			attribute.String("model", req.Model),
			attribute.String("dataset", req.Dataset),
			attribute.Float64("threshold", req.Threshold),
			attribute.Int("length", req.LengthParam()),
			attribute.Int("bytes", len(req.Payload)),
		))
	defer span.End()

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	stop := d.track(progress)
	start := time.Now()
	res, err := d.invoke(ctx, req, lease)
	stop()

	verdict := toVerdict(res, err)
	if verdict.Failed() {
		span.SetStatus(codes.Error, verdict.Message)
		lgr.Logger.Warn("inference failed",
			slog.String("media", string(req.Media)),
			slog.String("file", req.FileName),
			slog.String("model", req.Model),
			slog.String("message", verdict.Message),
			slog.Any("error", err),
		)
		return verdict
	}

	span.SetAttributes(
		attribute.String("label", verdict.Label),
		attribute.Float64("score", verdict.Score),
	)
	lgr.Logger.Info("inference completed",
		slog.String("media", string(req.Media)),
		slog.String("file", req.FileName),
		slog.String("model", req.Model),
		slog.String("label", verdict.Label),
		slog.Float64("score", verdict.Score),
		slog.Duration("elapsed", time.Since(start)),
	)
	return verdict
}

func (d *Dispatcher) invoke(ctx context.Context, req model.DetectionRequest, lease storage.Lease) (res inference.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("inference panicked: %v", r)
		}
	}()

	switch req.Media {
	case model.Image:
		return d.InferenceSvc.ProcessImage(ctx, req.Payload, req.Model, req.Dataset, req.Threshold)
	case model.Video, model.Audio:
	default:
		return res, xerrors.Errorf("unknown media type %q", req.Media)
	}

	if lease == nil {
		lease, err = d.StorageSvc.Acquire(req.FileName, bytes.NewReader(req.Payload))
		if err != nil {
			return res, err
		}
		defer func() {
			if relErr := lease.Release(); relErr != nil {
				lgr.Logger.Error("failed to release scratch file",
					slog.String("path", lease.Path()),
					slog.Any("error", relErr),
				)
			}
		}()
	}

	if req.Media == model.Video {
		return d.InferenceSvc.ProcessVideo(ctx, lease.Path(), req.Model, req.Dataset, req.Threshold, req.Frames)
	}
	return d.InferenceSvc.ProcessAudio(ctx, lease.Path(), req.Model, req.Dataset, req.Threshold, req.Duration)
}

func toVerdict(res inference.Result, err error) model.Verdict {
	if err != nil {
		return model.Failure(errorPrefix + err.Error())
	}
	if res.Score == model.FailureScore {
		msg := strings.TrimSpace(res.Label)
		if msg == "" {
			msg = errorPrefix + "inference failed without a message"
		}
		return model.Failure(msg)
	}
	if math.IsNaN(res.Score) || res.Score < 0 || res.Score > 1 {
		return model.Failure(fmt.Sprintf("%sinvalid score %v", errorPrefix, res.Score))
	}
	return model.Success(strings.ToLower(strings.TrimSpace(res.Label)), res.Score)
}

func (d *Dispatcher) track(progress Progress) func() {
	if progress == nil {
		return func() {}
	}

	tick := d.Tick
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}

	start := time.Now()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				progress(time.Since(start), false)
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		progress(time.Since(start), true)
	}
}
