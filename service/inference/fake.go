package inference

import (
	"context"
	"hash/fnv"
	"os"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
)

type fakeService struct {
}

// NewFake returns a deterministic stand-in for the external module: the score
// is derived from the content hash and compared against the threshold.
func NewFake() IService {
	return &fakeService{}
}

func (svc *fakeService) ProcessImage(_ context.Context, image []byte, _ string, _ string, threshold float64) (Result, error) {
	return verdictFor(image, threshold), nil
}

func (svc *fakeService) ProcessVideo(_ context.Context, path string, _ string, _ string, threshold float64, _ int) (Result, error) {
	return fromFile(path, threshold)
}

func (svc *fakeService) ProcessAudio(_ context.Context, path string, _ string, _ string, threshold float64, _ int) (Result, error) {
	return fromFile(path, threshold)
}

func (svc *fakeService) Close() error {
	return nil
}

func fromFile(path string, threshold float64) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, xerrors.Errorf("fake inference: %w", err)
	}
	if len(data) == 0 {
		return Result{Label: "empty media file", Score: model.FailureScore}, nil
	}
	return verdictFor(data, threshold), nil
}

func verdictFor(data []byte, threshold float64) Result {
	h := fnv.New32a()
	h.Write(data)
	score := float64(h.Sum32()%101) / 100

	if score >= threshold {
		return Result{Label: model.LabelFake, Score: score}
	}
	return Result{Label: model.LabelReal, Score: score}
}
