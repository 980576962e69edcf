package inference

import "context"

// Result is the raw (label, score) pair returned by the external inference
// layer. A Score of model.FailureScore means Label holds an error message.
type Result struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// IService mirrors the three entry points of the external inference module.
type IService interface {
	ProcessImage(ctx context.Context, image []byte, modelName, dataset string, threshold float64) (Result, error)
	ProcessVideo(ctx context.Context, path, modelName, dataset string, threshold float64, frames int) (Result, error)
	ProcessAudio(ctx context.Context, path, modelName, dataset string, threshold float64, duration int) (Result, error)
	Close() error
}
