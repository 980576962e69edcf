// Package panel resolves the user's media type, model, dataset, threshold and
// length selections into a valid detection request.
package panel

import (
	"math"
	"slices"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
)

const DefaultThreshold = 0.5

// Selection is what the user submitted. Zero values mean "not chosen".
type Selection struct {
	Media     string
	Model     string
	Dataset   string
	Threshold *float64
	Frames    int
	Duration  int
}

func Options(catalog model.Catalog, media model.MediaType) (model.MediaOptions, error) {
	opts, ok := catalog[media]
	if !ok {
		return model.MediaOptions{}, xerrors.Errorf("no options for media type %q", media)
	}
	if len(opts.Models) == 0 || len(opts.Datasets) == 0 {
		return model.MediaOptions{}, xerrors.Errorf("media type %q has no models or datasets", media)
	}
	return opts, nil
}

// Resolve turns a selection into a request without payload. Choices outside the
// media's subset fall back to its first entry; numeric inputs are clamped.
func Resolve(catalog model.Catalog, sel Selection) (model.DetectionRequest, error) {
	media, err := model.ParseMediaType(sel.Media)
	if err != nil {
		return model.DetectionRequest{}, err
	}

	opts, err := Options(catalog, media)
	if err != nil {
		return model.DetectionRequest{}, err
	}

	threshold := DefaultThreshold
	if sel.Threshold != nil {
		threshold = ClampThreshold(*sel.Threshold)
	}

	req := model.DetectionRequest{
		Media:     media,
		Model:     choose(opts.Models, sel.Model),
		Dataset:   choose(opts.Datasets, sel.Dataset),
		Threshold: threshold,
	}

	if opts.Length != nil {
		switch media {
		case model.Video:
			req.Frames = opts.Length.Clamp(sel.Frames)
		case model.Audio:
			req.Duration = opts.Length.Clamp(sel.Duration)
		}
	}

	return req, nil
}

// ClampThreshold forces v into [0,1]. NaN yields the default.
func ClampThreshold(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultThreshold
	}
	return math.Max(0, math.Min(1, v))
}

func choose(allowed []string, wanted string) string {
	if slices.Contains(allowed, wanted) {
		return wanted
	}
	return allowed[0]
}
