package model

import (
	"fmt"
	"runtime/debug"
	"strings"

	"golang.org/x/xerrors"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type MediaType string

const (
	Image MediaType = "Image"
	Video MediaType = "Video"
	Audio MediaType = "Audio"
)

// MediaTypes lists the media types in the order the panel presents them.
var MediaTypes = []MediaType{Image, Video, Audio}

func ParseMediaType(s string) (MediaType, error) {
	for _, m := range MediaTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(m)) {
			return m, nil
		}
	}
	return "", xerrors.Errorf("unknown media type %q", s)
}

func (m MediaType) Noun() string {
	return strings.ToLower(string(m))
}

// NeedsScratch reports whether the media must be staged on disk before inference.
func (m MediaType) NeedsScratch() bool {
	return m == Video || m == Audio
}

const (
	LabelReal = "real"
	LabelFake = "fake"

	// FailureScore is returned by the inference layer in place of a score when the
	// call failed. The label then carries the error message.
	FailureScore = -1.0
)

type DetectionRequest struct {
	Media     MediaType `json:"media"`
	FileName  string    `json:"fileName"`
	Payload   []byte    `json:"-"`
	Model     string    `json:"model"`
	Dataset   string    `json:"dataset"`
	Threshold float64   `json:"threshold"`
	Frames    int       `json:"frames,omitempty"`
	Duration  int       `json:"duration,omitempty"`
}

// LengthParam is the frame count for video, the duration in seconds for audio
// and 0 for images.
func (r DetectionRequest) LengthParam() int {
	switch r.Media {
	case Video:
		return r.Frames
	case Audio:
		return r.Duration
	}
	return 0
}

// Verdict is either a successful classification or a failure message.
type Verdict struct {
	Label   string  `json:"label,omitempty"`
	Score   float64 `json:"score"`
	Message string  `json:"error,omitempty"`
	failed  bool
}

func Success(label string, score float64) Verdict {
	return Verdict{Label: label, Score: score}
}

func Failure(message string) Verdict {
	return Verdict{Message: message, failed: true}
}

func (v Verdict) Failed() bool {
	return v.failed
}

func (v Verdict) Real() bool {
	return !v.failed && v.Label == LabelReal
}

type LengthParam struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
	Default int    `json:"default"`
}

func (p LengthParam) Clamp(v int) int {
	if v == 0 {
		return p.Default
	}
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

type MediaOptions struct {
	Media    MediaType    `json:"media"`
	Models   []string     `json:"models"`
	Datasets []string     `json:"datasets"`
	Accept   []string     `json:"accept"`
	Length   *LengthParam `json:"length,omitempty"`
}

// Catalog maps each media type to the choices the panel offers for it.
type Catalog map[MediaType]MediaOptions
