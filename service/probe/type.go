package probe

import "time"

type ImageInfo struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Thumbnail []byte `json:"-"` // JPEG
}

type VideoInfo struct {
	Frames   int           `json:"frames"`
	FPS      float64       `json:"fps"`
	Duration time.Duration `json:"duration"`
}

type IService interface {
	DecodeImage(data []byte) (ImageInfo, error)
	ProbeVideo(path string) (VideoInfo, error)
}
