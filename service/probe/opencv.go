package probe

import (
	"image"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

type openCVService struct {
	thumbWidth int
}

// NewOpenCV decodes and inspects media with OpenCV. Thumbnails are scaled
// down to thumbWidth pixels wide.
func NewOpenCV(thumbWidth int) IService {
	if thumbWidth <= 0 {
		thumbWidth = 350
	}
	return &openCVService{
		thumbWidth: thumbWidth,
	}
}

func (svc *openCVService) DecodeImage(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, xerrors.New("empty image buffer")
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return ImageInfo{}, xerrors.Errorf("decoding image: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return ImageInfo{}, xerrors.New("decoding image: not a supported image")
	}

	info := ImageInfo{
		Width:  img.Cols(),
		Height: img.Rows(),
	}

	thumb := gocv.NewMat()
	defer thumb.Close()

	if info.Width > svc.thumbWidth {
		height := info.Height * svc.thumbWidth / info.Width
		if height < 1 {
			height = 1
		}
		gocv.Resize(img, &thumb, image.Pt(svc.thumbWidth, height), 0, 0, gocv.InterpolationArea)
	} else {
		img.CopyTo(&thumb)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, thumb)
	if err != nil {
		return ImageInfo{}, xerrors.Errorf("encoding thumbnail: %w", err)
	}
	defer buf.Close()

	info.Thumbnail = append([]byte{}, buf.GetBytes()...)
	return info, nil
}

func (svc *openCVService) ProbeVideo(path string) (VideoInfo, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return VideoInfo{}, xerrors.Errorf("opening video: %w", err)
	}
	defer vc.Close()

	if !vc.IsOpened() {
		return VideoInfo{}, xerrors.New("opening video: container not readable")
	}

	info := VideoInfo{
		Frames: int(vc.Get(gocv.VideoCaptureFrameCount)),
		FPS:    vc.Get(gocv.VideoCaptureFPS),
	}
	if info.FPS > 0 && info.Frames > 0 {
		info.Duration = time.Duration(float64(info.Frames) / info.FPS * float64(time.Second))
	}

	return info, nil
}
