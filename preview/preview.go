package preview

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/lgr"
	"github.com/khaledhikmat/df-go/service/probe"
	"github.com/khaledhikmat/df-go/service/storage"
)

var (
	ErrInvalidImage    = xerrors.New("Invalid image file")
	ErrUnsupportedType = xerrors.New("unsupported file type")
	ErrEmptyUpload     = xerrors.New("uploaded file is empty")
)

// Preview is what the page shows for an upload before analysis.
type Preview struct {
	Media    model.MediaType
	FileName string
	Size     int
	Caption  string
	// Source is a data URI usable by <img>, <video> or <audio>. It is empty
	// when the upload is too large to embed.
	Source string
	Image  *probe.ImageInfo
	Video  *probe.VideoInfo
	// Lease holds the staged video or audio file until Release
	Lease storage.Lease
}

// Release removes the staged file, if any. It is safe to call more than once.
func (p Preview) Release() error {
	if p.Lease == nil {
		return nil
	}
	err := p.Lease.Release()
	if err != nil {
		lgr.Logger.Error("failed to release preview file",
			slog.String("path", p.Lease.Path()),
			slog.Any("error", err),
		)
	}
	return err
}

type Builder struct {
	ProbeSvc   probe.IService
	StorageSvc storage.IService
	// MaxInline bounds the payload embedded in the page as a data URI
	MaxInline int64
}

func New(cfgSvc config.IService, probeSvc probe.IService, storageSvc storage.IService) *Builder {
	return &Builder{
		ProbeSvc:   probeSvc,
		StorageSvc: storageSvc,
		MaxInline:  cfgSvc.GetMaxInlinePreviewBytes(),
	}
}

// Build validates an upload and prepares its preview. A non-nil error means
// the request must not proceed to inference. Video and audio are staged once
// here; the caller passes Lease on to dispatch and must call Release.
func (b *Builder) Build(ctx context.Context, opts model.MediaOptions, req model.DetectionRequest) (Preview, error) {
	if len(req.Payload) == 0 {
		return Preview{}, ErrEmptyUpload
	}

	ext := Extension(req.FileName)
	if !slices.Contains(opts.Accept, ext) {
		return Preview{}, fmt.Errorf("%w %q for %s (accepted: %s)", ErrUnsupportedType, ext, req.Media.Noun(), strings.Join(opts.Accept, ", "))
	}

	p := Preview{
		Media:    req.Media,
		FileName: req.FileName,
		Size:     len(req.Payload),
	}

	switch req.Media {
	case model.Image:
		info, err := b.ProbeSvc.DecodeImage(req.Payload)
		if err != nil {
			lgr.Logger.Warn("image preview failed",
				slog.String("file", req.FileName),
				slog.Any("error", err),
			)
			return Preview{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
		}
		p.Image = &info
		p.Caption = "Uploaded Image"
		p.Source = dataURI("image/jpeg", info.Thumbnail)
		return p, nil

	case model.Video:
		p.Caption = "Uploaded Video"
	case model.Audio:
		p.Caption = "Audio Preview"
	default:
		return Preview{}, xerrors.Errorf("unknown media type %q", req.Media)
	}

	if err := ctx.Err(); err != nil {
		return Preview{}, err
	}

	lease, err := b.StorageSvc.Acquire(req.FileName, bytes.NewReader(req.Payload))
	if err != nil {
		return Preview{}, xerrors.Errorf("staging upload: %w", err)
	}
	p.Lease = lease

	if req.Media == model.Video {
		// A container the probe cannot read still goes to inference
		if info, err := b.ProbeSvc.ProbeVideo(lease.Path()); err == nil {
			p.Video = &info
		} else {
			lgr.Logger.Warn("video probe failed",
				slog.String("file", req.FileName),
				slog.Any("error", err),
			)
		}
	}

	if int64(len(req.Payload)) <= b.MaxInline {
		p.Source = dataURI(contentType(ext), req.Payload)
	}

	return p, nil
}

// Extension is the lower-cased extension without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Accept renders an accept list for an <input type=file>.
func Accept(opts model.MediaOptions) string {
	exts := make([]string, 0, len(opts.Accept))
	for _, e := range opts.Accept {
		exts = append(exts, "."+e)
	}
	return strings.Join(exts, ",")
}

func contentType(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "mp4":
		return "video/mp4"
	case "mov":
		return "video/quicktime"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func dataURI(contentType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}
