package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/panel"
	"github.com/khaledhikmat/df-go/preview"
	"github.com/khaledhikmat/df-go/render"
	"github.com/khaledhikmat/df-go/service/lgr"
)

var errNoFile = xerrors.New("Please upload a file to begin analysis")

// intake is a parsed and validated upload, ready for dispatch.
type intake struct {
	opts    model.MediaOptions
	req     model.DetectionRequest
	preview preview.Preview
}

func (s *Server) handlePage(c *gin.Context) {
	media := c.DefaultQuery("media", string(model.Image))
	page, err := s.newPage(panel.Selection{Media: media})
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	c.HTML(http.StatusOK, render.PageTemplate, page)
}

func (s *Server) handleDetect(c *gin.Context) {
	in, page, err := s.intake(c)
	if err != nil {
		if page == nil {
			c.String(statusFor(err), err.Error())
			return
		}
		page.Error = userMessage(err)
		c.HTML(statusFor(err), render.PageTemplate, page)
		return
	}

	defer in.preview.Release()

	verdict := s.dispatcher.DispatchStaged(c.Request.Context(), in.req, in.preview.Lease, nil)
	s.journal(c, in.req, verdict)

	c.HTML(http.StatusOK, render.PageTemplate, page.WithVerdict(verdict))
}

func (s *Server) handleOptions(c *gin.Context) {
	media, err := model.ParseMediaType(c.Query("media"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := s.svcs.DataSvc.RetrieveMediaOptions(media)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"options":          opts,
		"defaultThreshold": panel.DefaultThreshold,
		"missingArtifacts": s.svcs.DataSvc.RetrieveMissingAudioArtifacts(),
	})
}

func (s *Server) handleAPIDetect(c *gin.Context) {
	in, _, err := s.intake(c)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": userMessage(err)})
		return
	}

	defer in.preview.Release()

	verdict := s.dispatcher.DispatchStaged(c.Request.Context(), in.req, in.preview.Lease, nil)
	s.journal(c, in.req, verdict)

	status := http.StatusOK
	if verdict.Failed() {
		status = http.StatusBadGateway
	}
	c.JSON(status, verdictBody(in.req, verdict))
}

// handleAPIDetectStream emits server-sent "progress" events while inference
// runs and a final "result" event.
func (s *Server) handleAPIDetectStream(c *gin.Context) {
	in, _, err := s.intake(c)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": userMessage(err)})
		return
	}

	ctx := c.Request.Context()
	progress := make(chan time.Duration, 8)
	result := make(chan model.Verdict, 1)

	// The handler may return on disconnect before inference does
	go func() {
		defer in.preview.Release()
		result <- s.dispatcher.DispatchStaged(ctx, in.req, in.preview.Lease, func(elapsed time.Duration, done bool) {
			if done {
				return
			}
			// Slow clients miss ticks rather than stall inference
			select {
			case progress <- elapsed:
			default:
			}
		})
	}()

	c.Stream(func(w io.Writer) bool {
		select {
		case elapsed := <-progress:
			c.SSEvent("progress", gin.H{"elapsedMs": elapsed.Milliseconds()})
			return true
		case verdict := <-result:
			s.journal(c, in.req, verdict)
			c.SSEvent("result", verdictBody(in.req, verdict))
			return false
		case <-ctx.Done():
			return false
		}
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	missing := s.svcs.DataSvc.RetrieveMissingAudioArtifacts()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"inference":        s.svcs.CfgSvc.GetInferenceBackend(),
		"audioModel":       len(missing) == 0,
		"missingArtifacts": missing,
	})
}

func (s *Server) newPage(sel panel.Selection) (render.PageData, error) {
	catalog, err := s.svcs.DataSvc.RetrieveCatalog()
	if err != nil {
		return render.PageData{}, err
	}

	req, err := panel.Resolve(catalog, sel)
	if err != nil {
		return render.PageData{}, err
	}

	opts, err := panel.Options(catalog, req.Media)
	if err != nil {
		return render.PageData{}, err
	}

	return s.rc.NewPage(opts, req, s.svcs.DataSvc.RetrieveMissingAudioArtifacts()), nil
}

// intake parses the form, resolves the panel selection and builds the
// preview. The returned page is nil when the selection itself is unusable.
func (s *Server) intake(c *gin.Context) (intake, *render.PageData, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.svcs.CfgSvc.GetMaxUploadBytes())
	if err := c.Request.ParseMultipartForm(s.router.MaxMultipartMemory); err != nil {
		return intake{}, nil, xerrors.Errorf("parsing upload: %w", err)
	}

	sel := selectionFrom(c)
	page, err := s.newPage(sel)
	if err != nil {
		return intake{}, nil, err
	}

	req := page.Request
	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return intake{}, &page, errNoFile
		}
		return intake{}, &page, xerrors.Errorf("reading upload: %w", err)
	}

	f, err := header.Open()
	if err != nil {
		return intake{}, &page, xerrors.Errorf("opening upload: %w", err)
	}
	defer f.Close()

	req.FileName = header.Filename
	req.Payload, err = io.ReadAll(f)
	if err != nil {
		return intake{}, &page, xerrors.Errorf("reading upload: %w", err)
	}
	page.Request = req

	p, err := s.previews.Build(c.Request.Context(), page.Options, req)
	if err != nil {
		return intake{}, &page, err
	}
	page.Preview = render.PreviewFor(p)

	return intake{opts: page.Options, req: req, preview: p}, &page, nil
}

func selectionFrom(c *gin.Context) panel.Selection {
	sel := panel.Selection{
		Media:   c.PostForm("media"),
		Model:   c.PostForm("model"),
		Dataset: c.PostForm("dataset"),
	}

	if v, ok := formFloat(c, "threshold"); ok {
		sel.Threshold = &v
	}

	sel.Frames = formInt(c, "frames")
	sel.Duration = formInt(c, "duration")
	if length := formInt(c, "length"); length != 0 {
		if sel.Frames == 0 {
			sel.Frames = length
		}
		if sel.Duration == 0 {
			sel.Duration = length
		}
	}

	return sel
}

// formFloat accepts out-of-range values as ±Inf so they clamp rather than
// fall back to the default.
func formFloat(c *gin.Context, key string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(c.PostForm(key)), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return v, true
}

func formInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(c.PostForm(key)))
	if err != nil {
		return 0
	}
	return v
}

func (s *Server) journal(c *gin.Context, req model.DetectionRequest, verdict model.Verdict) {
	if !verdict.Failed() {
		return
	}

	err := s.svcs.DataSvc.NewError(model.GenError("dispatch",
		nil,
		map[string]interface{}{
			"requestId": c.GetString("requestID"),
			"media":     string(req.Media),
			"file":      req.FileName,
			"model":     req.Model,
			"dataset":   req.Dataset,
		},
		"%s", verdict.Message))
	if err != nil {
		lgr.Logger.Error("failed to store error",
			slog.Any("error", err),
		)
	}
}

func verdictBody(req model.DetectionRequest, verdict model.Verdict) gin.H {
	body := gin.H{
		"media":     req.Media,
		"file":      req.FileName,
		"model":     req.Model,
		"dataset":   req.Dataset,
		"threshold": req.Threshold,
	}
	if length := req.LengthParam(); length != 0 {
		body["length"] = length
	}
	if verdict.Failed() {
		body["error"] = verdict.Message
		return body
	}
	body["label"] = verdict.Label
	body["score"] = verdict.Score
	return body
}

func userMessage(err error) string {
	if errors.Is(err, preview.ErrInvalidImage) {
		return preview.ErrInvalidImage.Error()
	}
	return err.Error()
}

func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, preview.ErrInvalidImage), errors.Is(err, preview.ErrUnsupportedType), errors.Is(err, preview.ErrEmptyUpload):
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}
