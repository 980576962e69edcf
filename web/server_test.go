package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/df-go/dispatch"
	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/render"
	"github.com/khaledhikmat/df-go/service"
	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/data"
	"github.com/khaledhikmat/df-go/service/inference"
	"github.com/khaledhikmat/df-go/service/probe"
	"github.com/khaledhikmat/df-go/service/storage"
)

var corruptImage = []byte("not really a png")

type stubProbe struct{}

func (stubProbe) DecodeImage(data []byte) (probe.ImageInfo, error) {
	if bytes.Equal(data, corruptImage) {
		return probe.ImageInfo{}, errors.New("imdecode: empty result")
	}
	return probe.ImageInfo{Width: 4, Height: 4, Thumbnail: []byte{0xFF, 0xD8, 0xFF}}, nil
}

func (stubProbe) ProbeVideo(string) (probe.VideoInfo, error) {
	return probe.VideoInfo{Frames: 120, FPS: 24, Duration: 5 * time.Second}, nil
}

type spyInference struct {
	mutex  sync.Mutex
	calls  []string
	result inference.Result
	delay  time.Duration
}

func (s *spyInference) record(op string) (inference.Result, error) {
	s.mutex.Lock()
	s.calls = append(s.calls, op)
	s.mutex.Unlock()
	time.Sleep(s.delay)
	return s.result, nil
}

func (s *spyInference) ProcessImage(context.Context, []byte, string, string, float64) (inference.Result, error) {
	return s.record("image")
}

func (s *spyInference) ProcessVideo(context.Context, string, string, string, float64, int) (inference.Result, error) {
	return s.record("video")
}

func (s *spyInference) ProcessAudio(context.Context, string, string, string, float64, int) (inference.Result, error) {
	return s.record("audio")
}

func (s *spyInference) Close() error { return nil }

func (s *spyInference) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.calls)
}

type harness struct {
	server    *Server
	inference *spyInference
	dataSvc   data.IService
	uploads   string
	artifacts []string
}

func newHarness(t *testing.T, result inference.Result) *harness {
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	artifacts := []string{filepath.Join(dir, "svm_model.pkl"), filepath.Join(dir, "scaler.pkl")}
	cfgSvc := config.NewFromMap(map[string]string{
		"DF_SETTINGS_FOLDER":       filepath.Join(dir, "settings"),
		"DF_UPLOADS_FOLDER":        filepath.Join(dir, "uploads"),
		"DF_AUDIO_MODEL_FILES":     strings.Join(artifacts, ","),
		"DF_INFERENCE_BACKEND":     "fake",
		"DF_PROGRESS_INTERVAL_MS":  "5",
		"DF_MAX_INLINE_PREVIEW_MB": "1",
	})

	spy := &spyInference{result: result}
	svcs := service.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      data.NewFilesDB(cfgSvc),
		StorageSvc:   storage.NewScratch(cfgSvc),
		InferenceSvc: spy,
		ProbeSvc:     stubProbe{},
	}

	rc, err := render.NewContext(cfgSvc.GetPageTitle(), cfgSvc.GetPageIcon())
	require.NoError(t, err)

	return &harness{
		server:    NewServer(svcs, rc, dispatch.New(cfgSvc, spy, svcs.StorageSvc)),
		inference: spy,
		dataSvc:   svcs.DataSvc,
		uploads:   cfgSvc.GetUploadsFolder(),
		artifacts: artifacts,
	}
}

func uploadRequest(t *testing.T, path string, fields map[string]string, fileName string, content []byte) *http.Request {
	body := new(bytes.Buffer)
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func TestPageShowsAudioWarningWhenArtifactsMissing(t *testing.T) {
	h := newHarness(t, inference.Result{})

	w := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()

	assert.Contains(t, html, `id="audio-warning"`)
	assert.Contains(t, html, `value="Audio"`, "audio must stay selectable")
	assert.Contains(t, html, "Please upload a file to begin analysis")

	// selecting audio still works and still warns
	w = h.do(httptest.NewRequest(http.MethodGet, "/?media=Audio", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `id="audio-warning"`)
	assert.Contains(t, w.Body.String(), `<option value="SVM" selected>SVM</option>`)
}

func TestPageHidesWarningWhenArtifactsPresent(t *testing.T) {
	h := newHarness(t, inference.Result{})
	for _, f := range h.artifacts {
		require.NoError(t, os.WriteFile(f, []byte("pickle"), 0644))
	}

	w := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `id="audio-warning"`)
}

func TestDetectRendersRealVerdict(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "real", Score: 0.82})

	w := h.do(uploadRequest(t, "/detect", map[string]string{
		"media":     "Image",
		"model":     "EfficientNetB4ST",
		"dataset":   "FFPP",
		"threshold": "0.6",
	}, "face.jpg", []byte("jpeg")))

	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, `id="result-card"`)
	assert.Contains(t, html, `class="result-real"`)
	assert.Contains(t, html, "0.82")
	assert.Contains(t, html, "left: 82.00%;")
	assert.Equal(t, 1, h.inference.count())
}

func TestDetectCorruptImageNeverDispatches(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "real", Score: 0.9})

	w := h.do(uploadRequest(t, "/detect", map[string]string{"media": "Image"}, "face.png", corruptImage))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid image file")
	assert.NotContains(t, w.Body.String(), `id="result-card"`)
	assert.Zero(t, h.inference.count())
}

func TestDetectSentinelShowsMessageWithoutCard(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "Could not extract audio features", Score: model.FailureScore})

	w := h.do(uploadRequest(t, "/detect", map[string]string{"media": "Audio", "duration": "12"}, "voice.wav", []byte("RIFF")))

	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, `<div class="error-box" id="error">Could not extract audio features</div>`)
	assert.NotContains(t, html, `id="result-card"`)

	entries, err := h.dataSvc.RetrieveErrors()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Could not extract audio features", entries[0].Message)
	assert.Equal(t, "voice.wav", entries[0].Misc["file"])

	// the staged file is gone
	files, _ := os.ReadDir(h.uploads)
	assert.Empty(t, files)
}

func TestDetectSentinelWithoutMessageStillShowsError(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "", Score: model.FailureScore})

	w := h.do(uploadRequest(t, "/detect", map[string]string{"media": "Image"}, "face.png", []byte("png")))

	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, `<div class="error-box" id="error">Error processing file: inference failed without a message</div>`)
	assert.NotContains(t, html, `id="result-card"`)
}

func TestDetectLargeVideoIsNotInlined(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "fake", Score: 0.77})

	payload := bytes.Repeat([]byte{0x42}, 1<<20+1)
	w := h.do(uploadRequest(t, "/detect", map[string]string{"media": "Video"}, "clip.mp4", payload))

	require.Equal(t, http.StatusOK, w.Code)
	html := w.Body.String()
	assert.Contains(t, html, "Too large to preview inline.")
	assert.NotContains(t, html, "data:video/mp4")
	assert.Contains(t, html, `id="result-card"`)
	assert.Less(t, w.Body.Len(), 1<<20)
	assert.Equal(t, 1, h.inference.count())

	files, _ := os.ReadDir(h.uploads)
	assert.Empty(t, files)
}

func TestAPIDetectOverflowingThresholdClamps(t *testing.T) {
	for input, want := range map[string]float64{"1e999": 1, "-1e999": 0} {
		h := newHarness(t, inference.Result{Label: "real", Score: 0.4})

		w := h.do(uploadRequest(t, "/api/detect", map[string]string{"media": "Image", "threshold": input}, "face.png", []byte("png")))
		require.Equal(t, http.StatusOK, w.Code, input)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, want, body["threshold"], input)
	}
}

func TestDetectWithoutFile(t *testing.T) {
	h := newHarness(t, inference.Result{})

	w := h.do(uploadRequest(t, "/detect", map[string]string{"media": "Video"}, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Please upload a file to begin analysis")
	assert.Zero(t, h.inference.count())
}

func TestDetectRejectsWrongExtension(t *testing.T) {
	h := newHarness(t, inference.Result{})

	w := h.do(uploadRequest(t, "/detect", map[string]string{"media": "Video"}, "clip.mkv", []byte("x")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, h.inference.count())
}

func TestAPIDetect(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "fake", Score: 0.91})

	w := h.do(uploadRequest(t, "/api/detect", map[string]string{
		"media":     "Audio",
		"model":     "EfficientNetB4",
		"dataset":   "DFDC",
		"threshold": "3",
		"length":    "300",
	}, "voice.mp3", []byte("ID3")))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "fake", body["label"])
	assert.Equal(t, 0.91, body["score"])
	assert.Equal(t, "SVM", body["model"])
	assert.Equal(t, "CustomAudio", body["dataset"])
	assert.Equal(t, 1.0, body["threshold"])
	assert.Equal(t, 60.0, body["length"])
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestAPIDetectFailure(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "No face detected", Score: model.FailureScore})

	w := h.do(uploadRequest(t, "/api/detect", map[string]string{"media": "Video"}, "clip.mp4", []byte("mp4")))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "No face detected", body["error"])
	assert.NotContains(t, body, "score")
}

func TestAPIOptions(t *testing.T) {
	h := newHarness(t, inference.Result{})

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/options?media=audio", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Options          model.MediaOptions `json:"options"`
		DefaultThreshold float64            `json:"defaultThreshold"`
		MissingArtifacts []string           `json:"missingArtifacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"SVM"}, body.Options.Models)
	assert.Equal(t, 0.5, body.DefaultThreshold)
	assert.Len(t, body.MissingArtifacts, 2)

	w = h.do(httptest.NewRequest(http.MethodGet, "/api/options?media=smell", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, inference.Result{})

	w := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"audioModel":false`)
	assert.Contains(t, w.Body.String(), `"inference":"fake"`)
}

func TestAPIDetectStream(t *testing.T) {
	h := newHarness(t, inference.Result{Label: "real", Score: 0.3})
	h.inference.delay = 60 * time.Millisecond

	ts := httptest.NewServer(h.server.Handler())
	defer ts.Close()

	req := uploadRequest(t, ts.URL+"/api/detect/stream", map[string]string{"media": "Image"}, "face.png", []byte("png"))
	req.RequestURI = ""
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := []string{}
	var result string
	scanner := bufio.NewScanner(resp.Body)
	current := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			current = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			events = append(events, current)
		case strings.HasPrefix(line, "data:") && current == "result":
			result = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "result", events[len(events)-1])
	assert.Contains(t, events, "progress")
	assert.Contains(t, result, `"label":"real"`)
}
