package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/panel"
	"github.com/khaledhikmat/df-go/service/config"
)

func withServices(t *testing.T) string {
	dir := t.TempDir()
	cfgSvc := config.NewFromMap(map[string]string{
		"DF_SETTINGS_FOLDER":   filepath.Join(dir, "settings"),
		"DF_UPLOADS_FOLDER":    filepath.Join(dir, "uploads"),
		"DF_INFERENCE_BACKEND": config.FakeBackend,
		"DF_AUDIO_MODEL_FILES": filepath.Join(dir, "svm_model.pkl"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	var err error
	svcs, err = newServices(ctx, cfgSvc)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		closeServices()
	})
	return dir
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	out := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd, out
}

func TestNewServicesRejectsUnknownBackend(t *testing.T) {
	cfgSvc := config.NewFromMap(map[string]string{"DF_INFERENCE_BACKEND": "tensorrt"})
	_, err := newServices(context.Background(), cfgSvc)
	assert.ErrorContains(t, err, "tensorrt")
}

func TestAnalyzeAudio(t *testing.T) {
	dir := withServices(t)
	file := filepath.Join(dir, "voice.wav")
	require.NoError(t, os.WriteFile(file, []byte("RIFF....WAVE"), 0644))

	cmd, out := testCommand()
	verdict, req, err := runAnalyze(cmd, panel.Selection{Media: "audio", Duration: 500}, file)
	require.NoError(t, err)

	assert.False(t, verdict.Failed())
	assert.Equal(t, "SVM", req.Model)
	assert.Equal(t, 60, req.Duration)
	assert.Equal(t, panel.DefaultThreshold, req.Threshold)
	assert.Contains(t, out.String(), "audio model files not found")

	// scratch staged for inference is released
	files, _ := os.ReadDir(svcs.StorageSvc.GetFolder())
	assert.Empty(t, files)
}

func TestAnalyzeRejectsWrongExtension(t *testing.T) {
	dir := withServices(t)
	file := filepath.Join(dir, "voice.ogg")
	require.NoError(t, os.WriteFile(file, []byte("OggS"), 0644))

	cmd, _ := testCommand()
	_, _, err := runAnalyze(cmd, panel.Selection{Media: "Audio"}, file)
	assert.Error(t, err)
}

func TestAnalyzeMissingFile(t *testing.T) {
	withServices(t)

	cmd, _ := testCommand()
	_, _, err := runAnalyze(cmd, panel.Selection{Media: "Video"}, "/does/not/exist.mp4")
	assert.ErrorContains(t, err, "reading")
}

func TestPrintVerdict(t *testing.T) {
	color.NoColor = true

	out := new(bytes.Buffer)
	req := model.DetectionRequest{Media: model.Video, Model: "EfficientNetB4", Dataset: "DFDC", Threshold: 0.5}
	printVerdict(out, req, model.Success(model.LabelReal, 0.123))

	assert.Contains(t, out.String(), "The video is classified as: REAL")
	assert.Contains(t, out.String(), "Confidence score: 0.12")

	out.Reset()
	printVerdict(out, req, model.Failure("No face detected"))
	assert.Equal(t, "Error: No face detected\n", out.String())
}
