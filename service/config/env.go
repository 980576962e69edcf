package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type envService struct {
	lookup func(string) (string, bool)
}

// NewEnv returns a config service backed by environment variables. Unset or
// malformed variables fall back to the defaults.
func NewEnv() IService {
	return &envService{
		lookup: os.LookupEnv,
	}
}

// NewFromMap is used by tests and the CLI to override values without touching
// the process environment.
func NewFromMap(values map[string]string) IService {
	return &envService{
		lookup: func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		},
	}
}

func (svc *envService) GetRunTimeEnv() string {
	return svc.str("RUN_TIME_ENV", "dev")
}

func (svc *envService) GetModeMaxShutdownTime() int {
	return svc.integer("DF_SHUTDOWN_TIME", 5)
}

func (svc *envService) GetHTTPAddr() string {
	return svc.str("DF_HTTP_ADDR", ":8080")
}

func (svc *envService) GetGinMode() string {
	return svc.str("GIN_MODE", "release")
}

func (svc *envService) GetMaxUploadBytes() int64 {
	return int64(svc.integer("DF_MAX_UPLOAD_MB", 200)) << 20
}

func (svc *envService) GetMaxInlinePreviewBytes() int64 {
	return int64(svc.integer("DF_MAX_INLINE_PREVIEW_MB", 8)) << 20
}

func (svc *envService) GetSettingsFolder() string {
	return svc.str("DF_SETTINGS_FOLDER", "./settings")
}

func (svc *envService) GetCatalogFile() string {
	return filepath.Join(svc.GetSettingsFolder(), "catalog.json")
}

func (svc *envService) GetUploadsFolder() string {
	return svc.str("DF_UPLOADS_FOLDER", "uploads")
}

func (svc *envService) GetScratchTTL() int {
	return svc.integer("DF_SCRATCH_TTL", 60*60)
}

func (svc *envService) GetScratchSweepPeriod() int {
	return svc.integer("DF_SWEEP_PERIOD", 5*60)
}

func (svc *envService) GetAudioModelFiles() []string {
	raw := svc.str("DF_AUDIO_MODEL_FILES", "svm_model.pkl,scaler.pkl")
	files := []string{}
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files
}

func (svc *envService) GetInferenceBackend() string {
	return strings.ToLower(svc.str("DF_INFERENCE_BACKEND", PythonBackend))
}

func (svc *envService) GetPythonBin() string {
	return svc.str("DF_PYTHON_BIN", "python3")
}

func (svc *envService) GetBridgeScript() string {
	return svc.str("DF_BRIDGE_SCRIPT", "python/bridge.py")
}

func (svc *envService) GetInferenceTimeout() int {
	return svc.integer("DF_INFERENCE_TIMEOUT", 5*60)
}

func (svc *envService) GetProgressInterval() int {
	return svc.integer("DF_PROGRESS_INTERVAL_MS", 250)
}

func (svc *envService) GetLogFile() string {
	return svc.str("DF_LOG_FILE", "logs/deepfake.log")
}

func (svc *envService) GetLogLevel() string {
	return svc.str("DF_LOG_LEVEL", "info")
}

func (svc *envService) GetPageTitle() string {
	return svc.str("DF_PAGE_TITLE", "Deepfake Detector")
}

func (svc *envService) GetPageIcon() string {
	return svc.str("DF_PAGE_ICON", "🕵️")
}

func (svc *envService) str(key, def string) string {
	if v, ok := svc.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// integer only accepts positive values
func (svc *envService) integer(key string, def int) int {
	v, ok := svc.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
