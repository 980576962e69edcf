package config

const (
	PythonBackend = "python"
	FakeBackend   = "fake"
)

type IService interface {
	GetRunTimeEnv() string
	GetModeMaxShutdownTime() int
	GetHTTPAddr() string
	GetGinMode() string
	GetMaxUploadBytes() int64
	GetMaxInlinePreviewBytes() int64
	GetSettingsFolder() string
	GetCatalogFile() string
	GetUploadsFolder() string
	GetScratchTTL() int
	GetScratchSweepPeriod() int
	GetAudioModelFiles() []string
	GetInferenceBackend() string
	GetPythonBin() string
	GetBridgeScript() string
	GetInferenceTimeout() int
	GetProgressInterval() int
	GetLogFile() string
	GetLogLevel() string
	GetPageTitle() string
	GetPageIcon() string
}
