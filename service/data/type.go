package data

import "github.com/khaledhikmat/df-go/model"

type IService interface {
	RetrieveCatalog() (model.Catalog, error)
	RetrieveMediaOptions(media model.MediaType) (model.MediaOptions, error)
	RetrieveMissingAudioArtifacts() []string

	NewError(err interface{}) error
	RetrieveErrors() ([]ErrorEntry, error)
}

type ErrorEntry struct {
	Timestamp  int64                  `json:"timestamp"`
	Processor  string                 `json:"processor"`
	Inner      string                 `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}
