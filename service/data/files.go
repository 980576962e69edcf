package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/model"
	"github.com/khaledhikmat/df-go/service/config"
)

var (
	visionModels  = []string{"EfficientNetB4", "EfficientNetB4ST", "EfficientNetAutoAttB4", "EfficientNetAutoAttB4ST"}
	audioModels   = []string{"SVM"}
	audioDatasets = []string{"CustomAudio"}
)

// DefaultCatalog is served when the settings folder carries no catalog file.
func DefaultCatalog() model.Catalog {
	return model.Catalog{
		model.Image: {
			Media:    model.Image,
			Models:   append([]string{}, visionModels...),
			Datasets: []string{"DFDC", "FFPP"},
			Accept:   []string{"jpg", "jpeg", "png"},
		},
		model.Video: {
			Media:    model.Video,
			Models:   append([]string{}, visionModels...),
			Datasets: []string{"DFDC", "FFPP"},
			Accept:   []string{"mp4"},
			Length: &model.LengthParam{
				Name:    "frames",
				Label:   "Frames to Analyze",
				Min:     10,
				Max:     100,
				Default: 30,
			},
		},
		model.Audio: {
			Media:    model.Audio,
			Models:   append([]string{}, audioModels...),
			Datasets: append([]string{}, audioDatasets...),
			Accept:   []string{"mp3", "wav"},
			Length: &model.LengthParam{
				Name:    "duration",
				Label:   "Max Audio Duration (seconds)",
				Min:     5,
				Max:     60,
				Default: 30,
			},
		},
	}
}

type filesDBService struct {
	CfgSvc config.IService
	// journal appends are read-modify-write on one file
	journalMutex sync.Mutex
}

func NewFilesDB(cfgsvc config.IService) IService {
	return &filesDBService{
		CfgSvc: cfgsvc,
	}
}

func (svc *filesDBService) RetrieveCatalog() (model.Catalog, error) {
	catalog := DefaultCatalog()

	input := svc.CfgSvc.GetCatalogFile()
	data, err := os.ReadFile(input)
	if errors.Is(err, os.ErrNotExist) {
		return catalog, nil
	}
	if err != nil {
		return catalog, xerrors.Errorf("reading catalog %s: %w", input, err)
	}

	overrides := model.Catalog{}
	err = json.Unmarshal(data, &overrides)
	if err != nil {
		return catalog, xerrors.Errorf("parsing catalog %s: %w", input, err)
	}

	// Entries in the file replace the defaults per media type. Keys match
	// media types case-insensitively.
	seen := map[model.MediaType]bool{}
	for key, opts := range overrides {
		media, err := model.ParseMediaType(string(key))
		if err != nil {
			return catalog, xerrors.Errorf("catalog %s: %w", input, err)
		}
		if seen[media] {
			return catalog, xerrors.Errorf("catalog %s: media %s listed more than once", input, media)
		}
		seen[media] = true

		if len(opts.Models) == 0 || len(opts.Datasets) == 0 {
			return catalog, xerrors.Errorf("catalog %s: media %s needs at least one model and one dataset", input, media)
		}
		if media == model.Audio && (!slices.Equal(opts.Models, audioModels) || !slices.Equal(opts.Datasets, audioDatasets)) {
			return catalog, xerrors.Errorf("catalog %s: audio only supports model %v and dataset %v", input, audioModels, audioDatasets)
		}
		opts.Media = media
		catalog[media] = opts
	}

	return catalog, nil
}

func (svc *filesDBService) RetrieveMediaOptions(media model.MediaType) (model.MediaOptions, error) {
	catalog, err := svc.RetrieveCatalog()
	if err != nil {
		return model.MediaOptions{}, err
	}

	opts, ok := catalog[media]
	if !ok {
		return model.MediaOptions{}, xerrors.Errorf("no options for media type %q", media)
	}

	return opts, nil
}

// RetrieveMissingAudioArtifacts returns the configured audio model files that
// do not exist on disk.
func (svc *filesDBService) RetrieveMissingAudioArtifacts() []string {
	missing := []string{}
	for _, f := range svc.CfgSvc.GetAudioModelFiles() {
		if _, err := os.Stat(f); err != nil {
			missing = append(missing, f)
		}
	}
	return missing
}

func (svc *filesDBService) NewError(err interface{}) error {
	// Determine if the error is custom
	var customErr model.CustomError
	switch e := err.(type) {
	case model.CustomError:
		customErr = e
	case error:
		customErr.Processor = "N/A"
		customErr.Inner = e
		customErr.Message = e.Error()
		customErr.StackTrace = "N/A"
	default:
		customErr.Processor = "N/A"
		customErr.Message = fmt.Sprintf("%v", e)
		customErr.StackTrace = "N/A"
	}

	inner := ""
	if customErr.Inner != nil {
		inner = customErr.Inner.Error()
	}

	entry := ErrorEntry{
		Timestamp:  time.Now().Unix(),
		Processor:  customErr.Processor,
		Inner:      inner,
		Message:    customErr.Message,
		StackTrace: customErr.StackTrace,
		Misc:       customErr.Misc,
	}

	svc.journalMutex.Lock()
	defer svc.journalMutex.Unlock()
	return newEntity(entry, "errors", svc.CfgSvc)
}

func (svc *filesDBService) RetrieveErrors() ([]ErrorEntry, error) {
	svc.journalMutex.Lock()
	defer svc.journalMutex.Unlock()
	return retrieveEntities[ErrorEntry]("errors", svc.CfgSvc)
}

func entityFile(filename string, cfgsvc config.IService) string {
	return filepath.Join(cfgsvc.GetSettingsFolder(), fmt.Sprintf("%s.json", filename))
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntities[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	err = os.MkdirAll(cfgsvc.GetSettingsFolder(), 0755)
	if err != nil {
		return err
	}

	// Write the JSON data to the file (with truncation)
	return os.WriteFile(entityFile(filename, cfgsvc), data, 0644)
}

func retrieveEntities[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityFile(filename, cfgsvc))
	if err != nil {
		// WARNING: File not found, return empty slice
		return entities, nil
	}

	err = json.Unmarshal(data, &entities)
	if err != nil {
		return nil, err
	}

	return entities, nil
}
