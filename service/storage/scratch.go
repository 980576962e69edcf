package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/lgr"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type scratchService struct {
	CfgSvc config.IService
}

// NewScratch stages uploads under the configured uploads folder. Every staged
// file gets a unique name so concurrent requests never share a path.
func NewScratch(cfgsvc config.IService) IService {
	return &scratchService{
		CfgSvc: cfgsvc,
	}
}

func (svc *scratchService) GetFolder() string {
	return svc.CfgSvc.GetUploadsFolder()
}

func (svc *scratchService) Acquire(originalName string, content io.Reader) (Lease, error) {
	folder := svc.GetFolder()
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, xerrors.Errorf("creating uploads folder %s: %w", folder, err)
	}

	// A taken name gets a fresh one
	var path string
	var f *os.File
	b := retry.WithMaxRetries(3, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(context.Background(), b, func(context.Context) error {
		path = filepath.Join(folder, ScratchName(originalName))
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if errors.Is(err, os.ErrExist) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, xerrors.Errorf("creating scratch file: %w", err)
	}

	lease := &fileLease{path: path}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		lease.Release()
		return nil, xerrors.Errorf("writing scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		lease.Release()
		return nil, xerrors.Errorf("closing scratch file: %w", err)
	}

	lgr.Logger.Debug("scratch file staged",
		slog.String("path", path),
		slog.String("original", originalName),
	)
	return lease, nil
}

// Sweep removes staged files whose modification time is older than olderThan.
func (svc *scratchService) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(svc.GetFolder())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Errorf("reading uploads folder: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(svc.GetFolder(), entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			lgr.Logger.Warn("failed to sweep scratch file",
				slog.String("file", entry.Name()),
				slog.Any("error", err),
			)
			continue
		}
		removed++
	}

	return removed, nil
}

// ScratchName builds "<uuid>-<sanitized base name>".
func ScratchName(originalName string) string {
	base := filepath.Base(strings.ReplaceAll(originalName, `\`, "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		base = "upload"
	}
	return uuid.NewString() + "-" + base
}

type fileLease struct {
	path string
	once sync.Once
	err  error
}

func (l *fileLease) Path() string {
	return l.path
}

func (l *fileLease) Release() error {
	l.once.Do(func() {
		err := os.Remove(l.path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			l.err = xerrors.Errorf("removing scratch file %s: %w", l.path, err)
		}
	})
	return l.err
}
