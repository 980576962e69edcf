package mode

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/df-go/service"
	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/data"
	"github.com/khaledhikmat/df-go/service/inference"
	"github.com/khaledhikmat/df-go/service/orphan"
	"github.com/khaledhikmat/df-go/service/probe"
	"github.com/khaledhikmat/df-go/service/storage"
)

func testServices(t *testing.T, ctx context.Context, addr string) service.ServicesFactory {
	dir := t.TempDir()
	cfgSvc := config.NewFromMap(map[string]string{
		"DF_HTTP_ADDR":       addr,
		"DF_SETTINGS_FOLDER": filepath.Join(dir, "settings"),
		"DF_UPLOADS_FOLDER":  filepath.Join(dir, "uploads"),
		"DF_SHUTDOWN_TIME":   "1",
		"GIN_MODE":           "test",
	})
	storageSvc := storage.NewScratch(cfgSvc)

	return service.ServicesFactory{
		CfgSvc:       cfgSvc,
		DataSvc:      data.NewFilesDB(cfgSvc),
		StorageSvc:   storageSvc,
		OrphanSvc:    orphan.NewTimed(ctx, cfgSvc, storageSvc),
		InferenceSvc: inference.NewFake(),
		ProbeSvc:     probe.NewOpenCV(350),
	}
}

func TestServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svcs := testServices(t, ctx, "127.0.0.1:0")

	done := make(chan error, 1)
	go func() {
		done <- Server(ctx, svcs)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerReportsListenFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svcs := testServices(t, ctx, "127.0.0.1:99999")

	err := Server(ctx, svcs)
	require.Error(t, err)

	entries, err := svcs.DataSvc.RetrieveErrors()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "server", entries[len(entries)-1].Processor)
}
