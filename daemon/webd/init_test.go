package webd

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rotblauer/trackd/api"
	"github.com/rotblauer/trackd/common"
	"github.com/rotblauer/trackd/daemon/workd"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackdb/blob"
	"github.com/rotblauer/trackd/trackdb/sqlite"
	"github.com/rotblauer/trackd/tripdir"
)

// newTestWebDaemon wires a web daemon over real stores in a temp dir,
// with a running work daemon. Every trip exists.
func newTestWebDaemon(t *testing.T, processing *params.ProcessingConfig) *WebDaemon {
	t.Helper()
	t.Cleanup(common.SlogResetLevel(slog.Level(slog.LevelWarn + 1)))

	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, params.TrackDBFileName))
	if err != nil {
		t.Fatal(err)
	}
	jobs, err := queue.Open(filepath.Join(dir, params.QueueDBFileName), 3)
	if err != nil {
		t.Fatal(err)
	}
	raw := blob.NewFlatWithRoot(filepath.Join(dir, params.RawFilesDir), nil)
	bus := events.NewBus()
	svc, err := api.NewService(processing, store, raw, jobs, tripdir.Permissive{}, bus)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	work := workd.NewWorkDaemon(params.DefaultTestWorkDaemonConfig(), jobs, svc)
	if err := work.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cancel()
		work.Wait()
		_ = jobs.Close()
		_ = store.Close()
	})
	return NewWebDaemon(params.DefaultTestWebDaemonConfig(), svc, jobs, bus).WithWorkDaemon(work)
}
