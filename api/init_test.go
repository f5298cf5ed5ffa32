package api

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rotblauer/trackd/common"
	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackdb/blob"
	"github.com/rotblauer/trackd/trackdb/sqlite"
	"github.com/rotblauer/trackd/tripdir"
)

type testService struct {
	*Service
	store *sqlite.Store
	raw   *blob.Flat
	jobs  *queue.Queue
	trips *tripdir.Static
	bus   *events.Bus
}

// newTestService wires a Service over real stores in a temp dir.
// The trips "alps" and "coast" exist.
func newTestService(t *testing.T, config *params.ProcessingConfig) *testService {
	t.Helper()
	t.Cleanup(common.SlogResetLevel(slog.Level(slog.LevelWarn + 1)))

	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, params.TrackDBFileName))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	jobs, err := queue.Open(filepath.Join(dir, params.QueueDBFileName), 3)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = jobs.Close() })

	raw := blob.NewFlatWithRoot(filepath.Join(dir, params.RawFilesDir), nil)
	trips := tripdir.NewStatic("alps", "coast")
	bus := events.NewBus()
	svc, err := NewService(config, store, raw, jobs, trips, bus)
	if err != nil {
		t.Fatal(err)
	}
	return &testService{Service: svc, store: store, raw: raw, jobs: jobs, trips: trips, bus: bus}
}

// rawFileCount counts files under the raw store root.
func (ts *testService) rawFileCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(ts.raw.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == ts.raw.Root() {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

var (
	tripAlps  = conceptual.TripID("alps")
	tripCoast = conceptual.TripID("coast")
)
