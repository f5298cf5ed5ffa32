package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/trackdb/blob"
)

func TestOpenRawStore_DefaultsToDisk(t *testing.T) {
	c := params.DefaultConfig()
	c.DataDir = t.TempDir()
	s, err := openRawStore(c)
	if err != nil {
		t.Fatal(err)
	}
	flat, ok := s.(*blob.Flat)
	if !ok {
		t.Fatalf("expected *blob.Flat, got %T", s)
	}
	if want := filepath.Join(c.DataDir, params.RawFilesDir); flat.Root() != want {
		t.Errorf("root = %s, want %s", flat.Root(), want)
	}
}

func TestSetDefaultSlog_Level(t *testing.T) {
	defer func(old string) { optLogLevel = old }(optLogLevel)
	defer slog.SetDefault(slog.Default())

	optLogLevel = "warn"
	setDefaultSlog(processCmd, nil)
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled at warn level")
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn disabled at warn level")
	}

	optLogLevel = "nonsense"
	setDefaultSlog(processCmd, nil)
	if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Error("invalid level should fall back to info")
	}
}

func TestServeFlags_BindConfig(t *testing.T) {
	if err := serveFlags.Set("sync-threshold", "1024"); err != nil {
		t.Fatal(err)
	}
	defer serveFlags.Set("sync-threshold", "5242880")
	t.Setenv("TRACKD_DATA_DIR", t.TempDir())
	c, err := params.Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Processing.SyncThresholdBytes != 1024 {
		t.Errorf("sync threshold = %d, want 1024", c.Processing.SyncThresholdBytes)
	}
}
