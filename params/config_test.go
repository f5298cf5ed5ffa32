package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Processing.SyncThresholdBytes != 5*MiB {
		t.Errorf("threshold = %d", cfg.Processing.SyncThresholdBytes)
	}
	if cfg.Processing.ElevationNoiseFloor != 1.0 {
		t.Errorf("noise floor = %v", cfg.Processing.ElevationNoiseFloor)
	}
	if cfg.Work.BackoffBase != time.Minute {
		t.Errorf("backoff = %v", cfg.Work.BackoffBase)
	}
	if cfg.Web.Address != DefaultWebListenerConfig().Address {
		t.Errorf("address = %q", cfg.Web.Address)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("TRACKD_PROCESSING_SYNC_THRESHOLD_BYTES", "1024")
	t.Setenv("TRACKD_WORK_BACKOFF_BASE", "2s")
	t.Setenv("TRACKD_WEB_ADDRESS", "0.0.0.0:8080")
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Processing.SyncThresholdBytes != 1024 {
		t.Errorf("threshold = %d", cfg.Processing.SyncThresholdBytes)
	}
	if cfg.Work.BackoffBase != 2*time.Second {
		t.Errorf("backoff = %v", cfg.Work.BackoffBase)
	}
	if cfg.Web.Address != "0.0.0.0:8080" {
		t.Errorf("address = %q", cfg.Web.Address)
	}
}

func TestLoad_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "trackd.yaml")
	body := "processing:\n  simplify_epsilon: 25\n  max_elevation: 9000\nwork:\n  workers: 8\n"
	if err := os.WriteFile(p, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(viper.New(), p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Processing.DouglasPeuckerThreshold != 25 {
		t.Errorf("epsilon = %v", cfg.Processing.DouglasPeuckerThreshold)
	}
	if cfg.Processing.MaxElevation != 9000 {
		t.Errorf("max elevation = %v", cfg.Processing.MaxElevation)
	}
	if cfg.Work.Workers != 8 {
		t.Errorf("workers = %d", cfg.Work.Workers)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.MaxUploadBytes = cfg.Processing.SyncThresholdBytes - 1
	cfg.Work.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
