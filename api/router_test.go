package api

import (
	"errors"
	"testing"
	"time"

	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
)

func TestRouter_Boundary(t *testing.T) {
	r := NewRouter(nil)
	threshold := int64(params.DefaultSyncThresholdBytes)
	cases := []struct {
		size int64
		want trackfile.ProcessingPath
	}{
		{0, trackfile.PathSync},
		{threshold - 1, trackfile.PathSync},
		{threshold, trackfile.PathAsync},
		{threshold + 1, trackfile.PathAsync},
		{params.DefaultMaxUploadBytes, trackfile.PathAsync},
	}
	for _, c := range cases {
		got, err := r.Decide(c.size, "alps")
		if err != nil {
			t.Fatalf("size %d: %v", c.size, err)
		}
		if got != c.want {
			t.Errorf("size %d: got %s, want %s", c.size, got, c.want)
		}
	}
}

func TestRouter_HardCap(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.Decide(params.DefaultMaxUploadBytes+1, "alps")
	var tooBig *trackerr.SizeLimitExceededError
	if !errors.As(err, &tooBig) {
		t.Fatalf("want SizeLimitExceededError, got %v", err)
	}
	if tooBig.Limit != params.DefaultMaxUploadBytes {
		t.Errorf("limit = %d", tooBig.Limit)
	}
	if err := r.CheckSize(-1); err != nil {
		t.Errorf("unknown size rejected: %v", err)
	}
}

func TestRouter_ForceAsync(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.ForceAsyncTTL = 50 * time.Millisecond
	r := NewRouter(cfg)

	r.ForceAsync("alps")
	if got, _ := r.Decide(10, "alps"); got != trackfile.PathAsync {
		t.Errorf("forced trip routed %s", got)
	}
	if got, _ := r.Decide(10, "coast"); got != trackfile.PathSync {
		t.Errorf("other trip routed %s", got)
	}
	time.Sleep(80 * time.Millisecond)
	if got, _ := r.Decide(10, "alps"); got != trackfile.PathSync {
		t.Errorf("expired force still routed %s", got)
	}
}
