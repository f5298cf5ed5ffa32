package api

import (
	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/trackdb/cache"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
)

// Router chooses between inline and background processing by upload size.
type Router struct {
	threshold int64
	limit     int64
	forced    *cache.TTLSet[conceptual.TripID]
}

func NewRouter(config *params.ProcessingConfig) *Router {
	if config == nil {
		config = params.DefaultProcessingConfig()
	}
	return &Router{
		threshold: config.SyncThresholdBytes,
		limit:     config.MaxUploadBytes,
		forced:    cache.NewTTLSet[conceptual.TripID](config.ForceAsyncTTL),
	}
}

// CheckSize rejects uploads over the hard cap. size < 0 means unknown and passes.
func (r *Router) CheckSize(size int64) error {
	if size > r.limit {
		return &trackerr.SizeLimitExceededError{Size: size, Limit: r.limit}
	}
	return nil
}

// Decide returns PathSync for size below the threshold and PathAsync at or
// above it. Trips recently forced async always go async.
func (r *Router) Decide(size int64, trip conceptual.TripID) (trackfile.ProcessingPath, error) {
	if err := r.CheckSize(size); err != nil {
		return "", err
	}
	if size >= r.threshold || r.forced.Has(trip) {
		return trackfile.PathAsync, nil
	}
	return trackfile.PathSync, nil
}

// ForceAsync routes the trip's uploads to background processing for a while,
// after its inline attempt timed out.
func (r *Router) ForceAsync(trip conceptual.TripID) {
	r.forced.Add(trip)
}

func (r *Router) Threshold() int64 { return r.threshold }

// Limit is the hard cap on upload size.
func (r *Router) Limit() int64 { return r.limit }

func (r *Router) Start() { r.forced.Start() }

func (r *Router) Stop() { r.forced.Stop() }
