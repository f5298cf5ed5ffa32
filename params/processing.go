package params

import (
	"time"

	"github.com/rotblauer/trackd/common"
)

const (
	MiB = 1 << 20

	// DefaultSyncThresholdBytes is the size at and above which uploads
	// are processed in the background.
	DefaultSyncThresholdBytes = 5 * MiB

	// DefaultMaxUploadBytes is the hard cap on upload size.
	DefaultMaxUploadBytes = 32 * MiB
)

type ProcessingConfig struct {
	SyncThresholdBytes int64         `mapstructure:"sync_threshold_bytes"`
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes"`
	SyncTimeout        time.Duration `mapstructure:"sync_timeout"`

	// ForceAsyncTTL is how long a trip whose synchronous attempt timed out
	// is routed to background processing.
	ForceAsyncTTL time.Duration `mapstructure:"force_async_ttl"`

	ValidationConfig     `mapstructure:",squash"`
	TelemetryConfig      `mapstructure:",squash"`
	SimplificationConfig `mapstructure:",squash"`
}

type ValidationConfig struct {
	MinElevation float64 `mapstructure:"min_elevation"`
	MaxElevation float64 `mapstructure:"max_elevation"`
}

type TelemetryConfig struct {
	// ElevationNoiseFloor is the smallest elevation change, in meters,
	// counted toward ascent or descent.
	ElevationNoiseFloor float64 `mapstructure:"elevation_noise_floor"`
	StartCellLevel      int     `mapstructure:"start_cell_level"`
}

type SimplificationConfig struct {
	// DouglasPeuckerThreshold is the simplification tolerance in meters.
	DouglasPeuckerThreshold float64 `mapstructure:"simplify_epsilon"`
}

var DefaultValidationConfig = ValidationConfig{
	// A little slack around the lowest and highest dry land.
	MinElevation: common.ElevationOfDeadSea + 10,
	MaxElevation: common.ElevationOfEverest + 2,
}

var DefaultTelemetryConfig = TelemetryConfig{
	ElevationNoiseFloor: 1.0,
	StartCellLevel:      13,
}

var DefaultSimplificationConfig = SimplificationConfig{
	DouglasPeuckerThreshold: 11,
}

func DefaultProcessingConfig() *ProcessingConfig {
	return &ProcessingConfig{
		SyncThresholdBytes:   DefaultSyncThresholdBytes,
		MaxUploadBytes:       DefaultMaxUploadBytes,
		SyncTimeout:          20 * time.Second,
		ForceAsyncTTL:        1 * time.Hour,
		ValidationConfig:     DefaultValidationConfig,
		TelemetryConfig:      DefaultTelemetryConfig,
		SimplificationConfig: DefaultSimplificationConfig,
	}
}
