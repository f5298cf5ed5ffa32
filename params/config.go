package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the complete runtime configuration of trackd.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Web        WebDaemonConfig  `mapstructure:"web"`
	Work       WorkDaemonConfig `mapstructure:"work"`
	Processing ProcessingConfig `mapstructure:"processing"`
	S3         S3Config         `mapstructure:"s3"`
	InfluxDB   InfluxDBConfig   `mapstructure:"influxdb"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:    DefaultDatadirRoot,
		Web:        *DefaultWebDaemonConfig(),
		Work:       *DefaultWorkDaemonConfig(),
		Processing: *DefaultProcessingConfig(),
	}
}

// SetDefaults registers every configuration key with v, so that
// environment variables (TRACKD_PROCESSING_SYNC_THRESHOLD_BYTES, ...) bind.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("web.network", d.Web.Network)
	v.SetDefault("web.address", d.Web.Address)
	v.SetDefault("web.read_header_timeout", d.Web.ReadHeaderTimeout)
	v.SetDefault("web.shutdown_timeout", d.Web.ShutdownTimeout)

	v.SetDefault("work.workers", d.Work.Workers)
	v.SetDefault("work.max_attempts", d.Work.MaxAttempts)
	v.SetDefault("work.backoff_base", d.Work.BackoffBase)
	v.SetDefault("work.job_timeout", d.Work.JobTimeout)
	v.SetDefault("work.poll_interval", d.Work.PollInterval)
	v.SetDefault("work.retention", d.Work.Retention)

	v.SetDefault("processing.sync_threshold_bytes", d.Processing.SyncThresholdBytes)
	v.SetDefault("processing.max_upload_bytes", d.Processing.MaxUploadBytes)
	v.SetDefault("processing.sync_timeout", d.Processing.SyncTimeout)
	v.SetDefault("processing.force_async_ttl", d.Processing.ForceAsyncTTL)
	v.SetDefault("processing.min_elevation", d.Processing.MinElevation)
	v.SetDefault("processing.max_elevation", d.Processing.MaxElevation)
	v.SetDefault("processing.elevation_noise_floor", d.Processing.ElevationNoiseFloor)
	v.SetDefault("processing.start_cell_level", d.Processing.StartCellLevel)
	v.SetDefault("processing.simplify_epsilon", d.Processing.DouglasPeuckerThreshold)

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.prefix", "")

	v.SetDefault("influxdb.url", "")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.org", "")
	v.SetDefault("influxdb.bucket", "")
}

// Load reads configuration from defaults, an optional config file,
// and TRACKD_ prefixed environment variables, in increasing precedence.
// Flags bound to v by the caller take precedence over all of them.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	dir, err := homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if err := c.Processing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Work.Workers < 1 {
		errs = append(errs, errors.New("work.workers must be at least 1"))
	}
	if c.Work.MaxAttempts < 1 {
		errs = append(errs, errors.New("work.max_attempts must be at least 1"))
	}
	if c.Work.BackoffBase < 0 {
		errs = append(errs, errors.New("work.backoff_base must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *ProcessingConfig) Validate() error {
	var errs []error
	if c.SyncThresholdBytes <= 0 {
		errs = append(errs, errors.New("processing.sync_threshold_bytes must be positive"))
	}
	if c.MaxUploadBytes < c.SyncThresholdBytes {
		errs = append(errs, errors.New("processing.max_upload_bytes must be at least the sync threshold"))
	}
	if c.MinElevation >= c.MaxElevation {
		errs = append(errs, errors.New("processing.min_elevation must be below max_elevation"))
	}
	if c.ElevationNoiseFloor < 0 {
		errs = append(errs, errors.New("processing.elevation_noise_floor must not be negative"))
	}
	if c.DouglasPeuckerThreshold <= 0 {
		errs = append(errs, errors.New("processing.simplify_epsilon must be positive"))
	}
	if c.SyncTimeout <= 0 {
		errs = append(errs, errors.New("processing.sync_timeout must be positive"))
	}
	return errors.Join(errs...)
}
