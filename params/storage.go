package params

// S3Config selects the S3 raw file store when Bucket is set.
// Credentials come from the standard AWS environment and shared config.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
	Prefix string `mapstructure:"prefix"`
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// InfluxDBConfig enables the statistics export when URL is set.
type InfluxDBConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

func (c InfluxDBConfig) Enabled() bool {
	return c.URL != ""
}
