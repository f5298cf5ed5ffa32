package params

import "time"

type WebDaemonConfig struct {
	ListenerConfig `mapstructure:",squash"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

func DefaultWebListenerConfig() ListenerConfig {
	return ListenerConfig{
		Network: "tcp",
		Address: "localhost:3000",
	}
}

func DefaultWebDaemonConfig() *WebDaemonConfig {
	return &WebDaemonConfig{
		ListenerConfig:    DefaultWebListenerConfig(),
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

func DefaultTestWebDaemonConfig() *WebDaemonConfig {
	d := DefaultWebDaemonConfig()
	d.Address = "localhost:3333"
	d.ShutdownTimeout = time.Second
	return d
}
