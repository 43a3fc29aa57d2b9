package monitoring

// DefaultListen is the default address the Prometheus exporter listens on.
const DefaultListen = "127.0.0.1:8989"

// Config configures the Prometheus exporter.
//
//nolint:ll
type Config struct {
	Enable bool `long:"enable" description:"Enable the Prometheus exporter"`

	Listen string `long:"listen" description:"The interface and port the Prometheus exporter should listen on"`

	PerfHistograms bool `long:"perfhistograms" description:"Enable additional histogram to track gRPC call processing performance (latency, etc)"`
}

// DefaultConfig is the default configuration for the Prometheus metrics
// exporter.
func DefaultConfig() Config {
	return Config{
		Listen: DefaultListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (c *Config) Enabled() bool {
	return c.Enable
}
