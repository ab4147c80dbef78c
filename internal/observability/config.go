package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the `observability:` section of republic.yaml. Logging lives
// in the main config because the CLI needs it before this section is read.
type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

func DefaultConfig() Config {
	return Config{
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{
			Exporter:     "otlp",
			OTLPEndpoint: defaultOTLPEndpoint,
			SampleRate:   1,
			ServiceName:  serviceName,
		},
	}
}

// LoadConfig overlays the file's observability section on the defaults.
// Keys the file leaves out keep their default; a missing file is not an
// error.
func LoadConfig(path string) (Config, error) {
	doc := struct {
		Observability Config `yaml:"observability"`
	}{Observability: DefaultConfig()}
	if path == "" {
		return doc.Observability, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc.Observability, nil
	}
	if err != nil {
		return DefaultConfig(), fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return DefaultConfig(), fmt.Errorf("parse observability section of %s: %w", path, err)
	}
	cfg := doc.Observability
	if cfg.Tracing.SampleRate <= 0 || cfg.Tracing.SampleRate > 1 {
		cfg.Tracing.SampleRate = 1
	}
	return cfg, nil
}
