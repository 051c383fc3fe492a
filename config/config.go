package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

var appFS = afero.NewOsFs()

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`
	// ChunkSize caps the byte size of a single range response.
	ChunkSize int64 `yaml:"chunk_size"`
	// ReadaheadBytes extends prioritization past a requested range.
	ReadaheadBytes int64 `yaml:"readahead_bytes"`
	// WaitTimeout bounds how long a request waits for piece readiness
	// before proceeding degraded.
	WaitTimeout Duration `yaml:"wait_timeout"`
	// MetadataTimeout bounds how long a stream request waits for torrent
	// metadata before giving up.
	MetadataTimeout Duration `yaml:"metadata_timeout"`
	// MemoryBudget is the hard ceiling on resident piece bytes across all
	// transfers.
	MemoryBudget int64 `yaml:"memory_budget"`
	// MediaExtensions are the file extensions considered playable.
	MediaExtensions []string `yaml:"media_extensions"`
	LogLevel        string   `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Listen:          ":8080",
		ChunkSize:       8 << 20,
		ReadaheadBytes:  16 << 20,
		WaitTimeout:     Duration(30 * time.Second),
		MetadataTimeout: Duration(30 * time.Second),
		MemoryBudget:    512 << 20,
		MediaExtensions: []string{"mp4", "m4v", "mkv", "avi", "mov", "webm", "mp3", "flac"},
		LogLevel:        "info",
	}
}

// Load reads a YAML config file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := afero.ReadFile(appFS, path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive")
	}
	if c.ReadaheadBytes < 0 {
		return fmt.Errorf("config: readahead_bytes must not be negative")
	}
	if c.WaitTimeout <= 0 || c.MetadataTimeout <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if c.MemoryBudget <= 0 {
		return fmt.Errorf("config: memory_budget must be positive")
	}
	return nil
}
