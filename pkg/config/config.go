package config

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Size is a byte count that unmarshals from human-readable YAML values
// such as "8GiB" or "512MB". Plain integers are taken as bytes.
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		n, err := units.RAMInBytes(raw)
		if err != nil {
			return fmt.Errorf("invalid size %q: %v", raw, err)
		}
		*s = Size(n)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid size value: %v", err)
	}
	*s = Size(n)
	return nil
}

// MB returns the size in whole mebibytes
func (s Size) MB() int64 {
	return int64(s) / units.MiB
}

// String returns a human-readable rendering
func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// Config holds the full server configuration
type Config struct {
	// HTTP front end
	ListenAddr  string   `yaml:"listen_addr"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Persistent state
	DataDir       string `yaml:"data_dir"`
	WorkspaceRoot string `yaml:"workspace_root"`

	// Container runtime
	ContainerdSocket    string `yaml:"containerd_socket"`
	ContainerdNamespace string `yaml:"containerd_namespace"`

	// Worker pool
	Workers      int           `yaml:"workers"`
	LeaseTimeout time.Duration `yaml:"lease_timeout"`

	// GPU admission budget. A job requests exactly one slice.
	TotalVRAM Size `yaml:"total_vram"`
	GPUSlice  Size `yaml:"gpu_slice"`

	// Compute limits
	MaxCPU int `yaml:"max_cpu"`

	// Log handling
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
	LogCap   Size   `yaml:"log_cap"` // in-memory accumulator bound per task

	// Static pages
	StaticImage   string `yaml:"static_image"`
	StaticPortMin int    `yaml:"static_port_min"`
	StaticPortMax int    `yaml:"static_port_max"`
	AdvertiseAddr string `yaml:"advertise_addr"` // host part of published page URLs

	// Telemetry
	ResourceInterval time.Duration `yaml:"resource_interval"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		CORSOrigins:         []string{"*"},
		DataDir:             "/var/lib/minicloud",
		WorkspaceRoot:       "/var/lib/minicloud/workspaces",
		ContainerdSocket:    "/run/containerd/containerd.sock",
		ContainerdNamespace: "minicloud",
		Workers:             4,
		LeaseTimeout:        2 * time.Minute,
		TotalVRAM:           8 * units.GiB,
		GPUSlice:            2 * units.GiB,
		MaxCPU:              4,
		LogLevel:            "info",
		LogJSON:             true,
		LogCap:              1 * units.MiB,
		StaticImage:         "docker.io/library/nginx:alpine",
		StaticPortMin:       8000,
		StaticPortMax:       8999,
		AdvertiseAddr:       "127.0.0.1",
		ResourceInterval:    2 * time.Second,
	}
}

// Load reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for impossible values
func (c *Config) Validate() error {
	if c.GPUSlice <= 0 {
		return fmt.Errorf("gpu_slice must be positive, got %s", c.GPUSlice)
	}
	if c.TotalVRAM < 0 {
		return fmt.Errorf("total_vram must not be negative, got %s", c.TotalVRAM)
	}
	if c.MaxCPU < 1 {
		return fmt.Errorf("max_cpu must be at least 1, got %d", c.MaxCPU)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.StaticPortMin > c.StaticPortMax {
		return fmt.Errorf("static port range is empty: %d-%d", c.StaticPortMin, c.StaticPortMax)
	}
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	return nil
}
