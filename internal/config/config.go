// Package config loads the CLI's optional YAML configuration, with a few
// environment-variable overrides (a .env file is honored when present).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML scalars in
// time.ParseDuration form ("500ms", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	TargetDir    string `yaml:"target_dir"`
	ManifestPath string `yaml:"manifest_path"`
	HistoryPath  string `yaml:"history_path"`

	Workers     int   `yaml:"workers"`
	MaxAttempts int   `yaml:"max_attempts"`
	ChunkSize   int64 `yaml:"chunk_size"`

	RequestTimeout Duration `yaml:"request_timeout"`

	Rate RateConfig `yaml:"rate"`
}

type RateConfig struct {
	MinInterval      Duration `yaml:"min_interval"`
	BaseDelay        Duration `yaml:"base_delay"`
	MaxDelay         Duration `yaml:"max_delay"`
	Jitter           float64  `yaml:"jitter"`
	CircuitThreshold int      `yaml:"circuit_threshold"`
	CircuitCooldown  Duration `yaml:"circuit_cooldown"`
}

func Default() Config {
	return Config{
		TargetDir:    ".",
		ManifestPath: ".course-archiver/manifest.db",
		HistoryPath:  ".course-archiver/history.db",
		Workers:      3,
		MaxAttempts:  5,
		ChunkSize:    4 << 20,
	}
}

// Load reads the YAML file at path into a default-initialized Config, then
// applies environment overrides. A missing file is not an error; missing keys
// keep their defaults.
func Load(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("COURSE_ARCHIVER_TARGET_DIR"); v != "" {
		c.TargetDir = v
	}
	if v := os.Getenv("COURSE_ARCHIVER_MANIFEST"); v != "" {
		c.ManifestPath = v
	}
	if v := os.Getenv("COURSE_ARCHIVER_HISTORY"); v != "" {
		c.HistoryPath = v
	}
	if v := os.Getenv("COURSE_ARCHIVER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
}
