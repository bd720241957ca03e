package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
// Values come from environment variables (optionally seeded from a .env file)
// with sensible defaults.
//
// Environment Variables:
// Server:
// - PRISM_ADDR: HTTP listen address (default: :8000)
//
// Storage:
// - DATA_DIR: persistent data directory holding prism.db and projects/ (default: /app/data)
// - WORKSPACE_DIR: parent of ephemeral checkouts (default: $TMPDIR/prism_workspaces)
// - DIFF_OUTPUT_DIR: parent of diff job output directories (default: $TMPDIR/prism_diff)
//
// Tools:
// - KICAD_CLI_PATH: kicad-cli executable override (default: resolved from PATH and install locations)
// - GIT_BINARY: git executable (default: git)
// - GITHUB_TOKEN: token rewritten into https://github.com/ URLs (optional)
// - GIT_AUTHOR_NAME: author of workflow commits (default: KiCAD Prism)
// - GIT_AUTHOR_EMAIL: author email of workflow commits (default: prism@localhost)
//
// Jobs:
// - JOB_WORKERS: concurrently running jobs (default: 4)
// - JOB_MAX_RETAINED: retained job records before pruning finished ones (default: 1000)
// - JOB_TTL: age after which finished analyze/import/workflow jobs are reaped (default: 1h)
// - JOB_REAP_SCHEDULE: cron schedule of the reaper (default: @every 1m)
//
// Discovery / workflows:
// - DISCOVERY_MAX_DEPTH: directory depth scanned for project markers (default: 6)
// - WORKFLOWS_FILE: YAML job-set catalogue (default: built-in design/manufacturing/render)
//
// Logging:
// - LOG_LEVEL: debug|info|warn|error (default: info)
// - LOG_FORMAT: console|json (default: console)
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Git       GitConfig       `json:"git"`
	KiCad     KiCadConfig     `json:"kicad"`
	Jobs      JobsConfig      `json:"jobs"`
	Discovery DiscoveryConfig `json:"discovery"`
	Workflows Catalogue       `json:"workflows"`
	Log       LogConfig       `json:"log"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
}

type StorageConfig struct {
	DataDir       string `json:"data_dir"`
	WorkspaceDir  string `json:"workspace_dir"`
	DiffOutputDir string `json:"diff_output_dir"`
}

type GitConfig struct {
	Binary      string `json:"binary"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
	GitHubToken string `json:"-"`
}

type KiCadConfig struct {
	CLIPath string `json:"cli_path"`
}

type JobsConfig struct {
	Workers      int           `json:"workers"`
	MaxRetained  int           `json:"max_retained"`
	TTL          time.Duration `json:"ttl"`
	ReapSchedule string        `json:"reap_schedule"`
}

type DiscoveryConfig struct {
	MaxDepth int `json:"max_depth"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "prism.db")
}

func (c *Config) ProjectsDir() string {
	return filepath.Join(c.Storage.DataDir, "projects")
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.Storage.DataDir = dir
	}
}

func WithCatalogue(cat Catalogue) Option {
	return func(c *Config) {
		c.Workflows = cat
	}
}

// LoadEnvFile seeds the process environment from a .env style file.
// A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	tmp := os.TempDir()
	config := &Config{
		Server: ServerConfig{
			Addr: getEnvString("PRISM_ADDR", ":8000"),
		},
		Storage: StorageConfig{
			DataDir:       getEnvString("DATA_DIR", "/app/data"),
			WorkspaceDir:  getEnvString("WORKSPACE_DIR", filepath.Join(tmp, "prism_workspaces")),
			DiffOutputDir: getEnvString("DIFF_OUTPUT_DIR", filepath.Join(tmp, "prism_diff")),
		},
		Git: GitConfig{
			Binary:      getEnvString("GIT_BINARY", "git"),
			AuthorName:  getEnvString("GIT_AUTHOR_NAME", "KiCAD Prism"),
			AuthorEmail: getEnvString("GIT_AUTHOR_EMAIL", "prism@localhost"),
			GitHubToken: getEnvString("GITHUB_TOKEN", ""),
		},
		KiCad: KiCadConfig{
			CLIPath: getEnvString("KICAD_CLI_PATH", ""),
		},
		Jobs: JobsConfig{
			Workers:      getEnvInt("JOB_WORKERS", 4),
			MaxRetained:  getEnvInt("JOB_MAX_RETAINED", 1000),
			TTL:          getEnvDuration("JOB_TTL", time.Hour),
			ReapSchedule: getEnvString("JOB_REAP_SCHEDULE", "@every 1m"),
		},
		Discovery: DiscoveryConfig{
			MaxDepth: getEnvInt("DISCOVERY_MAX_DEPTH", 6),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "console"),
		},
	}

	catalogue := DefaultCatalogue()
	if path := getEnvString("WORKFLOWS_FILE", ""); path != "" {
		loaded, err := LoadCatalogue(path)
		if err != nil {
			return nil, err
		}
		catalogue = loaded
	}
	config.Workflows = catalogue

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if strings.TrimSpace(c.Storage.WorkspaceDir) == "" {
		return fmt.Errorf("WORKSPACE_DIR is required")
	}
	if strings.TrimSpace(c.Storage.DiffOutputDir) == "" {
		return fmt.Errorf("DIFF_OUTPUT_DIR is required")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("JOB_WORKERS must be positive, got %d", c.Jobs.Workers)
	}
	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive, got %s", c.Jobs.TTL)
	}
	if _, err := cron.ParseStandard(c.Jobs.ReapSchedule); err != nil {
		return fmt.Errorf("invalid JOB_REAP_SCHEDULE %q: %w", c.Jobs.ReapSchedule, err)
	}
	if c.Discovery.MaxDepth <= 0 {
		return fmt.Errorf("DISCOVERY_MAX_DEPTH must be positive, got %d", c.Discovery.MaxDepth)
	}
	return c.Workflows.Validate()
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
