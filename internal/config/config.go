package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vango-dev/herald/internal/errors"
)

const (
	// FileName is the name of the configuration file.
	FileName = "herald.yaml"

	// EnvFileName is the optional dotenv file loaded before the config.
	EnvFileName = ".env"

	DefaultAddr             = ":7070"
	DefaultShutdownTimeout  = 5 * time.Second
	DefaultDebounce         = 100 * time.Millisecond
	DefaultJournalInterval  = 30 * time.Second
	DefaultJournalCapacity  = 4096
	DefaultMetricsNamespace = "herald"

	EnvAddr  = "HERALD_ADDR"
	EnvDebug = "HERALD_DEBUG"
)

// Config is the parsed herald.yaml.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Log         LogConfig          `yaml:"log"`
	Controllers []ControllerConfig `yaml:"controllers,omitempty"`
	Watch       WatchConfig        `yaml:"watch"`
	Journal     JournalConfig      `yaml:"journal"`
	Metrics     MetricsConfig      `yaml:"metrics"`

	path string
}

// ServerConfig configures the debug HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowAnyOrigin  bool          `yaml:"allowAnyOrigin,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// ControllerConfig declares a named controller registered at startup.
type ControllerConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

// WatchConfig lists files whose changes are published on the "files"
// controller.
type WatchConfig struct {
	Files    []string      `yaml:"files,omitempty"`
	Debounce time.Duration `yaml:"debounce"`
}

// JournalConfig configures the notification journal.
type JournalConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Capacity int           `yaml:"capacity"`

	// File receives JSON lines when S3 is not configured. Empty means stdout.
	File string   `yaml:"file,omitempty"`
	S3   S3Config `yaml:"s3,omitempty"`
}

// S3Config selects the journal bucket. Credentials come from the standard
// AWS environment variables.
type S3Config struct {
	Bucket   string `yaml:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem,omitempty"`
}

// New returns a Config with defaults applied.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads herald.yaml from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadOrDefault loads dir/.env and dir/herald.yaml, falling back to defaults
// when the file is missing, then applies environment overrides.
func LoadOrDefault(dir string) (*Config, error) {
	if err := LoadEnv(dir); err != nil {
		return nil, err
	}
	cfg, err := Load(dir)
	if err != nil {
		if errors.Code(err) != "H104" {
			return nil, err
		}
		cfg = New()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("H104").
				WithDetail("No " + FileName + " found in " + filepath.Dir(path))
		}
		return nil, errors.New("H100").Wrap(err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("H100").
			WithLocationFromYAML(path, err).
			Wrap(err)
	}

	cfg.path = path
	cfg.applyDefaults()
	return cfg, nil
}

// LoadEnv loads dir/.env into the process environment. Variables already set
// win. A missing file is not an error.
func LoadEnv(dir string) error {
	path := filepath.Join(dir, EnvFileName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.New("H103").Wrap(err)
	}
	return nil
}

// ApplyEnv applies HERALD_ADDR and HERALD_DEBUG.
func (c *Config) ApplyEnv() error {
	if addr := os.Getenv(EnvAddr); addr != "" {
		c.Server.Addr = addr
	}
	if v := os.Getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("H101").
				WithDetail(EnvDebug + " must be a boolean, got " + strconv.Quote(v)).
				Wrap(err)
		}
		c.Log.Debug = debug
	}
	return nil
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.path)
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.New("H102").Wrap(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New("H102").Wrap(err)
	}
	c.path = path
	return nil
}

// Path returns the file the config was loaded from or saved to.
func (c *Config) Path() string {
	return c.path
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.path == "" {
		return ""
	}
	return filepath.Dir(c.path)
}

// WatchPaths resolves Watch.Files relative to the config directory.
func (c *Config) WatchPaths() []string {
	out := make([]string, 0, len(c.Watch.Files))
	for _, f := range c.Watch.Files {
		if !filepath.IsAbs(f) && c.Dir() != "" {
			f = filepath.Join(c.Dir(), f)
		}
		out = append(out, f)
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = DefaultDebounce
	}
	if c.Journal.Interval <= 0 {
		c.Journal.Interval = DefaultJournalInterval
	}
	if c.Journal.Capacity <= 0 {
		c.Journal.Capacity = DefaultJournalCapacity
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return c.invalid("server.addr", "server.addr must look like host:port, got "+strconv.Quote(c.Server.Addr)).Wrap(err)
	}

	seen := make(map[string]bool, len(c.Controllers))
	for i, ctrl := range c.Controllers {
		name := strings.TrimSpace(ctrl.Name)
		if name == "" {
			return c.invalid("controllers", "controllers["+strconv.Itoa(i)+"] has no name")
		}
		if name == "files" {
			return c.invalid("controllers", `controller name "files" is reserved for watched files`)
		}
		if seen[name] {
			return c.invalid("controllers", "controller "+strconv.Quote(name)+" is declared twice")
		}
		seen[name] = true
	}

	s3 := c.Journal.S3
	if s3.Bucket == "" && (s3.Prefix != "" || s3.Region != "" || s3.Endpoint != "") {
		return c.invalid("journal.s3", "journal.s3 needs a bucket")
	}
	if s3.Bucket != "" && s3.Region == "" && os.Getenv("AWS_REGION") == "" {
		return c.invalid("journal.s3", "journal.s3 needs a region").
			WithSuggestion("Set journal.s3.region or AWS_REGION.")
	}
	return nil
}

func (c *Config) invalid(field, detail string) *errors.Error {
	err := errors.New("H101").WithDetail(detail)
	if c.path != "" {
		if line := findLine(c.path, field); line > 0 {
			err.WithLocation(c.path, line, 0)
		}
	}
	return err
}

// findLine returns the line of the first key of a dotted field path, or 0.
func findLine(path, field string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var root yaml.Node
	if yaml.Unmarshal(data, &root) != nil || len(root.Content) == 0 {
		return 0
	}
	node := root.Content[0]
	line := 0
	for _, part := range strings.Split(field, ".") {
		if node.Kind != yaml.MappingNode {
			break
		}
		found := false
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == part {
				line = node.Content[i].Line
				node = node.Content[i+1]
				found = true
				break
			}
		}
		if !found {
			break
		}
	}
	return line
}
