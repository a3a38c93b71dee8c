// Package config loads the worker configuration: a YAML file checked
// against an embedded CUE schema, then overridden from the environment.
//
// Credentials are only ever read from the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hydroplante/internal/model"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied to fields the file leaves unset.
const (
	DefaultPath          = "hydroplante.yaml"
	DefaultAPIHost       = "api.github.com"
	DefaultDatabase      = "hydroplante.db"
	DefaultListen        = "127.0.0.1:8080"
	DefaultStateFile     = "plant_state.json"
	DefaultCheckInterval = 30 * time.Second
	DefaultCheckTimeout  = 5 * time.Second
	DefaultConcurrency   = 4
)

// ErrInvalid marks a configuration rejected by the schema.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// ConnectivityConfig configures the connectivity check.
type ConnectivityConfig struct {
	URL      string   `yaml:"url,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

// SyncConfig configures the remote plant state document.
type SyncConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	StateFile string `yaml:"state_file,omitempty"`
	Message   string `yaml:"message,omitempty"`
}

// Config is the complete worker configuration.
type Config struct {
	Generation          model.Generation   `yaml:"generation"`
	Origin              string             `yaml:"origin"`
	APIHost             string             `yaml:"api_host,omitempty"`
	Database            string             `yaml:"database,omitempty"`
	Listen              string             `yaml:"listen,omitempty"`
	SkipWaiting         bool               `yaml:"skip_waiting,omitempty"`
	PopulateConcurrency int                `yaml:"populate_concurrency,omitempty"`
	Manifest            model.Manifest     `yaml:"manifest"`
	Connectivity        ConnectivityConfig `yaml:"connectivity,omitempty"`
	Sync                SyncConfig         `yaml:"sync,omitempty"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`

	// Secrets come from the environment only.
	SyncToken    string `yaml:"-"`
	OTelEndpoint string `yaml:"-"`
}

// Env holds the environment overrides.
type Env struct {
	ConfigPath   string `env:"HYDRO_CONFIG" envDefault:"hydroplante.yaml"`
	Database     string `env:"HYDRO_DB"`
	Listen       string `env:"HYDRO_LISTEN"`
	SyncToken    string `env:"HYDRO_SYNC_TOKEN"`
	OTelEndpoint string `env:"HYDRO_OTEL_ENDPOINT"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv reads the environment overrides.
func LoadEnv() (Env, error) {
	var e Env
	err := ParseEnv(&e)
	return e, err
}

// Load reads, validates and completes the configuration at path, then
// applies environment overrides. An empty path uses HYDRO_CONFIG.
func Load(path string) (*Config, error) {
	e, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = e.ConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Path = path
	cfg.ApplyEnv(e)
	return cfg, nil
}

// Parse validates a YAML document and returns it with defaults applied.
// Environment overrides are not applied.
func Parse(data []byte) (*Config, error) {
	if errs := Validate(data); len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalid}, errs...)...)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Join(ErrInvalid, &ValidationError{Code: ErrCodeSchema, Message: err.Error()})
	}
	cfg.Manifest = cfg.Manifest.Normalize()
	cfg.applyDefaults()
	if err := cfg.checkSyncHost(); err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}
	return &cfg, nil
}

// checkSyncHost requires the sync endpoint to live on api_host. Requests to
// any other host are served cache-first, so the document read before a write
// would come from the cache and carry a stale sha.
func (c *Config) checkSyncHost() error {
	if !c.SyncEnabled() {
		return nil
	}
	u, err := url.Parse(c.Sync.Endpoint)
	if err != nil {
		return &ValidationError{Field: "sync.endpoint", Code: ErrCodeSchema, Message: err.Error()}
	}
	if !strings.EqualFold(u.Hostname(), c.APIHost) {
		return &ValidationError{
			Field:   "sync.endpoint",
			Code:    ErrCodeSchema,
			Message: fmt.Sprintf("host %q must match api_host %q", u.Hostname(), c.APIHost),
		}
	}
	return nil
}

// ApplyEnv overrides file settings with the environment.
func (c *Config) ApplyEnv(e Env) {
	if e.Database != "" {
		c.Database = e.Database
	}
	if e.Listen != "" {
		c.Listen = e.Listen
	}
	c.SyncToken = e.SyncToken
	c.OTelEndpoint = e.OTelEndpoint
}

func (c *Config) applyDefaults() {
	if c.APIHost == "" {
		c.APIHost = DefaultAPIHost
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.PopulateConcurrency == 0 {
		c.PopulateConcurrency = DefaultConcurrency
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = Duration(DefaultCheckInterval)
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = Duration(DefaultCheckTimeout)
	}
	if c.Connectivity.URL == "" {
		c.Connectivity.URL = "https://" + c.APIHost
	}
	if c.Sync.StateFile == "" {
		c.Sync.StateFile = DefaultStateFile
	}
}

// OriginURL returns the parsed origin.
func (c *Config) OriginURL() (*url.URL, error) {
	return model.ParseOrigin(c.Origin)
}

// SyncEnabled reports whether a remote document is configured.
func (c *Config) SyncEnabled() bool {
	return c.Sync.Endpoint != ""
}
