package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/kshedden/surveyeda"
)

// envPrefix is the prefix of the environment variables read by the
// program, e.g. SURVEYEDA_LOG_LEVEL.
const envPrefix = "SURVEYEDA"

// Config is the run configuration.
type Config struct {
	Domains []surveyeda.Domain `yaml:"domains" ignored:"true"`

	// Directory for histogram PNG files.  Empty means no files are
	// written.
	PlotsDir string `yaml:"plots_dir" envconfig:"PLOTS_DIR"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	// Folder overrides for the two survey domains.
	MarriagesDir string `yaml:"-" envconfig:"MATRIMONIOS_DIR"`
	DivorcesDir  string `yaml:"-" envconfig:"DIVORCIOS_DIR"`
}

func defaultConfig() Config {
	return Config{
		Domains: []surveyeda.Domain{
			{Name: "MATRIMONIOS", Folder: "./data_matrimonios", Schema: surveyeda.DefaultSchema()},
			{Name: "DIVORCIOS", Folder: "./data_divorcios", Schema: surveyeda.DefaultSchema()},
		},
		LogLevel: "warn",
	}
}

// loadConfig builds the configuration from the defaults, then the
// YAML file at path if path is not empty, then the environment.
func loadConfig(path string) (Config, error) {

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.fillSchemaDefaults()
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to load config from env: %w", err)
	}
	cfg.applyFolderOverrides()

	return cfg, nil
}

// fillSchemaDefaults completes domain schemas read from a file.  Keys
// left out take the default values.
func (cfg *Config) fillSchemaDefaults() {
	def := surveyeda.DefaultSchema()
	for i := range cfg.Domains {
		s := &cfg.Domains[i].Schema
		if s.Extension == "" {
			s.Extension = def.Extension
		}
		if s.Renames == nil {
			s.Renames = def.Renames
		}
		if s.Sentinels == nil {
			s.Sentinels = def.Sentinels
		}
	}
}

func (cfg *Config) applyFolderOverrides() {
	for i := range cfg.Domains {
		switch strings.ToUpper(cfg.Domains[i].Name) {
		case "MATRIMONIOS":
			if cfg.MarriagesDir != "" {
				cfg.Domains[i].Folder = cfg.MarriagesDir
			}
		case "DIVORCIOS":
			if cfg.DivorcesDir != "" {
				cfg.Domains[i].Folder = cfg.DivorcesDir
			}
		}
	}
}

// Validate checks the domains and the log level.
func (cfg Config) Validate() error {

	var errs []error

	if len(cfg.Domains) == 0 {
		errs = append(errs, errors.New("no domains configured"))
	}

	seen := make(map[string]bool)
	for i, d := range cfg.Domains {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("domain %d has no name", i+1))
		}
		if seen[strings.ToUpper(d.Name)] {
			errs = append(errs, fmt.Errorf("domain %s is configured twice", d.Name))
		}
		seen[strings.ToUpper(d.Name)] = true
		if d.Folder == "" {
			errs = append(errs, fmt.Errorf("domain %s has no folder", d.Name))
		}
		if err := d.Schema.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("domain %s: %w", d.Name, err))
		}
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return multierr.Combine(errs...)
}

// domain returns the configured domain of the given name, ignoring
// case.
func (cfg Config) domain(name string) (surveyeda.Domain, bool) {
	for _, d := range cfg.Domains {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return surveyeda.Domain{}, false
}
