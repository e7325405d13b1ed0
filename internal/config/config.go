package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. POLYBUILD_RUN_STOP_TIMEOUT
// or POLYBUILD_C_ZMQ_SHARED.
const EnvPrefix = "POLYBUILD"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Build   BuildConfig   `toml:"build" mapstructure:"build"`
	Run     RunConfig     `toml:"run" mapstructure:"run"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`

	Models       []ModelConfig      `toml:"models" mapstructure:"models"`
	Dependencies []DependencyConfig `toml:"dependencies" mapstructure:"dependencies"`
}

type BuildConfig struct {
	Overwrite bool   `toml:"overwrite" mapstructure:"overwrite"`
	WorkDir   string `toml:"work_dir" mapstructure:"work_dir"`
	// CleanupWait bounds the retry loop when removing products.
	CleanupWait time.Duration `toml:"cleanup_wait" mapstructure:"cleanup_wait"`
}

type RunConfig struct {
	StopTimeout  time.Duration `toml:"stop_timeout" mapstructure:"stop_timeout"`
	KillTimeout  time.Duration `toml:"kill_timeout" mapstructure:"kill_timeout"`
	DrainTimeout time.Duration `toml:"drain_timeout" mapstructure:"drain_timeout"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	Tracer       string        `toml:"tracer" mapstructure:"tracer"`
	TracerFlags  []string      `toml:"tracer_flags" mapstructure:"tracer_flags"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	DSN     string        `toml:"dsn" mapstructure:"dsn"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type MetricsConfig struct {
	Listen         string        `toml:"listen" mapstructure:"listen"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// ModelConfig declares one model to build and run.
type ModelConfig struct {
	Name          string   `toml:"name" mapstructure:"name"`
	Language      string   `toml:"language" mapstructure:"language"`
	Sources       []string `toml:"sources" mapstructure:"sources"`
	Compiler      string   `toml:"compiler" mapstructure:"compiler"`
	Linker        string   `toml:"linker" mapstructure:"linker"`
	Archiver      string   `toml:"archiver" mapstructure:"archiver"`
	CompilerFlags []string `toml:"compiler_flags" mapstructure:"compiler_flags"`
	LinkerFlags   []string `toml:"linker_flags" mapstructure:"linker_flags"`
	Dependencies  []string `toml:"dependencies" mapstructure:"dependencies"`
	LibType       string   `toml:"libtype" mapstructure:"libtype"`
	DontLink      bool     `toml:"dont_link" mapstructure:"dont_link"`
	Target        string   `toml:"target" mapstructure:"target"`
	WorkDir       string   `toml:"work_dir" mapstructure:"work_dir"`
	Args          []string `toml:"args" mapstructure:"args"`
	Env           []string `toml:"env" mapstructure:"env"`
	Overwrite     *bool    `toml:"overwrite" mapstructure:"overwrite"`
}

// DependencyConfig declares one library in the dependency catalog.
type DependencyConfig struct {
	Name        string   `toml:"name" mapstructure:"name"`
	Kind        string   `toml:"kind" mapstructure:"kind"`
	LibType     string   `toml:"libtype" mapstructure:"libtype"`
	Language    string   `toml:"language" mapstructure:"language"`
	Sources     []string `toml:"sources" mapstructure:"sources"`
	IncludeDirs []string `toml:"include_dirs" mapstructure:"include_dirs"`
	Definitions []string `toml:"definitions" mapstructure:"definitions"`
	Include     string   `toml:"include" mapstructure:"include"`
	Path        string   `toml:"path" mapstructure:"path"`
	Internal    []string `toml:"internal" mapstructure:"internal"`
}

// Config is the loaded configuration. It is read-only after Load.
type Config struct {
	File FileConfig
	path string
	v    *viper.Viper
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "+", "X", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the TOML file at path. Environment variables prefixed with
// POLYBUILD_ override file values.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return fromViper(v, path)
}

// Empty returns a configuration with no file; only environment overrides
// apply.
func Empty() *Config {
	c, _ := fromViper(newViper(), "")
	return c
}

func fromViper(v *viper.Viper, path string) (*Config, error) {
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// AutomaticEnv only applies to keys viper already knows about.
	for key, dst := range map[string]*time.Duration{
		"run.stop_timeout":  &fc.Run.StopTimeout,
		"run.kill_timeout":  &fc.Run.KillTimeout,
		"run.drain_timeout": &fc.Run.DrainTimeout,
		"run.poll_interval": &fc.Run.PollInterval,
	} {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	for key, dst := range map[string]*string{
		"run.tracer":     &fc.Run.Tracer,
		"log.level":      &fc.Log.Level,
		"log.format":     &fc.Log.Format,
		"log.dir":        &fc.Log.Dir,
		"history.dsn":    &fc.History.DSN,
		"metrics.listen": &fc.Metrics.Listen,
		"server.listen":  &fc.Server.Listen,
		"build.work_dir": &fc.Build.WorkDir,
	} {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	if v.IsSet("build.overwrite") {
		fc.Build.Overwrite = v.GetBool("build.overwrite")
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &Config{File: fc, path: path, v: v}, nil
}

func (fc *FileConfig) validate() error {
	seen := make(map[string]bool)
	for i, m := range fc.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("model %d requires name", i)
		}
		if strings.TrimSpace(m.Language) == "" {
			return fmt.Errorf("model %s requires language", m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model %s", m.Name)
		}
		seen[m.Name] = true
	}
	deps := make(map[string]bool)
	for i, d := range fc.Dependencies {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("dependency %d requires name", i)
		}
		if deps[d.Name] {
			return fmt.Errorf("duplicate dependency %s", d.Name)
		}
		deps[d.Name] = true
	}
	return nil
}

// Path is the file the configuration was loaded from, if any.
func (c *Config) Path() string { return c.path }

// Resolve makes a relative path relative to the configuration file's
// directory. Empty and absolute paths are returned unchanged.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// ResolveAll applies Resolve to every path.
func (c *Config) ResolveAll(ps []string) []string {
	if len(ps) == 0 {
		return nil
	}
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = c.Resolve(p)
	}
	return out
}

// Get returns option from section, e.g. Get("c", "zmq_shared"). It
// satisfies the dependency catalog's read-only store.
func (c *Config) Get(section, option string) (string, bool) {
	key := strings.ToLower(section + "." + option)
	if !c.v.IsSet(key) {
		return "", false
	}
	s := strings.TrimSpace(c.v.GetString(key))
	return s, s != ""
}

// GetStrings returns a list option, accepting a single string as well.
func (c *Config) GetStrings(section, option string) []string {
	key := strings.ToLower(section + "." + option)
	if !c.v.IsSet(key) {
		return nil
	}
	if ss := c.v.GetStringSlice(key); len(ss) > 0 {
		return ss
	}
	return nil
}

// Model returns the named model declaration.
func (c *Config) Model(name string) (ModelConfig, bool) {
	for _, m := range c.File.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// GlobalEnv merges env from config: top-level env, env_files contents, and
// optionally OS env when UseOSEnv is true. Precedence: OS env (when enabled)
// provides base; then apply file vars; then top-level env list overrides last.
func (c *Config) GlobalEnv() ([]string, error) {
	fc := c.File
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		if !filepath.IsAbs(p) && c.path != "" {
			p = filepath.Join(filepath.Dir(c.path), p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
