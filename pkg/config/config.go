package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Commit     string `mapstructure:"commit" yaml:"commit,omitempty"`
	Branch     string `mapstructure:"branch" yaml:"branch,omitempty"`
	Workflow   string `mapstructure:"workflow" yaml:"workflow,omitempty"`
	Repository string `mapstructure:"repository" yaml:"repository,omitempty"`
	Token      string `mapstructure:"token" yaml:"-"`
	RunID      string `mapstructure:"run_id" yaml:"run_id,omitempty"`
	Workdir    string `mapstructure:"workdir" yaml:"workdir,omitempty"`
	RuntimeDir string `mapstructure:"runtime_dir" yaml:"runtime_dir,omitempty"`
	UsageFile  string `mapstructure:"usage_file" yaml:"usage_file,omitempty"`
	TraceLog   string `mapstructure:"trace_log" yaml:"trace_log,omitempty"`
	StateFile  string `mapstructure:"state_file" yaml:"state_file,omitempty"`

	Changes ChangesConfig `mapstructure:"changes" yaml:"changes,omitempty"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache,omitempty"`
	Tracer  TracerConfig  `mapstructure:"tracer" yaml:"tracer,omitempty"`
}

type ChangesConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend,omitempty"`
	RepoPath string `mapstructure:"repo_path" yaml:"repo_path,omitempty"`
}

type CacheConfig struct {
	Backend         string `mapstructure:"backend" yaml:"backend,omitempty"`
	Dir             string `mapstructure:"dir" yaml:"dir,omitempty"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
}

type TracerConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend,omitempty"`
	Sudo        bool          `mapstructure:"sudo" yaml:"sudo"`
	Target      string        `mapstructure:"target" yaml:"target,omitempty"`
	PID         int           `mapstructure:"pid" yaml:"pid,omitempty"`
	Settle      time.Duration `mapstructure:"settle" yaml:"settle,omitempty"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout,omitempty"`
	// Exclude lists directories whose files are never recorded, relative to
	// the workdir unless absolute.
	Exclude []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
}

// envBindings maps config keys to the runner variables that supply them.
// SKIPPER_<KEY> always takes precedence.
var envBindings = map[string][]string{
	"commit":      {"GITHUB_SHA"},
	"branch":      {"GITHUB_REF"},
	"workflow":    {"GITHUB_WORKFLOW"},
	"repository":  {"GITHUB_REPOSITORY"},
	"token":       {"GITHUB_TOKEN", "GH_TOKEN"},
	"run_id":      {"GITHUB_RUN_ID"},
	"workdir":     {"GITHUB_WORKSPACE"},
	"runtime_dir": {"RUNNER_TEMP"},
}

var defaults = map[string]any{
	"usage_file":             "",
	"trace_log":              "",
	"state_file":             "",
	"changes.backend":        "github",
	"changes.repo_path":      "",
	"cache.backend":          "local",
	"cache.dir":              "",
	"cache.bucket":           "",
	"cache.prefix":           "skipper",
	"cache.credentials_file": "",
	"tracer.backend":         "strace",
	"tracer.sudo":            true,
	"tracer.target":          "Runner.Worker",
	"tracer.pid":             0,
	"tracer.settle":          "500ms",
	"tracer.stop_timeout":    "5s",
	"tracer.exclude":         []string{},
}

// listKeys hold comma separated values on the command line and in the env.
var listKeys = map[string]bool{
	"tracer.exclude": true,
}

var (
	configFile = ".skipper.yaml"
	v          *viper.Viper
)

func init() {
	v = newViper(configFile)
}

func newViper(file string) *viper.Viper {
	nv := viper.New()
	nv.SetConfigFile(file)

	for key, value := range defaults {
		nv.SetDefault(key, value)
	}

	// Environment variables
	nv.SetEnvPrefix("SKIPPER")
	nv.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	nv.AutomaticEnv()
	for key, envs := range envBindings {
		names := append([]string{"SKIPPER_" + strings.ToUpper(key)}, envs...)
		_ = nv.BindEnv(append([]string{key}, names...)...)
	}

	// Try to read config file (ignore if not exists)
	_ = nv.ReadInConfig()
	return nv
}

func Path() string {
	return configFile
}

// Load returns the effective configuration with derived paths filled in.
func Load() (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDerived() {
	if c.Workdir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Workdir = wd
		}
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = os.TempDir()
	}
	dir := filepath.Join(c.RuntimeDir, "skipper")
	if c.UsageFile == "" {
		c.UsageFile = filepath.Join(dir, "filelist.txt")
	}
	if c.TraceLog == "" {
		c.TraceLog = filepath.Join(dir, "trace.log")
	}
	if c.StateFile == "" {
		c.StateFile = filepath.Join(dir, "state.yaml")
	}
	var exclude []string
	for _, d := range c.Tracer.Exclude {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(c.Workdir, d)
		}
		exclude = append(exclude, d)
	}
	c.Tracer.Exclude = exclude
	if c.Changes.RepoPath == "" {
		c.Changes.RepoPath = c.Workdir
	}
	if c.Cache.Dir == "" {
		if base, err := os.UserCacheDir(); err == nil {
			c.Cache.Dir = filepath.Join(base, "skipper")
		} else {
			c.Cache.Dir = filepath.Join(c.RuntimeDir, "skipper-cache")
		}
	}
}

// Validate checks backend selections.
func (c *Config) Validate() error {
	switch c.Changes.Backend {
	case "github", "git":
	default:
		return fmt.Errorf("invalid changes.backend %q (valid: github, git)", c.Changes.Backend)
	}
	switch c.Cache.Backend {
	case "local":
	case "gcs":
		if c.Cache.Bucket == "" {
			return fmt.Errorf("cache.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("invalid cache.backend %q (valid: local, gcs)", c.Cache.Backend)
	}
	switch c.Tracer.Backend {
	case "strace", "inotify":
	default:
		return fmt.Errorf("invalid tracer.backend %q (valid: strace, inotify)", c.Tracer.Backend)
	}
	return nil
}

// Keys lists every config key, sorted.
func Keys() []string {
	var keys []string
	for key := range envBindings {
		keys = append(keys, key)
	}
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func known(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

func Get(key string) (string, error) {
	if !known(key) {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	return value(key), nil
}

func value(key string) string {
	if !listKeys[key] {
		return v.GetString(key)
	}
	if s, ok := v.Get(key).(string); ok {
		return s
	}
	return strings.Join(v.GetStringSlice(key), ",")
}

// All returns every key with its effective value. The token is masked.
func All() (map[string]string, error) {
	out := make(map[string]string)
	for _, key := range Keys() {
		out[key] = value(key)
	}
	if out["token"] != "" {
		out["token"] = "***"
	}
	return out, nil
}

// Set writes key to the config file. Only keys already in the file and key
// itself are written; values from the environment stay out of it.
func Set(key, value string) error {
	if !known(key) || key == "token" {
		return fmt.Errorf("unknown config key: %s", key)
	}
	fv := viper.New()
	fv.SetConfigFile(configFile)
	_ = fv.ReadInConfig()
	var val any = value
	if listKeys[key] {
		val = splitList(value)
	}
	fv.Set(key, val)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fv.AllSettings()); err != nil {
		return err
	}
	if err := os.WriteFile(configFile, buf.Bytes(), 0o644); err != nil {
		return err
	}
	v.Set(key, val) // keep viper in sync
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResetForTest resets viper for testing (only use in tests)
func ResetForTest(testPath string) {
	configFile = filepath.Join(testPath, ".skipper.yaml")
	v = newViper(configFile)
}
