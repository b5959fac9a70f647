package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dkwon/svcup/internal/logger"
	"github.com/dkwon/svcup/internal/supervisor"
)

// FileConfig represents the top-level TOML structure:
//
//	env = ["A=1"]
//	env_files = [".env"]
//	use_os_env = true
//	[log]        # rotation defaults for service output
//	[store]      # lifecycle state persistence
//	[[history.sinks]]
//	[server]     # embedded HTTP API
//	[[services]] # ordered supervised services
type FileConfig struct {
	Env      []string        `toml:"env" mapstructure:"env"`
	EnvFiles []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Store    *StoreConfig    `toml:"store" mapstructure:"store"`
	History  *HistoryConfig  `toml:"history" mapstructure:"history"`
	Server   *ServerConfig   `toml:"server" mapstructure:"server"`
	Services []ServiceConfig `toml:"services" mapstructure:"services"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type StoreConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

type HistoryConfig struct {
	Sinks []SinkConfig `toml:"sinks" mapstructure:"sinks"`
}

type SinkConfig struct {
	Type  string `toml:"type" mapstructure:"type"`
	Addr  string `toml:"addr" mapstructure:"addr"`
	Table string `toml:"table" mapstructure:"table"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type ServiceConfig struct {
	Name               string        `toml:"name" mapstructure:"name"`
	Command            string        `toml:"command" mapstructure:"command"`
	WorkDir            string        `toml:"workdir" mapstructure:"workdir"`
	Env                []string      `toml:"env" mapstructure:"env"`
	PIDFile            string        `toml:"pidfile" mapstructure:"pidfile"`
	HealthCheck        string        `toml:"health_check" mapstructure:"health_check"`
	GracefulTimeout    time.Duration `toml:"graceful_timeout" mapstructure:"graceful_timeout"`
	StartupVerifyDelay time.Duration `toml:"startup_verify_delay" mapstructure:"startup_verify_delay"`
	Log                *LogConfig    `toml:"log" mapstructure:"log"`
}

func load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Load parses the file once and returns the raw structure for callers
// that need the non-service sections (store, history, server).
func Load(path string) (*FileConfig, error) {
	return load(path)
}

// LoadEntries parses a TOML config file into the ordered list of
// supervised services. Per-service log settings override the [log]
// defaults; PID files default to <dir of config>/run/<name>.pid when
// unset.
func LoadEntries(path string) ([]supervisor.Entry, error) {
	fc, err := load(path)
	if err != nil {
		return nil, err
	}
	entries := make([]supervisor.Entry, 0, len(fc.Services))
	for _, sc := range fc.Services {
		logCfg := mergeLog(fc.Log, sc.Log)
		pidFile := sc.PIDFile
		if pidFile == "" && sc.Name != "" {
			pidFile = filepath.Join(filepath.Dir(path), "run", sc.Name+".pid")
		}
		e := supervisor.Entry{
			Name:               sc.Name,
			Command:            sc.Command,
			WorkDir:            sc.WorkDir,
			Env:                sc.Env,
			PIDFile:            pidFile,
			Log:                logCfg,
			HealthCheck:        sc.HealthCheck,
			GracefulTimeout:    sc.GracefulTimeout,
			StartupVerifyDelay: sc.StartupVerifyDelay,
		}
		e.ApplyDefaults()
		if err := e.Validate(); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func mergeLog(base, over *LogConfig) logger.Config {
	var lc logger.Config
	if base != nil {
		lc = logger.Config{
			Dir:        base.Dir,
			Path:       base.Path,
			MaxSizeMB:  base.MaxSizeMB,
			MaxBackups: base.MaxBackups,
			MaxAgeDays: base.MaxAgeDays,
			Compress:   base.Compress,
		}
	}
	if over != nil {
		if over.Dir != "" {
			lc.Dir = over.Dir
		}
		if over.Path != "" {
			lc.Path = over.Path
		}
		if over.MaxSizeMB != 0 {
			lc.MaxSizeMB = over.MaxSizeMB
		}
		if over.MaxBackups != 0 {
			lc.MaxBackups = over.MaxBackups
		}
		if over.MaxAgeDays != 0 {
			lc.MaxAgeDays = over.MaxAgeDays
		}
		if over.Compress {
			lc.Compress = true
		}
	}
	return lc
}

// LoadGlobalEnv merges env from config: OS env (when use_os_env is
// true) as the base, then env_files in order, then the top-level env
// list overriding last.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := load(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
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

// loadEnvFile parses a plain .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
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
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

// Validate checks sections that cannot be verified at unmarshal time.
func (fc *FileConfig) Validate() error {
	if fc.Store != nil && fc.Store.Enabled && strings.TrimSpace(fc.Store.DSN) == "" {
		return fmt.Errorf("store enabled but dsn is empty")
	}
	if fc.History != nil {
		for _, s := range fc.History.Sinks {
			switch s.Type {
			case "clickhouse":
				if strings.TrimSpace(s.Addr) == "" {
					return fmt.Errorf("history sink %s requires addr", s.Type)
				}
			default:
				return fmt.Errorf("unknown history sink type %q", s.Type)
			}
		}
	}
	seen := make(map[string]bool, len(fc.Services))
	for _, sc := range fc.Services {
		if seen[sc.Name] {
			return fmt.Errorf("duplicate service name %q", sc.Name)
		}
		seen[sc.Name] = true
	}
	return nil
}
