// Package svcup supervises a fixed set of local services tracked by PID
// files: start with verification, graceful-then-forced stop, and status
// inspection, embeddable or driven by the svcup CLI.
package svcup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/dkwon/svcup/internal/config"
	"github.com/dkwon/svcup/internal/env"
	"github.com/dkwon/svcup/internal/history"
	chsink "github.com/dkwon/svcup/internal/history/clickhouse"
	"github.com/dkwon/svcup/internal/logger"
	"github.com/dkwon/svcup/internal/metrics"
	iapi "github.com/dkwon/svcup/internal/server"
	"github.com/dkwon/svcup/internal/store"
	"github.com/dkwon/svcup/internal/store/factory"
	"github.com/dkwon/svcup/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Entry = supervisor.Entry

type Outcome = supervisor.Outcome

type Result = supervisor.Result

type Summary = supervisor.Summary

type Status = supervisor.Status

type Options = supervisor.Options

type Store = store.Store

type HistorySink = history.Sink

type Config = cfg.FileConfig

// Supervisor is a thin facade over internal/supervisor.Supervisor,
// providing a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

func New() *Supervisor { return NewWithOptions(Options{}) }

func NewWithOptions(opts Options) *Supervisor {
	return &Supervisor{inner: supervisor.New(opts)}
}

func (s *Supervisor) Start(e Entry) Result          { return s.inner.Start(e) }
func (s *Supervisor) Stop(e Entry) Result           { return s.inner.Stop(e) }
func (s *Supervisor) Status(e Entry) Status         { return s.inner.Status(e) }
func (s *Supervisor) StatusAll(es []Entry) []Status { return s.inner.StatusAll(es) }
func (s *Supervisor) StartAll(es []Entry) Summary   { return s.inner.StartAll(es) }
func (s *Supervisor) StopAll(es []Entry) Summary    { return s.inner.StopAll(es) }

// LoadConfig parses the TOML config file without interpreting it.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// LoadEntries parses the ordered [[services]] list from a TOML config.
func LoadEntries(path string) ([]Entry, error) { return cfg.LoadEntries(path) }

// LoadGlobalEnv merges OS env, env_files and the top-level env list.
func LoadGlobalEnv(path string) ([]string, error) { return cfg.LoadGlobalEnv(path) }

// NewEnv builds the environment merger used by Options.Env.
func NewEnv(global []string) *env.Env {
	e := env.New()
	e.FromOS()
	e.SetAll(global)
	return e
}

// NewStore builds a lifecycle store from the [store] config section, or
// nil when the section is absent or disabled.
func NewStore(c *Config) (Store, error) {
	if c == nil || c.Store == nil || !c.Store.Enabled {
		return nil, nil
	}
	return factory.NewFromDSN(c.Store.DSN)
}

// NewSinks builds the configured history sinks. ClickHouse sink tables
// are created on first use.
func NewSinks(c *Config) ([]HistorySink, error) {
	if c == nil || c.History == nil {
		return nil, nil
	}
	sinks := make([]HistorySink, 0, len(c.History.Sinks))
	for _, sc := range c.History.Sinks {
		switch sc.Type {
		case "clickhouse":
			s, err := chsink.New(sc.Addr, sc.Table)
			if err != nil {
				return nil, err
			}
			if err := s.EnsureTable(context.Background()); err != nil {
				_ = s.Close()
				return nil, err
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unknown history sink type %q", sc.Type)
		}
	}
	return sinks, nil
}

// NewHTTPServer starts the embedded HTTP API on addr for the given
// supervisor and service set.
func NewHTTPServer(addr, basePath string, s *Supervisor, entries []Entry) *http.Server {
	return iapi.NewServer(addr, basePath, s.inner, entries)
}

// Metrics helpers.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics serves /metrics on addr using the default registry. It
// blocks in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// NewLogger builds the supervisor's own slog logger writing to stderr.
// Level accepts debug/info/warn/error; color enables ANSI level tags.
func NewLogger(level string, color bool) *slog.Logger {
	return logger.New(os.Stderr, level, color)
}
