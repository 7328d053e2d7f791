package main

import (
	"fmt"
	"io"
	"os"

	"github.com/osakka/agentorch/internal/adapter"
	"github.com/osakka/agentorch/internal/orchestrator"
	"github.com/osakka/agentorch/internal/store"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/config"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/metrics"
	"github.com/osakka/agentorch/pkg/paths"
	"github.com/osakka/agentorch/pkg/validation"
)

// app is one fully wired process: configuration, logger, orchestrator and,
// when configured, the SQLite store.
type app struct {
	config       *config.AppConfig
	paths        *paths.PathConfig
	logger       logging.Logger
	metrics      *metrics.ProductionMetrics
	registry     *capabilities.Registry
	orchestrator *orchestrator.Orchestrator
	store        *store.Store

	closers []io.Closer
}

// appMode picks where logs go. Servers use the configured sinks; one-shot
// commands keep stdout clean for their own output.
type appMode int

const (
	modeServer appMode = iota
	modeCommand
)

func loadConfig(opts *rootOptions) (*config.AppConfig, *paths.PathConfig, error) {
	p := paths.DefaultPaths()
	file := opts.configFile
	if file == "" {
		file = p.ConfigFile()
	}

	bootstrap := logging.NewWithWriter("config", os.Stderr, logging.LevelWarn)
	cfg, err := config.Load(file, bootstrap)
	if err != nil {
		return nil, nil, err
	}
	if opts.logLevel != "" {
		if _, err := logging.ParseLevel(opts.logLevel); err != nil {
			return nil, nil, err
		}
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, p, nil
}

func newApp(opts *rootOptions, mode appMode) (*app, error) {
	cfg, p, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg, paths: p}

	switch mode {
	case modeServer:
		if err := p.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("failed to create directories: %w", err)
		}
		logger, closer, err := logging.NewFromConfig("agentorch", cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise logging: %w", err)
		}
		a.logger = logger
		a.closers = append(a.closers, closer)
		a.metrics = metrics.NewProductionMetrics(logger)
	default:
		level, _ := logging.ParseLevel(cfg.Logging.Level)
		if opts.logLevel == "" {
			level = logging.LevelWarn
		}
		a.logger = logging.NewWithWriter("agentorch", os.Stderr, level)
		a.metrics = metrics.NewNop()
	}

	descriptors, err := adapter.NewDefaultCatalog(a.logger).Descriptors(validation.NewValidator(a.logger, nil, false), a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.registry, err = capabilities.NewRegistry(a.logger, a.metrics, descriptors...); err != nil {
		a.Close()
		return nil, err
	}

	var orchOpts []orchestrator.Option
	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path, a.logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = st
		a.closers = append(a.closers, st)
		orchOpts = append(orchOpts, orchestrator.WithRecorder(st.Recorder()))
	}

	if a.orchestrator, err = orchestrator.New(a.registry, cfg.ToOrchestrator(), a.logger, a.metrics, orchOpts...); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store and log file in reverse order of creation.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// logger is the stderr logger for commands that never build an app.
func logger(opts *rootOptions) logging.Logger {
	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil || opts.logLevel == "" {
		level = logging.LevelWarn
	}
	return logging.NewWithWriter("agentorch", os.Stderr, level)
}
