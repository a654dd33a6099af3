package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hylla/convivencia/internal/adapters/storage/sqlite"
	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/config"
	"github.com/hylla/convivencia/internal/eventbus"
	"github.com/hylla/convivencia/internal/platform"
)

// session holds the resolved configuration, logger, store and service of one command run.
type session struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *runtimeLogger
	repo       *sqlite.Repository
	svc        *app.Service
	stderr     io.Writer
}

// resolvePaths resolves per-user paths with env overrides applied.
func resolvePaths(opts *rootOptions) (platform.Paths, error) {
	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: opts.appName,
		DevMode: opts.devMode,
	})
	if err != nil {
		return platform.Paths{}, err
	}
	return paths.WithEnvOverrides(os.Getenv), nil
}

// openSession loads config, configures logging and opens the case store.
func openSession(ctx context.Context, opts *rootOptions, command string) (*session, error) {
	paths, err := resolvePaths(opts)
	if err != nil {
		return nil, err
	}
	configPath := firstNonEmpty(opts.configPath, paths.ConfigPath)
	dbPath := firstNonEmpty(opts.dbPath, paths.DBPath)
	dbOverridden := strings.TrimSpace(opts.dbPath) != "" || strings.TrimSpace(os.Getenv(platform.EnvDBPath)) != ""

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	if catalogPath := strings.TrimSpace(cfg.Process.StageCatalog); catalogPath != "" {
		catalog, err := config.LoadStageCatalog(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("load stage catalog %q: %w", catalogPath, err)
		}
		catalog.Apply(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("apply stage catalog %q: %w", catalogPath, err)
		}
	}

	logger, err := newRuntimeLogger(opts.stderr, opts.appName, opts.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if command == "tui" {
		// Runtime logs stay in the dev-file sink while the dashboard owns the terminal.
		logger.SetConsoleEnabled(false)
	}
	s := &session{paths: paths, configPath: configPath, cfg: cfg, logger: logger, stderr: opts.stderr}

	logger.Info("startup configuration resolved", "app", opts.appName, "dev_mode", opts.devMode, "command", command)
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", dbPath)
	logger.Info("configuration loaded", "config_path", configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level, "stages", len(cfg.Process.Stages))
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}
	eventbus.Default().SetLogger(logger)

	logger.Info("opening sqlite repository", "db_path", cfg.Database.Path)
	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		s.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	s.repo = repo
	logger.Info("sqlite repository ready", "db_path", cfg.Database.Path, "migrations", "ensured")

	s.svc = app.NewService(repo, uuid.NewString, nil, app.ServiceConfig{
		Stages:          cfg.Process.Stages,
		DueSoonDays:     cfg.Alerts.DueSoonDays,
		AutoStartDetail: cfg.Process.AutoStartDetail,
	})
	if err := seedStageSLA(ctx, s.svc, cfg.Process.SLA); err != nil {
		logger.Error("stage sla seed failed", "err", err)
		s.Close()
		return nil, err
	}
	logger.Debug("application service initialized", "stages", len(s.svc.Stages()), "due_soon_days", cfg.Alerts.DueSoonDays)
	return s, nil
}

// seedStageSLA stores SLA values declared in config; config values win over stored rows.
func seedStageSLA(ctx context.Context, svc *app.Service, sla map[string]int) error {
	stages := make([]string, 0, len(sla))
	for stage := range sla {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		if _, err := svc.SetStageSLA(ctx, stage, sla[stage]); err != nil {
			return fmt.Errorf("seed stage sla %q: %w", stage, err)
		}
	}
	return nil
}

// Close releases the store and the dev log sink.
func (s *session) Close() {
	if s == nil {
		return
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Warn("sqlite close failed", "db_path", s.cfg.Database.Path, "err", err)
		}
		s.repo = nil
	}
	eventbus.Default().SetLogger(nil)
	if err := s.logger.Close(); err != nil && s.logger.consoleActive() {
		_, _ = fmt.Fprintf(s.stderr, "warning: close runtime log sink: %v\n", err)
	}
}
