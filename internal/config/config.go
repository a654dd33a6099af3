package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/hylla/convivencia/internal/domain"
)

// Realtime source kinds.
const (
	RealtimeSourceSQLite   = "sqlite"
	RealtimeSourcePostgres = "postgres"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Process  ProcessConfig  `toml:"process"`
	Realtime RealtimeConfig `toml:"realtime"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
	Alerts   AlertsConfig   `toml:"alerts"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type ProcessConfig struct {
	Stages          []string       `toml:"stages"`
	SLA             map[string]int `toml:"sla"`
	AutoStartDetail string         `toml:"auto_start_detail"`
	// StageCatalog optionally points at a YAML stage catalog loaded on startup.
	StageCatalog string `toml:"stage_catalog"`
}

type RealtimeConfig struct {
	Enabled         bool     `toml:"enabled"`
	Source          string   `toml:"source"` // sqlite | postgres
	Debounce        string   `toml:"debounce"`
	PollInterval    string   `toml:"poll_interval"`
	PostgresDSN     string   `toml:"postgres_dsn"`
	PostgresDSNEnv  string   `toml:"postgres_dsn_env"`
	Channel         string   `toml:"channel"`
	Tables          []string `toml:"tables"`
	InstallTriggers bool     `toml:"install_triggers"`
	// ChangeRetention bounds how long sqlite change rows are kept; empty keeps them forever.
	ChangeRetention string `toml:"change_retention"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type AlertsConfig struct {
	DueSoonDays int `toml:"due_soon_days"`
}

func defaultStages() []string {
	return []string{
		"1. Denuncia",
		"2. Notificación",
		"3. Investigación",
		"4. Resolución",
		"5. Apelación",
		"6. Cierre",
	}
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Process: ProcessConfig{
			Stages:          defaultStages(),
			SLA:             map[string]int{},
			AutoStartDetail: "Inicio automático del proceso",
		},
		Realtime: RealtimeConfig{
			Enabled:        true,
			Source:         RealtimeSourceSQLite,
			Debounce:       "300ms",
			PollInterval:   "1s",
			PostgresDSNEnv: "CONVIVENCIA_POSTGRES_DSN",
			Channel:        "convivencia_changes",
			Tables:         domain.WatchedTables(),
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:5437",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".convivencia/log",
			},
		},
		Alerts: AlertsConfig{
			DueSoonDays: 2,
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	cfg.Process.Stages = domain.NormalizeStages(cfg.Process.Stages)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if len(domain.NormalizeStages(c.Process.Stages)) == 0 {
		return errors.New("process.stages must include at least one stage")
	}
	for stage, days := range c.Process.SLA {
		if domain.NormalizeStageLabel(stage) == "" {
			return errors.New("process.sla contains a blank stage")
		}
		if days < 0 {
			return fmt.Errorf("process.sla[%q] must be >= 0", stage)
		}
	}

	switch strings.TrimSpace(strings.ToLower(c.Realtime.Source)) {
	case RealtimeSourceSQLite, RealtimeSourcePostgres:
	default:
		return fmt.Errorf("invalid realtime.source: %q", c.Realtime.Source)
	}
	if _, err := c.DebounceDuration(); err != nil {
		return err
	}
	if _, err := c.PollIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.ChangeRetentionDuration(); err != nil {
		return err
	}
	for i, table := range c.Realtime.Tables {
		if !domain.IsWatchedTable(table) {
			return fmt.Errorf("realtime.tables[%d] references unknown table %q", i, table)
		}
	}

	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind is required")
	}
	for name, endpoint := range map[string]string{"server.api_endpoint": c.Server.APIEndpoint, "server.mcp_endpoint": c.Server.MCPEndpoint} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("%s must start with '/': %q", name, endpoint)
		}
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if c.Alerts.DueSoonDays < 0 {
		return fmt.Errorf("alerts.due_soon_days must be >= 0")
	}
	return nil
}

// DebounceDuration parses realtime.debounce.
func (c Config) DebounceDuration() (time.Duration, error) {
	return parsePositiveDuration("realtime.debounce", c.Realtime.Debounce, 300*time.Millisecond)
}

// PollIntervalDuration parses realtime.poll_interval.
func (c Config) PollIntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("realtime.poll_interval", c.Realtime.PollInterval, time.Second)
}

// ChangeRetentionDuration parses realtime.change_retention; zero disables pruning.
func (c Config) ChangeRetentionDuration() (time.Duration, error) {
	return parsePositiveDuration("realtime.change_retention", c.Realtime.ChangeRetention, 0)
}

// PostgresDSN resolves the DSN from the environment variable first, then the file value.
func (c Config) PostgresDSN() string {
	if env := strings.TrimSpace(c.Realtime.PostgresDSNEnv); env != "" {
		if dsn := strings.TrimSpace(os.Getenv(env)); dsn != "" {
			return dsn
		}
	}
	return strings.TrimSpace(c.Realtime.PostgresDSN)
}

func parsePositiveDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be > 0", field)
	}
	return d, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
