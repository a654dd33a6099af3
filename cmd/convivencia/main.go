package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/convivencia/internal/adapters/server"
	servercommon "github.com/hylla/convivencia/internal/adapters/server/common"
	"github.com/hylla/convivencia/internal/app"
	"github.com/hylla/convivencia/internal/config"
	"github.com/hylla/convivencia/internal/eventbus"
	"github.com/hylla/convivencia/internal/tui"
)

// version stores a package-level helper value.
var version = "dev"

// Env vars read by the CLI in addition to the path overrides in platform.
const (
	envDevMode = "CONVIVENCIA_DEV_MODE"
	envAppName = "CONVIVENCIA_APP_NAME"
)

// program represents program data used by this package.
type program interface {
	Run() (tea.Model, error)
}

// programFactory stores a package-level helper value.
var programFactory = func(m tea.Model) program {
	return tea.NewProgram(m)
}

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := newRootCommand(os.Stdout, os.Stderr)
	err := fang.Execute(ctx, root, fang.WithVersion(version))
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// run executes one command line without fang styling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SilenceUsage = true
	root.SilenceErrors = true
	return root.ExecuteContext(ctx)
}

// rootOptions holds global flag values shared by every subcommand.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool

	stdout io.Writer
	stderr io.Writer
}

// newRootCommand builds the command tree; the bare command launches the dashboard.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	defaultDevMode := version == "dev"
	if envDev, ok := parseBoolEnv(envDevMode); ok {
		defaultDevMode = envDev
	}
	defaultApp := "convivencia"
	if envApp := strings.TrimSpace(os.Getenv(envAppName)); envApp != "" {
		defaultApp = envApp
	}

	root := &cobra.Command{
		Use:   "convivencia",
		Short: "School conduct case follow-up dashboard",
		Long: `Track school conduct cases through the due-process stages.

Without a subcommand the terminal dashboard opens and refreshes whenever
another session changes the case store.`,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context(), opts)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", defaultApp, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newServeCommand(opts),
		newPathsCommand(opts),
		newExportCommand(opts),
		newImportCommand(opts),
		newStagesCommand(opts),
	)
	return root
}

// runTUI runs the dashboard until the user quits.
func runTUI(ctx context.Context, opts *rootOptions) error {
	s, err := openSession(ctx, opts, "tui")
	if err != nil {
		return err
	}
	defer s.Close()

	bus := eventbus.Default()
	live, err := startRealtime(ctx, s, bus)
	if err != nil {
		return err
	}
	defer live.Close()

	signals := make(chan eventbus.Signal, 1)
	unsubscribe := bus.Subscribe(tui.ForwardSignals(signals))
	defer unsubscribe()

	m := tui.NewModel(s.svc, tui.WithRefreshSignals(signals))
	s.logger.Info("starting tui program loop", "realtime", live.statusText())
	if _, err := programFactory(m).Run(); err != nil {
		s.logger.Error("tui program terminated with error", "err", err)
		return fmt.Errorf("run tui program: %w", err)
	}
	s.logger.Info("command flow complete", "command", "tui")
	return nil
}

// newServeCommand builds the serve subcommand.
func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools and refresh stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, "serve")
			if err != nil {
				return err
			}
			defer s.Close()

			bus := eventbus.Default()
			live, err := startRealtime(ctx, s, bus)
			if err != nil {
				return err
			}
			defer live.Close()

			adapter := servercommon.NewAppServiceAdapter(s.svc)
			deps := serveradapter.Dependencies{
				Cases:    adapter,
				StageSLA: adapter,
				Signals:  bus,
			}
			if live.subscriber != nil {
				deps.Realtime = live.subscriber
			}
			cfg := serveradapter.Config{
				HTTPBind:      firstNonEmpty(httpBind, s.cfg.Server.Bind),
				APIEndpoint:   firstNonEmpty(apiEndpoint, s.cfg.Server.APIEndpoint),
				MCPEndpoint:   firstNonEmpty(mcpEndpoint, s.cfg.Server.MCPEndpoint),
				ServerName:    opts.appName,
				ServerVersion: version,
			}
			s.logger.Info("command flow start", "command", "serve", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
			if err := serveCommandRunner(ctx, cfg, deps); err != nil {
				s.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			s.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base endpoint (default from config)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint (default from config)")
	return cmd
}

// newPathsCommand prints resolved per-user paths.
func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and snapshot paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := resolvePaths(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", firstNonEmpty(opts.configPath, paths.ConfigPath))
			_, _ = fmt.Fprintf(out, "stage_catalog: %s\n", paths.StageCatalogPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", firstNonEmpty(opts.dbPath, paths.DBPath))
			_, _ = fmt.Fprintf(out, "snapshots: %s\n", paths.SnapshotDir)
			return nil
		},
	}
}

// newExportCommand writes a JSON snapshot of the case store.
func newExportCommand(opts *rootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export cases, follow-ups and stage SLA as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, opts, "export")
			if err != nil {
				return err
			}
			defer s.Close()

			s.logger.Info("command flow start", "command", "export")
			snap, err := s.svc.ExportSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("export snapshot: %w", err)
			}
			encoded, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("encode snapshot json: %w", err)
			}
			encoded = append(encoded, '\n')

			if outPath == "-" {
				if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
					return fmt.Errorf("write snapshot to stdout: %w", err)
				}
				return nil
			}
			if strings.TrimSpace(outPath) == "" {
				outPath = s.paths.SnapshotFile(snapshotStamp(snap.ExportedAt))
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create export output dir: %w", err)
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write export file: %w", err)
			}
			s.logger.Info("command flow complete", "command", "export", "out", outPath, "cases", len(snap.Cases))
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output file path ('-' for stdout, default: timestamped file in the snapshot dir)")
	return cmd
}

// newImportCommand loads a JSON snapshot into the case store.
func newImportCommand(opts *rootOptions) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot json: %w", err)
			}

			ctx := cmd.Context()
			s, err := openSession(ctx, opts, "import")
			if err != nil {
				return err
			}
			defer s.Close()
			s.logger.Info("command flow start", "command", "import", "in", inPath)
			if err := s.svc.ImportSnapshot(ctx, snap); err != nil {
				s.logger.Error("command flow failed", "command", "import", "err", err)
				return fmt.Errorf("import snapshot: %w", err)
			}
			s.logger.Info("command flow complete", "command", "import", "cases", len(snap.Cases), "followups", len(snap.FollowUps))
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// newStagesCommand groups stage SLA maintenance subcommands.
func newStagesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages",
		Short: "Inspect and import stage SLA settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the configured stages with their SLA days",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				s, err := openSession(ctx, opts, "stages list")
				if err != nil {
					return err
				}
				defer s.Close()
				rows, err := s.svc.ListStageSLA(ctx)
				if err != nil {
					return fmt.Errorf("list stage sla: %w", err)
				}
				sla := make(map[string]int, len(rows))
				for _, row := range rows {
					sla[row.Stage] = row.Days
				}
				out := cmd.OutOrStdout()
				for _, stage := range s.svc.Stages() {
					days := "-"
					if v, ok := sla[stage]; ok {
						days = strconv.Itoa(v)
					}
					_, _ = fmt.Fprintf(out, "%s\t%s\n", stage, days)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "import <catalog.yaml>",
			Short: "Import stage SLA days from a YAML catalog",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				catalog, err := config.LoadStageCatalog(args[0])
				if err != nil {
					return err
				}
				ctx := cmd.Context()
				s, err := openSession(ctx, opts, "stages import")
				if err != nil {
					return err
				}
				defer s.Close()
				imported, err := importStageCatalog(ctx, s, catalog)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d stage sla rows\n", imported)
				return nil
			},
		},
	)
	return cmd
}

// importStageCatalog stores every catalog SLA; stages outside the configured sequence are logged.
func importStageCatalog(ctx context.Context, s *session, catalog config.StageCatalog) (int, error) {
	known := map[string]struct{}{}
	for _, stage := range s.svc.Stages() {
		known[stage] = struct{}{}
	}
	sla := catalog.SLA()
	stages := make([]string, 0, len(sla))
	for stage := range sla {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		if _, ok := known[stage]; !ok {
			s.logger.Warn("catalog stage is not in the configured sequence", "stage", stage)
		}
		if _, err := s.svc.SetStageSLA(ctx, stage, sla[stage]); err != nil {
			return 0, fmt.Errorf("set stage sla %q: %w", stage, err)
		}
	}
	s.logger.Info("stage catalog imported", "rows", len(stages))
	return len(stages), nil
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// firstNonEmpty returns the first non-blank value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// snapshotStamp formats export timestamps for file names.
func snapshotStamp(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}
