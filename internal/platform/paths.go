package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Paths holds the per-user locations for config, the case store and backups.
type Paths struct {
	ConfigPath       string
	StageCatalogPath string
	DataDir          string
	DBPath           string
	SnapshotDir      string
}

// Env var names that override resolved paths.
const (
	EnvConfigPath = "CONVIVENCIA_CONFIG"
	EnvDBPath     = "CONVIVENCIA_DB_PATH"
)

// Options defines optional settings for configuration.
type Options struct {
	AppName string
	DevMode bool
}

// DefaultPaths returns the paths for the release build.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{AppName: "convivencia"})
}

// DefaultPathsWithOptions returns default paths with options.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = "convivencia"
	}
	if opts.DevMode {
		appName += "-dev"
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir := configDir
	if runtime.GOOS == "linux" {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return Paths{}, fmt.Errorf("user home dir: %w", homeErr)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	if runtime.GOOS == "windows" {
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			dataDir = v
		}
	}

	env := map[string]string{
		"XDG_CONFIG_HOME": os.Getenv("XDG_CONFIG_HOME"),
		"XDG_DATA_HOME":   os.Getenv("XDG_DATA_HOME"),
		"APPDATA":         os.Getenv("APPDATA"),
		"LOCALAPPDATA":    os.Getenv("LOCALAPPDATA"),
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appName)
}

// PathsFor resolves paths for goos from explicit base dirs and env values.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}

	configBase := userConfigDir
	dataBase := userDataDir

	switch goos {
	case "linux":
		if v := env["XDG_CONFIG_HOME"]; v != "" {
			configBase = v
		}
		if v := env["XDG_DATA_HOME"]; v != "" {
			dataBase = v
		}
	case "windows":
		if v := env["APPDATA"]; v != "" {
			configBase = v
		}
		if v := env["LOCALAPPDATA"]; v != "" {
			dataBase = v
		}
	case "darwin":
		// Keep os.UserConfigDir/UserCacheDir defaults for macOS.
	default:
		// Fallback for other platforms.
	}

	appConfigDir := filepath.Join(configBase, appName)
	appDataDir := filepath.Join(dataBase, appName)
	dbName := appName + ".db"
	return Paths{
		ConfigPath:       filepath.Join(appConfigDir, "config.toml"),
		StageCatalogPath: filepath.Join(appConfigDir, "stages.yaml"),
		DataDir:          appDataDir,
		DBPath:           filepath.Join(appDataDir, dbName),
		SnapshotDir:      filepath.Join(appDataDir, "snapshots"),
	}, nil
}

// WithEnvOverrides applies CONVIVENCIA_CONFIG and CONVIVENCIA_DB_PATH through lookup.
func (p Paths) WithEnvOverrides(lookup func(string) string) Paths {
	if lookup == nil {
		return p
	}
	if v := strings.TrimSpace(lookup(EnvConfigPath)); v != "" {
		p.ConfigPath = v
		p.StageCatalogPath = filepath.Join(filepath.Dir(v), "stages.yaml")
	}
	if v := strings.TrimSpace(lookup(EnvDBPath)); v != "" {
		p.DBPath = v
	}
	return p
}

// SnapshotFile returns a timestamped snapshot file name under SnapshotDir.
func (p Paths) SnapshotFile(stamp string) string {
	stamp = strings.TrimSpace(stamp)
	if stamp == "" {
		stamp = "latest"
	}
	return filepath.Join(p.SnapshotDir, "convivencia-"+stamp+".json")
}
