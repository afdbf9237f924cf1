// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arrbiter/arrbiter/internal/domain"
)

var envPrefix = "ARRBITER__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7878)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("dryRun", true)
	c.viper.SetDefault("metricsEnabled", false)

	c.viper.SetDefault("qbittorrent.host", "http://localhost:8080")
	c.viper.SetDefault("qbittorrent.username", "admin")
	c.viper.SetDefault("qbittorrent.timeoutSeconds", 60)
	c.viper.SetDefault("qbittorrent.requestDelaySeconds", 2)

	c.viper.SetDefault("cleaner.enabled", true)
	c.viper.SetDefault("cleaner.intervalMinutes", 20)
	c.viper.SetDefault("cleaner.workers", 4)
	c.viper.SetDefault("cleaner.maxStrikes", 3)
	c.viper.SetDefault("cleaner.strikeWindowMinutes", 120)
	c.viper.SetDefault("cleaner.maxRecordAgeDays", 30)
	c.viper.SetDefault("cleaner.minSpeedKB", 100)
	c.viper.SetDefault("cleaner.metadataTimeoutMinutes", 15)
	c.viper.SetDefault("cleaner.stalledTimeoutMinutes", 15)
	c.viper.SetDefault("cleaner.removeFailed", true)
	c.viper.SetDefault("cleaner.removeMetadataStuck", true)
	c.viper.SetDefault("cleaner.removeStalled", true)
	c.viper.SetDefault("cleaner.removeSlow", true)
	c.viper.SetDefault("cleaner.removeOrphans", false)
	c.viper.SetDefault("cleaner.protectedTags", []string{"protected", "keep"})
	c.viper.SetDefault("cleaner.privateTags", []string{"private"})
	c.viper.SetDefault("cleaner.obsoleteTag", "arrbiter-obsolete")

	c.viper.SetDefault("crossroute.enabled", false)
	c.viper.SetDefault("crossroute.intervalMinutes", 20)
	c.viper.SetDefault("crossroute.threshold", 3)
	c.viper.SetDefault("crossroute.stagingDir", "/data/manual-import")

	c.viper.SetDefault("importer.enabled", false)
	c.viper.SetDefault("importer.intervalMinutes", 5)
	c.viper.SetDefault("importer.stagingDir", "/data/manual-import")
	c.viper.SetDefault("importer.failedRetentionMinutes", 180)

	c.viper.SetDefault("hunter.enabled", false)
	c.viper.SetDefault("hunter.intervalMinutes", 15)
	c.viper.SetDefault("hunter.maxCycleDays", 30)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath(GetDefaultConfigDir())

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
				if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
					return err
				}
				c.viper.SetConfigFile(defaultConfigPath)
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				c.dataDir = filepath.Dir(defaultConfigPath)
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// Explicit bindings only; AutomaticEnv reads every env var and clashes
	// with orchestrator-injected variables.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("dryRun", envPrefix+"DRY_RUN")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")

	c.viper.BindEnv("qbittorrent.host", envPrefix+"QBIT_HOST")
	c.viper.BindEnv("qbittorrent.username", envPrefix+"QBIT_USERNAME")
	c.viper.BindEnv("qbittorrent.password", envPrefix+"QBIT_PASSWORD")
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	configTemplate := `# config.toml - Auto-generated on first run

# Hostname / IP for the status/health server
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7878
port = {{ .port }}

# Dry run: log every action without executing it. Disable once the
# decisions in the log look right.
# Default: true
dryRun = true

# Log level
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Log file path
# If not defined, logs to stdout
#logPath = "log/arrbiter.log"

# Log rotation
#logMaxSize = {{ .logMaxSize }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# The strike ledger database (arrbiter.db) lives here.
#dataDir = "/var/db/arrbiter"

# Prometheus metrics at /metrics
#metricsEnabled = false

[qbittorrent]
host = "http://localhost:8080"
username = "admin"
password = ""
#requestDelaySeconds = 2

[cleaner]
enabled = true
intervalMinutes = 20
maxStrikes = 3
strikeWindowMinutes = 120
minSpeedKB = 100
metadataTimeoutMinutes = 15
stalledTimeoutMinutes = 15
removeOrphans = false
protectedTags = ["protected", "keep"]
privateTags = ["private"]
obsoleteTag = "arrbiter-obsolete"

[crossroute]
enabled = false
intervalMinutes = 20
threshold = 3
stagingDir = "/data/manual-import"

[importer]
enabled = false
intervalMinutes = 5
stagingDir = "/data/manual-import"
failedRetentionMinutes = 180

[hunter]
enabled = false
intervalMinutes = 15
maxCycleDays = 30

# One block per media manager.
#[[managers]]
#name = "sonarr"
#type = "sonarr"
#url = "http://localhost:8989"
#apiKey = ""
#enabled = true
#qualityProfile = "Any"
#rootFolder = "/data/tv-shows"
#searchLimit = 10
#requestDelaySeconds = 5
`

	data := map[string]any{
		"host":          c.viper.GetString("host"),
		"port":          c.viper.GetInt("port"),
		"logLevel":      c.viper.GetString("logLevel"),
		"logMaxSize":    c.viper.GetInt("logMaxSize"),
		"logMaxBackups": c.viper.GetInt("logMaxBackups"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "arrbiter")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "arrbiter")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "arrbiter")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "arrbiter")
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the strike ledger database file.
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, "arrbiter.db")
}

// GetDataDir returns the resolved data directory path.
func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}
