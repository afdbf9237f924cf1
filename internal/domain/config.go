// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshaled application configuration. Field names map to
// TOML keys via viper's case-insensitive matching.
type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DataDir string `mapstructure:"dataDir"`

	// DryRun makes every applicator, router, importer and hunter mutation a
	// logged no-op. Decisions and strike accounting still run.
	DryRun bool `mapstructure:"dryRun"`

	MetricsEnabled bool `mapstructure:"metricsEnabled"`

	Qbit     QbitConfig      `mapstructure:"qbittorrent"`
	Managers []ManagerConfig `mapstructure:"managers"`

	Cleaner    CleanerConfig    `mapstructure:"cleaner"`
	CrossRoute CrossRouteConfig `mapstructure:"crossroute"`
	Importer   ImporterConfig   `mapstructure:"importer"`
	Hunter     HunterConfig     `mapstructure:"hunter"`
}

// QbitConfig describes the qBittorrent connection.
type QbitConfig struct {
	Host          string `mapstructure:"host"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tlsSkipVerify"`
	TimeoutSecs   int    `mapstructure:"timeoutSeconds"`
	// RequestDelaySecs is the mandatory minimum delay between successive
	// requests to this backend.
	RequestDelaySecs int `mapstructure:"requestDelaySeconds"`
}

// ManagerConfig describes one arr-style media manager instance.
type ManagerConfig struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"` // "sonarr" or "radarr"
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"apiKey"`
	Enabled bool   `mapstructure:"enabled"`

	// Defaults used when the importer auto-registers an unknown title.
	QualityProfile string `mapstructure:"qualityProfile"`
	RootFolder     string `mapstructure:"rootFolder"`

	// Hunter batch limits.
	SearchLimit int  `mapstructure:"searchLimit"`
	CutoffUnmet bool `mapstructure:"cutoffUnmet"`

	RequestDelaySecs int `mapstructure:"requestDelaySeconds"`
}

// CleanerConfig controls the strike lifecycle engine.
type CleanerConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	IntervalMins int  `mapstructure:"intervalMinutes"`
	Workers      int  `mapstructure:"workers"`

	MaxStrikes       int  `mapstructure:"maxStrikes"`
	StrikeWindowMins int  `mapstructure:"strikeWindowMinutes"`
	MaxRecordAgeDays int  `mapstructure:"maxRecordAgeDays"`
	MinSpeedKB       int  `mapstructure:"minSpeedKB"`
	MetadataTimeout  int  `mapstructure:"metadataTimeoutMinutes"`
	StalledTimeout   int  `mapstructure:"stalledTimeoutMinutes"`
	RemoveFailed     bool `mapstructure:"removeFailed"`
	RemoveMetadata   bool `mapstructure:"removeMetadataStuck"`
	RemoveStalled    bool `mapstructure:"removeStalled"`
	RemoveSlow       bool `mapstructure:"removeSlow"`
	RemoveOrphans    bool `mapstructure:"removeOrphans"`

	ProtectedTags []string `mapstructure:"protectedTags"`
	PrivateTags   []string `mapstructure:"privateTags"`
	ObsoleteTag   string   `mapstructure:"obsoleteTag"`
}

// CrossRouteConfig controls rerouting of unrecognized queue items.
type CrossRouteConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	IntervalMins int    `mapstructure:"intervalMinutes"`
	Threshold    int    `mapstructure:"threshold"`
	StagingDir   string `mapstructure:"stagingDir"`
}

// ImporterConfig controls the staging import matcher.
type ImporterConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	IntervalMins    int    `mapstructure:"intervalMinutes"`
	StagingDir      string `mapstructure:"stagingDir"`
	FailedRetention int    `mapstructure:"failedRetentionMinutes"`
}

// HunterConfig controls the missing-content search service.
type HunterConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	IntervalMins int  `mapstructure:"intervalMinutes"`
	MaxCycleDays int  `mapstructure:"maxCycleDays"`
}
