// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrbiter/arrbiter/internal/api"
	"github.com/arrbiter/arrbiter/internal/arr"
	"github.com/arrbiter/arrbiter/internal/buildinfo"
	"github.com/arrbiter/arrbiter/internal/config"
	"github.com/arrbiter/arrbiter/internal/database"
	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/engine"
	"github.com/arrbiter/arrbiter/internal/metrics"
	"github.com/arrbiter/arrbiter/internal/models"
	"github.com/arrbiter/arrbiter/internal/qbit"
	"github.com/arrbiter/arrbiter/internal/services/crossroute"
	"github.com/arrbiter/arrbiter/internal/services/hunter"
	"github.com/arrbiter/arrbiter/internal/services/importer"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "arrbiter",
		Short: "Strike-based download lifecycle daemon",
		Long: `arrbiter reconciles in-flight qBittorrent downloads against the
desired-content state of Sonarr/Radarr instances: it strikes persistently
unhealthy transfers, removes or tags them once the evidence is in, reroutes
unrecognized content through a staging pipeline and hunts missing content.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		dryRun    bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/arrbiter/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "log every action without performing it")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, dryRun)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of arrbiter",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the daemon.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/arrbiter/config.toml
- Windows: %APPDATA%\arrbiter\config.toml

You can specify either a directory path or a direct file path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	dryRun    bool
}

func NewApplication(configDir, dataDir, logPath string, dryRun bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		dryRun:    dryRun,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("ARRBITER__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("ARRBITER__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}
	if app.dryRun {
		cfg.Config.DryRun = true
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Str("dataDir", cfg.GetDataDir()).
		Bool("dryRun", cfg.Config.DryRun).Msg("Starting arrbiter")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	strikeWindow := time.Duration(cfg.Config.Cleaner.StrikeWindowMins) * time.Minute
	strikeStore := models.NewStrikeStore(db, strikeWindow)
	searchHistory := models.NewSearchHistoryStore(db)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	connectCtx, connectCancel := context.WithTimeout(rootCtx, 2*time.Minute)
	qbitClient, err := qbit.NewClient(connectCtx, cfg.Config.Qbit)
	connectCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to qBittorrent")
	}

	var (
		managers       []engine.Manager
		importTargets  []importer.Target
		huntTargets    []hunter.Target
		managerClients []*arr.Client
	)
	for _, managerCfg := range cfg.Config.Managers {
		if !managerCfg.Enabled {
			continue
		}
		client, err := arr.NewClient(managerCfg)
		if err != nil {
			log.Fatal().Err(err).Str("manager", managerCfg.Name).Msg("Invalid manager configuration")
		}
		managerClients = append(managerClients, client)
		managers = append(managers, client)
		importTargets = append(importTargets, importer.Target{
			Manager:        client,
			QualityProfile: managerCfg.QualityProfile,
			RootFolder:     managerCfg.RootFolder,
		})
		huntTargets = append(huntTargets, hunter.Target{
			Manager:     client,
			SearchLimit: managerCfg.SearchLimit,
			CutoffUnmet: managerCfg.CutoffUnmet,
		})
	}
	log.Info().Int("managers", len(managerClients)).Msg("Media managers configured")

	engineCfg := engine.ConfigFromDomain(cfg.Config.Cleaner)
	applicator := engine.NewApplicator(qbitClient, managers, strikeStore, engineCfg.Rules,
		cfg.Config.Cleaner.ObsoleteTag, cfg.Config.DryRun)
	lifecycleEngine := engine.New(engineCfg, qbitClient, managers, strikeStore, applicator)

	recorder := metrics.NewRecorder()
	lifecycleEngine.OnReport(recorder.ObserveCycle)

	if cfg.Config.Cleaner.Enabled {
		go lifecycleEngine.Run(rootCtx)
	} else {
		log.Info().Msg("Lifecycle engine disabled")
	}

	dryRunAware := []interface{ SetDryRun(bool) }{applicator}

	if cfg.Config.CrossRoute.Enabled {
		crossRouter := crossroute.NewService(
			crossroute.ConfigFromDomain(cfg.Config.CrossRoute),
			managers, strikeStore, cfg.Config.DryRun)
		crossRouter.Start(rootCtx)
		dryRunAware = append(dryRunAware, crossRouter)
	}

	if cfg.Config.Importer.Enabled {
		importService := importer.NewService(
			importer.ConfigFromDomain(cfg.Config.Importer),
			importTargets, cfg.Config.DryRun)
		importService.Start(rootCtx)
		dryRunAware = append(dryRunAware, importService)
	}

	if cfg.Config.Hunter.Enabled {
		huntService := hunter.NewService(
			hunter.ConfigFromDomain(cfg.Config.Hunter),
			huntTargets, searchHistory, cfg.Config.DryRun)
		huntService.Start(rootCtx)
		dryRunAware = append(dryRunAware, huntService)
	}

	// Dry run is the one setting safe to flip while the loops are running.
	// The --dry-run flag always wins over the config file.
	cfg.RegisterReloadListener(func(newCfg *domain.Config) {
		enabled := newCfg.DryRun || app.dryRun
		for _, component := range dryRunAware {
			component.SetDryRun(enabled)
		}
		log.Info().Bool("dryRun", enabled).Msg("Dry run mode reloaded")
	})

	httpServer := api.NewServer(&api.Dependencies{
		Config:   cfg,
		Version:  buildinfo.Version,
		Engine:   lifecycleEngine,
		Recorder: recorder,
	})

	errorChannel := make(chan error)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		os.Exit(1)
	}
}
