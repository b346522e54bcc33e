// File: cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainpulse/chainpulse/internal/alert"
	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/provider"
	"github.com/chainpulse/chainpulse/internal/rollup"
	"github.com/chainpulse/chainpulse/internal/scanner"
	"github.com/chainpulse/chainpulse/internal/scheduler"
	"github.com/chainpulse/chainpulse/internal/server"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application wires the worker's components together
type Application struct {
	config    *config.Config
	storage   storage.Storage
	metrics   *metrics.Manager
	providers *provider.Manager
	scheduler *scheduler.Scheduler
	server    *server.Server
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApplication creates a fully wired application
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the global logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}

	utils.GetLogger().WithField("level", logCfg.Level).Info("Logger initialized")
	return nil
}

// initializeComponents builds storage, providers, pipelines and the server
func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing worker components")

	app.metrics = metrics.NewManager()

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}
	app.storage = store

	app.providers, err = provider.NewManager(app.config, app.storage, app.metrics)
	if err != nil {
		return fmt.Errorf("failed to create provider manager: %w", err)
	}

	app.scheduler = scheduler.NewScheduler(app.metrics)
	pipelines := app.config.Pipelines

	if pipelines.Probe.Enabled {
		app.scheduler.Register(provider.NewProbePipeline(app.providers), pipelines.Probe.Interval)
	}
	if pipelines.Scanner.Enabled {
		app.scheduler.Register(
			scanner.NewScanner(app.config, app.providers, app.storage, app.metrics),
			pipelines.Scanner.Interval)
	}
	if pipelines.Rollup.Enabled {
		app.scheduler.Register(
			rollup.NewRollup(app.config, app.storage, app.metrics),
			pipelines.Rollup.Interval)
	}
	if pipelines.Alerts.Enabled {
		app.scheduler.Register(
			alert.NewEvaluator(app.config, app.storage, app.providers, app.metrics),
			pipelines.Alerts.Interval)
	}

	app.server = server.NewServer(app.config, app.storage, app.providers, app.metrics)

	logger.Info("All components initialized")
	return nil
}

// Start starts the server and the pipeline scheduler
func (app *Application) Start() error {
	logger := utils.GetLogger()
	logger.WithField("version", AppVersion).Info("Starting chainpulse worker")

	app.server.Start()

	if err := app.scheduler.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.WithField("worker_id", app.config.App.WorkerID).Info("Worker started")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	logger := utils.GetLogger()
	logger.Info("Stopping chainpulse worker")

	app.cancel()
	app.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop ops server")
	}

	app.providers.Close()

	if err := app.storage.Close(); err != nil {
		logger.WithError(err).Error("Failed to close storage")
	}

	logger.Info("Worker stopped")
	return nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "chainpulse-worker",
	Short:   "Chain monitoring worker",
	Long:    `Background worker that probes RPC providers, ingests blocks with reorg handling, rolls up per-minute metrics and evaluates alert rules.`,
	Version: AppVersion,
	RunE:    runWorker,
}

// runWorker is the main command to run the worker
func runWorker(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping worker...")

	return app.Stop()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chainpulse-worker %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Endpoints: %d\n", len(cfg.Chain.Endpoints))
		fmt.Printf("Database: %s\n", cfg.Storage.Type)

		return nil
	},
}

// testCmd tests upstream and storage connectivity
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		fmt.Println("Testing chainpulse worker connectivity...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, endpoint := range cfg.Chain.Endpoints {
			fmt.Printf("Testing RPC endpoint %s...\n", endpoint)
			client, err := provider.NewClient(endpoint, cfg.Chain.RequestTimeout, cfg.Chain.TraceTimeout)
			if err != nil {
				return fmt.Errorf("failed to create client for %s: %w", endpoint, err)
			}
			height, err := client.BlockNumber(ctx)
			client.Close()
			if err != nil {
				fmt.Printf("✗ %s unreachable: %v\n", endpoint, err)
				continue
			}
			fmt.Printf("✓ %s at height %d\n", endpoint, height)
		}

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		store.Close()
		fmt.Println("✓ Storage connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
