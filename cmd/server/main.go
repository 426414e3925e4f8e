package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/oses-stations/collector/internal/api"
	"github.com/oses-stations/collector/internal/config"
	"github.com/oses-stations/collector/internal/storage"
	"github.com/oses-stations/collector/internal/upload"
	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "collector",
	Short:         "Field station data collector",
	Long:          "Receives measurement uploads from field stations, appends them to a shared log and serves the current UTC time.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("collector %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: collector.yaml next to the executable)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), "collector.yaml"), nil
}

func parseLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

func serve(ctx context.Context) error {
	configPath := cfgFile
	if configPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	maxBytes, err := cfg.MaxUploadBytes()
	if err != nil {
		return err
	}

	level := parseLevel(cfg.Advanced.LogLevel)
	logger := log.New("ingest")
	logger.SetLevel(level)
	storeLogger := log.New("stationlog")
	storeLogger.SetLevel(level)

	stationLog, err := storage.NewStationLog(cfg.GetLogPath(), storage.Options{
		LockPath: cfg.GetLockPath(),
		Mode:     cfg.Ingest.FailureMode,
		Sync:     cfg.Storage.SyncWrites,
		Logger:   storeLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize station log: %w", err)
	}

	batches := upload.NewManager(stationLog.Path(), cfg.Ingest.RecentBatches)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(level)

	api.SetupMiddleware(e, api.MiddlewareOptions{
		RequestLogging: cfg.Server.EnableRequestLogging,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		StationLog: stationLog,
		Batches:    batches,
		FormField:  cfg.Ingest.FormField,
		Limits:     upload.Limits{MaxBytes: maxBytes, MaxLines: cfg.Ingest.MaxLines},
		Logger:     logger,
		Version:    Version,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Station Data Collector                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", cfg.Ingest.FailureMode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Log File:  %-46s║\n", cfg.GetLogPath())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	fmt.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
