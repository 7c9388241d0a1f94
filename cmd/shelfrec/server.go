package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kalambet/shelfrec/internal/api"
	"github.com/kalambet/shelfrec/internal/config"
	"github.com/kalambet/shelfrec/internal/supervisor"
	"github.com/kalambet/shelfrec/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shelfrec server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running shelfrec server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shelfrec system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "shelfrec.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

type healthResponse struct {
	Status       string `json:"status"`
	IndexVersion string `json:"index_version"`
	IndexEntries int    `json:"index_entries"`
}

// probeServer asks a local server for its health. It returns false when
// nothing answers.
func probeServer(port int) (healthResponse, bool) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return healthResponse{}, false
	}
	defer resp.Body.Close()
	var h healthResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&h) != nil {
		return healthResponse{Status: fmt.Sprintf("HTTP %d", resp.StatusCode)}, true
	}
	return h, true
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionString())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if _, running := probeServer(cfg.Server.Port); running {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("shelfrec is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("shelfrec is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Server.AdminToken == "" {
		logger.Warn("SHELFREC_ADMIN_TOKEN is not set, admin routes are disabled")
	}
	if cfg.Catalog.Token == "" {
		logger.Warn("SHELFREC_CATALOG_TOKEN is not set, catalog refreshes may be rejected upstream")
	}

	handler := api.NewHandler(api.Deps{
		Profiles:     a.profiles,
		Recommender:  a.recommender,
		Refresher:    a.driver,
		Jobs:         a.store,
		AdminToken:   cfg.Server.AdminToken,
		DefaultLimit: cfg.Recommend.TopK,
		RateLimit:    cfg.Server.RateLimit,
		Logger:       logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, 10*time.Second))
	tree.AddJobService(supervisor.NewWorkerService(worker.NewWorker(a.store, a.driver, 2*time.Second, logger)))
	tree.AddJobService(supervisor.NewSchedulerService(a.store, cfg.Refresh.Interval(), logger))

	logger.Info("shelfrec listening", "addr", addr, "backend", cfg.Embed.Backend)
	err = tree.Serve(ctx)
	fmt.Fprintln(os.Stderr, "shutting down...")
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("shelfrec is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop shelfrec (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to shelfrec (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if h, running := probeServer(cfg.Server.Port); running {
		printStatus("Server", "running on port %d (%s)", cfg.Server.Port, h.Status)
		if h.IndexVersion != "" {
			printStatus("Index", "%s, %d books", h.IndexVersion, h.IndexEntries)
		} else {
			printStatus("Index", "none, run `shelfrec refresh --remote`")
		}
	} else {
		printStatus("Server", "stopped")
	}

	printStatus("Embedding", "%s", cfg.Embed.Backend)
	if cfg.Embed.Backend == "ollama" {
		printStatus("Embed model", "%s at %s", cfg.Ollama.EmbedModel, cfg.Ollama.BaseURL)
	}
	printStatus("Catalog", "%s", cfg.Catalog.Endpoint)
	if cfg.Refresh.IntervalHours > 0 {
		printStatus("Auto refresh", "every %dh", cfg.Refresh.IntervalHours)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
