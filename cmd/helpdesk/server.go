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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/atendeai/helpdesk/internal/api"
	"github.com/atendeai/helpdesk/internal/config"
	"github.com/atendeai/helpdesk/internal/customer"
	"github.com/atendeai/helpdesk/internal/dialog"
	"github.com/atendeai/helpdesk/internal/embed"
	"github.com/atendeai/helpdesk/internal/guard"
	"github.com/atendeai/helpdesk/internal/kb"
	helpdeskmcp "github.com/atendeai/helpdesk/internal/mcp"
	"github.com/atendeai/helpdesk/internal/retrieval"
	"github.com/atendeai/helpdesk/internal/storage"
	"github.com/atendeai/helpdesk/internal/sweep"
	"github.com/atendeai/helpdesk/internal/ticketing"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the helpdesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running helpdesk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show helpdesk system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "helpdesk.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "helpdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Refuse to double-start: probe the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("helpdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("helpdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Retrieval stack: embedding oracle, vector store, lexical catalog, cache.
	embedder := embed.NewWithTimeout(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Timeout)
	if !embedder.IsRunning(ctx) {
		printWarning("embedding service not reachable at %s, retrieval degrades to lexical search", cfg.Embedding.BaseURL)
	}
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	cache := retrieval.NewCacheWithTTL(store, cfg.Retrieval.CacheTTL)
	engine := retrieval.NewEngine(cache, embedder, vectorStore, store)

	// Dialog stack: orchestrator, inbound guard, turn service.
	templates := dialog.NewTemplates(time.Now().UnixNano())
	orchestrator := dialog.New(engine, templates)
	eventGuard := guard.NewWithDelay(cfg.Dialog.ReleaseDelay)

	var ticketer dialog.Ticketer
	if cfg.Ticketing.BaseURL != "" {
		ticketer = ticketing.NewWithTimeout(cfg.Ticketing.BaseURL, cfg.Ticketing.APIToken, cfg.Ticketing.Timeout)
	} else {
		slog.Warn("no ticketing base URL configured, ticket mirroring disabled")
	}
	customers := customer.NewCache(store)
	service := dialog.NewService(store, orchestrator, eventGuard, ticketer, customers, slog.Default())

	importer := kb.New(store, embedder, vectorStore)

	handler := api.NewHandler(api.AppDeps{
		Events:    service,
		Threads:   store,
		Cache:     store,
		Customers: customers,
		Importer:  importer,
		Token:     cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Background maintenance: cache sweep + terminal-thread retention.
	sweeper := sweep.NewWorker(cache, store, 15*time.Minute, 30*24*time.Hour)
	go sweeper.Run(ctx)

	// MCP server on stdio for operator-side agents.
	mcpSrv := helpdeskmcp.NewServer(helpdeskmcp.Deps{Store: store, Searcher: engine})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "helpdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("helpdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop helpdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to helpdesk (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	embedResp, err := client.Get(cfg.Embedding.BaseURL + "/api/tags")
	if err != nil {
		printStatus("Embedding", "not running")
	} else {
		embedResp.Body.Close()
		printStatus("Embedding", "running at %s (%s)", cfg.Embedding.BaseURL, cfg.Embedding.Model)
	}

	if cfg.Ticketing.BaseURL != "" {
		printStatus("Ticketing", "%s", cfg.Ticketing.BaseURL)
	} else {
		printStatus("Ticketing", "not configured")
	}

	if resp != nil && resp.StatusCode == 200 {
		statsResp, err := apiGet(client, serverURL+"/cache/stats", cfg.Server.APIToken)
		if err == nil {
			var stats struct {
				Entries   int `json:"entries"`
				TotalHits int `json:"totalHits"`
			}
			if decodeJSON(statsResp, &stats) == nil {
				printStatus("Cache", "%d entries, %d hits", stats.Entries, stats.TotalHits)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
