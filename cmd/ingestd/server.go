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

	"github.com/indexline/ingestd/internal/api"
	"github.com/indexline/ingestd/internal/config"
	"github.com/indexline/ingestd/internal/contentstore"
	"github.com/indexline/ingestd/internal/embedding"
	"github.com/indexline/ingestd/internal/listener"
	"github.com/indexline/ingestd/internal/pinecone"
	"github.com/indexline/ingestd/internal/queue"
	"github.com/indexline/ingestd/internal/storage"
	"github.com/indexline/ingestd/internal/syncer"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ingestd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ingestd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ingestd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ingestd.pid")
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
	fmt.Fprintf(os.Stderr, "ingestd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("ingestd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("ingestd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the embedding provider.
	embedder, err := embedding.New(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("configuring embedding provider: %w", err)
	}
	slog.Info("embedding provider ready", "provider", embedder.Name(), "dimensions", embedder.Dimensions())

	// Select the content store backend.
	var content contentstore.Store
	if cfg.Pinecone.Host != "" {
		index := pinecone.New(cfg.Pinecone.Host, cfg.Pinecone.APIKey)
		content = contentstore.NewPineconeStore(index, store)
		slog.Info("using pinecone content store", "host", cfg.Pinecone.Host)
	} else {
		content = contentstore.NewSQLiteStore(store.DB())
		slog.Info("using local sqlite content store")
	}

	engine := syncer.New(content, embedder, cfg.Sync.MaxChunkSize)

	// Bots with their own provider settings embed through their own client.
	for _, bot := range cfg.Bots {
		resolved := cfg.Bot(bot.ID)
		botEmbedder, err := embedding.New(embedding.Config{
			Provider:   resolved.Provider,
			APIKey:     resolved.APIKey,
			Model:      resolved.Model,
			Dimensions: resolved.Dimensions,
		})
		if err != nil {
			return fmt.Errorf("configuring embedding provider for bot %s: %w", bot.ID, err)
		}
		engine.RegisterBotEmbedder(bot.ID, botEmbedder)
		slog.Info("bot embedding provider ready",
			"bot_id", bot.ID, "provider", botEmbedder.Name(), "dimensions", botEmbedder.Dimensions())
	}

	events := listener.New(engine)

	// Start queue worker.
	worker := queue.NewWorker(store, engine, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build HTTP handler and server.
	handler := api.NewHandler(api.Deps{
		Store:      store,
		Content:    content,
		Engine:     engine,
		Listener:   events,
		Runner:     worker,
		Token:      cfg.API.Token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		DataDir:    cfg.Storage.DataDir,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:    store,
		Content:  content,
		Listener: events,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "ingestd listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("ingestd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop ingestd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to ingestd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Embedding", "%s (%s)", cfg.Embedding.Provider, cfg.Embedding.Model)
	if cfg.Pinecone.Host != "" {
		printStatus("Content store", "pinecone (%s)", cfg.Pinecone.Host)
		index := pinecone.New(cfg.Pinecone.Host, cfg.Pinecone.APIKey)
		if stats, err := index.DescribeIndexStats(ctx); err == nil {
			printStatus("Index vectors", "%d (dimension %d)", stats.TotalVectorCount, stats.Dimension)
		} else {
			printStatus("Index vectors", "unavailable (%v)", err)
		}
	} else {
		printStatus("Content store", "local sqlite")
	}

	if running {
		apiClient, err := newAPIClient()
		if err == nil {
			docsResp, err := apiClient.get(ctx, "/documents?page_size=1")
			if err == nil {
				var page struct {
					TotalGroups int `json:"total_groups"`
				}
				if decodeJSON(docsResp, &page) == nil {
					printStatus("Documents", "%d", page.TotalGroups)
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
