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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kalambet/mdpress/internal/api"
	"github.com/kalambet/mdpress/internal/config"
	"github.com/kalambet/mdpress/internal/dify"
	"github.com/kalambet/mdpress/internal/generate"
	"github.com/kalambet/mdpress/internal/markdown"
	"github.com/kalambet/mdpress/internal/metrics"
	"github.com/kalambet/mdpress/internal/render"
	"github.com/kalambet/mdpress/internal/retention"
	"github.com/kalambet/mdpress/internal/storage"
	"github.com/kalambet/mdpress/internal/templates"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mdpress server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mdpress server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mdpress server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mdpress.pid")
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

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// stores holds the opened persistence backends.
type stores struct {
	documents storage.DocumentStore
	sqlite    *storage.Store
}

func (s stores) Close() {
	if s.documents != nil && s.documents != storage.DocumentStore(s.sqlite) {
		if err := s.documents.Close(); err != nil {
			slog.Warn("closing document store", "error", err)
		}
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			slog.Warn("closing sqlite store", "error", err)
		}
	}
}

// openStores opens SQLite, which always holds generation history, and the
// configured document backend.
func openStores(ctx context.Context, cfg config.StorageConfig) (stores, error) {
	db, err := storage.Open(cfg.DataDir)
	if err != nil {
		return stores{}, fmt.Errorf("opening storage: %w", err)
	}
	s := stores{documents: db, sqlite: db}

	if cfg.Backend == "redis" {
		rs, err := storage.OpenRedis(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			db.Close()
			return stores{}, err
		}
		s.documents = rs
	}
	return s, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "mdpress version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if cfg.Auth.APIKey == "" {
		printWarning("auth.api_key is not set: uploads will be rejected")
	}
	if cfg.Dify.APIKey == "" {
		slog.Warn("dify.api_key is not set, URL conversion is disabled")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(serverURL(config.ServerConfig{Host: cfg.Server.Host, Port: cfg.Server.Port}) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mdpress is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mdpress is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()
	slog.Info("storage ready", "backend", cfg.Storage.Backend, "data_dir", cfg.Storage.DataDir)

	m := metrics.Default()

	set, err := templates.Load(logger)
	if err != nil {
		return err
	}
	renderer, err := render.New(markdown.NewGoldmark(), set, cfg.Render.CacheSize, m)
	if err != nil {
		return err
	}

	difyClient := dify.NewClient(cfg.Dify.BaseURL, "", dify.WithStreamTimeout(cfg.Dify.StreamTimeout))
	gen := generate.New(difyClient, generate.Config{
		MaxRetries:       cfg.Generate.MaxRetries,
		BaseDelay:        cfg.Generate.RetryBaseDelay,
		MinContentLength: cfg.Generate.MinContentLength,
		MockFallback:     cfg.Generate.MockFallback,
	}, generate.WithLogger(logger), generate.WithMetrics(m))

	handler := api.NewRouter(api.Deps{
		Documents:      st.documents,
		History:        st.sqlite,
		Renderer:       renderer,
		Dify:           difyClient,
		Generator:      gen,
		APIKey:         cfg.Auth.APIKey,
		DifyAPIKey:     cfg.Dify.APIKey,
		ArticleAPIKey:  cfg.Dify.ArticleAPIKey,
		PublicURL:      cfg.Server.PublicURL,
		DocumentTTL:    cfg.Storage.DocumentTTL,
		RequestTimeout: cfg.Generate.RequestTimeout,
		RateLimit: api.RateLimitConfig{
			RequestsPerMinute: cfg.Server.RateLimitPerMinute,
			Burst:             cfg.Server.RateLimitBurst,
		},
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger,
	})

	// Redis expires keys itself; SQLite needs a sweeper.
	if cfg.Storage.DocumentTTL > 0 && cfg.Storage.Backend == "sqlite" {
		worker := retention.NewWorker(st.sqlite, 0, logger)
		go worker.Run(ctx)
	}

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "mdpress listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		printError("mdpress is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mdpress (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mdpress (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	base := serverURL(cfg.Server)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/status")
	running := false
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		running = true
		resp.Body.Close()
		printStatus("Server", "running at %s", base)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Storage", "%s", cfg.Storage.Backend)
	if cfg.Storage.Backend == "redis" {
		printStatus("Redis", "%s/%d", cfg.Storage.RedisAddr, cfg.Storage.RedisDB)
	}
	if cfg.Storage.DocumentTTL > 0 {
		printStatus("Document TTL", "%s", cfg.Storage.DocumentTTL)
	} else {
		printStatus("Document TTL", "never expire")
	}
	printStatus("Dify", "%s", cfg.Dify.BaseURL)
	printStatus("Dify keys", "url %s, article %s", keyState(cfg.Dify.APIKey), keyState(cfg.Dify.ArticleAPIKey))
	printStatus("Retries", "%d (base delay %s, mock fallback %t)",
		cfg.Generate.MaxRetries, cfg.Generate.RetryBaseDelay, cfg.Generate.MockFallback)

	if running && cfg.Auth.APIKey != "" {
		c := &apiClient{baseURL: base, apiKey: cfg.Auth.APIKey, httpClient: client}
		if gens, err := fetchHistory(context.Background(), c, 100, 0); err == nil {
			printStatus("Generations", "%s", countLabel(len(gens), 100))
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func keyState(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
