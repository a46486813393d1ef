package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/upsell/internal/api"
	"github.com/allaspectsdev/upsell/internal/config"
	"github.com/allaspectsdev/upsell/internal/metrics"
	"github.com/allaspectsdev/upsell/internal/store"
	"github.com/allaspectsdev/upsell/internal/tracing"
	"github.com/allaspectsdev/upsell/internal/vault"
	"github.com/allaspectsdev/upsell/internal/version"
)

const logFilename = "upsell.log"

// Run is the main daemon orchestrator. It opens the engine, starts the API
// server and the maintenance scheduler, and blocks until a shutdown signal
// is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Logging.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logFile, err := setupLogger(dataDir, cfg.Server.LogLevel, foreground)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("upsell starting")

	// 2. Single instance per data directory.
	if IsRunning(dataDir) {
		return fmt.Errorf("upsell is already running (PID file exists at %s)", pidPath(dataDir))
	}

	// 3. Tracing.
	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(context.Background(), tracing.Options{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if err != nil {
			return fmt.Errorf("initialising tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				log.Error().Err(err).Msg("tracing shutdown failed")
			}
		}()
		log.Info().Str("exporter", cfg.Tracing.Exporter).Float64("sample_rate", cfg.Tracing.SampleRate).Msg("tracing enabled")
	}

	// 4. Engine.
	v := vault.New()
	collector := metrics.NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := OpenEngine(ctx, cfg, v, collector)
	if err != nil {
		return err
	}
	defer eng.Close()

	token, err := apiToken(cfg.Auth, v)
	if err != nil {
		return err
	}

	// 5. PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}
	if _, statErr := os.Stat(configFile); statErr == nil {
		watcher, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
				if sections := config.RestartRequired(old, newCfg); len(sections) > 0 {
					log.Warn().Strs("sections", sections).Msg("changed settings apply on restart")
				}
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Maintenance jobs.
	sched, err := eng.Scheduler(cfg.Analytics)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	var schedDone <-chan struct{}
	if sched != nil {
		schedDone = sched.Start(ctx)
		for _, j := range sched.Jobs() {
			if next, err := sched.NextRun(j.Name); err == nil {
				log.Info().Str("job", j.Name).Str("cron", j.Cron).Time("next_run", next).Msg("job scheduled")
			}
		}
	} else {
		closed := make(chan struct{})
		close(closed)
		schedDone = closed
		log.Warn().Msg("no maintenance jobs scheduled")
	}

	// 8. API server.
	srv, err := api.New(api.Deps{
		Orders:      eng.Orders,
		Recorder:    eng.Recorder,
		Backfiller:  eng.Backfiller,
		Recommender: eng.Recommender,
		Counters:    eng.Counter,
		Registry:    eng.Registry,
		Tracker:     eng.Tracker,
		Aggregator:  eng.Aggregator,
		Cleaner:     eng.Cleaner,
		Reporter:    eng.Reporter,
		Metrics:     collector,
		Health:      func(context.Context) error { return eng.Store.Ping() },
		StoreStats:  eng.Store.Stats,
	}, serverOptions(cfg, token))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	log.Info().Str("addr", cfg.Server.APIAddr()).Bool("tls", cfg.Server.TLSEnabled).Msg("upsell is ready")
	if foreground {
		fmt.Printf("\n  Upsell is running!\n")
		fmt.Printf("  API: %s\n\n", baseURL(cfg.Server))
	}

	// 9. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("fatal server error")
	}

	// 10. Graceful shutdown: stop taking requests, then let running jobs
	// observe cancellation before the store closes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}
	cancel()
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("maintenance jobs did not stop in time")
	}

	log.Info().Msg("upsell stopped")
	return runErr
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop(cfg *config.Config) error {
	dataDir := expandHome(cfg.Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("upsell does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("upsell is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to upsell (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return nil
}

// statsView mirrors the /api/stats response.
type statsView struct {
	Engine *metrics.Stats `json:"engine"`
	Store  *store.Stats   `json:"store"`
}

// Status checks whether the daemon is running and prints a summary fetched
// from its API.
func Status(cfg *config.Config, w io.Writer) error {
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Fprintln(w, "upsell is not running")
		return nil
	}
	pid, _ := ReadPID(dataDir)
	fmt.Fprintf(w, "upsell is running (PID %d)\n", pid)

	token, err := apiToken(cfg.Auth, vault.New())
	if err != nil {
		fmt.Fprintf(w, "  (cannot authenticate: %v)\n", err)
		return nil
	}
	stats, err := fetchStats(baseURL(cfg.Server), token)
	if err != nil {
		fmt.Fprintf(w, "  (api unreachable: %v)\n", err)
		return nil
	}
	printStats(w, stats)
	return nil
}

func fetchStats(base, token string) (*statsView, error) {
	req, err := http.NewRequest(http.MethodGet, base+"/api/stats", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /api/stats: %s", resp.Status)
	}
	var stats statsView
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &stats, nil
}

func printStats(w io.Writer, s *statsView) {
	n := humanize.Comma
	if e := s.Engine; e != nil {
		fmt.Fprintf(w, "\n  Uptime:            %s\n", e.Uptime)
		fmt.Fprintf(w, "  Orders Recorded:   %s (%s duplicate, %s failed)\n", n(e.OrdersRecorded), n(e.DuplicateOrders), n(e.FailedOrders))
		fmt.Fprintf(w, "  Pair Increments:   %s\n", n(e.PairIncrements))
		fmt.Fprintf(w, "  Backfill Batches:  %s (%s order errors)\n", n(e.BackfillBatches), n(e.BackfillErrors))
		fmt.Fprintf(w, "  Events Tracked:    %s\n", n(e.EventsTracked))
		fmt.Fprintf(w, "  Aggregated Days:   %s (%s failed)\n", n(e.Aggregations), n(e.AggregationErrors))
		fmt.Fprintf(w, "  Events Pruned:     %s\n", n(e.EventsPruned))
		fmt.Fprintf(w, "  HTTP Requests:     %s\n", n(e.HTTPRequests))
	}
	if st := s.Store; st != nil {
		fmt.Fprintf(w, "\n  Relationships:     %s\n", n(st.Relationships))
		fmt.Fprintf(w, "  Products:          %s\n", n(st.Products))
		fmt.Fprintf(w, "  Processed Orders:  %s\n", n(st.ProcessedOrders))
		fmt.Fprintf(w, "  Stored Orders:     %s\n", n(st.Orders))
		fmt.Fprintf(w, "  Raw Events:        %s\n", n(st.Events))
		fmt.Fprintf(w, "  Daily Rows:        %s\n", n(st.DailyRows))
		fmt.Fprintf(w, "  Database Size:     %s\n", humanize.Bytes(uint64(max(st.SizeBytes, 0))))
	}
}

// setupLogger points the global logger at dataDir/upsell.log, plus the
// console when running in the foreground. The returned file must be closed
// by the caller.
func setupLogger(dataDir, level string, foreground bool) (io.Closer, error) {
	zerolog.SetGlobalLevel(parseLogLevel(level))

	logPath := filepath.Join(dataDir, logFilename)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	writers := []io.Writer{logFile}
	if foreground {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"})
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Str("service", "upsell").Logger()
	return logFile, nil
}

// apiToken resolves the bearer token when auth is enabled.
func apiToken(cfg config.AuthConfig, secrets SecretResolver) (string, error) {
	if !cfg.Enabled {
		return "", nil
	}
	token, err := secrets.ResolveKeyRef(cfg.TokenRef)
	if err != nil {
		return "", fmt.Errorf("resolving api token %q: %w", cfg.TokenRef, err)
	}
	if token == "" {
		return "", fmt.Errorf("api token %q is empty", cfg.TokenRef)
	}
	return token, nil
}

func serverOptions(cfg *config.Config, token string) api.Options {
	opts := api.Options{
		Addr:             cfg.Server.APIAddr(),
		Token:            token,
		ReadTimeout:      time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:     time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:      time.Duration(cfg.Server.IdleTimeout) * time.Second,
		MaxBodySize:      cfg.Server.MaxBodySize,
		DefaultBatchSize: cfg.FBT.BackfillBatchSize,
		EventsRateLimit:  cfg.Analytics.EventsRateLimit,
		EventsBurst:      cfg.Analytics.EventsBurst,

		CompletedStatuses: cfg.Orders.CompletedStatuses,
	}
	if cfg.Server.TLSEnabled {
		opts.TLSCertFile = cfg.Server.CertFile
		opts.TLSKeyFile = cfg.Server.KeyFile
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	return opts
}

// baseURL is the address local clients use to reach the API.
func baseURL(s config.ServerConfig) string {
	scheme := "http"
	if s.TLSEnabled {
		scheme = "https"
	}
	host := s.BindAddress
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return scheme + "://" + host + ":" + strconv.Itoa(s.APIPort)
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
