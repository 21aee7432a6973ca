package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/pulse/internal/backup"
	"github.com/tinytelemetry/pulse/internal/engine"
	"github.com/tinytelemetry/pulse/internal/exporter"
	"github.com/tinytelemetry/pulse/internal/httpserver"
	"github.com/tinytelemetry/pulse/internal/ingest"
	"github.com/tinytelemetry/pulse/internal/logging"
	"github.com/tinytelemetry/pulse/internal/socketrpc"
	"github.com/tinytelemetry/pulse/internal/source"
)

const (
	shutdownTimeout = 10 * time.Second
	finalArchiveTTL = 30 * time.Second
)

// runServer starts the engine with its ingestion gateways and query surfaces.
func runServer(cfg appConfig) error {
	logger, closeLogger, err := logging.Open(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer closeLogger()

	st := cfg.Telemetry.Storage
	archiver, err := backup.NewManager(backup.Config{
		Enabled:        st.Enabled,
		LocalDir:       st.Dir,
		KeepLast:       st.KeepLast,
		RetentionDays:  st.RetentionDays,
		Compression:    st.Compression,
		BucketURL:      st.BucketURL,
		S3Endpoint:     st.S3Endpoint,
		S3Region:       st.S3Region,
		S3AccessKey:    st.S3AccessKey,
		S3SecretKey:    st.S3SecretKey,
		S3SessionToken: st.S3SessionToken,
		S3UseSSL:       st.S3UseSSL,
	}, logger.Named("backup"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithMemorySampleInterval(cfg.MemorySampleInterval),
	}
	if archiver != nil {
		opts = append(opts, engine.WithArchiver(archiver))
	}
	eng, err := engine.New(cfg.Telemetry, opts...)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Stop()

	var exp *exporter.Exporter
	if cfg.PrometheusEnabled {
		exp, err = exporter.New(eng.Bus(),
			exporter.WithLogger(logger.Named("exporter")),
			exporter.WithBufferedLen(eng.Store().Len),
			exporter.WithVersion(version),
		)
		if err != nil {
			return fmt.Errorf("failed to start prometheus exporter: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := exp.Shutdown(ctx); err != nil {
				logger.Warn("exporter shutdown", zap.Error(err))
			}
		}()
	}

	otlp := ingest.NewOTLPReceiver(cfg.OTLPAddr, eng, logger.Named("otlp"))
	if cfg.OTLPEnabled {
		if err := otlp.Start(); err != nil {
			return fmt.Errorf("failed to start OTLP receiver: %w", err)
		}
		defer otlp.Stop()
	}

	if cfg.APIEnabled {
		httpCfg := httpserver.Config{
			Addr:     cfg.APIAddr,
			OTLP:     otlp,
			Compress: true,
			Logger:   logger.Named("http"),
		}
		if exp != nil {
			httpCfg.Metrics = exp.Handler()
		}
		apiServer := httpserver.NewServer(eng, httpCfg)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer func() { _ = apiServer.Stop() }()
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, eng, logger.Named("socket"))
	if err := sockServer.Start(); err != nil {
		logger.Warn("failed to start socket server", zap.String("path", cfg.SocketPath), zap.Error(err))
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(shutdownTimeout)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		logging.Flush(logger)
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	plugins := buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
		Logger:     logger,
	})

	sources := make([]source.Source, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logger.Error("failed to initialize input plugin", zap.String("plugin", plugin.Name()), zap.Error(err))
			continue
		}
		sources = append(sources, src)
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor := ingest.NewProcessor(eng, "")

	printStartupBanner(cfg, mux.SourceNames(), processor.Name())
	logger.Info("pulse started",
		zap.String("version", version),
		zap.Strings("sources", mux.SourceNames()),
		zap.Bool("api", cfg.APIEnabled),
		zap.Bool("otlp", cfg.OTLPEnabled),
	)

	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			processor.Consume(gctx, mux.Lines(), logger.Named("ingest"))
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server: errgroup exited with error", zap.Error(err))
	}

	cancel()
	mux.Stop()

	for _, st := range mux.Stats() {
		logger.Info("source totals",
			zap.String("source", st.Name),
			zap.Int64("lines", st.Lines),
			zap.Int64("blank", st.Blank),
			zap.Int64("streams", st.Streams),
			zap.Int64("dropped", st.Dropped),
		)
	}

	stats := processor.Stats()
	logger.Info("ingest totals",
		zap.Int64("lines", stats.Lines),
		zap.Int64("recorded", stats.Recorded),
		zap.Int64("failed", stats.Failed),
	)

	if archiver != nil {
		archiveRemaining(eng, archiver, logger)
	}

	signal.Stop(sigCh)
	return nil
}

// archiveRemaining writes the engine's pending archive batch, then the
// metrics still held in memory at shutdown.
func archiveRemaining(eng *engine.Engine, archiver *backup.Manager, logger *zap.Logger) {
	eng.Flush()
	reader := eng.Store()
	remaining := reader.Recent(reader.Len())
	if len(remaining) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalArchiveTTL)
	defer cancel()
	n, err := archiver.Archive(ctx, remaining)
	if err != nil {
		logger.Error("final archive failed", zap.Int("metrics", len(remaining)), zap.Error(err))
		return
	}
	logger.Info("final archive written", zap.Int("metrics", n))
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func printStartupBanner(cfg appConfig, sources []string, processorName string) {
	check := greenStyle.Render("●")
	dot := dimStyle.Render("●")

	logo := cyanStyle.Bold(true).Render(`
    ╔═╗╦ ╦╦  ╔═╗╔═╗
    ╠═╝║ ║║  ╚═╗║╣
    ╩  ╚═╝╩═╝╚═╝╚═╝`)

	status := func(on bool, label, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyanStyle.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dimStyle.Render("disabled"))
	}

	var lines []string
	lines = append(lines, "", logo, "    "+dimStyle.Render("v"+version), "")

	separator := dimStyle.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, boldStyle.Render("    Gateway"), "")
	lines = append(lines, status(cfg.APIEnabled, "HTTP API", cfg.APIAddr))
	lines = append(lines, status(cfg.TCPEnabled, "TCP Ingest", cfg.TCPAddr))
	lines = append(lines, status(cfg.OTLPEnabled, "OTLP gRPC", cfg.OTLPAddr))
	lines = append(lines, status(cfg.APIEnabled && cfg.PrometheusEnabled, "Prometheus", cfg.APIAddr+"/metrics"))
	lines = append(lines, status(true, "Unix Socket", shortenPath(cfg.SocketPath)))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Storage"), "")
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Buffer", dimStyle.Render(fmt.Sprintf("%d metrics / flush %s",
		cfg.Telemetry.BufferSize, cfg.Telemetry.FlushInterval))))
	lines = append(lines, status(cfg.Telemetry.Storage.Enabled, "Archives", shortenPath(cfg.Telemetry.Storage.Dir)))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Runtime"), "")
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Processor", dimStyle.Render(processorName)))
	if len(sources) > 0 {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Sources", dimStyle.Render(strings.Join(sources, ", "))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Sources", dimStyle.Render("none")))
	}
	alerting := "disabled"
	if cfg.Telemetry.Alerting.Enabled {
		alerting = strings.Join(cfg.Telemetry.Alerting.Channels, ", ")
	}
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Alerting", dimStyle.Render(alerting)))
	lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Log", dimStyle.Render(shortenPath(cfg.LogFile))))
	lines = append(lines, "")

	lines = append(lines, boldStyle.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, "Config File", dimStyle.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dimStyle.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dimStyle.Render("Press ")+yellowStyle.Render("Ctrl+C")+dimStyle.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
