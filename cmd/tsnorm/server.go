package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tsnorm/internal/backup"
	"github.com/tinytelemetry/tsnorm/internal/duckdb"
	"github.com/tinytelemetry/tsnorm/internal/forward"
	"github.com/tinytelemetry/tsnorm/internal/httpserver"
	"github.com/tinytelemetry/tsnorm/internal/ingest"
	"github.com/tinytelemetry/tsnorm/internal/journal"
	"github.com/tinytelemetry/tsnorm/internal/linesource"
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
	"github.com/tinytelemetry/tsnorm/internal/socketrpc"
	"github.com/tinytelemetry/tsnorm/internal/tcpserver"
)

// runServer starts headless measurement ingestion with the HTTP API.
func runServer(cfg appConfig) error {
	cleanupLogger := logging.SetOptions(cfg.logOptions())
	defer cleanupLogger()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	// Open local ingest journal for crash-safe replay and durable buffering.
	var ingestJournal *journal.Journal
	if cfg.JournalEnabled {
		ingestJournal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open ingest journal: %w", err)
		}
		if n := ingestJournal.Pending(); n > 0 {
			logging.Infof("journal: %d uncommitted records to replay", n)
		}
		if err := replayUncommittedJournal(ingestJournal, store, cfg.InsertBatchSize); err != nil {
			_ = ingestJournal.Close()
			return fmt.Errorf("failed to replay ingest journal: %w", err)
		}
	}

	insertConf := duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
	}
	if ingestJournal != nil {
		insertConf.Journal = ingestJournal
	}
	insertBuffer := duckdb.NewInsertBuffer(store, insertConf)
	defer insertBuffer.Stop()

	exporters, err := cfg.exporters()
	if err != nil {
		return fmt.Errorf("failed to initialize forwarding: %w", err)
	}
	sinks := ingest.FanoutSink{insertBuffer}
	if len(exporters) > 0 {
		forwarder := forward.NewForwarder(cfg.forwardConfig(), exporters...)
		defer forwarder.Stop()
		sinks = append(sinks, forwarder)
	}

	normalizer := ingest.NewNormalizer(nil, sinks,
		ingest.WithBatchMode(cfg.batchMode()),
		ingest.WithRejectSink(ingest.MultiRejectSink{
			ingest.LogRejectSink{},
			ingest.StoreRejectSink{Writer: store},
		}),
	)

	retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
		RetentionDays: cfg.RetentionDays,
	})
	if retentionCleaner != nil {
		defer retentionCleaner.Stop()
	}

	backupManager, err := backup.NewManager(store, cfg.backupConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	if cfg.APIEnabled {
		apiServer := httpserver.NewServer(cfg.APIAddr, store, normalizer, cfg.apiServerOptions()...)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	// Socket RPC serves the dashboard.
	sockServer := socketrpc.NewServer(cfg.SocketPath, store)
	if err := sockServer.Start(); err != nil {
		logging.Warnf("failed to start socket server: %v", err)
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		logging.Infof("shutdown requested")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	sources := buildSources(ctx, buildInputPlugins(InputPluginConfig{
		TCPEnabled:  cfg.TCPEnabled,
		TCPAddr:     cfg.TCPAddr,
		MaxLineSize: cfg.MaxDocumentBytes,
		MaxConns:    cfg.TCPMaxConns,
		IdleTimeout: cfg.TCPIdleTimeout,
		Files:       cfg.InputFiles,
	}))

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor := ingest.NewEnvelopeProcessor(normalizer, "", cfg.MaxDocumentBytes)

	printStartupBanner(cfg, mux.SourceNames(), processor.Name())
	logging.Infof("tsnorm %s started (sources=%v batch-mode=%s exporters=%d)", version, mux.SourceNames(), cfg.BatchMode, len(exporters))

	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			runIngestLoop(mux.Lines(), processor)
			// Piped stdin or input files alone have nothing left to serve once they end.
			if !cfg.APIEnabled && !cfg.TCPEnabled {
				cancel()
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Errorf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	logSourceStats(sources)
	return nil
}

// buildSources starts every enabled plugin. Plugins that fail to start are
// logged and skipped.
func buildSources(ctx context.Context, plugins []InputSourcePlugin) []linesource.Source {
	sources := make([]linesource.Source, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logging.Errorf("initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

// runIngestLoop feeds every line to the processor until lines closes, then
// flushes documents still being accumulated.
func runIngestLoop(lines <-chan model.IngestEnvelope, processor ingest.EnvelopeProcessor) (docs, failed int) {
	count := func(res *ingest.ProcessResult) {
		if res == nil {
			return
		}
		docs++
		if res.Err != nil {
			failed++
		}
	}
	for env := range lines {
		count(processor.ProcessEnvelope(env))
	}
	for _, res := range processor.Flush() {
		count(res)
	}
	logging.Infof("ingest loop finished: %d documents, %d rejected", docs, failed)
	return docs, failed
}

// logSourceStats reports connection counters of sources that keep them.
func logSourceStats(sources []linesource.Source) {
	for _, src := range sources {
		if sc, ok := src.(interface{ Stats() tcpserver.Stats }); ok {
			st := sc.Stats()
			logging.Infof("%s: %d connections accepted, %d refused", src.Name(), st.Accepted, st.Refused)
		}
	}
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func replayUncommittedJournal(j *journal.Journal, store model.MeasurementWriter, batchSize int) error {
	if j == nil {
		return nil
	}
	if batchSize <= 0 {
		batchSize = duckdb.DefaultBatchSize
	}

	batch := make([]*model.MeasurementRecord, 0, batchSize)
	batchMaxSeq := uint64(0)
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.InsertMeasurementBatch(batch); err != nil {
			return err
		}
		if batchMaxSeq > 0 {
			if err := j.Commit(batchMaxSeq); err != nil {
				return err
			}
		}
		replayed += len(batch)
		batch = make([]*model.MeasurementRecord, 0, batchSize)
		batchMaxSeq = 0
		return nil
	}

	if err := j.Replay(func(seq uint64, record *model.MeasurementRecord) error {
		copied := *record
		batch = append(batch, &copied)
		if seq > batchMaxSeq {
			batchMaxSeq = seq
		}
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}

	if err := flush(); err != nil {
		return err
	}
	if replayed > 0 {
		logging.Infof("ingest journal: replayed %d uncommitted records", replayed)
	}
	return nil
}

func printStartupBanner(cfg appConfig, sourceNames []string, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	row := func(on bool, label, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render("disabled"))
	}

	logo := cyan.Bold(true).Render(`
    ╔╦╗╔═╗╔╗╔╔═╗╦═╗╔╦╗
     ║ ╚═╗║║║║ ║╠╦╝║║║
     ╩ ╚═╝╝╚╝╚═╝╩╚═╩ ╩`)

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Inputs"), "")
	lines = append(lines, row(cfg.APIEnabled, "HTTP API", cfg.APIAddr))
	lines = append(lines, row(cfg.TCPEnabled, "TCP Ingest", cfg.TCPAddr))
	stdin := false
	for _, name := range sourceNames {
		if name == "stdin" {
			stdin = true
		}
	}
	lines = append(lines, row(stdin, "Stdin", "piped"))
	lines = append(lines, row(true, "Unix Socket", shortenPath(cfg.SocketPath)), "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, row(true, "Database", shortenPath(cfg.DBPath)))
	lines = append(lines, row(cfg.JournalEnabled, "Journal", shortenPath(cfg.JournalPath)))
	lines = append(lines, row(cfg.BackupEnabled, "Snapshots", shortenPath(cfg.BackupLocalDir)))
	lines = append(lines, row(cfg.RetentionDays > 0, "Retention", fmt.Sprintf("%d days", cfg.RetentionDays)), "")

	lines = append(lines, bold.Render("    Forwarding"), "")
	lines = append(lines, row(cfg.InfluxEnabled, "InfluxDB", cfg.InfluxAddr+"/"+cfg.InfluxDatabase))
	lines = append(lines, row(cfg.OTLPEnabled, "OTLP", cfg.OTLPEndpoint), "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, row(true, "Processor", processorName))
	lines = append(lines, row(true, "Batch Mode", cfg.BatchMode))
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", dot, "Config File", dim.Render("default (no file)")))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
