package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"github.com/italolelis/qget/internal/config"
	"github.com/italolelis/qget/internal/logctx"
	"github.com/italolelis/qget/internal/manager"
	"github.com/italolelis/qget/internal/network"
	"github.com/italolelis/qget/internal/notifier"
	"github.com/italolelis/qget/internal/storage"
	"github.com/italolelis/qget/internal/storage/sqlite"
	"github.com/italolelis/qget/internal/telemetry"
	"github.com/italolelis/qget/internal/transfer"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	cfg         *config.Config
	headers     []string
	put         string
	post        string
	contentType string
	batch       string
}

func runTransfers(ctx context.Context, out io.Writer, opts *runOptions, args []string) error {
	logger := logctx.LoggerFromContext(ctx)
	cfg := opts.cfg

	jobs, err := buildJobs(opts, args)
	if err != nil {
		return err
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "qget",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInterval:   cfg.Telemetry.OTLPInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if cfg.Telemetry.Enabled {
		server := startMetricsServer(ctx, cfg.Telemetry.MetricsAddr, tel)

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the metrics server", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start Network
	rt, err := buildTransport(cfg, jobs, tel)
	if err != nil {
		return err
	}

	nm := network.NewManager(
		network.WithTransport(rt),
		network.WithTimeout(cfg.Timeout),
		network.WithRateLimit(cfg.LimitRate),
		network.WithProgressInterval(cfg.ProgressInterval),
	)

	// =========================================================================
	// Start Transfer Manager
	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output dir: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	m := manager.New(nm, manager.Options{
		FS:              osfs.New(outputDir),
		Parallel:        cfg.Parallel,
		MaxRedirects:    cfg.MaxRedirects,
		MaxNameAttempts: cfg.MaxNameAttempts,
		Telemetry:       tel,
	})

	var journal storage.TransferWriteRepository

	if cfg.JournalPath != "" {
		database, err := sqlite.InitDB(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer database.Close()

		journal = sqlite.NewInstrumentedTransferRepository(database, tel)
	}

	var notif notifier.Notifier
	if cfg.NotifyWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.NotifyWebhookURL, nil)
	}

	wait := consumeResults(ctx, m, outputDir, journal, notif, tel)

	logger.Debug("starting transfers", "count", len(jobs), "parallel", cfg.Parallel, "output_dir", cfg.OutputDir)

	results, runErr := m.Run(ctx, jobs)

	m.Close()
	wait()

	printSummary(out, results)

	if runErr != nil {
		logger.Debug("transfers failed", "err", runErr)

		return errTransfersFailed
	}

	return nil
}

// buildJobs turns the URL arguments and the batch file into jobs.
func buildJobs(opts *runOptions, args []string) ([]manager.Job, error) {
	header, err := network.ParseHeader(opts.headers)
	if err != nil {
		return nil, err
	}

	template := manager.Job{
		User:        opts.cfg.User,
		Password:    opts.cfg.Password,
		ContentType: opts.contentType,
	}

	if len(header) > 0 {
		template.Headers = manager.Headers(header)
	}

	switch {
	case opts.put != "":
		template.Method = transfer.Put.String()
		template.Input = opts.put
	case opts.post != "":
		template.Method = transfer.Post.String()
		template.Input = opts.post
	}

	jobs := make([]manager.Job, 0, len(args))

	for _, arg := range args {
		job := template
		job.URL = arg
		jobs = append(jobs, job)
	}

	if opts.batch != "" {
		batch, err := manager.LoadBatch(opts.batch)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, batch...)
	}

	return jobs, nil
}

// buildTransport chains the base transport, bearer auth scoped to the job
// hosts and the instrumented transport.
func buildTransport(cfg *config.Config, jobs []manager.Job, tel *telemetry.Telemetry) (http.RoundTripper, error) {
	base, err := network.NewTransport(network.TransportConfig{Insecure: cfg.Insecure, Proxy: cfg.Proxy})
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = base

	if cfg.Token != "" {
		rt = network.NewBearerTransport(rt, cfg.Token, jobHosts(jobs))
	}

	return telemetry.NewTransport(rt, tel), nil
}

func jobHosts(jobs []manager.Job) []string {
	hosts := make([]string, 0, len(jobs))

	for _, job := range jobs {
		u, err := url.Parse(job.URL)
		if err != nil || u.Host == "" {
			continue
		}

		hosts = append(hosts, u.Host)
	}

	return hosts
}

func startMetricsServer(ctx context.Context, addr string, tel *telemetry.Telemetry) *http.Server {
	logger := logctx.LoggerFromContext(ctx)

	r := chi.NewRouter()
	r.Handle("/metrics", tel.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: shutdownTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()

	return server
}

// consumeResults journals and notifies every result sent by m. The returned
// func blocks until both channels are closed and drained.
func consumeResults(
	ctx context.Context,
	m *manager.Manager,
	outputDir string,
	journal storage.TransferWriteRepository,
	notif notifier.Notifier,
	tel *telemetry.Telemetry,
) func() {
	logger := logctx.LoggerFromContext(ctx)

	handle := func(res transfer.Result, message string) {
		if journal != nil {
			// Journal even when interrupted.
			if err := journal.RecordTransfer(context.WithoutCancel(ctx), recordFromResult(res, outputDir)); err != nil {
				logger.Error("failed to journal transfer", "transfer_id", res.ID, "err", err)
				tel.RecordSystemError("journal", "write")
			}
		}

		if notif != nil {
			if err := notif.Notify(ctx, message); err != nil {
				logger.Error("failed to send notification", "transfer_id", res.ID, "err", err)
				tel.RecordSystemError("notifier", "webhook")
			}
		}
	}

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		for res := range m.OnTransferFinished {
			handle(res, fmt.Sprintf("✅ %s finished: %s", res.URL, describe(res)))
		}
	}()

	go func() {
		defer wg.Done()

		for res := range m.OnTransferFailed {
			handle(res, fmt.Sprintf("❌ %s failed: %v", res.URL, res.Err))
		}
	}()

	return wg.Wait
}

// recordFromResult builds the journal entry of res. outputDir is absolute so
// prune finds the file whatever directory is configured later.
func recordFromResult(res transfer.Result, outputDir string) storage.TransferRecord {
	rec := storage.TransferRecord{
		ID:         res.ID,
		Method:     res.Method.String(),
		URL:        res.URL,
		FinalURL:   res.FinalURL,
		OutputFile: res.OutputFile,
		Status:     storage.StatusFinished,
		HTTPStatus: res.StatusCode,
		Redirects:  len(res.Redirects),
		Bytes:      res.BytesWritten,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}

	if res.OutputFile != "" {
		rec.OutputDir = outputDir
	}

	// Transfers rejected before starting have no ID.
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	if res.Err != nil {
		rec.Status = storage.StatusFailed
		rec.Error = res.Err.Error()
	}

	return rec
}
