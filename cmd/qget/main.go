package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/italolelis/qget/internal/config"
	"github.com/italolelis/qget/internal/logctx"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

// errTransfersFailed makes the process exit non-zero once the failures were reported.
var errTransfersFailed = errors.New("one or more transfers failed")

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errTransfersFailed) {
			fmt.Fprintln(os.Stderr, "qget:", err)
		}

		cancel()
		os.Exit(1)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	opts := &runOptions{cfg: cfg}

	cmd := &cobra.Command{
		Use:   "qget [flags] URL...",
		Short: "Download and upload files over HTTP",
		Long: `qget transfers files over HTTP(S). Downloads follow redirects and are saved
under the last segment of the URL path, never overwriting existing files.

Examples:
  qget https://example.com/file.iso
  qget -O /tmp/downloads https://example.com/a.iso https://example.com/b.iso
  qget --put report.pdf https://example.com/upload
  qget --batch transfers.yaml`,
		Args:          cobra.ArbitraryArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg)
			slog.SetDefault(logger)
			cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.batch == "" {
				return errors.New("no URL given")
			}

			return runTransfers(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&cfg.OutputDir, "output-dir", "O", cfg.OutputDir, "Directory downloads are saved to (env: QGET_OUTPUT_DIR)")
	pf.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite journal of finished transfers (env: QGET_JOURNAL_PATH)")
	pf.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (env: QGET_LOG_LEVEL)")
	pf.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json (env: QGET_LOG_FORMAT)")

	bindRunFlags(cmd.Flags(), cfg, opts)

	cmd.MarkFlagsMutuallyExclusive("put", "post")
	cmd.MarkFlagsMutuallyExclusive("token", "user")

	cmd.AddCommand(newHistoryCmd(cfg), newPruneCmd(cfg))

	return cmd
}

// bindRunFlags registers the transfer flags. Their defaults come from cfg, so
// flags override QGET_* variables which override built-in defaults.
func bindRunFlags(f *pflag.FlagSet, cfg *config.Config, opts *runOptions) {
	f.IntVar(&cfg.MaxRedirects, "max-redirects", cfg.MaxRedirects, "Maximum redirects followed per transfer (env: QGET_MAX_REDIRECTS)")
	f.IntVar(&cfg.MaxNameAttempts, "max-name-attempts", cfg.MaxNameAttempts, "Maximum file names tried before giving up (env: QGET_MAX_NAME_ATTEMPTS)")
	f.IntVarP(&cfg.Parallel, "parallel", "p", cfg.Parallel, "Number of concurrent transfers (env: QGET_PARALLEL)")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout of one exchange, 0 disables it (env: QGET_TIMEOUT)")
	f.IntVar(&cfg.LimitRate, "limit-rate", cfg.LimitRate, "Download rate limit in bytes per second (env: QGET_LIMIT_RATE)")
	f.Int64Var(&cfg.ProgressInterval, "progress-interval", cfg.ProgressInterval, "Bytes between two progress reports (env: QGET_PROGRESS_INTERVAL)")
	f.StringVar(&cfg.Proxy, "proxy", cfg.Proxy, "Proxy URL (env: QGET_PROXY)")
	f.BoolVarP(&cfg.Insecure, "insecure", "k", cfg.Insecure, "Skip TLS certificate verification (env: QGET_INSECURE)")
	f.StringVarP(&cfg.User, "user", "u", cfg.User, "Basic auth user (env: QGET_USER)")
	f.StringVar(&cfg.Password, "password", cfg.Password, "Basic auth password (env: QGET_PASSWORD)")
	f.StringVar(&cfg.Token, "token", cfg.Token, "Bearer token (env: QGET_TOKEN)")
	f.StringVar(&cfg.NotifyWebhookURL, "notify-webhook", cfg.NotifyWebhookURL, "Webhook notified of every transfer (env: QGET_NOTIFY_WEBHOOK_URL)")
	f.BoolVar(&cfg.Telemetry.Enabled, "metrics", cfg.Telemetry.Enabled, "Enable metrics (env: QGET_TELEMETRY_ENABLED)")
	f.StringVar(&cfg.Telemetry.MetricsAddr, "metrics-addr", cfg.Telemetry.MetricsAddr, "Address serving /metrics (env: QGET_TELEMETRY_METRICS_ADDR)")
	f.StringVar(&cfg.Telemetry.OTLPEndpoint, "otlp-endpoint", cfg.Telemetry.OTLPEndpoint, "OTLP gRPC endpoint metrics are pushed to (env: QGET_TELEMETRY_OTLP_ENDPOINT)")

	f.StringArrayVarP(&opts.headers, "header", "H", nil, `Extra request header "Name: value", repeatable`)
	f.StringVar(&opts.put, "put", "", "Upload FILE to every URL with PUT")
	f.StringVar(&opts.post, "post", "", "Upload FILE to every URL with POST")
	f.StringVar(&opts.contentType, "content-type", "", "Content type of the upload, sniffed when empty")
	f.StringVar(&opts.batch, "batch", "", "YAML file with transfers to run")
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var h slog.Handler = slog.NewTextHandler(w, handlerOpts)
	if strings.EqualFold(cfg.LogFormat, "json") {
		h = slog.NewJSONHandler(w, handlerOpts)
	}

	return slog.New(logctx.NewContextHandler(h))
}
