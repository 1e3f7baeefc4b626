// Command vote-latency-monitor runs the real-time vote-propagation-latency
// ingestion pipeline: discovery refreshes the validator registry, the
// subscription manager streams vote transactions, the decoder and
// calculator turn them into latency records, and the write pipeline
// batches them into a time-series store.
//
// Grounded on telemetry/global-monitor/cmd/global-monitor/main.go: pflag
// parsing, a tint-backed slog logger, a Prometheus metrics goroutine, and
// signal.NotifyContext-driven shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/samk-hellomoon/vote-latency-monitor/internal/config"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/discovery"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/latency"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/metrics"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/registry"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/slotclock"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/subscription"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/supervisor"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/verrors"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/votedecoder"
	"github.com/samk-hellomoon/vote-latency-monitor/internal/writepipeline"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

func main() {
	var (
		logFormat = pflag.String("log-format", "tint", "log output format: tint or json")
		logLevel  = pflag.String("log-level", "", "override log level (debug|info|warn|error)")
	)
	pflag.Parse()

	cfg := config.Default()
	cfg.ApplyEnvOverrides()
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log := newLogger(*logFormat, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(log, cfg); err != nil {
		var verr *verrors.Error
		if verrors.AsError(err, &verr) && verr.Kind == verrors.KindFatalRuntime {
			log.Error("fatal runtime error", slog.Any("error", err))
			os.Exit(3)
		}
		log.Error("exited with error", slog.Any("error", err))
		os.Exit(2)
	}
}

func run(log *slog.Logger, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	mtr := metrics.New(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		log.Info("starting metrics server", slog.String("addr", cfg.Metrics.BindAddr))
		if err := http.ListenAndServe(cfg.Metrics.BindAddr, mux); err != nil {
			log.Error("metrics server error", slog.Any("error", err))
		}
	}()

	clock := slotclock.New()
	validatorRegistry := registry.New()

	store, err := newStore(cfg.WritePipe, cfg.Network)
	if err != nil {
		return verrors.New(verrors.KindFatalRuntime, "main.run", "store construction failed", err)
	}

	pipeline, err := writepipeline.New(log, cfg.WritePipe, store, mtr, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	decoder := votedecoder.New(log, mtr)
	calc := latency.New(mtr, cfg.Latency.WindowSize)

	rpcClient := solanarpc.New(cfg.RPC.URL)

	subMgr := subscription.New(log, cfg.Stream, cfg.PushFeed, subscription.GRPCStreamFactory{}, validatorRegistry, clock, decoder, calc, pipeline)
	discWorker := discovery.New(log, cfg.Discovery, rpcClient, validatorRegistry, subMgr, clockwork.NewRealClock())

	super := supervisor.New(log, cfg.ShutdownGrace,
		supervisor.Component{Name: "write-pipeline", Run: pipeline.Run},
		supervisor.Component{Name: "discovery", Run: discWorker.Run},
		supervisor.Component{Name: "subscription-manager", Run: func(ctx context.Context) error {
			subMgr.Start(ctx)
			<-ctx.Done()
			subMgr.Stop()
			return nil
		}},
	)

	err = super.Run(ctx)
	closeErr := pipeline.Close()
	if err != nil {
		return err
	}
	return closeErr
}

func newStore(cfg config.WritePipeConfig, network string) (writepipeline.StoreWriter, error) {
	switch cfg.StoreBackend {
	case "clickhouse":
		return writepipeline.NewClickHouseStore(
			os.Getenv("VLM_CLICKHOUSE_ADDR"),
			os.Getenv("VLM_CLICKHOUSE_DATABASE"),
			os.Getenv("VLM_CLICKHOUSE_USERNAME"),
			os.Getenv("VLM_CLICKHOUSE_PASSWORD"),
			"vote_latency",
			network,
		)
	default:
		return writepipeline.NewInfluxStore(
			os.Getenv("VLM_INFLUX_HOST"),
			os.Getenv("VLM_INFLUX_TOKEN"),
			os.Getenv("VLM_INFLUX_DATABASE"),
			network,
		)
	}
}

func newLogger(format, level string) *slog.Logger {
	opts := &tint.Options{
		Level:      parseLevel(level),
		TimeFormat: time.Kitchen,
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: opts.Level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
