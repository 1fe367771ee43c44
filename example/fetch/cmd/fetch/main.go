// Command fetch downloads one URL with a courier engine, printing progress
// to stderr.
//
//	fetch [-config courier.yaml] [-o dir] [-metrics :9090] URL
//
// Without -o the decoded body is written to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kroma-labs/courier-go/courier"
	"github.com/kroma-labs/courier-go/courier/codec"
	"github.com/kroma-labs/courier-go/courier/promstats"
	"github.com/kroma-labs/courier-go/example/fetch/internal/telemetry"
)

const serviceName = "courier-fetch"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if err := run(log); err != nil {
		log.Error().Err(err).Msg("fetch failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	configPath := flag.String("config", "", "config file (yaml, json or toml)")
	outDir := flag.String("o", "", "save the body into this directory")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	otlpEndpoint := flag.String("otlp", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "OTLP gRPC endpoint")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("expected exactly one URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, telemetry.Settings{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		OTLPEndpoint:   *otlpEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	cfg, err := courier.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = serviceName
	}

	stats := promstats.NewCollector(cfg.ServiceName)
	prometheus.MustRegister(stats)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promstats.Handler(prometheus.DefaultGatherer))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server")
			}
		}()
		defer srv.Close()
	}

	engine := courier.New(courier.WithConfig(cfg), courier.WithLogger(log))
	defer engine.Close()

	req := courier.Get(flag.Arg(0))
	pipeline := codec.Text()
	if *outDir != "" {
		pipeline = codec.FileFor(*outDir, req)
	}

	var failure error
	obs := courier.ObserverFuncs[string]{
		Progress: func(cp courier.Checkpoint) {
			fmt.Fprintf(os.Stderr, "\r%3d%% %-16s", int(cp), cp)
		},
		Success: func(r courier.Result[string]) {
			fmt.Fprintln(os.Stderr)
			if *outDir != "" {
				log.Info().Str("path", r.OrElse("")).Msg("saved")
				return
			}
			fmt.Print(r.OrElse(""))
		},
		Error: func(err *courier.RequestError) {
			fmt.Fprintln(os.Stderr)
			failure = err
		},
		Cancelled: func() {
			fmt.Fprintln(os.Stderr)
			failure = context.Canceled
		},
	}

	call, err := courier.Submit(ctx, engine, req, pipeline, promstats.Wrap[string](obs, stats))
	if err != nil {
		return err
	}
	env, err := call.Wait(context.Background())
	if err != nil {
		return err
	}

	log.Debug().
		Str("request_id", env.ID).
		Int("status", env.StatusCode).
		Int("attempts", env.Attempts).
		Dur("duration", env.Duration()).
		Msg("request finished")
	return failure
}
