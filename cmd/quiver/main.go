package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/23skdu/longbow-quiver/internal/cache"
	"github.com/23skdu/longbow-quiver/internal/client"
	"github.com/23skdu/longbow-quiver/internal/config"
	"github.com/23skdu/longbow-quiver/internal/device"
)

var (
	configPath    = flag.String("config", "", "Path to YAML config file")
	cpuProfile    = flag.String("cpuprofile", "", "Write cpu profile to file")
	serverAddr    = flag.String("server", "", "Longbow server address (e.g., localhost:3000)")
	datasetName   = flag.String("dataset", "", "Target dataset name on server")
	listenAddr    = flag.String("listen", "", "Address to listen on for HTTP Server (e.g. :8080)")
	flightAddr    = flag.String("flight", "", "Address to listen on for Flight Server (e.g. :9090)")
	maxConcurrent = flag.Int("max-concurrent", 0, "Maximum number of rows processed concurrently")
	maxRows       = flag.Int("max-rows", 0, "Maximum rows a single expansion may produce")
	seed          = flag.Uint64("seed", 0, "Seed for baseline draws")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	logLevel      = flag.String("log-level", "", "Log level (debug, info, warn, error)")

	demoBatch    = flag.Int("batch", 4, "Demo: number of examples")
	demoFeatures = flag.Int("features", 8, "Demo: input features")
	demoClasses  = flag.Int("classes", 3, "Demo: output classes")
	demoPool     = flag.Int("pool", 32, "Demo: reference pool size")
	demoSamples  = flag.Int("samples", 16, "Demo: baselines drawn per example")
	ipcOut       = flag.String("out", "", "Demo: write drawn baselines as Arrow IPC to this file")
	duration     = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
)

func loadConfig() *config.Config {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load config")
		}
		cfg = loaded
	}
	cfg.ApplyOverrides(config.Overrides{
		Listen:        *listenAddr,
		Flight:        *flightAddr,
		Server:        *serverAddr,
		Dataset:       *datasetName,
		MaxConcurrent: *maxConcurrent,
		MaxRows:       *maxRows,
		Seed:          *seed,
		OTel:          *enableOTel,
		LogLevel:      *logLevel,
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	return cfg
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()
	cfg := loadConfig()

	lvl, err := cfg.Level()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.OTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	backend := device.NewCPUBackend()
	pools := cache.NewMapCache(backend)

	var fwd Forwarder
	if cfg.Server != "" {
		fc, err := client.NewFlightClient(cfg.Server)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer func() {
			if err := fc.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close flight client")
			}
		}()
		log.Info().Str("addr", cfg.Server).Str("dataset", cfg.Dataset).Msg("Connected to Flight Server")
		breaker := client.NewCircuitBreaker(cfg.BreakerFailures, cfg.BreakerTimeout)
		fwd = client.NewForwarder(fc, breaker, memory.NewGoAllocator(), cfg.Dataset)
	}

	if cfg.Listen != "" || cfg.Flight != "" {
		if cfg.Flight != "" {
			go StartFlightServer(cfg.Flight, NewQuiverFlightServer(backend, pools))
		}
		if cfg.Listen != "" {
			startServer(cfg.Listen, NewServer(backend, pools, fwd, cfg.MaxConcurrent, cfg.MaxRows, cfg.Seed))
			return
		}
		select {}
	}

	opts := demoOptions{
		Batch:       *demoBatch,
		Features:    *demoFeatures,
		Classes:     *demoClasses,
		PoolSize:    *demoPool,
		NSamples:    *demoSamples,
		Temperature: 1,
	}

	if *duration > 0 {
		soak(backend, cfg.Seed, opts, *duration)
		return
	}

	start := time.Now()
	res, err := runDemo(context.Background(), backend, cfg.Seed, opts, fwd)
	if err != nil {
		log.Fatal().Err(err).Msg("Demo failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Demo complete")
	logDemo(res)

	if *ipcOut != "" {
		f, err := os.Create(*ipcOut)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create IPC output")
		}
		defer f.Close()
		if err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).WriteIPC(f, res.Baselines); err != nil {
			log.Warn().Err(err).Msg("Failed to write arrow stream")
		}
	}
}

func soak(backend device.Backend, seed uint64, opts demoOptions, d time.Duration) {
	log.Info().Str("duration", d.String()).Msg("Starting soak test")
	p := message.NewPrinter(language.English)

	startTime := time.Now()
	endTime := startTime.Add(d)
	var totalRows int64
	var iter int

	for time.Now().Before(endTime) {
		res, err := runDemo(context.Background(), backend, seed+uint64(iter), opts, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("Demo failed")
		}
		totalRows += int64(res.Rows)
		iter++

		if iter%100 == 0 {
			elapsed := time.Since(startTime)
			log.Info().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Str("total_rows", p.Sprintf("%d", totalRows)).
				Str("rows_per_sec", p.Sprintf("%.0f", float64(totalRows)/elapsed.Seconds())).
				Msg("Soak test progress")
		}
	}

	totalElapsed := time.Since(startTime)
	log.Info().
		Str("total_rows", p.Sprintf("%d", totalRows)).
		Dur("total_time", totalElapsed).
		Str("avg_rows_per_sec", p.Sprintf("%.0f", float64(totalRows)/totalElapsed.Seconds())).
		Msg("Soak test complete")
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("quiver"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
