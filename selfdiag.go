package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/selfdiag/admin"
	"github.com/maxpert/selfdiag/cfg"
	"github.com/maxpert/selfdiag/recorder"
	"github.com/maxpert/selfdiag/ring"
	"github.com/maxpert/selfdiag/source"
	"github.com/maxpert/selfdiag/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// hostSourceName is the source the process's own log output is recorded under
const hostSourceName = "Telemetry-Host"

func main() {
	flag.Parse()

	// -dump needs no configuration
	if *cfg.DumpFlag != "" {
		if err := dump(*cfg.DumpFlag, *cfg.CompressFlag); err != nil {
			fmt.Fprintf(os.Stderr, "dump failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging; warnings and above are also recorded in the ring
	hostSource := source.New(hostSourceName)
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger().
		Hook(source.ZerologHook{Source: hostSource})

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("selfdiag - in-process diagnostics recorder")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	rec, err := recorder.New(cfg.Config.Diagnostics, recorder.Options{
		Instance: cfg.Config.InstanceID,
		Reload: func() (*cfg.DiagnosticsConfiguration, error) {
			return cfg.Reload(*cfg.ConfigPathFlag)
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start diagnostics recorder")
		return
	}
	rec.Start()
	defer func() {
		if err := rec.Stop(); err != nil {
			log.Warn().Err(err).Msg("Failed to close diagnostics ring")
		}
	}()

	if cfg.Config.Prometheus.Enabled {
		interval := time.Duration(cfg.Config.Prometheus.CollectIntervalMS) * time.Millisecond
		collector := telemetry.NewMetricsCollector(rec, interval)
		collector.Start()
		defer collector.Stop()
	}

	if cfg.Config.Admin.Enabled {
		server := admin.NewServer(admin.ServerConfig{
			BindAddress:    cfg.Config.Admin.BindAddress,
			Port:           cfg.Config.Admin.Port,
			Secret:         cfg.Config.Admin.Secret,
			MetricsHandler: telemetry.GetMetricsHandler(),
		}, rec)
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(ctx); err != nil {
				log.Warn().Err(err).Msg("Admin server did not stop cleanly")
			}
		}()
	}

	hostSource.Write(source.LevelLogAlways, "recorder started", os.Getpid(), rec.Path())
	log.Info().
		Uint64("instance_id", cfg.Config.InstanceID).
		Str("ring", rec.Path()).
		Strs("sources", rec.Sources()).
		Msg("Recorder is operational")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	hostSource.Write(source.LevelLogAlways, "recorder stopping")
}

// dump writes a ring file to stdout, oldest line first
func dump(path string, compress bool) error {
	out := bufio.NewWriter(os.Stdout)
	if err := ring.Export(out, path, compress); err != nil {
		return err
	}
	return out.Flush()
}
