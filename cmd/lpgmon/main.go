package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/lpgmon/pkg/config"
	"github.com/fako1024/lpgmon/pkg/firmware"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const statusShutdownTimeout = 5 * time.Second

type flags struct {
	envFile  string
	debug    bool
	simulate bool

	simSSID     string
	simPassword string
	simWeight   float64
	simDelay    time.Duration
}

func main() {
	var f flags
	flag.StringVar(&f.envFile, "env", ".env", "dotenv file to read the configuration from (optional)")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flag.BoolVar(&f.simulate, "simulate", false, "run without hardware (mock sensor, radio, I/O, cloud and store)")
	flag.StringVar(&f.simSSID, "sim-ssid", "Simulated", "network reachable by the simulated radio")
	flag.StringVar(&f.simPassword, "sim-password", "simulated", "password of the simulated network")
	flag.Float64Var(&f.simWeight, "sim-weight", 14500., "weight (in grams) placed on the simulated sensor after boot")
	flag.DurationVar(&f.simDelay, "sim-delay", 10*time.Second, "delay after which the simulated weight is placed")
	flag.Parse()

	cfg, err := config.Load(f.envFile)
	if err != nil {
		logging.New(true).Fatalf("failed to load configuration: %s", err)
	}

	logger := logging.New(cfg.Debug || f.debug, "lpgmon")
	if err := run(cfg, f, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg config.Config, f flags, logger *zap.SugaredLogger) error {
	if f.simulate {
		cfg = simulated(cfg)
	}

	settings, err := firmware.NewSettings(cfg)
	if err != nil {
		return err
	}

	hw, devices, err := buildHardware(cfg, f, logger)
	defer devices.close(logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	loop, err := firmware.New(hw,
		firmware.WithSettings(settings),
		firmware.WithMetrics(metrics.New(reg)),
		firmware.WithLogger(logger.Named("loop")),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           metrics.NewRouter(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Infof("serving status on %s", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("status server failed: %s", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Warnf("failed to shut down status server: %s", err)
			}
		}()
	}

	logger.Infof("starting main loop (sensor: %s, radio: %s, cloud: %s, store: %s)", cfg.Sensor, cfg.Radio, cfg.Cloud, cfg.Store)
	if err := loop.Run(ctx); err != nil {
		return err
	}
	logger.Info("main loop stopped, shutting down")

	return nil
}
