package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fako1024/lpgmon/pkg/config"
	"github.com/fako1024/lpgmon/pkg/felicita"
	"github.com/fako1024/lpgmon/pkg/hx711"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/scale"
	"github.com/fatih/stopwatch"
)

type options struct {
	envFile  string
	samples  int
	interval time.Duration
	tare     bool
}

var log = logging.New(false, "logger")

func main() {

	// Parse command line options
	var opts options

	flag.StringVar(&opts.envFile, "env", ".env", "dotenv file to read the sensor configuration from")
	flag.IntVar(&opts.samples, "n", 5, "Number of samples to average per reading")
	flag.DurationVar(&opts.interval, "i", time.Second, "Interval between readings")
	flag.BoolVar(&opts.tare, "tare", true, "Tare the sensor before logging")
	flag.Parse()

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}

	var tr interface {
		scale.Transducer
		Close() error
	}
	switch cfg.Sensor {
	case config.SensorHX711:
		tr, err = hx711.New(cfg.HX711ClockPin, cfg.HX711DataPin, hx711.WithTimeout(cfg.SampleTimeout), hx711.WithLogger(log))
	case config.SensorFelicita:
		tr, err = felicita.New(felicita.WithDeviceName(cfg.FelicitaName), felicita.WithHCIDevice(cfg.BluetoothDevice), felicita.WithLogger(log))
	default:
		err = fmt.Errorf("unsupported sensor backend `%s`", cfg.Sensor)
	}
	if err != nil {
		log.Fatalf("Failed to initialize %s sensor: %s", cfg.Sensor, err)
	}

	s, err := scale.New(tr, scale.WithFactor(cfg.CalibrationFactor))
	if err != nil {
		log.Fatalf("Failed to initialize scale: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := logReadings(ctx, tr, s, opts); err != nil {
		log.Error(err)
	}

	log.Infof("Got signal, terminating connection to device")
	if err := tr.Close(); err != nil {
		log.Errorf("Failed to close sensor: %s", err)
	}
}

func logReadings(ctx context.Context, tr scale.Transducer, s *scale.Sensor, opts options) error {
	for !tr.IsReady() {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
			log.Info("Waiting for sensor to become ready")
		}
	}

	if opts.tare {
		if err := s.Tare(); err != nil {
			return err
		}
	}

	sw := stopwatch.Start(0)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			dp, err := s.Read(opts.samples)
			if err != nil {
				log.Warnf("Failed to read weight: %s", err)
				continue
			}
			log.Infof("Read DATA: %v, %.3fkg, %v", dp, dp.Kilograms(), sw.ElapsedTime())
		}
	}
}
