package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/fako1024/lpgmon/pkg/config"
	"github.com/fako1024/lpgmon/pkg/felicita"
	"github.com/fako1024/lpgmon/pkg/hx711"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/scale"
)

type options struct {
	envFile string
	known   float64
	samples int
	wait    time.Duration

	toggleBuzzer bool
}

var log = logging.New(false, "scaletool")

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (err error) {

	// Parse command line options
	var opts options

	flag.StringVar(&opts.envFile, "env", ".env", "dotenv file to read the sensor configuration from")
	flag.Float64Var(&opts.known, "known", 1000., "Reference weight (in grams) to calibrate against")
	flag.IntVar(&opts.samples, "n", 20, "Number of samples to average")
	flag.DurationVar(&opts.wait, "wait", 15*time.Second, "Time to place the reference weight after taring")
	flag.BoolVar(&opts.toggleBuzzer, "b", false, "Toggle the buzzer on touch / action feature (Felicita only)")
	flag.Parse()

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}

	var (
		tr interface {
			scale.Transducer
			Close() error
		}
		f *felicita.Felicita
	)
	switch cfg.Sensor {
	case config.SensorHX711:
		tr, err = hx711.New(cfg.HX711ClockPin, cfg.HX711DataPin, hx711.WithTimeout(cfg.SampleTimeout), hx711.WithLogger(log))
	case config.SensorFelicita:
		f, err = felicita.New(felicita.WithDeviceName(cfg.FelicitaName), felicita.WithHCIDevice(cfg.BluetoothDevice), felicita.WithLogger(log))
		tr = f
	default:
		return fmt.Errorf("calibration not supported for sensor backend `%s`", cfg.Sensor)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize %s sensor: %w", cfg.Sensor, err)
	}
	defer func() {
		if cerr := tr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for !tr.IsReady() {
		log.Info("waiting for sensor to become ready")
		time.Sleep(time.Second)
	}

	if opts.toggleBuzzer {
		if f == nil {
			return fmt.Errorf("toggling the buzzer is not supported for sensor backend `%s`", cfg.Sensor)
		}
		if err = f.ToggleBuzzingOnTouch(); err != nil {
			return fmt.Errorf("failed to toggle buzzer on touch / action: %w", err)
		}
	}

	s, err := scale.New(tr, scale.WithTareSamples(opts.samples))
	if err != nil {
		return err
	}

	log.Info("remove all weight from the sensor, taring...")
	if err = s.Tare(); err != nil {
		return err
	}

	log.Infof("place the reference weight of %.0fg on the sensor within %v", opts.known, opts.wait)
	time.Sleep(opts.wait)

	factor, err := s.Calibrate(opts.known, opts.samples)
	if err != nil {
		return err
	}

	log.Infof("calibration complete (offset: %.2f)", s.Offset())
	fmt.Printf("%sCALIBRATION_FACTOR=%.6f\n", config.EnvPrefix, factor)

	return nil
}
