package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/cloud"
	"github.com/fako1024/lpgmon/pkg/config"
	"github.com/fako1024/lpgmon/pkg/display"
	"github.com/fako1024/lpgmon/pkg/felicita"
	"github.com/fako1024/lpgmon/pkg/firmware"
	"github.com/fako1024/lpgmon/pkg/gpio"
	"github.com/fako1024/lpgmon/pkg/hx711"
	"github.com/fako1024/lpgmon/pkg/mock"
	"github.com/fako1024/lpgmon/pkg/network"
	"github.com/fako1024/lpgmon/pkg/scale"
	"github.com/fako1024/lpgmon/pkg/store"
	"github.com/fako1024/lpgmon/pkg/wifi"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var simulatedMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x4c, 0x50, 0x47}

type closers []io.Closer

func (c closers) close(logger *zap.SugaredLogger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			logger.Warnf("failed to release device: %s", err)
		}
	}
}

// simulated replaces all hardware and remote backends by their mock / in-memory
// counterparts
func simulated(cfg config.Config) config.Config {
	cfg.Sensor = config.SensorMock
	cfg.Radio = config.RadioMock
	cfg.Display = config.DisplayConsole
	cfg.GPIO = config.GPIOMock
	cfg.Cloud = config.CloudMemory
	cfg.Store = config.StoreMemory

	return cfg
}

func buildHardware(cfg config.Config, f flags, logger *zap.SugaredLogger) (hw firmware.Hardware, c closers, err error) {
	if hw.Transducer, c, err = buildTransducer(cfg, f, logger, c); err != nil {
		return
	}
	if hw.Radio, err = buildRadio(cfg, f, logger); err != nil {
		return
	}
	if hw.Display, c, err = buildDisplay(cfg, c); err != nil {
		return
	}
	if hw.Button, hw.LED, hw.Buzzer, c, err = buildIO(cfg, c); err != nil {
		return
	}
	if hw.Cloud, err = buildCloud(cfg); err != nil {
		return
	}
	hw.Store, err = buildStore(cfg)

	return
}

func buildTransducer(cfg config.Config, f flags, logger *zap.SugaredLogger, c closers) (scale.Transducer, closers, error) {
	switch cfg.Sensor {
	case config.SensorHX711:
		dev, err := hx711.New(cfg.HX711ClockPin, cfg.HX711DataPin,
			hx711.WithTimeout(cfg.SampleTimeout),
			hx711.WithLogger(logger.Named("hx711")),
		)
		if err != nil {
			return nil, c, err
		}
		return dev, append(c, dev), nil
	case config.SensorFelicita:
		dev, err := felicita.New(
			felicita.WithDeviceName(cfg.FelicitaName),
			felicita.WithHCIDevice(cfg.BluetoothDevice),
			felicita.WithBuzzerSetting(felicita.BuzzerSettingOff),
			felicita.WithSampleTimeout(cfg.SampleTimeout),
			felicita.WithLogger(logger.Named("felicita")),
		)
		if err != nil {
			return nil, c, err
		}
		return dev, append(c, dev), nil
	case config.SensorMock:
		tr := mock.NewTransducer(0, clock.Real{})

		// Place a cylinder once the sensor has been tared during boot
		time.AfterFunc(f.simDelay, func() {
			logger.Infof("placing simulated cylinder of %.0fg", f.simWeight)
			tr.Set(f.simWeight * cfg.CalibrationFactor)
			tr.SetDrift(0.01 * cfg.CalibrationFactor)
		})
		return tr, c, nil
	}

	return nil, c, fmt.Errorf("unsupported sensor backend `%s`", cfg.Sensor)
}

func buildRadio(cfg config.Config, f flags, logger *zap.SugaredLogger) (network.Radio, error) {
	switch cfg.Radio {
	case config.RadioNMCLI:
		return wifi.New(cfg.Interface, wifi.WithLogger(logger.Named("wifi"))), nil
	case config.RadioMock:
		r := mock.NewRadio(simulatedMAC)
		r.SetAPAddr("127.0.0.1")
		r.AddNetwork(f.simSSID, mock.Network{Password: f.simPassword, Polls: 2})
		return r, nil
	}

	return nil, fmt.Errorf("unsupported radio backend `%s`", cfg.Radio)
}

func buildDisplay(cfg config.Config, c closers) (display.Display, closers, error) {
	switch cfg.Display {
	case config.DisplaySSD1306:
		oled, err := display.NewOLED(cfg.I2CBus)
		if err != nil {
			return nil, c, err
		}
		return oled, append(c, oled), nil
	case config.DisplayConsole:
		return display.NewConsole(os.Stdout), c, nil
	}

	return nil, c, fmt.Errorf("unsupported display backend `%s`", cfg.Display)
}

func buildIO(cfg config.Config, c closers) (gpio.Input, gpio.Output, gpio.Output, closers, error) {
	switch cfg.GPIO {
	case config.GPIOCdev:
		b, err := gpio.RequestInput(cfg.GPIOChip, cfg.ButtonOffset)
		if err != nil {
			return nil, nil, nil, c, err
		}
		c = append(c, b)
		l, err := gpio.RequestOutput(cfg.GPIOChip, cfg.LEDOffset)
		if err != nil {
			return nil, nil, nil, c, err
		}
		c = append(c, l)
		z, err := gpio.RequestOutput(cfg.GPIOChip, cfg.BuzzerOffset)
		if err != nil {
			return nil, nil, nil, c, err
		}
		return b, l, z, append(c, z), nil
	case config.GPIOMock:

		// An idle button (the inverse of the active level)
		level, err := gpio.ParseLevel(cfg.ButtonActiveLevel)
		if err != nil {
			return nil, nil, nil, c, err
		}
		return mock.NewInput(gpio.High - level), &mock.Output{}, &mock.Output{}, c, nil
	}

	return nil, nil, nil, c, fmt.Errorf("unsupported GPIO backend `%s`", cfg.GPIO)
}

func buildCloud(cfg config.Config) (cloud.DocumentStore, error) {
	switch cfg.Cloud {
	case config.CloudRedis:
		return cloud.NewRedisStore(cfg.RedisAddr, cfg.RedisDB), nil
	case config.CloudMQTT:
		return cloud.NewMQTTStore(cfg.MQTTBroker, "lpgmon-"+uuid.NewString(), cfg.MQTTTopicPrefix), nil
	case config.CloudMemory:
		return mock.NewDocumentStore(), nil
	}

	return nil, fmt.Errorf("unsupported cloud backend `%s`", cfg.Cloud)
}

func buildStore(cfg config.Config) (store.Backend, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return store.NewSQLite(cfg.StorePath), nil
	case config.StoreMemory:
		return store.NewMemory(), nil
	}

	return nil, fmt.Errorf("unsupported store backend `%s`", cfg.Store)
}
