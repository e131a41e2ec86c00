package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix of all environment variables read by Load
const EnvPrefix = "LPGMON_"

// Backend selections
const (
	SensorHX711    = "hx711"
	SensorFelicita = "felicita"
	SensorMock     = "mock"

	RadioNMCLI = "nmcli"
	RadioMock  = "mock"

	DisplaySSD1306 = "ssd1306"
	DisplayConsole = "console"

	GPIOCdev = "gpiocdev"
	GPIOMock = "mock"

	CloudRedis  = "redis"
	CloudMQTT   = "mqtt"
	CloudMemory = "memory"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config denotes the complete device configuration
type Config struct {
	Debug bool

	// Backends
	Sensor  string
	Radio   string
	Display string
	GPIO    string
	Cloud   string
	Store   string

	// Storage
	StorePath      string
	StoreNamespace string

	// Weight sensor
	CalibrationFactor float64
	HX711ClockPin     string
	HX711DataPin      string
	SampleTimeout     time.Duration
	FelicitaName      string
	BluetoothDevice   int

	// Wireless / provisioning
	Interface        string
	APPrefix         string
	ProvisioningPort int
	ConnectAttempts  int
	ConnectDelay     time.Duration
	FlushDelay       time.Duration

	// Local I/O
	I2CBus             string
	GPIOChip           string
	ButtonOffset       int
	LEDOffset          int
	BuzzerOffset       int
	ButtonActiveLevel  string
	ForcedWindow       time.Duration
	ForcedPollInterval time.Duration

	// Cloud
	RedisAddr        string
	RedisDB          int
	MQTTBroker       string
	MQTTTopicPrefix  string
	SessionRetry     time.Duration
	WriteTimeout     time.Duration
	FastInterval     time.Duration
	FastSamples      int
	HistorySamples   int
	HistoryThreshold float64
	HistoryCeiling   time.Duration

	// Main loop
	DisplayInterval time.Duration
	DisplaySamples  int
	IdleDelay       time.Duration

	// Status server (disabled if empty)
	StatusAddr string
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Sensor:  SensorHX711,
		Radio:   RadioNMCLI,
		Display: DisplaySSD1306,
		GPIO:    GPIOCdev,
		Cloud:   CloudRedis,
		Store:   StoreSQLite,

		StorePath:      "/var/lib/lpgmon/config.db",
		StoreNamespace: "lpg-config",

		CalibrationFactor: 1.,
		HX711ClockPin:     "GPIO5",
		HX711DataPin:      "GPIO6",
		SampleTimeout:     500 * time.Millisecond,
		FelicitaName:      "FELICITA",
		BluetoothDevice:   -1,

		Interface:        "wlan0",
		APPrefix:         "LPG-Monitor-",
		ProvisioningPort: 80,
		ConnectAttempts:  40,
		ConnectDelay:     time.Second,
		FlushDelay:       time.Second,

		GPIOChip:           "gpiochip0",
		ButtonOffset:       17,
		LEDOffset:          27,
		BuzzerOffset:       22,
		ButtonActiveLevel:  "low",
		ForcedWindow:       5 * time.Second,
		ForcedPollInterval: 50 * time.Millisecond,

		RedisAddr:        "localhost:6379",
		MQTTBroker:       "tcp://localhost:1883",
		MQTTTopicPrefix:  "lpgmon",
		SessionRetry:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		FastInterval:     10 * time.Second,
		FastSamples:      5,
		HistorySamples:   10,
		HistoryThreshold: 250.,
		HistoryCeiling:   300 * time.Second,

		DisplayInterval: 2 * time.Second,
		DisplaySamples:  3,
		IdleDelay:       100 * time.Millisecond,
	}
}

// Load returns the default configuration, overridden by the variables of the
// (optional) dotenv file and the process environment (in that order of
// precedence, the environment winning)
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read env file `%s`: %w", envFile, err)
		}
	}

	cfg := Default()
	p := parser{}

	p.boolean("DEBUG", &cfg.Debug)

	p.str("SENSOR", &cfg.Sensor)
	p.str("RADIO", &cfg.Radio)
	p.str("DISPLAY", &cfg.Display)
	p.str("GPIO", &cfg.GPIO)
	p.str("CLOUD", &cfg.Cloud)
	p.str("STORE", &cfg.Store)

	p.str("STORE_PATH", &cfg.StorePath)
	p.str("STORE_NAMESPACE", &cfg.StoreNamespace)

	p.float("CALIBRATION_FACTOR", &cfg.CalibrationFactor)
	p.str("HX711_CLOCK_PIN", &cfg.HX711ClockPin)
	p.str("HX711_DATA_PIN", &cfg.HX711DataPin)
	p.duration("SAMPLE_TIMEOUT", &cfg.SampleTimeout)
	p.str("FELICITA_NAME", &cfg.FelicitaName)
	p.integer("BLUETOOTH_DEVICE", &cfg.BluetoothDevice)

	p.str("INTERFACE", &cfg.Interface)
	p.str("AP_PREFIX", &cfg.APPrefix)
	p.integer("PROVISIONING_PORT", &cfg.ProvisioningPort)
	p.integer("CONNECT_ATTEMPTS", &cfg.ConnectAttempts)
	p.duration("CONNECT_DELAY", &cfg.ConnectDelay)
	p.duration("FLUSH_DELAY", &cfg.FlushDelay)

	p.str("I2C_BUS", &cfg.I2CBus)
	p.str("GPIO_CHIP", &cfg.GPIOChip)
	p.integer("BUTTON_OFFSET", &cfg.ButtonOffset)
	p.integer("LED_OFFSET", &cfg.LEDOffset)
	p.integer("BUZZER_OFFSET", &cfg.BuzzerOffset)
	p.str("BUTTON_ACTIVE_LEVEL", &cfg.ButtonActiveLevel)
	p.duration("FORCED_WINDOW", &cfg.ForcedWindow)
	p.duration("FORCED_POLL_INTERVAL", &cfg.ForcedPollInterval)

	p.str("REDIS_ADDR", &cfg.RedisAddr)
	p.integer("REDIS_DB", &cfg.RedisDB)
	p.str("MQTT_BROKER", &cfg.MQTTBroker)
	p.str("MQTT_TOPIC_PREFIX", &cfg.MQTTTopicPrefix)
	p.duration("SESSION_RETRY", &cfg.SessionRetry)
	p.duration("WRITE_TIMEOUT", &cfg.WriteTimeout)
	p.duration("FAST_INTERVAL", &cfg.FastInterval)
	p.integer("FAST_SAMPLES", &cfg.FastSamples)
	p.integer("HISTORY_SAMPLES", &cfg.HistorySamples)
	p.float("HISTORY_THRESHOLD", &cfg.HistoryThreshold)
	p.duration("HISTORY_CEILING", &cfg.HistoryCeiling)

	p.duration("DISPLAY_INTERVAL", &cfg.DisplayInterval)
	p.integer("DISPLAY_SAMPLES", &cfg.DisplaySamples)
	p.duration("IDLE_DELAY", &cfg.IdleDelay)

	p.str("STATUS_ADDR", &cfg.StatusAddr)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.Sensor, SensorHX711, SensorFelicita, SensorMock), "invalid sensor backend `%s`", c.Sensor)
	check(oneOf(c.Radio, RadioNMCLI, RadioMock), "invalid radio backend `%s`", c.Radio)
	check(oneOf(c.Display, DisplaySSD1306, DisplayConsole), "invalid display backend `%s`", c.Display)
	check(oneOf(c.GPIO, GPIOCdev, GPIOMock), "invalid gpio backend `%s`", c.GPIO)
	check(oneOf(c.Cloud, CloudRedis, CloudMQTT, CloudMemory), "invalid cloud backend `%s`", c.Cloud)
	check(oneOf(c.Store, StoreSQLite, StoreMemory), "invalid store backend `%s`", c.Store)
	check(oneOf(c.ButtonActiveLevel, "low", "high"), "invalid button active level `%s`", c.ButtonActiveLevel)

	check(c.CalibrationFactor != 0, "calibration factor must not be zero")
	check(c.ProvisioningPort > 0 && c.ProvisioningPort < 65536, "invalid provisioning port %d", c.ProvisioningPort)
	check(c.ConnectAttempts > 0, "connect attempts must be positive")
	check(c.FastSamples > 0, "fast samples must be positive")
	check(c.HistorySamples > 0, "history samples must be positive")
	check(c.DisplaySamples > 0, "display samples must be positive")
	check(c.HistoryThreshold > 0, "history threshold must be positive")
	check(c.FastInterval > 0, "fast interval must be positive")
	check(c.HistoryCeiling > 0, "history ceiling must be positive")
	check(c.ForcedPollInterval > 0, "forced provisioning poll interval must be positive")

	return errors.Join(errs...)
}

////////////////////////////////////////////////////////////////////////////////

type parser struct {
	errs []error
}

func (p *parser) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (p *parser) str(key string, target *string) {
	if v, ok := p.lookup(key); ok {
		*target = v
	}
}

func (p *parser) boolean(key string, target *bool) {
	if v, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
			return
		}
		*target = b
	}
}

func (p *parser) integer(key string, target *int) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
			return
		}
		*target = n
	}
}

func (p *parser) float(key string, target *float64) {
	if v, ok := p.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
			return
		}
		*target = f
	}
}

func (p *parser) duration(key string, target *time.Duration) {
	if v, ok := p.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid value for %s%s: %w", EnvPrefix, key, err))
			return
		}
		*target = d
	}
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
