package firmware

import (
	"fmt"
	"time"

	"github.com/fako1024/lpgmon/pkg/cloud"
	"github.com/fako1024/lpgmon/pkg/config"
	"github.com/fako1024/lpgmon/pkg/gpio"
)

// Settings denotes the timing and wiring parameters of the main loop
type Settings struct {
	CalibrationFactor float64
	APPrefix          string
	Namespace         string
	PortalPort        int

	ConnectAttempts int
	ConnectDelay    time.Duration
	FlushDelay      time.Duration

	ForcedWindow       time.Duration
	ForcedPollInterval time.Duration
	ButtonActiveLevel  gpio.Level

	DisplayInterval      time.Duration
	DisplaySamples       int
	SessionRetryInterval time.Duration
	IdleDelay            time.Duration

	Policy cloud.Policy
}

// DefaultSettings returns the default settings
func DefaultSettings() Settings {
	s, _ := NewSettings(config.Default())
	return s
}

// NewSettings derives the loop settings from a configuration
func NewSettings(cfg config.Config) (Settings, error) {
	level, err := gpio.ParseLevel(cfg.ButtonActiveLevel)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid button configuration: %w", err)
	}

	return Settings{
		CalibrationFactor: cfg.CalibrationFactor,
		APPrefix:          cfg.APPrefix,
		Namespace:         cfg.StoreNamespace,
		PortalPort:        cfg.ProvisioningPort,

		ConnectAttempts: cfg.ConnectAttempts,
		ConnectDelay:    cfg.ConnectDelay,
		FlushDelay:      cfg.FlushDelay,

		ForcedWindow:       cfg.ForcedWindow,
		ForcedPollInterval: cfg.ForcedPollInterval,
		ButtonActiveLevel:  level,

		DisplayInterval:      cfg.DisplayInterval,
		DisplaySamples:       cfg.DisplaySamples,
		SessionRetryInterval: cfg.SessionRetry,
		IdleDelay:            cfg.IdleDelay,

		Policy: cloud.Policy{
			FastInterval:     cfg.FastInterval,
			FastSamples:      cfg.FastSamples,
			HistorySamples:   cfg.HistorySamples,
			HistoryThreshold: cfg.HistoryThreshold,
			HistoryCeiling:   cfg.HistoryCeiling,
			WriteTimeout:     cfg.WriteTimeout,
		},
	}, nil
}
