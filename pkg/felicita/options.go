package felicita

import (
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/lpgmon/pkg/logging"
)

// BuzzerSetting denotes a buzzer state enforced upon connection
type BuzzerSetting string

const (

	// BuzzerSettingOn enables buzzing on touch
	BuzzerSettingOn BuzzerSetting = "on"

	// BuzzerSettingOff disables buzzing on touch
	BuzzerSettingOff BuzzerSetting = "off"
)

// WithDeviceID sets the Bluetooth device ID
func WithDeviceID(deviceID string) func(*Felicita) {
	return func(f *Felicita) {
		f.deviceID = deviceID
	}
}

// WithDeviceName sets the Bluetooth device name
func WithDeviceName(deviceName string) func(*Felicita) {
	return func(f *Felicita) {
		f.deviceName = deviceName
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Felicita) {
	return func(f *Felicita) {
		f.btDevice = btDevice
	}
}

// WithHCIDevice selects the local Bluetooth adapter (hciX), -1 selects the
// first available one
func WithHCIDevice(id int) func(*Felicita) {
	return func(f *Felicita) {
		f.hciDevice = id
	}
}

// WithBuzzerSetting forces the buzzer setting upon connection
func WithBuzzerSetting(setting BuzzerSetting) func(*Felicita) {
	return func(f *Felicita) {
		f.forceBuzzerSettingOnConnect = setting
	}
}

// WithSampleTimeout sets the maximum time to wait for a weight notification
func WithSampleTimeout(timeout time.Duration) func(*Felicita) {
	return func(f *Felicita) {
		if timeout > 0 {
			f.sampleTimeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*Felicita) {
	return func(f *Felicita) {
		f.logger = logger
	}
}
