package felicita

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/scale"
)

const (
	defaultDeviceName    = "FELICITA"
	defaultSampleTimeout = 2 * time.Second
	dataService          = "ffe0"
	dataCharacteristic   = "ffe1"

	frameLength = 18
	gramsPerOz  = 28.349523125

	minBatteryLevel = 129.
	maxBatteryLevel = 158.

	cmdToggleBuzzer = 0x42
	cmdTare         = 0x54

	btSettleDelay   = 50 * time.Millisecond
	btSettleRetries = 100
)

// ErrNoData denotes that the scale did not deliver a sample in time
var ErrNoData = errors.New("no data received from scale")

// Felicita denotes a Felicita bluetooth scale used as weight transducer. Its
// samples are already calibrated to grams
type Felicita struct {
	connected        bool
	batteryLevel     byte
	isBuzzingOnTouch bool
	unit             scale.Unit

	deviceID                    string
	deviceName                  string
	forceBuzzerSettingOnConnect BuzzerSetting
	hasReceivedData             bool
	sampleTimeout               time.Duration
	hciDevice                   int

	samples  chan float64
	doneChan chan struct{}

	btDevice         gatt.Device
	btPeripheral     gatt.Peripheral
	btCharacteristic *gatt.Characteristic

	logger logging.Logger

	mu sync.Mutex
}

// New instantiates a new Felicita struct, executing functional options, if any
func New(options ...func(*Felicita)) (*Felicita, error) {

	// Initialize a new instance of a Felicita scale
	f := &Felicita{
		deviceName:    defaultDeviceName,
		sampleTimeout: defaultSampleTimeout,
		hciDevice:     -1,
		samples:       make(chan float64, 1),
		doneChan:      make(chan struct{}),
		logger:        &logging.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(f)
	}

	// Initialize a new GATT device (if not provided as option)
	if f.btDevice == nil {
		btDevice, err := gatt.NewDevice(clientOptions(f.hciDevice)...)
		if err != nil {
			return nil, err
		}
		f.btDevice = btDevice
	}

	return f, f.subscribe()
}

// IsReady returns if the scale is connected and has delivered data
func (f *Felicita) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connected && f.hasReceivedData
}

// ReadRaw waits for the next weight notification and returns it in grams
func (f *Felicita) ReadRaw() (float64, error) {
	timer := time.NewTimer(f.sampleTimeout)
	defer timer.Stop()

	select {
	case v := <-f.samples:
		return v, nil
	case <-timer.C:
		return 0, fmt.Errorf("%w within %v", ErrNoData, f.sampleTimeout)
	}
}

// IsBuzzingOnTouch returns if the scale buzzer is turned on or not (on user interaction)
func (f *Felicita) IsBuzzingOnTouch() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.isBuzzingOnTouch
}

// BatteryLevel returns the current battery level
func (f *Felicita) BatteryLevel() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return parseBatteryLevel(f.batteryLevel)
}

// Unit returns the unit the scale currently displays
func (f *Felicita) Unit() scale.Unit {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.unit
}

// Tare tares the scale itself
func (f *Felicita) Tare() error {
	return f.write(cmdTare)
}

// Buzz requests the scale to beep / buzz n times
func (f *Felicita) Buzz(n int) (err error) {

	if n <= 0 {
		return fmt.Errorf("invalid number of beeps requested: %d", n)
	}

	// If the buzzer is currently turned on, shortly turn it off and ensure it is
	// re-enabled at the end of the function. In this case, n is reduced by one since
	// enabling the buzzer will cause yet another buzz at the end
	if f.IsBuzzingOnTouch() {
		if err = f.ToggleBuzzingOnTouch(); err != nil {
			return
		}
		n--
		if err = f.waitForBuzzer(false); err != nil {
			return
		}

		defer func() {
			if derr := f.ToggleBuzzingOnTouch(); derr != nil {
				err = derr
				return
			}
			if derr := f.waitForBuzzer(true); derr != nil {
				err = derr
				return
			}
		}()
	}

	for i := 0; i < n; i++ {
		if err = f.buzzAndRestore(); err != nil {
			return
		}
	}

	return nil
}

// ToggleBuzzingOnTouch turns the buzzer (on user interaction) on / off
func (f *Felicita) ToggleBuzzingOnTouch() error {
	return f.write(cmdToggleBuzzer)
}

// Close terminates the connection to the device
func (f *Felicita) Close() error {
	close(f.doneChan)

	_ = f.btDevice.StopScanning()
	return f.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (f *Felicita) subscribe() error {

	// Register handlers
	f.btDevice.Handle(
		gatt.AddPeripheralDiscovered(f.genOnPeriphDiscovered()),
		gatt.AddPeripheralConnected(f.onPeriphConnected),
		gatt.AddPeripheralDisconnected(f.onPeriphDisconnected),
	)

	// Initialize the device
	return f.btDevice.Init(f.onStateChanged)
}

func (f *Felicita) setConnected(connected bool, err error) {
	f.mu.Lock()
	f.connected = connected
	if !connected {
		f.hasReceivedData = false
	}
	f.mu.Unlock()

	if err != nil {
		f.logger.Warnf("scale connection lost: %s", err)
	}
}

func (f *Felicita) write(cmd byte) error {
	f.mu.Lock()
	p, c := f.btPeripheral, f.btCharacteristic
	f.mu.Unlock()

	if p == nil || c == nil {
		return fmt.Errorf("failed to write to uninitialized device")
	}

	return p.WriteCharacteristic(c, []byte{cmd}, false)
}

////////////////////////////////////////////////////////////////////////////////

func (f *Felicita) onStateChanged(d gatt.Device, s gatt.State) {
	switch s {
	case gatt.StatePoweredOn:
		if err := d.Scan([]gatt.UUID{}, false); err != nil {
			f.logger.Warnf("failed to enable initial scanning: %s", err)
		}
		return
	case gatt.StatePoweredOff:
		f.setConnected(false, nil)
		return
	default:
		if err := d.StopScanning(); err != nil {
			f.logger.Warnf("failed to stop initial scanning: %s", err)
		}
	}
}

func (f *Felicita) genOnPeriphDiscovered() func(p gatt.Peripheral, arg2 *gatt.Advertisement, arg3 int) {
	return func(p gatt.Peripheral, arg2 *gatt.Advertisement, arg3 int) {

		f.logger.Debugf("discovered device `%s/%s`", p.Name(), p.ID())

		if !f.thisDevice(p) {
			return
		}

		// Stop scanning once we've got the peripheral we're looking for.
		if err := p.Device().StopScanning(); err != nil {
			f.logger.Warnf("failed to stop initial scanning: %s", err)
		}
		if err := p.Device().Connect(p); err != nil {
			f.logger.Errorf("Failed to connect device `%s/%s`: %s", p.Name(), p.ID(), err)
		}
	}
}

func (f *Felicita) onPeriphConnected(p gatt.Peripheral, connErr error) {

	if !f.thisDevice(p) {
		return
	}

	f.logger.Infof("connected scale `%s/%s`", p.Name(), p.ID())

	f.setConnected(true, nil)
	defer func() {
		_ = p.Device().CancelConnection(p)
		f.setConnected(false, connErr)
	}()

	if err := p.SetMTU(500); err != nil {
		connErr = fmt.Errorf("failed to set MTU: %w", err)
		return
	}

	ss, err := p.DiscoverServices(nil)
	if err != nil {
		connErr = fmt.Errorf("failed to discover services: %w", err)
		return
	}
	for _, s := range ss {
		if s.UUID().String() != dataService {
			continue
		}

		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			connErr = fmt.Errorf("failed to discover characteristics: %w", err)
			return
		}
		for _, c := range cs {
			if c.UUID().String() != dataCharacteristic {
				continue
			}

			f.mu.Lock()
			f.btPeripheral, f.btCharacteristic = p, c
			f.mu.Unlock()

			if _, err := p.DiscoverDescriptors(nil, c); err != nil {
				connErr = fmt.Errorf("failed to discover descriptors: %w", err)
				return
			}
			if err := p.SetNotifyValue(c, f.receiveData); err != nil {
				connErr = fmt.Errorf("failed to subscribe characteristic: %w", err)
				return
			}
		}
	}

	<-f.doneChan
	f.logger.Debugf("released peripheral `%s/%s`", p.Name(), p.ID())
}

func (f *Felicita) onPeriphDisconnected(p gatt.Peripheral, _ error) {

	if !f.thisDevice(p) {
		return
	}

	f.disconnect()
	f.logger.Infof("disconnected scale `%s/%s`", p.Name(), p.ID())

	time.Sleep(100 * time.Millisecond)
	if err := f.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		f.logger.Warnf("failed to re-enable scanning after disconnect: %s", err)
	}
}

func (f *Felicita) thisDevice(p gatt.Peripheral) bool {

	// Check if name and / or device ID have been overridden
	if f.deviceID != "" && strings.EqualFold(p.ID(), f.deviceID) {
		return true
	}
	return strings.EqualFold(p.Name(), f.deviceName)
}

func (f *Felicita) disconnect() {
	select {
	case f.doneChan <- struct{}{}:
	default:
	}
}

func (f *Felicita) receiveData(_ *gatt.Characteristic, req []byte, err error) {
	if err != nil {
		return
	}

	fr, ok := parseFrame(req)
	if !ok {
		return
	}

	f.mu.Lock()
	f.batteryLevel = fr.battery
	f.isBuzzingOnTouch = fr.buzzing
	f.unit = fr.unit
	first := !f.hasReceivedData
	f.hasReceivedData = true
	f.mu.Unlock()

	// Upon first data reception, check if the Buzzer is configured as expected and
	// attempt to force the setting if not (unless not configured)
	if first {
		f.forceBuzzerSetting(fr.buzzing)
	}

	// Keep only the latest sample
	select {
	case <-f.samples:
	default:
	}
	f.samples <- fr.grams
}

func (f *Felicita) buzzAndRestore() (err error) {
	if err = f.ToggleBuzzingOnTouch(); err != nil {
		return
	}
	if err = f.waitForBuzzer(true); err != nil {
		return
	}
	if err = f.ToggleBuzzingOnTouch(); err != nil {
		return
	}
	return f.waitForBuzzer(false)
}

func (f *Felicita) waitForBuzzer(targetState bool) error {
	for i := 0; i < btSettleRetries; i++ {
		if f.IsBuzzingOnTouch() == targetState {
			return nil
		}
		time.Sleep(btSettleDelay)
	}

	return fmt.Errorf("target buzzer state %v was not reached within %v", targetState, time.Duration(btSettleRetries)*btSettleDelay)
}

func (f *Felicita) forceBuzzerSetting(buzzing bool) {
	if f.forceBuzzerSettingOnConnect == "" {
		return
	}
	if buzzing && f.forceBuzzerSettingOnConnect == BuzzerSettingOff ||
		!buzzing && f.forceBuzzerSettingOnConnect == BuzzerSettingOn {
		if err := f.ToggleBuzzingOnTouch(); err != nil {
			f.logger.Warnf("failed to force buzzer setting to `%s`: %s", f.forceBuzzerSettingOnConnect, err)
		}
	}
}

////////////////////////////////////////////////////////////////////////////////

type frame struct {
	grams   float64
	unit    scale.Unit
	battery byte
	buzzing bool
}

// parseFrame decodes a weight notification. The weight is transmitted as
// signed ASCII in hundredths of the displayed unit
func parseFrame(data []byte) (frame, bool) {
	if len(data) != frameLength {
		return frame{}, false
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(string(data[2:9])), 64)
	if err != nil {
		return frame{}, false
	}
	value /= 100.

	fr := frame{
		grams:   value,
		unit:    scale.UnitGrams,
		battery: data[15],
		buzzing: parseSignalFlag(data[14]),
	}
	if isOz(data[9:11]) {
		fr.grams = value * gramsPerOz
	}

	return fr, true
}

func isOz(data []byte) bool {
	return strings.Contains(strings.ToLower(string(data)), "oz")
}

func parseBatteryLevel(data byte) float64 {

	val := int(data)
	if val < minBatteryLevel {
		return 0.
	} else if val > maxBatteryLevel {
		return 1.
	}

	return math.Round((float64(val)-minBatteryLevel)/(maxBatteryLevel-minBatteryLevel)*100.) / 100.
}

func parseSignalFlag(data byte) bool {
	return data == 0x22
}
