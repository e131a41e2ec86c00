package firmware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/lpgmon/pkg/api"
	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/cloud"
	"github.com/fako1024/lpgmon/pkg/display"
	"github.com/fako1024/lpgmon/pkg/gpio"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fako1024/lpgmon/pkg/metrics"
	"github.com/fako1024/lpgmon/pkg/network"
	"github.com/fako1024/lpgmon/pkg/scale"
	"github.com/fako1024/lpgmon/pkg/store"
	"github.com/fatih/stopwatch"
	"github.com/prometheus/client_golang/prometheus"
)

// Hardware denotes the collaborators of the device. Display, Button, LED and
// Buzzer are optional
type Hardware struct {
	Transducer scale.Transducer
	Radio      network.Radio
	Display    display.Display
	Button     gpio.Input
	LED        gpio.Output
	Buzzer     gpio.Output
	Store      store.Backend
	Cloud      cloud.DocumentStore
}

// Device denotes the top-level device state owned by the main loop
type Device struct {
	ID         string
	Record     store.ProvisioningRecord
	Configured bool
	SensorOK   bool
	Cadence    cloud.Cadence

	// LastSessionAttempt is the time of the last failed cloud sign in on the
	// current connection
	LastSessionAttempt time.Time
}

// Loop denotes the cooperative main loop of the device
type Loop struct {
	hw       Hardware
	settings Settings

	dev    Device
	store  *store.Store
	sensor *scale.Sensor
	net    *network.Manager
	portal *api.Server
	engine *cloud.Engine
	led    *gpio.LED
	buzzer *gpio.Buzzer

	clock   clock.Clock
	metrics *metrics.Metrics
	uptime  *stopwatch.Stopwatch

	logger logging.Logger
}

// New instantiates a new main loop for the provided hardware, executing
// functional options, if any
func New(hw Hardware, options ...func(*Loop)) (*Loop, error) {
	if hw.Transducer == nil || hw.Radio == nil || hw.Store == nil || hw.Cloud == nil {
		return nil, errors.New("transducer, radio, store and cloud backends are required")
	}

	l := &Loop{
		hw:       hw,
		settings: DefaultSettings(),
		clock:    clock.Real{},
		logger:   &logging.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(l)
	}

	if l.metrics == nil {
		l.metrics = metrics.New(prometheus.NewRegistry())
	}

	sensor, err := scale.New(hw.Transducer,
		scale.WithFactor(l.settings.CalibrationFactor),
		scale.WithLogger(l.logger),
	)
	if err != nil {
		return nil, err
	}
	l.sensor = sensor
	l.store = store.New(hw.Store, l.settings.Namespace)

	if hw.LED != nil {
		l.led = gpio.NewLED(hw.LED)
	}
	if hw.Buzzer != nil {
		l.buzzer = gpio.NewBuzzer(hw.Buzzer, l.clock, 0)
	}

	return l, nil
}

// Device returns a copy of the current device state
func (l *Loop) Device() Device {
	return l.dev
}

// Network returns the connectivity manager (available after Boot)
func (l *Loop) Network() *network.Manager {
	return l.net
}

// Portal returns the provisioning server (available after Boot)
func (l *Loop) Portal() *api.Server {
	return l.portal
}

// Boot derives the device identity, prepares the sensor, evaluates the forced
// provisioning window and either connects with the stored credentials or
// starts provisioning. Only a missing identity is an error
func (l *Loop) Boot(ctx context.Context) error {
	l.uptime = stopwatch.Start(0)
	l.showBoot()

	mac, err := l.hw.Radio.HardwareAddr()
	if err != nil {
		return fmt.Errorf("failed to read hardware address: %w", err)
	}
	if l.dev.ID, err = DeriveIdentity(mac); err != nil {
		return fmt.Errorf("failed to derive device identity: %w", err)
	}
	apName := APName(l.settings.APPrefix, l.dev.ID)
	l.logger.Infof("booting device `%s` (access point `%s`)", l.dev.ID, apName)

	l.portal = api.New(l.dev.ID,
		api.WithResultHandler(func(result string) {
			l.metrics.Submissions.WithLabelValues(result).Inc()
		}),
		api.WithLogger(l.logger),
	)
	l.net = network.New(l.hw.Radio, l.portal, apName,
		network.WithRetry(l.settings.ConnectAttempts, l.settings.ConnectDelay),
		network.WithPortalPort(l.settings.PortalPort),
		network.WithClock(l.clock),
		network.WithStateChangeHandler(func(_, to network.State) {
			l.metrics.ConnectivityState.Set(float64(to))
		}),
		network.WithAttemptHandler(l.metrics.ConnectAttempts.Inc),
		network.WithLogger(l.logger),
	)

	engineOpts := []func(*cloud.Engine){
		cloud.WithPolicy(l.settings.Policy),
		cloud.WithClock(l.clock),
		cloud.WithObserver(func(cadence string, o cloud.Outcome, weight float64) {
			l.metrics.CloudWrites.WithLabelValues(cadence, o.String()).Inc()
			if o == cloud.OutcomeSent {
				l.metrics.Weight.Set(weight)
			}
		}),
		cloud.WithLogger(l.logger),
	}
	if l.buzzer != nil {
		engineOpts = append(engineOpts, cloud.WithAlerter(l.buzzer))
	}
	l.engine = cloud.NewEngine(l.hw.Cloud, l.sensor, l.dev.ID, engineOpts...)

	l.prepareSensor()

	if ForcedProvisioning(l.hw.Button, l.clock, l.settings.ForcedWindow, l.settings.ForcedPollInterval, l.settings.ButtonActiveLevel) {
		l.logger.Warn("forced provisioning requested, clearing stored configuration")
		l.showReset()
		if err := l.store.Clear(); err != nil {
			l.logger.Errorf("failed to clear stored configuration: %s", err)
		}
	} else {
		rec, configured, err := l.store.Load()
		if err != nil {
			l.logger.Errorf("failed to load stored configuration: %s", err)
		}
		l.dev.Record, l.dev.Configured = rec, configured
	}

	if l.dev.Configured {
		l.showConnecting()
	}
	if err := l.net.Boot(l.dev.Record.NetworkName, l.dev.Record.NetworkPassword, l.dev.Configured); err != nil {
		l.logger.Warnf("boot connectivity: %s", err)
	}
	l.showState()
	l.updateIndicators()

	return nil
}

// Iterate executes a single pass of the main loop
func (l *Loop) Iterate(ctx context.Context) {

	// 1. Service any pending provisioning submission
	l.serviceProvisioning()

	// 2. + 3. Cloud session and cadences while the station link is up
	if l.net.Check() {
		l.ensureSession(ctx)
		if l.net.SessionReady() && l.dev.SensorOK {
			l.refreshDisplay()
			l.engine.FastUpdate(ctx, &l.dev.Cadence)
			if !l.engine.SessionLost() {
				l.engine.EvaluateHistory(ctx, &l.dev.Cadence)
			}
			l.checkSession()
		}
	} else {

		// 4. Recover connectivity
		l.recover()
	}

	// 5. Indicators
	l.updateIndicators()
	l.metrics.Iterations.Inc()
}

// Run boots the device and iterates until ctx is done
func (l *Loop) Run(ctx context.Context) error {
	if err := l.Boot(ctx); err != nil {
		return err
	}
	defer l.Close()

	for {
		select {
		case <-ctx.Done():
			l.logger.Infof("stopping main loop after %v", l.uptime.ElapsedTime())
			return nil
		default:
		}

		l.Iterate(ctx)
		l.clock.Sleep(l.settings.IdleDelay)
	}
}

// Close tears down the provisioning portal / access point and the cloud
// session
func (l *Loop) Close() {
	if l.net != nil {
		l.net.Shutdown()
	}
	if err := l.hw.Cloud.Close(); err != nil {
		l.logger.Warnf("failed to close cloud session: %s", err)
	}
	if l.led != nil {
		if err := l.led.Set(false); err != nil {
			l.logger.Warnf("failed to switch off LED: %s", err)
		}
	}
}

////////////////////////////////////////////////////////////////////////////////

func (l *Loop) prepareSensor() {
	if !l.sensor.IsReady() {
		l.logger.Error("weight sensor not ready, disabling all weight operations")
		l.showSensorError()
		return
	}
	if err := l.sensor.Tare(); err != nil {
		l.logger.Errorf("failed to tare weight sensor, disabling all weight operations: %s", err)
		l.showSensorError()
		return
	}
	l.dev.SensorOK = true

	// Seed the history bookkeeping so the first evaluation does not trigger.
	// On failure the first successful history reading becomes the baseline
	dp, err := l.sensor.Read(l.settings.Policy.HistorySamples)
	if err != nil {
		l.logger.Warnf("failed to read initial weight: %s", err)
		return
	}
	l.dev.Cadence.Seed(dp.Weight, l.clock.Now())
	l.logger.Infof("initial weight: %s", dp)
}

func (l *Loop) serviceProvisioning() {
	sub, ok := l.portal.Poll()
	if !ok {
		return
	}

	if err := l.store.Save(sub.Record); err != nil {
		l.logger.Errorf("failed to persist configuration: %s", err)
		sub.Reply(err)
		l.alert()
		return
	}
	sub.Reply(nil)

	// The submitted credentials stay persisted even if connecting fails
	l.dev.Record, l.dev.Configured = sub.Record, true
	l.dev.LastSessionAttempt = time.Time{}
	l.logger.Infof("stored new configuration for network `%s`", sub.Record.NetworkName)

	// Allow the response to be flushed before tearing down the access point
	l.clock.Sleep(l.settings.FlushDelay)

	l.showConnecting()
	if err := l.net.Connect(sub.Record.NetworkName, sub.Record.NetworkPassword); err != nil {
		l.logger.Warnf("failed to connect with new configuration: %s", err)
	}
	l.showState()
}

func (l *Loop) ensureSession(ctx context.Context) {
	if l.net.SessionReady() {
		return
	}

	now := l.clock.Now()
	if !l.dev.LastSessionAttempt.IsZero() && now.Sub(l.dev.LastSessionAttempt) < l.settings.SessionRetryInterval {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, l.settings.Policy.WriteTimeout)
	defer cancel()

	if err := l.hw.Cloud.SignIn(sctx, cloud.Credentials{
		Email:  l.dev.Record.AccountEmail,
		Secret: l.dev.Record.AccountSecret,
	}); err != nil {
		l.dev.LastSessionAttempt = now
		l.logger.Errorf("failed to establish cloud session (retrying in %v): %s", l.settings.SessionRetryInterval, err)
		return
	}

	if err := l.net.SetSessionReady(); err != nil {
		l.logger.Errorf("failed to latch cloud session: %s", err)
		return
	}
	l.dev.LastSessionAttempt = time.Time{}
	l.engine.NewSession(l.dev.Record.FriendlyName)
	l.logger.Infof("cloud session established for device `%s`", l.dev.ID)
	l.showState()
}

// checkSession releases the session latch if the document store rejected a
// write for lack of a session, so the next iteration signs in again
func (l *Loop) checkSession() {
	if !l.engine.SessionLost() {
		return
	}
	l.logger.Warn("cloud session lost, signing in again")
	l.net.ResetSession()
	l.dev.LastSessionAttempt = time.Time{}
}

func (l *Loop) refreshDisplay() {
	now := l.clock.Now()
	if !l.dev.Cadence.LastDisplayUpdate.IsZero() && now.Sub(l.dev.Cadence.LastDisplayUpdate) < l.settings.DisplayInterval {
		return
	}
	l.dev.Cadence.LastDisplayUpdate = now

	dp, err := l.sensor.Read(l.settings.DisplaySamples)
	if err != nil {
		l.logger.Warnf("failed to read weight for display: %s", err)
		return
	}
	l.metrics.Weight.Set(dp.Weight)
	l.showWeight(dp)
}

func (l *Loop) recover() {
	l.dev.LastSessionAttempt = time.Time{}

	switch l.net.State() {
	case network.StateConnecting, network.StateReconnecting:
		if !l.dev.Configured {
			l.enterProvisioning()
			return
		}
		l.showConnecting()
		if err := l.net.Reconnect(l.dev.Record.NetworkName, l.dev.Record.NetworkPassword); err != nil {
			l.logger.Warnf("failed to reconnect: %s", err)
		}
		l.showState()
	case network.StateProvisioningActive:
		if l.net.Serving() {
			return
		}
		if err := l.net.EnsureProvisioning(); err != nil {
			l.logger.Errorf("failed to restore provisioning: %s", err)
			return
		}
		l.showState()
	default:
		l.enterProvisioning()
	}
}

func (l *Loop) enterProvisioning() {
	if err := l.net.EnterProvisioning(); err != nil {
		l.logger.Errorf("failed to start provisioning: %s", err)
	}
	l.showState()
}

// showState renders the screen matching the connectivity state
func (l *Loop) showState() {
	switch l.net.State() {
	case network.StateProvisioningActive:
		l.showProvisioning()
	case network.StateConnected:
		if !l.dev.SensorOK {
			l.showSensorError()
			return
		}
		l.showConnected()
	}
}

func (l *Loop) updateIndicators() {
	ready := l.net.SessionReady()
	if l.led != nil {
		if err := l.led.Set(ready); err != nil {
			l.logger.Warnf("failed to set LED: %s", err)
		}
	}

	l.metrics.ConnectivityState.Set(float64(l.net.State()))
	if ready {
		l.metrics.SessionReady.Set(1)
	} else {
		l.metrics.SessionReady.Set(0)
	}
}

func (l *Loop) alert() {
	if l.buzzer == nil {
		return
	}
	if err := l.buzzer.Buzz(2); err != nil {
		l.logger.Warnf("failed to signal error: %s", err)
	}
}
