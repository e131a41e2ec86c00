package firmware

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fako1024/lpgmon/pkg/api"
	"github.com/fako1024/lpgmon/pkg/cloud"
	"github.com/fako1024/lpgmon/pkg/config"
	"github.com/fako1024/lpgmon/pkg/display"
	"github.com/fako1024/lpgmon/pkg/gpio"
	"github.com/fako1024/lpgmon/pkg/metrics"
	"github.com/fako1024/lpgmon/pkg/mock"
	"github.com/fako1024/lpgmon/pkg/network"
	"github.com/fako1024/lpgmon/pkg/scale"
	"github.com/fako1024/lpgmon/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testID      = "A1B2C3D4E5F6"
	testAPName  = "LPG-Monitor-E5F6"
	testTareRaw = 8000.
)

var (
	testMAC   = net.HardwareAddr{0xa1, 0xb2, 0xc3, 0xd4, 0xe5, 0xf6}
	testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	testRecord = store.ProvisioningRecord{
		NetworkName:     "Home",
		NetworkPassword: "secret1",
		AccountEmail:    "user@example.com",
		AccountSecret:   "hunter2",
		FriendlyName:    "Kitchen",
	}
)

type testEnv struct {
	loop       *Loop
	clock      *mock.Clock
	radio      *mock.Radio
	transducer *mock.Transducer
	docs       *mock.DocumentStore
	backend    *store.Memory
	button     *mock.Input
	led        *mock.Output
	buzzer     *mock.Output
	console    *display.Console
	metrics    *metrics.Metrics
}

// newTestEnv sets up a loop on mock hardware. The button sequence defaults to
// released (the button is active low)
func newTestEnv(t *testing.T, button ...gpio.Level) *testEnv {
	env := &testEnv{
		clock:   mock.NewClock(testStart),
		radio:   mock.NewRadio(testMAC),
		docs:    mock.NewDocumentStore(),
		backend: store.NewMemory(),
		button:  mock.NewInput(button...),
		led:     &mock.Output{},
		buzzer:  &mock.Output{},
		console: display.NewConsole(io.Discard),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	env.radio.SetAPAddr("127.0.0.1")
	env.transducer = mock.NewTransducer(testTareRaw, env.clock)

	settings := DefaultSettings()
	settings.PortalPort = 0

	loop, err := New(Hardware{
		Transducer: env.transducer,
		Radio:      env.radio,
		Display:    env.console,
		Button:     env.button,
		LED:        env.led,
		Buzzer:     env.buzzer,
		Store:      env.backend,
		Cloud:      env.docs,
	},
		WithSettings(settings),
		WithClock(env.clock),
		WithMetrics(env.metrics),
	)
	require.Nil(t, err)
	t.Cleanup(loop.Close)
	env.loop = loop

	return env
}

func (e *testEnv) configure(t *testing.T, rec store.ProvisioningRecord) {
	require.Nil(t, store.New(e.backend, "").Save(rec))
}

// placeCylinder puts a cylinder of the given weight on the (tared) platform
// and seeds the history bookkeeping with it
func (e *testEnv) placeCylinder(grams float64) {
	e.transducer.Set(testTareRaw + grams)
	e.loop.dev.Cadence.Seed(grams, e.clock.Now())
}

func (e *testEnv) iterate(n int, idle time.Duration) {
	for i := 0; i < n; i++ {
		e.loop.Iterate(context.Background())
		e.clock.Advance(idle)
	}
}

// submit posts the form to the running portal while iterating the loop until
// the handler responds
func (e *testEnv) submit(t *testing.T, form url.Values) (*http.Response, api.Response) {
	app := e.loop.Portal().App()
	respChan := make(chan *http.Response, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/save_config", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := app.Test(req, -1)
		if err != nil {
			resp = nil
		}
		respChan <- resp
	}()

	deadline := time.After(10 * time.Second)
	for {
		e.loop.Iterate(context.Background())
		select {
		case resp := <-respChan:
			require.NotNil(t, resp)
			var body api.Response
			require.Nil(t, json.NewDecoder(resp.Body).Decode(&body))
			return resp, body
		case <-deadline:
			t.Fatalf("timeout waiting for provisioning response")
		case <-time.After(time.Millisecond):
		}
	}
}

func validForm(rec store.ProvisioningRecord) url.Values {
	return url.Values{
		"ssid":     {rec.NetworkName},
		"pass":     {rec.NetworkPassword},
		"fb_email": {rec.AccountEmail},
		"fb_pass":  {rec.AccountSecret},
		"dev_name": {rec.FriendlyName},
	}
}

func TestIdentity(t *testing.T) {
	id, err := DeriveIdentity(testMAC)
	require.Nil(t, err)
	assert.Equal(t, testID, id)
	assert.Equal(t, testAPName, APName("LPG-Monitor-", id))
	assert.Equal(t, "X-AB", APName("X-", "AB"))

	_, err = DeriveIdentity(nil)
	assert.NotNil(t, err)
}

func TestForcedProvisioningWindow(t *testing.T) {
	clk := mock.NewClock(testStart)
	in := mock.NewInput(gpio.Low)
	assert.True(t, ForcedProvisioning(in, clk, 5*time.Second, 50*time.Millisecond, gpio.Low))
	assert.Equal(t, 5*time.Second, clk.Now().Sub(testStart))
	assert.Equal(t, 101, in.Reads())

	// Any contrary reading cancels immediately
	clk = mock.NewClock(testStart)
	in = mock.NewInput(gpio.Low, gpio.Low, gpio.High, gpio.Low)
	assert.False(t, ForcedProvisioning(in, clk, 5*time.Second, 50*time.Millisecond, gpio.Low))
	assert.Equal(t, 3, in.Reads())
	assert.Equal(t, 100*time.Millisecond, clk.Now().Sub(testStart))

	assert.False(t, ForcedProvisioning(nil, clk, 5*time.Second, 50*time.Millisecond, gpio.Low))
}

func TestNewSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "LPG-Monitor-", s.APPrefix)
	assert.Equal(t, gpio.Low, s.ButtonActiveLevel)
	assert.Equal(t, 40, s.ConnectAttempts)
	assert.Equal(t, cloud.DefaultPolicy(), s.Policy)

	cfg := config.Default()
	cfg.ButtonActiveLevel = "sideways"
	_, err := NewSettings(cfg)
	assert.NotNil(t, err)
}

func TestNewMissingHardware(t *testing.T) {
	_, err := New(Hardware{})
	assert.NotNil(t, err)
}

func TestBootNoHardwareAddr(t *testing.T) {
	env := newTestEnv(t)
	env.loop.hw.Radio = mock.NewRadio(nil)
	assert.NotNil(t, env.loop.Boot(context.Background()))
}

func TestBootUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	require.Nil(t, env.loop.Boot(context.Background()))

	assert.Equal(t, testID, env.loop.Device().ID)
	assert.False(t, env.loop.Device().Configured)
	assert.Equal(t, network.StateProvisioningActive, env.loop.Network().State())
	assert.True(t, env.loop.Network().Serving())
	assert.True(t, env.loop.Portal().Running())

	active, name := env.radio.APActive()
	assert.True(t, active)
	assert.Equal(t, testAPName, name)

	// Never attempts to join a network while unconfigured
	env.iterate(10, 100*time.Millisecond)
	assert.Empty(t, env.radio.Joins())
	assert.Equal(t, 1, env.radio.APStarts())
	assert.Equal(t, network.StateProvisioningActive, env.loop.Network().State())

	lines := env.console.Lines()
	assert.Equal(t, "Setup mode", lines[0])
	assert.Equal(t, testAPName, lines[1])
	assert.Equal(t, "127.0.0.1", lines[2])
	assert.Equal(t, gpio.Low, env.led.Level())
}

func TestBootWrongCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "other"})

	require.Nil(t, env.loop.Boot(context.Background()))

	// The connect loop ran into the attempt ceiling, then fell back to provisioning
	assert.Equal(t, []string{"Home"}, env.radio.Joins())
	assert.Equal(t, 40., testutil.ToFloat64(env.metrics.ConnectAttempts))
	assert.GreaterOrEqual(t, env.clock.Now().Sub(testStart), 40*time.Second)
	assert.Equal(t, network.StateProvisioningActive, env.loop.Network().State())
	assert.True(t, env.loop.Network().Serving())

	env.iterate(1, 0)
	assert.True(t, env.loop.Network().Serving())
	assert.True(t, env.loop.Portal().Running())
	assert.Len(t, env.radio.Joins(), 1)

	// The stored configuration is kept
	assert.True(t, env.loop.Device().Configured)
	assert.Len(t, env.backend.Snapshot(store.DefaultNamespace), 5)
}

func TestProvisioningFlow(t *testing.T) {
	env := newTestEnv(t)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1", Polls: 2})
	require.Nil(t, env.loop.Boot(context.Background()))

	resp, body := env.submit(t, validForm(testRecord))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, testID, body.DeviceID)

	// Exactly the five submitted values are persisted
	assert.Equal(t, map[string]string{
		"ssid":     "Home",
		"pass":     "secret1",
		"fb_email": "user@example.com",
		"fb_pass":  "hunter2",
		"dev_name": "Kitchen",
	}, env.backend.Snapshot(store.DefaultNamespace))

	// Access point and portal are down, the station link is up
	assert.Equal(t, network.StateConnected, env.loop.Network().State())
	active, _ := env.radio.APActive()
	assert.False(t, active)
	assert.False(t, env.loop.Portal().Running())
	assert.Equal(t, []string{"Home"}, env.radio.Joins())
	assert.Equal(t, 1., testutil.ToFloat64(env.metrics.Submissions.WithLabelValues(api.ResultSaved)))

	// The next iteration establishes the session and announces the device name
	env.iterate(1, 0)
	assert.True(t, env.loop.Network().SessionReady())
	assert.Equal(t, 1, env.docs.SignIns())
	require.Len(t, env.docs.Patches(), 1)
	assert.Equal(t, "Kitchen", env.docs.Patches()[0].DeviceName)
	assert.Equal(t, gpio.High, env.led.Level())

	env.clock.Advance(10 * time.Second)
	env.iterate(1, 0)
	require.Len(t, env.docs.Patches(), 2)
	assert.Empty(t, env.docs.Patches()[1].DeviceName)
	assert.Equal(t, "Kitchen", env.docs.Current(testID)["device_name"])
}

func TestProvisioningReconnectFailure(t *testing.T) {
	env := newTestEnv(t)
	require.Nil(t, env.loop.Boot(context.Background()))

	// The submitted network is not reachable
	resp, _ := env.submit(t, validForm(testRecord))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, network.StateProvisioningActive, env.loop.Network().State())
	assert.True(t, env.loop.Network().Serving())
	assert.Equal(t, 2, env.radio.APStarts())

	// The submitted credentials stay persisted
	rec, configured, err := store.New(env.backend, "").Load()
	require.Nil(t, err)
	assert.True(t, configured)
	assert.Equal(t, testRecord, rec)

	// Provisioning is serviced again on the next iteration
	env.iterate(1, 0)
	assert.True(t, env.loop.Portal().Running())
	assert.Len(t, env.radio.Joins(), 1)
}

func TestSubmissionIdempotence(t *testing.T) {
	env := newTestEnv(t)
	require.Nil(t, env.loop.Boot(context.Background()))

	for i := 0; i < 2; i++ {
		resp, _ := env.submit(t, validForm(testRecord))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, env.backend.Snapshot(store.DefaultNamespace), 5)

		rec, _, err := store.New(env.backend, "").Load()
		require.Nil(t, err)
		assert.Equal(t, testRecord, rec)
	}
}

func TestSessionLatch(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))
	require.Equal(t, network.StateConnected, env.loop.Network().State())

	// The session is only established once per connection
	env.iterate(3, time.Second)
	assert.Equal(t, 1, env.docs.SignIns())
	assert.Equal(t, gpio.High, env.led.Level())

	// Losing the link resets the latch, the loop reconnects immediately
	env.radio.DropLink()
	env.iterate(1, 0)
	assert.Equal(t, network.StateConnected, env.loop.Network().State())
	assert.False(t, env.loop.Network().SessionReady())
	assert.Equal(t, gpio.Low, env.led.Level())
	assert.Equal(t, []string{"Home", "Home"}, env.radio.Joins())

	env.iterate(1, 0)
	assert.Equal(t, 2, env.docs.SignIns())
	assert.True(t, env.loop.Network().SessionReady())
	assert.Equal(t, gpio.High, env.led.Level())
}

func TestSessionRetry(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	env.docs.FailSignIn(true)
	require.Nil(t, env.loop.Boot(context.Background()))

	env.iterate(2, 0)
	assert.Equal(t, 1, env.docs.SignIns())
	assert.False(t, env.loop.Network().SessionReady())

	env.clock.Advance(29 * time.Second)
	env.iterate(1, 0)
	assert.Equal(t, 1, env.docs.SignIns())

	env.clock.Advance(time.Second)
	env.iterate(1, 0)
	assert.Equal(t, 2, env.docs.SignIns())

	env.docs.FailSignIn(false)
	env.clock.Advance(30 * time.Second)
	env.iterate(1, 0)
	assert.Equal(t, 3, env.docs.SignIns())
	assert.True(t, env.loop.Network().SessionReady())
	assert.Len(t, env.docs.Patches(), 1)
}

func TestSessionDropped(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))
	env.placeCylinder(14500)

	env.iterate(1, 0)
	require.Equal(t, 1, env.docs.SignIns())
	require.Len(t, env.docs.Patches(), 1)

	// The remote side drops the session while the station link stays up
	require.Nil(t, env.docs.Close())
	env.clock.Advance(10 * time.Second)
	env.iterate(1, 0)
	assert.Len(t, env.docs.Patches(), 2)
	assert.Zero(t, env.docs.Appends())
	assert.Equal(t, 1, env.buzzer.Pulses())
	assert.False(t, env.loop.Network().SessionReady())
	assert.Equal(t, network.StateConnected, env.loop.Network().State())
	assert.Equal(t, gpio.Low, env.led.Level())

	// The next iteration signs in again without waiting for the retry interval
	env.iterate(1, 0)
	assert.Equal(t, 2, env.docs.SignIns())
	assert.True(t, env.loop.Network().SessionReady())
	assert.Equal(t, gpio.High, env.led.Level())
	assert.Equal(t, []string{"Home"}, env.radio.Joins())

	env.clock.Advance(10 * time.Second)
	env.iterate(1, 0)
	patches := env.docs.Patches()
	require.Len(t, patches, 3)
	assert.Equal(t, "Kitchen", patches[2].DeviceName)
	assert.Equal(t, 1, env.buzzer.Pulses())
}

// seedFailure fails the first read following the tare
type seedFailure struct {
	*mock.Transducer
	tareSamples int
	reads       int
}

func (s *seedFailure) ReadRaw() (float64, error) {
	s.reads++
	if s.reads == s.tareSamples+1 {
		return 0, mock.ErrInjected
	}
	return s.Transducer.ReadRaw()
}

func TestSeedReadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})

	sensor, err := scale.New(&seedFailure{Transducer: env.transducer, tareSamples: 10}, scale.WithTareSamples(10))
	require.Nil(t, err)
	env.loop.sensor = sensor

	require.Nil(t, env.loop.Boot(context.Background()))
	require.True(t, env.loop.Device().SensorOK)
	assert.True(t, env.loop.Device().Cadence.LastHistorySend.IsZero())

	// The first successful history reading becomes the baseline
	env.transducer.Set(testTareRaw + 14500)
	env.iterate(1, 0)
	assert.Zero(t, env.docs.Appends())
	assert.Equal(t, 14500., env.loop.Device().Cadence.LastHistoryWeight)
	assert.Len(t, env.docs.Patches(), 1)

	env.transducer.Set(testTareRaw + 14200)
	env.iterate(1, 0)
	assert.Len(t, env.docs.History(testID), 1)
}

func TestSensorNotReady(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	env.transducer.SetReady(false)
	require.Nil(t, env.loop.Boot(context.Background()))

	assert.False(t, env.loop.Device().SensorOK)
	assert.Equal(t, "Sensor error", env.console.Lines()[0])

	// Connectivity and session work, weight operations are skipped
	env.iterate(5, 20*time.Second)
	assert.Equal(t, network.StateConnected, env.loop.Network().State())
	assert.True(t, env.loop.Network().SessionReady())
	assert.Empty(t, env.docs.Patches())
	assert.Zero(t, env.docs.Appends())
	assert.Zero(t, env.transducer.Reads())
}

func TestForcedProvisioning(t *testing.T) {
	env := newTestEnv(t, gpio.Low)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))

	assert.Empty(t, env.backend.Snapshot(store.DefaultNamespace))
	assert.False(t, env.loop.Device().Configured)
	assert.Empty(t, env.radio.Joins())
	assert.Equal(t, network.StateProvisioningActive, env.loop.Network().State())
	assert.True(t, env.loop.Network().Serving())
	assert.Equal(t, 101, env.button.Reads())
}

func TestForcedProvisioningReleased(t *testing.T) {
	env := newTestEnv(t, gpio.Low, gpio.Low, gpio.High)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))

	assert.Len(t, env.backend.Snapshot(store.DefaultNamespace), 5)
	assert.Equal(t, network.StateConnected, env.loop.Network().State())
	assert.Equal(t, 3, env.button.Reads())
}

func TestCadences(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))
	env.placeCylinder(14500)

	// Consumption first, then a flat phase long enough to hit the time ceiling
	env.transducer.SetDrift(2)
	env.iterate(100, 100*time.Millisecond)
	env.transducer.SetDrift(0)
	env.iterate(800, 100*time.Millisecond)

	policy := cloud.DefaultPolicy()

	patches := env.docs.Patches()
	require.Greater(t, len(patches), 10)
	for i := 1; i < len(patches); i++ {
		t0, err := time.Parse(time.RFC3339, patches[i-1].Timestamp)
		require.Nil(t, err)
		t1, err := time.Parse(time.RFC3339, patches[i].Timestamp)
		require.Nil(t, err)
		assert.GreaterOrEqual(t, t1.Sub(t0), policy.FastInterval)
	}

	history := env.docs.History(testID)
	require.Greater(t, len(history), 2)
	var ceilingTriggered bool
	for i := 1; i < len(history); i++ {
		t0, err := time.Parse(time.RFC3339, history[i-1].Timestamp)
		require.Nil(t, err)
		t1, err := time.Parse(time.RFC3339, history[i].Timestamp)
		require.Nil(t, err)

		delta := math.Abs(history[i].WeightGrams - history[i-1].WeightGrams)
		assert.True(t, delta >= policy.HistoryThreshold || t1.Sub(t0) >= policy.HistoryCeiling,
			"history entries %d and %d violate both bounds: %.1fg / %v", i-1, i, delta, t1.Sub(t0))
		if delta == 0 {
			ceilingTriggered = true
		}
	}
	assert.True(t, ceilingTriggered)

	assert.Equal(t, 900., testutil.ToFloat64(env.metrics.Iterations))
	assert.Equal(t, float64(len(patches)), testutil.ToFloat64(env.metrics.CloudWrites.WithLabelValues(cloud.CadenceFast, "sent")))
	assert.Equal(t, float64(len(history)), testutil.ToFloat64(env.metrics.CloudWrites.WithLabelValues(cloud.CadenceHistory, "sent")))
	assert.Equal(t, float64(network.StateConnected), testutil.ToFloat64(env.metrics.ConnectivityState))
	assert.Zero(t, env.buzzer.Pulses())
}

func TestCloudWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))
	env.placeCylinder(14500)

	env.docs.FailPatch(true)
	env.iterate(1, 0)
	assert.Len(t, env.docs.Patches(), 1)
	assert.Equal(t, 1, env.buzzer.Pulses())

	// No immediate retry, the next attempt follows the fast interval
	env.iterate(1, 0)
	assert.Len(t, env.docs.Patches(), 1)
	env.docs.FailPatch(false)
	env.clock.Advance(10 * time.Second)
	env.iterate(1, 0)
	assert.Len(t, env.docs.Patches(), 2)
	assert.Equal(t, 14500., env.docs.Current(testID)["current_weight_grams"])
}

func TestWeightScreen(t *testing.T) {
	env := newTestEnv(t)
	env.configure(t, testRecord)
	env.radio.AddNetwork("Home", mock.Network{Password: "secret1"})
	require.Nil(t, env.loop.Boot(context.Background()))
	env.placeCylinder(14500)

	env.iterate(1, 0)
	assert.Equal(t, []string{"Kitchen", "14500 g", "14.50 kg", ""}, env.console.Lines())
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- env.loop.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("main loop did not stop")
	}
	assert.False(t, env.loop.Portal().Running())
	assert.Greater(t, testutil.ToFloat64(env.metrics.Iterations), 0.)
}
