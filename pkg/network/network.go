package network

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/logging"
	"github.com/fatih/stopwatch"
)

const (
	defaultMaxAttempts  = 40
	defaultAttemptDelay = time.Second
	defaultPortalPort   = 80
)

var (

	// ErrConnectExhausted denotes that the link did not come up within the
	// attempt ceiling
	ErrConnectExhausted = errors.New("connection attempts exhausted")

	// ErrNotConnected denotes an operation requiring a connected station link
	ErrNotConnected = errors.New("station link not connected")
)

// Radio denotes the wireless interface of the device. Station and access
// point mode are mutually exclusive
type Radio interface {

	// HardwareAddr returns the hardware (MAC) address of the interface
	HardwareAddr() (net.HardwareAddr, error)

	// JoinStation starts associating with the given network (non-blocking)
	JoinStation(ssid, password string) error

	// LinkUp returns if the station link is currently established
	LinkUp() bool

	// LeaveStation tears down the station link
	LeaveStation() error

	// StartAccessPoint brings up an open access point and returns its address
	StartAccessPoint(name string) (string, error)

	// StopAccessPoint tears down the access point
	StopAccessPoint() error
}

// Portal denotes the provisioning server served while in access point mode
type Portal interface {
	Start(addr string) error
	Stop() error
}

// Manager denotes the connectivity manager, owning the station / access point
// transitions of the radio and the cloud session latch
type Manager struct {
	radio  Radio
	portal Portal
	apName string

	state        State
	sessionReady bool
	apAddr       string
	apActive     bool
	portalActive bool

	maxAttempts  int
	attemptDelay time.Duration
	portalPort   int

	clock     clock.Clock
	onChange  func(from, to State)
	onAttempt func()
	logger    logging.Logger
}

// New instantiates a new connectivity manager, executing functional options,
// if any
func New(radio Radio, portal Portal, apName string, options ...func(*Manager)) *Manager {
	m := &Manager{
		radio:        radio,
		portal:       portal,
		apName:       apName,
		state:        StateUnconfigured,
		maxAttempts:  defaultMaxAttempts,
		attemptDelay: defaultAttemptDelay,
		portalPort:   defaultPortalPort,
		clock:        clock.Real{},
		logger:       &logging.NullLogger{},
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// State returns the current connectivity state
func (m *Manager) State() State {
	return m.state
}

// SessionReady returns if an authenticated cloud session is established
func (m *Manager) SessionReady() bool {
	return m.sessionReady
}

// SetSessionReady latches the cloud session as established, which is only
// possible while connected
func (m *Manager) SetSessionReady() error {
	if m.state != StateConnected {
		return fmt.Errorf("cannot latch cloud session in state %s: %w", m.state, ErrNotConnected)
	}
	m.sessionReady = true

	return nil
}

// ResetSession clears the cloud session latch (e.g. after the remote side
// dropped the session) without touching the station link
func (m *Manager) ResetSession() {
	m.sessionReady = false
}

// APName returns the name of the provisioning access point
func (m *Manager) APName() string {
	return m.apName
}

// Serving returns if the access point and the provisioning portal are up
func (m *Manager) Serving() bool {
	return m.apActive && m.portalActive
}

// APAddr returns the address of the provisioning access point (if active)
func (m *Manager) APAddr() string {
	if !m.apActive {
		return ""
	}
	return m.apAddr
}

// Boot performs the initial transition: connect if credentials are known,
// provision otherwise
func (m *Manager) Boot(ssid, password string, configured bool) error {
	if !configured {
		m.logger.Info("no stored network credentials, starting provisioning")
		return m.EnterProvisioning()
	}

	return m.Connect(ssid, password)
}

// Connect tears down the access point (if active) and attempts to join the
// given network. On exhaustion the manager falls back to provisioning and
// ErrConnectExhausted is returned
func (m *Manager) Connect(ssid, password string) error {
	return m.connect(StateConnecting, ssid, password)
}

// Reconnect re-attempts to join the given network after the link was lost
func (m *Manager) Reconnect(ssid, password string) error {
	return m.connect(StateReconnecting, ssid, password)
}

// Check polls the station link. A connected link that went down moves the
// manager to Reconnecting. Returns true iff the station link is up
func (m *Manager) Check() bool {
	if m.state != StateConnected {
		return false
	}
	if m.radio.LinkUp() {
		return true
	}

	m.logger.Warn("station link lost")
	m.transition(StateReconnecting)

	return false
}

// EnterProvisioning tears down the station link and brings up the access
// point and the provisioning portal
func (m *Manager) EnterProvisioning() error {
	m.transition(StateProvisioningActive)

	if err := m.radio.LeaveStation(); err != nil {
		m.logger.Warnf("failed to leave station mode: %s", err)
	}

	return m.startAccessPoint()
}

// EnsureProvisioning (re-)starts the access point and portal if they are not
// running while provisioning is active
func (m *Manager) EnsureProvisioning() error {
	if m.state != StateProvisioningActive {
		return m.EnterProvisioning()
	}
	if m.apActive && m.portalActive {
		return nil
	}

	return m.startAccessPoint()
}

// Shutdown tears down access point and portal. The station link is left to
// the operating system
func (m *Manager) Shutdown() {
	m.stopAccessPoint()
	m.sessionReady = false
}

////////////////////////////////////////////////////////////////////////////////

// transition is the single place the state changes; leaving Connected always
// resets the cloud session latch
func (m *Manager) transition(to State) {
	from := m.state
	if from == StateConnected && to != StateConnected {
		m.sessionReady = false
	}
	m.state = to

	if from != to {
		m.logger.Infof("connectivity state change: %s -> %s", from, to)
		if m.onChange != nil {
			m.onChange(from, to)
		}
	}
}

func (m *Manager) connect(via State, ssid, password string) error {
	m.stopAccessPoint()
	m.transition(via)

	sw := stopwatch.Start(0)
	m.logger.Infof("connecting to network `%s` (up to %d attempts)", ssid, m.maxAttempts)
	if err := m.radio.JoinStation(ssid, password); err != nil {
		m.logger.Errorf("failed to join network `%s`: %s", ssid, err)
	} else {
		for i := 0; i < m.maxAttempts; i++ {
			if m.onAttempt != nil {
				m.onAttempt()
			}
			if m.radio.LinkUp() {
				m.transition(StateConnected)
				m.logger.Infof("connected to network `%s` after %d attempt(s) (%v)", ssid, i+1, sw.ElapsedTime())
				return nil
			}
			m.clock.Sleep(m.attemptDelay)
		}
	}

	m.logger.Warnf("failed to connect to network `%s` after %d attempts (%v), falling back to provisioning", ssid, m.maxAttempts, sw.ElapsedTime())
	if err := m.EnterProvisioning(); err != nil {
		return fmt.Errorf("%w (fallback to provisioning failed: %s)", ErrConnectExhausted, err)
	}

	return ErrConnectExhausted
}

func (m *Manager) startAccessPoint() error {
	if !m.apActive {
		addr, err := m.radio.StartAccessPoint(m.apName)
		if err != nil {
			return fmt.Errorf("failed to start access point `%s`: %w", m.apName, err)
		}
		m.apAddr, m.apActive = addr, true
	}

	if !m.portalActive {
		if err := m.portal.Start(net.JoinHostPort(m.apAddr, strconv.Itoa(m.portalPort))); err != nil {
			return fmt.Errorf("failed to start provisioning portal: %w", err)
		}
		m.portalActive = true
	}
	m.logger.Infof("provisioning access point `%s` active at %s", m.apName, m.apAddr)

	return nil
}

func (m *Manager) stopAccessPoint() {

	// Server first, then the network it is bound to
	if m.portalActive {
		if err := m.portal.Stop(); err != nil {
			m.logger.Warnf("failed to stop provisioning portal: %s", err)
		}
		m.portalActive = false
	}
	if m.apActive {
		if err := m.radio.StopAccessPoint(); err != nil {
			m.logger.Warnf("failed to stop access point: %s", err)
		}
		m.apActive = false
	}
}
