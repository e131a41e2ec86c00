package mock

import (
	"fmt"
	"net"
	"sync"
)

const defaultAPAddr = "192.168.4.1"

// Network denotes a network reachable by the mock radio
type Network struct {
	Password string

	// Polls is the number of link polls after joining until the link is up
	Polls int
}

// Radio denotes a mock wireless interface
type Radio struct {
	mac      net.HardwareAddr
	networks map[string]Network
	apAddr   string

	joined    string
	joinPolls int
	linkUp    bool
	apName    string
	apActive  bool

	joins    []string
	apStarts int

	mu sync.Mutex
}

// NewRadio instantiates a new mock radio with the given hardware address
func NewRadio(mac net.HardwareAddr) *Radio {
	return &Radio{
		mac:      mac,
		networks: make(map[string]Network),
		apAddr:   defaultAPAddr,
	}
}

// AddNetwork makes a network reachable for the radio
func (r *Radio) AddNetwork(ssid string, n Network) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.networks[ssid] = n
}

// SetAPAddr sets the address reported when starting the access point
func (r *Radio) SetAPAddr(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apAddr = addr
}

// HardwareAddr returns the configured hardware address
func (r *Radio) HardwareAddr() (net.HardwareAddr, error) {
	if len(r.mac) == 0 {
		return nil, fmt.Errorf("no hardware address: %w", ErrInjected)
	}
	return r.mac, nil
}

// JoinStation starts associating with a network
func (r *Radio) JoinStation(ssid, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.apActive {
		return fmt.Errorf("cannot join `%s` while access point is active", ssid)
	}

	r.joins = append(r.joins, ssid)
	r.joined, r.linkUp, r.joinPolls = "", false, 0
	if n, ok := r.networks[ssid]; ok && n.Password == password {
		r.joined = ssid
	}

	return nil
}

// LinkUp returns if the station link is up, counting polls until it comes up
func (r *Radio) LinkUp() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.linkUp || r.joined == "" {
		return r.linkUp
	}

	r.joinPolls++
	if r.joinPolls > r.networks[r.joined].Polls {
		r.linkUp = true
	}

	return r.linkUp
}

// LeaveStation tears down the station link
func (r *Radio) LeaveStation() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.joined, r.linkUp = "", false

	return nil
}

// DropLink simulates a loss of the station link (the network stays joined
// and the link comes back on the next join)
func (r *Radio) DropLink() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.linkUp = false
	r.joined = ""
}

// StartAccessPoint brings up the mock access point
func (r *Radio) StartAccessPoint(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.linkUp {
		return "", fmt.Errorf("cannot start access point `%s` while station link is up", name)
	}

	r.apName, r.apActive = name, true
	r.apStarts++

	return r.apAddr, nil
}

// StopAccessPoint tears down the mock access point
func (r *Radio) StopAccessPoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apActive = false

	return nil
}

// APActive returns if the access point is active and its name
func (r *Radio) APActive() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.apActive, r.apName
}

// APStarts returns the number of times the access point was started
func (r *Radio) APStarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.apStarts
}

// Joins returns the networks join attempts were made for
func (r *Radio) Joins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.joins...)
}
