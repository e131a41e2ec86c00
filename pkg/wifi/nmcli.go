package wifi

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/fako1024/lpgmon/pkg/logging"
)

const (
	defaultAPConnection = "lpgmon-ap"
	stationConnection   = "lpgmon-sta"
	defaultAPAddr       = "192.168.4.1"
	defaultCmdTimeout   = 10 * time.Second

	nmcli           = "nmcli"
	stateConnected  = "100"
	generalStateKey = "GENERAL.STATE"
	pskKey          = "802-11-wireless-security.psk"

	// Secret is requested on every activation and never written to the profile
	pskFlagNotSaved = "2"
)

// Runner executes a command, feeding stdin (if any), and returns its combined
// output
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// NMCLI denotes a wireless interface managed via NetworkManager
type NMCLI struct {
	iface        string
	apConnection string
	apAddr       string
	cmdTimeout   time.Duration
	run          Runner
	hwAddr       func(iface string) (net.HardwareAddr, error)

	logger logging.Logger
}

// New instantiates a new NetworkManager backed radio for the given interface,
// executing functional options, if any
func New(iface string, options ...func(*NMCLI)) *NMCLI {
	n := &NMCLI{
		iface:        iface,
		apConnection: defaultAPConnection,
		apAddr:       defaultAPAddr,
		cmdTimeout:   defaultCmdTimeout,
		run:          execRunner,
		hwAddr:       interfaceAddr,
		logger:       &logging.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(n)
	}

	return n
}

// HardwareAddr returns the MAC address of the interface
func (n *NMCLI) HardwareAddr() (net.HardwareAddr, error) {
	return n.hwAddr(n.iface)
}

// JoinStation starts associating with the given network without waiting for
// the link to come up. The password is handed to nmcli on stdin so it never
// appears on a command line
func (n *NMCLI) JoinStation(ssid, password string) error {

	// Remove any stale profile first, failure here is expected if there is none
	_, _ = n.exec("connection", "delete", stationConnection)

	args := []string{"connection", "add",
		"type", "wifi",
		"ifname", n.iface,
		"con-name", stationConnection,
		"autoconnect", "no",
		"ssid", ssid,
	}
	if password != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk-flags", pskFlagNotSaved)
	}
	if _, err := n.exec(args...); err != nil {
		return err
	}

	if password == "" {
		_, err := n.exec("--wait", "0", "connection", "up", stationConnection)
		return err
	}
	_, err := n.execInput([]byte(pskKey+":"+password+"\n"),
		"--wait", "0", "connection", "up", stationConnection, "passwd-file", "/dev/stdin")
	return err
}

// LinkUp returns if the interface reports a fully established connection
func (n *NMCLI) LinkUp() bool {
	out, err := n.exec("-t", "-f", generalStateKey, "device", "show", n.iface)
	if err != nil {
		n.logger.Debugf("failed to query link state of %s: %s", n.iface, err)
		return false
	}

	return parseState(out) == stateConnected
}

// LeaveStation disconnects the interface
func (n *NMCLI) LeaveStation() error {
	_, err := n.exec("device", "disconnect", n.iface)
	return err
}

// StartAccessPoint brings up an open access point with shared IPv4 on the
// interface and returns its address
func (n *NMCLI) StartAccessPoint(name string) (string, error) {

	// Remove any stale profile first, failure here is expected if there is none
	_, _ = n.exec("connection", "delete", n.apConnection)

	if _, err := n.exec("connection", "add",
		"type", "wifi",
		"ifname", n.iface,
		"con-name", n.apConnection,
		"autoconnect", "no",
		"ssid", name,
		"802-11-wireless.mode", "ap",
		"ipv4.method", "shared",
		"ipv4.addresses", n.apAddr+"/24",
	); err != nil {
		return "", err
	}
	if _, err := n.exec("connection", "up", n.apConnection); err != nil {
		return "", err
	}

	return n.apAddr, nil
}

// StopAccessPoint tears down the access point profile
func (n *NMCLI) StopAccessPoint() error {
	if _, err := n.exec("connection", "down", n.apConnection); err != nil {
		n.logger.Debugf("failed to bring down access point: %s", err)
	}
	_, err := n.exec("connection", "delete", n.apConnection)
	return err
}

////////////////////////////////////////////////////////////////////////////////

func (n *NMCLI) exec(args ...string) ([]byte, error) {
	return n.execInput(nil, args...)
}

func (n *NMCLI) execInput(stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cmdTimeout)
	defer cancel()

	out, err := n.run(ctx, stdin, nmcli, args...)
	if err != nil {
		return out, fmt.Errorf("%s %s failed: %w (%s)", nmcli, args[0], err, strings.TrimSpace(string(out)))
	}

	return out, nil
}

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	return cmd.CombinedOutput()
}

func interfaceAddr(iface string) (net.HardwareAddr, error) {
	i, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface `%s`: %w", iface, err)
	}
	if len(i.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface `%s` has no hardware address", iface)
	}

	return i.HardwareAddr, nil
}

// parseState extracts the numeric device state from terse nmcli output, e.g.
// "GENERAL.STATE:100 (connected)"
func parseState(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok || key != generalStateKey {
			continue
		}
		if fields := strings.Fields(value); len(fields) > 0 {
			return fields[0]
		}
	}

	return ""
}
