package wifi

import (
	"net"
	"time"

	"github.com/fako1024/lpgmon/pkg/logging"
)

// WithRunner sets the command runner (e.g. for testing)
func WithRunner(run Runner) func(*NMCLI) {
	return func(n *NMCLI) {
		n.run = run
	}
}

// WithHardwareAddr overrides the hardware address lookup
func WithHardwareAddr(fn func(iface string) (net.HardwareAddr, error)) func(*NMCLI) {
	return func(n *NMCLI) {
		n.hwAddr = fn
	}
}

// WithAccessPoint sets the connection profile name and the address used for
// the access point
func WithAccessPoint(connection, addr string) func(*NMCLI) {
	return func(n *NMCLI) {
		if connection != "" {
			n.apConnection = connection
		}
		if addr != "" {
			n.apAddr = addr
		}
	}
}

// WithCommandTimeout sets the timeout for a single nmcli invocation
func WithCommandTimeout(timeout time.Duration) func(*NMCLI) {
	return func(n *NMCLI) {
		if timeout > 0 {
			n.cmdTimeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) func(*NMCLI) {
	return func(n *NMCLI) {
		n.logger = logger
	}
}
