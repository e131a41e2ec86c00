package network

// State denotes a connectivity state
type State int

const (

	// StateUnconfigured is active before the initial transition
	StateUnconfigured State = iota

	// StateProvisioningActive is active while the access point and the
	// provisioning portal are served
	StateProvisioningActive

	// StateConnecting is active while joining a network (initially or after
	// provisioning)
	StateConnecting

	// StateConnected is active while the station link is up
	StateConnected

	// StateReconnecting is active after the station link was lost
	StateReconnecting
)

// String returns the name of the state
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateProvisioningActive:
		return "provisioning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}
