package firmware

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/fako1024/lpgmon/pkg/clock"
	"github.com/fako1024/lpgmon/pkg/gpio"
)

const apSuffixLength = 4

// DeriveIdentity returns the device identity for a hardware address: its
// upper-case hex representation without separators
func DeriveIdentity(mac []byte) (string, error) {
	if len(mac) == 0 {
		return "", errors.New("empty hardware address")
	}

	return strings.ToUpper(hex.EncodeToString(mac)), nil
}

// APName returns the provisioning access point name for a device identity
func APName(prefix, id string) string {
	if len(id) > apSuffixLength {
		id = id[len(id)-apSuffixLength:]
	}
	return prefix + id
}

// ForcedProvisioning samples the input every poll interval for the duration of
// window. It returns true only if the input reads the active level for the
// whole window; any other reading (or a read error) ends the window early
func ForcedProvisioning(in gpio.Input, clk clock.Clock, window, poll time.Duration, active gpio.Level) bool {
	if in == nil || window <= 0 {
		return false
	}

	start := clk.Now()
	for {
		level, err := in.Read()
		if err != nil || level != active {
			return false
		}
		if clk.Now().Sub(start) >= window {
			return true
		}
		clk.Sleep(poll)
	}
}
