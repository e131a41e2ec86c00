package firmware

import (
	"fmt"

	"github.com/fako1024/lpgmon/pkg/display"
	"github.com/fako1024/lpgmon/pkg/scale"
)

const defaultDeviceName = "LPG Monitor"

func (l *Loop) show(lines ...string) {
	if l.hw.Display == nil {
		return
	}
	if err := display.Show(l.hw.Display, lines...); err != nil {
		l.logger.Warnf("failed to update display: %s", err)
	}
}

func (l *Loop) showBoot() {
	l.show(defaultDeviceName, "Starting...")
}

func (l *Loop) showSensorError() {
	l.show("Sensor error", "Check load cell")
}

func (l *Loop) showReset() {
	l.show("Config reset", "Entering setup")
}

func (l *Loop) showProvisioning() {
	l.show("Setup mode", l.net.APName(), l.net.APAddr())
}

func (l *Loop) showConnecting() {
	l.show("Connecting to", l.dev.Record.NetworkName)
}

func (l *Loop) showConnected() {
	l.show(l.deviceName(), "Connected", "Syncing...")
}

func (l *Loop) showWeight(dp scale.DataPoint) {
	l.show(l.deviceName(), fmt.Sprintf("%.0f g", dp.Weight), fmt.Sprintf("%.2f kg", dp.Kilograms()))
}

func (l *Loop) deviceName() string {
	if l.dev.Record.FriendlyName != "" {
		return l.dev.Record.FriendlyName
	}
	return defaultDeviceName
}
