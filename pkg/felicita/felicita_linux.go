package felicita

import "github.com/fako1024/gatt"

// clientOptions returns the HCI options for a single connection to the scale,
// with the adapter in user channel mode
func clientOptions(hciDevice int) []gatt.Option {
	return []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(hciDevice, true),
	}
}
