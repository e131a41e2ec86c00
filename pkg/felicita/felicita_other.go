//go:build !linux

package felicita

import "github.com/fako1024/gatt"

func clientOptions(_ int) []gatt.Option {
	return nil
}
