//go:build !linux

package blelink

import "tinygo.org/x/bluetooth"

// Adapters other than the default can only be selected on Linux.
func newAdapter(string) *bluetooth.Adapter {
	return bluetooth.DefaultAdapter
}
