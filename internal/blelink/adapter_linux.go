//go:build linux

package blelink

import "tinygo.org/x/bluetooth"

func newAdapter(id string) *bluetooth.Adapter {
	if id == "" {
		return bluetooth.DefaultAdapter
	}
	return bluetooth.NewAdapter(id)
}
