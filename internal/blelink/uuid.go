package blelink

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

var (
	// dfuService is the Nordic Semiconductor ASA service advertised by
	// DFU-capable applications and bootloaders.
	dfuService = bluetooth.New16BitUUID(0xFE59)

	buttonlessUnbonded = dfuUUID(0x0003)
	buttonlessBonded   = dfuUUID(0x0004)
)

func dfuUUID(n uint16) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(fmt.Sprintf("8ec9%04x-f315-4f60-9fb8-838830daea50", n))
	if err != nil {
		panic(err)
	}
	return uuid
}

// Advertisement match labels.
const (
	MatchNordic   = "nordic semi asa"
	MatchBonded   = "dfu bonded"
	MatchUnbonded = "dfu unbonded"
)

type advertisement interface {
	HasServiceUUID(bluetooth.UUID) bool
}

// classify reports why an advertisement looks DFU-capable, or "".
func classify(adv advertisement) string {
	switch {
	case adv.HasServiceUUID(dfuService):
		return MatchNordic
	case adv.HasServiceUUID(buttonlessBonded):
		return MatchBonded
	case adv.HasServiceUUID(buttonlessUnbonded):
		return MatchUnbonded
	default:
		return ""
	}
}
