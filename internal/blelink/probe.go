package blelink

import (
	"context"
	"errors"
	"strings"

	"tinygo.org/x/bluetooth"

	"github.com/roach88/bledfu/internal/device"
)

// Probe implements device.Prober. An identity is reachable when its
// advertisement is seen before ctx expires.
func (l *Link) Probe(ctx context.Context, id device.Identity) device.ProbeResult {
	if err := l.acquire(ctx); err != nil {
		return probeFailure(err)
	}

	r, err := l.find(ctx, id.Address)
	if err != nil {
		l.release()
		return probeFailure(err)
	}

	meta := device.Metadata{
		Name:  r.LocalName(),
		RSSI:  int(r.RSSI),
		Mode:  string(id.Role),
		Extra: map[string]string{},
	}
	if match := classify(r.AdvertisementPayload); match != "" {
		meta.Extra["dfu"] = match
	}

	if !l.ReadFirmware || id.Role != device.RoleApplication {
		l.release()
		return device.Reachable(meta)
	}

	fw, err := gatt(ctx, l, func(c *conn) (string, error) {
		return readFirmware(ctx, c, r.Address)
	})
	if err != nil {
		l.logger.Debug("firmware revision unavailable", "address", id.Address, "error", err)
	} else {
		meta.FirmwareVersion = fw
	}
	return device.Reachable(meta)
}

func probeFailure(err error) device.ProbeResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.Unreachable()
	}
	return device.ProbeError(err)
}

var errNoFirmwareRevision = errors.New("no firmware revision characteristic")

// readFirmware reads the Device Information firmware revision string.
func readFirmware(ctx context.Context, c *conn, addr bluetooth.Address) (string, error) {
	dev, err := c.connect(ctx, addr)
	if err != nil {
		return "", err
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{bluetooth.ServiceUUIDDeviceInformation})
	if err != nil {
		return "", err
	}
	if len(services) == 0 {
		return "", errNoFirmwareRevision
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bluetooth.CharacteristicUUIDFirmwareRevisionString})
	if err != nil {
		return "", err
	}
	if len(chars) == 0 {
		return "", errNoFirmwareRevision
	}

	buf := make([]byte, 64)
	n, err := chars[0].Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf[:n]), "\x00 "), nil
}

var (
	_ device.Prober       = (*Link)(nil)
	_ device.ModeSwitcher = (*Link)(nil)
)
