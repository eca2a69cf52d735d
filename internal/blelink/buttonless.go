package blelink

import (
	"context"
	"fmt"

	"tinygo.org/x/bluetooth"

	"github.com/roach88/bledfu/internal/device"
)

// Buttonless DFU protocol bytes.
const (
	opEnterBootloader byte = 0x01
	opResponse        byte = 0x20
)

var buttonlessStatus = map[byte]string{
	0x01: "success",
	0x02: "op code not supported",
	0x04: "operation failed",
	0x05: "invalid advertisement name",
	0x06: "busy",
	0x07: "not bonded",
}

// SwitchMode implements device.ModeSwitcher. It connects to the
// application, enables indications on the buttonless DFU characteristic
// and writes the enter-bootloader opcode.
func (l *Link) SwitchMode(ctx context.Context, id device.Identity) device.ModeSwitchResult {
	if err := l.acquire(ctx); err != nil {
		return device.ModeSwitchResult{Ack: device.TimedOut, Detail: fmt.Sprintf("radio busy: %v", err)}
	}

	r, err := l.find(ctx, id.Address)
	if err != nil {
		l.release()
		return device.ModeSwitchResult{Ack: device.TimedOut, Detail: fmt.Sprintf("%s not found: %v", id.Address, err)}
	}

	res, err := gatt(ctx, l, func(c *conn) (device.ModeSwitchResult, error) {
		return enterBootloader(ctx, c, r.Address), nil
	})
	if err != nil {
		return device.ModeSwitchResult{Ack: device.TimedOut, Detail: fmt.Sprintf("no response to enter-bootloader: %v", err)}
	}
	return res
}

func enterBootloader(ctx context.Context, c *conn, addr bluetooth.Address) device.ModeSwitchResult {
	dev, err := c.connect(ctx, addr)
	if err != nil {
		return rejected("connect: %v", err)
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{dfuService})
	if err != nil {
		return rejected("dfu service: %v", err)
	}
	if len(services) == 0 {
		return rejected("no dfu service")
	}
	chars, err := services[0].DiscoverCharacteristics(nil)
	if err != nil {
		return rejected("discover characteristics: %v", err)
	}
	var control *bluetooth.DeviceCharacteristic
	for i := range chars {
		if u := chars[i].UUID(); u == buttonlessUnbonded || u == buttonlessBonded {
			control = &chars[i]
			break
		}
	}
	if control == nil {
		return rejected("no buttonless dfu characteristic")
	}

	responses := make(chan []byte, 1)
	err = control.EnableNotifications(func(buf []byte) {
		select {
		case responses <- append([]byte(nil), buf...):
		default:
		}
	})
	if err != nil {
		return rejected("enable indications: %v", err)
	}
	if _, err := control.Write([]byte{opEnterBootloader}); err != nil {
		return rejected("write opcode: %v", err)
	}

	select {
	case buf := <-responses:
		return interpretResponse(buf)
	case <-ctx.Done():
		return device.ModeSwitchResult{Ack: device.TimedOut, Detail: "no response to enter-bootloader"}
	}
}

// interpretResponse decodes a buttonless DFU indication.
func interpretResponse(buf []byte) device.ModeSwitchResult {
	if len(buf) < 3 || buf[0] != opResponse || buf[1] != opEnterBootloader {
		return rejected("unexpected response % X", buf)
	}
	status, ok := buttonlessStatus[buf[2]]
	if !ok {
		status = "unknown"
	}
	if buf[2] == 0x01 {
		return device.ModeSwitchResult{Ack: device.Acknowledged, Detail: "entering bootloader"}
	}
	return rejected("response code 0x%02X (%s)", buf[2], status)
}

func rejected(format string, args ...any) device.ModeSwitchResult {
	return device.ModeSwitchResult{Ack: device.Rejected, Detail: fmt.Sprintf(format, args...)}
}
