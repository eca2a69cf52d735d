package tool

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bledfu/internal/device"
)

func sh(script string) []string {
	return []string{"sh", "-c", script, "bledfu-tool", "{address}", "{role}", "{package}"}
}

func TestExpand(t *testing.T) {
	args := Expand([]string{"dfu", "--addr={address}", "{role}", "{package}"}, device.Bootloader("c8:00"), "/tmp/app.zip")
	assert.Equal(t, []string{"dfu", "--addr=C8:00", "bootloader", "/tmp/app.zip"}, args)
}

func TestProber(t *testing.T) {
	tests := []struct {
		name   string
		script string
		kind   device.ProbeKind
	}{
		{"reachable with metadata", `echo '{"name":"thermo","firmware_version":"1.4.2","rssi":-61}'`, device.KindReachable},
		{"reachable without output", `exit 0`, device.KindReachable},
		{"unreachable exit code", `exit 2`, device.KindUnreachable},
		{"other exit code", `echo "adapter busy" >&2; exit 1`, device.KindError},
		{"bad json", `echo not-json`, device.KindError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Prober{Args: sh(tt.script), UnreachableExitCodes: []int{2}}
			res := p.Probe(context.Background(), device.Application("A1"))
			assert.Equal(t, tt.kind, res.Kind(), "result: %s", res)
		})
	}
}

func TestProber_Metadata(t *testing.T) {
	p := &Prober{Args: sh(`echo "{\"name\":\"$1\",\"mode\":\"$2\",\"firmware_version\":\"1.4.2\"}"`)}

	res := p.Probe(context.Background(), device.Application("a1"))

	require.True(t, res.IsReachable())
	meta := res.Metadata()
	assert.Equal(t, "A1", meta.Name)
	assert.Equal(t, "application", meta.Mode)
	assert.Equal(t, "1.4.2", meta.FirmwareVersion)
}

func TestProber_StderrInError(t *testing.T) {
	p := &Prober{Args: sh(`echo "hci0: no such device" >&2; exit 1`)}

	res := p.Probe(context.Background(), device.Application("A1"))

	require.Error(t, res.Cause())
	assert.Contains(t, res.Cause().Error(), "hci0: no such device")
}

func TestProber_DeadlineIsUnreachable(t *testing.T) {
	p := &Prober{Args: sh(`sleep 5`)}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := p.Probe(ctx, device.Application("A1"))

	assert.Equal(t, device.KindUnreachable, res.Kind())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestProber_MissingBinary(t *testing.T) {
	p := &Prober{Args: []string{filepath.Join(t.TempDir(), "no-such-tool")}}
	assert.Equal(t, device.KindError, p.Probe(context.Background(), device.Application("A1")).Kind())

	empty := &Prober{}
	res := empty.Probe(context.Background(), device.Application("A1"))
	assert.ErrorIs(t, res.Cause(), ErrNoCommand)
}

func TestSwitcher(t *testing.T) {
	ok := (&Switcher{Args: sh(`echo "entering dfu"`)}).SwitchMode(context.Background(), device.Application("A1"))
	assert.Equal(t, device.Acknowledged, ok.Ack)
	assert.Equal(t, "entering dfu", ok.Detail)

	rej := (&Switcher{Args: sh(`echo "not bonded" >&2; exit 3`)}).SwitchMode(context.Background(), device.Application("A1"))
	assert.Equal(t, device.Rejected, rej.Ack)
	assert.Equal(t, "not bonded", rej.Detail)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	slow := (&Switcher{Args: sh(`sleep 5`)}).SwitchMode(ctx, device.Application("A1"))
	assert.Equal(t, device.TimedOut, slow.Ack)
}

func TestTransferer(t *testing.T) {
	pkg := device.Package{Path: "/fw/app.zip"}

	ok := (&Transferer{Args: sh(`test "$1" = B1 && test "$3" = /fw/app.zip`)}).
		Transfer(context.Background(), device.Bootloader("b1"), pkg)
	assert.True(t, ok.Succeeded)

	failed := (&Transferer{Args: sh(`echo "crc mismatch at object 3" >&2; exit 1`)}).
		Transfer(context.Background(), device.Bootloader("B1"), pkg)
	require.False(t, failed.Succeeded)
	assert.Contains(t, failed.Cause.Error(), "crc mismatch at object 3")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	slow := (&Transferer{Args: sh(`sleep 5`)}).Transfer(ctx, device.Bootloader("B1"), pkg)
	require.False(t, slow.Succeeded)
	assert.ErrorIs(t, slow.Cause, context.DeadlineExceeded)
}

func TestExcerpt(t *testing.T) {
	long := make([]byte, maxDetail+100)
	for i := range long {
		long[i] = 'x'
	}
	got := excerpt(string(long) + "END")
	assert.True(t, len(got) <= maxDetail+3)
	assert.Contains(t, got, "END")
}

func TestExcerpt_KeepsRunesWhole(t *testing.T) {
	for shift := 0; shift < 3; shift++ {
		s := strings.Repeat("x", shift) + strings.Repeat("é", maxDetail)
		got := excerpt(s)
		assert.True(t, utf8.ValidString(got), "shift %d", shift)
		assert.True(t, strings.HasPrefix(got, "...é"), "shift %d", shift)
		assert.LessOrEqual(t, len(got), maxDetail+3)
	}
}
