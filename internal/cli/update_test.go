package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bledfu/internal/config"
	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/link"
	"github.com/roach88/bledfu/internal/sequencer"
	"github.com/roach88/bledfu/internal/testutil"
)

// updateFixture runs the update command against scripted collaborators.
type updateFixture struct {
	dir        string
	prober     *testutil.ScriptedProber
	switcher   *testutil.StubSwitcher
	transferer *testutil.StubTransferer
	calls      *testutil.CallLog
}

func newUpdateFixture(t *testing.T) *updateFixture {
	t.Helper()
	calls := &testutil.CallLog{}
	f := &updateFixture{
		dir:        t.TempDir(),
		calls:      calls,
		prober:     testutil.NewScriptedProber(calls),
		switcher:   &testutil.StubSwitcher{Result: device.ModeSwitchResult{Ack: device.Acknowledged}, Log: calls},
		transferer: &testutil.StubTransferer{Result: device.TransferOK(), Log: calls},
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "app.bin"), []byte("firmware"), 0o644))
	return f
}

// writeConfig writes bledfu.yaml with the given body after the common keys.
func (f *updateFixture) writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(f.dir, "bledfu.yaml")
	data := "package: app.bin\n" +
		"transfer:\n  command: [\"true\"]\n" +
		"retry:\n  max_attempts: 3\n  poll_interval: 1s\n  bootloader_wait_timeout: 5s\n  post_check_timeout: 0s\n" +
		body
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func (f *updateFixture) run(t *testing.T, opts *UpdateOptions) (string, error) {
	t.Helper()
	opts.build = func(*config.Config, *link.Locks, *slog.Logger) (collaborators, error) {
		return collaborators{prober: f.prober, switcher: f.switcher, transferer: f.transferer}, nil
	}
	opts.seqOpts = []sequencer.Option{
		sequencer.WithClock(testutil.NewFakeClock()),
		sequencer.WithIDGenerator(testutil.NewFixedIDGenerator("")),
	}

	buf := &bytes.Buffer{}
	cmd := newUpdateCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(nil)
	err := cmd.Execute()
	return buf.String(), err
}

type updateResponse struct {
	Status string       `json:"status"`
	Data   UpdateReport `json:"data"`
	Error  *CLIError    `json:"error"`
}

func decodeUpdate(t *testing.T, out string) updateResponse {
	t.Helper()
	var resp updateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

const singleDevice = "device:\n  application: AA:00:00:00:00:01\n  bootloader: AA:00:00:00:00:02\n"

func TestUpdate_Succeeds(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("AA:00:00:00:00:01",
		device.Reachable(device.Metadata{FirmwareVersion: "1.0.0"}),
		device.Reachable(device.Metadata{FirmwareVersion: "2.0.0"}))
	f.prober.Script("AA:00:00:00:00:02", device.Unreachable(), device.Reachable(device.Metadata{}))

	cfgPath := f.writeConfig(t, singleDevice)
	out, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "json", Config: cfgPath}})
	require.NoError(t, err)
	assert.Equal(t, ExitSuccess, GetExitCode(err))

	resp := decodeUpdate(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 1, resp.Data.Succeeded)
	require.Len(t, resp.Data.Sessions, 1)

	s := resp.Data.Sessions[0]
	assert.Equal(t, "test-session", s.SessionID)
	assert.Equal(t, "succeeded", s.State)
	assert.True(t, s.FirmwareWritten)
	assert.False(t, s.Ambiguous)
	assert.Equal(t, filepath.Join(f.dir, "app.bin"), s.Package)
	require.NotNil(t, s.Before)
	require.NotNil(t, s.After)
	assert.Equal(t, "1.0.0", s.Before.FirmwareVersion)
	assert.Equal(t, "2.0.0", s.After.FirmwareVersion)

	var phases []string
	for _, p := range s.Phases {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []string{"pre_check", "mode_switch", "bootloader_wait", "transfer", "post_check"}, phases)
	assert.Equal(t, 2, s.Phases[2].Attempts)
	assert.Equal(t, "1s", s.Phases[2].Elapsed)
}

func TestUpdate_TextOutput(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("AA:00:00:00:00:01", device.Reachable(device.Metadata{FirmwareVersion: "1.0.0"}))
	f.prober.Script("AA:00:00:00:00:02", device.Reachable(device.Metadata{}))

	cfgPath := f.writeConfig(t, singleDevice)
	out, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "text", Config: cfgPath}})
	require.NoError(t, err)
	assert.Contains(t, out, "AA:00:00:00:00:01 -> AA:00:00:00:00:02")
	assert.Contains(t, out, "bootloader_wait")
	assert.Contains(t, out, "firmware 1.0.0 -> 1.0.0")
	assert.Contains(t, out, "Update Summary: 1 succeeded, 0 failed, 0 ambiguous")
}

func TestUpdate_TransferFailedExitsOne(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("AA:00:00:00:00:01", device.Reachable(device.Metadata{}))
	f.prober.Script("AA:00:00:00:00:02", device.Reachable(device.Metadata{}))
	f.transferer.Result = device.TransferFailed(errors.New("crc mismatch"))

	cfgPath := f.writeConfig(t, singleDevice)
	out, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "json", Config: cfgPath}})
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeUpdate(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUpdateFailed, resp.Error.Code)
	s := resp.Data.Sessions[0]
	assert.Equal(t, "transfer_failed", s.Cause)
	assert.Equal(t, "transfer", s.FailedPhase)
	assert.Contains(t, s.Error, "crc mismatch")
	assert.Len(t, s.Phases, 4)
}

func TestUpdate_PostCheckUnreachableExitsAmbiguous(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("AA:00:00:00:00:01", device.Reachable(device.Metadata{}), device.Unreachable())
	f.prober.Script("AA:00:00:00:00:02", device.Reachable(device.Metadata{}))

	cfgPath := f.writeConfig(t, singleDevice)
	out, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "json", Config: cfgPath}})
	require.Error(t, err)
	assert.Equal(t, ExitAmbiguous, GetExitCode(err))

	resp := decodeUpdate(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeAmbiguous, resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Ambiguous)
	s := resp.Data.Sessions[0]
	assert.True(t, s.Ambiguous)
	assert.True(t, s.FirmwareWritten)
	assert.Equal(t, "post_check_unreachable", s.Cause)
}

func TestUpdate_SessionAttemptsRetryPreCheck(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("AA:00:00:00:00:01",
		device.Unreachable(), device.Unreachable(), device.Unreachable(),
		device.Reachable(device.Metadata{}))
	f.prober.Script("AA:00:00:00:00:02", device.Reachable(device.Metadata{}))

	cfgPath := f.writeConfig(t, singleDevice)
	out, err := f.run(t, &UpdateOptions{
		RootOptions:     &RootOptions{Format: "json", Config: cfgPath},
		SessionAttempts: 2,
	})
	require.NoError(t, err)

	resp := decodeUpdate(t, out)
	require.Len(t, resp.Data.Sessions, 2)
	assert.Equal(t, "pre_check_unreachable", resp.Data.Sessions[0].Cause)
	assert.Equal(t, "succeeded", resp.Data.Sessions[1].State)
	assert.Equal(t, 1, resp.Data.Succeeded)
	assert.Equal(t, 0, resp.Data.Failed)
}

func TestUpdate_Fleet(t *testing.T) {
	f := newUpdateFixture(t)
	for _, addr := range []string{"AA:00:00:00:00:01", "AA:00:00:00:00:02", "BB:00:00:00:00:01", "BB:00:00:00:00:02"} {
		f.prober.Script(addr, device.Reachable(device.Metadata{}))
	}

	cfgPath := f.writeConfig(t, `fleet:
  - {application: AA:00:00:00:00:01, bootloader: AA:00:00:00:00:02}
  - {application: BB:00:00:00:00:01, bootloader: BB:00:00:00:00:02}
`)
	out, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "json", Config: cfgPath}, All: true})
	require.NoError(t, err)

	resp := decodeUpdate(t, out)
	assert.Equal(t, 2, resp.Data.Succeeded)
	require.Len(t, resp.Data.Sessions, 2)
	assert.Equal(t, "AA:00:00:00:00:01", resp.Data.Sessions[0].Application)
	assert.Equal(t, "BB:00:00:00:00:01", resp.Data.Sessions[1].Application)
	assert.Equal(t, 2, f.calls.Count(testutil.OpTransfer, ""))
}

func TestUpdate_AllRequiresFleet(t *testing.T) {
	f := newUpdateFixture(t)
	cfgPath := f.writeConfig(t, singleDevice)

	_, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "text", Config: cfgPath}, All: true})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--all requires a fleet")
}

func TestUpdate_FlagsOverrideConfig(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("CC:00:00:00:00:01", device.Reachable(device.Metadata{}))
	f.prober.Script("CC:00:00:00:00:02", device.Reachable(device.Metadata{}))

	cfgPath := f.writeConfig(t, singleDevice)
	out, err := f.run(t, &UpdateOptions{
		RootOptions: &RootOptions{Format: "json", Config: cfgPath},
		Application: "cc:00:00:00:00:01",
		Bootloader:  "cc:00:00:00:00:02",
	})
	require.NoError(t, err)

	resp := decodeUpdate(t, out)
	assert.Equal(t, "CC:00:00:00:00:01", resp.Data.Sessions[0].Application)
	assert.Equal(t, 0, f.calls.Count(testutil.OpProbe, "AA:00:00:00:00:01"))
}

func TestUpdate_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		opts func(cfgPath string) *UpdateOptions
		want string
	}{
		{
			name: "missing config file",
			body: singleDevice,
			opts: func(string) *UpdateOptions {
				return &UpdateOptions{RootOptions: &RootOptions{Format: "text", Config: "/nonexistent/bledfu.yaml"}}
			},
			want: "failed to load config",
		},
		{
			name: "missing device",
			body: "",
			opts: func(p string) *UpdateOptions {
				return &UpdateOptions{RootOptions: &RootOptions{Format: "text", Config: p}}
			},
			want: "invalid config",
		},
		{
			name: "missing package",
			body: singleDevice,
			opts: func(p string) *UpdateOptions {
				return &UpdateOptions{RootOptions: &RootOptions{Format: "text", Config: p}, Package: "/nonexistent/app.zip"}
			},
			want: "failed to open package",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUpdateFixture(t)
			cfgPath := f.writeConfig(t, tt.body)

			_, err := f.run(t, tt.opts(cfgPath))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, f.calls.Calls())
		})
	}
}

func TestUpdate_JournalFeedsHistory(t *testing.T) {
	f := newUpdateFixture(t)
	f.prober.Script("AA:00:00:00:00:01", device.Reachable(device.Metadata{FirmwareVersion: "1.0.0"}))
	f.prober.Script("AA:00:00:00:00:02", device.Reachable(device.Metadata{}))

	cfgPath := f.writeConfig(t, singleDevice+"journal: bledfu.db\n")
	_, err := f.run(t, &UpdateOptions{RootOptions: &RootOptions{Format: "json", Config: cfgPath}})
	require.NoError(t, err)

	// List
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: "json", Config: cfgPath})
	cmd.SetOut(buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	var list struct {
		Status string `json:"status"`
		Data   []struct {
			ID              string `json:"id"`
			State           string `json:"state"`
			FirmwareWritten bool   `json:"firmware_written"`
			FirmwareBefore  string `json:"firmware_before"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &list), buf.String())
	require.Len(t, list.Data, 1)
	assert.Equal(t, "test-session", list.Data[0].ID)
	assert.Equal(t, "succeeded", list.Data[0].State)
	assert.True(t, list.Data[0].FirmwareWritten)
	assert.Equal(t, "1.0.0", list.Data[0].FirmwareBefore)

	// Detail
	buf.Reset()
	cmd = NewHistoryCommand(&RootOptions{Format: "json", Config: cfgPath})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--session", "test-session"})
	require.NoError(t, cmd.Execute())

	var detail struct {
		Data SessionDetail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &detail), buf.String())
	assert.Equal(t, "test-session", detail.Data.Session.ID)
	assert.Len(t, detail.Data.Phases, 5)
}
