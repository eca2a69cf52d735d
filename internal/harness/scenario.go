package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bledfu/internal/sequencer"
	"github.com/roach88/bledfu/internal/testutil"
)

// Scenario defines one scripted update.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Device is the pairing under update.
	Device DeviceSetup `yaml:"device"`

	// Timing overrides the harness defaults.
	Timing TimingSetup `yaml:"timing,omitempty"`

	// SessionAttempts runs up to this many sessions while failures are
	// retryable. Defaults to 1.
	SessionAttempts int `yaml:"session_attempts,omitempty"`

	// SessionID is the first session ID; later sessions append a counter.
	// Defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`

	// Probes scripts each address. The last step repeats forever.
	Probes map[string][]ProbeStep `yaml:"probes"`

	// ModeSwitch scripts the mode switch answer.
	ModeSwitch *ModeSwitchStep `yaml:"mode_switch,omitempty"`

	// Transfer scripts the transfer answer.
	Transfer *TransferStep `yaml:"transfer,omitempty"`

	// CancelOn cancels the run right after a given collaborator call.
	CancelOn *CancelStep `yaml:"cancel_on,omitempty"`

	// Expect validates the last session's result.
	Expect Expectation `yaml:"expect"`
}

// DeviceSetup names the two identities.
type DeviceSetup struct {
	Application string `yaml:"application"`
	Bootloader  string `yaml:"bootloader"`
}

// TimingSetup holds the retry options a scenario may set.
type TimingSetup struct {
	MaxAttempts           int           `yaml:"max_attempts,omitempty"`
	PollInterval          time.Duration `yaml:"poll_interval,omitempty"`
	ProbeTimeout          time.Duration `yaml:"probe_timeout,omitempty"`
	BootloaderWaitTimeout time.Duration `yaml:"bootloader_wait_timeout,omitempty"`
	PostCheckTimeout      time.Duration `yaml:"post_check_timeout,omitempty"`
	BackoffMultiplier     float64       `yaml:"backoff_multiplier,omitempty"`
}

// ProbeStep is one scripted probe answer.
type ProbeStep struct {
	// Result is "reachable", "unreachable" or "error".
	Result string `yaml:"result"`
	// Firmware is reported by reachable answers.
	Firmware string `yaml:"firmware,omitempty"`
	// Error is the cause of error answers.
	Error string `yaml:"error,omitempty"`
	// Repeat answers this step n times. Defaults to 1.
	Repeat int `yaml:"repeat,omitempty"`
}

// ModeSwitchStep scripts the mode switch.
type ModeSwitchStep struct {
	// Ack is "acknowledged", "rejected" or "timed_out".
	Ack    string `yaml:"ack"`
	Detail string `yaml:"detail,omitempty"`
}

// TransferStep scripts the transfer.
type TransferStep struct {
	// Result is "ok" or "failed".
	Result string `yaml:"result"`
	Error  string `yaml:"error,omitempty"`
}

// CancelStep identifies the collaborator call after which the run is
// cancelled.
type CancelStep struct {
	// Op is "probe", "mode_switch" or "transfer".
	Op string `yaml:"op"`
	// Address restricts the count to one address.
	Address string `yaml:"address,omitempty"`
	// Call is the 1-based call count that triggers the cancel.
	Call int `yaml:"call"`
}

// Expectation describes the last session's result. Unset fields are not
// checked.
type Expectation struct {
	State           string             `yaml:"state"`
	Cause           string             `yaml:"cause,omitempty"`
	FailedPhase     string             `yaml:"failed_phase,omitempty"`
	FirmwareWritten *bool              `yaml:"firmware_written,omitempty"`
	Sessions        int                `yaml:"sessions,omitempty"`
	Phases          []PhaseExpectation `yaml:"phases,omitempty"`

	// Calls maps "op" or "op:address" to the expected number of calls
	// across all sessions.
	Calls map[string]int `yaml:"calls,omitempty"`
}

// PhaseExpectation checks one recorded phase outcome.
type PhaseExpectation struct {
	Phase    string `yaml:"phase"`
	Status   string `yaml:"status"`
	Attempts *int   `yaml:"attempts,omitempty"`
	Elapsed  string `yaml:"elapsed,omitempty"`
}

// Probe answers.
const (
	ProbeReachable   = "reachable"
	ProbeUnreachable = "unreachable"
	ProbeErrored     = "error"
)

// Mode switch answers.
const (
	AckAcknowledged = "acknowledged"
	AckRejected     = "rejected"
	AckTimedOut     = "timed_out"
)

// Transfer answers.
const (
	TransferOK     = "ok"
	TransferFailed = "failed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "probe:" vs "probes:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir in lexical
// order.
func FindScenarios(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Device.Application == "" || s.Device.Bootloader == "" {
		return fmt.Errorf("device.application and device.bootloader are required")
	}
	if s.SessionAttempts < 0 {
		return fmt.Errorf("session_attempts must be non-negative")
	}

	addresses := make([]string, 0, len(s.Probes))
	for addr := range s.Probes {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	for _, addr := range addresses {
		for i, step := range s.Probes[addr] {
			switch step.Result {
			case ProbeReachable, ProbeUnreachable, ProbeErrored:
			default:
				return fmt.Errorf("probes[%s][%d]: unknown result %q", addr, i, step.Result)
			}
			if step.Repeat < 0 {
				return fmt.Errorf("probes[%s][%d]: repeat must be non-negative", addr, i)
			}
		}
	}

	if s.ModeSwitch != nil {
		switch s.ModeSwitch.Ack {
		case AckAcknowledged, AckRejected, AckTimedOut:
		default:
			return fmt.Errorf("mode_switch: unknown ack %q", s.ModeSwitch.Ack)
		}
	}

	if s.Transfer != nil {
		switch s.Transfer.Result {
		case TransferOK, TransferFailed:
		default:
			return fmt.Errorf("transfer: unknown result %q", s.Transfer.Result)
		}
	}

	if c := s.CancelOn; c != nil {
		switch c.Op {
		case testutil.OpProbe, testutil.OpModeSwitch, testutil.OpTransfer:
		default:
			return fmt.Errorf("cancel_on: unknown op %q", c.Op)
		}
		if c.Call < 1 {
			return fmt.Errorf("cancel_on: call must be >= 1")
		}
	}

	return validateExpectation(&s.Expect)
}

func validateExpectation(e *Expectation) error {
	switch sequencer.State(e.State) {
	case sequencer.StateSucceeded, sequencer.StateFailed:
	case "":
		return fmt.Errorf("expect.state is required")
	default:
		return fmt.Errorf("expect.state must be succeeded or failed, got %q", e.State)
	}

	for i, p := range e.Phases {
		if !knownPhase(sequencer.Phase(p.Phase)) {
			return fmt.Errorf("expect.phases[%d]: unknown phase %q", i, p.Phase)
		}
		if p.Status == "" {
			return fmt.Errorf("expect.phases[%d]: status is required", i)
		}
		if p.Elapsed != "" {
			if _, err := time.ParseDuration(p.Elapsed); err != nil {
				return fmt.Errorf("expect.phases[%d]: %w", i, err)
			}
		}
	}
	if e.FailedPhase != "" && !knownPhase(sequencer.Phase(e.FailedPhase)) {
		return fmt.Errorf("expect.failed_phase: unknown phase %q", e.FailedPhase)
	}
	return nil
}

func knownPhase(p sequencer.Phase) bool {
	for _, known := range sequencer.Phases {
		if p == known {
			return true
		}
	}
	return false
}
