package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/bledfu/internal/sequencer"
	"github.com/roach88/bledfu/internal/testutil"
)

// AssertionError is returned when an expectation fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Field    string       // Expectation that failed
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Expectation failed: %s\n", e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, ev.summary())
		}
	}

	return buf.String()
}

func (ev TraceEvent) summary() string {
	switch ev.Type {
	case EventCall:
		return fmt.Sprintf("%s %s %s -> %s", ev.At, ev.Op, ev.Address, ev.Result)
	case EventPhase:
		s := fmt.Sprintf("%s %s %s attempts=%d", ev.At, ev.Phase, ev.Status, ev.Attempts)
		if ev.Cause != "" {
			s += " cause=" + ev.Cause
		}
		return s
	default:
		return fmt.Sprintf("%s %s %s %s", ev.At, ev.Type, ev.Session, ev.Status)
	}
}

// checkExpectations compares the run against e and returns every mismatch.
func checkExpectations(e Expectation, r *Result, calls *testutil.CallLog) []error {
	var errs []error
	fail := func(field, expected, actual string) {
		errs = append(errs, &AssertionError{Field: field, Expected: expected, Actual: actual, Trace: r.Trace})
	}

	last := r.Last()
	if last == nil {
		fail("sessions", "at least one session", "none")
		return errs
	}

	if e.Sessions > 0 && len(r.Sessions) != e.Sessions {
		fail("sessions", fmt.Sprint(e.Sessions), fmt.Sprint(len(r.Sessions)))
	}
	if string(last.State) != e.State {
		fail("state", e.State, string(last.State))
	}
	if e.Cause != "" && string(last.Cause()) != e.Cause {
		fail("cause", e.Cause, string(last.Cause()))
	}
	if e.FailedPhase != "" && string(last.FailedPhase) != e.FailedPhase {
		fail("failed_phase", e.FailedPhase, string(last.FailedPhase))
	}
	if e.FirmwareWritten != nil && last.FirmwareWritten != *e.FirmwareWritten {
		fail("firmware_written", fmt.Sprint(*e.FirmwareWritten), fmt.Sprint(last.FirmwareWritten))
	}

	for _, want := range e.Phases {
		got, ok := last.Outcome(sequencer.Phase(want.Phase))
		if !ok {
			fail("phase "+want.Phase, want.Status, "not recorded")
			continue
		}
		if string(got.Status) != want.Status {
			fail("phase "+want.Phase+" status", want.Status, string(got.Status))
		}
		if want.Attempts != nil && got.Attempts != *want.Attempts {
			fail("phase "+want.Phase+" attempts", fmt.Sprint(*want.Attempts), fmt.Sprint(got.Attempts))
		}
		if want.Elapsed != "" && got.Elapsed.String() != normalizeDuration(want.Elapsed) {
			fail("phase "+want.Phase+" elapsed", want.Elapsed, got.Elapsed.String())
		}
	}

	keys := make([]string, 0, len(e.Calls))
	for k := range e.Calls {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		op, addr, _ := strings.Cut(key, ":")
		if got := calls.Count(op, strings.ToUpper(addr)); got != e.Calls[key] {
			fail("calls "+key, fmt.Sprint(e.Calls[key]), fmt.Sprint(got))
		}
	}

	return errs
}

// normalizeDuration renders d the way time.Duration prints it, so "60s"
// matches "1m0s". Validation has already parsed it.
func normalizeDuration(d string) string {
	parsed, err := time.ParseDuration(d)
	if err != nil {
		return d
	}
	return parsed.String()
}
