// Package sequencer implements the firmware update state machine.
//
// A Sequencer drives one UpdateSession per attempt through a fixed order of
// phases:
//
//	PreCheck → ModeSwitch → BootloaderWait → Transfer → PostCheck
//
// which correspond to the states
//
//	Idle → PreChecking → SwitchingMode → AwaitingBootloader → Transferring
//	     → PostChecking → {Succeeded | Failed}
//
// Every phase appends exactly one PhaseOutcome to the session. A session
// reaches Succeeded only when all five outcomes are Ok; the first outcome
// that is not Ok moves it to Failed and no later phase runs. Outcomes are
// append-only and the session rejects out-of-order records.
//
// POLICY:
//
// Probing phases (PreCheck, BootloaderWait, PostCheck) poll through a
// retry.Policy. ModeSwitch and Transfer are invoked at most once per
// session. A mode switch is tolerated whatever its acknowledgement: the
// device may already be restarting, or already be in its bootloader from an
// earlier attempt. A failed transfer and a post-check that never sees the
// device come back are terminal for the session and are never retried here;
// the latter is reported with FirmwareWritten set because the image may
// have been written.
//
// Phase failures are values, not Go errors: Run always returns a *Result
// the caller must inspect. Cancellation of the context is observed before
// every phase and at every wait, and yields Failed(Cancelled).
//
// The sequencer writes nothing persistent. Observers receive every phase
// outcome; internal/store and internal/tracing provide durable and tracing
// observers.
package sequencer
