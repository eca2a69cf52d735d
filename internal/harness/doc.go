// Package harness runs scripted update scenarios against the real
// sequencer.
//
// A scenario is a YAML file that scripts every collaborator: what each
// address answers to probes, how the mode switch is acknowledged, whether
// the transfer succeeds, and optionally when the caller cancels. The
// sequencer runs on a fake clock, so a scenario produces the same trace
// on every run and its wall time is zero.
//
// Each run yields a Result holding the trace (collaborator calls, phase
// outcomes and session boundaries in order) and the expectation errors.
// Traces can be compared against golden files with RunWithGolden.
//
// # Scenario Format
//
//	name: bootloader-late
//	description: Bootloader answers on the third poll
//	device:
//	  application: A
//	  bootloader: B
//	timing:
//	  max_attempts: 3
//	  poll_interval: 1s
//	  bootloader_wait_timeout: 10s
//	probes:
//	  A: [{result: reachable, firmware: 1.0.0}]
//	  B: [{result: unreachable, repeat: 2}, {result: reachable}]
//	expect:
//	  state: succeeded
//	  phases:
//	    - {phase: bootloader_wait, status: ok, attempts: 3}
//
// Unscripted collaborators succeed: the mode switch is acknowledged and
// the transfer completes. Unscripted addresses are unreachable.
package harness
