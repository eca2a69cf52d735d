// Package retry implements the bounded polling policy shared by the
// pre-check, bootloader wait and post-check phases.
//
// A Policy bounds polling three ways: a maximum number of attempts, an
// overall wall-clock budget, and a per-attempt deadline. Waits between
// attempts are fixed by default and grow exponentially when a multiplier
// above 1 is configured. Cancellation of the caller's context is observed
// before every attempt and during every wait.
//
// Time is read through the Clock interface so tests can drive polling with
// a fake clock instead of sleeping.
package retry
