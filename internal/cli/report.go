package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/roach88/bledfu/internal/device"
	"github.com/roach88/bledfu/internal/sequencer"
)

// SessionReport is the reported form of one session.
type SessionReport struct {
	SessionID       string           `json:"session_id"`
	Application     string           `json:"application"`
	Bootloader      string           `json:"bootloader"`
	Package         string           `json:"package"`
	State           string           `json:"state"`
	FailedPhase     string           `json:"failed_phase,omitempty"`
	Cause           string           `json:"cause,omitempty"`
	Error           string           `json:"error,omitempty"`
	FirmwareWritten bool             `json:"firmware_written"`
	Ambiguous       bool             `json:"ambiguous,omitempty"`
	Before          *device.Metadata `json:"before,omitempty"`
	After           *device.Metadata `json:"after,omitempty"`
	Phases          []PhaseReport    `json:"phases"`
	StartedAt       time.Time        `json:"started_at"`
	Elapsed         string           `json:"elapsed"`
}

// PhaseReport is one phase outcome within a SessionReport.
type PhaseReport struct {
	Phase    string `json:"phase"`
	Status   string `json:"status"`
	Cause    string `json:"cause,omitempty"`
	Attempts int    `json:"attempts"`
	Elapsed  string `json:"elapsed"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UpdateReport summarises every session an update command ran.
type UpdateReport struct {
	Sessions  []SessionReport `json:"sessions"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Ambiguous int             `json:"ambiguous"`
}

func newSessionReport(res *sequencer.Result) SessionReport {
	r := SessionReport{
		SessionID:       res.SessionID,
		Application:     res.Pairing.Application.Address,
		Bootloader:      res.Pairing.Bootloader.Address,
		Package:         res.Package.Path,
		State:           string(res.State),
		FailedPhase:     string(res.FailedPhase),
		Cause:           string(res.Cause()),
		FirmwareWritten: res.FirmwareWritten,
		Ambiguous:       res.Ambiguous(),
		Before:          res.Before,
		After:           res.After,
		Phases:          make([]PhaseReport, 0, len(res.Outcomes)),
		StartedAt:       res.StartedAt,
		Elapsed:         res.Elapsed.String(),
	}
	if err := res.Err(); err != nil {
		r.Error = err.Error()
	}
	for _, o := range res.Outcomes {
		p := PhaseReport{
			Phase:    string(o.Phase),
			Status:   string(o.Status),
			Cause:    string(o.Cause),
			Attempts: o.Attempts,
			Elapsed:  o.Elapsed.String(),
			Detail:   o.Detail,
		}
		if o.Err != nil {
			p.Error = o.Err.Error()
		}
		r.Phases = append(r.Phases, p)
	}
	return r
}

// add appends a pairing's sessions. Only the last session of a pairing
// counts towards the totals.
func (u *UpdateReport) add(results []*sequencer.Result) {
	for _, res := range results {
		u.Sessions = append(u.Sessions, newSessionReport(res))
	}
	if len(results) == 0 {
		return
	}
	last := results[len(results)-1]
	switch {
	case last.Succeeded():
		u.Succeeded++
	case last.Ambiguous():
		u.Ambiguous++
	default:
		u.Failed++
	}
}

// exitError maps the totals to the command's exit status. Ambiguous
// outcomes win over plain failures.
func (u *UpdateReport) exitError() *ExitError {
	switch {
	case u.Ambiguous > 0:
		return NewExitError(ExitAmbiguous, fmt.Sprintf("%d update(s) wrote firmware but the device did not come back", u.Ambiguous))
	case u.Failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d update(s) failed", u.Failed))
	}
	return nil
}

var (
	okColor   = color.New(color.FgGreen)
	failColor = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.Faint)
)

// writeText renders the report for a terminal.
func (u *UpdateReport) writeText(w io.Writer) {
	for _, s := range u.Sessions {
		writeSessionText(w, s)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Update Summary: %d succeeded, %d failed, %d ambiguous\n", u.Succeeded, u.Failed, u.Ambiguous)
}

func writeSessionText(w io.Writer, s SessionReport) {
	var mark string
	switch {
	case s.State == string(sequencer.StateSucceeded):
		mark = okColor.Sprint("✓")
	case s.Ambiguous:
		mark = warnColor.Sprint("?")
	default:
		mark = failColor.Sprint("✗")
	}
	fmt.Fprintf(w, "%s %s -> %s  %s  (%s)\n", mark, s.Application, s.Bootloader, s.State, s.Elapsed)
	dimColor.Fprintf(w, "  session %s  package %s\n", s.SessionID, s.Package)

	for _, p := range s.Phases {
		status := okColor.Sprint(p.Status)
		if p.Status != string(sequencer.StatusOK) {
			status = failColor.Sprint(p.Status)
		}
		line := fmt.Sprintf("  %-16s %s  attempts=%d  %s", p.Phase, status, p.Attempts, p.Elapsed)
		if p.Detail != "" {
			line += "  " + p.Detail
		}
		fmt.Fprintln(w, line)
	}

	if v := versions(s); v != "" {
		fmt.Fprintf(w, "  firmware %s\n", v)
	}
	if s.Cause != "" {
		fmt.Fprintf(w, "  %s %s: %s\n", failColor.Sprint("cause"), s.Cause, s.Error)
	}
	if s.Ambiguous {
		warnColor.Fprintln(w, "  firmware was written; check the device before retrying")
	}
}

func versions(s SessionReport) string {
	var before, after string
	if s.Before != nil {
		before = s.Before.FirmwareVersion
	}
	if s.After != nil {
		after = s.After.FirmwareVersion
	}
	if before == "" && after == "" {
		return ""
	}
	return fmt.Sprintf("%s -> %s", orUnknown(before), orUnknown(after))
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
