package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/bledfu/internal/device"
)

// SessionRecord is a journaled session.
type SessionRecord struct {
	ID              string        `json:"id"`
	Seq             int64         `json:"seq"`
	Application     string        `json:"application"`
	Bootloader      string        `json:"bootloader"`
	Package         string        `json:"package"`
	StartedAt       time.Time     `json:"started_at"`
	State           string        `json:"state"`
	FailedPhase     string        `json:"failed_phase,omitempty"`
	Cause           string        `json:"cause,omitempty"`
	Error           string        `json:"error,omitempty"`
	FirmwareWritten bool          `json:"firmware_written"`
	FirmwareBefore  string        `json:"firmware_before,omitempty"`
	FirmwareAfter   string        `json:"firmware_after,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// PhaseRecord is a journaled phase outcome.
type PhaseRecord struct {
	Seq      int64         `json:"seq"`
	Phase    string        `json:"phase"`
	Status   string        `json:"status"`
	Cause    string        `json:"cause,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Filter narrows ListSessions.
type Filter struct {
	// Address matches either identity of the pairing. Empty matches all.
	Address string
	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

const sessionColumns = `
	id, seq, application, bootloader, package, started_at, state,
	failed_phase, cause, error, firmware_written, firmware_before, firmware_after, elapsed_ms
`

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context, f Filter) ([]SessionRecord, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if f.Address != "" {
		addr := device.NormalizeAddress(f.Address)
		query += ` WHERE application = ? OR bootloader = ?`
		args = append(args, addr, addr)
	}
	query += ` ORDER BY seq DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// GetSession returns one session and its phase outcomes in recording
// order.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, []PhaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return SessionRecord{}, nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, phase, status, cause, detail, error, attempts, elapsed_ms
		FROM phase_outcomes
		WHERE session_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return SessionRecord{}, nil, fmt.Errorf("get session phases: %w", err)
	}
	defer rows.Close()

	var phases []PhaseRecord
	for rows.Next() {
		var p PhaseRecord
		var elapsedMS int64
		if err := rows.Scan(&p.Seq, &p.Phase, &p.Status, &p.Cause, &p.Detail, &p.Error, &p.Attempts, &elapsedMS); err != nil {
			return SessionRecord{}, nil, fmt.Errorf("get session phases: %w", err)
		}
		p.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		phases = append(phases, p)
	}
	if err := rows.Err(); err != nil {
		return SessionRecord{}, nil, fmt.Errorf("get session phases: %w", err)
	}
	return rec, phases, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt string
	var elapsedMS int64
	err := row.Scan(
		&rec.ID, &rec.Seq, &rec.Application, &rec.Bootloader, &rec.Package, &startedAt, &rec.State,
		&rec.FailedPhase, &rec.Cause, &rec.Error, &rec.FirmwareWritten, &rec.FirmwareBefore, &rec.FirmwareAfter, &elapsedMS,
	)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt, err = time.Parse(timeLayout, startedAt)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	rec.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return rec, nil
}
