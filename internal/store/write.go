package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/bledfu/internal/sequencer"
)

// timeLayout is how wall-clock times are stored.
const timeLayout = time.RFC3339Nano

// WriteSessionStart inserts the session row.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteSessionStart(ctx context.Context, info sequencer.SessionInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, seq, application, bootloader, package, started_at, state)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		info.ID,
		s.seq.Next(),
		info.Pairing.Application.Address,
		info.Pairing.Bootloader.Address,
		info.Package.Path,
		info.StartedAt.UTC().Format(timeLayout),
		string(sequencer.StateIdle),
	)
	if err != nil {
		return fmt.Errorf("write session start: %w", err)
	}
	return nil
}

// WritePhase appends a phase outcome and moves the session row to the
// state recorded with it. Both writes happen in one transaction.
//
// Note: The session must exist (foreign key constraint).
func (s *Store) WritePhase(ctx context.Context, ev sequencer.PhaseEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write phase: %w", err)
	}
	defer tx.Rollback()

	out := ev.Outcome
	_, err = tx.ExecContext(ctx, `
		INSERT INTO phase_outcomes
		(session_id, seq, phase, status, cause, detail, error, attempts, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		ev.SessionID,
		s.seq.Next(),
		string(ev.Phase),
		string(out.Status),
		string(out.Cause),
		out.Detail,
		errString(out.Err),
		out.Attempts,
		out.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("write phase: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET state = ? WHERE id = ?`, string(ev.State), ev.SessionID); err != nil {
		return fmt.Errorf("write phase: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write phase: %w", err)
	}
	return nil
}

// WriteSessionEnd completes the session row from its result.
func (s *Store) WriteSessionEnd(ctx context.Context, res *sequencer.Result) error {
	var before, after string
	if res.Before != nil {
		before = res.Before.FirmwareVersion
	}
	if res.After != nil {
		after = res.After.FirmwareVersion
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?, failed_phase = ?, cause = ?, error = ?,
			firmware_written = ?, firmware_before = ?, firmware_after = ?, elapsed_ms = ?
		WHERE id = ?
	`,
		string(res.State),
		string(res.FailedPhase),
		string(res.Cause()),
		errString(res.Err()),
		res.FirmwareWritten,
		before,
		after,
		res.Elapsed.Milliseconds(),
		res.SessionID,
	)
	if err != nil {
		return fmt.Errorf("write session end: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("write session end: %w: %s", ErrNotFound, res.SessionID)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
