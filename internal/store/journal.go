package store

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/bledfu/internal/sequencer"
)

// writeTimeout bounds each journal write.
const writeTimeout = 5 * time.Second

// Journal records sessions into a Store as a sequencer observer. Write
// failures never affect the session; they are logged and the first one is
// kept for Err.
//
// Thread-safety: Journal is safe for concurrent sessions.
type Journal struct {
	store  *Store
	logger *slog.Logger

	mu  sync.Mutex
	err error
}

// NewJournal creates a Journal writing to s.
func NewJournal(s *Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Journal{store: s, logger: logger}
}

func (j *Journal) OnSessionStart(info sequencer.SessionInfo) {
	j.write("session start", info.ID, func(ctx context.Context) error {
		return j.store.WriteSessionStart(ctx, info)
	})
}

func (j *Journal) OnPhase(ev sequencer.PhaseEvent) {
	j.write("phase", ev.SessionID, func(ctx context.Context) error {
		return j.store.WritePhase(ctx, ev)
	})
}

func (j *Journal) OnSessionEnd(res *sequencer.Result) {
	j.write("session end", res.SessionID, func(ctx context.Context) error {
		return j.store.WriteSessionEnd(ctx, res)
	})
}

// Err returns the first write error, if any.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Journal) write(what, sessionID string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		j.logger.Error("journal write failed", "what", what, "session", sessionID, "error", err)
		j.mu.Lock()
		if j.err == nil {
			j.err = err
		}
		j.mu.Unlock()
	}
}

var _ sequencer.SessionObserver = (*Journal)(nil)
