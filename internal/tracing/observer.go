package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/bledfu/internal/sequencer"
)

// Observer turns sequencer notifications into spans. Phase spans are laid
// end to end from the session start using each phase's elapsed time, so
// traces follow the sequencer's clock.
//
// Thread-safety: Observer is safe for concurrent sessions.
type Observer struct {
	tracer trace.Tracer

	mu       sync.Mutex
	sessions map[string]*sessionSpan
}

type sessionSpan struct {
	ctx    context.Context
	span   trace.Span
	cursor time.Time
}

// NewObserver creates an Observer that records with tracer.
func NewObserver(tracer trace.Tracer) *Observer {
	return &Observer{
		tracer:   tracer,
		sessions: make(map[string]*sessionSpan),
	}
}

func (o *Observer) OnSessionStart(info sequencer.SessionInfo) {
	ctx, span := o.tracer.Start(context.Background(), "bledfu.session",
		trace.WithTimestamp(info.StartedAt),
		trace.WithAttributes(
			attribute.String("session.id", info.ID),
			attribute.String("device.application", info.Pairing.Application.Address),
			attribute.String("device.bootloader", info.Pairing.Bootloader.Address),
			attribute.String("package", info.Package.Path),
		),
	)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[info.ID] = &sessionSpan{ctx: ctx, span: span, cursor: info.StartedAt}
}

func (o *Observer) OnPhase(ev sequencer.PhaseEvent) {
	o.mu.Lock()
	s, ok := o.sessions[ev.SessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	start := s.cursor
	end := start.Add(ev.Elapsed)
	s.cursor = end
	o.mu.Unlock()

	out := ev.Outcome
	_, span := o.tracer.Start(s.ctx, "bledfu.phase."+string(ev.Phase),
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.String("phase", string(ev.Phase)),
			attribute.String("status", string(out.Status)),
			attribute.Int("attempts", out.Attempts),
		),
	)
	if out.Detail != "" {
		span.SetAttributes(attribute.String("detail", out.Detail))
	}
	if out.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("cause", string(out.Cause)))
		if out.Err != nil {
			span.RecordError(out.Err, trace.WithTimestamp(end))
		}
		span.SetStatus(codes.Error, string(out.Cause))
	}
	span.End(trace.WithTimestamp(end))
}

func (o *Observer) OnSessionEnd(res *sequencer.Result) {
	o.mu.Lock()
	s, ok := o.sessions[res.SessionID]
	delete(o.sessions, res.SessionID)
	o.mu.Unlock()
	if !ok {
		return
	}

	s.span.SetAttributes(
		attribute.String("state", string(res.State)),
		attribute.Bool("firmware_written", res.FirmwareWritten),
	)
	if res.Succeeded() {
		s.span.SetStatus(codes.Ok, "")
	} else {
		s.span.SetAttributes(
			attribute.String("failed_phase", string(res.FailedPhase)),
			attribute.String("cause", string(res.Cause())),
		)
		s.span.SetStatus(codes.Error, res.Failure.Error())
	}
	s.span.End(trace.WithTimestamp(res.StartedAt.Add(res.Elapsed)))
}

var _ sequencer.SessionObserver = (*Observer)(nil)
