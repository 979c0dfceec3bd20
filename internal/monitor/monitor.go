// Package monitor reconstructs call and extension lifecycles from the
// switch's event stream and persists the result.
package monitor

import (
	"context"
	"time"

	"github.com/callwatch/callwatch/internal/broadcast"
	"github.com/callwatch/callwatch/internal/database"
	"github.com/callwatch/callwatch/internal/database/models"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Monitor holds the reconstruction state shared by all event handlers.
// Handlers are invoked one at a time in arrival order, so read-modify-write
// sequences against the store never interleave for the same call.
type Monitor struct {
	calls   database.CallRepository
	legs    database.CallLegRepository
	bridges database.BridgeSegmentRepository
	exts    database.ExtensionRepository
	sink    broadcast.Sink
	clock   Clock
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// New creates a Monitor over the given store and broadcast sink.
func New(store database.Store, sink broadcast.Sink, opts ...Option) *Monitor {
	m := &Monitor{
		calls:   store.Calls(),
		legs:    store.CallLegs(),
		bridges: store.BridgeSegments(),
		exts:    store.Extensions(),
		sink:    sink,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ensureCall returns the call for linkedID, creating a fresh ringing call
// when none exists. directionHint is applied only at creation time; an
// existing call's direction is never overwritten.
func (m *Monitor) ensureCall(ctx context.Context, linkedID, directionHint string) (*models.Call, bool, error) {
	call, err := m.calls.GetByLinkedID(ctx, linkedID)
	if err != nil {
		return nil, false, err
	}
	if call != nil {
		return call, false, nil
	}

	dir := models.DirectionUnknown
	if directionHint != "" {
		dir = directionHint
	}
	call = &models.Call{
		LinkedID:  linkedID,
		State:     models.CallRinging,
		Direction: dir,
		StartedAt: m.clock(),
	}
	if err := m.calls.Upsert(ctx, call); err != nil {
		return nil, false, err
	}
	return call, true, nil
}

// markAnswered advances a call to answered. Set at most once: replaying the
// transition on an answered or ended call is a no-op.
func markAnswered(call *models.Call, now time.Time) bool {
	if call.State != models.CallRinging || call.AnsweredAt != nil {
		return false
	}
	call.State = models.CallAnswered
	call.AnsweredAt = &now
	ring := int(now.Sub(call.StartedAt).Seconds())
	if ring < 0 {
		ring = 0
	}
	call.RingSeconds = &ring
	return true
}

// markEnded closes a call. Set at most once; talk_seconds is derived only
// when the call was answered and only on the first close.
func markEnded(call *models.Call, now time.Time, cause string) bool {
	if call.State == models.CallEnded || call.EndedAt != nil {
		return false
	}
	call.State = models.CallEnded
	call.EndedAt = &now
	if cause != "" && call.HangupCause == "" {
		call.HangupCause = cause
	}
	if call.AnsweredAt != nil && call.TalkSeconds == nil {
		talk := int(now.Sub(*call.AnsweredAt).Seconds())
		if talk < 0 {
			talk = 0
		}
		call.TalkSeconds = &talk
	}
	return true
}
