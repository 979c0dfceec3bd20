package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/callwatch/callwatch/internal/ami"
)

// Stats receives processing counters. Implemented by the metrics package;
// the default discards everything.
type Stats interface {
	EventProcessed(event string)
	EventDiscarded(event string)
	HandlerError(event string)
	Reconnect()
	ConnectionState(connected bool)
}

type nopStats struct{}

func (nopStats) EventProcessed(string) {}
func (nopStats) EventDiscarded(string) {}
func (nopStats) HandlerError(string)   {}
func (nopStats) Reconnect()            {}
func (nopStats) ConnectionState(bool)  {}

// Processor dispatches decoded events to the reconstruction handlers.
// Events outside the allow-list are discarded; a failing handler is logged
// and never stops the stream.
type Processor struct {
	handlers map[string]func(context.Context, ami.Message) error
	stats    Stats
}

// NewProcessor builds the handler table for a Monitor.
func NewProcessor(m *Monitor, stats Stats) *Processor {
	if stats == nil {
		stats = nopStats{}
	}
	return &Processor{
		stats: stats,
		handlers: map[string]func(context.Context, ami.Message) error{
			"Newchannel":      m.handleNewchannel,
			"Newstate":        m.handleNewstate,
			"Hangup":          m.handleHangup,
			"DialBegin":       m.handleDialBegin,
			"DialEnd":         m.handleDialEnd,
			"BridgeEnter":     m.handleBridgeEnter,
			"BridgeLeave":     m.handleBridgeLeave,
			"ExtensionStatus": m.handleExtensionStatus,
		},
	}
}

// OnMessage processes one decoded event. Handler failures and panics are
// contained here; the return value reports them for tests and counters but
// callers are free to ignore it.
func (p *Processor) OnMessage(ctx context.Context, msg ami.Message) error {
	event := msg.Event()
	handler, ok := p.handlers[event]
	if !ok {
		p.stats.EventDiscarded(event)
		slog.Debug("discarding event outside allow-list", "event", event)
		return nil
	}

	err := p.dispatch(ctx, handler, msg)
	if err != nil {
		p.stats.HandlerError(event)
		slog.Error("event handler failed", "event", event,
			"uniqueid", msg.Get("Uniqueid"), "linkedid", msg.Get("Linkedid"), "error", err)
		return err
	}
	p.stats.EventProcessed(event)
	return nil
}

// dispatch runs one handler with panic containment.
func (p *Processor) dispatch(ctx context.Context, handler func(context.Context, ami.Message) error, msg ami.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Run consumes decoded events until the channel closes or the context is
// cancelled. Messages are handled one at a time in arrival order, which
// keeps per-call read-modify-write sequences consistent.
func (p *Processor) Run(ctx context.Context, events <-chan ami.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			_ = p.OnMessage(ctx, msg)
		}
	}
}
