package monitor

import (
	"context"
	"strings"

	"github.com/callwatch/callwatch/internal/ami"
	"github.com/callwatch/callwatch/internal/database/models"
)

// incomingContexts and outgoingContexts are substrings of dialplan context
// names that reveal which way the master channel entered the switch.
var (
	incomingContexts = []string{"from-trunk", "from-pstn", "from-did", "incoming"}
	outgoingContexts = []string{"from-internal", "outbound"}
)

func directionFromContext(context string) string {
	c := strings.ToLower(context)
	for _, s := range incomingContexts {
		if strings.Contains(c, s) {
			return models.DirectionIncoming
		}
	}
	for _, s := range outgoingContexts {
		if strings.Contains(c, s) {
			return models.DirectionOutgoing
		}
	}
	return models.DirectionUnknown
}

// dispositions maps the switch's dial result codes to call dispositions.
var dispositions = map[string]string{
	"ANSWER":     "answered",
	"BUSY":       "busy",
	"NOANSWER":   "no-answer",
	"CANCEL":     "cancelled",
	"CONGESTION": "congestion",
}

// linkedID resolves the call-group key for an event, falling back to the
// channel key when the switch omits Linkedid.
func linkedID(msg ami.Message) string {
	if id := msg.Get("Linkedid"); id != "" {
		return id
	}
	return msg.Get("Uniqueid")
}

// isMaster reports whether the event's channel is the call's master channel.
func isMaster(msg ami.Message) bool {
	return msg.Get("Uniqueid") != "" && msg.Get("Uniqueid") == linkedID(msg)
}

// upsertLeg writes the leg for the event's channel, creating it on first
// sight and refreshing the channel-state fields on every event after that.
func (m *Monitor) upsertLeg(ctx context.Context, msg ami.Message, lid string) (*models.CallLeg, error) {
	uid := msg.Get("Uniqueid")
	leg, err := m.legs.GetByUniqueID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if leg == nil {
		leg = &models.CallLeg{
			UniqueID:  uid,
			LinkedID:  lid,
			StartedAt: m.clock(),
		}
	}

	if v := msg.Get("Channel"); v != "" {
		leg.Channel = v
	}
	if v := msg.Get("Exten"); v != "" {
		leg.Exten = v
	}
	if v := msg.Get("Context"); v != "" {
		leg.Context = v
	}
	if v := msg.Get("ChannelState"); v != "" {
		code := msg.GetInt("ChannelState")
		leg.StateCode = &code
	}
	if v := msg.Get("ChannelStateDesc"); v != "" {
		leg.StateDesc = v
	}
	if v := msg.Get("CallerIDNum"); v != "" {
		leg.CallerNum = NormalizeNumber(v)
	}
	if v := msg.Get("CallerIDName"); v != "" {
		leg.CallerName = v
	}
	if v := msg.Get("ConnectedLineNum"); v != "" {
		leg.ConnectedNum = NormalizeNumber(v)
	}
	if v := msg.Get("ConnectedLineName"); v != "" {
		leg.ConnectedName = v
	}

	if err := m.legs.Upsert(ctx, leg); err != nil {
		return nil, err
	}
	return leg, nil
}

// handleNewchannel creates the Call on its first channel and records the
// new leg. Call-level identity fields are inferred on the master event only,
// and only when not already set.
func (m *Monitor) handleNewchannel(ctx context.Context, msg ami.Message) error {
	uid := msg.Get("Uniqueid")
	if uid == "" {
		return nil
	}
	lid := linkedID(msg)

	call, _, err := m.ensureCall(ctx, lid, "")
	if err != nil {
		return err
	}

	master := isMaster(msg)
	if master {
		if call.Direction == models.DirectionUnknown {
			call.Direction = directionFromContext(msg.Get("Context"))
		}
		if call.CallerNum == "" {
			call.CallerNum = NormalizeNumber(msg.Get("CallerIDNum"))
		}
		if call.CallerName == "" && !strings.EqualFold(msg.Get("CallerIDName"), "unknown") {
			call.CallerName = msg.Get("CallerIDName")
		}
		if call.OtherParty == "" {
			switch call.Direction {
			case models.DirectionIncoming:
				call.OtherParty = firstExternal(msg.Get("CallerIDNum"), msg.Get("ConnectedLineNum"))
			case models.DirectionOutgoing:
				call.OtherParty = firstExternal(
					msg.Get("Exten"),
					msg.Get("ConnectedLineNum"),
					msg.Get("CallerIDNum"),
				)
			}
		}
		if call.AgentExten == "" {
			call.AgentExten = AgentExtenFromChannel(msg.Get("Channel"))
		}
	}

	if _, err := m.upsertLeg(ctx, msg, lid); err != nil {
		return err
	}
	if err := m.calls.Upsert(ctx, call); err != nil {
		return err
	}

	if master {
		m.sink.CallUpdated(call)
	}
	return nil
}

// handleNewstate refreshes the leg and advances the call to answered the
// first time any channel reports an up state.
func (m *Monitor) handleNewstate(ctx context.Context, msg ami.Message) error {
	uid := msg.Get("Uniqueid")
	if uid == "" {
		return nil
	}
	lid := linkedID(msg)

	call, _, err := m.ensureCall(ctx, lid, "")
	if err != nil {
		return err
	}

	leg, err := m.upsertLeg(ctx, msg, lid)
	if err != nil {
		return err
	}

	if !strings.EqualFold(msg.Get("ChannelStateDesc"), "Up") {
		return nil
	}

	now := m.clock()
	if leg.AnsweredAt == nil {
		leg.AnsweredAt = &now
		if err := m.legs.Upsert(ctx, leg); err != nil {
			return err
		}
	}

	if !markAnswered(call, now) {
		return nil
	}
	if err := m.calls.Upsert(ctx, call); err != nil {
		return err
	}
	m.sink.CallUpdated(call)
	return nil
}

// handleHangup stamps the leg's hangup and, on the master channel, closes
// the call once no leg remains active.
func (m *Monitor) handleHangup(ctx context.Context, msg ami.Message) error {
	uid := msg.Get("Uniqueid")
	if uid == "" {
		return nil
	}
	lid := linkedID(msg)
	cause := msg.Get("Cause")
	now := m.clock()

	leg, err := m.legs.GetByUniqueID(ctx, uid)
	if err != nil {
		return err
	}
	if leg != nil && leg.HangupAt == nil {
		leg.HangupAt = &now
		leg.HangupCause = cause
		if err := m.legs.Upsert(ctx, leg); err != nil {
			return err
		}
	}

	if !isMaster(msg) {
		return nil
	}

	call, err := m.calls.GetByLinkedID(ctx, lid)
	if err != nil {
		return err
	}
	if call == nil {
		return nil
	}

	active, err := m.legs.CountActiveByLinkedID(ctx, lid)
	if err != nil {
		return err
	}
	if active == 0 && markEnded(call, now, cause) {
		if err := m.calls.Upsert(ctx, call); err != nil {
			return err
		}
	}
	m.sink.CallUpdated(call)
	return nil
}

// handleDialBegin hints outgoing direction while the call is being created
// and fills in the other party from the dialed number.
func (m *Monitor) handleDialBegin(ctx context.Context, msg ami.Message) error {
	lid := linkedID(msg)
	if lid == "" {
		return nil
	}

	hint := ""
	target := DialTarget(msg.Get("DialString"))
	if LooksExternal(target) || directionFromContext(msg.Get("Context")) == models.DirectionOutgoing {
		hint = models.DirectionOutgoing
	}

	call, _, err := m.ensureCall(ctx, lid, hint)
	if err != nil {
		return err
	}

	if call.OtherParty == "" && call.Direction == models.DirectionOutgoing {
		call.OtherParty = firstExternal(target, msg.Get("DestCallerIDNum"), msg.Get("DestConnectedLineNum"))
	}
	if err := m.calls.Upsert(ctx, call); err != nil {
		return err
	}
	m.sink.CallUpdated(call)
	return nil
}

// handleDialEnd records the dial result on an existing call. Unknown calls
// are left untouched; this event never creates one.
func (m *Monitor) handleDialEnd(ctx context.Context, msg ami.Message) error {
	lid := linkedID(msg)
	if lid == "" {
		return nil
	}

	call, err := m.calls.GetByLinkedID(ctx, lid)
	if err != nil {
		return err
	}
	if call == nil {
		return nil
	}

	status := msg.Get("DialStatus")
	call.DialStatus = status
	if d, ok := dispositions[status]; ok {
		call.Disposition = d
	}
	if err := m.calls.Upsert(ctx, call); err != nil {
		return err
	}
	m.sink.CallUpdated(call)
	return nil
}

// resolveLinkedID returns the event's call-group key, falling back to the
// leg table when the event carries only a channel key.
func (m *Monitor) resolveLinkedID(ctx context.Context, msg ami.Message) (string, error) {
	if id := msg.Get("Linkedid"); id != "" {
		return id, nil
	}
	uid := msg.Get("Uniqueid")
	if uid == "" {
		return "", nil
	}
	leg, err := m.legs.GetByUniqueID(ctx, uid)
	if err != nil {
		return "", err
	}
	if leg != nil {
		return leg.LinkedID, nil
	}
	return uid, nil
}

// handleBridgeEnter opens a bridge segment for the channel and treats the
// first bridge as the answer signal for calls that never reported an up
// state.
func (m *Monitor) handleBridgeEnter(ctx context.Context, msg ami.Message) error {
	lid, err := m.resolveLinkedID(ctx, msg)
	if err != nil {
		return err
	}
	if lid == "" {
		return nil
	}

	call, _, err := m.ensureCall(ctx, lid, "")
	if err != nil {
		return err
	}

	now := m.clock()
	changed := markAnswered(call, now)
	if call.AgentExten == "" {
		if exten := AgentExtenFromChannel(msg.Get("Channel")); exten != "" {
			call.AgentExten = exten
			changed = true
		}
	}
	if changed {
		if err := m.calls.Upsert(ctx, call); err != nil {
			return err
		}
	}

	seg := &models.BridgeSegment{
		LinkedID:  lid,
		Channel:   msg.Get("Channel"),
		EnteredAt: now,
	}
	if err := m.bridges.Open(ctx, seg); err != nil {
		return err
	}

	m.sink.CallUpdated(call)
	return nil
}

// handleBridgeLeave closes the most recent open segment for the channel.
// Bridge membership is not surfaced live, so no broadcast.
func (m *Monitor) handleBridgeLeave(ctx context.Context, msg ami.Message) error {
	lid, err := m.resolveLinkedID(ctx, msg)
	if err != nil {
		return err
	}
	if lid == "" {
		return nil
	}
	_, err = m.bridges.CloseLatest(ctx, lid, msg.Get("Channel"), m.clock())
	return err
}
