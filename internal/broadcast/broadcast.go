// Package broadcast delivers call and extension state changes to downstream
// observers. Delivery is fire-and-forget: the reconstruction logic never
// blocks on, or fails because of, a slow sink.
package broadcast

import (
	"time"

	"github.com/callwatch/callwatch/internal/database/models"
)

// Sink receives a notification after each meaningful state mutation.
type Sink interface {
	CallUpdated(call *models.Call)
	ExtensionStatusUpdated(ext *models.Extension)
}

// Envelope is the JSON wrapper for every published notification.
type Envelope struct {
	ID        string           `json:"id"`
	Kind      string           `json:"kind"` // "call" | "extension"
	Timestamp time.Time        `json:"timestamp"`
	Call      *CallUpdate      `json:"call,omitempty"`
	Extension *ExtensionUpdate `json:"extension,omitempty"`
}

// CallUpdate is the published view of a Call.
type CallUpdate struct {
	LinkedID    string     `json:"linkedid"`
	State       string     `json:"state"`
	Direction   string     `json:"direction"`
	OtherParty  string     `json:"other_party,omitempty"`
	CallerNum   string     `json:"caller_num,omitempty"`
	CallerName  string     `json:"caller_name,omitempty"`
	AgentExten  string     `json:"agent_exten,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	RingSeconds *int       `json:"ring_seconds,omitempty"`
	TalkSeconds *int       `json:"talk_seconds,omitempty"`
	DialStatus  string     `json:"dial_status,omitempty"`
	HangupCause string     `json:"hangup_cause,omitempty"`
	Disposition string     `json:"disposition,omitempty"`
}

// ExtensionUpdate is the published view of an Extension.
type ExtensionUpdate struct {
	Number      string     `json:"number"`
	Status      string     `json:"status"`
	StatusCode  int        `json:"status_code"`
	DeviceState string     `json:"device_state"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// NopSink discards every notification. Used when no broker is configured.
type NopSink struct{}

func (NopSink) CallUpdated(*models.Call)                 {}
func (NopSink) ExtensionStatusUpdated(*models.Extension) {}

// NewCallUpdate converts a Call model to its published form.
func NewCallUpdate(c *models.Call) *CallUpdate {
	return &CallUpdate{
		LinkedID:    c.LinkedID,
		State:       string(c.State),
		Direction:   c.Direction,
		OtherParty:  c.OtherParty,
		CallerNum:   c.CallerNum,
		CallerName:  c.CallerName,
		AgentExten:  c.AgentExten,
		StartedAt:   c.StartedAt,
		AnsweredAt:  c.AnsweredAt,
		EndedAt:     c.EndedAt,
		RingSeconds: c.RingSeconds,
		TalkSeconds: c.TalkSeconds,
		DialStatus:  c.DialStatus,
		HangupCause: c.HangupCause,
		Disposition: c.Disposition,
	}
}

// NewExtensionUpdate converts an Extension model to its published form.
func NewExtensionUpdate(e *models.Extension) *ExtensionUpdate {
	return &ExtensionUpdate{
		Number:      e.Number,
		Status:      e.Status,
		StatusCode:  e.StatusCode,
		DeviceState: e.DeviceState,
		LastSeen:    e.LastSeen,
	}
}
