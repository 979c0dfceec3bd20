package models

import "time"

// CallState is the explicit lifecycle state of a Call. Transitions are
// strictly forward: ringing -> answered -> ended, with answered optional for
// calls that never connect.
type CallState string

const (
	CallRinging  CallState = "ringing"
	CallAnswered CallState = "answered"
	CallEnded    CallState = "ended"
)

// Call direction values.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionUnknown  = "unknown"
)

// Call is one logical call, keyed by the linkedid shared by every channel
// participating in it. Identity fields (direction, other party, agent
// extension) are set once and never overwritten; closed calls are kept, not
// deleted.
type Call struct {
	LinkedID    string
	State       CallState
	Direction   string
	OtherParty  string
	CallerNum   string
	CallerName  string
	AgentExten  string
	StartedAt   time.Time
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	RingSeconds *int
	TalkSeconds *int
	DialStatus  string
	HangupCause string
	Disposition string
}

// CallLeg is one channel within a Call, keyed by uniqueid.
type CallLeg struct {
	UniqueID      string
	LinkedID      string
	Channel       string
	Exten         string
	Context       string
	StateCode     *int
	StateDesc     string
	CallerNum     string
	CallerName    string
	ConnectedNum  string
	ConnectedName string
	StartedAt     time.Time
	AnsweredAt    *time.Time
	HangupAt      *time.Time
	HangupCause   string
}

// BridgeSegment records one channel's membership interval in a media bridge.
// LeftAt is nil while the channel is still in the bridge.
type BridgeSegment struct {
	ID        int64
	LinkedID  string
	Channel   string
	EnteredAt time.Time
	LeftAt    *time.Time
}

// Extension availability values.
const (
	ExtOnline  = "online"
	ExtOffline = "offline"
	ExtUnknown = "unknown"
)

// Extension is a monitored endpoint, keyed by its 3-5 digit number.
// Rows are provisioned through the admin API; the event stream only ever
// updates existing ones.
type Extension struct {
	Number           string
	Name             string
	Status           string
	StatusCode       int
	DeviceState      string
	LastSeen         *time.Time
	LastStatusChange *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AdminUser is an operator account for the HTTP API.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
