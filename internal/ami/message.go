package ami

import "strconv"

// Message is one decoded AMI block: an ordered list of Key: Value fields.
// Field order is preserved because Asterisk emits duplicate keys (for example
// multiple ChanVariable lines) whose meaning depends on position.
type Message struct {
	fields []field
}

type field struct {
	Key   string
	Value string
}

// NewMessage builds a Message from alternating key, value pairs. Intended for
// tests and for constructing outbound actions.
func NewMessage(kvs ...string) Message {
	var m Message
	for i := 0; i+1 < len(kvs); i += 2 {
		m.fields = append(m.fields, field{Key: kvs[i], Value: kvs[i+1]})
	}
	return m
}

// Get returns the value of the first field with the given key, or "".
func (m Message) Get(key string) string {
	for _, f := range m.fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// GetInt returns the integer value for key, or 0 if absent or unparseable.
func (m Message) GetInt(key string) int {
	v, _ := strconv.Atoi(m.Get(key))
	return v
}

// Event returns the value of the Event field (empty for responses).
func (m Message) Event() string {
	return m.Get("Event")
}

// ActionID returns the correlation token echoed on query replies.
func (m Message) ActionID() string {
	return m.Get("ActionID")
}

// IsResponse reports whether this block is a reply to an action rather than
// an unsolicited event.
func (m Message) IsResponse() bool {
	return m.Get("Response") != ""
}

// Len returns the number of fields in the message.
func (m Message) Len() int {
	return len(m.fields)
}

// Fields returns the fields as alternating key, value strings in wire order.
func (m Message) Fields() []string {
	out := make([]string, 0, len(m.fields)*2)
	for _, f := range m.fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}
