package ami

import (
	"bytes"
	"strings"
)

// terminator separates AMI blocks on the wire.
var terminator = []byte("\r\n\r\n")

// Decoder turns a fragmented AMI byte stream back into complete messages.
// Feed it whatever the socket hands you; it buffers partial blocks across
// reads and yields each complete block exactly once, in order.
type Decoder struct {
	buf bytes.Buffer
}

// Write appends raw bytes from the transport to the internal buffer.
func (d *Decoder) Write(p []byte) {
	d.buf.Write(p)
}

// Next extracts the next complete message from the buffer. It returns
// ok=false when no full block is buffered yet. Blocks that decode to no
// recognizable fields (no Event, no Response, no ActionID) are dropped and
// the scan continues with the following block.
func (d *Decoder) Next() (Message, bool) {
	for {
		raw := d.buf.Bytes()
		idx := bytes.Index(raw, terminator)
		if idx < 0 {
			return Message{}, false
		}

		block := string(raw[:idx])
		d.buf.Next(idx + len(terminator))

		m := parseBlock(block)
		if m.Event() == "" && !m.IsResponse() && m.ActionID() == "" {
			// Banner lines and noise decode to nothing useful.
			continue
		}
		return m, true
	}
}

// Buffered returns the number of bytes held for a future incomplete block.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// parseBlock splits a block into Key: Value fields. Each line is split on
// the first ": " occurrence; lines without that separator are ignored.
func parseBlock(block string) Message {
	var m Message
	for _, line := range strings.Split(block, "\r\n") {
		idx := strings.Index(line, ": ")
		if idx < 0 {
			continue
		}
		m.fields = append(m.fields, field{Key: line[:idx], Value: line[idx+2:]})
	}
	return m
}

// EncodeAction renders an outbound action block, appending the blank-line
// terminator. Fields are written in the order given.
func EncodeAction(m Message) []byte {
	var b bytes.Buffer
	for _, f := range m.fields {
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}
