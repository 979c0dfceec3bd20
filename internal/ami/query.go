package ami

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Queries correlates request/response traffic sharing the event socket.
// Each outbound action gets a monotonically increasing ActionID; the reply
// carrying the same token resolves the registered waiter. The table is owned
// by the connection that created it, never process-wide.
type Queries struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[string]chan Message
}

// NewQueries creates an empty correlation table.
func NewQueries() *Queries {
	return &Queries{pending: make(map[string]chan Message)}
}

// Send writes the action to w with a fresh ActionID appended and blocks until
// the matching reply arrives or the timeout fires. A timeout rejects only
// this request; the event stream is unaffected.
func (q *Queries) Send(w io.Writer, action Message, timeout time.Duration) (Message, error) {
	q.mu.Lock()
	q.nextID++
	id := fmt.Sprintf("%d", q.nextID)
	ch := make(chan Message, 1)
	q.pending[id] = ch
	q.mu.Unlock()

	action.fields = append(action.fields, field{Key: "ActionID", Value: id})

	if _, err := w.Write(EncodeAction(action)); err != nil {
		q.remove(id)
		return Message{}, fmt.Errorf("writing action: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		q.remove(id)
		if !ok {
			return Message{}, newError(QueryTimeout, "connection closed while waiting", nil)
		}
		return resp, nil
	case <-timer.C:
		q.remove(id)
		return Message{}, newError(QueryTimeout, fmt.Sprintf("no reply for ActionID %s within %s", id, timeout), nil)
	}
}

// Dispatch routes a decoded response to its waiter. Returns false when no
// waiter is registered for the reply's ActionID (for example keep-alive pongs).
func (q *Queries) Dispatch(m Message) bool {
	id := m.ActionID()
	if id == "" {
		return false
	}
	q.mu.Lock()
	ch, ok := q.pending[id]
	q.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- m:
	default:
	}
	return true
}

// FailAll closes every pending waiter. Called when the socket dies so blocked
// senders do not wait out their full timeout.
func (q *Queries) FailAll() {
	q.mu.Lock()
	for id, ch := range q.pending {
		close(ch)
		delete(q.pending, id)
	}
	q.mu.Unlock()
}

// Pending returns the number of in-flight queries.
func (q *Queries) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queries) remove(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
