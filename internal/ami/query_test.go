package ami

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncBuffer is a goroutine-safe write sink for query tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestQueriesSendResolvesOnMatchingActionID(t *testing.T) {
	q := NewQueries()
	var w syncBuffer

	done := make(chan struct{})
	var resp Message
	var err error
	go func() {
		defer close(done)
		resp, err = q.Send(&w, NewMessage("Action", "ExtensionState", "Exten", "1001"), time.Second)
	}()

	// Wait until the action hits the wire, then extract its ActionID.
	var id string
	for i := 0; i < 100; i++ {
		if s := w.String(); strings.Contains(s, "ActionID: ") {
			start := strings.Index(s, "ActionID: ") + len("ActionID: ")
			id = strings.TrimSpace(strings.SplitN(s[start:], "\r\n", 2)[0])
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("action was never written")
	}

	if ok := q.Dispatch(NewMessage("Response", "Success", "ActionID", id, "Status", "0")); !ok {
		t.Fatal("Dispatch() = false, want waiter resolved")
	}

	<-done
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got := resp.Get("Status"); got != "0" {
		t.Errorf("resp.Get(Status) = %q, want 0", got)
	}
	if q.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", q.Pending())
	}
}

func TestQueriesSendTimesOut(t *testing.T) {
	q := NewQueries()
	var w syncBuffer

	_, err := q.Send(&w, NewMessage("Action", "Ping"), 20*time.Millisecond)
	if err == nil {
		t.Fatal("Send() succeeded, want timeout")
	}
	if kind := KindOf(err); kind != QueryTimeout {
		t.Errorf("KindOf(err) = %q, want %q", kind, QueryTimeout)
	}
	if q.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", q.Pending())
	}
}

func TestQueriesDispatchUnknownActionID(t *testing.T) {
	q := NewQueries()
	if q.Dispatch(NewMessage("Response", "Success", "ActionID", "keepalive-3")) {
		t.Error("Dispatch() = true for unregistered ActionID, want false")
	}
	if q.Dispatch(NewMessage("Response", "Success")) {
		t.Error("Dispatch() = true for reply without ActionID, want false")
	}
}

func TestQueriesActionIDsIncrease(t *testing.T) {
	q := NewQueries()
	var w syncBuffer

	for i := 0; i < 3; i++ {
		q.Send(&w, NewMessage("Action", "Ping"), time.Millisecond) //nolint:errcheck
	}
	s := w.String()
	for _, id := range []string{"ActionID: 1\r\n", "ActionID: 2\r\n", "ActionID: 3\r\n"} {
		if !strings.Contains(s, id) {
			t.Errorf("wire output missing %q", id)
		}
	}
}

func TestQueriesFailAllUnblocksSenders(t *testing.T) {
	q := NewQueries()
	var w syncBuffer

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Send(&w, NewMessage("Action", "Ping"), 5*time.Second)
		errCh <- err
	}()

	for i := 0; i < 100 && q.Pending() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	q.FailAll()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Send() succeeded after FailAll, want error")
		}
	case <-time.After(time.Second):
		t.Fatal("Send() still blocked after FailAll")
	}
}
