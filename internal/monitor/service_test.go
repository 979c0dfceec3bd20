package monitor

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/callwatch/callwatch/internal/ami"
	"github.com/callwatch/callwatch/internal/database/models"
)

// scriptedSwitch is a minimal manager-port stand-in: it accepts one client,
// completes the login handshake, then plays the given event blocks.
type scriptedSwitch struct {
	ln     net.Listener
	events []ami.Message
}

func newScriptedSwitch(t *testing.T, events []ami.Message) *scriptedSwitch {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	s := &scriptedSwitch{ln: ln, events: events}
	go s.serve()
	return s
}

func (s *scriptedSwitch) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *scriptedSwitch) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	conn.Write([]byte("Asterisk Call Manager/5.0.2\r\n"))

	// Wait for the login block before replying.
	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "Action: Login") {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		got.Write(buf[:n])
	}
	conn.Write([]byte("Response: Success\r\nMessage: Authentication accepted\r\n\r\n"))

	for _, e := range s.events {
		conn.Write(ami.EncodeAction(e))
	}

	// Hold the socket open so the session does not end mid-test.
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServiceEndToEnd(t *testing.T) {
	m, store, _, _ := newTestMonitor(t)

	sw := newScriptedSwitch(t, []ami.Message{
		ev("Event", "Newchannel", "Uniqueid", "700.1", "Linkedid", "700.1",
			"Channel", "PJSIP/trunk-0000000b", "Context", "from-trunk",
			"CallerIDNum", "+35927778899", "CallerIDName", "Bob"),
		ev("Event", "Newstate", "Uniqueid", "700.1", "Linkedid", "700.1",
			"Channel", "PJSIP/trunk-0000000b", "ChannelStateDesc", "Up"),
		ev("Event", "Hangup", "Uniqueid", "700.1", "Linkedid", "700.1",
			"Channel", "PJSIP/trunk-0000000b", "Cause", "16"),
	})

	svc := NewService(ServiceConfig{
		Host:         "127.0.0.1",
		Port:         sw.port(),
		Username:     "monitor",
		Secret:       "secret",
		Events:       true,
		DialTimeout:  time.Second,
		AuthTimeout:  time.Second,
		QueryTimeout: 50 * time.Millisecond,
	}, NewProcessor(m, nil), nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return svc.Status().State == ServiceRunning
	}, "service never reached running")

	ctx := context.Background()
	waitFor(t, 3*time.Second, func() bool {
		call, _ := store.Calls().GetByLinkedID(ctx, "700.1")
		return call != nil && call.State == models.CallEnded
	}, "call never reconstructed from the live stream")

	call, _ := store.Calls().GetByLinkedID(ctx, "700.1")
	if call.Direction != models.DirectionIncoming {
		t.Errorf("direction = %q, want incoming", call.Direction)
	}
	if call.OtherParty != "+35927778899" {
		t.Errorf("other_party = %q, want +35927778899", call.OtherParty)
	}

	svc.Stop()
	if st := svc.Status().State; st != ServiceStopped {
		t.Errorf("state after stop = %q, want stopped", st)
	}
	// Stop twice is fine.
	svc.Stop()
}

func TestServiceGivesUpAfterMaxAttempts(t *testing.T) {
	// Grab a port with no listener behind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	m, _, _, _ := newTestMonitor(t)
	stats := newCountingStats()
	svc := NewService(ServiceConfig{
		Host:                 "127.0.0.1",
		Port:                 port,
		Username:             "monitor",
		Secret:               "secret",
		DialTimeout:          200 * time.Millisecond,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, NewProcessor(m, stats), stats)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return svc.Status().State == ServiceStopped
	}, "service never gave up")

	st := svc.Status()
	if st.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", st.Attempts)
	}
	if st.LastError == "" {
		t.Error("no last error recorded")
	}
	if svc.Healthy() {
		t.Error("stopped service reports healthy")
	}

	// The loop is gone: the counter must not move any more.
	time.Sleep(100 * time.Millisecond)
	if got := svc.Status().Attempts; got != 3 {
		t.Errorf("attempts moved after stop: %d", got)
	}

	if err := svc.RefreshExtensions(); err == nil {
		t.Error("refresh on stopped service did not fail")
	}
	svc.Stop()
}
