package ami

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// State is the connection lifecycle phase.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
)

// ConnConfig holds the dial and handshake parameters for one AMI connection.
type ConnConfig struct {
	Host              string
	Port              int
	DialTimeout       time.Duration
	AuthTimeout       time.Duration
	KeepAliveInterval time.Duration
}

// Conn owns a single TCP socket to the switch manager interface: dialing,
// the login handshake, and the periodic keep-alive probe. It performs no
// retries and holds no call state; reconnection is the orchestrator's job.
type Conn struct {
	cfg ConnConfig

	mu     sync.Mutex
	state  State
	sock   net.Conn
	kaStop chan struct{}
	kaDone chan struct{}
}

// NewConn creates an unconnected Conn. Zero durations fall back to defaults.
func NewConn(cfg ConnConfig) *Conn {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	return &Conn{cfg: cfg, state: StateDisconnected}
}

// State returns the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the handshake has completed and the socket is live.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Socket exposes the raw stream for the read loop. Returns nil when
// disconnected.
func (c *Conn) Socket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

// Connect opens the TCP socket with a bounded timeout.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.sock != nil {
		c.mu.Unlock()
		return fmt.Errorf("ami: already connected")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	sock, err := net.DialTimeout("tcp", addr, c.cfg.DialTimeout)
	if err != nil {
		c.setState(StateDisconnected)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return newError(ConnectTimeout, fmt.Sprintf("dialing %s", addr), err)
		}
		return newError(ConnectError, fmt.Sprintf("dialing %s", addr), err)
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()
	return nil
}

// authentication response markers
const (
	markerAuthAccepted = "Authentication accepted"
	markerAuthFailed   = "Authentication failed"
)

// Authenticate writes the login block and accumulates response bytes until a
// success or error marker is seen, or the auth timeout elapses. The banner
// line that precedes the response is consumed as part of the scan.
func (c *Conn) Authenticate(username, secret string, events bool) error {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return fmt.Errorf("ami: authenticate on closed connection")
	}
	c.setState(StateAuthenticating)

	ev := "off"
	if events {
		ev = "on"
	}
	login := NewMessage(
		"Action", "Login",
		"Username", username,
		"Secret", secret,
		"Events", ev,
	)
	if _, err := sock.Write(EncodeAction(login)); err != nil {
		c.setState(StateDisconnected)
		return newError(ConnectError, "writing login", err)
	}

	deadline := time.Now().Add(c.cfg.AuthTimeout)
	if err := sock.SetReadDeadline(deadline); err != nil {
		c.setState(StateDisconnected)
		return newError(ConnectError, "setting auth deadline", err)
	}

	var acc strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			got := acc.String()
			if strings.Contains(got, markerAuthAccepted) || strings.Contains(got, "Response: Success") {
				break
			}
			if strings.Contains(got, markerAuthFailed) || strings.Contains(got, "Response: Error") {
				c.setState(StateDisconnected)
				return newError(AuthRejected, "login rejected by switch", nil)
			}
		}
		if err != nil {
			c.setState(StateDisconnected)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return newError(AuthTimeout, "no auth response before deadline", err)
			}
			return newError(ConnectError, "reading auth response", err)
		}
	}

	// Clear the deadline so the event read loop blocks indefinitely.
	if err := sock.SetReadDeadline(time.Time{}); err != nil {
		c.setState(StateDisconnected)
		return newError(ConnectError, "clearing auth deadline", err)
	}

	c.setState(StateConnected)
	return nil
}

// StartKeepAlive begins the periodic no-op probe that keeps idle connections
// from being dropped. Probe write failures are logged, not fatal; a dead
// socket surfaces through the read loop instead.
func (c *Conn) StartKeepAlive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kaStop != nil || c.sock == nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.kaStop = stop
	c.kaDone = done
	sock := c.sock

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.KeepAliveInterval)
		defer ticker.Stop()
		n := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n++
				ping := NewMessage("Action", "Ping", "ActionID", fmt.Sprintf("keepalive-%d", n))
				if _, err := sock.Write(EncodeAction(ping)); err != nil {
					slog.Warn("keep-alive probe failed", "error", err)
				}
			}
		}
	}()
}

// StopKeepAlive stops the probe goroutine and waits for it to exit. Safe to
// call when no probe is running.
func (c *Conn) StopKeepAlive() {
	c.mu.Lock()
	stop, done := c.kaStop, c.kaDone
	c.kaStop, c.kaDone = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Close tears down the socket and transitions to disconnected. Safe to call
// in any state and more than once.
func (c *Conn) Close() {
	c.StopKeepAlive()
	c.mu.Lock()
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
