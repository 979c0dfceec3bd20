package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callwatch/callwatch/internal/ami"
)

// ServiceState is the orchestrator lifecycle phase, distinct from the raw
// socket state: it covers the reconnect loop as a whole.
type ServiceState string

const (
	ServiceStopped        ServiceState = "stopped"
	ServiceConnecting     ServiceState = "connecting"
	ServiceAuthenticating ServiceState = "authenticating"
	ServiceRunning        ServiceState = "running"
)

// ServiceConfig holds everything the orchestrator needs to reach the switch
// and to decide how hard to try.
type ServiceConfig struct {
	Host     string
	Port     int
	Username string
	Secret   string
	Events   bool

	DialTimeout          time.Duration
	AuthTimeout          time.Duration
	KeepAliveInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	QueryTimeout         time.Duration
}

// Status is a point-in-time snapshot of the orchestrator for the API.
type Status struct {
	State     ServiceState `json:"state"`
	Connected bool         `json:"connected"`
	Attempts  int          `json:"reconnect_attempts"`
	LastError string       `json:"last_error,omitempty"`
}

// Service drives the whole connection lifecycle: dial, login, attach the
// event pump, and reconnect with a fixed delay when the session drops. After
// MaxReconnectAttempts consecutive failures it gives up and stays stopped
// until Start is called again.
type Service struct {
	cfg     ServiceConfig
	proc    *Processor
	queries *ami.Queries
	stats   Stats

	mu       sync.Mutex
	state    ServiceState
	attempts int
	lastErr  error
	conn     *ami.Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewService wires an orchestrator around an already-built processor.
func NewService(cfg ServiceConfig, proc *Processor, stats Stats) *Service {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if stats == nil {
		stats = nopStats{}
	}
	return &Service{
		cfg:     cfg,
		proc:    proc,
		queries: ami.NewQueries(),
		stats:   stats,
		state:   ServiceStopped,
	}
}

// Start launches the connect/reconnect loop. Returns an error only when the
// service is already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.attempts = 0
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(runCtx)
		// Allow a fresh Start after the loop gives up on its own.
		s.mu.Lock()
		if s.done == done {
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop tears the session down and waits for the loop to exit. Safe to call
// in any state and more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	conn := s.conn
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close() // unblocks the read pump
	}
	<-done
}

// Status reports the current lifecycle snapshot.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state, Attempts: s.attempts}
	if s.conn != nil {
		st.Connected = s.conn.Connected()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Healthy reports whether an authenticated session is currently live.
func (s *Service) Healthy() bool {
	st := s.Status()
	return st.State == ServiceRunning && st.Connected
}

// RefreshExtensions asks the switch to replay the state of every watched
// hint. The resulting status events arrive on the normal stream and flow
// through the regular handler.
func (s *Service) RefreshExtensions() error {
	s.mu.Lock()
	conn := s.conn
	running := s.state == ServiceRunning
	s.mu.Unlock()
	if !running || conn == nil || !conn.Connected() {
		return fmt.Errorf("monitor: not connected")
	}
	sock := conn.Socket()
	if sock == nil {
		return fmt.Errorf("monitor: not connected")
	}
	_, err := s.queries.Send(sock, ami.NewMessage("Action", "ExtensionStateList"), s.cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("extension state list: %w", err)
	}
	return nil
}

// run is the reconnect loop. Each iteration is one full session attempt;
// consecutive failures share the attempt counter, which resets once a login
// succeeds.
func (s *Service) run(ctx context.Context) {
	defer s.setState(ServiceStopped)

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.session(ctx)
		s.stats.ConnectionState(false)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.lastErr = err
		s.attempts++
		attempts := s.attempts
		s.mu.Unlock()

		if err != nil {
			slog.Error("switch session ended", "attempt", attempts,
				"max_attempts", s.cfg.MaxReconnectAttempts, "error", err)
		} else {
			slog.Warn("switch session ended", "attempt", attempts)
		}

		if attempts >= s.cfg.MaxReconnectAttempts {
			slog.Error("giving up after repeated connection failures",
				"attempts", attempts)
			return
		}

		s.stats.Reconnect()
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// session runs one connect-login-pump cycle and returns when the socket dies
// or the context is cancelled.
func (s *Service) session(ctx context.Context) error {
	conn := ami.NewConn(ami.ConnConfig{
		Host:              s.cfg.Host,
		Port:              s.cfg.Port,
		DialTimeout:       s.cfg.DialTimeout,
		AuthTimeout:       s.cfg.AuthTimeout,
		KeepAliveInterval: s.cfg.KeepAliveInterval,
	})
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		conn.Close()
		s.queries.FailAll()
	}()

	s.setState(ServiceConnecting)
	if err := conn.Connect(); err != nil {
		return err
	}

	s.setState(ServiceAuthenticating)
	if err := conn.Authenticate(s.cfg.Username, s.cfg.Secret, s.cfg.Events); err != nil {
		return err
	}

	s.setState(ServiceRunning)
	s.mu.Lock()
	s.attempts = 0
	s.lastErr = nil
	s.mu.Unlock()
	s.stats.ConnectionState(true)
	slog.Info("connected to switch", "host", s.cfg.Host, "port", s.cfg.Port)

	conn.StartKeepAlive()
	defer conn.StopKeepAlive()

	// Prime extension state so the board is accurate before any live event.
	go func() {
		if err := s.RefreshExtensions(); err != nil {
			slog.Warn("initial extension sweep failed", "error", err)
		}
	}()

	return s.pump(ctx, conn)
}

// pump splits the socket into two goroutines: this one reads and decodes,
// a second drains the channel and runs handlers one at a time. Responses to
// queries are routed to their waiters and never reach the handlers.
func (s *Service) pump(ctx context.Context, conn *ami.Conn) error {
	sock := conn.Socket()
	if sock == nil {
		return fmt.Errorf("monitor: socket gone before pump start")
	}

	events := make(chan ami.Message, 256)
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		s.proc.Run(ctx, events)
	}()
	defer func() {
		close(events)
		<-procDone
	}()

	var dec ami.Decoder
	buf := make([]byte, 4096)
	for {
		n, err := sock.Read(buf)
		if n > 0 {
			dec.Write(buf[:n])
			for {
				msg, ok := dec.Next()
				if !ok {
					break
				}
				if msg.IsResponse() {
					if !s.queries.Dispatch(msg) {
						slog.Debug("unclaimed response", "actionid", msg.ActionID())
					}
					continue
				}
				select {
				case events <- msg:
				case <-ctx.Done():
					return nil
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
	}
}

func (s *Service) setState(st ServiceState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
