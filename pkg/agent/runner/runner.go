// Package runner implements the Agent Connection Runner (C7): the
// single logical WebSocket session an Agent maintains with a Server,
// including authentication, reconnect-with-backoff, and the
// full-duplex event/command pump.
package runner

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/hetuflow/pkg/events"
	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// State is the Runner's session state, mirroring the source's
// Disconnected/Connecting/Authenticating/Connected state machine.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
)

const reconnectSleep = 10 * time.Second

// Runner owns one logical session with the Server. It is safe to call
// Send concurrently with Run.
type Runner struct {
	cfg          Config
	capabilities types.AgentCapabilities
	logger       zerolog.Logger

	sendCh  chan *protocol.EventMessage
	broker  *events.Broker[protocol.CommandMessage]
	stopCh  chan struct{}
	stopped sync.Once

	mu    sync.RWMutex
	state State
}

// New constructs a Runner. capabilities is sent as part of the
// AgentRegister handshake on every (re)connect.
func New(cfg Config, capabilities types.AgentCapabilities) *Runner {
	r := &Runner{
		cfg:          cfg,
		capabilities: capabilities,
		logger:       log.WithComponent("runner"),
		sendCh:       make(chan *protocol.EventMessage, 4096),
		broker:       events.NewBroker[protocol.CommandMessage](),
		stopCh:       make(chan struct{}),
		state:        StateDisconnected,
	}
	r.broker.Start()
	return r
}

// Send enqueues msg for delivery to the Server. Implements
// process.EventSender. Ordering is preserved within one open session;
// across reconnects no ordering is guaranteed.
func (r *Runner) Send(msg *protocol.EventMessage) {
	select {
	case r.sendCh <- msg:
	case <-r.stopCh:
	}
}

// Subscribe returns a channel of CommandMessages decoded from the
// Server. Callers must Unsubscribe.
func (r *Runner) Subscribe() events.Subscriber[protocol.CommandMessage] {
	return r.broker.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (r *Runner) Unsubscribe(sub events.Subscriber[protocol.CommandMessage]) {
	r.broker.Unsubscribe(sub)
}

// State returns the Runner's current session state.
func (r *Runner) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Stop ends the Run loop after the current session closes.
func (r *Runner) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
	r.broker.Stop()
}

// Run blocks, maintaining the session until Stop is called. Any
// non-shutdown exit from a session sleeps 10s and reconnects, matching
// the source's run_loop retry wrapper.
func (r *Runner) Run() error {
	for {
		select {
		case <-r.stopCh:
			r.logger.Info().Msg("runner stopped")
			return nil
		default:
		}

		if err := r.runSession(); err != nil {
			r.logger.Error().Err(err).Msg("websocket session ended, retrying in 10s")
		}
		r.setState(StateDisconnected)

		select {
		case <-r.stopCh:
			return nil
		case <-time.After(reconnectSleep):
		}
	}
}

func (r *Runner) runSession() error {
	conn, err := r.connectWithRetry()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := r.register(conn); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	r.setState(StateConnected)

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go r.heartbeatLoop(heartbeatDone)

	readCh := make(chan *protocol.CommandMessage)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			var msg protocol.CommandMessage
			if err := conn.ReadJSON(&msg); err != nil {
				readErrCh <- err
				return
			}
			readCh <- &msg
		}
	}()

	for {
		select {
		case <-r.stopCh:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case event := <-r.sendCh:
			if err := conn.WriteJSON(event); err != nil {
				return fmt.Errorf("send event to server: %w", err)
			}
		case cmd := <-readCh:
			r.broker.Publish(cmd)
		case err := <-readErrCh:
			return fmt.Errorf("websocket receive error: %w", err)
		}
	}
}

// heartbeatLoop sends a Heartbeat event every HeartbeatInterval until the
// session ends or the Runner is stopped.
func (r *Runner) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			msg, err := protocol.NewEventMessage(protocol.EventHeartbeat, r.cfg.AgentID, protocol.HeartbeatPayload{
				AgentID: r.cfg.AgentID,
			})
			if err != nil {
				continue
			}
			r.Send(msg)
		}
	}
}

func (r *Runner) connectWithRetry() (*websocket.Conn, error) {
	r.setState(StateConnecting)

	u, err := url.Parse(r.cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	header := http.Header{}
	if r.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	r.logger.Info().Str("url", u.String()).Msg("connecting to server")

	for attempt := 0; attempt < r.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-r.stopCh:
			return nil, fmt.Errorf("shutdown signal received while connecting")
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ConnectTimeout)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
		cancel()
		if err == nil {
			r.logger.Info().Int("attempts", attempt+1).Msg("connected to server")
			return conn, nil
		}

		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect attempt failed")
		select {
		case <-r.stopCh:
			return nil, fmt.Errorf("shutdown signal received while connecting")
		case <-time.After(r.backoffDelay(attempt)):
		}
	}

	return nil, fmt.Errorf("failed to connect to server after %d attempts", r.cfg.MaxReconnectAttempts)
}

func (r *Runner) backoffDelay(attempt int) time.Duration {
	factor := math.Pow(r.cfg.BackoffRate, float64(attempt))
	delay := time.Duration(float64(r.cfg.ReconnectInterval) * factor)
	maxDelay := 60 * time.Second
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (r *Runner) register(conn *websocket.Conn) error {
	r.setState(StateAuthenticating)

	localAddr := ""
	if conn.LocalAddr() != nil {
		localAddr = conn.LocalAddr().String()
	}

	msg, err := protocol.NewEventMessage(protocol.EventAgentRegister, r.cfg.AgentID, protocol.AgentRegisterPayload{
		AgentID:      r.cfg.AgentID,
		Name:         r.cfg.Name,
		Capabilities: r.capabilities,
		LocalAddress: localAddr,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send register frame: %w", err)
	}

	var ack protocol.CommandMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read register ack: %w", err)
	}
	if ack.Kind != protocol.CommandAgentRegistered {
		return fmt.Errorf("unexpected ack kind %q", ack.Kind)
	}

	var payload protocol.AgentRegisteredPayload
	if err := ack.DecodePayload(&payload); err != nil {
		return fmt.Errorf("decode register ack: %w", err)
	}
	if !payload.Success {
		return fmt.Errorf("server rejected registration: %s", payload.Message)
	}

	r.logger.Info().Str("agent_id", r.cfg.AgentID).Msg("agent registered")
	return nil
}
