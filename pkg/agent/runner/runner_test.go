package runner

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/hetuflow/pkg/gateway"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (string, *gateway.Gateway) {
	t.Helper()
	gw := gateway.New(nil)
	ts := httptest.NewServer(http.HandlerFunc(gw.ServeWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), gw
}

func TestRunnerConnectsRegistersAndReportsConnected(t *testing.T) {
	url, gw := newTestServer(t)

	cfg := DefaultConfig(url, "agt-1")
	cfg.ReconnectInterval = 10 * time.Millisecond
	r := New(cfg, types.AgentCapabilities{MaxConcurrentTasks: 4})

	go r.Run()
	defer r.Stop()

	assert.Eventually(t, func() bool { return gw.Count() == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return r.State() == StateConnected }, 2*time.Second, 20*time.Millisecond)
}

func TestRunnerSendDeliversEventToServer(t *testing.T) {
	url, gw := newTestServer(t)

	received := make(chan *protocol.EventMessage, 4)
	gw2 := gateway.New(func(agentID string, msg *protocol.EventMessage) { received <- msg })
	ts := httptest.NewServer(http.HandlerFunc(gw2.ServeWebSocket))
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	_ = gw

	cfg := DefaultConfig(wsURL, "agt-1")
	cfg.ReconnectInterval = 10 * time.Millisecond
	r := New(cfg, types.AgentCapabilities{MaxConcurrentTasks: 4})
	go r.Run()
	defer r.Stop()

	require.Eventually(t, func() bool { return r.State() == StateConnected }, 2*time.Second, 20*time.Millisecond)

	msg, err := protocol.NewEventMessage(protocol.EventTaskInstanceUpdated, "agt-1", protocol.TaskInstanceUpdatedPayload{
		TaskID: "task-1", AgentID: "agt-1", Status: types.TaskInstanceStatusSucceeded,
	})
	require.NoError(t, err)
	r.Send(msg)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-received:
			if got.Kind == protocol.EventAgentRegister {
				continue // register fires through onEvent too; keep waiting for the real payload
			}
			assert.Equal(t, protocol.EventTaskInstanceUpdated, got.Kind)
			return
		case <-deadline:
			t.Fatal("server did not receive event")
		}
	}
}

func TestRunnerDeliversCommandsToSubscribers(t *testing.T) {
	url, gw := newTestServer(t)

	cfg := DefaultConfig(url, "agt-1")
	cfg.ReconnectInterval = 10 * time.Millisecond
	r := New(cfg, types.AgentCapabilities{MaxConcurrentTasks: 4})
	go r.Run()
	defer r.Stop()

	require.Eventually(t, func() bool { return gw.Count() == 1 }, 2*time.Second, 20*time.Millisecond)

	sub := r.Subscribe()
	defer r.Unsubscribe(sub)

	cmd, _ := protocol.NewCommandMessage(protocol.CommandShutdown, nil)
	gw.BroadcastToAll(cmd)

	select {
	case got := <-sub:
		assert.Equal(t, protocol.CommandShutdown, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive broadcast command")
	}
}

func TestRunnerStopEndsRunLoop(t *testing.T) {
	url, _ := newTestServer(t)

	cfg := DefaultConfig(url, "agt-1")
	cfg.ReconnectInterval = 10 * time.Millisecond
	r := New(cfg, types.AgentCapabilities{MaxConcurrentTasks: 4})

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	require.Eventually(t, func() bool { return r.State() == StateConnected }, 2*time.Second, 20*time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
