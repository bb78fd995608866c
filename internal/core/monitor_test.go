package core

import (
	"BootBridge/internal/model"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMonitorMirrorsOutput(t *testing.T) {
	m := NewMonitor(model.MonitorConfig{Listen: "127.0.0.1:0"}, zaptest.NewLogger(t))
	require.NoError(t, m.Start())
	defer m.Stop()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()
	require.Eventually(t, func() bool { return m.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Publish([]byte("U-Boot> "))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, "U-Boot> ", string(msg))
}

func TestMonitorStopWaitsForClients(t *testing.T) {
	m := NewMonitor(model.MonitorConfig{Listen: "127.0.0.1:0"}, zaptest.NewLogger(t))
	require.NoError(t, m.Start())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+m.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close()
	}()
	require.Eventually(t, func() bool { return m.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.Equal(t, 0, m.Clients())
	m.Stop()
}

func TestMonitorPublishNeverBlocks(t *testing.T) {
	m := NewMonitor(model.MonitorConfig{Queue: 1}, nil)
	buf := []byte("x")
	m.Publish(buf)
	buf[0] = 'y'
	m.Publish(buf)
	m.Publish(buf)
	assert.Equal(t, int64(2), m.Dropped())
	assert.Equal(t, "x", string(<-m.queue))
}

func TestMonitorBadAddress(t *testing.T) {
	m := NewMonitor(model.MonitorConfig{Listen: "256.0.0.1:http"}, nil)
	assert.Error(t, m.Start())
	m.Stop()
}
