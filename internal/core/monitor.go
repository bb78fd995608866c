// Package core contains the runtime of BootBridge.
// monitor.go mirrors console output to websocket clients.
package core

import (
	"BootBridge/internal/model"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Monitor mirrors device output to websocket clients, so a second person can watch the
// console read-only. Publish never blocks the bridge; chunks are dropped when the queue is full.
type Monitor struct {
	listen  string
	path    string
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	server  *http.Server
	ln      net.Listener
	queue   chan []byte
	done    chan struct{}
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
	log     *zap.Logger
}

// NewMonitor constructs a Monitor for cfg. Nothing listens until Start.
func NewMonitor(cfg model.MonitorConfig, log *zap.Logger) *Monitor {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		listen:  cfg.Listen,
		path:    cfg.Path,
		clients: map[*websocket.Conn]bool{},
		queue:   make(chan []byte, cfg.Queue),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Start binds the listen address and serves in the background.
func (m *Monitor) Start() error {
	ln, err := net.Listen("tcp", m.listen)
	if err != nil {
		return fmt.Errorf("monitor listen %s: %w", m.listen, err)
	}
	m.ln = ln
	mux := http.NewServeMux()
	mux.HandleFunc(m.path, m.handleWS)
	m.server = &http.Server{Handler: mux}

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("monitor server stopped", zap.Error(err))
		}
	}()
	go m.broadcastLoop()
	m.log.Info("monitor is listening", zap.String("addr", ln.Addr().String()), zap.String("path", m.path))
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (m *Monitor) Addr() string {
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.listen
}

// Stop shuts the server down and disconnects every client. It returns once the
// client readers have exited.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.done)
		if m.server != nil {
			_ = m.server.Close()
		}
		m.mu.Lock()
		for c := range m.clients {
			_ = c.Close()
		}
		m.mu.Unlock()
		m.wg.Wait()
	})
}

// Publish queues a copy of data for the clients.
func (m *Monitor) Publish(data []byte) {
	msg := append([]byte(nil), data...)
	select {
	case m.queue <- msg:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many chunks were lost to a full queue.
func (m *Monitor) Dropped() int64 {
	return m.dropped.Load()
}

// Clients returns the number of connected clients.
func (m *Monitor) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// handleWS upgrades HTTP to websocket and registers the client for broadcasts.
func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	m.clients[conn] = true
	m.wg.Add(1)
	m.mu.Unlock()
	m.log.Debug("monitor client connected", zap.String("remote", r.RemoteAddr))

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.clients, conn)
			m.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (m *Monitor) broadcastLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case msg := <-m.queue:
			m.broadcast(msg)
		}
	}
}

// broadcast sends a message to all connected websocket clients.
func (m *Monitor) broadcast(msg []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.clients {
		if err := c.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			m.log.Debug("monitor write failed", zap.Error(err))
		}
	}
}
