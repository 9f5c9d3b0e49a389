package visualizer

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrClosed はサーバー停止後に送信しようとした場合。
var ErrClosed = errors.New("ビジュアライザサーバーは停止しています")

const defaultClientBuffer = 1024

// client は接続中のビジュアライザ 1 つ。
type client struct {
	id     uuid.UUID
	remote string
	send   chan []byte
}

// Hub は 1 つの送信元から全クライアントへ配る。
// 遅いクライアントには待たずに取りこぼさせ、再生スレッドを止めない。
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	buffer  int

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewHub は buffer 件までクライアントごとに溜める Hub を作る。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Hub{clients: make(map[*client]struct{}), buffer: buffer}
}

func (h *Hub) subscribe(remote string) (*client, error) {
	c := &client{id: uuid.New(), remote: remote, send: make(chan []byte, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.clients[c] = struct{}{}
	return c, nil
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast は payload を全クライアントのキューに積む。ブロックしない。
func (h *Hub) Broadcast(payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Count は接続中のクライアント数。
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sent はキューに積めた件数（クライアント単位）。
func (h *Hub) Sent() int64 { return h.sent.Load() }

// Dropped は取りこぼした件数（クライアント単位）。
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close は全クライアントのキューを閉じ、以後の Broadcast を拒否する。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
