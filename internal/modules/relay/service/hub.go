package service

import (
	"log/slog"
	"sync"

	relayin "livedoc/internal/modules/relay/port/in"
)

type room struct {
	clients map[string]relayin.Conn
	mu      sync.RWMutex
}

// Hub tracks which connections sit in which rooms. A connection may be in
// several rooms at once.
type Hub struct {
	rooms map[string]*room
	conns map[string]relayin.Conn
	mu    sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		conns: make(map[string]relayin.Conn),
	}
}

func (h *Hub) Attach(conn relayin.Conn) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	total := len(h.conns)
	h.mu.Unlock()
	slog.Info("client connected", "clientId", conn.ID(), "userId", conn.UserID(), "clients", total)
}

// Detach removes conn from every room and returns the rooms it was in.
func (h *Hub) Detach(conn relayin.Conn) []string {
	h.mu.Lock()
	delete(h.conns, conn.ID())
	var left []string
	for name, r := range h.rooms {
		r.mu.Lock()
		if _, ok := r.clients[conn.ID()]; ok {
			delete(r.clients, conn.ID())
			left = append(left, name)
		}
		empty := len(r.clients) == 0
		r.mu.Unlock()
		if empty {
			delete(h.rooms, name)
		}
	}
	h.mu.Unlock()
	slog.Info("client disconnected", "clientId", conn.ID(), "rooms", len(left))
	return left
}

func (h *Hub) Join(name string, conn relayin.Conn) {
	h.mu.Lock()
	r, exists := h.rooms[name]
	if !exists {
		r = &room{clients: make(map[string]relayin.Conn)}
		h.rooms[name] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	r.clients[conn.ID()] = conn
	count := len(r.clients)
	r.mu.Unlock()
	slog.Debug("joined room", "room", name, "clientId", conn.ID(), "clients", count)
}

// Leave reports how many clients remain in the room.
func (h *Hub) Leave(name, connID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, exists := h.rooms[name]
	if !exists {
		return 0
	}
	r.mu.Lock()
	delete(r.clients, connID)
	count := len(r.clients)
	r.mu.Unlock()
	if count == 0 {
		delete(h.rooms, name)
		slog.Debug("room removed", "room", name)
	}
	return count
}

func (h *Hub) Count(name string) int {
	h.mu.RLock()
	r, exists := h.rooms[name]
	h.mu.RUnlock()
	if !exists {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Broadcast sends data to everyone in the room except the sender, which may
// be nil. Connections whose buffer is full are dropped.
func (h *Hub) Broadcast(name string, sender relayin.Conn, data []byte) {
	h.mu.RLock()
	r, exists := h.rooms[name]
	h.mu.RUnlock()
	if !exists {
		return
	}

	r.mu.RLock()
	targets := make([]relayin.Conn, 0, len(r.clients))
	for id, conn := range r.clients {
		if sender != nil && id == sender.ID() {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()
	deliver(targets, data)
}

func deliver(targets []relayin.Conn, data []byte) {
	for _, conn := range targets {
		if err := conn.Send(data); err != nil {
			slog.Warn("dropping slow client", "clientId", conn.ID(), "error", err)
			go func(c relayin.Conn) {
				_ = c.Close()
			}(conn)
		}
	}
}

// BroadcastAll sends data to every attached connection except the sender.
func (h *Hub) BroadcastAll(sender relayin.Conn, data []byte) {
	h.mu.RLock()
	targets := make([]relayin.Conn, 0, len(h.conns))
	for id, conn := range h.conns {
		if sender != nil && id == sender.ID() {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()
	deliver(targets, data)
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}
