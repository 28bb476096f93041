// Package wssender writes envelope frames to websocket connections. Gorilla
// connections allow a single concurrent writer, and relays, grace-timer
// broadcasts and direct replies run on different goroutines, so every write
// goes through a per-connection lock.
package wssender

import (
	"sync"

	"github.com/gorilla/websocket"
)

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Sender struct {
	mu    sync.Mutex
	locks map[*websocket.Conn]*sync.Mutex
}

func New() *Sender {
	return &Sender{locks: make(map[*websocket.Conn]*sync.Mutex)}
}

func (s *Sender) lockFor(conn *websocket.Conn) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[conn]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conn] = lock
	}

	return lock
}

func (s *Sender) Send(conn *websocket.Conn, msgType string, payload any) error {
	lock := s.lockFor(conn)
	lock.Lock()
	defer lock.Unlock()

	return conn.WriteJSON(&envelope{Type: msgType, Payload: payload})
}

// Broadcast is fire and forget: relay requires no acknowledgment from
// followers, and a single dead connection must not block the room.
func (s *Sender) Broadcast(conns []*websocket.Conn, msgType string, payload any) {
	for _, conn := range conns {
		_ = s.Send(conn, msgType, payload)
	}
}

// Forget drops the write lock for a closed connection.
func (s *Sender) Forget(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, conn)
}
