// Package inmemory maps live websocket connections to user ids. Connections
// are process-local state and never belong in redis.
package inmemory

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/couchsync/couchsync/internal/repository/connection"
)

type repo struct {
	connList map[*websocket.Conn]string
	idList   map[string]*websocket.Conn
	mu       sync.RWMutex
}

func NewRepo() *repo {
	return &repo{
		connList: make(map[*websocket.Conn]string),
		idList:   make(map[string]*websocket.Conn),
	}
}

func (r *repo) Add(conn *websocket.Conn, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connList[conn] != "" || r.idList[userID] != nil {
		return connection.ErrAlreadyExists
	}

	r.connList[conn] = userID
	r.idList[userID] = conn

	return nil
}

func (r *repo) RemoveByUserID(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.idList[userID]
	if !ok {
		return connection.ErrNotFound
	}

	delete(r.connList, conn)
	delete(r.idList, userID)

	return nil
}

func (r *repo) RemoveByConn(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connList[conn]
	if !ok {
		return connection.ErrNotFound
	}

	delete(r.connList, conn)
	delete(r.idList, userID)

	return nil
}

func (r *repo) GetConn(userID string) (*websocket.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.idList[userID]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

func (r *repo) GetUserID(conn *websocket.Conn) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.connList[conn]
	if !ok {
		return "", connection.ErrNotFound
	}

	return userID, nil
}
