// Package handler exposes the game engine over websockets: one
// connection per authenticated player, game channels for fan-out.
package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/model"
)

// WSConn wraps a websocket connection with its authenticated identity.
type WSConn struct {
	conn    *websocket.Conn
	gameID  uint64
	address string
	number  uint32
	send    chan []byte
}

// Hub tracks connections per game and implements the engine's
// Broadcaster. Slow consumers get messages dropped, never block the
// game loop.
type Hub struct {
	mu    sync.RWMutex
	games map[uint64]map[*WSConn]bool
}

func NewHub() *Hub {
	return &Hub{games: make(map[uint64]map[*WSConn]bool)}
}

// Register adds an authenticated connection to its game channel.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.games[c.gameID] == nil {
		h.games[c.gameID] = make(map[*WSConn]bool)
	}
	h.games[c.gameID][c] = true
}

// Unregister removes a connection and closes its send channel.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.games[c.gameID]
	if !ok || !conns[c] {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.games, c.gameID)
	}
	close(c.send)
}

// Broadcast sends a message to every connection in a game.
func (h *Hub) Broadcast(gameID uint64, msg model.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Uint64("gameId", gameID).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.games[gameID] {
		select {
		case c.send <- data:
		default:
			log.Warn().Uint64("gameId", gameID).Str("player", c.address).Msg("Dropping websocket message, buffer full")
		}
	}
}

// SendToPlayer sends a message to all connections a player holds in a
// game. Private payloads (target assignments) go through here only.
func (h *Hub) SendToPlayer(gameID uint64, address string, msg model.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Uint64("gameId", gameID).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.games[gameID] {
		if c.address != address {
			continue
		}
		select {
		case c.send <- data:
		default:
			log.Warn().Uint64("gameId", gameID).Str("player", address).Msg("Dropping direct websocket message, buffer full")
		}
	}
}

// ConnectionCount returns the connections subscribed to a game.
func (h *Hub) ConnectionCount(gameID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.games[gameID])
}
