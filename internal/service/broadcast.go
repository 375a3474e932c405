package service

import "github.com/zerohour-games/manhunt/internal/model"

// Broadcaster pushes server messages to connected clients. The websocket
// hub implements it; the service never blocks on a slow consumer.
type Broadcaster interface {
	Broadcast(gameID uint64, msg model.ServerMessage)
	SendToPlayer(gameID uint64, address string, msg model.ServerMessage)
}

// NoopBroadcaster discards all messages. Used in tests and tools.
type NoopBroadcaster struct{}

func (NoopBroadcaster) Broadcast(uint64, model.ServerMessage)           {}
func (NoopBroadcaster) SendToPlayer(uint64, string, model.ServerMessage) {}
