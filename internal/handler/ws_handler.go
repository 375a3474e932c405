package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/qr"
	"github.com/zerohour-games/manhunt/internal/service"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second // must be less than pongWait
	authWait    = 15 * time.Second
	maxMsgSize  = 4096
	sendBufSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // wallets connect from app webviews; origin is meaningless
	},
}

// GameAPI is the slice of the engine the transport calls into.
type GameAPI interface {
	Checkin(ctx context.Context, gameID uint64, addr string, lat, lng float64, qrPayload, bluetoothID string) error
	Location(ctx context.Context, gameID uint64, addr string, lat, lng float64) error
	HeartbeatScan(ctx context.Context, gameID uint64, scanner, qrPayload string, lat, lng float64, bleNearby []string) error
	SubmitKill(ctx context.Context, gameID uint64, hunter, qrPayload string, lat, lng float64, bleNearby []string) (*model.Kill, error)
	Status(ctx context.Context, gameID uint64) (*model.GameSnapshot, error)
	Player(ctx context.Context, gameID uint64, addr string) (*model.Player, error)
}

// WSHandler upgrades player connections and bridges frames to the engine.
type WSHandler struct {
	hub *Hub
	svc GameAPI
}

func NewWSHandler(hub *Hub, svc GameAPI) *WSHandler {
	return &WSHandler{hub: hub, svc: svc}
}

// ServeWS handles GET /ws?game=<id>. The first frame must be an auth
// action carrying a fresh EIP-191 signature; everything after that is
// authenticated by the connection.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseUint(r.URL.Query().Get("game"), 10, 64)
	if err != nil || gameID == 0 {
		http.Error(w, `{"error":"missing or invalid game parameter"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client, err := h.authenticate(r.Context(), conn, gameID)
	if err != nil {
		writeRaw(conn, model.ServerMessage{
			Kind: model.MsgError, GameID: gameID,
			Data: model.ErrorPayload{Code: service.CodeOf(err), Message: err.Error()},
		})
		conn.Close()
		return
	}

	h.hub.Register(client)
	go h.writePump(client)
	go h.readPump(client)

	log.Info().Uint64("gameId", gameID).Str("player", client.address).
		Int("connections", h.hub.ConnectionCount(gameID)).Msg("Player connected")
}

// authenticate reads and verifies the auth frame, then replies with the
// player's number and a full game snapshot.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn, gameID uint64) (*WSConn, error) {
	conn.SetReadLimit(maxMsgSize)
	conn.SetReadDeadline(time.Now().Add(authWait))

	var msg model.ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return nil, service.ErrAuthFailed
	}
	if msg.Action != model.ClientActionAuth {
		return nil, service.ErrAuthFailed
	}
	if err := qr.VerifyAuth(gameID, msg.GameID, msg.Address, msg.Timestamp, msg.Signature, time.Now()); err != nil {
		log.Debug().Err(err).Uint64("gameId", gameID).Str("address", msg.Address).Msg("Auth rejected")
		return nil, service.ErrAuthFailed
	}

	player, err := h.svc.Player(ctx, gameID, msg.Address)
	if err != nil {
		return nil, err
	}
	snap, err := h.svc.Status(ctx, gameID)
	if err != nil {
		return nil, err
	}

	client := &WSConn{
		conn:    conn,
		gameID:  gameID,
		address: player.Address,
		number:  player.Number,
		send:    make(chan []byte, sendBufSize),
	}
	writeRaw(conn, model.ServerMessage{
		Kind: model.MsgAuthSuccess, GameID: gameID,
		Data: model.AuthSuccessPayload{PlayerNumber: player.Number, Snapshot: *snap},
	})
	return client, nil
}

// readPump dispatches client frames to the engine until the connection
// dies. Engine rejections go back as error frames; the connection stays
// up.
func (h *WSHandler) readPump(c *WSConn) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
		log.Info().Uint64("gameId", c.gameID).Str("player", c.address).Msg("Player disconnected")
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("player", c.address).Msg("Websocket unexpected close")
			}
			return
		}
		var msg model.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.dispatch(c, msg)
	}
}

func (h *WSHandler) dispatch(c *WSConn, msg model.ClientMessage) {
	ctx := context.Background()

	var err error
	switch msg.Action {
	case model.ClientActionCheckin:
		err = h.svc.Checkin(ctx, c.gameID, c.address, msg.Lat, msg.Lng, msg.QRPayload, msg.BluetoothID)
	case model.ClientActionLocation:
		err = h.svc.Location(ctx, c.gameID, c.address, msg.Lat, msg.Lng)
	case model.ClientActionHeartbeatScan:
		err = h.svc.HeartbeatScan(ctx, c.gameID, c.address, msg.QRPayload, msg.Lat, msg.Lng, msg.BLENearby)
	case model.ClientActionSubmitKill:
		_, err = h.svc.SubmitKill(ctx, c.gameID, c.address, msg.QRPayload, msg.Lat, msg.Lng, msg.BLENearby)
	case model.ClientActionStatus:
		var snap *model.GameSnapshot
		if snap, err = h.svc.Status(ctx, c.gameID); err == nil {
			h.reply(c, model.ServerMessage{Kind: model.MsgStatus, GameID: c.gameID, Data: snap})
		}
	default:
		return
	}
	if err != nil {
		kind := model.MsgError
		if msg.Action == model.ClientActionHeartbeatScan {
			kind = model.MsgHeartbeatError
		}
		h.reply(c, model.ServerMessage{
			Kind: kind, GameID: c.gameID,
			Data: model.ErrorPayload{Code: service.CodeOf(err), Message: err.Error()},
		})
	}
}

// reply queues a message on this connection only.
func (h *WSHandler) reply(c *WSConn, msg model.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writeRaw writes synchronously, for the pre-pump auth phase.
func writeRaw(conn *websocket.Conn, msg model.ServerMessage) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(msg)
}

// writePump owns all writes after auth: queued messages plus pings.
func (h *WSHandler) writePump(c *WSConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			// Drain whatever queued up into the same frame batch.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
