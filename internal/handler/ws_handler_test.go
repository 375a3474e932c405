package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"

	"github.com/zerohour-games/manhunt/internal/model"
	"github.com/zerohour-games/manhunt/internal/qr"
	"github.com/zerohour-games/manhunt/internal/service"
)

// fakeGame is a canned engine: one game, one player, recorded calls.
type fakeGame struct {
	player    model.Player
	snapshot  model.GameSnapshot
	killErr   error
	locations int
}

func (f *fakeGame) Checkin(ctx context.Context, gameID uint64, addr string, lat, lng float64, qrPayload, bluetoothID string) error {
	return nil
}

func (f *fakeGame) Location(ctx context.Context, gameID uint64, addr string, lat, lng float64) error {
	f.locations++
	return nil
}

func (f *fakeGame) HeartbeatScan(ctx context.Context, gameID uint64, scanner, qrPayload string, lat, lng float64, bleNearby []string) error {
	return nil
}

func (f *fakeGame) SubmitKill(ctx context.Context, gameID uint64, hunter, qrPayload string, lat, lng float64, bleNearby []string) (*model.Kill, error) {
	if f.killErr != nil {
		return nil, f.killErr
	}
	return &model.Kill{GameID: gameID, Hunter: hunter}, nil
}

func (f *fakeGame) Status(ctx context.Context, gameID uint64) (*model.GameSnapshot, error) {
	snap := f.snapshot
	return &snap, nil
}

func (f *fakeGame) Player(ctx context.Context, gameID uint64, addr string) (*model.Player, error) {
	if !strings.EqualFold(addr, f.player.Address) {
		return nil, service.ErrNotFound
	}
	p := f.player
	return &p, nil
}

func signAuth(t *testing.T, keyHex string, gameID uint64, address string, ts int64) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	msg := qr.AuthMessage(gameID, address, ts)
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return hexutil.Encode(sig)
}

const playerKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func dialTestServer(t *testing.T, fake *fakeGame, gameID uint64) *websocket.Conn {
	t.Helper()
	h := NewWSHandler(NewHub(), fake)
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/?game=%d", gameID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) model.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg model.ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebsocketAuthAndDispatch(t *testing.T) {
	key, _ := crypto.HexToECDSA(playerKeyHex)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	fake := &fakeGame{
		player:   model.Player{GameID: 1, Address: address, Number: 7, IsAlive: true},
		snapshot: model.GameSnapshot{GameID: 1, Phase: model.PhaseActive, SubPhase: model.SubPhaseGame},
		killErr:  service.ErrNotYourTarget,
	}
	conn := dialTestServer(t, fake, 1)

	ts := time.Now().Unix()
	err := conn.WriteJSON(model.ClientMessage{
		Action:    model.ClientActionAuth,
		GameID:    1,
		Address:   address,
		Timestamp: ts,
		Signature: signAuth(t, playerKeyHex, 1, address, ts),
	})
	if err != nil {
		t.Fatalf("write auth: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Kind != model.MsgAuthSuccess {
		t.Fatalf("auth reply = %s, want %s", msg.Kind, model.MsgAuthSuccess)
	}

	// A status request round-trips through the engine.
	if err := conn.WriteJSON(model.ClientMessage{Action: model.ClientActionStatus, GameID: 1}); err != nil {
		t.Fatalf("write status: %v", err)
	}
	if msg = readMessage(t, conn); msg.Kind != model.MsgStatus {
		t.Fatalf("status reply = %s, want %s", msg.Kind, model.MsgStatus)
	}

	// Engine rejections surface as error frames with the stable code.
	if err := conn.WriteJSON(model.ClientMessage{Action: model.ClientActionSubmitKill, GameID: 1, QRPayload: "123"}); err != nil {
		t.Fatalf("write kill: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Kind != model.MsgError {
		t.Fatalf("kill reply = %s, want %s", msg.Kind, model.MsgError)
	}
	payload, ok := msg.Data.(map[string]any)
	if !ok || payload["code"] != "NotYourTarget" {
		t.Fatalf("error payload = %v", msg.Data)
	}
}

func TestWebsocketRejectsBadSignature(t *testing.T) {
	key, _ := crypto.HexToECDSA(playerKeyHex)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	fake := &fakeGame{
		player: model.Player{GameID: 1, Address: address, Number: 7, IsAlive: true},
	}
	conn := dialTestServer(t, fake, 1)

	ts := time.Now().Unix()
	// Signature over the wrong game id must not authenticate game 1.
	err := conn.WriteJSON(model.ClientMessage{
		Action:    model.ClientActionAuth,
		GameID:    1,
		Address:   address,
		Timestamp: ts,
		Signature: signAuth(t, playerKeyHex, 2, address, ts),
	})
	if err != nil {
		t.Fatalf("write auth: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Kind != model.MsgError {
		t.Fatalf("reply = %s, want %s", msg.Kind, model.MsgError)
	}
	payload, ok := msg.Data.(map[string]any)
	if !ok || payload["code"] != "AuthFailed" {
		t.Fatalf("error payload = %v", msg.Data)
	}
}

func TestWebsocketRejectsStaleAuth(t *testing.T) {
	key, _ := crypto.HexToECDSA(playerKeyHex)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	fake := &fakeGame{
		player: model.Player{GameID: 1, Address: address, Number: 7, IsAlive: true},
	}
	conn := dialTestServer(t, fake, 1)

	ts := time.Now().Add(-qr.MaxAuthAge - time.Minute).Unix()
	err := conn.WriteJSON(model.ClientMessage{
		Action:    model.ClientActionAuth,
		GameID:    1,
		Address:   address,
		Timestamp: ts,
		Signature: signAuth(t, playerKeyHex, 1, address, ts),
	})
	if err != nil {
		t.Fatalf("write auth: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Kind != model.MsgError {
		t.Fatalf("reply = %s, want %s", msg.Kind, model.MsgError)
	}
}
