package chain

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/zerohour-games/manhunt/internal/model"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(testOperatorKey, 8453, testContract)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	return w
}

func TestNewWriterRejectsBadKey(t *testing.T) {
	if _, err := NewWriter("not-a-key", 8453, testContract); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestCreateGamePacking(t *testing.T) {
	w := newTestWriter(t)
	params := CreateGameParams{
		Game: model.Game{
			ID:            7,
			Title:         "friday night hunt",
			EntryFeeWei:   "10000000000000000",
			BaseRewardWei: "0",
			BpsFirst:      5000, BpsSecond: 2500, BpsThird: 1000, BpsKills: 1000, BpsCreator: 500,
			CenterLatE6: 52520000, CenterLngE6: 13405000,
			MeetLatE6: 52520000, MeetLngE6: 13405000,
			RegDeadline: 1700000000, GameDate: 1700003600, MaxDuration: 14400,
			MinPlayers: 4, MaxPlayers: 50,
		},
		Shrinks: []model.ZoneShrink{
			{AtSecond: 0, RadiusMeters: 1000},
			{AtSecond: 600, RadiusMeters: 500},
		},
	}

	sub, err := w.CreateGame(params)
	if err != nil {
		t.Fatalf("createGame: %v", err)
	}
	if sub.Action != model.ActionCreateGame || sub.GameID != 7 {
		t.Fatalf("submission meta = %s/%d", sub.Action, sub.GameID)
	}

	method := gameABI.Methods["createGame"]
	if string(sub.Data[:4]) != string(method.ID) {
		t.Fatal("calldata selector is not createGame")
	}
	args, err := method.Inputs.Unpack(sub.Data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(string) != "friday night hunt" {
		t.Fatalf("title = %q", args[0])
	}
	if got := args[8].(uint32); got != 4 {
		t.Fatalf("minPlayers = %d", got)
	}
	radii := args[11].([]uint32)
	if len(radii) != 2 || radii[1] != 500 {
		t.Fatalf("radii = %v", radii)
	}
}

func TestCreateGameRejectsBadWei(t *testing.T) {
	w := newTestWriter(t)
	_, err := w.CreateGame(CreateGameParams{Game: model.Game{EntryFeeWei: "lots", BaseRewardWei: "0"}})
	if err == nil || !strings.Contains(err.Error(), "bad entry fee") {
		t.Fatalf("err = %v", err)
	}
}

func TestFundWalletCarriesValue(t *testing.T) {
	w := newTestWriter(t)
	sub, err := w.FundWallet(FundWalletParams{To: "0x00000000000000000000000000000000000010aa", AmountWei: "25000000000000000"})
	if err != nil {
		t.Fatalf("fundWallet: %v", err)
	}
	want, _ := new(big.Int).SetString("25000000000000000", 10)
	if sub.Value == nil || sub.Value.Cmp(want) != 0 {
		t.Fatalf("value = %v", sub.Value)
	}
	if string(sub.Data[:4]) != string(gameABI.Methods["fundWallet"].ID) {
		t.Fatal("calldata selector is not fundWallet")
	}

	if _, err := w.FundWallet(FundWalletParams{To: "0x0", AmountWei: "-"}); err == nil {
		t.Fatal("expected error for unparseable amount")
	}
}

// Rebuild must reproduce byte-identical calldata from a persisted row,
// or queue recovery would resubmit something other than what the row
// recorded.
func TestRebuildRoundTrip(t *testing.T) {
	w := newTestWriter(t)
	hunter := "0x00000000000000000000000000000000000010a1"
	target := "0x00000000000000000000000000000000000010a2"

	direct, err := w.RecordKill(3, RecordKillParams{Hunter: hunter, Target: target})
	if err != nil {
		t.Fatalf("recordKill: %v", err)
	}
	params, _ := json.Marshal(RecordKillParams{Hunter: hunter, Target: target})
	rebuilt, err := w.Rebuild(model.OperatorTx{GameID: 3, Action: model.ActionRecordKill, Params: string(params)})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if string(rebuilt.Data) != string(direct.Data) {
		t.Fatal("rebuilt calldata differs from original")
	}

	for _, action := range []string{
		model.ActionStartGame,
		model.ActionTriggerCancellation,
		model.ActionTriggerExpiry,
		model.ActionWithdrawCreator,
		model.ActionWithdrawPlatform,
	} {
		if _, err := w.Rebuild(model.OperatorTx{GameID: 3, Action: action, Params: "{}"}); err != nil {
			t.Fatalf("rebuild %s: %v", action, err)
		}
	}

	if _, err := w.Rebuild(model.OperatorTx{Action: "defragTheChain", Params: "{}"}); err == nil {
		t.Fatal("expected error for unknown action")
	}
}
