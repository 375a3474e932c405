package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zerohour-games/manhunt/internal/model"
)

// txBackend is the transaction slice of ethclient.Client.
type txBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Writer holds the operator identity and builds contract call submissions.
// Nonce handling belongs to the queue worker, not here.
type Writer struct {
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	contract common.Address
}

// NewWriter parses the operator private key. A bad key is fatal config.
func NewWriter(privateKeyHex string, chainID int64, contract common.Address) (*Writer, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("operator private key: %w", err)
	}
	return &Writer{
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(chainID),
		contract: contract,
	}, nil
}

// From returns the operator address.
func (w *Writer) From() common.Address { return w.from }

func (w *Writer) sign(nonce uint64, gasPrice *big.Int, gas uint64, data []byte, value *big.Int) (*types.Transaction, error) {
	tx, err := types.SignNewTx(w.key, types.LatestSignerForChainID(w.chainID), &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &w.contract,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return tx, nil
}

// Submission is a prepared contract call ready for the queue.
type Submission struct {
	GameID uint64
	Action string
	Params any // JSON-persisted with the queue row
	Data   []byte
	Value  *big.Int
}

// Persisted parameter shapes, one per action that carries arguments.

type CreateGameParams struct {
	Game    model.Game         `json:"game"`
	Shrinks []model.ZoneShrink `json:"shrinks"`
}

type RecordKillParams struct {
	Hunter string `json:"hunter"`
	Target string `json:"target"`
}

type EliminatePlayerParams struct {
	Player string `json:"player"`
	Reason string `json:"reason"`
}

type EndGameParams struct {
	Winner1   string `json:"winner1"`
	Winner2   string `json:"winner2"`
	Winner3   string `json:"winner3"`
	TopKiller string `json:"top_killer"`
}

type FundWalletParams struct {
	To        string `json:"to"`
	AmountWei string `json:"amount_wei"`
}

func (w *Writer) CreateGame(p CreateGameParams) (Submission, error) {
	g := p.Game
	entryFee, ok := new(big.Int).SetString(g.EntryFeeWei, 10)
	if !ok {
		return Submission{}, fmt.Errorf("bad entry fee %q", g.EntryFeeWei)
	}
	baseReward, ok := new(big.Int).SetString(g.BaseRewardWei, 10)
	if !ok {
		return Submission{}, fmt.Errorf("bad base reward %q", g.BaseRewardWei)
	}
	atSeconds := make([]uint64, len(p.Shrinks))
	radii := make([]uint32, len(p.Shrinks))
	for i, s := range p.Shrinks {
		atSeconds[i] = uint64(s.AtSecond)
		radii[i] = s.RadiusMeters
	}
	data, err := gameABI.Pack("createGame",
		g.Title, entryFee, baseReward,
		[5]uint16{uint16(g.BpsFirst), uint16(g.BpsSecond), uint16(g.BpsThird), uint16(g.BpsKills), uint16(g.BpsCreator)},
		[4]int64{g.CenterLatE6, g.CenterLngE6, g.MeetLatE6, g.MeetLngE6},
		uint64(g.RegDeadline), uint64(g.GameDate), uint64(g.MaxDuration),
		g.MinPlayers, g.MaxPlayers, atSeconds, radii)
	if err != nil {
		return Submission{}, fmt.Errorf("pack createGame: %w", err)
	}
	return Submission{GameID: g.ID, Action: model.ActionCreateGame, Params: p, Data: data}, nil
}

func (w *Writer) simpleCall(gameID uint64, action, method string) (Submission, error) {
	data, err := gameABI.Pack(method, new(big.Int).SetUint64(gameID))
	if err != nil {
		return Submission{}, fmt.Errorf("pack %s: %w", method, err)
	}
	return Submission{GameID: gameID, Action: action, Data: data}, nil
}

func (w *Writer) StartGame(gameID uint64) (Submission, error) {
	return w.simpleCall(gameID, model.ActionStartGame, "startGame")
}

func (w *Writer) TriggerCancellation(gameID uint64) (Submission, error) {
	return w.simpleCall(gameID, model.ActionTriggerCancellation, "triggerCancellation")
}

func (w *Writer) TriggerExpiry(gameID uint64) (Submission, error) {
	return w.simpleCall(gameID, model.ActionTriggerExpiry, "triggerExpiry")
}

func (w *Writer) WithdrawCreatorFees(gameID uint64) (Submission, error) {
	return w.simpleCall(gameID, model.ActionWithdrawCreator, "withdrawCreatorFees")
}

func (w *Writer) WithdrawPlatformFees() (Submission, error) {
	data, err := gameABI.Pack("withdrawPlatformFees")
	if err != nil {
		return Submission{}, fmt.Errorf("pack withdrawPlatformFees: %w", err)
	}
	return Submission{Action: model.ActionWithdrawPlatform, Data: data}, nil
}

func (w *Writer) RecordKill(gameID uint64, p RecordKillParams) (Submission, error) {
	data, err := gameABI.Pack("recordKill", new(big.Int).SetUint64(gameID),
		common.HexToAddress(p.Hunter), common.HexToAddress(p.Target))
	if err != nil {
		return Submission{}, fmt.Errorf("pack recordKill: %w", err)
	}
	return Submission{GameID: gameID, Action: model.ActionRecordKill, Params: p, Data: data}, nil
}

func (w *Writer) EliminatePlayer(gameID uint64, p EliminatePlayerParams) (Submission, error) {
	data, err := gameABI.Pack("eliminatePlayer", new(big.Int).SetUint64(gameID),
		common.HexToAddress(p.Player), p.Reason)
	if err != nil {
		return Submission{}, fmt.Errorf("pack eliminatePlayer: %w", err)
	}
	return Submission{GameID: gameID, Action: model.ActionEliminatePlayer, Params: p, Data: data}, nil
}

func (w *Writer) EndGame(gameID uint64, p EndGameParams) (Submission, error) {
	data, err := gameABI.Pack("endGame", new(big.Int).SetUint64(gameID),
		common.HexToAddress(p.Winner1), common.HexToAddress(p.Winner2),
		common.HexToAddress(p.Winner3), common.HexToAddress(p.TopKiller))
	if err != nil {
		return Submission{}, fmt.Errorf("pack endGame: %w", err)
	}
	return Submission{GameID: gameID, Action: model.ActionEndGame, Params: p, Data: data}, nil
}

func (w *Writer) FundWallet(p FundWalletParams) (Submission, error) {
	amount, ok := new(big.Int).SetString(p.AmountWei, 10)
	if !ok {
		return Submission{}, fmt.Errorf("bad amount %q", p.AmountWei)
	}
	data, err := gameABI.Pack("fundWallet", common.HexToAddress(p.To))
	if err != nil {
		return Submission{}, fmt.Errorf("pack fundWallet: %w", err)
	}
	return Submission{Action: model.ActionFundWallet, Params: p, Data: data, Value: amount}, nil
}

// Rebuild reconstructs a Submission from a persisted queue row, used by
// startup reconciliation.
func (w *Writer) Rebuild(tx model.OperatorTx) (Submission, error) {
	switch tx.Action {
	case model.ActionCreateGame:
		var p CreateGameParams
		if err := json.Unmarshal([]byte(tx.Params), &p); err != nil {
			return Submission{}, fmt.Errorf("params of row %d: %w", tx.ID, err)
		}
		return w.CreateGame(p)
	case model.ActionStartGame:
		return w.StartGame(tx.GameID)
	case model.ActionRecordKill:
		var p RecordKillParams
		if err := json.Unmarshal([]byte(tx.Params), &p); err != nil {
			return Submission{}, fmt.Errorf("params of row %d: %w", tx.ID, err)
		}
		return w.RecordKill(tx.GameID, p)
	case model.ActionEliminatePlayer:
		var p EliminatePlayerParams
		if err := json.Unmarshal([]byte(tx.Params), &p); err != nil {
			return Submission{}, fmt.Errorf("params of row %d: %w", tx.ID, err)
		}
		return w.EliminatePlayer(tx.GameID, p)
	case model.ActionEndGame:
		var p EndGameParams
		if err := json.Unmarshal([]byte(tx.Params), &p); err != nil {
			return Submission{}, fmt.Errorf("params of row %d: %w", tx.ID, err)
		}
		return w.EndGame(tx.GameID, p)
	case model.ActionTriggerCancellation:
		return w.TriggerCancellation(tx.GameID)
	case model.ActionTriggerExpiry:
		return w.TriggerExpiry(tx.GameID)
	case model.ActionWithdrawCreator:
		return w.WithdrawCreatorFees(tx.GameID)
	case model.ActionWithdrawPlatform:
		return w.WithdrawPlatformFees()
	case model.ActionFundWallet:
		var p FundWalletParams
		if err := json.Unmarshal([]byte(tx.Params), &p); err != nil {
			return Submission{}, fmt.Errorf("params of row %d: %w", tx.ID, err)
		}
		return w.FundWallet(p)
	}
	return Submission{}, fmt.Errorf("unknown action %q in row %d", tx.Action, tx.ID)
}
