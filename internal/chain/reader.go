package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/zerohour-games/manhunt/internal/model"
)

// callTimeout bounds every individual RPC call.
const callTimeout = 10 * time.Second

// callBackend is the read slice of ethclient.Client.
type callBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Reader is the typed, idempotent view of contract state.
type Reader struct {
	backend  callBackend
	contract common.Address
}

func NewReader(backend callBackend, contract common.Address) *Reader {
	return &Reader{backend: backend, contract: contract}
}

func (r *Reader) call(ctx context.Context, method string, args ...any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	data, err := gameABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	fields := map[string]any{}
	if err := gameABI.UnpackIntoMap(fields, method, out); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return fields, nil
}

// GameConfig loads the immutable game parameters into a Game with its
// config fields filled. Phase and counters come from GameState.
func (r *Reader) GameConfig(ctx context.Context, gameID uint64) (*model.Game, error) {
	fields, err := r.call(ctx, "getGameConfig", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	bps := fields["bps"].([5]uint16)
	coords := fields["coords"].([4]int64)
	return &model.Game{
		ID:            gameID,
		Title:         fields["title"].(string),
		Creator:       fields["creator"].(common.Address).Hex(),
		EntryFeeWei:   fields["entryFeeWei"].(*big.Int).String(),
		BaseRewardWei: fields["baseRewardWei"].(*big.Int).String(),
		BpsFirst:      uint32(bps[0]),
		BpsSecond:     uint32(bps[1]),
		BpsThird:      uint32(bps[2]),
		BpsKills:      uint32(bps[3]),
		BpsCreator:    uint32(bps[4]),
		CenterLatE6:   coords[0],
		CenterLngE6:   coords[1],
		MeetLatE6:     coords[2],
		MeetLngE6:     coords[3],
		RegDeadline:   int64(fields["regDeadline"].(uint64)),
		GameDate:      int64(fields["gameDate"].(uint64)),
		MaxDuration:   int64(fields["maxDuration"].(uint64)),
		MinPlayers:    fields["minPlayers"].(uint32),
		MaxPlayers:    fields["maxPlayers"].(uint32),
	}, nil
}

// GameState is the mutable on-chain view of a game.
type GameState struct {
	Phase       model.GamePhase
	PlayerCount uint32
	TotalWei    string
	StartedAt   int64
	EndedAt     int64
	Winner1     string
	Winner2     string
	Winner3     string
	TopKiller   string
}

func phaseFromChain(v uint8) model.GamePhase {
	switch v {
	case phaseActive:
		return model.PhaseActive
	case phaseEnded:
		return model.PhaseEnded
	case phaseCancelled:
		return model.PhaseCancelled
	default:
		return model.PhaseRegistration
	}
}

// GameState loads a game's mutable chain state.
func (r *Reader) GameState(ctx context.Context, gameID uint64) (*GameState, error) {
	fields, err := r.call(ctx, "getGameState", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	return &GameState{
		Phase:       phaseFromChain(fields["phase"].(uint8)),
		PlayerCount: fields["playerCount"].(uint32),
		TotalWei:    fields["totalWei"].(*big.Int).String(),
		StartedAt:   int64(fields["startedAt"].(uint64)),
		EndedAt:     int64(fields["endedAt"].(uint64)),
		Winner1:     fields["winner1"].(common.Address).Hex(),
		Winner2:     fields["winner2"].(common.Address).Hex(),
		Winner3:     fields["winner3"].(common.Address).Hex(),
		TopKiller:   fields["topKiller"].(common.Address).Hex(),
	}, nil
}

// ZoneShrinks loads a game's shrink schedule.
func (r *Reader) ZoneShrinks(ctx context.Context, gameID uint64) ([]model.ZoneShrink, error) {
	fields, err := r.call(ctx, "getZoneShrinks", new(big.Int).SetUint64(gameID))
	if err != nil {
		return nil, err
	}
	atSeconds := fields["atSeconds"].([]uint64)
	radii := fields["radii"].([]uint32)
	if len(atSeconds) != len(radii) {
		return nil, fmt.Errorf("zone shrink arrays disagree: %d vs %d", len(atSeconds), len(radii))
	}
	schedule := make([]model.ZoneShrink, len(atSeconds))
	for i := range atSeconds {
		schedule[i] = model.ZoneShrink{
			GameID:       gameID,
			Idx:          i,
			AtSecond:     int64(atSeconds[i]),
			RadiusMeters: radii[i],
		}
	}
	return schedule, nil
}

// PlayerRecord is a player's on-chain registration state.
type PlayerRecord struct {
	Number     uint32
	IsAlive    bool
	Kills      uint32
	HasClaimed bool
}

// PlayerRecord loads a single player's chain record.
func (r *Reader) PlayerRecord(ctx context.Context, gameID uint64, addr string) (*PlayerRecord, error) {
	fields, err := r.call(ctx, "getPlayer", new(big.Int).SetUint64(gameID), common.HexToAddress(addr))
	if err != nil {
		return nil, err
	}
	return &PlayerRecord{
		Number:     fields["number"].(uint32),
		IsAlive:    fields["isAlive"].(bool),
		Kills:      fields["kills"].(uint32),
		HasClaimed: fields["hasClaimed"].(bool),
	}, nil
}

// NextGameID returns the contract's next unassigned game id.
func (r *Reader) NextGameID(ctx context.Context) (uint64, error) {
	fields, err := r.call(ctx, "nextGameId")
	if err != nil {
		return 0, err
	}
	for _, v := range fields {
		if id, ok := v.(*big.Int); ok {
			return id.Uint64(), nil
		}
	}
	return 0, fmt.Errorf("nextGameId: unexpected output")
}

// HeadBlock returns the current chain head number.
func (r *Reader) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("head block: %w", err)
	}
	return head.Number.Uint64(), nil
}

// BlockHashAtOrAfter binary-searches for the first block whose timestamp
// is >= ts and returns its hash. Used to seed the target permutation
// with a value nobody could predict before the game started.
func (r *Reader) BlockHashAtOrAfter(ctx context.Context, ts int64) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("head block: %w", err)
	}
	if head.Time < uint64(ts) {
		return common.Hash{}, fmt.Errorf("no block at or after %d yet (head %d)", ts, head.Time)
	}

	lo, hi := uint64(1), head.Number.Uint64()
	best := head
	for lo <= hi {
		mid := lo + (hi-lo)/2
		h, err := r.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return common.Hash{}, fmt.Errorf("header %d: %w", mid, err)
		}
		if h.Time >= uint64(ts) {
			best = h
			if mid == 0 {
				break
			}
			hi = mid - 1
		} else {
			lo = mid + 1
		}
	}
	return best.Hash(), nil
}
