// Package chain talks to the game contract: typed reads, the serialized
// operator write queue, and the event listener that mirrors chain truth
// into the store.
package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// contractABI is the game contract surface the server uses. Coordinates
// are degrees x 1e6; bps arrays are [first, second, third, kills, creator];
// coords arrays are [centerLat, centerLng, meetLat, meetLng].
const contractABI = `[
	{"type":"function","name":"createGame","stateMutability":"nonpayable","inputs":[
		{"name":"title","type":"string"},
		{"name":"entryFeeWei","type":"uint256"},
		{"name":"baseRewardWei","type":"uint256"},
		{"name":"bps","type":"uint16[5]"},
		{"name":"coords","type":"int64[4]"},
		{"name":"regDeadline","type":"uint64"},
		{"name":"gameDate","type":"uint64"},
		{"name":"maxDuration","type":"uint64"},
		{"name":"minPlayers","type":"uint32"},
		{"name":"maxPlayers","type":"uint32"},
		{"name":"shrinkAtSeconds","type":"uint64[]"},
		{"name":"shrinkRadii","type":"uint32[]"}],"outputs":[]},
	{"type":"function","name":"startGame","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"recordKill","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"},
		{"name":"hunter","type":"address"},
		{"name":"target","type":"address"}],"outputs":[]},
	{"type":"function","name":"eliminatePlayer","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"},
		{"name":"player","type":"address"},
		{"name":"reason","type":"string"}],"outputs":[]},
	{"type":"function","name":"endGame","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"},
		{"name":"winner1","type":"address"},
		{"name":"winner2","type":"address"},
		{"name":"winner3","type":"address"},
		{"name":"topKiller","type":"address"}],"outputs":[]},
	{"type":"function","name":"triggerCancellation","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"triggerExpiry","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdrawCreatorFees","stateMutability":"nonpayable","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdrawPlatformFees","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"fundWallet","stateMutability":"payable","inputs":[
		{"name":"to","type":"address"}],"outputs":[]},

	{"type":"function","name":"getGameConfig","stateMutability":"view","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[
		{"name":"title","type":"string"},
		{"name":"creator","type":"address"},
		{"name":"entryFeeWei","type":"uint256"},
		{"name":"baseRewardWei","type":"uint256"},
		{"name":"bps","type":"uint16[5]"},
		{"name":"coords","type":"int64[4]"},
		{"name":"regDeadline","type":"uint64"},
		{"name":"gameDate","type":"uint64"},
		{"name":"maxDuration","type":"uint64"},
		{"name":"minPlayers","type":"uint32"},
		{"name":"maxPlayers","type":"uint32"}]},
	{"type":"function","name":"getGameState","stateMutability":"view","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[
		{"name":"phase","type":"uint8"},
		{"name":"playerCount","type":"uint32"},
		{"name":"totalWei","type":"uint256"},
		{"name":"startedAt","type":"uint64"},
		{"name":"endedAt","type":"uint64"},
		{"name":"winner1","type":"address"},
		{"name":"winner2","type":"address"},
		{"name":"winner3","type":"address"},
		{"name":"topKiller","type":"address"}]},
	{"type":"function","name":"getZoneShrinks","stateMutability":"view","inputs":[
		{"name":"gameId","type":"uint256"}],"outputs":[
		{"name":"atSeconds","type":"uint64[]"},
		{"name":"radii","type":"uint32[]"}]},
	{"type":"function","name":"getPlayer","stateMutability":"view","inputs":[
		{"name":"gameId","type":"uint256"},
		{"name":"player","type":"address"}],"outputs":[
		{"name":"number","type":"uint32"},
		{"name":"isAlive","type":"bool"},
		{"name":"kills","type":"uint32"},
		{"name":"hasClaimed","type":"bool"}]},
	{"type":"function","name":"nextGameId","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint256"}]},

	{"type":"event","name":"GameCreated","inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"title","type":"string","indexed":false}]},
	{"type":"event","name":"PlayerRegistered","inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"playerNumber","type":"uint32","indexed":false},
		{"name":"playerCount","type":"uint32","indexed":false},
		{"name":"totalWei","type":"uint256","indexed":false}]},
	{"type":"event","name":"GameStarted","inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"timestamp","type":"uint64","indexed":false}]},
	{"type":"event","name":"KillRecorded","inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"hunter","type":"address","indexed":true},
		{"name":"target","type":"address","indexed":true}]},
	{"type":"event","name":"PlayerEliminated","inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"player","type":"address","indexed":true},
		{"name":"reason","type":"string","indexed":false}]},
	{"type":"event","name":"GameEnded","inputs":[
		{"name":"gameId","type":"uint256","indexed":true},
		{"name":"winner1","type":"address","indexed":false},
		{"name":"winner2","type":"address","indexed":false},
		{"name":"winner3","type":"address","indexed":false},
		{"name":"topKiller","type":"address","indexed":false}]},
	{"type":"event","name":"GameCancelled","inputs":[
		{"name":"gameId","type":"uint256","indexed":true}]}
]`

// gameABI is the parsed contract surface, shared by reader, writer and
// listener.
var gameABI = mustParseABI(contractABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse contract abi: %v", err))
	}
	return parsed
}

// On-chain phase values of getGameState.
const (
	phaseRegistration uint8 = 0
	phaseActive       uint8 = 1
	phaseEnded        uint8 = 2
	phaseCancelled    uint8 = 3
)

// Typed events decoded from contract logs. Block and LogIndex carry the
// chain ordering for the listener cursor.

type GameCreatedEvent struct {
	GameID   uint64
	Creator  common.Address
	Title    string
	Block    uint64
	LogIndex uint
}

type PlayerRegisteredEvent struct {
	GameID       uint64
	Player       common.Address
	PlayerNumber uint32
	PlayerCount  uint32
	TotalWei     *big.Int
	Block        uint64
	LogIndex     uint
}

type GameStartedEvent struct {
	GameID    uint64
	Timestamp uint64
	Block     uint64
	LogIndex  uint
}

type KillRecordedEvent struct {
	GameID   uint64
	Hunter   common.Address
	Target   common.Address
	TxHash   common.Hash
	Block    uint64
	LogIndex uint
}

type PlayerEliminatedEvent struct {
	GameID   uint64
	Player   common.Address
	Reason   string
	Block    uint64
	LogIndex uint
}

type GameEndedEvent struct {
	GameID    uint64
	Winner1   common.Address
	Winner2   common.Address
	Winner3   common.Address
	TopKiller common.Address
	Block     uint64
	LogIndex  uint
}

type GameCancelledEvent struct {
	GameID   uint64
	Block    uint64
	LogIndex uint
}

func topicGameID(t common.Hash) uint64 {
	return new(big.Int).SetBytes(t.Bytes()).Uint64()
}

func topicAddress(t common.Hash) common.Address {
	return common.BytesToAddress(t.Bytes())
}

// decodeLog turns a raw contract log into one of the typed events above,
// or nil for logs the server does not react to.
func decodeLog(lg types.Log) (any, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	event, err := gameABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, nil // not one of ours
	}

	fields := map[string]any{}
	if err := gameABI.UnpackIntoMap(fields, event.Name, lg.Data); err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	switch event.Name {
	case "GameCreated":
		return GameCreatedEvent{
			GameID:   topicGameID(lg.Topics[1]),
			Creator:  topicAddress(lg.Topics[2]),
			Title:    fields["title"].(string),
			Block:    lg.BlockNumber,
			LogIndex: lg.Index,
		}, nil
	case "PlayerRegistered":
		return PlayerRegisteredEvent{
			GameID:       topicGameID(lg.Topics[1]),
			Player:       topicAddress(lg.Topics[2]),
			PlayerNumber: fields["playerNumber"].(uint32),
			PlayerCount:  fields["playerCount"].(uint32),
			TotalWei:     fields["totalWei"].(*big.Int),
			Block:        lg.BlockNumber,
			LogIndex:     lg.Index,
		}, nil
	case "GameStarted":
		return GameStartedEvent{
			GameID:    topicGameID(lg.Topics[1]),
			Timestamp: fields["timestamp"].(uint64),
			Block:     lg.BlockNumber,
			LogIndex:  lg.Index,
		}, nil
	case "KillRecorded":
		return KillRecordedEvent{
			GameID:   topicGameID(lg.Topics[1]),
			Hunter:   topicAddress(lg.Topics[2]),
			Target:   topicAddress(lg.Topics[3]),
			TxHash:   lg.TxHash,
			Block:    lg.BlockNumber,
			LogIndex: lg.Index,
		}, nil
	case "PlayerEliminated":
		return PlayerEliminatedEvent{
			GameID:   topicGameID(lg.Topics[1]),
			Player:   topicAddress(lg.Topics[2]),
			Reason:   fields["reason"].(string),
			Block:    lg.BlockNumber,
			LogIndex: lg.Index,
		}, nil
	case "GameEnded":
		return GameEndedEvent{
			GameID:    topicGameID(lg.Topics[1]),
			Winner1:   fields["winner1"].(common.Address),
			Winner2:   fields["winner2"].(common.Address),
			Winner3:   fields["winner3"].(common.Address),
			TopKiller: fields["topKiller"].(common.Address),
			Block:     lg.BlockNumber,
			LogIndex:  lg.Index,
		}, nil
	case "GameCancelled":
		return GameCancelledEvent{
			GameID:   topicGameID(lg.Topics[1]),
			Block:    lg.BlockNumber,
			LogIndex: lg.Index,
		}, nil
	}
	return nil, nil
}
