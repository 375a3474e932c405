// Package qr implements the numeric kill/heartbeat QR payload codec and
// the signed auth-message validation used to identify wallets.
package qr

import (
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// QR payloads carry gameId*10000 + playerNumber obfuscated with a
// multiplicative cipher over a prime modulus. The constants are fixed at
// build time; multiplier * inverseMult = 1 (mod modulus).
const (
	modulus     uint64 = 999999999999999989 // largest prime below 1e18
	multiplier  uint64 = 364136223846793071
	inverseMult uint64 = 14934922761778654

	numberSpace = 10000
	maxGameID   = (modulus - 1) / numberSpace
)

var (
	ErrInvalidPayload = errors.New("invalid qr payload")

	ErrSignatureInvalid = errors.New("signature invalid")
	ErrMessageStale     = errors.New("auth message stale")
	ErrWrongGame        = errors.New("auth message for wrong game")
)

// MaxAuthAge bounds how old a signed auth message may be.
const MaxAuthAge = 300 * time.Second

func mulmod(a, b uint64) uint64 {
	// hi < modulus always holds because a, b < modulus < 2^60.
	hi, lo := bits.Mul64(a%modulus, b%modulus)
	return bits.Rem64(hi, lo, modulus)
}

// Encode produces the numeric QR payload for a player in a game.
func Encode(gameID uint64, playerNumber uint32) (string, error) {
	if playerNumber == 0 || playerNumber >= numberSpace {
		return "", fmt.Errorf("player number %d outside domain", playerNumber)
	}
	if gameID == 0 || gameID > maxGameID {
		return "", fmt.Errorf("game id %d outside domain", gameID)
	}
	v := gameID*numberSpace + uint64(playerNumber)
	return strconv.FormatUint(mulmod(v, multiplier), 10), nil
}

// Decode inverts Encode. It rejects payloads outside the cipher domain and
// decoded values with a zero player number or zero game id. Callers must
// still check the player number against the game's registered count.
func Decode(payload string) (gameID uint64, playerNumber uint32, err error) {
	c, perr := strconv.ParseUint(payload, 10, 64)
	if perr != nil || c >= modulus {
		return 0, 0, ErrInvalidPayload
	}
	v := mulmod(c, inverseMult)
	gameID = v / numberSpace
	n := v % numberSpace
	if n == 0 || gameID == 0 || gameID > maxGameID {
		return 0, 0, ErrInvalidPayload
	}
	return gameID, uint32(n), nil
}

// AuthMessage is the text a wallet signs to authenticate against a game.
func AuthMessage(gameID uint64, address string, unixSeconds int64) string {
	return fmt.Sprintf("manhunt:auth:%d:%s:%d", gameID, address, unixSeconds)
}

// VerifyAuth checks freshness and recovers the signer of an auth message,
// comparing it to the claimed address.
func VerifyAuth(gameID, claimedGameID uint64, address string, unixSeconds int64, sigHex string, now time.Time) error {
	if claimedGameID != gameID {
		return ErrWrongGame
	}
	age := now.Unix() - unixSeconds
	if age < -30 || age > int64(MaxAuthAge/time.Second) {
		return ErrMessageStale
	}
	recovered, err := RecoverSigner(AuthMessage(gameID, address, unixSeconds), sigHex)
	if err != nil {
		return err
	}
	if recovered != common.HexToAddress(address) {
		return ErrSignatureInvalid
	}
	return nil
}

// RecoverSigner recovers the address that produced an EIP-191 personal
// signature over msg.
func RecoverSigner(msg, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrSignatureInvalid
	}
	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
	pub, err := crypto.SigToPub(hash.Bytes(), s)
	if err != nil {
		return common.Address{}, ErrSignatureInvalid
	}
	return crypto.PubkeyToAddress(*pub), nil
}
