package domain

import (
	"context"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// ClaimKey identifies one outcome position of one market in the share
// ledger.
type ClaimKey [32]byte

// NewClaimKey derives the ledger key for (marketID, outcome). The derivation
// is a keccak-256 hash over a length-prefixed encoding, so distinct inputs
// never collide short of a hash collision.
func NewClaimKey(marketID string, outcome Outcome) ClaimKey {
	buf := make([]byte, 4+len(marketID)+1)
	binary.BigEndian.PutUint32(buf, uint32(len(marketID)))
	copy(buf[4:], marketID)
	buf[len(buf)-1] = byte(outcome)

	var key ClaimKey
	copy(key[:], crypto.Keccak256(buf))
	return key
}

// ShareLedger tracks ownership of outcome claims. It is an external
// collaborator; the engine only mints, burns, and reads balances.
type ShareLedger interface {
	Mint(ctx context.Context, owner string, key ClaimKey, amount uint64) error
	// Burn removes claims from an owner's balance. It returns
	// ErrInsufficientClaims when the balance is too small.
	Burn(ctx context.Context, owner string, key ClaimKey, amount uint64) error
	BalanceOf(ctx context.Context, owner string, key ClaimKey) (uint64, error)
	// MintBatch mints several claim positions to one owner in a single call.
	MintBatch(ctx context.Context, owner string, keys []ClaimKey, amounts []uint64) error
}

// CollateralVault tracks collateral balances debited and credited by market
// operations.
type CollateralVault interface {
	// Debit removes collateral from an account. It returns
	// ErrInsufficientCollateral when the balance is too small.
	Debit(ctx context.Context, account string, amount uint64) error
	Credit(ctx context.Context, account string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
}
