package engine

import (
	"math"
	"math/big"
)

// Constant-product quoting. Reserves and amounts are unsigned 6-decimal
// fixed-point integers; intermediate products exceed 64 bits, so the math
// runs through big.Int. Divisions floor, so a single trade can leave the
// reserve product below the exact constant by less than one quote
// denominator; the fee retained in the pool more than offsets that drift
// for any nonzero fee rate.

// mulDiv returns floor(a*b/den).
func mulDiv(a, b, den uint64) uint64 {
	n := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	n.Quo(n, new(big.Int).SetUint64(den))
	return n.Uint64()
}

// buyQuote computes the shares paid out for a buy: collateral (net of fee)
// joins reserveIn and shares leave reserveOut holding the product constant.
// ok is false when the trade would drain reserveOut or grow reserveIn past
// the 64-bit range.
func buyQuote(reserveIn, reserveOut, collateralIn, fee uint64) (sharesOut uint64, ok bool) {
	if collateralIn > math.MaxUint64-reserveIn {
		return 0, false
	}
	k := new(big.Int).Mul(new(big.Int).SetUint64(reserveIn), new(big.Int).SetUint64(reserveOut))
	denom := new(big.Int).SetUint64(reserveIn + collateralIn - fee)
	newOut := k.Quo(k, denom)
	if newOut.Sign() == 0 || !newOut.IsUint64() {
		return 0, false
	}
	return reserveOut - newOut.Uint64(), true
}

// sellQuote computes the gross collateral released for a sell: shares join
// reserveOut and collateral leaves reserveIn holding the product constant.
// ok is false when the trade would drain reserveIn or grow reserveOut past
// the 64-bit range.
func sellQuote(reserveIn, reserveOut, sharesIn uint64) (gross uint64, ok bool) {
	if sharesIn > math.MaxUint64-reserveOut {
		return 0, false
	}
	k := new(big.Int).Mul(new(big.Int).SetUint64(reserveIn), new(big.Int).SetUint64(reserveOut))
	denom := new(big.Int).SetUint64(reserveOut + sharesIn)
	newIn := k.Quo(k, denom)
	if newIn.Sign() == 0 || !newIn.IsUint64() {
		return 0, false
	}
	return reserveIn - newIn.Uint64(), true
}

// reserveProduct returns reserveYes * reserveNo as a big.Int.
func reserveProduct(reserveYes, reserveNo uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(reserveYes), new(big.Int).SetUint64(reserveNo))
}

// priceBps returns reserveYes/(reserveYes+reserveNo) in basis points.
func priceBps(reserveYes, reserveNo uint64) uint32 {
	total := new(big.Int).Add(new(big.Int).SetUint64(reserveYes), new(big.Int).SetUint64(reserveNo))
	n := new(big.Int).Mul(new(big.Int).SetUint64(reserveYes), big.NewInt(10_000))
	n.Quo(n, total)
	return uint32(n.Uint64())
}
