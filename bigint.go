package ch4nn337

import (
	"errors"
	"math/big"
)

var (
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	maxInt128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128  = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// ToUint128 checks that b is a non-negative value representable as the
// contract's uint128 and returns a copy of it.
func ToUint128(b *big.Int) (*big.Int, error) {
	if b == nil {
		return nil, errors.New("big.Int value cannot be nil")
	}
	if b.Sign() < 0 {
		return nil, errors.New("value cannot be negative")
	}
	if b.Cmp(maxUint128) > 0 {
		return nil, errors.New("value exceeds uint128")
	}
	return new(big.Int).Set(b), nil
}

// ToInt128 checks that b is representable as the contract's int128 and
// returns a copy of it.
func ToInt128(b *big.Int) (*big.Int, error) {
	if b == nil {
		return nil, errors.New("big.Int value cannot be nil")
	}
	if b.Cmp(maxInt128) > 0 || b.Cmp(minInt128) < 0 {
		return nil, errors.New("value exceeds int128")
	}
	return new(big.Int).Set(b), nil
}

// validAmount reports whether amount can be requested in a transfer: it must
// be positive and the resulting value transfer must stay an int128.
func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0 && amount.Cmp(maxInt128) <= 0
}
