package ch4nn337

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// signHash signs the EIP-191 text hash of a user operation hash, the form
// the account recovers signers from. The result is r || s || v with v in
// {27, 28}.
func signHash(key *ecdsa.PrivateKey, hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(hash.Bytes()), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// recoverSigner returns the address that produced sig over hash with
// signHash.
func recoverSigner(hash common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != signatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), signatureLength)
	}
	normalized := append([]byte{}, sig...)
	switch v := normalized[crypto.RecoveryIDOffset]; v {
	case 27, 28:
		normalized[crypto.RecoveryIDOffset] = v - 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("invalid recovery id %d", v)
	}
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

var (
	bytesTy, _    = abi.NewType("bytes", "", nil)
	signaturePair = abi.Arguments{{Type: bytesTy}, {Type: bytesTy}}
)

// AggregateSignatures builds the 2-of-2 signature the account expects:
// abi.encode(bytes sigA, bytes sigB). Party A's signature always comes
// first, whichever party aggregates.
func AggregateSignatures(sigA, sigB []byte) ([]byte, error) {
	return signaturePair.Pack(sigA, sigB)
}

var errMalformedAggregate = errors.New("malformed aggregated signature")

// SplitSignatures is the inverse of AggregateSignatures.
func SplitSignatures(aggregate []byte) (sigA, sigB []byte, err error) {
	values, err := signaturePair.Unpack(aggregate)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errMalformedAggregate, err)
	}
	if len(values) != 2 {
		return nil, nil, errMalformedAggregate
	}
	sigA, okA := values[0].([]byte)
	sigB, okB := values[1].([]byte)
	if !okA || !okB {
		return nil, nil, errMalformedAggregate
	}
	return sigA, sigB, nil
}
