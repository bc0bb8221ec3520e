// Package ch4nn337 implements the client side of a two-party payment channel
// built on an ERC-4337 smart account.
//
// Both parties hold a key for the same contract account. Balance updates are
// user operations signed by one party, checked and countersigned by the
// other, and exchanged out of band. Only cooperative withdrawals are
// submitted on chain.
//
// This file defines the UserOperation carried between the parties and its
// canonical JSON and hash encodings.
package ch4nn337

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goccy/go-json"
)

// UserOperation is an ERC-4337 (entry point v0.6) user operation.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// signatureLength is the length of a single party's r || s || v signature.
const signatureLength = 65

// HasSignature reports whether the signature field holds exactly one
// party's signature.
func (op *UserOperation) HasSignature() bool {
	return isSignature(op.Signature)
}

func isSignature(sig []byte) bool {
	return len(sig) == signatureLength
}

var (
	addressTy, _ = abi.NewType("address", "", nil)
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	bytes32Ty, _ = abi.NewType("bytes32", "", nil)

	packedUserOpArgs = abi.Arguments{
		{Type: addressTy},
		{Type: uint256Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: uint256Ty},
		{Type: uint256Ty},
		{Type: uint256Ty},
		{Type: uint256Ty},
		{Type: uint256Ty},
		{Type: bytes32Ty},
	}
	userOpHashArgs = abi.Arguments{
		{Type: bytes32Ty},
		{Type: addressTy},
		{Type: uint256Ty},
	}
)

func bigOrZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}

func keccak32(data []byte) [32]byte {
	return [32]byte(crypto.Keccak256Hash(data))
}

// GetUserOpHash returns the hash the entry point asks the account to
// validate: keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainID)).
// The signature field does not contribute.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	packed, err := packedUserOpArgs.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		keccak32(op.InitCode),
		keccak32(op.CallData),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		keccak32(op.PaymasterAndData),
	)
	if err != nil {
		// all argument types are fixed above
		panic(fmt.Sprintf("packing user operation: %v", err))
	}

	encoded, err := userOpHashArgs.Pack(keccak32(packed), entryPoint, bigOrZero(chainID))
	if err != nil {
		panic(fmt.Sprintf("packing user operation hash: %v", err))
	}
	return crypto.Keccak256Hash(encoded)
}

func cloneBig(b *big.Int) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Clone returns a deep copy of the operation.
func (op *UserOperation) Clone() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                cloneBig(op.Nonce),
		InitCode:             cloneBytes(op.InitCode),
		CallData:             cloneBytes(op.CallData),
		CallGasLimit:         cloneBig(op.CallGasLimit),
		VerificationGasLimit: cloneBig(op.VerificationGasLimit),
		PreVerificationGas:   cloneBig(op.PreVerificationGas),
		MaxFeePerGas:         cloneBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     cloneBytes(op.PaymasterAndData),
		Signature:            cloneBytes(op.Signature),
	}
}

func bigEqual(a, b *big.Int) bool {
	return bigOrZero(a).Cmp(bigOrZero(b)) == 0
}

// sameContent reports whether two operations are equal in every field
// except the signature.
func (op *UserOperation) sameContent(other *UserOperation) bool {
	return op.Sender == other.Sender &&
		bigEqual(op.Nonce, other.Nonce) &&
		bytes.Equal(op.InitCode, other.InitCode) &&
		bytes.Equal(op.CallData, other.CallData) &&
		bigEqual(op.CallGasLimit, other.CallGasLimit) &&
		bigEqual(op.VerificationGasLimit, other.VerificationGasLimit) &&
		bigEqual(op.PreVerificationGas, other.PreVerificationGas) &&
		bigEqual(op.MaxFeePerGas, other.MaxFeePerGas) &&
		bigEqual(op.MaxPriorityFeePerGas, other.MaxPriorityFeePerGas) &&
		bytes.Equal(op.PaymasterAndData, other.PaymasterAndData)
}

// MarshalJSON encodes the operation with 0x-prefixed hex quantities and byte
// strings, the form bundlers accept for eth_sendUserOperation. The encoding
// is canonical: decoding and re-encoding yields identical bytes.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(userOperationJSON{
		Sender:               op.Sender.Hex(),
		Nonce:                hexutil.EncodeBig(bigOrZero(op.Nonce)),
		InitCode:             hexutil.Encode(op.InitCode),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         hexutil.EncodeBig(bigOrZero(op.CallGasLimit)),
		VerificationGasLimit: hexutil.EncodeBig(bigOrZero(op.VerificationGasLimit)),
		PreVerificationGas:   hexutil.EncodeBig(bigOrZero(op.PreVerificationGas)),
		MaxFeePerGas:         hexutil.EncodeBig(bigOrZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: hexutil.EncodeBig(bigOrZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     hexutil.Encode(op.PaymasterAndData),
		Signature:            hexutil.Encode(op.Signature),
	})
}

// UnmarshalJSON does the reverse of MarshalJSON.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var aux userOperationJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if !common.IsHexAddress(aux.Sender) {
		return fmt.Errorf("invalid sender address %q", aux.Sender)
	}
	op.Sender = common.HexToAddress(aux.Sender)

	var err error
	quantities := []struct {
		name string
		src  string
		dst  **big.Int
	}{
		{"nonce", aux.Nonce, &op.Nonce},
		{"callGasLimit", aux.CallGasLimit, &op.CallGasLimit},
		{"verificationGasLimit", aux.VerificationGasLimit, &op.VerificationGasLimit},
		{"preVerificationGas", aux.PreVerificationGas, &op.PreVerificationGas},
		{"maxFeePerGas", aux.MaxFeePerGas, &op.MaxFeePerGas},
		{"maxPriorityFeePerGas", aux.MaxPriorityFeePerGas, &op.MaxPriorityFeePerGas},
	}
	for _, q := range quantities {
		if *q.dst, err = hexutil.DecodeBig(q.src); err != nil {
			return fmt.Errorf("%s: %w", q.name, err)
		}
	}

	byteFields := []struct {
		name string
		src  string
		dst  *[]byte
	}{
		{"initCode", aux.InitCode, &op.InitCode},
		{"callData", aux.CallData, &op.CallData},
		{"paymasterAndData", aux.PaymasterAndData, &op.PaymasterAndData},
		{"signature", aux.Signature, &op.Signature},
	}
	for _, f := range byteFields {
		if *f.dst, err = hexutil.Decode(f.src); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}

	return nil
}

// DecodeUserOperation parses a serialized operation as produced by the
// counterparty's RequestTransfer, RequestFullWithdraw or SignMessage.
func DecodeUserOperation(data []byte) (*UserOperation, error) {
	op := new(UserOperation)
	if err := json.Unmarshal(bytes.TrimSpace(data), op); err != nil {
		return nil, &SerdeError{Err: err}
	}
	return op, nil
}

func encodeUserOperation(op *UserOperation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, &SerdeError{Err: err}
	}
	return data, nil
}

func (op *UserOperation) String() string {
	formatBigInt := func(b *big.Int) string {
		if b == nil {
			return "0x, 0"
		}
		return fmt.Sprintf("0x%x, %s", b, b.Text(10))
	}

	return fmt.Sprintf(
		"UserOperation{\n"+
			"  Sender: %s\n"+
			"  Nonce: %s\n"+
			"  InitCode: %s\n"+
			"  CallData: %s\n"+
			"  CallGasLimit: %s\n"+
			"  VerificationGasLimit: %s\n"+
			"  PreVerificationGas: %s\n"+
			"  MaxFeePerGas: %s\n"+
			"  MaxPriorityFeePerGas: %s\n"+
			"  PaymasterAndData: %s\n"+
			"  Signature: %s\n"+
			"}",
		op.Sender.String(),
		formatBigInt(op.Nonce),
		hexutil.Encode(op.InitCode),
		hexutil.Encode(op.CallData),
		formatBigInt(op.CallGasLimit),
		formatBigInt(op.VerificationGasLimit),
		formatBigInt(op.PreVerificationGas),
		formatBigInt(op.MaxFeePerGas),
		formatBigInt(op.MaxPriorityFeePerGas),
		hexutil.Encode(op.PaymasterAndData),
		hexutil.Encode(op.Signature),
	)
}
