package ch4nn337

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ChannelABI is the subset of the AA channel account interface the client
// calls or encodes.
const ChannelABI = `[
	{"type":"function","name":"dispute","stateMutability":"nonpayable","inputs":[{"name":"valueTransfer","type":"int128"}],"outputs":[]},
	{"type":"function","name":"coopWithdraw","stateMutability":"nonpayable","inputs":[{"name":"valueTransfer","type":"int128"},{"name":"withdrawA","type":"uint128"},{"name":"withdrawB","type":"uint128"}],"outputs":[]},
	{"type":"function","name":"closeDispute","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"balanceA","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	{"type":"function","name":"balanceB","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	{"type":"function","name":"disputeTimestamp","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"disputeValue","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int128"}]},
	{"type":"function","name":"disputeStartNonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]}
]`

// FactoryABI is the subset of the AA channel factory interface the client
// calls or encodes.
const FactoryABI = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"partyA","type":"address"},{"name":"partyB","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[{"name":"partyA","type":"address"},{"name":"partyB","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

// Method names of the channel and factory contracts.
const (
	methodDispute           = "dispute"
	methodCoopWithdraw      = "coopWithdraw"
	methodBalanceA          = "balanceA"
	methodBalanceB          = "balanceB"
	methodDisputeTimestamp  = "disputeTimestamp"
	methodDisputeValue      = "disputeValue"
	methodDisputeStartNonce = "disputeStartNonce"
	methodCreateAccount     = "createAccount"
	methodGetAddress        = "getAddress"
)

var (
	channelABI = mustParseABI(ChannelABI)
	factoryABI = mustParseABI(FactoryABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parsing ABI: %v", err))
	}
	return parsed
}

// channelCall is a decoded call into the channel account. The set of
// implementations is closed: disputeCall and coopWithdrawCall.
type channelCall interface {
	isChannelCall()
}

// disputeCall updates the agreed value transfer without moving funds.
type disputeCall struct {
	ValueTransfer *big.Int
}

// coopWithdrawCall settles the value transfer and pays out both parties.
type coopWithdrawCall struct {
	ValueTransfer *big.Int
	WithdrawA     *big.Int
	WithdrawB     *big.Int
}

func (disputeCall) isChannelCall()      {}
func (coopWithdrawCall) isChannelCall() {}

func encodeDisputeCall(valueTransfer *big.Int) ([]byte, error) {
	return channelABI.Pack(methodDispute, valueTransfer)
}

func encodeCoopWithdrawCall(valueTransfer, withdrawA, withdrawB *big.Int) ([]byte, error) {
	return channelABI.Pack(methodCoopWithdraw, valueTransfer, withdrawA, withdrawB)
}

var (
	errUnknownCall = errors.New("unknown channel call")
	errZeroAddress = errors.New("factory returned the zero address")
)

// decodeChannelCall decodes call data into one of the two calls a channel
// message may carry. Any other method, malformed arguments or trailing bytes
// are rejected.
func decodeChannelCall(data []byte) (channelCall, error) {
	if len(data) < 4 {
		return nil, errUnknownCall
	}
	method, err := channelABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, err
	}
	// reject encodings that carry extra bytes past the arguments
	canonical, err := channelABI.Pack(method.Name, args...)
	if err != nil || !bytes.Equal(canonical, data) {
		return nil, fmt.Errorf("non-canonical %s call data", method.Name)
	}

	switch method.Name {
	case methodDispute:
		return disputeCall{
			ValueTransfer: *abi.ConvertType(args[0], new(*big.Int)).(**big.Int),
		}, nil
	case methodCoopWithdraw:
		return coopWithdrawCall{
			ValueTransfer: *abi.ConvertType(args[0], new(*big.Int)).(**big.Int),
			WithdrawA:     *abi.ConvertType(args[1], new(*big.Int)).(**big.Int),
			WithdrawB:     *abi.ConvertType(args[2], new(*big.Int)).(**big.Int),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownCall, method.Name)
	}
}

// encodeInitCode returns factory || createAccount(partyA, partyB, salt).
func encodeInitCode(factory, partyA, partyB common.Address, salt *big.Int) ([]byte, error) {
	call, err := factoryABI.Pack(methodCreateAccount, partyA, partyB, salt)
	if err != nil {
		return nil, err
	}
	return append(factory.Bytes(), call...), nil
}

// callView invokes a read-only method and returns its single output.
func callView(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, &ContractError{Method: method, Err: err}
	}
	if len(out) != 1 {
		return nil, &ContractError{Method: method, Err: fmt.Errorf("expected 1 output, got %d", len(out))}
	}
	return out[0], nil
}

func callBig(ctx context.Context, contract *bind.BoundContract, method string) (*big.Int, error) {
	out, err := callView(ctx, contract, method)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out, new(*big.Int)).(**big.Int), nil
}

func callUint64(ctx context.Context, contract *bind.BoundContract, method string) (uint64, error) {
	out, err := callView(ctx, contract, method)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out, new(uint64)).(*uint64), nil
}

func newChannelContract(address common.Address, client Client) *bind.BoundContract {
	return bind.NewBoundContract(address, channelABI, client, nil, nil)
}

// FactoryAddress asks the factory for the account address of (partyA,
// partyB, salt). A zero answer is reported as a *ContractError.
func FactoryAddress(ctx context.Context, client Client, factory, partyA, partyB common.Address, salt *big.Int) (common.Address, error) {
	contract := bind.NewBoundContract(factory, factoryABI, client, nil, nil)
	out, err := callView(ctx, contract, methodGetAddress, partyA, partyB, salt)
	if err != nil {
		return common.Address{}, err
	}
	address := *abi.ConvertType(out, new(common.Address)).(*common.Address)
	if address == (common.Address{}) {
		return common.Address{}, &ContractError{Method: methodGetAddress, Err: errZeroAddress}
	}
	return address, nil
}
