package ch4nn337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

//go:generate mockgen -package=mocks -destination=./mocks/client.go . Client

// Client is the channel's view of the chain and the bundler.
//
// CodeAt and CallContract (bind.ContractCaller) serve deployment checks and
// contract view calls, BalanceAt reads the native balance of the
// counterfactual account and SendUserOperation submits a fully signed
// operation to the entry point.
type Client interface {
	bind.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
}

// Transport moves serialized operations between the two parties. The
// protocol does not care how: copy and paste, a chat or an HTTP mailbox all
// qualify.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
}
