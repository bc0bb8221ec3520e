package ch4nn337

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testFactory = common.HexToAddress("0x00000000000000000000000000000000000fac70")

// fakeAccount is the on-chain state of one channel account.
type fakeAccount struct {
	deployed          bool
	native            *big.Int
	balanceA          *big.Int
	balanceB          *big.Int
	disputeTimestamp  uint64
	disputeValue      *big.Int
	disputeStartNonce *big.Int
}

// fakeChain serves the factory and channel views from memory and records
// submitted operations.
type fakeChain struct {
	mu       sync.Mutex
	accounts map[common.Address]*fakeAccount
	sent     []*UserOperation

	codeErr error
	callErr error
	sendErr error
}

var _ Client = (*fakeChain)(nil)

func newFakeChain() *fakeChain {
	return &fakeChain{accounts: make(map[common.Address]*fakeAccount)}
}

func (f *fakeChain) account(addr common.Address) *fakeAccount {
	acc, ok := f.accounts[addr]
	if !ok {
		acc = &fakeAccount{
			native:            new(big.Int),
			balanceA:          new(big.Int),
			balanceB:          new(big.Int),
			disputeValue:      new(big.Int),
			disputeStartNonce: new(big.Int),
		}
		f.accounts[addr] = acc
	}
	return acc
}

// fund credits the undeployed account with native currency.
func (f *fakeChain) fund(addr common.Address, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account(addr).native = big.NewInt(amount)
}

// deploy marks the account deployed with the given recorded balances.
func (f *fakeChain) deploy(addr common.Address, balanceA, balanceB int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := f.account(addr)
	acc.deployed = true
	acc.balanceA = big.NewInt(balanceA)
	acc.balanceB = big.NewInt(balanceB)
}

func (f *fakeChain) startDispute(addr common.Address, timestamp uint64, value, startNonce int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := f.account(addr)
	acc.disputeTimestamp = timestamp
	acc.disputeValue = big.NewInt(value)
	acc.disputeStartNonce = big.NewInt(startNonce)
}

func (f *fakeChain) sentOperations() []*UserOperation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*UserOperation{}, f.sent...)
}

// counterfactual mimics the factory's CREATE2 derivation closely enough
// for tests: distinct inputs give distinct addresses.
func counterfactual(a, b common.Address, salt *big.Int) common.Address {
	hash := crypto.Keccak256(testFactory.Bytes(), a.Bytes(), b.Bytes(), common.BigToHash(salt).Bytes())
	return common.BytesToAddress(hash[12:])
}

func (f *fakeChain) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codeErr != nil {
		return nil, f.codeErr
	}
	if contract == testFactory {
		return []byte{0x60, 0x80}, nil
	}
	if acc, ok := f.accounts[contract]; ok && acc.deployed {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("bad call")
	}

	if *call.To == testFactory {
		method, err := factoryABI.MethodById(call.Data[:4])
		if err != nil {
			return nil, err
		}
		args, err := method.Inputs.Unpack(call.Data[4:])
		if err != nil {
			return nil, err
		}
		if method.Name != methodGetAddress {
			return nil, fmt.Errorf("unexpected factory call %s", method.Name)
		}
		addr := counterfactual(args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
		return method.Outputs.Pack(addr)
	}

	acc, ok := f.accounts[*call.To]
	if !ok || !acc.deployed {
		return nil, nil
	}
	method, err := channelABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case methodBalanceA:
		return method.Outputs.Pack(acc.balanceA)
	case methodBalanceB:
		return method.Outputs.Pack(acc.balanceB)
	case methodDisputeTimestamp:
		return method.Outputs.Pack(acc.disputeTimestamp)
	case methodDisputeValue:
		return method.Outputs.Pack(acc.disputeValue)
	case methodDisputeStartNonce:
		return method.Outputs.Pack(acc.disputeStartNonce)
	default:
		return nil, fmt.Errorf("unexpected channel call %s", method.Name)
	}
}

func (f *fakeChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acc, ok := f.accounts[account]; ok {
		return new(big.Int).Set(acc.native), nil
	}
	return new(big.Int), nil
}

func (f *fakeChain) SendUserOperation(_ context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, op.Clone())
	return op.GetUserOpHash(entryPoint, big.NewInt(testChainID)), nil
}

const testChainID = 5

// openTestChannel opens both ends of a channel against chain.
func openTestChannel(t *testing.T, chain *fakeChain) (a, b *Channel) {
	t.Helper()
	a, b, err := Open(context.Background(), big.NewInt(testChainID), testEntryPoint, testFactory, chain)
	require.NoError(t, err)
	require.NoError(t, SameChannel(a, b))
	return a, b
}

func requireBig(t *testing.T, want int64, got *big.Int) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, 0, big.NewInt(want).Cmp(got), "want %d, got %s", want, got)
}
