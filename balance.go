package ch4nn337

import (
	"context"
	"math/big"
)

// DisputeInfo is a snapshot of an on-chain dispute, relative to the
// instance that read it.
type DisputeInfo struct {
	Nonce            *big.Int
	Timeout          uint64
	WithdrawalOurs   *big.Int
	WithdrawalTheirs *big.Int
}

// IsDeployed reports whether the channel account has code on chain.
func (c *Channel) IsDeployed(ctx context.Context, client Client) (bool, error) {
	code, err := client.CodeAt(ctx, c.address, nil)
	if err != nil {
		return false, &TransportError{Op: "get code", Err: err}
	}
	return len(code) > 0, nil
}

// onChainBalances returns the balances the account itself records. Before
// deployment the whole native balance of the counterfactual address counts
// as A's deposit.
func (c *Channel) onChainBalances(ctx context.Context, client Client) (a, b *big.Int, err error) {
	deployed, err := c.IsDeployed(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	if !deployed {
		a, err = client.BalanceAt(ctx, c.address, nil)
		if err != nil {
			return nil, nil, &TransportError{Op: "get balance", Err: err}
		}
		return new(big.Int).Set(bigOrZero(a)), new(big.Int), nil
	}

	contract := newChannelContract(c.address, client)
	if a, err = callBig(ctx, contract, methodBalanceA); err != nil {
		return nil, nil, err
	}
	if b, err = callBig(ctx, contract, methodBalanceB); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// Balances returns the current balances of A and B: the on-chain balances
// shifted by the outstanding value transfer (subtracted from A, added to
// B).
func (c *Channel) Balances(ctx context.Context, client Client) (a, b *big.Int, err error) {
	vt := c.valueTransfer()
	a, b, err = c.balancesWith(ctx, client, vt)
	if err != nil {
		return nil, nil, err
	}
	if a.Sign() < 0 || b.Sign() < 0 {
		return nil, nil, integrityf("value transfer %s exceeds on-chain balances", vt)
	}
	return a, b, nil
}

// balancesWith returns the balances of A and B as they would be with vt as
// the outstanding value transfer. The results may be negative.
func (c *Channel) balancesWith(ctx context.Context, client Client, vt *big.Int) (a, b *big.Int, err error) {
	a, b, err = c.onChainBalances(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	a.Sub(a, vt)
	b.Add(b, vt)
	return a, b, nil
}

// SortedBalances returns (ours, theirs).
func (c *Channel) SortedBalances(ctx context.Context, client Client) (ours, theirs *big.Int, err error) {
	a, b, err := c.Balances(ctx, client)
	if err != nil {
		return nil, nil, err
	}
	ours, theirs = c.sortByRole(a, b)
	return ours, theirs, nil
}

// sortByRole reorders an (A, B) pair as (ours, theirs).
func (c *Channel) sortByRole(a, b *big.Int) (ours, theirs *big.Int) {
	if c.us == PartyA {
		return a, b
	}
	return b, a
}

// DisputeInfo returns the active on-chain dispute, or nil when the account
// is not deployed or no dispute is running (zero timeout).
func (c *Channel) DisputeInfo(ctx context.Context, client Client) (*DisputeInfo, error) {
	deployed, err := c.IsDeployed(ctx, client)
	if err != nil || !deployed {
		return nil, err
	}

	contract := newChannelContract(c.address, client)
	timeout, err := callUint64(ctx, contract, methodDisputeTimestamp)
	if err != nil {
		return nil, err
	}
	if timeout == 0 {
		return nil, nil
	}

	value, err := callBig(ctx, contract, methodDisputeValue)
	if err != nil {
		return nil, err
	}
	nonce, err := callBig(ctx, contract, methodDisputeStartNonce)
	if err != nil {
		return nil, err
	}
	a, err := callBig(ctx, contract, methodBalanceA)
	if err != nil {
		return nil, err
	}
	b, err := callBig(ctx, contract, methodBalanceB)
	if err != nil {
		return nil, err
	}
	a.Sub(a, value)
	b.Add(b, value)

	ours, theirs := c.sortByRole(a, b)
	return &DisputeInfo{
		Nonce:            nonce,
		Timeout:          timeout,
		WithdrawalOurs:   ours,
		WithdrawalTheirs: theirs,
	}, nil
}
