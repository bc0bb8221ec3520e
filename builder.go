package ch4nn337

import (
	"context"
	"fmt"
	"math/big"
)

// newOperation returns an unsigned channel operation with the protocol's
// fixed gas and fee parameters.
func (c *Channel) newOperation(callData []byte, callGasLimit uint64) *UserOperation {
	return &UserOperation{
		Sender:               c.address,
		Nonce:                c.NextOutgoingNonce(),
		InitCode:             c.InitCode(),
		CallData:             callData,
		CallGasLimit:         u64(callGasLimit),
		VerificationGasLimit: u64(VerificationGasLimit),
		PreVerificationGas:   u64(PreVerificationGas),
		MaxFeePerGas:         u64(MaxFeePerGas),
		MaxPriorityFeePerGas: u64(MaxPriorityFeePerGas),
		PaymasterAndData:     []byte{},
	}
}

// propose signs op, records msg as the pending proposal and returns the
// serialized operation for the counterparty.
func (c *Channel) propose(op *UserOperation, msg Message) ([]byte, error) {
	sig, err := c.sign(op)
	if err != nil {
		return nil, err
	}
	op.Signature = sig

	data, err := encodeUserOperation(op)
	if err != nil {
		return nil, err
	}
	c.pending = msg
	return data, nil
}

// RequestTransfer proposes that the counterparty pays amount to this party.
// The counterparty's current balance must cover amount. A requesting moves
// the value transfer down, B requesting moves it up.
//
// The returned operation carries only our signature; the counterparty
// checks it with ReceiveMessage and countersigns with SignMessage.
func (c *Channel) RequestTransfer(ctx context.Context, amount *big.Int, client Client) ([]byte, error) {
	if c.pending != nil {
		return nil, ErrAlreadyWaiting
	}
	if !validAmount(amount) {
		return nil, ErrInvalidAmount
	}

	_, theirs, err := c.SortedBalances(ctx, client)
	if err != nil {
		return nil, err
	}
	if theirs.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	next := c.valueTransfer()
	switch c.us {
	case PartyA:
		next.Sub(next, amount)
	case PartyB:
		next.Add(next, amount)
	}
	if _, err := ToInt128(next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	callData, err := encodeDisputeCall(next)
	if err != nil {
		return nil, fmt.Errorf("encode dispute call: %w", err)
	}
	op := c.newOperation(callData, CallGasLimitDispute)
	return c.propose(op, &TransferMessage{UserOp: op, ValueTransfer: next})
}

// RequestFullWithdraw proposes a cooperative withdrawal paying both parties
// their full current balances.
func (c *Channel) RequestFullWithdraw(ctx context.Context, client Client) ([]byte, error) {
	if c.pending != nil {
		return nil, ErrAlreadyWaiting
	}

	withdrawA, withdrawB, err := c.Balances(ctx, client)
	if err != nil {
		return nil, err
	}
	if _, err := ToUint128(withdrawA); err != nil {
		return nil, integrityf("balance of A: %v", err)
	}
	if _, err := ToUint128(withdrawB); err != nil {
		return nil, integrityf("balance of B: %v", err)
	}

	callData, err := encodeCoopWithdrawCall(c.valueTransfer(), withdrawA, withdrawB)
	if err != nil {
		return nil, fmt.Errorf("encode coopWithdraw call: %w", err)
	}
	op := c.newOperation(callData, CallGasLimitCoop)

	us, them := c.sortByRole(withdrawA, withdrawB)
	return c.propose(op, &WithdrawalMessage{UserOp: op, WithdrawUs: us, WithdrawThem: them})
}

// RequestWithdraw would propose a partial cooperative withdrawal. The
// channel account has no partial exit yet.
func (c *Channel) RequestWithdraw(ctx context.Context, amount *big.Int, client Client) ([]byte, error) {
	if c.pending != nil {
		return nil, ErrAlreadyWaiting
	}
	return nil, fmt.Errorf("partial withdrawal: %w", ErrNotSupported)
}
