package ch4nn337

import (
	"bytes"
	"context"
)

// ReceiveMessage checks an operation proposed by the counterparty and
// returns the message it represents. The checks run in a fixed order and the
// first failure is returned:
//
//  1. sender is the channel account (ErrIllegalSender)
//  2. nonce is the next incoming nonce (ErrIllegalNonce)
//  3. init code matches the channel's (ErrIllegalInitcode)
//  4. paymaster is empty and gas/fee fields hold the protocol values
//     (ErrIllegalConstant)
//  5. the signature recovers to the counterparty (ErrIllegalSignature)
//  6. call data is a dispute or coopWithdraw call (ErrIllegalCalldata)
//  7. coopWithdraw: cooperative gas limit (ErrIllegalConstant), value
//     transfer equals ours (ErrIllegalValueTransfer), amounts within the
//     current balances (ErrInsufficientBalance)
//  8. dispute: dispute gas limit (ErrIllegalConstant), neither balance
//     negative under the new value transfer (ErrInsufficientBalance)
//
// The channel is not modified; pass the message to SignMessage to accept it.
func (c *Channel) ReceiveMessage(ctx context.Context, op *UserOperation, client Client) (Message, error) {
	if op == nil {
		return nil, ErrUnsupportedMessage
	}
	if op.Sender != c.address {
		return nil, ErrIllegalSender
	}
	if op.Nonce == nil || op.Nonce.Cmp(c.NextIncomingNonce()) != 0 {
		return nil, ErrIllegalNonce
	}
	if !bytes.Equal(op.InitCode, c.InitCode()) {
		return nil, ErrIllegalInitcode
	}
	if !op.hasFixedConstants() {
		return nil, ErrIllegalConstant
	}

	if !op.HasSignature() {
		return nil, ErrIllegalSignature
	}
	signer, err := recoverSigner(op.GetUserOpHash(c.entryPoint, c.chainID), op.Signature)
	if err != nil || signer != c.counterparty {
		return nil, ErrIllegalSignature
	}

	call, err := decodeChannelCall(op.CallData)
	if err != nil {
		return nil, ErrIllegalCalldata
	}

	switch call := call.(type) {
	case coopWithdrawCall:
		if !bigEqual(op.CallGasLimit, u64(CallGasLimitCoop)) {
			return nil, ErrIllegalConstant
		}
		if call.ValueTransfer.Cmp(c.valueTransfer()) != 0 {
			return nil, ErrIllegalValueTransfer
		}
		balanceA, balanceB, err := c.Balances(ctx, client)
		if err != nil {
			return nil, err
		}
		if call.WithdrawA.Cmp(balanceA) > 0 || call.WithdrawB.Cmp(balanceB) > 0 {
			return nil, ErrInsufficientBalance
		}
		us, them := c.sortByRole(call.WithdrawA, call.WithdrawB)
		return &WithdrawalMessage{UserOp: op.Clone(), WithdrawUs: us, WithdrawThem: them}, nil
	case disputeCall:
		if !bigEqual(op.CallGasLimit, u64(CallGasLimitDispute)) {
			return nil, ErrIllegalConstant
		}
		balanceA, balanceB, err := c.balancesWith(ctx, client, call.ValueTransfer)
		if err != nil {
			return nil, err
		}
		if balanceA.Sign() < 0 || balanceB.Sign() < 0 {
			return nil, ErrInsufficientBalance
		}
		return &TransferMessage{UserOp: op.Clone(), ValueTransfer: call.ValueTransfer}, nil
	default:
		return nil, ErrIllegalCalldata
	}
}
