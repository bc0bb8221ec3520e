package ch4nn337

import (
	"bytes"
	"context"
	"fmt"
)

// SignMessage countersigns a message returned by ReceiveMessage and commits
// it. The aggregated signature always holds A's signature first and B's
// second. A withdrawal is submitted to the entry point before it is
// committed; a transfer stays off chain.
//
// It fails with ErrAlreadyWaiting while this instance has its own proposal
// outstanding: the pending slot and the next nonce belong to that proposal.
// The operation is checked again exactly as ReceiveMessage does. On any
// error the channel is left unchanged.
func (c *Channel) SignMessage(ctx context.Context, msg Message, client Client) ([]byte, error) {
	if c.pending != nil {
		return nil, ErrAlreadyWaiting
	}
	op, err := operationOf(msg)
	if err != nil {
		return nil, err
	}
	// the message is rebuilt from the signed operation so that its fields
	// cannot disagree with what is countersigned
	committed, err := c.ReceiveMessage(ctx, op, client)
	if err != nil {
		return nil, err
	}
	signed := committed.Operation()
	ours, err := c.sign(signed)
	if err != nil {
		return nil, err
	}

	var sigA, sigB []byte
	switch c.us {
	case PartyA:
		sigA, sigB = ours, signed.Signature
	case PartyB:
		sigA, sigB = signed.Signature, ours
	}
	aggregate, err := AggregateSignatures(sigA, sigB)
	if err != nil {
		return nil, &SerdeError{Err: err}
	}
	signed.Signature = aggregate

	data, err := encodeUserOperation(signed)
	if err != nil {
		return nil, err
	}

	switch committed.(type) {
	case *WithdrawalMessage:
		if _, err := client.SendUserOperation(ctx, signed, c.entryPoint); err != nil {
			return nil, &TransportError{Op: "send user operation", Err: err}
		}
	case *TransferMessage:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, committed)
	}

	c.messages = append(c.messages, committed)
	return data, nil
}

// ImportResponse commits this instance's pending proposal once the
// counterparty has returned it fully countersigned. The response must match
// the pending operation in every field but the signature, keep our
// signature in our slot and carry a valid counterparty signature in the
// other.
func (c *Channel) ImportResponse(op *UserOperation) error {
	if c.pending == nil {
		return ErrNoPendingMessage
	}
	pendingOp, err := operationOf(c.pending)
	if err != nil {
		return err
	}
	if op == nil || !pendingOp.sameContent(op) {
		return ErrResponseMismatch
	}

	sigA, sigB, err := SplitSignatures(op.Signature)
	if err != nil || !isSignature(sigA) || !isSignature(sigB) {
		return ErrIllegalSignature
	}
	ours, theirs := sigA, sigB
	if c.us == PartyB {
		ours, theirs = sigB, sigA
	}
	if !bytes.Equal(ours, pendingOp.Signature) {
		return ErrIllegalSignature
	}
	hash := pendingOp.GetUserOpHash(c.entryPoint, c.chainID)
	if signer, err := recoverSigner(hash, theirs); err != nil || signer != c.counterparty {
		return ErrIllegalSignature
	}

	committed := cloneMessage(c.pending)
	committed.Operation().Signature = append([]byte{}, op.Signature...)
	c.messages = append(c.messages, committed)
	c.pending = nil
	return nil
}

// CancelPendingMessage drops this instance's outstanding proposal and
// reports whether there was one.
func (c *Channel) CancelPendingMessage() bool {
	had := c.pending != nil
	c.pending = nil
	return had
}

// Dispute would start an on-chain dispute with the latest committed
// transfer. Not supported yet.
func (c *Channel) Dispute(ctx context.Context, client Client) error {
	return fmt.Errorf("dispute: %w", ErrNotSupported)
}

// CloseDispute would settle an expired on-chain dispute. Not supported yet.
func (c *Channel) CloseDispute(ctx context.Context, client Client) error {
	return fmt.Errorf("close dispute: %w", ErrNotSupported)
}
