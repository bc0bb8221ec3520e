package ch4nn337

import (
	"errors"
	"fmt"
)

type channelError string

func (e channelError) Error() string {
	return string(e)
}

// Protocol errors. Each illegal-message error names exactly one failed check
// of ReceiveMessage.
const (
	ErrInsufficientBalance  channelError = "insufficient balance"
	ErrAlreadyWaiting       channelError = "already awaiting a signature"
	ErrIllegalSender        channelError = "illegal sender"
	ErrIllegalNonce         channelError = "illegal nonce"
	ErrIllegalInitcode      channelError = "illegal initcode"
	ErrIllegalConstant      channelError = "illegal constant"
	ErrIllegalCalldata      channelError = "illegal calldata"
	ErrIllegalValueTransfer channelError = "illegal value transfer"
	ErrIllegalSignature     channelError = "illegal signature"
	ErrInvalidAmount        channelError = "amount must be positive and fit in 128 bits"
	ErrNoPendingMessage     channelError = "no pending message"
	ErrResponseMismatch     channelError = "response does not match the pending message"
	ErrNotSupported         channelError = "operation not supported"
)

// TransportError wraps a failure of the network client (code, balance and
// submission calls).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ContractError wraps a failed read-only contract call.
type ContractError struct {
	Method string
	Err    error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract call %s: %v", e.Method, e.Err)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// SerdeError wraps a serialization failure of an operation or record.
type SerdeError struct {
	Err error
}

func (e *SerdeError) Error() string {
	return fmt.Sprintf("serialization: %v", e.Err)
}

func (e *SerdeError) Unwrap() error {
	return e.Err
}

// IntegrityError reports corrupted local state: a key that does not derive
// the stored address, or two channel instances that disagree on their shared
// identity. It is never caused by a misbehaving counterparty.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "channel integrity violation: " + e.Reason
}

// IsIntegrity reports whether err is or wraps an *IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

func integrityf(format string, args ...any) error {
	return &IntegrityError{Reason: fmt.Sprintf(format, args...)}
}
