package ch4nn337

import (
	"errors"
	"fmt"
	"math/big"
)

// Message is a channel update: a TransferMessage or a WithdrawalMessage.
// The set of variants is closed; consumers switch over both and treat any
// other value as ErrUnsupportedMessage.
type Message interface {
	// Operation returns the wrapped user operation.
	Operation() *UserOperation
	isMessage()
}

// TransferMessage moves the agreed value transfer to ValueTransfer without
// touching funds on chain. Positive values move funds from A to B.
type TransferMessage struct {
	UserOp        *UserOperation
	ValueTransfer *big.Int
}

// WithdrawalMessage cooperatively closes out the channel. WithdrawUs and
// WithdrawThem restate the call's withdrawal amounts relative to the
// instance holding the message.
type WithdrawalMessage struct {
	UserOp       *UserOperation
	WithdrawUs   *big.Int
	WithdrawThem *big.Int
}

func (m *TransferMessage) Operation() *UserOperation   { return m.UserOp }
func (m *WithdrawalMessage) Operation() *UserOperation { return m.UserOp }

func (*TransferMessage) isMessage()   {}
func (*WithdrawalMessage) isMessage() {}

// ErrUnsupportedMessage is returned for a nil message or a message type
// outside the closed set.
var ErrUnsupportedMessage = errors.New("unsupported message type")

type transferJSON struct {
	UserOp        *UserOperation `json:"userop" binding:"required"`
	ValueTransfer *big.Int       `json:"value_transfer" binding:"required"`
}

type withdrawalJSON struct {
	UserOp       *UserOperation `json:"userop" binding:"required"`
	WithdrawUs   *big.Int       `json:"withdraw_us" binding:"required"`
	WithdrawThem *big.Int       `json:"withdraw_them" binding:"required"`
}

// messageJSON is the externally tagged record form of a Message: exactly
// one of the fields is set.
type messageJSON struct {
	Transfer   *transferJSON   `json:"transfer,omitempty"`
	Withdrawal *withdrawalJSON `json:"withdrawal,omitempty"`
}

func toMessageJSON(m Message) (*messageJSON, error) {
	switch msg := m.(type) {
	case *TransferMessage:
		if msg == nil {
			return nil, ErrUnsupportedMessage
		}
		return &messageJSON{Transfer: &transferJSON{
			UserOp:        msg.UserOp,
			ValueTransfer: msg.ValueTransfer,
		}}, nil
	case *WithdrawalMessage:
		if msg == nil {
			return nil, ErrUnsupportedMessage
		}
		return &messageJSON{Withdrawal: &withdrawalJSON{
			UserOp:       msg.UserOp,
			WithdrawUs:   msg.WithdrawUs,
			WithdrawThem: msg.WithdrawThem,
		}}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, m)
	}
}

func (j *messageJSON) toMessage() (Message, error) {
	switch {
	case j == nil:
		return nil, ErrUnsupportedMessage
	case j.Transfer != nil && j.Withdrawal == nil:
		return &TransferMessage{
			UserOp:        j.Transfer.UserOp,
			ValueTransfer: j.Transfer.ValueTransfer,
		}, nil
	case j.Withdrawal != nil && j.Transfer == nil:
		return &WithdrawalMessage{
			UserOp:       j.Withdrawal.UserOp,
			WithdrawUs:   j.Withdrawal.WithdrawUs,
			WithdrawThem: j.Withdrawal.WithdrawThem,
		}, nil
	default:
		return nil, fmt.Errorf("%w: message record must hold exactly one variant", ErrUnsupportedMessage)
	}
}

// operationOf returns the wrapped operation of a known message variant.
func operationOf(m Message) (*UserOperation, error) {
	switch msg := m.(type) {
	case *TransferMessage:
		if msg == nil || msg.UserOp == nil {
			return nil, ErrUnsupportedMessage
		}
		return msg.UserOp, nil
	case *WithdrawalMessage:
		if msg == nil || msg.UserOp == nil {
			return nil, ErrUnsupportedMessage
		}
		return msg.UserOp, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, m)
	}
}

// valueTransferAfter returns the outstanding value transfer once m is the
// latest committed message.
func valueTransferAfter(m Message) *big.Int {
	switch msg := m.(type) {
	case *TransferMessage:
		return new(big.Int).Set(bigOrZero(msg.ValueTransfer))
	case *WithdrawalMessage:
		return new(big.Int)
	default:
		panic(fmt.Sprintf("unknown message type %T", m))
	}
}

// cloneMessage deep-copies a message so callers cannot alias channel state.
func cloneMessage(m Message) Message {
	switch msg := m.(type) {
	case *TransferMessage:
		return &TransferMessage{UserOp: msg.UserOp.Clone(), ValueTransfer: cloneBig(msg.ValueTransfer)}
	case *WithdrawalMessage:
		return &WithdrawalMessage{
			UserOp:       msg.UserOp.Clone(),
			WithdrawUs:   cloneBig(msg.WithdrawUs),
			WithdrawThem: cloneBig(msg.WithdrawThem),
		}
	default:
		panic(fmt.Sprintf("unknown message type %T", m))
	}
}
