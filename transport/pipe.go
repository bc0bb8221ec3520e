// Package transport provides ways of moving serialized operations between
// the two parties of a channel.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/blndgs/ch4nn337"
)

// ErrClosed is returned by a pipe end after Close.
var ErrClosed = errors.New("transport closed")

const pipeBuffer = 16

type pipeEnd struct {
	in   chan []byte
	out  chan []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-memory transports: whatever one end sends
// the other receives, in order.
func Pipe() (ch4nn337.Transport, ch4nn337.Transport) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := new(sync.Once)
	return &pipeEnd{in: ba, out: ab, done: done, once: once},
		&pipeEnd{in: ab, out: ba, done: done, once: once}
}

func (p *pipeEnd) Send(ctx context.Context, payload []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- append([]byte{}, payload...):
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-p.in:
		return payload, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down both ends of the pipe.
func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
