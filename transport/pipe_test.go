package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe_Order(t *testing.T) {
	ctx := context.Background()
	left, right := Pipe()

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, left.Send(ctx, []byte(msg)))
	}
	for _, want := range []string{"first", "second", "third"} {
		got, err := right.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	require.NoError(t, right.Send(ctx, []byte("reply")))
	got, err := left.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(got))
}

func TestPipe_CopiesPayload(t *testing.T) {
	ctx := context.Background()
	left, right := Pipe()

	payload := []byte("abc")
	require.NoError(t, left.Send(ctx, payload))
	payload[0] = 'x'

	got, err := right.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestPipe_Cancel(t *testing.T) {
	_, right := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := right.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipe_Close(t *testing.T) {
	ctx := context.Background()
	left, right := Pipe()

	closer, ok := left.(interface{ Close() error })
	require.True(t, ok)
	require.NoError(t, closer.Close())
	require.NoError(t, closer.Close())

	assert.ErrorIs(t, left.Send(ctx, []byte("x")), ErrClosed)
	_, err := right.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
