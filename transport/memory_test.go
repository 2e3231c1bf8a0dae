package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/mcpwire/protocol"
)

func TestMemoryPair_RoundTrip(t *testing.T) {
	a, b := NewMemoryPair()
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.Connect(ctx))

	req, err := protocol.NewRequest(protocol.MethodPing, nil, protocol.NewIntID(1))
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, req))

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodPing, got.Method)
	assert.True(t, got.ID.Equal(protocol.NewIntID(1)))
}

func TestMemoryPair_SendBeforeConnect(t *testing.T) {
	a, _ := NewMemoryPair()

	req, err := protocol.NewRequest(protocol.MethodPing, nil, protocol.NewIntID(1))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Send(context.Background(), req), ErrNotConnected)
}

// TestMemoryPair_CloseUnblocksReceive verifies that closing either end
// releases a blocked Receive on the peer.
func TestMemoryPair_CloseUnblocksReceive(t *testing.T) {
	a, b := NewMemoryPair()
	ctx := context.Background()
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.Connect(ctx))

	done := make(chan error, 1)
	go func() {
		_, err := b.Receive(ctx)
		done <- err
	}()

	require.NoError(t, a.Close())
	err := <-done
	assert.ErrorIs(t, err, ErrClosed)

	// 两端同时失效，Close 幂等
	assert.False(t, b.IsConnected())
	assert.NoError(t, a.Close())
}

func TestMemoryPair_ReceiveRespectsContext(t *testing.T) {
	a, b := NewMemoryPair()
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, b.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
