package transport

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/mcpwire/protocol"
)

func TestStreamTransport_Send(t *testing.T) {
	var out bytes.Buffer
	tr := NewStreamTransport(strings.NewReader(""), &out, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	msg, err := protocol.NewRequest(protocol.MethodPing, nil, protocol.NewIntID(5))
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), msg))

	line := out.String()
	assert.True(t, strings.HasSuffix(line, "\n"), "frames are newline terminated")
	assert.Equal(t, 1, strings.Count(line, "\n"))

	decoded, err := protocol.Deserialize([]byte(strings.TrimSuffix(line, "\n")))
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodPing, decoded.Method)
}

func TestStreamTransport_ReceiveSkipsBlankLines(t *testing.T) {
	input := "\n\n" + `{"jsonrpc":"2.0","method":"ping","id":1}` + "\n"
	tr := NewStreamTransport(strings.NewReader(input), io.Discard, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	msg, err := tr.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodPing, msg.Method)
}

func TestStreamTransport_MalformedLine(t *testing.T) {
	input := "{not json}\n"
	tr := NewStreamTransport(strings.NewReader(input), io.Discard, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	_, err := tr.Receive(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrMalformedJSON)
}

// 不完整的行（无换行的 EOF 残留）不会被当成完整消息
func TestStreamTransport_PartialLineNotDelivered(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"ping","id":1}` // 没有换行
	tr := NewStreamTransport(strings.NewReader(input), io.Discard, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStreamTransport_EOF(t *testing.T) {
	tr := NewStreamTransport(strings.NewReader(""), io.Discard, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

// Close 要能打断阻塞中的 Receive：关闭读端描述符，
// 否则信号触发的停机会卡在一个还没到数据的读上。
func TestStreamTransport_CloseUnblocksPendingReceive(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	tr := NewStreamTransport(r, io.Discard, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Receive still blocked after Close")
	}
}

func TestStreamTransport_CloseIdempotent(t *testing.T) {
	tr := NewStreamTransport(strings.NewReader(""), io.Discard, zaptest.NewLogger(t))
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())

	msg, _ := protocol.NewRequest(protocol.MethodPing, nil, protocol.NewIntID(1))
	assert.ErrorIs(t, tr.Send(context.Background(), msg), ErrNotConnected)
}
