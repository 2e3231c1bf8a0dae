package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpwire/protocol"
)

// StdioTransport 基于任意读写流的换行分帧传输，
// 服务端默认挂在本进程的 stdin/stdout 上。
type StdioTransport struct {
	reader *bufio.Reader
	source io.Reader // 原始读端，Close 时关闭它来打断阻塞中的读
	writer io.Writer
	logger *zap.Logger

	readMu    sync.Mutex
	writeMu   sync.Mutex
	mu        sync.Mutex
	connected bool
	closed    bool
}

// NewStdioTransport 创建挂在进程 stdin/stdout 上的传输
func NewStdioTransport(logger *zap.Logger) *StdioTransport {
	return NewStreamTransport(os.Stdin, os.Stdout, logger)
}

// NewStreamTransport 创建挂在给定读写流上的传输，测试时可注入管道
func NewStreamTransport(r io.Reader, w io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		reader: bufio.NewReader(r),
		source: r,
		writer: w,
		logger: logger.With(zap.String("component", "stdio_transport")),
	}
}

// Connect 标记传输可用，流本身无需握手
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.connected = true
	return nil
}

// Send 序列化并整帧写出一条消息
func (t *StdioTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	data, err := msg.Serialize()
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Receive 阻塞读取下一条完整消息，空行跳过，EOF 返回 ErrClosed
func (t *StdioTransport) Receive(ctx context.Context) (*protocol.Message, error) {
	if !t.IsConnected() {
		return nil, ErrNotConnected
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		line, err := t.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		return protocol.Deserialize([]byte(line))
	}
}

// SendAndReceive 发送请求并等待下一条响应
func (t *StdioTransport) SendAndReceive(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if err := t.Send(ctx, msg); err != nil {
		return nil, err
	}
	return t.Receive(ctx)
}

// Ping 流式传输无独立探活手段，以连接状态为准
func (t *StdioTransport) Ping(ctx context.Context) bool {
	return t.IsConnected()
}

// IsConnected 返回传输是否可用
func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}

// Close 幂等关闭。关闭读端描述符以打断阻塞中的 Receive，
// 进程自身的 stdin/stdout 除外。
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	if c, ok := t.source.(io.Closer); ok && t.source != os.Stdin {
		c.Close()
	}
	if c, ok := t.writer.(io.Closer); ok && t.writer != os.Stdout {
		c.Close()
	}
	return nil
}
