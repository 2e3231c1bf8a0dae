package transport

import (
	"context"
	"sync"

	"github.com/BaSui01/mcpwire/protocol"
)

// MemoryTransport 进程内传输，两端各持有一对收发队列。
// 消息经过序列化/反序列化往返，保持与真实链路一致的透传语义。
type MemoryTransport struct {
	inbound  chan []byte
	outbound chan []byte

	mu        sync.Mutex
	connected bool
	closed    bool
	closeOnce *sync.Once
	done      chan struct{}
}

// NewMemoryPair 创建互相连通的一对内存传输，
// 一端的发送是另一端的接收。用于不出进程的端到端测试。
func NewMemoryPair() (*MemoryTransport, *MemoryTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &MemoryTransport{inbound: ba, outbound: ab, done: done, closeOnce: once}
	b := &MemoryTransport{inbound: ab, outbound: ba, done: done, closeOnce: once}
	return a, b
}

// Connect 标记传输可用
func (t *MemoryTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.connected = true
	return nil
}

// Send 序列化消息并投递给对端
func (t *MemoryTransport) Send(ctx context.Context, msg *protocol.Message) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	data, err := msg.Serialize()
	if err != nil {
		return err
	}
	select {
	case t.outbound <- data:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive 阻塞等待对端的下一条消息
func (t *MemoryTransport) Receive(ctx context.Context) (*protocol.Message, error) {
	if !t.IsConnected() {
		return nil, ErrNotConnected
	}
	select {
	case data := <-t.inbound:
		return protocol.Deserialize(data)
	case <-t.done:
		// 关闭后先清空残留消息
		select {
		case data := <-t.inbound:
			return protocol.Deserialize(data)
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendAndReceive 发送请求并等待下一条响应
func (t *MemoryTransport) SendAndReceive(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if err := t.Send(ctx, msg); err != nil {
		return nil, err
	}
	return t.Receive(ctx)
}

// Ping 内存链路只看连接状态
func (t *MemoryTransport) Ping(ctx context.Context) bool {
	return t.IsConnected()
}

// IsConnected 返回传输是否可用
func (t *MemoryTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
	}
	return t.connected
}

// Close 关闭整条链路，两端同时失效，幂等
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	t.mu.Unlock()
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
