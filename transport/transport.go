// Package transport 提供 MCP 消息的字节级传输通道。
//
// 本包实现三种传输：ProcessTransport 以子进程 stdin/stdout 管道
// 通信（newline-delimited JSON 帧），StdioTransport 以任意
// io.Reader/io.Writer 对通信（服务端嵌入场景），MemoryTransport
// 提供进程内成对通道（测试场景）。
package transport

import (
	"context"
	"errors"

	"github.com/BaSui01/mcpwire/protocol"
)

// 传输层错误
var (
	// ErrNotConnected 传输尚未建立或已关闭
	ErrNotConnected = errors.New("transport not connected")
	// ErrSpawnFailed 子进程启动失败
	ErrSpawnFailed = errors.New("failed to spawn process")
	// ErrWriteFailed 写入字节数少于请求字节数
	ErrWriteFailed = errors.New("short write to transport")
	// ErrReadTimeout 等待完整消息超时
	ErrReadTimeout = errors.New("timeout waiting for transport data")
	// ErrClosed 传输在等待期间被关闭（对端 EOF 或本端断开）
	ErrClosed = errors.New("transport closed")
)

// Transport MCP 传输层接口。
// 同一传输实例同一时刻只被一个 Connection 驱动；
// Send 与 Receive 遵循发出顺序与到达顺序。
type Transport interface {
	// Connect 建立传输通道
	Connect(ctx context.Context) error
	// Send 发送一条消息（一行一帧）
	Send(ctx context.Context, msg *protocol.Message) error
	// Receive 接收下一条完整消息（阻塞，受读超时约束）
	Receive(ctx context.Context) (*protocol.Message, error)
	// SendAndReceive 发送请求并等待下一条响应
	SendAndReceive(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
	// Ping 探测对端存活
	Ping(ctx context.Context) bool
	// IsConnected 返回传输是否可用
	IsConnected() bool
	// Close 释放底层资源，幂等
	Close() error
}
