package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mcpwire/protocol"
	"github.com/BaSui01/mcpwire/transport"
)

// State 连接状态
type State int32

const (
	// StateDisconnected 初始态或已断开
	StateDisconnected State = iota
	// StateConnecting 传输已建立，握手进行中
	StateConnecting
	// StateConnected 传输可用，尚未完成 initialize
	StateConnected
	// StateInitialized 握手完成，可发起业务请求
	StateInitialized
	// StateError 不可恢复错误
	StateError
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// 连接层错误
var (
	// ErrNotInitialized 未完成握手即发起业务请求
	ErrNotInitialized = errors.New("client: connection not initialized")
	// ErrAlreadyConnected 重复 Connect
	ErrAlreadyConnected = errors.New("client: already connected")
)

// Config 客户端连接配置
type Config struct {
	// 客户端名称，握手时上报给服务端
	Name string `yaml:"name" json:"name"`

	// 客户端版本
	Version string `yaml:"version" json:"version"`

	// 鉴权令牌，随 initialize 上报（可选）
	AuthToken string `yaml:"auth_token" json:"auth_token"`

	// 单个请求超时
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// 请求失败后的最大重试次数（0 表示不重试）
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 首次重试退避，之后按指数增长
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
}

// DefaultConfig 返回默认客户端配置
func DefaultConfig() Config {
	return Config{
		Name:           "mcpwire-client",
		Version:        "1.0.0",
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// Connection MCP 客户端连接。
// 请求路径由互斥锁串行化：底层传输一次只在途一个请求。
type Connection struct {
	config    Config
	transport transport.Transport
	logger    *zap.Logger

	state  atomic.Int32
	nextID atomic.Int64

	reqMu sync.Mutex // 串行化 request/response 往返

	capsMu       sync.RWMutex
	serverCaps   protocol.ServerCapabilities
	serverInfo   protocol.ClientInfo
	protoVersion string

	// 健康统计
	requestsSent   atomic.Int64
	requestsFailed atomic.Int64
	connectedAt    atomic.Int64
	lastError      atomic.Value // string
}

// NewConnection 创建客户端连接
func NewConnection(config Config, tr transport.Transport, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config = DefaultConfig()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	c := &Connection{
		config:    config,
		transport: tr,
		logger:    logger.With(zap.String("component", "mcp_client")),
	}
	c.state.Store(int32(StateDisconnected))
	return c
}

// State 返回当前连接状态
func (c *Connection) State() State {
	return State(c.state.Load())
}

// ServerCapabilities 返回握手解析出的服务端能力快照
func (c *Connection) ServerCapabilities() protocol.ServerCapabilities {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.serverCaps
}

// ServerInfo 返回服务端自报的名称与版本
func (c *Connection) ServerInfo() protocol.ClientInfo {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.serverInfo
}

// ProtocolVersion 返回协商到的协议版本
func (c *Connection) ProtocolVersion() string {
	c.capsMu.RLock()
	defer c.capsMu.RUnlock()
	return c.protoVersion
}

// Connect 建立传输并完成 initialize/initialized 握手。
// 能力集逐字段取自服务端响应，不做任何臆测。
func (c *Connection) Connect(ctx context.Context) error {
	if c.State() == StateInitialized {
		return ErrAlreadyConnected
	}
	return c.establish(ctx)
}

// establish 建立传输并重放完整握手，重连路径复用同一流程
func (c *Connection) establish(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	if err := c.transport.Connect(ctx); err != nil {
		c.fail(err)
		return fmt.Errorf("connect transport: %w", err)
	}
	c.state.Store(int32(StateConnected))

	params := protocol.InitializeParams{
		ProtocolVersion: protocol.Version,
		ClientInfo: protocol.ClientInfo{
			Name:    c.config.Name,
			Version: c.config.Version,
		},
		Capabilities: protocol.ClientCapabilities{},
		AuthToken:    c.config.AuthToken,
	}

	resp, err := c.roundTrip(ctx, protocol.MethodInitialize, params)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("initialize: %w", err)
	}

	var result protocol.InitializeResult
	if err := resp.UnmarshalResult(&result); err != nil {
		c.fail(err)
		return fmt.Errorf("initialize result: %w", err)
	}

	c.capsMu.Lock()
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.protoVersion = result.ProtocolVersion
	c.capsMu.Unlock()

	// initialized 通知不期待响应
	note, err := protocol.NewNotification(protocol.MethodInitialized, nil)
	if err != nil {
		c.fail(err)
		return err
	}
	if err := c.transport.Send(ctx, note); err != nil {
		c.fail(err)
		return fmt.Errorf("send initialized: %w", err)
	}

	c.state.Store(int32(StateInitialized))
	c.connectedAt.Store(time.Now().UnixNano())
	c.logger.Info("connection initialized",
		zap.String("server", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol_version", result.ProtocolVersion))
	return nil
}

// Request 发送业务请求并等待匹配响应，带有界指数退避重试。
// 协议层错误响应原样返回 *protocol.ErrorObject，不参与重试。
// 链路类故障先置 Error，重试前重建传输并重放握手。
func (c *Connection) Request(ctx context.Context, method string, params any) (*protocol.Message, error) {
	if c.State() != StateInitialized {
		return nil, ErrNotInitialized
	}

	var lastErr error
	backoff := c.config.RetryBackoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying request",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2

			// 链路已断，先重建再重发，否则重试只会原样失败
			if c.State() != StateInitialized {
				if err := c.reconnect(ctx); err != nil {
					lastErr = err
					continue
				}
			}
		}

		resp, err := c.roundTrip(ctx, method, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// 协议错误是确定性结果，重发不会改变
		var eo *protocol.ErrorObject
		if errors.As(err, &eo) {
			return nil, err
		}
		c.requestsFailed.Add(1)
		if isTransportError(err) {
			c.fail(err)
		}
	}
	return nil, fmt.Errorf("request %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// isTransportError 判定链路类故障，这类故障只有重建传输才可能恢复
func isTransportError(err error) bool {
	return errors.Is(err, transport.ErrClosed) ||
		errors.Is(err, transport.ErrNotConnected) ||
		errors.Is(err, transport.ErrWriteFailed) ||
		errors.Is(err, transport.ErrReadTimeout)
}

// reconnect 丢弃旧链路并重放 initialize/initialized 握手
func (c *Connection) reconnect(ctx context.Context) error {
	c.logger.Warn("reconnecting transport")
	_ = c.transport.Close()
	return c.establish(ctx)
}

// roundTrip 一次完整的请求/响应往返，ID 单调递增且响应必须回显同一 ID
func (c *Connection) roundTrip(ctx context.Context, method string, params any) (*protocol.Message, error) {
	id := protocol.NewIntID(c.nextID.Add(1))
	req, err := protocol.NewRequest(method, params, id)
	if err != nil {
		return nil, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	c.requestsSent.Add(1)
	resp, err := c.transport.SendAndReceive(reqCtx, req)
	if err != nil {
		c.lastError.Store(err.Error())
		return nil, err
	}
	if resp.ID == nil || !resp.ID.Equal(id) {
		return nil, fmt.Errorf("response id mismatch: sent %s, got %s", id.String(), respIDString(resp))
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}

func respIDString(m *protocol.Message) string {
	if m.ID == nil {
		return "null"
	}
	return m.ID.String()
}

// Ping 轻量探活
func (c *Connection) Ping(ctx context.Context) bool {
	if c.State() != StateInitialized {
		return false
	}
	_, err := c.roundTrip(ctx, protocol.MethodPing, nil)
	return err == nil
}

// Shutdown 请求服务端优雅停机
func (c *Connection) Shutdown(ctx context.Context) (*protocol.ShutdownResult, error) {
	resp, err := c.Request(ctx, protocol.MethodShutdown, nil)
	if err != nil {
		return nil, err
	}
	var result protocol.ShutdownResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close 断开连接并释放传输，幂等
func (c *Connection) Close() error {
	if c.State() == StateDisconnected {
		return nil
	}
	c.state.Store(int32(StateDisconnected))
	return c.transport.Close()
}

// Stats 连接健康统计
type Stats struct {
	State          string        `json:"state"`
	RequestsSent   int64         `json:"requests_sent"`
	RequestsFailed int64         `json:"requests_failed"`
	Uptime         time.Duration `json:"uptime"`
	LastError      string        `json:"last_error,omitempty"`
}

// Stats 返回健康统计快照
func (c *Connection) Stats() Stats {
	s := Stats{
		State:          c.State().String(),
		RequestsSent:   c.requestsSent.Load(),
		RequestsFailed: c.requestsFailed.Load(),
	}
	if at := c.connectedAt.Load(); at > 0 && c.State() == StateInitialized {
		s.Uptime = time.Since(time.Unix(0, at))
	}
	if v, ok := c.lastError.Load().(string); ok {
		s.LastError = v
	}
	return s
}

func (c *Connection) fail(err error) {
	c.state.Store(int32(StateError))
	c.lastError.Store(err.Error())
	c.logger.Error("connection failed", zap.Error(err))
}
