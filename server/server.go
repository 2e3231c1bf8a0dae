package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/mcpwire/internal/metrics"
	"github.com/BaSui01/mcpwire/protocol"
	"github.com/BaSui01/mcpwire/security"
	"github.com/BaSui01/mcpwire/transport"
)

// Config 服务端配置
type Config struct {
	// 服务名称，握手时上报给客户端
	Name string `yaml:"name" json:"name"`

	// 服务版本
	Version string `yaml:"version" json:"version"`

	// 列表接口默认页大小（客户端未传 limit 时生效，0 表示不分页）
	DefaultPageSize int `yaml:"default_page_size" json:"default_page_size"`

	// 单页上限，客户端传入的 limit 超过后被钳制
	MaxPageSize int `yaml:"max_page_size" json:"max_page_size"`

	// 处理请求总数上限，超过后 RunLoop 退出（0 表示不限）
	MaxRequests int64 `yaml:"max_requests" json:"max_requests"`

	// 每秒请求数限制（0 表示不限流）
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`

	// 限流突发容量
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() Config {
	return Config{
		Name:            "mcpwire-server",
		Version:         "1.0.0",
		DefaultPageSize: 0,
		MaxPageSize:     500,
	}
}

// TokenChecker 鉴权回调。返回非 nil 错误时请求被拒绝（-32000）。
// nil checker 表示不鉴权。
type TokenChecker func(token string) error

// Server MCP 服务端：注册表 + 分发器 + 消息循环。
// HandleRequest 可脱离传输直接调用，便于进程内测试。
type Server struct {
	config    Config
	logger    *zap.Logger
	policy    *security.Policy
	resources *ResourceRegistry
	tools     *ToolRegistry
	cursor    *cursorCodec
	limiter   *rate.Limiter
	metrics   *metrics.Collector
	checkAuth TokenChecker

	initialized   atomic.Bool
	shuttingDown  atomic.Bool
	requestCount  atomic.Int64
	errorCount    atomic.Int64
	toolCallCount atomic.Int64
	startedAt     time.Time

	runMu   sync.Mutex
	group   *errgroup.Group
	stopFn  context.CancelFunc
	running atomic.Bool
}

// Option 服务端可选配置
type Option func(*Server)

// WithPolicy 注入安全策略
func WithPolicy(p *security.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithTokenChecker 注入鉴权回调
func WithTokenChecker(fn TokenChecker) Option {
	return func(s *Server) { s.checkAuth = fn }
}

// NewServer 创建服务端
func NewServer(config Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Name == "" {
		config.Name = "mcpwire-server"
	}
	if config.MaxPageSize <= 0 {
		config.MaxPageSize = 500
	}
	s := &Server{
		config:    config,
		logger:    logger.With(zap.String("component", "mcp_server")),
		resources: NewResourceRegistry(),
		tools:     NewToolRegistry(),
		// 实例盐：跨实例/跨重启的游标全部失效
		cursor:    newCursorCodec(uuid.NewString()),
		startedAt: time.Now(),
	}
	if config.RequestsPerSecond > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = int(config.RequestsPerSecond) + 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resources 返回资源注册表
func (s *Server) Resources() *ResourceRegistry { return s.resources }

// Tools 返回工具注册表
func (s *Server) Tools() *ToolRegistry { return s.tools }

// RegisterResource 注册资源提供者
func (s *Server) RegisterResource(p ResourceProvider) error { return s.resources.Register(p) }

// RegisterTool 注册工具处理器
func (s *Server) RegisterTool(h ToolHandler) error { return s.tools.Register(h) }

// ServerStats 运行统计
type ServerStats struct {
	RequestsHandled int64         `json:"requests_handled"`
	Errors          int64         `json:"errors"`
	ToolCalls       int64         `json:"tool_calls"`
	Resources       int           `json:"resources"`
	Tools           int           `json:"tools"`
	Uptime          time.Duration `json:"uptime"`
	Initialized     bool          `json:"initialized"`
}

// Stats 返回统计快照
func (s *Server) Stats() ServerStats {
	return ServerStats{
		RequestsHandled: s.requestCount.Load(),
		Errors:          s.errorCount.Load(),
		ToolCalls:       s.toolCallCount.Load(),
		Resources:       s.resources.Count(),
		Tools:           s.tools.Count(),
		Uptime:          time.Since(s.startedAt),
		Initialized:     s.initialized.Load(),
	}
}

// HandleMessage 处理一条入站消息。
// 请求返回响应消息；通知与无法响应的消息返回 nil。
func (s *Server) HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message {
	switch msg.Type() {
	case protocol.TypeRequest:
		return s.HandleRequest(ctx, msg)
	case protocol.TypeNotification:
		s.handleNotification(msg)
		return nil
	default:
		// 响应类消息不该出现在服务端入站方向
		s.logger.Warn("dropping unexpected message", zap.String("type", msg.Type().String()))
		return nil
	}
}

// HandleRequest 分发一条请求并产出响应，绝不 panic 逃逸
func (s *Server) HandleRequest(ctx context.Context, msg *protocol.Message) (resp *protocol.Message) {
	start := time.Now()
	method := msg.Method
	if msg.ID == nil {
		s.errorCount.Add(1)
		return protocol.NewError(protocol.CodeInvalidRequest, "request id is required", protocol.NullID(), nil)
	}
	id := *msg.ID

	defer func() {
		if r := recover(); r != nil {
			s.errorCount.Add(1)
			s.logger.Error("handler panic", zap.String("method", method), zap.Any("panic", r))
			resp = protocol.NewError(protocol.CodeInternalError, fmt.Sprintf("internal error: %v", r), id, nil)
		}
		if s.metrics != nil {
			s.metrics.ObserveRequest(method, resp != nil && resp.Error == nil, time.Since(start))
		}
	}()

	s.requestCount.Add(1)

	if s.policy != nil && s.policy.ServingDisabled() {
		s.errorCount.Add(1)
		return protocol.NewError(protocol.CodeInvalidRequest, "serving is disabled", id, nil)
	}

	if s.limiter != nil && method != protocol.MethodInitialize && !s.limiter.Allow() {
		s.errorCount.Add(1)
		return protocol.NewError(protocol.CodeInternalError, "rate limit exceeded", id, nil)
	}

	// initialize 与 ping 之外的方法要求握手完成
	if !s.initialized.Load() && method != protocol.MethodInitialize && method != protocol.MethodPing {
		s.errorCount.Add(1)
		return protocol.NewError(protocol.CodeInvalidRequest, "server not initialized", id, nil)
	}

	var result any
	var err error

	switch method {
	case protocol.MethodInitialize:
		result, err = s.handleInitialize(msg)
	case protocol.MethodPing:
		result = map[string]any{}
	case protocol.MethodResourcesList:
		result, err = s.handleListResources(msg)
	case protocol.MethodResourcesRead:
		result, err = s.handleReadResource(ctx, msg)
	case protocol.MethodToolsList:
		result, err = s.handleListTools(msg)
	case protocol.MethodToolsCall:
		result, err = s.handleCallTool(ctx, msg)
	case protocol.MethodShutdown:
		s.shuttingDown.Store(true)
		result = protocol.ShutdownResult{Status: "shutting_down", Message: "server is shutting down"}
	default:
		s.errorCount.Add(1)
		return protocol.NewError(protocol.CodeMethodNotFound, fmt.Sprintf("method not found: %s", method), id, nil)
	}

	if err != nil {
		s.errorCount.Add(1)
		return protocol.NewError(errorCode(err), err.Error(), id, nil)
	}

	out, err := protocol.NewResponse(result, id)
	if err != nil {
		s.errorCount.Add(1)
		return protocol.NewError(protocol.CodeInternalError, err.Error(), id, nil)
	}
	return out
}

// errorCode 把处理器错误映射到协议错误码
func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrResourceNotFound):
		return protocol.CodeResourceNotFound
	case errors.Is(err, ErrToolNotFound):
		return protocol.CodeToolNotFound
	case errors.Is(err, ErrInvalidCursor):
		return protocol.CodeInvalidParams
	case errors.Is(err, ErrQueryRejected):
		return protocol.CodeInvalidToolInput
	case errors.Is(err, protocol.ErrInvalidShape):
		return protocol.CodeInvalidParams
	case errors.Is(err, security.ErrCommandNotAllowed),
		errors.Is(err, security.ErrURLNotAllowed),
		errors.Is(err, security.ErrUnsafeArgument):
		return protocol.CodeResourceAccessDenied
	case errors.Is(err, errAuthRequired):
		return protocol.CodeAuthRequired
	default:
		return protocol.CodeInternalError
	}
}

var errAuthRequired = errors.New("server: authorization required")

func (s *Server) handleInitialize(msg *protocol.Message) (any, error) {
	var params protocol.InitializeParams
	if err := msg.UnmarshalParams(&params); err != nil {
		return nil, err
	}

	if s.checkAuth != nil {
		if err := s.checkAuth(params.AuthToken); err != nil {
			return nil, fmt.Errorf("%w: %v", errAuthRequired, err)
		}
	}

	s.initialized.Store(true)
	s.logger.Info("client initialized",
		zap.String("client", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
		zap.String("protocol_version", params.ProtocolVersion))

	return protocol.InitializeResult{
		ProtocolVersion: protocol.Version,
		ServerInfo: protocol.ClientInfo{
			Name:    s.config.Name,
			Version: s.config.Version,
		},
		Capabilities: protocol.ServerCapabilities{
			Resources: true,
			Tools:     true,
		},
	}, nil
}

func (s *Server) handleNotification(msg *protocol.Message) {
	switch msg.Method {
	case protocol.MethodInitialized:
		s.logger.Debug("received initialized notification")
	default:
		s.logger.Debug("ignoring notification", zap.String("method", msg.Method))
	}
}

// clampLimit 解析客户端页大小：缺省用配置默认值，超限钳制
func (s *Server) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.config.DefaultPageSize
	}
	if limit > s.config.MaxPageSize {
		limit = s.config.MaxPageSize
	}
	return limit
}

func (s *Server) handleListResources(msg *protocol.Message) (any, error) {
	var params protocol.ListResourcesParams
	if len(msg.Params) > 0 {
		if err := msg.UnmarshalParams(&params); err != nil {
			return nil, err
		}
	}
	offset, err := s.cursor.decode(params.Cursor)
	if err != nil {
		return nil, err
	}
	all := s.resources.List()
	start, end, next := s.cursor.paginate(len(all), offset, s.clampLimit(params.Limit))
	return protocol.ListResourcesResult{
		Resources:  all[start:end],
		NextCursor: next,
	}, nil
}

func (s *Server) handleReadResource(ctx context.Context, msg *protocol.Message) (any, error) {
	var params protocol.ReadResourceParams
	if err := msg.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, fmt.Errorf("%w: empty uri", protocol.ErrInvalidShape)
	}
	provider, ok := s.resources.Get(params.URI)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, params.URI)
	}
	content, err := provider.Read(ctx)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.ObserveResourceRead(params.URI)
	}
	return protocol.ReadResourceResult{
		Contents: []protocol.ResourceContent{content},
	}, nil
}

func (s *Server) handleListTools(msg *protocol.Message) (any, error) {
	var params protocol.ListToolsParams
	if len(msg.Params) > 0 {
		if err := msg.UnmarshalParams(&params); err != nil {
			return nil, err
		}
	}
	offset, err := s.cursor.decode(params.Cursor)
	if err != nil {
		return nil, err
	}
	all := s.tools.List()
	start, end, next := s.cursor.paginate(len(all), offset, s.clampLimit(params.Limit))
	return protocol.ListToolsResult{
		Tools:      all[start:end],
		NextCursor: next,
	}, nil
}

func (s *Server) handleCallTool(ctx context.Context, msg *protocol.Message) (any, error) {
	var params protocol.CallToolParams
	if err := msg.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: empty tool name", protocol.ErrInvalidShape)
	}
	handler, ok := s.tools.Get(params.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, params.Name)
	}
	s.toolCallCount.Add(1)
	if s.metrics != nil {
		s.metrics.ObserveToolCall(params.Name)
	}
	result, err := handler.Call(ctx, params.Arguments)
	if err != nil {
		// 工具自身的失败归类为输入问题而非服务端内部错误
		if code := errorCode(err); code == protocol.CodeInternalError {
			return nil, fmt.Errorf("%w: %v", errToolFailed, err)
		}
		return nil, err
	}
	return result, nil
}

var errToolFailed = errors.New("server: tool execution failed")

// RunLoop 在当前 goroutine 上跑消息循环，直到传输关闭、
// 收到 shutdown、达到请求上限或 ctx 取消。
// 单条消息的任何失败只影响这一条，循环继续。
func (s *Server) RunLoop(ctx context.Context, tr transport.Transport) error {
	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("server transport: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}
	s.logger.Info("server loop started", zap.String("name", s.config.Name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := tr.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				s.logger.Info("server loop stopped", zap.Int64("requests", s.requestCount.Load()))
				return nil
			}
			if errors.Is(err, protocol.ErrMalformedJSON) {
				// 解析失败无法关联请求 id，回 null id 的 parse error
				s.errorCount.Add(1)
				s.send(ctx, tr, protocol.NewError(protocol.CodeParseError, err.Error(), protocol.NullID(), nil))
				continue
			}
			if errors.Is(err, protocol.ErrInvalidShape) {
				s.errorCount.Add(1)
				s.send(ctx, tr, protocol.NewError(protocol.CodeInvalidRequest, err.Error(), protocol.NullID(), nil))
				continue
			}
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			s.logger.Error("receive failed", zap.Error(err))
			return err
		}

		if resp := s.HandleMessage(ctx, msg); resp != nil {
			s.send(ctx, tr, resp)
		}

		if s.shuttingDown.Load() {
			s.logger.Info("shutdown requested, exiting loop")
			return nil
		}
		if s.config.MaxRequests > 0 && s.requestCount.Load() >= s.config.MaxRequests {
			s.logger.Info("request ceiling reached, exiting loop", zap.Int64("max", s.config.MaxRequests))
			return nil
		}
	}
}

func (s *Server) send(ctx context.Context, tr transport.Transport, msg *protocol.Message) {
	if err := tr.Send(ctx, msg); err != nil {
		s.logger.Error("send response failed", zap.Error(err))
	}
}

// Start 在后台 goroutine 里启动消息循环
func (s *Server) Start(ctx context.Context, tr transport.Transport) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running.Load() {
		return fmt.Errorf("server: already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(loopCtx)
	s.group = g
	s.stopFn = cancel
	s.running.Store(true)

	g.Go(func() error {
		defer s.running.Store(false)
		return s.RunLoop(gctx, tr)
	})
	return nil
}

// Stop 停止后台循环并等待退出
func (s *Server) Stop() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running.Load() && s.group == nil {
		return nil
	}
	if s.stopFn != nil {
		s.stopFn()
	}
	var err error
	if s.group != nil {
		err = s.group.Wait()
	}
	s.group = nil
	s.stopFn = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// IsRunning 返回后台循环是否在运行
func (s *Server) IsRunning() bool {
	return s.running.Load()
}
