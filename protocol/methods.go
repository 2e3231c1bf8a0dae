package protocol

// MCP 方法名常量
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"

	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"

	MethodToolsList = "tools/list"
	MethodToolsCall = "tools/call"

	MethodPing     = "ping"
	MethodShutdown = "shutdown"
)

// ClientInfo initialize 请求中的客户端身份
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities 客户端能力广告
type ClientCapabilities struct {
	Roots    []string       `json:"roots"`
	Sampling map[string]any `json:"sampling"`
}

// ServerCapabilities 服务端能力声明。
// 每个标志必须来自对端 initialize 响应的实际内容，
// 对端未声明的能力一律视为不支持，不得预设默认值。
type ServerCapabilities struct {
	Resources bool `json:"resources"`
	Tools     bool `json:"tools"`
	Prompts   bool `json:"prompts"`
	Sampling  bool `json:"sampling"`
}

// InitializeParams initialize 请求参数
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	// AuthToken 可选鉴权令牌，服务端配置了鉴权回调时校验
	AuthToken string `json:"authToken,omitempty"`
}

// InitializeResult initialize 响应结果
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ClientInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ResourceDescriptor resources/list 条目
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ResourceContent resources/read 内容块
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ToolDescriptor tools/list 条目
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock tools/call 结果内容块
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ListResourcesParams resources/list 参数
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListResourcesResult resources/list 结果
type ListResourcesResult struct {
	Resources  []ResourceDescriptor `json:"resources"`
	NextCursor string               `json:"nextCursor,omitempty"`
}

// ReadResourceParams resources/read 参数
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult resources/read 结果
type ReadResourceResult struct {
	Contents []ResourceContent `json:"contents"`
}

// ListToolsParams tools/list 参数
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// ListToolsResult tools/list 结果
type ListToolsResult struct {
	Tools      []ToolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// CallToolParams tools/call 参数
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallToolResult tools/call 结果
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
}

// ShutdownResult shutdown 响应
type ShutdownResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
