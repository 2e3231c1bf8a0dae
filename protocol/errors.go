package protocol

import "errors"

// JSON-RPC 标准错误码
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MCP 扩展错误码
const (
	CodeResourceNotFound     = -32001
	CodeToolNotFound         = -32002
	CodeInvalidToolInput     = -32003
	CodeResourceAccessDenied = -32004
	CodeAuthRequired         = -32000
)

// 协议层哨兵错误
var (
	// ErrMalformedJSON 字节流不是合法 JSON
	ErrMalformedJSON = errors.New("malformed JSON")
	// ErrInvalidShape JSON 合法但字段组合违反 JSON-RPC 2.0 结构
	ErrInvalidShape = errors.New("invalid message shape")
)
