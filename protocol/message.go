package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version MCP 协议版本
const Version = "2024-11-05"

// JSONRPCVersion JSON-RPC 协议版本常量
const JSONRPCVersion = "2.0"

// MessageType 消息类型
type MessageType int

const (
	// TypeInvalid 无法归类的消息
	TypeInvalid MessageType = iota
	// TypeRequest 请求（携带 method 与 id）
	TypeRequest
	// TypeNotification 通知（携带 method，无 id）
	TypeNotification
	// TypeResponse 成功响应（携带 result 与 id）
	TypeResponse
	// TypeError 错误响应（携带 error 与 id）
	TypeError
)

// String 返回消息类型名称
func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeNotification:
		return "notification"
	case TypeResponse:
		return "response"
	case TypeError:
		return "error"
	default:
		return "invalid"
	}
}

// MessageID JSON-RPC 消息 ID。数字与字符串均合法，
// 反序列化时保留原始字节表示，回显时原样输出。
type MessageID struct {
	raw json.RawMessage
}

// NewIntID 创建数字 ID
func NewIntID(n int64) MessageID {
	return MessageID{raw: json.RawMessage(fmt.Sprintf("%d", n))}
}

// NewStringID 创建字符串 ID
func NewStringID(s string) MessageID {
	raw, _ := json.Marshal(s)
	return MessageID{raw: raw}
}

// NullID 返回显式 null ID，仅用于无法关联请求的错误响应
func NullID() MessageID {
	return MessageID{raw: json.RawMessage("null")}
}

// IsNull 判断 ID 是否为 null（或未设置）
func (id MessageID) IsNull() bool {
	return len(id.raw) == 0 || bytes.Equal(id.raw, []byte("null"))
}

// Equal 按原始字节比较两个 ID
func (id MessageID) Equal(other MessageID) bool {
	return bytes.Equal(id.raw, other.raw)
}

// String 返回 ID 的 JSON 文本表示
func (id MessageID) String() string {
	if len(id.raw) == 0 {
		return "null"
	}
	return string(id.raw)
}

// Int64 尝试以数字解读 ID
func (id MessageID) Int64() (int64, bool) {
	var n int64
	if err := json.Unmarshal(id.raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON 实现 json.Marshaler
func (id MessageID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON 实现 json.Unmarshaler。仅接受数字、字符串与 null。
func (id *MessageID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty id", ErrInvalidShape)
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("%w: malformed string id: %v", ErrInvalidShape, err)
		}
	case 'n':
		if !bytes.Equal(trimmed, []byte("null")) {
			return fmt.Errorf("%w: invalid id literal", ErrInvalidShape)
		}
	case '{', '[', 't', 'f':
		return fmt.Errorf("%w: id must be a number or string", ErrInvalidShape)
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return fmt.Errorf("%w: malformed numeric id: %v", ErrInvalidShape, err)
		}
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// ErrorObject JSON-RPC 错误对象
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error 实现 error 接口
func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message JSON-RPC 2.0 消息，请求/通知/响应/错误四态合一。
// params 与 result 以 json.RawMessage 延迟解析，保持透传语义。
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *MessageID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewRequest 创建请求消息
func NewRequest(method string, params any, id MessageID) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification 创建通知消息（无 id，不期待响应）
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewResponse 创建成功响应。result 为 nil 时序列化为 JSON null，
// 保证 result 字段始终存在（与 error 互斥）。
func NewResponse(result any, id MessageID) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Result:  raw,
	}, nil
}

// NewError 创建错误响应
func NewError(code int, message string, id MessageID, data any) *Message {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return &Message{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Error: &ErrorObject{
			Code:    code,
			Message: message,
			Data:    raw,
		},
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}

// Type 根据字段组合判定消息类型
func (m *Message) Type() MessageType {
	switch {
	case m.Method != "" && m.ID != nil:
		return TypeRequest
	case m.Method != "":
		return TypeNotification
	case m.Error != nil:
		return TypeError
	case m.Result != nil:
		return TypeResponse
	default:
		return TypeInvalid
	}
}

// IsRequest 判断是否为请求
func (m *Message) IsRequest() bool { return m.Type() == TypeRequest }

// IsNotification 判断是否为通知
func (m *Message) IsNotification() bool { return m.Type() == TypeNotification }

// IsResponse 判断是否为响应（成功或错误）
func (m *Message) IsResponse() bool {
	t := m.Type()
	return t == TypeResponse || t == TypeError
}

// IsError 判断是否为错误响应
func (m *Message) IsError() bool { return m.Error != nil }

// IsValid 校验结构不变量：
//   - jsonrpc 必须为 "2.0"
//   - 请求必须有非 null id 与非空 method
//   - 响应必须有 id，且 result 与 error 恰好一个存在
func (m *Message) IsValid() bool {
	if m.JSONRPC != JSONRPCVersion {
		return false
	}
	switch m.Type() {
	case TypeRequest:
		return !m.ID.IsNull() && m.Result == nil && m.Error == nil
	case TypeNotification:
		return m.ID == nil && m.Result == nil && m.Error == nil
	case TypeResponse:
		return m.ID != nil && m.Error == nil
	case TypeError:
		// 解析失败的请求允许回 null id 的错误响应
		return m.ID != nil && m.Result == nil
	default:
		return false
	}
}

// Serialize 序列化为 JSON 字节。转义由 encoding/json 保证，
// 字符串内容中的引号、反斜杠与控制字符均按 JSON 规则处理。
func (m *Message) Serialize() ([]byte, error) {
	if m.JSONRPC == "" {
		m.JSONRPC = JSONRPCVersion
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serialize message: %w", err)
	}
	return data, nil
}

// Deserialize 从 JSON 字节解析消息。
// 非法 JSON 返回 ErrMalformedJSON；字段组合非法返回 ErrInvalidShape。
func Deserialize(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		if _, ok := err.(*json.SyntaxError); ok {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		// MessageID 校验失败等类型错误归为结构错误
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if m.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrInvalidShape, m.JSONRPC)
	}
	if m.Result != nil && m.Error != nil {
		return nil, fmt.Errorf("%w: result and error are mutually exclusive", ErrInvalidShape)
	}
	if m.Type() == TypeInvalid {
		return nil, fmt.Errorf("%w: message is neither request, notification nor response", ErrInvalidShape)
	}
	if m.Type() == TypeRequest && m.ID.IsNull() {
		return nil, fmt.Errorf("%w: request id must not be null", ErrInvalidShape)
	}
	return &m, nil
}

// UnmarshalParams 将 params 解析到目标结构
func (m *Message) UnmarshalParams(v any) error {
	if len(m.Params) == 0 {
		return fmt.Errorf("%w: missing params", ErrInvalidShape)
	}
	if err := json.Unmarshal(m.Params, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	return nil
}

// UnmarshalResult 将 result 解析到目标结构
func (m *Message) UnmarshalResult(v any) error {
	if m.Error != nil {
		return m.Error
	}
	if len(m.Result) == 0 {
		return fmt.Errorf("%w: missing result", ErrInvalidShape)
	}
	if err := json.Unmarshal(m.Result, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	return nil
}
