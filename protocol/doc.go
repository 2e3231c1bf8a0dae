// Package protocol 实现 MCP (Model Context Protocol) 的 JSON-RPC 2.0 消息模型。
//
// 本包提供请求、通知、响应与错误四类消息的统一表示 Message，
// 序列化/反序列化契约，标准与 MCP 扩展错误码，以及
// initialize 握手所用的能力声明结构。
package protocol
