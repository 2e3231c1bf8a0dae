// Package config 提供 mcpwire 的配置管理功能。
//
// 支持从 YAML 文件与环境变量加载配置，
// 优先级为 默认值 → 文件 → 环境变量。
// 日志默认输出到 stderr：stdout 是协议通道，不能被日志污染。
package config
