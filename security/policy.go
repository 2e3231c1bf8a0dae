// Package security 提供 MCP 连接与服务的安全策略。
//
// Policy 为显式构造、显式传递的对象：每个会话持有自己的实例，
// 不存在进程级单例，避免一份策略意外约束多个独立会话。
package security

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// 安全策略错误
var (
	// ErrCommandNotAllowed 命令不在允许列表内
	ErrCommandNotAllowed = errors.New("command not allowed")
	// ErrURLNotAllowed URL 不在允许列表内
	ErrURLNotAllowed = errors.New("url not allowed")
	// ErrPolicyLocked 策略已锁定，禁止修改
	ErrPolicyLocked = errors.New("security policy is locked")
	// ErrUnsafeArgument 参数含有潜在危险字符
	ErrUnsafeArgument = errors.New("argument contains unsafe characters")
)

// Policy 安全策略。零值即"全部拒绝"（secure by default），
// 所有读写都经由内部锁，可在服务线程与管理线程间并发使用。
type Policy struct {
	mu              sync.RWMutex
	allowedCommands []string
	allowedURLs     []string
	servingDisabled bool
	locked          bool
}

// NewPolicy 创建空策略（不允许任何命令或 URL）
func NewPolicy() *Policy {
	return &Policy{}
}

// SetAllowedCommands 设置命令允许列表。策略锁定后返回 ErrPolicyLocked。
func (p *Policy) SetAllowedCommands(commands []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return ErrPolicyLocked
	}
	p.allowedCommands = normalize(commands)
	return nil
}

// SetAllowedURLs 设置 URL 前缀允许列表
func (p *Policy) SetAllowedURLs(urls []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return ErrPolicyLocked
	}
	p.allowedURLs = normalize(urls)
	return nil
}

// Lock 锁定策略，此后任何修改都被拒绝
func (p *Policy) Lock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = true
}

// Locked 返回策略是否已锁定
func (p *Policy) Locked() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.locked
}

// SetServingDisabled 禁用/启用服务端功能
func (p *Policy) SetServingDisabled(disabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servingDisabled = disabled
}

// ServingDisabled 返回服务端功能是否被禁用
func (p *Policy) ServingDisabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.servingDisabled
}

// IsCommandAllowed 检查命令路径是否在允许列表内。
// 列表为空时拒绝一切。
func (p *Policy) IsCommandAllowed(commandPath string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, allowed := range p.allowedCommands {
		if commandPath == allowed {
			return true
		}
	}
	return false
}

// IsURLAllowed 按前缀匹配检查 URL 是否被允许
func (p *Policy) IsURLAllowed(url string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, allowed := range p.allowedURLs {
		if strings.HasPrefix(url, allowed) {
			return true
		}
	}
	return false
}

// ValidateCommand 对即将启动的命令与参数做完整校验，
// 在任何进程被创建之前调用。错误信息指明被拒绝的命令。
func (p *Policy) ValidateCommand(command string, args []string) error {
	if !p.IsCommandAllowed(command) {
		return fmt.Errorf("%w: %q (add it to the allowed command list to enable)", ErrCommandNotAllowed, command)
	}
	for _, arg := range args {
		if containsUnsafe(arg) {
			return fmt.Errorf("%w: %q", ErrUnsafeArgument, arg)
		}
	}
	return nil
}

// ValidateURL 检查 URL 是否被允许
func (p *Policy) ValidateURL(url string) error {
	if !p.IsURLAllowed(url) {
		return fmt.Errorf("%w: %q", ErrURLNotAllowed, url)
	}
	return nil
}

var unsafeTokens = []string{"..", "|", ";", "&", "`", "$"}

func containsUnsafe(arg string) bool {
	for _, tok := range unsafeTokens {
		if strings.Contains(arg, tok) {
			return true
		}
	}
	return false
}

func normalize(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
