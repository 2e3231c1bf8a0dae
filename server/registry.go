package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/mcpwire/protocol"
)

// 注册表错误
var (
	// ErrResourceNotFound URI 未注册
	ErrResourceNotFound = errors.New("server: resource not found")
	// ErrToolNotFound 工具名未注册
	ErrToolNotFound = errors.New("server: tool not found")
)

// ResourceProvider 资源提供者。Descriptor 用于列表，Read 产出内容。
type ResourceProvider interface {
	Descriptor() protocol.ResourceDescriptor
	Read(ctx context.Context) (protocol.ResourceContent, error)
}

// ToolHandler 工具处理器
type ToolHandler interface {
	Descriptor() protocol.ToolDescriptor
	Call(ctx context.Context, args map[string]any) (protocol.CallToolResult, error)
}

// ResourceRegistry 资源注册表。所有访问都在锁内完成，
// 对外只返回副本，绝不让内部引用逃出锁的作用域。
type ResourceRegistry struct {
	mu        sync.RWMutex
	providers map[string]ResourceProvider
	order     []string // 注册顺序，保证分页稳定
}

// NewResourceRegistry 创建资源注册表
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{providers: make(map[string]ResourceProvider)}
}

// Register 注册或替换一个资源提供者
func (r *ResourceRegistry) Register(p ResourceProvider) error {
	if p == nil {
		return fmt.Errorf("server: nil resource provider")
	}
	uri := p.Descriptor().URI
	if uri == "" {
		return fmt.Errorf("server: resource provider with empty uri")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[uri]; !exists {
		r.order = append(r.order, uri)
	}
	r.providers[uri] = p
	return nil
}

// Unregister 按 URI 注销
func (r *ResourceRegistry) Unregister(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[uri]; !exists {
		return false
	}
	delete(r.providers, uri)
	for i, u := range r.order {
		if u == uri {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get 按 URI 查找提供者
func (r *ResourceRegistry) Get(uri string) (ResourceProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[uri]
	return p, ok
}

// Exists 判断 URI 是否已注册
func (r *ResourceRegistry) Exists(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[uri]
	return ok
}

// List 返回按注册顺序排列的描述符副本
func (r *ResourceRegistry) List() []protocol.ResourceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.ResourceDescriptor, 0, len(r.order))
	for _, uri := range r.order {
		out = append(out, r.providers[uri].Descriptor())
	}
	return out
}

// Count 返回注册数量
func (r *ResourceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// ToolRegistry 工具注册表，并发语义与资源注册表一致
type ToolRegistry struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
	order    []string
}

// NewToolRegistry 创建工具注册表
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{handlers: make(map[string]ToolHandler)}
}

// Register 注册或替换一个工具
func (r *ToolRegistry) Register(h ToolHandler) error {
	if h == nil {
		return fmt.Errorf("server: nil tool handler")
	}
	name := h.Descriptor().Name
	if name == "" {
		return fmt.Errorf("server: tool handler with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
	return nil
}

// Unregister 按名称注销
func (r *ToolRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		return false
	}
	delete(r.handlers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get 按名称查找处理器
func (r *ToolRegistry) Get(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Exists 判断工具名是否已注册
func (r *ToolRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// List 返回按注册顺序排列的描述符副本
func (r *ToolRegistry) List() []protocol.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name].Descriptor())
	}
	return out
}

// Count 返回注册数量
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Names 返回已注册工具名的有序副本
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}
