package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/mcpwire/protocol"
)

// DefaultMaxPages FetchAll 的页数上限，防御游标环路
const DefaultMaxPages = 1000

// ErrTooManyPages 翻页次数超过上限，多半是服务端游标成环
var ErrTooManyPages = errors.New("client: pagination exceeded max pages")

// PageFetcher 拉取单页的函数，游标为空表示首页
type PageFetcher[T any] func(ctx context.Context, cursor string, limit int) (items []T, nextCursor string, err error)

// Iterator 游标分页迭代器。游标对客户端完全不透明，
// 只做原样回传，不解析、不构造。
type Iterator[T any] struct {
	fetch    PageFetcher[T]
	limit    int
	maxPages int

	cursor string
	done   bool
	pages  int
}

// NewIterator 创建分页迭代器
func NewIterator[T any](fetch PageFetcher[T], limit int) *Iterator[T] {
	return &Iterator[T]{
		fetch:    fetch,
		limit:    limit,
		maxPages: DefaultMaxPages,
	}
}

// WithMaxPages 覆盖页数上限
func (it *Iterator[T]) WithMaxPages(n int) *Iterator[T] {
	if n > 0 {
		it.maxPages = n
	}
	return it
}

// HasNext 是否还有未拉取的页
func (it *Iterator[T]) HasNext() bool {
	return !it.done
}

// Next 拉取下一页。末页之后再调用返回空页且无错误。
func (it *Iterator[T]) Next(ctx context.Context) ([]T, error) {
	if it.done {
		return nil, nil
	}
	if it.pages >= it.maxPages {
		it.done = true
		return nil, fmt.Errorf("%w: %d", ErrTooManyPages, it.maxPages)
	}

	items, next, err := it.fetch(ctx, it.cursor, it.limit)
	if err != nil {
		return nil, err
	}
	it.pages++
	it.cursor = next
	if next == "" {
		it.done = true
	}
	return items, nil
}

// Reset 回到首页
func (it *Iterator[T]) Reset() {
	it.cursor = ""
	it.done = false
	it.pages = 0
}

// FetchAll 拉完所有页并拼接，受 maxPages 保护
func (it *Iterator[T]) FetchAll(ctx context.Context) ([]T, error) {
	it.Reset()
	var all []T
	for it.HasNext() {
		page, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

// ResourceIterator 构造遍历资源列表的迭代器
func (c *Connection) ResourceIterator(limit int) *Iterator[protocol.ResourceDescriptor] {
	return NewIterator(func(ctx context.Context, cursor string, limit int) ([]protocol.ResourceDescriptor, string, error) {
		result, err := c.ListResources(ctx, cursor, limit)
		if err != nil {
			return nil, "", err
		}
		return result.Resources, result.NextCursor, nil
	}, limit)
}

// ToolIterator 构造遍历工具列表的迭代器
func (c *Connection) ToolIterator(limit int) *Iterator[protocol.ToolDescriptor] {
	return NewIterator(func(ctx context.Context, cursor string, limit int) ([]protocol.ToolDescriptor, string, error) {
		result, err := c.ListTools(ctx, cursor, limit)
		if err != nil {
			return nil, "", err
		}
		return result.Tools, result.NextCursor, nil
	}, limit)
}
