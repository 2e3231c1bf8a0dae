package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceFetcher 基于内存切片模拟服务端分页
func sliceFetcher(items []int) PageFetcher[int] {
	return func(ctx context.Context, cursor string, limit int) ([]int, string, error) {
		offset := 0
		if cursor != "" {
			fmt.Sscanf(cursor, "%d", &offset)
		}
		end := offset + limit
		next := ""
		if end >= len(items) {
			end = len(items)
		} else {
			next = fmt.Sprintf("%d", end)
		}
		return items[offset:end], next, nil
	}
}

func makeItems(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i
	}
	return items
}

// TestIterator_137By25 也是分页语义的基准用例：137 个元素按 25 一页
// 应得到 6 页，末页 12 个。
func TestIterator_137By25(t *testing.T) {
	it := NewIterator(sliceFetcher(makeItems(137)), 25)

	var pages []int
	for it.HasNext() {
		page, err := it.Next(context.Background())
		require.NoError(t, err)
		pages = append(pages, len(page))
	}

	require.Len(t, pages, 6)
	for _, n := range pages[:5] {
		assert.Equal(t, 25, n)
	}
	assert.Equal(t, 12, pages[5])
	assert.False(t, it.HasNext())
}

func TestIterator_NextAfterDone(t *testing.T) {
	it := NewIterator(sliceFetcher(makeItems(3)), 10)

	page, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.False(t, it.HasNext())

	// 末页之后继续 Next：空页、无错误
	page, err = it.Next(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestIterator_Reset(t *testing.T) {
	it := NewIterator(sliceFetcher(makeItems(30)), 25)

	first, err := it.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 25)

	it.Reset()
	again, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestIterator_FetchAll(t *testing.T) {
	it := NewIterator(sliceFetcher(makeItems(137)), 25)

	all, err := it.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 137)
	assert.Equal(t, 0, all[0])
	assert.Equal(t, 136, all[136])
}

// TestIterator_MaxPageGuard feeds a fetcher whose cursor never terminates
// and expects ErrTooManyPages instead of an endless loop.
func TestIterator_MaxPageGuard(t *testing.T) {
	looping := func(ctx context.Context, cursor string, limit int) ([]int, string, error) {
		return []int{1}, "again", nil
	}
	it := NewIterator(looping, 10).WithMaxPages(5)

	_, err := it.FetchAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyPages)
}

func TestIterator_FetchError(t *testing.T) {
	failing := func(ctx context.Context, cursor string, limit int) ([]int, string, error) {
		return nil, "", fmt.Errorf("backend unavailable")
	}
	it := NewIterator(failing, 10)

	_, err := it.Next(context.Background())
	require.Error(t, err)
	// 失败不终结迭代器，重试仍可进行
	assert.True(t, it.HasNext())
}
