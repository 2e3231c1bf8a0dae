package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/BaSui01/mcpwire/protocol"
)

// ErrQueryRejected SQL 语句未通过只读检查
var ErrQueryRejected = errors.New("server: query rejected by policy")

// FuncTool 把普通函数包装成工具
type FuncTool struct {
	descriptor protocol.ToolDescriptor
	fn         func(ctx context.Context, args map[string]any) (string, error)
}

// NewFuncTool 创建函数型工具。schema 为 nil 时默认为空对象 schema。
func NewFuncTool(name, description string, schema map[string]any, fn func(ctx context.Context, args map[string]any) (string, error)) *FuncTool {
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}
	return &FuncTool{
		descriptor: protocol.ToolDescriptor{
			Name:        name,
			Description: description,
			InputSchema: schema,
		},
		fn: fn,
	}
}

// Descriptor 返回工具描述符
func (t *FuncTool) Descriptor() protocol.ToolDescriptor {
	return t.descriptor
}

// Call 执行包装函数并把输出装入文本内容块
func (t *FuncTool) Call(ctx context.Context, args map[string]any) (protocol.CallToolResult, error) {
	out, err := t.fn(ctx, args)
	if err != nil {
		return protocol.CallToolResult{}, err
	}
	return textResult(out), nil
}

// deniedQueryKeywords 写操作与危险语句关键字，一律拒绝
var deniedQueryKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create",
	"attach", "detach", "pragma", "vacuum", "replace",
}

// checkReadOnlyQuery 只放行 SELECT/WITH 开头且不含写关键字的语句
func checkReadOnlyQuery(query string) error {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if trimmed == "" {
		return fmt.Errorf("%w: empty query", ErrQueryRejected)
	}
	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "with") {
		return fmt.Errorf("%w: only read-only statements are allowed", ErrQueryRejected)
	}
	for _, kw := range deniedQueryKeywords {
		if containsKeyword(trimmed, kw) {
			return fmt.Errorf("%w: statement contains %q", ErrQueryRejected, kw)
		}
	}
	return nil
}

// containsKeyword 以词边界匹配关键字，避免误伤列名
func containsKeyword(query, kw string) bool {
	idx := 0
	for {
		i := strings.Index(query[idx:], kw)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(query[i-1])
		afterIdx := i + len(kw)
		after := afterIdx >= len(query) || !isWordByte(query[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(kw)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// QueryTool 执行调用方传入的只读 SQL 并返回 JSON 行集
type QueryTool struct {
	descriptor protocol.ToolDescriptor
	db         *gorm.DB
}

// NewQueryTool 创建查询工具
func NewQueryTool(db *gorm.DB) *QueryTool {
	return &QueryTool{
		descriptor: protocol.ToolDescriptor{
			Name:        "query",
			Description: "Execute a read-only SQL query and return rows as JSON",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "read-only SQL statement",
					},
				},
				"required": []string{"query"},
			},
		},
		db: db,
	}
}

// Descriptor 返回工具描述符
func (t *QueryTool) Descriptor() protocol.ToolDescriptor {
	return t.descriptor
}

// Call 校验并执行查询
func (t *QueryTool) Call(ctx context.Context, args map[string]any) (protocol.CallToolResult, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return protocol.CallToolResult{}, fmt.Errorf("missing required argument: query")
	}
	if err := checkReadOnlyQuery(query); err != nil {
		return protocol.CallToolResult{}, err
	}
	text, err := runQueryJSON(ctx, t.db, query)
	if err != nil {
		return protocol.CallToolResult{}, fmt.Errorf("execute query: %w", err)
	}
	return textResult(text), nil
}

// DescribeTool 返回指定表的列结构
type DescribeTool struct {
	descriptor protocol.ToolDescriptor
	db         *gorm.DB
}

// NewDescribeTool 创建表结构工具
func NewDescribeTool(db *gorm.DB) *DescribeTool {
	return &DescribeTool{
		descriptor: protocol.ToolDescriptor{
			Name:        "describe",
			Description: "Describe the columns of a table",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"table": map[string]any{
						"type":        "string",
						"description": "table name to describe",
					},
				},
				"required": []string{"table"},
			},
		},
		db: db,
	}
}

// Descriptor 返回工具描述符
func (t *DescribeTool) Descriptor() protocol.ToolDescriptor {
	return t.descriptor
}

// Call 通过迁移器读取列类型信息
func (t *DescribeTool) Call(ctx context.Context, args map[string]any) (protocol.CallToolResult, error) {
	table, ok := args["table"].(string)
	if !ok || table == "" {
		return protocol.CallToolResult{}, fmt.Errorf("missing required argument: table")
	}
	if !t.db.Migrator().HasTable(table) {
		return protocol.CallToolResult{}, fmt.Errorf("table %q does not exist", table)
	}
	columns, err := t.db.WithContext(ctx).Migrator().ColumnTypes(table)
	if err != nil {
		return protocol.CallToolResult{}, fmt.Errorf("describe table %s: %w", table, err)
	}

	type columnInfo struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Nullable bool   `json:"nullable"`
		Primary  bool   `json:"primary"`
	}
	out := make([]columnInfo, 0, len(columns))
	for _, col := range columns {
		nullable, _ := col.Nullable()
		primary, _ := col.PrimaryKey()
		out = append(out, columnInfo{
			Name:     col.Name(),
			Type:     col.DatabaseTypeName(),
			Nullable: nullable,
			Primary:  primary,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return protocol.CallToolResult{}, err
	}
	return textResult(string(data)), nil
}

func textResult(text string) protocol.CallToolResult {
	return protocol.CallToolResult{
		Content: []protocol.ContentBlock{{Type: "text", Text: text}},
	}
}
