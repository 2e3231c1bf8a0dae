package client

import (
	"context"
	"fmt"

	"github.com/BaSui01/mcpwire/protocol"
)

// ListResources 拉取一页资源描述符
func (c *Connection) ListResources(ctx context.Context, cursor string, limit int) (*protocol.ListResourcesResult, error) {
	params := protocol.ListResourcesParams{Cursor: cursor, Limit: limit}
	resp, err := c.Request(ctx, protocol.MethodResourcesList, params)
	if err != nil {
		return nil, err
	}
	var result protocol.ListResourcesResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReadResource 按 URI 读取资源内容
func (c *Connection) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	if uri == "" {
		return nil, fmt.Errorf("read resource: empty uri")
	}
	params := protocol.ReadResourceParams{URI: uri}
	resp, err := c.Request(ctx, protocol.MethodResourcesRead, params)
	if err != nil {
		return nil, err
	}
	var result protocol.ReadResourceResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools 拉取一页工具描述符
func (c *Connection) ListTools(ctx context.Context, cursor string, limit int) (*protocol.ListToolsResult, error) {
	params := protocol.ListToolsParams{Cursor: cursor, Limit: limit}
	resp, err := c.Request(ctx, protocol.MethodToolsList, params)
	if err != nil {
		return nil, err
	}
	var result protocol.ListToolsResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool 按名称调用工具
func (c *Connection) CallTool(ctx context.Context, name string, arguments map[string]any) (*protocol.CallToolResult, error) {
	if name == "" {
		return nil, fmt.Errorf("call tool: empty name")
	}
	params := protocol.CallToolParams{Name: name, Arguments: arguments}
	resp, err := c.Request(ctx, protocol.MethodToolsCall, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := resp.UnmarshalResult(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
