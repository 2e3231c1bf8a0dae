package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mcpwire/internal/metrics"
	"github.com/BaSui01/mcpwire/protocol"
)

// StaticProvider 静态资源，内容在注册时固定
type StaticProvider struct {
	descriptor protocol.ResourceDescriptor
	content    string
}

// NewStaticProvider 创建静态资源提供者
func NewStaticProvider(uri, name, mimeType, content string) *StaticProvider {
	return &StaticProvider{
		descriptor: protocol.ResourceDescriptor{
			URI:      uri,
			Name:     name,
			MimeType: mimeType,
		},
		content: content,
	}
}

// Descriptor 返回资源描述符
func (p *StaticProvider) Descriptor() protocol.ResourceDescriptor {
	return p.descriptor
}

// Read 返回固定内容
func (p *StaticProvider) Read(ctx context.Context) (protocol.ResourceContent, error) {
	return protocol.ResourceContent{
		URI:      p.descriptor.URI,
		MimeType: p.descriptor.MimeType,
		Text:     p.content,
	}, nil
}

// StatusProvider 运行状态资源，内容为服务统计的 JSON 快照
type StatusProvider struct {
	descriptor protocol.ResourceDescriptor
	srv        *Server
}

// NewStatusProvider 创建状态资源提供者
func NewStatusProvider(uri string, srv *Server) *StatusProvider {
	return &StatusProvider{
		descriptor: protocol.ResourceDescriptor{
			URI:         uri,
			Name:        "server-status",
			Description: "runtime statistics and uptime",
			MimeType:    "application/json",
		},
		srv: srv,
	}
}

// Descriptor 返回资源描述符
func (p *StatusProvider) Descriptor() protocol.ResourceDescriptor {
	return p.descriptor
}

// Read 返回当前统计快照
func (p *StatusProvider) Read(ctx context.Context) (protocol.ResourceContent, error) {
	stats := p.srv.Stats()
	data, err := json.Marshal(stats)
	if err != nil {
		return protocol.ResourceContent{}, err
	}
	return protocol.ResourceContent{
		URI:      p.descriptor.URI,
		MimeType: p.descriptor.MimeType,
		Text:     string(data),
	}, nil
}

// QueryProvider 查询型资源：每次读取执行 SQL 并以 JSON 行集呈现。
// 结果按刷新间隔缓存；查询失败时优先降级到上一次的有效缓存。
type QueryProvider struct {
	descriptor protocol.ResourceDescriptor
	db         *gorm.DB
	query      string
	refresh    time.Duration
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu        sync.Mutex
	cached    string
	cachedAt  time.Time
	haveCache bool
}

// NewQueryProvider 创建查询型资源提供者。refresh<=0 表示每次读都执行查询。
func NewQueryProvider(uri, name, query string, db *gorm.DB, refresh time.Duration, logger *zap.Logger) *QueryProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryProvider{
		descriptor: protocol.ResourceDescriptor{
			URI:      uri,
			Name:     name,
			MimeType: "application/json",
		},
		db:      db,
		query:   query,
		refresh: refresh,
		logger:  logger.With(zap.String("component", "query_provider"), zap.String("uri", uri)),
	}
}

// WithMetrics 挂接指标收集器，记录缓存命中与查询耗时
func (p *QueryProvider) WithMetrics(collector *metrics.Collector) *QueryProvider {
	p.metrics = collector
	return p
}

// Descriptor 返回资源描述符
func (p *QueryProvider) Descriptor() protocol.ResourceDescriptor {
	return p.descriptor
}

// Read 执行查询（或命中缓存）并返回 JSON 文本
func (p *QueryProvider) Read(ctx context.Context) (protocol.ResourceContent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.haveCache && p.refresh > 0 && time.Since(p.cachedAt) < p.refresh {
		if p.metrics != nil {
			p.metrics.RecordCacheHit("query_resource")
		}
		return p.content(p.cached), nil
	}
	if p.metrics != nil && p.refresh > 0 {
		p.metrics.RecordCacheMiss("query_resource")
	}

	start := time.Now()
	text, err := runQueryJSON(ctx, p.db, p.query)
	if p.metrics != nil {
		p.metrics.RecordDBQuery("query_resource", time.Since(start))
	}
	if err != nil {
		// 有旧缓存就降级返回，不让瞬时故障打断读取
		if p.haveCache {
			p.logger.Warn("query failed, serving stale cache", zap.Error(err))
			return p.content(p.cached), nil
		}
		return protocol.ResourceContent{}, fmt.Errorf("query resource %s: %w", p.descriptor.URI, err)
	}

	p.cached = text
	p.cachedAt = time.Now()
	p.haveCache = true
	return p.content(text), nil
}

func (p *QueryProvider) content(text string) protocol.ResourceContent {
	return protocol.ResourceContent{
		URI:      p.descriptor.URI,
		MimeType: p.descriptor.MimeType,
		Text:     text,
	}
}

// TableProvider 表型资源：把一张表整体暴露为 JSON 行集
type TableProvider struct {
	descriptor protocol.ResourceDescriptor
	db         *gorm.DB
	table      string
	limit      int
}

// NewTableProvider 创建表型资源提供者。limit<=0 表示不限行数。
func NewTableProvider(uri, name, table string, db *gorm.DB, limit int) *TableProvider {
	return &TableProvider{
		descriptor: protocol.ResourceDescriptor{
			URI:         uri,
			Name:        name,
			Description: "table " + table,
			MimeType:    "application/json",
		},
		db:    db,
		table: table,
		limit: limit,
	}
}

// Descriptor 返回资源描述符
func (p *TableProvider) Descriptor() protocol.ResourceDescriptor {
	return p.descriptor
}

// Read 拉取整表内容
func (p *TableProvider) Read(ctx context.Context) (protocol.ResourceContent, error) {
	var rows []map[string]any
	tx := p.db.WithContext(ctx).Table(p.table)
	if p.limit > 0 {
		tx = tx.Limit(p.limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return protocol.ResourceContent{}, fmt.Errorf("read table %s: %w", p.table, err)
	}
	text, err := encodeRows(rows)
	if err != nil {
		return protocol.ResourceContent{}, err
	}
	return protocol.ResourceContent{
		URI:      p.descriptor.URI,
		MimeType: p.descriptor.MimeType,
		Text:     text,
	}, nil
}

// runQueryJSON 执行只读 SQL 并把行集编码为 JSON 数组文本
func runQueryJSON(ctx context.Context, db *gorm.DB, query string) (string, error) {
	var rows []map[string]any
	if err := db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return "", err
	}
	return encodeRows(rows)
}

func encodeRows(rows []map[string]any) (string, error) {
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(data), nil
}
