// 版权所有 2024 mcpwire Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
JSON-RPC、工具、资源、缓存与数据库五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个
Collector 持有独立的 Registry，多实例（如测试中）互不冲突，
需要对外暴露时通过 Registry() 挂接 HTTP 端点。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - JSON-RPC 指标：请求总数与请求耗时，按 method/status 分组，
    状态归类为 ok/error。
  - 工具指标：调用总数，按 tool 分组。
  - 资源指标：读取总数，按 uri 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：查询耗时 Histogram，按 operation 分组；
    活跃连接数 Gauge。
*/
package metrics
