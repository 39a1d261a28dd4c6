/*
Package main 提供 Stageflow 服务端程序入口。

# 概述

cmd/stageflow 是阶段编排服务的可执行入口，提供 HTTP API、数据库
迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器，组装存储、引擎、防抖器并管理双端口生命周期
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 端口划分

业务端口承载 webhook、同步消息与代理管理 API；指标端口只暴露
/metrics，便于在网络层单独收紧访问权限。
*/
package main
