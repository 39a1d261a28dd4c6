// Package llm 定义统一的 LLM Provider 抽象：请求/响应类型、错误码与
// Provider 注册表。具体的 HTTP 适配实现位于 llm/providers 子包，
// 按名称创建 Provider 的工厂位于 llm/factory。
package llm
