// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与字符估算器，用于提示词构建时的 Token 预算核算。
package tokenizer
