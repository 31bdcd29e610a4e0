// Package biz 实现助手的核心业务：文档摄取、检索、提示词组装与会话轮次。
//
// 组件之间只通过接口依赖：EmbeddingProvider 与 ChatProvider 来自 pkg/llm，
// 持久化由 store 提供，指标收集器在服务启动时注入。
package biz
