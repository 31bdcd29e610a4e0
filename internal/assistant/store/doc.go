// Package store 提供助手的持久化层。
//
// Store 基于 gorm 管理文档、切片、会话、消息与租户配置；
// VectorIndex 抽象切片向量的近邻检索，提供 sql、pgvector 与 milvus 三种实现。
// 文档切片的整组替换与向量索引的写入发生在同一个数据库事务中。
package store
