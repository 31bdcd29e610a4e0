package model

import (
	"time"

	"gorm.io/datatypes"
)

// Role 是消息的发送方。
type Role string

// 消息角色。
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation 是一个用户与助手的会话，属于唯一的租户与用户。
type Conversation struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(64);not null;index:idx_conv_owner,priority:1"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);not null;index:idx_conv_owner,priority:2"`
	Title     string    `json:"title" gorm:"type:varchar(255)"`
	Active    bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Conversation.
func (Conversation) TableName() string {
	return "assistant_conversations"
}

// ContextSource 记录生成回答时使用的一个片段。
type ContextSource struct {
	Ordinal       int     `json:"ordinal,omitempty"`
	DocumentID    uint64  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkIndex    int     `json:"chunk_index"`
	Score         float64 `json:"score"`
}

// Message 是会话中的一条消息，只追加不修改。
// Sequence 在会话内从 1 开始递增，CreatedAt 在会话内严格递增。
type Message struct {
	ID             uint64                             `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID uint64                             `json:"conversation_id" gorm:"not null;uniqueIndex:idx_msg_conv_seq,priority:1"`
	Sequence       int                                `json:"sequence" gorm:"not null;uniqueIndex:idx_msg_conv_seq,priority:2"`
	Role           Role                               `json:"role" gorm:"type:varchar(20);not null;index"`
	Content        string                             `json:"content" gorm:"type:text;not null"`
	ContextSources datatypes.JSONSlice[ContextSource] `json:"context_sources"`
	TokensUsed     int                                `json:"tokens_used" gorm:"not null;default:0"`
	IsError        bool                               `json:"is_error" gorm:"not null;default:false"`
	CreatedAt      time.Time                          `json:"created_at"`
}

// TableName specifies the table name for Message.
func (Message) TableName() string {
	return "assistant_messages"
}
