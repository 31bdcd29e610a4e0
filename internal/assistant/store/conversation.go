package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/helix-assistant/internal/model"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// CreateConversation 创建会话。
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	conv.Active = true
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	return nil
}

// GetConversation 获取属于指定租户与用户的会话，否则返回 ErrConversationNotFound。
func (s *Store) GetConversation(ctx context.Context, tenantID, userID string, id uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND user_id = ?", id, tenantID, userID).
		Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &conv, nil
}

// ConversationSummary 会话及其消息数。
type ConversationSummary struct {
	model.Conversation
	MessageCount int64 `json:"message_count"`
}

// ConversationFilter 会话列表的过滤与分页条件，Active 为 nil 时不过滤。
type ConversationFilter struct {
	Active *bool
	Limit  int
	Offset int
}

// ListConversations 按创建时间倒序列出用户的会话，同时返回满足条件的总数。
func (s *Store) ListConversations(ctx context.Context, tenantID, userID string, filter ConversationFilter) ([]ConversationSummary, int64, error) {
	convTable := model.Conversation{}.TableName()
	q := s.db.WithContext(ctx).
		Table(convTable+" AS c").
		Where("c.tenant_id = ? AND c.user_id = ?", tenantID, userID)
	if filter.Active != nil {
		q = q.Where("c.active = ?", *filter.Active)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计会话失败: %w", err)
	}

	q = q.Select("c.*, (SELECT COUNT(*) FROM " + model.Message{}.TableName() + " AS m WHERE m.conversation_id = c.id) AS message_count").
		Order("c.created_at DESC, c.id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit).Offset(max(filter.Offset, 0))
	}
	var rows []ConversationSummary
	if err := q.Scan(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("列出会话失败: %w", err)
	}
	return rows, total, nil
}

// SetConversationActive 启用或停用用户的会话，会话不存在时返回 ErrConversationNotFound。
func (s *Store) SetConversationActive(ctx context.Context, tenantID, userID string, id uint64, active bool) (*model.Conversation, error) {
	conv, err := s.GetConversation(ctx, tenantID, userID, id)
	if err != nil {
		return nil, err
	}
	if conv.Active == active {
		return conv, nil
	}
	err = s.db.WithContext(ctx).
		Model(conv).
		Update("active", active).Error
	if err != nil {
		return nil, fmt.Errorf("更新会话状态失败: %w", err)
	}
	return conv, nil
}

// UpdateConversationTitle 更新会话标题。
func (s *Store) UpdateConversationTitle(ctx context.Context, id uint64, title string) error {
	err := s.db.WithContext(ctx).
		Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("更新会话标题失败: %w", err)
	}
	return nil
}

// AppendMessage 追加一条消息，now 为期望的创建时间。调用方需持有该会话的锁。
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message, now time.Time) error {
	msg.CreatedAt = now
	return s.AppendTurn(ctx, msg.ConversationID, "", msg)
}

// AppendTurn 在一个事务内按顺序追加一轮对话的全部消息，
// 任一写入失败时整轮都不可见。
//
// 每条消息的 CreatedAt 为期望时间：序号取会话内最大序号加一，
// 时间戳不晚于上一条时取上一条加 1 微秒，保证会话内严格递增。
// title 非空时同时更新会话标题。调用方需持有该会话的锁。
func (s *Store) AppendTurn(ctx context.Context, conversationID uint64, title string, msgs ...*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last model.Message
		err := tx.Where("conversation_id = ?", conversationID).
			Order("sequence DESC").
			Take(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			last = model.Message{}
		case err != nil:
			return fmt.Errorf("查询最新消息失败: %w", err)
		}

		for _, msg := range msgs {
			msg.ID = 0
			msg.ConversationID = conversationID
			msg.Sequence = last.Sequence + 1
			if last.Sequence == 0 {
				msg.CreatedAt = msg.CreatedAt.UTC().Truncate(time.Microsecond)
			} else {
				msg.CreatedAt = NextTimestamp(last.CreatedAt, msg.CreatedAt)
			}
			if err := tx.Create(msg).Error; err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}
			last = *msg
		}

		updates := map[string]any{"updated_at": last.CreatedAt}
		if title != "" {
			updates["title"] = title
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Updates(updates).Error
	})
}

// NextTimestamp 返回严格晚于 last 的时间戳，精度为微秒。
func NextTimestamp(last, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	last = last.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

// ListMessages 按创建顺序返回会话消息。limit > 0 时取最新的
// [offset, offset+limit) 窗口，再按时间正序返回。
func (s *Store) ListMessages(ctx context.Context, conversationID uint64, limit, offset int) ([]model.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)

	var msgs []model.Message
	if limit <= 0 {
		if err := q.Order("sequence ASC").Find(&msgs).Error; err != nil {
			return nil, fmt.Errorf("查询消息失败: %w", err)
		}
		return msgs, nil
	}

	if offset < 0 {
		offset = 0
	}
	if err := q.Order("sequence DESC").Limit(limit).Offset(offset).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountMessages 统计会话消息数。
func (s *Store) CountMessages(ctx context.Context, conversationID uint64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&n).Error
	return n, err
}

// FirstUserMessage 返回会话的第一条用户消息，没有时返回 nil, nil。
func (s *Store) FirstUserMessage(ctx context.Context, conversationID uint64) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND role = ?", conversationID, model.RoleUser).
		Order("sequence ASC").
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询首条用户消息失败: %w", err)
	}
	return &msg, nil
}
