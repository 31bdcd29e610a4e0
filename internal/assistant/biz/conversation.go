package biz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/helix-assistant/internal/assistant/metrics"
	"github.com/kart-io/helix-assistant/internal/assistant/store"
	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/i18n"
	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
	"github.com/kart-io/helix-assistant/pkg/llm"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// 会话标题相关常量。
const (
	TitleMaxRunes        = 50
	UntitledTitle        = "New Conversation"
	defaultTitleLayout   = "02/01 15:04"
	defaultTitlePrefix   = "Conversa de "
	truncatedTitleSuffix = "..."
)

// ConversationConfig 会话管理配置。
type ConversationConfig struct {
	// GenerationTimeout 单次生成调用的超时时间。
	GenerationTimeout time.Duration
	// MaxTokens 回答的最大 token 数，0 表示由模型决定。
	MaxTokens int
	// HistoryMessages 生成时附带的历史消息条数（不含本轮）。
	HistoryMessages int
}

// DefaultConversationConfig 返回默认配置。
func DefaultConversationConfig() *ConversationConfig {
	return &ConversationConfig{
		GenerationTimeout: 60 * time.Second,
		MaxTokens:         DefaultAnswerReserve,
		HistoryMessages:   4,
	}
}

// TurnState 一轮对话所处的阶段。
type TurnState string

// 对话阶段：received → retrieving → generating → persisted | failed。
// 调用方取消时为 discarded。
const (
	TurnReceived   TurnState = "received"
	TurnRetrieving TurnState = "retrieving"
	TurnGenerating TurnState = "generating"
	TurnPersisted  TurnState = "persisted"
	TurnFailed     TurnState = "failed"
	TurnDiscarded  TurnState = "discarded"
)

// TurnStatus 返回给调用方的结果状态。
type TurnStatus string

// 结果状态。
const (
	StatusSuccess TurnStatus = "success"
	StatusError   TurnStatus = "error"
)

// TurnResult 一轮对话的结果。
type TurnResult struct {
	Response      string        `json:"response"`
	Citations     []Citation    `json:"citations"`
	Status        TurnStatus    `json:"status"`
	MessageID     uint64        `json:"message_id"`
	UserMessageID uint64        `json:"user_message_id"`
	State         TurnState     `json:"state"`
	Language      i18n.Language `json:"language"`
	TokensUsed    int           `json:"tokens_used"`
	// Err 生成失败时的技术原因，只用于服务端日志。
	Err error `json:"-"`
}

// ConversationManager 处理会话与对话轮次。
// 同一会话的轮次串行执行，用户消息与助手回复之间不会插入其他消息。
type ConversationManager struct {
	cfg       *ConversationConfig
	store     *store.Store
	tenants   store.TenantDirectory
	retriever *Retriever
	assembler *Assembler
	chat      llm.ChatProvider
	languages *i18n.Manager
	metrics   *metrics.Collector
	locks     *KeyedMutex
	now       func() time.Time
}

// ConversationDeps 会话管理器的依赖。
type ConversationDeps struct {
	Store     *store.Store
	Tenants   store.TenantDirectory
	Retriever *Retriever
	Assembler *Assembler
	Chat      llm.ChatProvider
	Languages *i18n.Manager
	Metrics   *metrics.Collector
	// Now 为空时使用 time.Now。
	Now func() time.Time
}

// NewConversationManager 创建会话管理器。
func NewConversationManager(cfg *ConversationConfig, deps ConversationDeps) *ConversationManager {
	if cfg == nil {
		cfg = DefaultConversationConfig()
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = DefaultConversationConfig().GenerationTimeout
	}
	tenants := deps.Tenants
	if tenants == nil {
		tenants = deps.Store
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ConversationManager{
		cfg:       cfg,
		store:     deps.Store,
		tenants:   tenants,
		retriever: deps.Retriever,
		assembler: deps.Assembler,
		chat:      deps.Chat,
		languages: deps.Languages,
		metrics:   deps.Metrics,
		locks:     NewKeyedMutex(),
		now:       now,
	}
}

// CreateConversation 创建会话，标题为空时使用 "Conversa de dd/mm HH:MM"。
func (m *ConversationManager) CreateConversation(ctx context.Context, tenantID, userID, title string) (*model.Conversation, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, apierrors.ErrValidation.WithMessage("tenant id and user id are required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle(m.now())
	}
	conv := &model.Conversation{
		TenantID: tenantID,
		UserID:   userID,
		Title:    textutil.TruncateRunes(title, 255),
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// DefaultConversationTitle 返回按时间生成的默认标题。
func DefaultConversationTitle(t time.Time) string {
	return defaultTitlePrefix + t.Format(defaultTitleLayout)
}

// AutoTitle 根据首条用户消息生成标题：取前 50 个字符，
// 不足 50 个字符时追加 "..."。
func AutoTitle(firstMessage string) string {
	text := strings.TrimSpace(firstMessage)
	if text == "" {
		return UntitledTitle
	}
	title := textutil.TruncateRunes(text, TitleMaxRunes)
	if utf8.RuneCountInString(title) < TitleMaxRunes {
		return title + truncatedTitleSuffix
	}
	return title
}

// SummarizeTitle 返回会话首条用户消息生成的标题，没有用户消息时返回 "New Conversation"。
func (m *ConversationManager) SummarizeTitle(ctx context.Context, conversationID uint64) (string, error) {
	first, err := m.store.FirstUserMessage(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if first == nil {
		return UntitledTitle, nil
	}
	return AutoTitle(first.Content), nil
}

// History 按创建顺序返回会话消息。limit > 0 时返回最新的 [offset, offset+limit) 窗口。
func (m *ConversationManager) History(ctx context.Context, tenantID, userID string, conversationID uint64, limit, offset int) ([]model.Message, error) {
	if limit < 0 || offset < 0 {
		return nil, apierrors.ErrValidation.WithMessage("limit and offset must not be negative")
	}
	if _, err := m.store.GetConversation(ctx, tenantID, userID, conversationID); err != nil {
		return nil, err
	}
	return m.store.ListMessages(ctx, conversationID, limit, offset)
}

// ListConversations 按创建时间倒序返回用户的会话及消息数。
func (m *ConversationManager) ListConversations(ctx context.Context, tenantID, userID string, filter store.ConversationFilter) ([]store.ConversationSummary, int64, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, apierrors.ErrValidation.WithMessage("limit and offset must not be negative")
	}
	return m.store.ListConversations(ctx, tenantID, userID, filter)
}

// Deactivate 停用会话。历史仍可查询，但不再接受新消息。
func (m *ConversationManager) Deactivate(ctx context.Context, tenantID, userID string, conversationID uint64) (*model.Conversation, error) {
	unlock, err := m.locks.LockContext(ctx, fmt.Sprintf("conv|%d", conversationID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return m.store.SetConversationActive(ctx, tenantID, userID, conversationID, false)
}

// Chat 执行一轮对话。
//
// 用户消息与助手回复在同一事务内落库，一轮对话要么完整成功要么完整失败：
// 生成失败或超时时与用户消息一起保存一条 is_error 的助手消息并返回
// status=error；调用方取消时整轮丢弃，不保存任何消息。
func (m *ConversationManager) Chat(ctx context.Context, tenantID, userID string, conversationID uint64, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apierrors.ErrEmptyMessage
	}

	cfg, err := m.tenants.GetConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, apierrors.ErrAssistantDisabled
	}
	conv, err := m.store.GetConversation(ctx, tenantID, userID, conversationID)
	if err != nil {
		return nil, err
	}

	unlock, err := m.locks.LockContext(ctx, fmt.Sprintf("conv|%d", conv.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	// 排队期间会话可能已被停用
	if conv, err = m.store.GetConversation(ctx, tenantID, userID, conversationID); err != nil {
		return nil, err
	}
	if !conv.Active {
		return nil, apierrors.ErrConversationInactive
	}

	turn := &pendingTurn{
		conv: conv,
		user: &model.Message{
			ConversationID: conv.ID,
			Role:           model.RoleUser,
			Content:        text,
			CreatedAt:      m.now(),
		},
		result: &TurnResult{State: TurnReceived, Citations: []Citation{}},
	}
	if strings.TrimSpace(conv.Title) == "" {
		turn.title = AutoTitle(text)
	}
	result := turn.result

	lang := m.turnLanguage(cfg, text)
	result.Language = m.languages.ResolvedLanguage(lang)
	log := logger.With("tenant_id", tenantID, "conversation_id", conv.ID, "language", result.Language)

	result.State = TurnRetrieving
	hits, err := m.retriever.Retrieve(ctx, tenantID, text, cfg.MaxContextChunks, cfg.SimilarityThreshold)
	if err != nil {
		if discarded(ctx, err) {
			return m.discard(log, result, err)
		}
		log.Errorw("检索失败", "error", err)
		return m.fail(ctx, log, turn, lang, err)
	}

	if len(hits) == 0 {
		result.Status = StatusSuccess
		result.Response = m.languages.Message(lang, i18n.MsgNoResults)
		if err := m.commit(ctx, turn, nil, 0, false); err != nil {
			return nil, err
		}
		m.recordTurn(metrics.TurnSuccess)
		return result, nil
	}

	history, historyTokens, err := m.historyMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	result.State = TurnGenerating
	prompt := m.assembler.BuildPrompt(text, hits, cfg, lang, m.chat.ContextWindow()-historyTokens)
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt.System})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt.User})

	genCtx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
	start := time.Now()
	resp, err := m.chat.Chat(genCtx, messages, &llm.GenerateOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
	})
	cancel()
	if err != nil {
		if discarded(ctx, err) {
			return m.discard(log, result, ctx.Err())
		}
		err = llm.WrapError("chat", err)
		if m.metrics != nil {
			m.metrics.RecordGeneration(time.Since(start), 0, err)
		}
		log.Errorw("生成回答失败", "error", err, "prompt_tokens", prompt.TokenCount)
		return m.fail(ctx, log, turn, lang, err)
	}
	if ctx.Err() != nil {
		return m.discard(log, result, ctx.Err())
	}

	tokens := resp.TokenUsage.TotalTokens
	if m.metrics != nil {
		m.metrics.RecordGeneration(time.Since(start), tokens, nil)
	}
	result.Status = StatusSuccess
	result.Response = resp.Content
	result.Citations = prompt.Citations
	if result.Citations == nil {
		result.Citations = []Citation{}
	}
	result.TokensUsed = tokens
	if err := m.commit(ctx, turn, prompt.ContextSources(), tokens, false); err != nil {
		return nil, err
	}
	m.recordTurn(metrics.TurnSuccess)
	log.Infow("对话轮次完成", "message_id", result.MessageID, "tokens", tokens, "citations", len(result.Citations), "dropped", prompt.Dropped)
	return result, nil
}

// pendingTurn 尚未落库的一轮对话。
type pendingTurn struct {
	conv   *model.Conversation
	user   *model.Message
	title  string
	result *TurnResult
}

// turnLanguage 租户指定语言时优先使用，否则检测用户消息的语言。
func (m *ConversationManager) turnLanguage(cfg *model.TenantAssistantConfig, text string) i18n.Language {
	if cfg.Language != "" {
		if lang, ok := i18n.Parse(cfg.Language); ok {
			return lang
		}
	}
	return m.languages.Detect(text)
}

// historyMessages 返回已落库的最近若干条非错误消息及其 token 数。
// 本轮消息在生成完成后才落库，不会出现在这里。
func (m *ConversationManager) historyMessages(ctx context.Context, conversationID uint64) ([]llm.Message, int, error) {
	if m.cfg.HistoryMessages <= 0 {
		return nil, 0, nil
	}
	msgs, err := m.store.ListMessages(ctx, conversationID, m.cfg.HistoryMessages, 0)
	if err != nil {
		return nil, 0, err
	}
	out := make([]llm.Message, 0, len(msgs))
	tokens := 0
	for _, msg := range msgs {
		if msg.IsError || msg.Role == model.RoleSystem {
			continue
		}
		out = append(out, llm.Message{Role: llm.Role(msg.Role), Content: msg.Content})
		tokens += textutil.CountTokens(msg.Content)
	}
	if len(out) > m.cfg.HistoryMessages {
		out = out[len(out)-m.cfg.HistoryMessages:]
	}
	return out, tokens, nil
}

// fail 将用户消息与本地化的错误消息作为失败的一轮一起保存，不计 token。
func (m *ConversationManager) fail(ctx context.Context, log core.Logger, turn *pendingTurn, lang i18n.Language, cause error) (*TurnResult, error) {
	result := turn.result
	result.Status = StatusError
	result.Response = m.languages.Message(lang, i18n.MsgError)
	result.Err = apierrors.ErrConversationTurnFailed.WithCause(cause)
	result.State = TurnFailed
	// 调用方自身的截止时间可能已到，失败的一轮仍需落库
	if err := m.commit(context.WithoutCancel(ctx), turn, nil, 0, true); err != nil {
		return nil, err
	}
	m.recordTurn(metrics.TurnFailed)
	log.Warnw("对话轮次失败，已保存错误消息", "message_id", result.MessageID)
	return result, nil
}

func (m *ConversationManager) discard(log core.Logger, result *TurnResult, err error) (*TurnResult, error) {
	result.State = TurnDiscarded
	m.recordTurn(metrics.TurnDiscarded)
	log.Infow("调用方已取消，丢弃本轮对话")
	if err == nil {
		err = context.Canceled
	}
	return nil, err
}

// commit 在一个事务内保存用户消息与助手消息，并在需要时更新会话标题。
func (m *ConversationManager) commit(ctx context.Context, turn *pendingTurn, sources []model.ContextSource, tokens int, isError bool) error {
	if sources == nil {
		sources = []model.ContextSource{}
	}
	result := turn.result
	reply := &model.Message{
		ConversationID: turn.conv.ID,
		Role:           model.RoleAssistant,
		Content:        result.Response,
		ContextSources: sources,
		TokensUsed:     tokens,
		IsError:        isError,
		CreatedAt:      m.now(),
	}
	if err := m.store.AppendTurn(ctx, turn.conv.ID, turn.title, turn.user, reply); err != nil {
		return err
	}
	if turn.title != "" {
		turn.conv.Title = turn.title
	}
	result.UserMessageID = turn.user.ID
	result.MessageID = reply.ID
	if result.State != TurnFailed {
		result.State = TurnPersisted
	}
	return nil
}

func (m *ConversationManager) recordTurn(outcome metrics.TurnOutcome) {
	if m.metrics != nil {
		m.metrics.RecordTurn(outcome)
	}
}

// discarded 判断失败是否来自调用方取消，而不是生成超时。
func discarded(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.Canceled) ||
		(errors.Is(err, context.Canceled) && ctx.Err() != nil)
}
