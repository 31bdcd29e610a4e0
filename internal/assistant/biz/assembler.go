package biz

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/i18n"
	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
)

// DefaultAnswerReserve 为模型回答预留的 token 数。
const DefaultAnswerReserve = 512

// 提示词模板的固定部分。
const (
	contextHeader  = "Context:\n"
	chunkSeparator = "\n---\n"
	questionPrefix = "\n\nQuestion: "
	answerSuffix   = "\nAnswer:"
)

// Citation 回答中引用的一个来源。
type Citation struct {
	Ordinal       int     `json:"ordinal"`
	DocumentID    uint64  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkIndex    int     `json:"chunk_index"`
	Score         float64 `json:"score"`
	Label         string  `json:"label"`
}

// AssembledPrompt 组装好的提示词。
type AssembledPrompt struct {
	System    string
	User      string
	Citations []Citation
	// Chunks 实际进入上下文的切片，按排名顺序。
	Chunks     []model.ScoredChunk
	TokenCount int
	// Dropped 因数量或预算限制而丢弃的切片数。
	Dropped int
}

// ContextSources 转换为消息中保存的来源记录。
func (p *AssembledPrompt) ContextSources() []model.ContextSource {
	sources := make([]model.ContextSource, 0, len(p.Chunks))
	ordinals := make(map[chunkKey]int, len(p.Citations))
	for _, c := range p.Citations {
		ordinals[chunkKey{c.DocumentID, c.ChunkIndex}] = c.Ordinal
	}
	for _, c := range p.Chunks {
		sources = append(sources, model.ContextSource{
			Ordinal:       ordinals[chunkKey{c.Chunk.DocumentID, c.Chunk.ChunkIndex}],
			DocumentID:    c.Chunk.DocumentID,
			DocumentTitle: c.DocumentTitle,
			ChunkIndex:    c.Chunk.ChunkIndex,
			Score:         c.Score,
		})
	}
	return sources
}

type chunkKey struct {
	documentID uint64
	index      int
}

// Assembler 根据检索结果与租户配置组装提示词。
type Assembler struct {
	languages     *i18n.Manager
	answerReserve int
}

// NewAssembler 创建提示词组装器，answerReserve <= 0 时使用默认值。
func NewAssembler(languages *i18n.Manager, answerReserve int) *Assembler {
	if answerReserve <= 0 {
		answerReserve = DefaultAnswerReserve
	}
	return &Assembler{languages: languages, answerReserve: answerReserve}
}

// BuildPrompt 选取至多 max_context_chunks 个切片放入上下文。
//
// 切片按排名依次放入，一旦超出 token 预算，剩余（分数更低的）切片全部丢弃。
// 开启引用时每个切片获得 [1]、[2]… 序号，重复的切片沿用已有序号且不重复放入。
func (a *Assembler) BuildPrompt(query string, chunks []model.ScoredChunk, cfg *model.TenantAssistantConfig, lang i18n.Language, contextWindow int) *AssembledPrompt {
	if cfg == nil {
		cfg = model.DefaultTenantConfig("")
	}
	system := a.languages.PromptFor(cfg, lang)

	ranked := make([]model.ScoredChunk, len(chunks))
	copy(ranked, chunks)
	sort.SliceStable(ranked, func(i, j int) bool { return model.LessScored(ranked[i], ranked[j]) })

	reserve := textutil.CountTokens(system) + textutil.CountTokens(query) + a.answerReserve +
		textutil.CountTokens(contextHeader+questionPrefix+answerSuffix)
	budget := contextWindow - reserve

	prompt := &AssembledPrompt{System: system}
	ordinals := make(map[chunkKey]int)
	var blocks []string
	used := 0

	for n, c := range ranked {
		key := chunkKey{c.Chunk.DocumentID, c.Chunk.ChunkIndex}
		if _, dup := ordinals[key]; dup {
			continue
		}
		if len(prompt.Chunks) >= cfg.MaxContextChunks {
			prompt.Dropped += countUnique(ranked[n:], ordinals)
			break
		}

		block := c.Chunk.Content
		var citation Citation
		if cfg.EnableCitation {
			ordinal := len(prompt.Citations) + 1
			citation = Citation{
				Ordinal:       ordinal,
				DocumentID:    c.Chunk.DocumentID,
				DocumentTitle: c.DocumentTitle,
				ChunkIndex:    c.Chunk.ChunkIndex,
				Score:         c.Score,
				Label:         a.languages.FormatCitation(c.DocumentTitle, c.Chunk.ChunkIndex+1, lang),
			}
			block = "[" + strconv.Itoa(ordinal) + "] " + citation.Label + "\n" + block
		}

		cost := textutil.CountTokens(block)
		if len(blocks) > 0 {
			cost += textutil.CountTokens(chunkSeparator)
		}
		if used+cost > budget {
			prompt.Dropped += countUnique(ranked[n:], ordinals)
			break
		}

		used += cost
		blocks = append(blocks, block)
		prompt.Chunks = append(prompt.Chunks, c)
		ordinals[key] = len(prompt.Chunks)
		if cfg.EnableCitation {
			prompt.Citations = append(prompt.Citations, citation)
		}
	}

	var sb strings.Builder
	if len(blocks) > 0 {
		sb.WriteString(contextHeader)
		sb.WriteString(strings.Join(blocks, chunkSeparator))
		sb.WriteString(questionPrefix)
	} else {
		sb.WriteString(questionPrefix[2:])
	}
	sb.WriteString(query)
	sb.WriteString(answerSuffix)
	prompt.User = sb.String()
	prompt.TokenCount = textutil.CountTokens(prompt.System) + textutil.CountTokens(prompt.User)
	return prompt
}

// countUnique 统计尚未放入的不同切片数。
func countUnique(rest []model.ScoredChunk, included map[chunkKey]int) int {
	seen := make(map[chunkKey]struct{}, len(rest))
	for _, c := range rest {
		key := chunkKey{c.Chunk.DocumentID, c.Chunk.ChunkIndex}
		if _, ok := included[key]; ok {
			continue
		}
		seen[key] = struct{}{}
	}
	return len(seen)
}
