package textutil

import "fmt"

// Chunk 是文档中的一个连续片段。
type Chunk struct {
	// Index 是片段序号，从 0 开始连续递增。
	Index int
	// Content 是原文中从首个词元起点到末个词元终点的子串。
	Content string
	// TokenCount 是片段包含的词元数，不超过窗口大小。
	TokenCount int
}

// Chunker 按固定词元窗口切分文本，相邻窗口重叠 overlap 个词元。
type Chunker struct {
	size      int
	overlap   int
	tokenizer Tokenizer
}

// NewChunker 创建切分器。要求 size > 0 且 0 <= overlap < size。
func NewChunker(size, overlap int, tokenizer Tokenizer) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	return &Chunker{size: size, overlap: overlap, tokenizer: tokenizer}, nil
}

// Size 返回窗口大小。
func (c *Chunker) Size() int { return c.size }

// Overlap 返回重叠大小。
func (c *Chunker) Overlap() int { return c.overlap }

// Split 切分文本。空文本或不含词元的文本返回 nil。
func (c *Chunker) Split(text string) []Chunk {
	tokens := c.tokenizer.Tokenize(text)
	n := len(tokens)
	if n == 0 {
		return nil
	}

	stride := c.size - c.overlap
	chunks := make([]Chunk, 0, n/stride+1)
	for start := 0; ; start += stride {
		end := start + c.size
		if end > n {
			end = n
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Content:    text[tokens[start].Start:tokens[end-1].End],
			TokenCount: end - start,
		})
		if end == n {
			break
		}
	}
	return chunks
}
