package textutil

import "regexp"

// Token 是原文中一个词元的字节区间 [Start, End)。
type Token struct {
	Start int
	End   int
}

// Tokenizer 将文本切分为词元。
// 实现必须是确定性的：相同输入总是产生相同的词元序列。
type Tokenizer interface {
	Name() string
	Tokenize(text string) []Token
}

// wordPattern 匹配连续的字母数字串，或单个标点/符号。
var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+|[^\s\p{L}\p{M}\p{N}_]`)

// WordTokenizer 是基于 Unicode 类别的词/标点分词器。
type WordTokenizer struct{}

var _ Tokenizer = WordTokenizer{}

// Name 返回分词器标识。
func (WordTokenizer) Name() string { return "word-punct-v1" }

// Tokenize 返回文本中所有词元的字节区间。
func (WordTokenizer) Tokenize(text string) []Token {
	locs := wordPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	tokens := make([]Token, len(locs))
	for i, loc := range locs {
		tokens[i] = Token{Start: loc[0], End: loc[1]}
	}
	return tokens
}

// CountTokens 使用默认分词器统计词元数。
func CountTokens(text string) int {
	return len(wordPattern.FindAllStringIndex(text, -1))
}
