// Package textutil 提供助手检索链路使用的文本处理工具函数。
package textutil

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]；长度不一致或存在零向量时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HashContent 计算内容的 SHA-256 十六进制摘要，用于幂等判断。
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TruncateRunes 截断字符串到指定的最大 Unicode 字符数。
func TruncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

// FirstMarkdownHeading 返回第一个一级标题的文本，没有时返回空串。
func FirstMarkdownHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// StripFrontMatter 拆分 Markdown 头部的 "---" 元数据块。
// 返回元数据键值与剩余正文；没有元数据时原样返回正文。
func StripFrontMatter(content string) (map[string]string, string) {
	trimmed := strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(trimmed, "---\n") && !strings.HasPrefix(trimmed, "---\r\n") {
		return nil, content
	}

	lines := strings.Split(trimmed, "\n")
	meta := make(map[string]string)
	for i := 1; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		if line == "---" {
			return meta, strings.Join(lines[i+1:], "\n")
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.ToLower(strings.TrimSpace(key))] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	// 没有闭合的分隔符，不视为元数据
	return nil, content
}
