package textutil_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float64
	}{
		{"相同向量", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"正交向量", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"相反向量", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"空向量", []float32{}, []float32{}, 0},
		{"长度不匹配", []float32{1, 2}, []float32{1}, 0},
		{"零向量", []float32{0, 0}, []float32{1, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, textutil.CosineSimilarity(tt.a, tt.b), 0.0001)
		})
	}
}

func TestHashContent(t *testing.T) {
	h1 := textutil.HashContent("conteúdo")
	h2 := textutil.HashContent("conteúdo")
	h3 := textutil.HashContent("conteudo")

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "Olá", textutil.TruncateRunes("Olá mundo", 3))
	assert.Equal(t, "curto", textutil.TruncateRunes("curto", 50))
	assert.Equal(t, "", textutil.TruncateRunes("x", 0))
}

func TestFirstMarkdownHeading(t *testing.T) {
	assert.Equal(t, "Guia de Instalação", textutil.FirstMarkdownHeading("intro\n## sub\n# Guia de Instalação\n"))
	assert.Equal(t, "", textutil.FirstMarkdownHeading("sem título"))
}

func TestStripFrontMatter(t *testing.T) {
	meta, body := textutil.StripFrontMatter("---\ntitle: \"Férias\"\nauthor: RH\n---\n# Corpo\n")
	assert.Equal(t, "Férias", meta["title"])
	assert.Equal(t, "RH", meta["author"])
	assert.Equal(t, "# Corpo\n", body)

	meta, body = textutil.StripFrontMatter("# Sem metadados")
	assert.Nil(t, meta)
	assert.Equal(t, "# Sem metadados", body)

	meta, body = textutil.StripFrontMatter("---\nnão fecha")
	assert.Nil(t, meta)
	assert.True(t, strings.HasPrefix(body, "---"))
}
