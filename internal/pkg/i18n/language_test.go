package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/helix-assistant/internal/model"
)

type fakeDetector struct {
	lang       Language
	confidence float64
	reliable   bool
	panics     bool
}

func (f fakeDetector) Detect(string) (Language, float64, bool) {
	if f.panics {
		panic("detector crashed")
	}
	return f.lang, f.confidence, f.reliable
}

func TestManager_DetectFallback(t *testing.T) {
	tests := []struct {
		name     string
		detector fakeDetector
		want     Language
	}{
		{"可靠结果", fakeDetector{English, 0.9, true, false}, English},
		{"置信度不足", fakeDetector{English, 0.2, true, false}, DefaultLanguage},
		{"结果不可靠", fakeDetector{Spanish, 0.9, false, false}, DefaultLanguage},
		{"未映射语言", fakeDetector{"", 0.9, true, false}, DefaultLanguage},
		{"检测器崩溃", fakeDetector{panics: true}, DefaultLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(WithDetector(tt.detector))
			assert.Equal(t, tt.want, m.Detect("some text to classify"))
		})
	}

	m := NewManager()
	assert.Equal(t, DefaultLanguage, m.Detect("   "))
}

func TestManager_DetectWithWhatlang(t *testing.T) {
	m := NewManager()
	got := m.Detect("The employee handbook describes the vacation policy and how to request time off from your manager in advance.")
	assert.Equal(t, English, got)
}

func TestManager_BundleFallbackIsWhole(t *testing.T) {
	m := NewManager()
	for _, lang := range []Language{Italian, Chinese, Japanese, Language("ru")} {
		b := m.Bundle(lang)
		assert.Equal(t, PortugueseBR, b.Language)
		assert.Equal(t, m.SystemPrompt(PortugueseBR), m.SystemPrompt(lang))
		assert.Equal(t, m.Message(PortugueseBR, MsgError), m.Message(lang, MsgError))
		assert.Equal(t, m.CitationFormat(PortugueseBR), m.CitationFormat(lang))
	}
	assert.Equal(t, "", m.Message(English, "missing"))
}

func TestManager_FormatCitation(t *testing.T) {
	m := NewManager()
	assert.Equal(t, "Fonte: Manual (Seção 2)", m.FormatCitation("Manual", 2, PortugueseBR))
	assert.Equal(t, "Source: Manual (Section 0)", m.FormatCitation("Manual", 0, English))
	assert.Equal(t, "Quelle: Handbuch (Abschnitt 3)", m.FormatCitation("Handbuch", 3, German))
	assert.Equal(t, "Fuente: Guía (Sección 1)", m.FormatCitation("Guía", 1, Spanish))
}

func TestManager_Match(t *testing.T) {
	m := NewManager()
	assert.Equal(t, English, m.Match("en-US,en;q=0.9"))
	assert.Equal(t, PortugueseBR, m.Match("pt-BR"))
	assert.Equal(t, German, m.Match("de-CH;q=0.8"))
	assert.Equal(t, DefaultLanguage, m.Match(""))
	assert.Equal(t, DefaultLanguage, m.Match("@@invalid@@"))
}

func TestParse(t *testing.T) {
	tests := map[string]Language{"pt": PortugueseBR, "pt_BR": PortugueseBR, "EN": English, "zh-CN": Chinese, "fr": French}
	for in, want := range tests {
		got, ok := Parse(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := Parse("klingon")
	assert.False(t, ok)
}

func TestManager_PromptFor(t *testing.T) {
	m := NewManager()
	def := model.DefaultTenantConfig("t1")

	assert.Equal(t, model.DefaultSystemPrompt, m.PromptFor(def, PortugueseBR))
	assert.Equal(t, m.SystemPrompt(English), m.PromptFor(def, English))
	// 没有完整文本包的语言回退到默认语言
	assert.Equal(t, model.DefaultSystemPrompt, m.PromptFor(def, Japanese))

	custom := model.DefaultTenantConfig("t2")
	custom.SystemPrompt = "Você é o assistente de RH da ACME."
	assert.Equal(t, "Você é o assistente de RH da ACME.\nAlways respond in English.", m.PromptFor(custom, English))
	assert.Equal(t, model.DefaultSystemPrompt, m.PromptFor(nil, PortugueseBR))
}

func TestManager_Supported(t *testing.T) {
	langs := NewManager().Supported()
	assert.Len(t, langs, 8)
	assert.Equal(t, "pt-BR", langs[0].Code)
	assert.True(t, langs[0].FullBundle)
	assert.False(t, langs[5].FullBundle)
}
