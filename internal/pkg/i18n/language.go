// Package i18n 负责助手的语言检测与本地化文本。
//
// 只有 pt-BR、en、es、fr、de 拥有完整的文本包；其余语言以及无法识别的
// 语言一律整包回退到 pt-BR，不会出现多种语言混合的结果。
package i18n

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/kart-io/logger"
	"golang.org/x/text/language"
)

// Language 是 BCP 47 风格的语言代码。
type Language string

// 支持的语言。
const (
	PortugueseBR Language = "pt-BR"
	English      Language = "en"
	Spanish      Language = "es"
	French       Language = "fr"
	German       Language = "de"
	Italian      Language = "it"
	Chinese      Language = "zh"
	Japanese     Language = "ja"
)

// DefaultLanguage 是检测失败或置信度不足时使用的语言。
const DefaultLanguage = PortugueseBR

// 本地化消息的键。
const (
	MsgNoResults = "no_results"
	MsgThinking  = "thinking"
	MsgError     = "error"
	MsgWelcome   = "welcome"
)

// DefaultMinConfidence 是接受检测结果的最低置信度。
const DefaultMinConfidence = 0.5

var allLanguages = []struct {
	lang Language
	name string
}{
	{PortugueseBR, "PORTUGUESE_BR"},
	{English, "ENGLISH"},
	{Spanish, "SPANISH"},
	{French, "FRENCH"},
	{German, "GERMAN"},
	{Italian, "ITALIAN"},
	{Chinese, "CHINESE"},
	{Japanese, "JAPANESE"},
}

// LanguageInfo 描述一个支持的语言。
type LanguageInfo struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	FullBundle bool   `json:"full_bundle"`
}

// Detector 检测文本语言，返回语言、置信度以及结果是否可靠。
type Detector interface {
	Detect(text string) (Language, float64, bool)
}

// WhatlangDetector 基于 whatlanggo 的三元组统计进行检测。
type WhatlangDetector struct{}

var whatlangMapping = map[whatlanggo.Lang]Language{
	whatlanggo.Por: PortugueseBR,
	whatlanggo.Eng: English,
	whatlanggo.Spa: Spanish,
	whatlanggo.Fra: French,
	whatlanggo.Deu: German,
	whatlanggo.Ita: Italian,
	whatlanggo.Cmn: Chinese,
	whatlanggo.Jpn: Japanese,
}

// Detect 实现 Detector。未映射的语言返回空串。
func (WhatlangDetector) Detect(text string) (Language, float64, bool) {
	info := whatlanggo.Detect(text)
	lang, ok := whatlangMapping[info.Lang]
	if !ok {
		return "", info.Confidence, false
	}
	return lang, info.Confidence, info.IsReliable()
}

// Manager 管理语言检测与本地化文本。
type Manager struct {
	detector      Detector
	minConfidence float64
	matcher       language.Matcher
	matchOrder    []Language
}

// Option 配置 Manager。
type Option func(*Manager)

// WithDetector 替换默认的检测器。
func WithDetector(d Detector) Option {
	return func(m *Manager) { m.detector = d }
}

// WithMinConfidence 设置最低置信度。
func WithMinConfidence(c float64) Option {
	return func(m *Manager) { m.minConfidence = c }
}

// NewManager 创建语言管理器。
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		detector:      WhatlangDetector{},
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(m)
	}

	// 匹配器的第一个标签即为默认值
	tags := make([]language.Tag, 0, len(allLanguages))
	for _, l := range allLanguages {
		tags = append(tags, language.Make(string(l.lang)))
		m.matchOrder = append(m.matchOrder, l.lang)
	}
	m.matcher = language.NewMatcher(tags)
	return m
}

// Detect 检测文本语言，任何失败都回退到默认语言。
func (m *Manager) Detect(text string) (lang Language) {
	if strings.TrimSpace(text) == "" {
		return DefaultLanguage
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Warnw("language detection failed", "panic", r)
			lang = DefaultLanguage
		}
	}()

	detected, confidence, reliable := m.detector.Detect(text)
	if detected == "" || !reliable || confidence < m.minConfidence {
		return DefaultLanguage
	}
	return detected
}

// Match 根据 Accept-Language 头选择语言，解析失败时返回默认语言。
func (m *Manager) Match(acceptLanguage string) Language {
	if strings.TrimSpace(acceptLanguage) == "" {
		return DefaultLanguage
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLanguage
	}
	_, idx, conf := m.matcher.Match(tags...)
	if conf == language.No || idx < 0 || idx >= len(m.matchOrder) {
		return DefaultLanguage
	}
	return m.matchOrder[idx]
}

// Parse 将任意语言代码规范化为支持的 Language。
func Parse(code string) (Language, bool) {
	c := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "_", "-"))
	switch {
	case c == "pt" || strings.HasPrefix(c, "pt-"):
		return PortugueseBR, true
	case c == "zh" || strings.HasPrefix(c, "zh-"):
		return Chinese, true
	}
	for _, l := range allLanguages {
		if string(l.lang) == c {
			return l.lang, true
		}
	}
	return "", false
}

// Supported 返回所有支持的语言。
func (m *Manager) Supported() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(allLanguages))
	for _, l := range allLanguages {
		_, full := bundles[l.lang]
		out = append(out, LanguageInfo{Code: string(l.lang), Name: l.name, FullBundle: full})
	}
	return out
}

// Bundle 返回语言对应的完整文本包。
func (m *Manager) Bundle(lang Language) *Bundle {
	return bundleFor(lang)
}

// SystemPrompt 返回语言的系统提示词。
func (m *Manager) SystemPrompt(lang Language) string {
	return bundleFor(lang).SystemPrompt
}

// CitationFormat 返回语言的引用格式模板。
func (m *Manager) CitationFormat(lang Language) string {
	return bundleFor(lang).CitationFormat
}

// FormatCitation 按语言格式化一条引用。
func (m *Manager) FormatCitation(title string, index int, lang Language) string {
	return bundleFor(lang).FormatCitation(title, index)
}

// Message 返回本地化的固定文本，未知键返回空串。
func (m *Manager) Message(lang Language, key string) string {
	return bundleFor(lang).Messages[key]
}
