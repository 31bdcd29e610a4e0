package biz

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kart-io/logger"

	"github.com/kart-io/helix-assistant/internal/model"
	"github.com/kart-io/helix-assistant/internal/pkg/textutil"
	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// SourceDocument 待摄取的原始文档。
type SourceDocument struct {
	// Path 在租户内唯一标识文档的来源路径。
	Path        string
	Content     string
	ContentType model.ContentType
	// Title 为空时由解析阶段推断。
	Title string
	// Err 非空表示枚举阶段已无法读取该文档，摄取时记为单文档失败。
	Err error
}

// Source 枚举待摄取的文档。
type Source interface {
	Discover(ctx context.Context) ([]SourceDocument, error)
}

// extContentTypes 目录扫描接受的扩展名。
var extContentTypes = map[string]model.ContentType{
	".md":       model.ContentTypeMarkdown,
	".markdown": model.ContentTypeMarkdown,
	".txt":      model.ContentTypeText,
	".html":     model.ContentTypeHTML,
	".htm":      model.ContentTypeHTML,
}

// ContentTypeForPath 根据扩展名推断内容类型。
func ContentTypeForPath(path string) (model.ContentType, bool) {
	ct, ok := extContentTypes[strings.ToLower(filepath.Ext(path))]
	return ct, ok
}

// DirectorySource 递归扫描 Root 下的 Dir 子树，Path 始终为相对 Root 的斜杠路径。
// 因此同一文件无论从整库还是子目录摄取，都得到同一个来源路径。
type DirectorySource struct {
	Root string
	// Dir 相对 Root 的子目录或单个文件，为空时扫描整个 Root。
	Dir string
}

// NewDirectorySource 创建扫描整个 root 的目录来源。
func NewDirectorySource(root string) *DirectorySource {
	return &DirectorySource{Root: root}
}

// NewSubtreeSource 创建只扫描 root 下 dir 的目录来源。
func NewSubtreeSource(root, dir string) *DirectorySource {
	return &DirectorySource{Root: root, Dir: dir}
}

func (s *DirectorySource) start() string {
	if s.Dir == "" {
		return s.Root
	}
	return filepath.Join(s.Root, filepath.FromSlash(s.Dir))
}

// Discover 实现 Source。目录不存在时返回空列表并记录警告。
// 单个文件或子目录不可读时作为带 Err 的文档返回，不中断扫描。
func (s *DirectorySource) Discover(ctx context.Context) ([]SourceDocument, error) {
	start := s.start()
	info, err := os.Stat(start)
	if os.IsNotExist(err) {
		logger.Warnw("文档目录不存在", "root", start)
		return []SourceDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取文档目录失败: %w", err)
	}

	var docs []SourceDocument
	if !info.IsDir() {
		if _, ok := ContentTypeForPath(start); !ok {
			return nil, apierrors.ErrValidation.WithCause(apierrors.ErrUnknownContentType).
				WithMessagef("unsupported document type %q", filepath.Ext(start))
		}
		doc, err := s.readFile(start)
		if err != nil {
			return nil, err
		}
		return append(docs, doc), nil
	}

	err = filepath.WalkDir(start, func(path string, d os.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == start {
				return err
			}
			rel, relErr := s.relPath(path)
			if relErr != nil {
				return relErr
			}
			logger.Warnw("无法读取文档路径，已跳过", "path", rel, "error", err)
			docs = append(docs, SourceDocument{Path: rel, Err: err})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := ContentTypeForPath(path); !ok {
			return nil
		}
		doc, err := s.readFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// readFile 只在路径无法相对 Root 表示时返回错误，读取失败记录在文档的 Err 上。
func (s *DirectorySource) readFile(path string) (SourceDocument, error) {
	rel, err := s.relPath(path)
	if err != nil {
		return SourceDocument{}, err
	}
	ct, _ := ContentTypeForPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnw("读取文档失败，已跳过", "path", rel, "error", err)
		return SourceDocument{Path: rel, ContentType: ct, Err: fmt.Errorf("读取 %s 失败: %w", rel, err)}, nil
	}
	return SourceDocument{Path: rel, Content: string(data), ContentType: ct}, nil
}

func (s *DirectorySource) relPath(path string) (string, error) {
	rel, err := filepath.Rel(s.Root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// StaticSource 内存中的文档列表。
type StaticSource []SourceDocument

// Discover 实现 Source，按路径排序返回副本。
func (s StaticSource) Discover(context.Context) ([]SourceDocument, error) {
	docs := make([]SourceDocument, len(s))
	copy(docs, s)
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ParsedDocument 解析后的标题与正文。
type ParsedDocument struct {
	Title string
	Text  string
}

// ParseDocument 按内容类型提取标题与可切分的正文。
// 未知类型或内容为空时返回 ErrValidation。
func ParseDocument(doc SourceDocument) (*ParsedDocument, error) {
	if !doc.ContentType.Valid() {
		return nil, apierrors.ErrValidation.WithCause(apierrors.ErrUnknownContentType).
			WithMessagef("unknown content type %q", doc.ContentType)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, apierrors.ErrValidation.WithMessage("document content is empty")
	}

	fallback := titleFromPath(doc.Path)
	var parsed ParsedDocument
	switch doc.ContentType {
	case model.ContentTypeMarkdown:
		meta, body := textutil.StripFrontMatter(doc.Content)
		parsed.Text = body
		parsed.Title = firstNonEmpty(doc.Title, meta["title"], textutil.FirstMarkdownHeading(body), fallback)
	case model.ContentTypeText:
		parsed.Text = doc.Content
		parsed.Title = firstNonEmpty(doc.Title, fallback)
	case model.ContentTypeHTML:
		title, text, err := parseHTML(doc.Content)
		if err != nil {
			return nil, apierrors.ErrValidation.WithCause(err)
		}
		parsed.Text = text
		parsed.Title = firstNonEmpty(doc.Title, title, fallback)
	}

	if strings.TrimSpace(parsed.Text) == "" {
		return nil, apierrors.ErrValidation.WithMessage("document has no extractable text")
	}
	return &parsed, nil
}

const blockElements = "p, div, section, article, header, footer, li, tr, br, h1, h2, h3, h4, h5, h6, pre, blockquote"

// parseHTML 提取 <title> 与去除 script/style 后的正文文本。
func parseHTML(content string) (string, string, error) {
	dom, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	title := strings.TrimSpace(dom.Find("title").First().Text())
	dom.Find("script, style, noscript, head").Remove()
	// 块级元素之间换行，避免相邻段落的文字粘连
	dom.Find(blockElements).AppendHtml("\n")

	var blocks []string
	dom.Find("body").Each(func(_ int, s *goquery.Selection) {
		for _, line := range strings.Split(s.Text(), "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				blocks = append(blocks, line)
			}
		}
	})
	return title, strings.Join(blocks, "\n"), nil
}

func titleFromPath(path string) string {
	base := filepath.Base(filepath.FromSlash(path))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
