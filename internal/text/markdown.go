package text

import (
	"regexp"
	"strings"
)

// MarkdownFilter Markdown过滤器接口
type MarkdownFilter interface {
	Filter(text string) string
}

// MarkdownFilterConfig 配置
type MarkdownFilterConfig struct {
	// 是否移除加粗/斜体标记
	RemoveEmphasis bool
	// 是否移除代码块
	RemoveCodeBlock bool
	// 是否只保留链接文本
	RemoveLink bool
	// 是否移除标题符号
	RemoveHeading bool
	// 是否移除列表符号
	RemoveListLeader bool
}

// DefaultMarkdownFilterConfig 默认配置
func DefaultMarkdownFilterConfig() *MarkdownFilterConfig {
	return &MarkdownFilterConfig{
		RemoveEmphasis:   true,
		RemoveCodeBlock:  true,
		RemoveLink:       true,
		RemoveHeading:    true,
		RemoveListLeader: true,
	}
}

var patterns = struct {
	codeBlock        *regexp.Regexp
	fencedBody       *regexp.Regexp
	inlineCode       *regexp.Regexp
	boldAsterisk     *regexp.Regexp
	boldUnderscore   *regexp.Regexp
	italicAsterisk   *regexp.Regexp
	italicUnderscore *regexp.Regexp
	strikeThrough    *regexp.Regexp
	headerAtx        *regexp.Regexp
	link             *regexp.Regexp
	image            *regexp.Regexp
	html             *regexp.Regexp
	blockquote       *regexp.Regexp
	listLeader       *regexp.Regexp
	hr               *regexp.Regexp
	multipleNewlines *regexp.Regexp
}{
	codeBlock:        regexp.MustCompile("```[\\s\\S]*?```"),
	fencedBody:       regexp.MustCompile("```[a-zA-Z]*\\s*\\n?([\\s\\S]*?)```"),
	inlineCode:       regexp.MustCompile("`([^`\n]+)`"),
	boldAsterisk:     regexp.MustCompile(`\*\*([^\n*]+)\*\*`),
	boldUnderscore:   regexp.MustCompile(`__([^\n_]+)__`),
	italicAsterisk:   regexp.MustCompile(`\*([^\n*]+)\*`),
	italicUnderscore: regexp.MustCompile(`(^|\s)_([^\n_]+)_`),
	strikeThrough:    regexp.MustCompile(`~~([^\n~]+)~~`),
	headerAtx:        regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`),
	link:             regexp.MustCompile(`\[([^\]]+)\]\([^\)]+\)`),
	image:            regexp.MustCompile(`!\[([^\]]*)\]\([^\)]+\)`),
	html:             regexp.MustCompile(`<[^>]+>`),
	blockquote:       regexp.MustCompile(`(?m)^\s*>\s*`),
	listLeader:       regexp.MustCompile(`(?m)^\s*([*\-+]|\d+\.)\s+`),
	hr:               regexp.MustCompile(`(?m)^\s*([-*_]{3,})\s*$`),
	multipleNewlines: regexp.MustCompile(`\n{3,}`),
}

type regexpFilter struct {
	cfg MarkdownFilterConfig
}

// NewMarkdownFilter cfg 为 nil 时使用默认配置
func NewMarkdownFilter(cfg *MarkdownFilterConfig) MarkdownFilter {
	if cfg == nil {
		cfg = DefaultMarkdownFilterConfig()
	}
	return &regexpFilter{cfg: *cfg}
}

func (f *regexpFilter) Filter(text string) string {
	result := text
	if f.cfg.RemoveCodeBlock {
		result = patterns.codeBlock.ReplaceAllString(result, "")
	}
	if f.cfg.RemoveHeading {
		result = patterns.headerAtx.ReplaceAllString(result, "$1")
		result = patterns.hr.ReplaceAllString(result, "")
	}
	if f.cfg.RemoveEmphasis {
		// 先处理加粗再处理斜体
		result = patterns.boldAsterisk.ReplaceAllString(result, "$1")
		result = patterns.boldUnderscore.ReplaceAllString(result, "$1")
		result = patterns.strikeThrough.ReplaceAllString(result, "$1")
		result = patterns.italicAsterisk.ReplaceAllString(result, "$1")
		result = patterns.italicUnderscore.ReplaceAllString(result, "$1$2")
		result = patterns.inlineCode.ReplaceAllString(result, "$1")
	}
	if f.cfg.RemoveLink {
		result = patterns.image.ReplaceAllString(result, "$1")
		result = patterns.link.ReplaceAllString(result, "$1")
	}
	if f.cfg.RemoveListLeader {
		result = patterns.listLeader.ReplaceAllString(result, "")
	}
	result = patterns.html.ReplaceAllString(result, "")
	result = patterns.blockquote.ReplaceAllString(result, "")
	result = patterns.multipleNewlines.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// StripMarkdown 使用默认配置去除 Markdown 格式
func StripMarkdown(text string) string {
	return NewMarkdownFilter(nil).Filter(text)
}

// ExtractJSON 返回模型回复中的 JSON 对象：优先取代码块内容，其次取第一个 { 到最后一个 }
func ExtractJSON(reply string) (string, bool) {
	body := reply
	if m := patterns.fencedBody.FindStringSubmatch(reply); m != nil {
		body = m[1]
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return "", false
	}
	return body[start : end+1], true
}
