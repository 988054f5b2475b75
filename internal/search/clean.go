package search

import (
	"strings"

	"golang.org/x/net/html"
)

// strippedTags 整体移除的标签，多为导航、表单与装饰类内容
var strippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"footer": true, "ins": true, "time": true, "form": true,
	"input": true, "button": true, "select": true, "link": true,
	"head": true, "meta": true, "object": true, "svg": true,
	"ul": true, "li": true,
}

// excludeKeywords class/id 命中任意关键词时整块移除
var excludeKeywords = []string{
	"footer", "header", "nav", "menu", "helper",
	"dialog", "modal", "csdn", "repo",
	"overlay", "mask", "popup", "toolbar", "sidebar",
}

// docSuffixes 指向文档的链接保留文本，其余链接只当导航噪音
var docSuffixes = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx"}

// Cleaner 把抓取到的 HTML 清洗成适合投喂模型的纯文本
type Cleaner struct {
	sensitiveKeywords []string
}

func NewCleaner(sensitiveKeywords []string) *Cleaner {
	return &Cleaner{sensitiveKeywords: sensitiveKeywords}
}

// Clean 解析 HTML 并抽取清洗后的正文文本
// 解析失败时退回原始输入，保证下游永远有内容可用
func (c *Cleaner) Clean(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return strings.TrimSpace(rawHTML)
	}

	c.prune(doc)

	var sb strings.Builder
	collectText(doc, &sb)
	return normalizeWhitespace(sb.String())
}

// prune 深度遍历并原地删除噪音节点
func (c *Cleaner) prune(n *html.Node) {
	var next *html.Node
	for child := n.FirstChild; child != nil; child = next {
		next = child.NextSibling
		if c.shouldRemove(child) {
			n.RemoveChild(child)
			continue
		}
		c.sanitizeAttrs(child)
		c.prune(child)
	}
}

func (c *Cleaner) shouldRemove(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode:
		return true
	case html.ElementNode:
	default:
		return false
	}

	if strippedTags[n.Data] {
		return true
	}

	if n.Data == "a" && !isDocLink(attrValue(n, "href")) {
		return true
	}

	marker := strings.ToLower(attrValue(n, "class") + " " + attrValue(n, "id"))
	for _, keyword := range excludeKeywords {
		if strings.Contains(marker, keyword) {
			return true
		}
	}

	// 命中敏感词的整块内容直接丢弃，避免营销或推广文案混入证据
	if len(c.sensitiveKeywords) > 0 && isBlockElement(n.Data) {
		text := nodeText(n)
		for _, keyword := range c.sensitiveKeywords {
			if keyword != "" && strings.Contains(text, keyword) {
				return true
			}
		}
	}
	return false
}

// sanitizeAttrs 清空体积大又无正文价值的属性
func (c *Cleaner) sanitizeAttrs(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}
	for i := range n.Attr {
		attr := &n.Attr[i]
		if n.Data == "img" && attr.Key == "src" {
			attr.Val = ""
		}
		if strings.HasPrefix(attr.Key, "data-") {
			attr.Val = ""
		}
	}
}

func isDocLink(href string) bool {
	href = strings.ToLower(href)
	if idx := strings.IndexAny(href, "?#"); idx >= 0 {
		href = href[:idx]
	}
	for _, suffix := range docSuffixes {
		if strings.HasSuffix(href, suffix) {
			return true
		}
	}
	return false
}

func isBlockElement(tag string) bool {
	switch tag {
	case "div", "section", "article", "aside", "table", "p":
		return true
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	collectText(n, &sb)
	return sb.String()
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
	if n.Type == html.ElementNode && isBlockElement(n.Data) {
		sb.WriteString("\n")
	}
}

// normalizeWhitespace 折叠连续空白，最多保留一个换行
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
