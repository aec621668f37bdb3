package crawler

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// ParsedPage 是一个 HTML 页面解析后的结果。
type ParsedPage struct {
	Title string
	Text  string
	Links []string
}

// minParagraphChars 过滤导航残渣等过短段落。
const minParagraphChars = 50

// maxCommunityPosts 限制社区类页面提取的帖子数。
const maxCommunityPosts = 10

// ParsePage 按来源类型解析 HTML 正文，并抽取同域的后续链接。
func ParsePage(body io.Reader, sourceType, pageURL string) (*ParsedPage, error) {
	root, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("解析 HTML 失败: %w", err)
	}

	page := &ParsedPage{Title: extractTitle(root)}
	switch sourceType {
	case "wikipedia", "wiki":
		page.Text = extractWikiText(root)
	case "community":
		page.Text = extractCommunityText(root)
	default: // news
		page.Text = extractArticleText(root)
	}
	page.Links = extractLinks(root, pageURL)
	return page, nil
}

// extractTitle 返回 <title> 内容，去掉站点后缀。
func extractTitle(root *html.Node) string {
	node := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "title"
	})
	if node == nil {
		return ""
	}
	title := strings.TrimSpace(nodeText(node))
	for _, sep := range []string{" - ", " | ", " — "} {
		if idx := strings.Index(title, sep); idx > 0 {
			title = title[:idx]
			break
		}
	}
	return title
}

// extractWikiText 提取维基类页面的正文：#mw-content-text 容器下的段落与小节标题，
// 过短的段落被视为导航残渣丢弃。
func extractWikiText(root *html.Node) string {
	container := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attrVal(n, "id") == "mw-content-text"
	})
	if container == nil {
		container = root
	}

	var parts []string
	walk(container, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch n.Data {
		case "h2", "h3", "h4":
			if heading := strings.TrimSpace(nodeText(n)); heading != "" {
				parts = append(parts, heading)
			}
			return false
		case "p":
			text := strings.TrimSpace(nodeText(n))
			if len([]rune(text)) >= minParagraphChars {
				parts = append(parts, text)
			}
			return false
		case "script", "style", "table", "nav":
			return false
		}
		return true
	})
	return strings.Join(parts, "\n\n")
}

// extractArticleText 提取新闻类页面的正文，优先 <article>，其次 <main>，最后整个 <body>。
func extractArticleText(root *html.Node) string {
	container := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "article"
	})
	if container == nil {
		container = findFirst(root, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "main"
		})
	}
	if container == nil {
		container = findFirst(root, func(n *html.Node) bool {
			return n.Type == html.ElementNode && n.Data == "body"
		})
	}
	if container == nil {
		return ""
	}

	var parts []string
	walk(container, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		switch n.Data {
		case "p":
			text := strings.TrimSpace(nodeText(n))
			if len([]rune(text)) >= minParagraphChars {
				parts = append(parts, text)
			}
			return false
		case "script", "style", "aside", "footer", "nav":
			return false
		}
		return true
	})
	return strings.Join(parts, "\n\n")
}

// extractCommunityText 提取社区类页面中的帖子正文，最多保留前若干条。
func extractCommunityText(root *html.Node) string {
	var parts []string
	walk(root, func(n *html.Node) bool {
		if len(parts) >= maxCommunityPosts {
			return false
		}
		if n.Type != html.ElementNode {
			return true
		}
		switch n.Data {
		case "p":
			text := strings.TrimSpace(nodeText(n))
			if len([]rune(text)) >= minParagraphChars {
				parts = append(parts, text)
			}
			return false
		case "script", "style", "nav":
			return false
		}
		return true
	})
	return strings.Join(parts, "\n\n")
}

// extractLinks 收集页面上与当前页面同域的绝对链接，锚点与查询串被剥除。
func extractLinks(root *html.Node, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}
		href := attrVal(n, "href")
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Host != base.Host || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return true
		}
		resolved.Fragment = ""
		resolved.RawQuery = ""
		link := resolved.String()
		if link != pageURL && !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
		return true
	})
	return links
}

// walk 深度优先遍历节点树，visit 返回 false 时跳过该节点的子树。
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return c.Type != html.ElementNode || (c.Data != "script" && c.Data != "style")
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}

func attrVal(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
