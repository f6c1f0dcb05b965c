package scrape

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]+`)
)

const maxDepth = 256

// ExtractHTML parses an HTML document into its title and a markdown-flavored text body.
// Scripts, styles, and site chrome (nav, header, footer, aside) are dropped.
// When the page has a <main> or <article> element only that subtree is used.
func ExtractHTML(htmlContent string) (title, text string, err error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", err
	}

	if t := findFirst(doc, "title"); t != nil {
		title = strings.TrimSpace(nodeText(t))
	}

	root := findFirst(doc, "main")
	if root == nil {
		root = findFirst(doc, "article")
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	extractText(root, &sb, 0, false)
	text = cleanText(sb.String())

	if title == "" {
		if h1 := findFirst(root, "h1"); h1 != nil {
			title = strings.TrimSpace(nodeText(h1))
		}
	}
	return title, text, nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return multiSpacePattern.ReplaceAllString(sb.String(), " ")
}

func extractText(n *html.Node, sb *strings.Builder, depth int, inPre bool) {
	if depth > maxDepth {
		return
	}

	switch n.Type {
	case html.TextNode:
		if inPre {
			sb.WriteString(n.Data)
			return
		}
		if text := strings.TrimSpace(n.Data); text != "" {
			sb.WriteString(text)
			sb.WriteString(" ")
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header", "aside", "form", "button", "title", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
		case "p", "div", "section", "table":
			sb.WriteString("\n\n")
		case "tr":
			sb.WriteString("\n")
		case "br":
			sb.WriteString("\n")
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
			inPre = true
		case "code":
			if !inPre {
				if code := strings.TrimSpace(nodeText(n)); code != "" {
					sb.WriteString("`" + code + "` ")
				}
				return
			}
		case "img":
			if alt := getAttr(n, "alt"); alt != "" {
				sb.WriteString("[Image: " + alt + "] ")
			}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, sb, depth+1, inPre)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			sb.WriteString("\n\n")
		case "pre":
			sb.WriteString("\n```\n\n")
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// cleanText collapses whitespace outside code fences and trims every line.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			lines[i] = strings.TrimSpace(line)
			continue
		}
		if inFence {
			lines[i] = strings.TrimRight(line, " \t")
			continue
		}
		lines[i] = strings.TrimSpace(multiSpacePattern.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
