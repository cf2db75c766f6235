package kb

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

func extractText(doc Document) (string, error) {
	switch doc.Format {
	case FormatText, "":
		return string(doc.Content), nil
	case FormatHTML:
		return extractHTML(doc.Content)
	case FormatPDF:
		return extractPDF(doc.Content)
	}
	return "", fmt.Errorf("unsupported document format %q", doc.Format)
}

// extractHTML walks the parsed tree and concatenates text nodes, turning
// headings into "#"-prefixed lines and list items into "-" lines so the
// section splitter sees the same shape as a plain-text manual.
func extractHTML(content []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head":
				return
			case "h1", "h2", "h3", "h4":
				b.WriteString("\n# ")
				writeNodeText(&b, n)
				b.WriteString("\n")
				return
			case "li":
				b.WriteString("\n- ")
				writeNodeText(&b, n)
				return
			case "p", "div", "br", "ul", "ol", "tr":
				b.WriteString("\n")
			}
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return b.String(), nil
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			b.WriteString(t)
			b.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return string(text), nil
}
