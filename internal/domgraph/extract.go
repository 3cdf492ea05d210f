package domgraph

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/nao1215/phishguard/internal/model"
)

// Extract parses an HTML document into a DOM record. Elements become nodes
// in document order and each parent-child relation becomes an edge. At most
// maxNodes elements are emitted; a non-positive value uses DefaultMaxNodes.
func Extract(r io.Reader, maxNodes int) (*model.DOMRecord, error) {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	rec := &model.DOMRecord{
		Nodes: make([]model.DOMNode, 0, 64),
		Edges: make([]model.DOMEdge, 0, 64),
	}

	var walk func(n *html.Node, parent int)
	walk = func(n *html.Node, parent int) {
		if len(rec.Nodes) >= maxNodes {
			return
		}
		idx := parent
		if n.Type == html.ElementNode {
			idx = len(rec.Nodes)
			rec.Nodes = append(rec.Nodes, elementNode(n))
			if parent >= 0 {
				rec.Edges = append(rec.Edges, model.DOMEdge{U: parent, V: idx})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, idx)
		}
	}
	walk(doc, -1)

	return rec, nil
}

func elementNode(n *html.Node) model.DOMNode {
	tag := strings.ToLower(n.Data)
	node := model.DOMNode{Tag: tag}

	if hasAttr(n, "href") {
		node.Href = 1
	}
	if hasAttr(n, "src") {
		node.Src = 1
	}
	if tag == "input" {
		node.IsInput = 1
	}
	switch strings.ToLower(strings.TrimSpace(getAttr(n, "type"))) {
	case "password", "pwd":
		node.IsPassword = 1
	}
	node.TextLen = float64(ownTextLen(n))
	return node
}

// ownTextLen counts the trimmed text directly inside n, excluding text of
// descendant elements.
func ownTextLen(n *html.Node) int {
	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			total += len(strings.TrimSpace(c.Data))
		}
	}
	return total
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key && strings.TrimSpace(attr.Val) != "" {
			return true
		}
	}
	return false
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
