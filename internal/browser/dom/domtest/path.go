package domtest

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/autofill-cli/internal/browser/dom"
)

// refLocked builds an XPath that selects exactly n. A unique id anchors the
// path; otherwise it is positional from the root.
func (p *Page) refLocked(n *html.Node) dom.Ref {
	if n == nil || n == p.doc {
		return dom.Root
	}

	var path []string
	for cur := n; cur != nil && cur.Type != html.DocumentNode; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(cur.Data)

		if id := htmlquery.SelectAttr(cur, "id"); id != "" {
			anchor := "//*[@id=" + dom.Literal(id) + "]"
			if len(htmlquery.Find(p.doc, anchor)) == 1 {
				path = append(path, anchor)
				break
			}
		}

		// XPath indices are 1-based and count same-tag siblings only.
		index := 1
		for prev := cur.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return dom.Ref(xpath)
}
