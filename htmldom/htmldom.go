// Package htmldom holds the small DOM toolkit shared by the HTML transforms:
// fragment parsing and rendering, cascadia queries and node surgery.
package htmldom

import (
	"bytes"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse parses an HTML fragment in body context and returns a detached container
// element holding the parsed nodes. The container itself is never rendered.
func Parse(fragment string) (*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// Render serializes the children of root.
func Render(root *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// OuterHTML serializes n including its own tag.
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) string {
	s, _ := Render(n)
	return s
}

var selectors sync.Map

// Compile returns a cached compiled selector. It panics on invalid selectors,
// which are package constants at every call site.
func Compile(sel string) cascadia.Selector {
	if s, ok := selectors.Load(sel); ok {
		return s.(cascadia.Selector)
	}
	s := cascadia.MustCompile(sel)
	selectors.Store(sel, s)
	return s
}

// QueryAll returns the descendants of root matching sel in document order.
func QueryAll(root *html.Node, sel string) []*html.Node {
	matches := Compile(sel).MatchAll(root)
	if len(matches) > 0 && matches[0] == root {
		matches = matches[1:]
	}
	return matches
}

// Query returns the first descendant of root matching sel, or nil.
func Query(root *html.Node, sel string) *html.Node {
	for _, n := range QueryAll(root, sel) {
		return n
	}
	return nil
}

// Matches reports whether n matches sel.
func Matches(n *html.Node, sel string) bool {
	return n.Type == html.ElementNode && Compile(sel).Match(n)
}

// Closest returns the nearest ancestor of n (excluding n) matching sel.
func Closest(n *html.Node, sel string) *html.Node {
	m := Compile(sel)
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && m.Match(p) {
			return p
		}
	}
	return nil
}

// Elements returns every element below root in document order, root excluded.
func Elements(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// IsTag compares element names case-insensitively, which SVG camelCase names need.
func IsTag(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && strings.EqualFold(n.Data, tag)
}

// Descendants returns the elements below n whose tag equals tag (case-insensitive).
func Descendants(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	for _, e := range Elements(n) {
		if IsTag(e, tag) {
			out = append(out, e)
		}
	}
	return out
}

// HasDescendant reports whether any element below n has the tag.
func HasDescendant(n *html.Node, tag string) bool {
	return len(Descendants(n, tag)) > 0
}

func Attr(n *html.Node, key string) string {
	return dom.GetAttributeOr(n, key, "")
}

func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func RemoveAttr(n *html.Node, key string) {
	RemoveAttrs(n, func(a html.Attribute) bool { return a.Key == key })
}

// RemoveAttrs drops every attribute for which drop returns true.
func RemoveAttrs(n *html.Node, drop func(html.Attribute) bool) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !drop(a) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func Classes(n *html.Node) []string {
	return strings.Fields(Attr(n, "class"))
}

func HasClass(n *html.Node, class string) bool {
	for _, c := range Classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	SetAttr(n, "class", strings.TrimSpace(Attr(n, "class")+" "+class))
}

// NewElement creates a detached element with a class attribute when class is set.
func NewElement(tag, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return n
}

func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// Remove detaches n from its parent.
func Remove(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceWith puts repl where n was and detaches n.
func ReplaceWith(n, repl *html.Node) {
	if n.Parent == nil {
		return
	}
	n.Parent.InsertBefore(repl, n)
	n.Parent.RemoveChild(n)
}

// MoveChildren moves every child of from to the end of to.
func MoveChildren(from, to *html.Node) {
	for c := from.FirstChild; c != nil; c = from.FirstChild {
		from.RemoveChild(c)
		to.AppendChild(c)
	}
}

// RemoveChildren detaches every child of n.
func RemoveChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
}

// Contains reports whether n is ancestor or n itself.
func Contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// TextContent concatenates the text below n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// Outermost filters nodes to those not contained in another node of the slice.
func Outermost(nodes []*html.Node) []*html.Node {
	var out []*html.Node
	for _, a := range nodes {
		nested := false
		for _, b := range nodes {
			if a != b && Contains(b, a) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, a)
		}
	}
	return out
}

// ParseInto parses fragment with the first element of context semantics and
// appends the nodes as children of parent.
func ParseInto(parent *html.Node, fragment string) error {
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}
