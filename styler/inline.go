package styler

import (
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"mp_publisher/htmldom"
)

type compiledRule struct {
	sel         cascadia.Sel
	specificity cascadia.Specificity
	rule        Rule
}

// compileRules drops selectors cascadia cannot parse and rules aimed at
// pseudo-elements, neither of which can become an inline style.
func compileRules(rules []Rule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		sel, err := cascadia.Parse(r.Selector)
		if err != nil || sel.PseudoElement() != "" {
			continue
		}
		out = append(out, compiledRule{sel: sel, specificity: sel.Specificity(), rule: r})
	}
	return out
}

type matchedDecl struct {
	Declaration
	specificity cascadia.Specificity
	order       int
}

// cascadeLess orders declarations from weakest to strongest: importance,
// then specificity, then source order.
func cascadeLess(a, b matchedDecl) bool {
	if a.Important != b.Important {
		return !a.Important
	}
	if a.specificity != b.specificity {
		return a.specificity.Less(b.specificity)
	}
	return a.order < b.order
}

// InlineStyles writes every matching rule into the style attribute of the
// elements below root. Declarations already in a style attribute win over
// rules unless the rule is !important.
func InlineStyles(root *html.Node, rules []Rule) {
	compiled := compileRules(rules)
	for _, el := range htmldom.Elements(root) {
		var matched []matchedDecl
		for _, cr := range compiled {
			if !cr.sel.Match(el) {
				continue
			}
			for _, d := range cr.rule.Declarations {
				matched = append(matched, matchedDecl{Declaration: d, specificity: cr.specificity, order: cr.rule.Order})
			}
		}
		if len(matched) == 0 {
			continue
		}
		sort.SliceStable(matched, func(i, j int) bool { return cascadeLess(matched[i], matched[j]) })

		style := newStyleMap()
		for _, m := range matched {
			style.set(m.Declaration, true)
		}
		for _, d := range ParseDeclarations(htmldom.Attr(el, "style")) {
			style.set(d, false)
		}
		htmldom.SetAttr(el, "style", FormatDeclarations(style.declarations()))
	}
}

// InlineSVGStyles applies rules in source order, each overriding whatever the
// element already carried, including root itself. Rules with pseudo-classes
// are skipped.
func InlineSVGStyles(root *html.Node, rules []Rule) {
	compiled := compileRules(rules)
	targets := append([]*html.Node{root}, htmldom.Elements(root)...)
	for _, cr := range compiled {
		if strings.Contains(cr.rule.Selector, ":") {
			continue
		}
		for _, el := range targets {
			if !cr.sel.Match(el) {
				continue
			}
			style := newStyleMap()
			for _, d := range ParseDeclarations(htmldom.Attr(el, "style")) {
				style.set(d, true)
			}
			for _, d := range cr.rule.Declarations {
				style.set(d, true)
			}
			htmldom.SetAttr(el, "style", FormatDeclarations(style.declarations()))
		}
	}
}

// styleMap keeps declarations in first-seen order.
type styleMap struct {
	index map[string]int
	decls []Declaration
}

func newStyleMap() *styleMap {
	return &styleMap{index: map[string]int{}}
}

// set stores d. When override is false, an existing !important value is kept
// unless d is itself !important.
func (s *styleMap) set(d Declaration, override bool) {
	i, ok := s.index[d.Property]
	if !ok {
		s.index[d.Property] = len(s.decls)
		s.decls = append(s.decls, d)
		return
	}
	if !override && s.decls[i].Important && !d.Important {
		return
	}
	s.decls[i] = d
}

func (s *styleMap) declarations() []Declaration {
	return s.decls
}

// MergeStyle returns base with the declarations of over applied on top.
func MergeStyle(base, over string) string {
	style := newStyleMap()
	for _, d := range ParseDeclarations(base) {
		style.set(d, true)
	}
	for _, d := range ParseDeclarations(over) {
		style.set(d, true)
	}
	return FormatDeclarations(style.declarations())
}
