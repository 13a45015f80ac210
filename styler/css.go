package styler

import (
	"bytes"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Declaration is one property: value pair of a rule or style attribute.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// Rule is a single selector with its declarations. Selector lists are split
// into one Rule per selector sharing the same Order.
type Rule struct {
	Selector     string
	Declarations []Declaration
	Order        int
}

// ParseStylesheet reads plain style rules from src. At-rules and their blocks
// are skipped, and so are rules without declarations.
func ParseStylesheet(src string) []Rule {
	p := css.NewParser(parse.NewInputString(src), false)
	var (
		rules     []Rule
		selectors []string
		decls     []Declaration
		order     int
		atDepth   int
	)
	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if err := p.Err(); err != io.EOF {
				if _, ok := err.(*parse.Error); ok {
					continue
				}
			}
			return rules
		case css.BeginAtRuleGrammar:
			atDepth++
		case css.EndAtRuleGrammar:
			atDepth--
		case css.QualifiedRuleGrammar, css.BeginRulesetGrammar:
			if atDepth > 0 {
				continue
			}
			if sel := strings.TrimSpace(joinTokens(p.Values())); sel != "" {
				selectors = append(selectors, sel)
			}
		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			if atDepth > 0 {
				continue
			}
			if d, ok := declaration(data, p.Values()); ok {
				decls = append(decls, d)
			}
		case css.EndRulesetGrammar:
			if atDepth > 0 {
				continue
			}
			if len(decls) > 0 && len(selectors) > 0 {
				for _, sel := range selectors {
					rules = append(rules, Rule{Selector: sel, Declarations: decls, Order: order})
				}
				order++
			}
			selectors, decls = nil, nil
		}
	}
}

// ParseDeclarations parses a declaration block or a style attribute.
func ParseDeclarations(block string) []Declaration {
	p := css.NewParser(parse.NewInputString(block), true)
	var out []Declaration
	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if err := p.Err(); err != io.EOF {
				if _, ok := err.(*parse.Error); ok {
					continue
				}
			}
			return out
		case css.DeclarationGrammar, css.CustomPropertyGrammar:
			if d, ok := declaration(data, p.Values()); ok {
				out = append(out, d)
			}
		}
	}
}

// declaration builds a Declaration from a property name and its value tokens,
// lifting a trailing !important into the flag.
func declaration(prop []byte, values []css.Token) (Declaration, bool) {
	values = trimWhitespace(values)
	important := false
	if n := len(values); n >= 2 && values[n-1].TokenType == css.IdentToken &&
		bytes.EqualFold(values[n-1].Data, []byte("important")) {
		rest := trimWhitespace(values[:n-1])
		if m := len(rest); m > 0 && rest[m-1].TokenType == css.DelimToken && bytes.Equal(rest[m-1].Data, []byte("!")) {
			values, important = rest[:m-1], true
		}
	}
	d := Declaration{
		Property:  strings.ToLower(strings.TrimSpace(string(prop))),
		Value:     strings.TrimSpace(joinTokens(values)),
		Important: important,
	}
	return d, d.Property != "" && d.Value != ""
}

func trimWhitespace(values []css.Token) []css.Token {
	for len(values) > 0 && skippable(values[len(values)-1]) {
		values = values[:len(values)-1]
	}
	for len(values) > 0 && skippable(values[0]) {
		values = values[1:]
	}
	return values
}

func skippable(t css.Token) bool {
	return t.TokenType == css.WhitespaceToken || t.TokenType == css.CommentToken
}

// joinTokens writes tokens back as source text with whitespace collapsed and
// comments dropped.
func joinTokens(values []css.Token) string {
	var b strings.Builder
	for _, t := range values {
		switch t.TokenType {
		case css.CommentToken:
		case css.WhitespaceToken:
			b.WriteByte(' ')
		default:
			b.Write(t.Data)
		}
	}
	return b.String()
}

// FormatDeclarations renders declarations as a style attribute value.
func FormatDeclarations(decls []Declaration) string {
	var b strings.Builder
	for i, d := range decls {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.Property)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Important {
			b.WriteString(" !important")
		}
		b.WriteByte(';')
	}
	return b.String()
}
