package styler

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"golang.org/x/net/html"

	"mp_publisher/htmlclean"
	"mp_publisher/htmldom"
	"mp_publisher/logging"
)

// highlightCode replaces the text of every pre code block with chroma token
// spans. Diagram blocks and blocks holding an svg are skipped.
func highlightCode(root *html.Node, logger logging.Logger) {
	formatter := chromahtml.New(chromahtml.WithClasses(true), chromahtml.PreventSurroundingPre(true))
	style := highlightStyle()

	for _, code := range htmldom.QueryAll(root, "pre code") {
		pre := htmldom.Closest(code, "pre")
		if pre == nil || htmlclean.IsDiagram(pre) {
			continue
		}
		source := htmldom.TextContent(code)
		lexer := lexerFor(code, source)

		iterator, err := lexer.Tokenise(nil, source)
		if err != nil {
			logger.Debug("代码高亮失败", "error", err)
			continue
		}
		var buf strings.Builder
		if err := formatter.Format(&buf, style, iterator); err != nil {
			logger.Debug("代码高亮失败", "error", err)
			continue
		}

		htmldom.RemoveChildren(code)
		if err := htmldom.ParseInto(code, buf.String()); err != nil {
			code.AppendChild(htmldom.NewText(source))
			continue
		}
		htmldom.AddClass(code, "hljs")
		htmldom.AddClass(code, "chroma")
	}
}

// lexerFor picks the lexer named by a language-* class, else guesses from the
// source, else plain text.
func lexerFor(code *html.Node, source string) chroma.Lexer {
	var lexer chroma.Lexer
	for _, class := range htmldom.Classes(code) {
		if lang, ok := strings.CutPrefix(class, "language-"); ok {
			lexer = lexers.Get(lang)
			break
		}
	}
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
