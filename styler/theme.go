package styler

import (
	"embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
)

// Theme names one of the bundled visual themes.
type Theme string

const (
	ModernMinimal Theme = "modern-minimal"
	TechFuture    Theme = "tech-future"
	WarmOrange    Theme = "warm-orange"
	FreshGreen    Theme = "fresh-green"
	ElegantViolet Theme = "elegant-violet"
	ChineseStyle  Theme = "chinese-style"

	DefaultTheme = ModernMinimal
)

// Themes lists every theme with its display name, in menu order.
var Themes = []struct {
	Theme Theme
	Name  string
}{
	{ModernMinimal, "简约"},
	{TechFuture, "科技"},
	{WarmOrange, "温暖"},
	{FreshGreen, "清新"},
	{ElegantViolet, "优雅"},
	{ChineseStyle, "国风"},
}

//go:embed themes/*.css
var themeFS embed.FS

// ParseTheme validates a theme name. The empty string selects DefaultTheme.
func ParseTheme(name string) (Theme, error) {
	if name == "" {
		return DefaultTheme, nil
	}
	for _, t := range Themes {
		if string(t.Theme) == name {
			return t.Theme, nil
		}
	}
	return "", fmt.Errorf("unknown theme %q", name)
}

// Stylesheet returns the full stylesheet inlined for theme: the theme rules,
// the diagram and math baseline, then syntax highlighting.
func Stylesheet(theme Theme) (string, error) {
	if _, err := ParseTheme(string(theme)); err != nil {
		return "", err
	}
	themeCSS, err := themeFS.ReadFile("themes/" + string(theme) + ".css")
	if err != nil {
		return "", err
	}
	baseline, err := themeFS.ReadFile("themes/baseline.css")
	if err != nil {
		return "", err
	}
	highlight, err := highlightCSS()
	if err != nil {
		return "", err
	}
	return string(themeCSS) + "\n" + string(baseline) + "\n" + highlight, nil
}

// Token classes only. Line wrappers, line numbers and the pre wrapper are
// left to the theme.
var tokenRule = regexp.MustCompile(`^\.chroma \.([a-z0-9]+)$`)

var layoutClasses = map[string]bool{
	"line": true, "cl": true, "ln": true, "lnt": true,
	"lntd": true, "lntable": true, "hl": true,
}

func highlightStyle() *chroma.Style {
	style := styles.Get("onedark")
	if style == styles.Fallback {
		style = styles.Get("monokai")
	}
	return style
}

func highlightCSS() (string, error) {
	var buf strings.Builder
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if err := formatter.WriteCSS(&buf, highlightStyle()); err != nil {
		return "", err
	}
	var out strings.Builder
	for _, r := range ParseStylesheet(buf.String()) {
		m := tokenRule.FindStringSubmatch(r.Selector)
		if m == nil || layoutClasses[m[1]] {
			continue
		}
		out.WriteString(r.Selector + " { " + FormatDeclarations(r.Declarations) + " }\n")
	}
	return out.String(), nil
}
