// Package mathtex finds TeX formulas in Markdown source.
package mathtex

import (
	"regexp"
	"sort"
	"strings"
)

// Formula is one delimited math span of the source.
type Formula struct {
	Tex     string
	Display bool
	// Start and End are byte offsets of the span including its delimiters.
	Start int
	End   int
}

var (
	fencedCode = regexp.MustCompile("(?s)```.*?```")
	inlineCode = regexp.MustCompile("`[^`\n]*?`")
	blockMath  = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	envBegin   = regexp.MustCompile(`(?i)\\begin\{([a-z*]+)\}`)
)

// Mask blanks fenced and inline code so dollar signs inside code are never read
// as math delimiters. Offsets are preserved.
func Mask(markdown string) string {
	blank := func(m string) string { return strings.Repeat(" ", len(m)) }
	out := fencedCode.ReplaceAllStringFunc(markdown, blank)
	return inlineCode.ReplaceAllStringFunc(out, blank)
}

// Extract returns every formula of markdown ordered by position: block $$...$$,
// \begin{env}...\end{env} and inline $...$. Spans never overlap: a candidate
// that starts inside or crosses an earlier accepted span is dropped, so the
// outermost delimiter wins.
func Extract(markdown string) []Formula {
	src := Mask(markdown)
	var candidates []Formula

	for _, m := range blockMath.FindAllStringSubmatchIndex(src, -1) {
		candidates = append(candidates, Formula{
			Tex:     strings.TrimSpace(markdown[m[2]:m[3]]),
			Display: true,
			Start:   m[0],
			End:     m[1],
		})
	}

	for pos := 0; pos < len(src); {
		loc := envBegin.FindStringSubmatchIndex(src[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		name := src[pos+loc[2] : pos+loc[3]]
		endTag := `\end{` + name + `}`
		rel := indexFold(src[pos+loc[1]:], endTag)
		if rel < 0 {
			pos = pos + loc[1]
			continue
		}
		end := pos + loc[1] + rel + len(endTag)
		candidates = append(candidates, Formula{Tex: markdown[start:end], Display: true, Start: start, End: end})
		pos = end
	}

	candidates = append(candidates, inlineFormulas(src, markdown)...)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Start != candidates[j].Start {
			return candidates[i].Start < candidates[j].Start
		}
		return candidates[i].End > candidates[j].End
	})

	var out []Formula
	last := 0
	for _, f := range candidates {
		if f.Start < last {
			continue
		}
		out = append(out, f)
		last = f.End
	}
	return out
}

func indexFold(s, sub string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(sub))
}

// inlineFormulas matches a single "$", a body of escapes or characters other than
// "$", "\" and newline, and a closing "$" not followed by another "$".
func inlineFormulas(src, original string) []Formula {
	var out []Formula
	for i := 0; i < len(src); i++ {
		if src[i] != '$' || (i > 0 && src[i-1] == '$') {
			continue
		}
		j, n := i+1, 0
		end := -1
	scan:
		for j < len(src) {
			switch c := src[j]; {
			case c == '\\':
				if j+1 >= len(src) || src[j+1] == '\n' {
					break scan
				}
				j += 2
				n++
			case c == '\n':
				break scan
			case c == '$':
				if n > 0 && (j+1 >= len(src) || src[j+1] != '$') {
					end = j + 1
				}
				break scan
			default:
				j++
				n++
			}
		}
		if end < 0 {
			continue
		}
		if tex := strings.TrimSpace(original[i+1 : end-1]); tex != "" {
			out = append(out, Formula{Tex: tex, Start: i, End: end})
		}
		i = end - 1
	}
	return out
}
