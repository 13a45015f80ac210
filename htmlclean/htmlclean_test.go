package htmlclean

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mp_publisher/logging"
)

func TestFormatContent_FrontmatterAndCodeHeader(t *testing.T) {
	in := `<pre class="frontmatter"><code>title: x</code></pre>` +
		`<pre><code class="language-go">fmt.Println(1)</code><button class="copy-code-button">Copy</button></pre>`

	out, err := FormatContent(in)
	if err != nil {
		t.Fatalf("FormatContent() failed: %v", err)
	}
	if strings.Contains(out, "frontmatter") || strings.Contains(out, "title: x") {
		t.Errorf("frontmatter block survived: %s", out)
	}
	if !strings.HasPrefix(out, `<section class="mp-content-section">`) {
		t.Errorf("content not wrapped: %s", out)
	}
	want := `<pre><div class="mp-code-header"><span class="mp-code-dot"></span><span class="mp-code-dot"></span><span class="mp-code-dot"></span></div><code class="language-go">fmt.Println(1)</code></pre>`
	if !strings.Contains(out, want) {
		t.Errorf("code block = %s\nwant %s", out, want)
	}
	if strings.Contains(out, "copy-code-button") {
		t.Errorf("copy button survived: %s", out)
	}
}

func TestFormatContent_ListItemsAndEmbeds(t *testing.T) {
	out, err := FormatContent(`<ul><li>one <b>two</b></li></ul><p><span class="internal-embed" src="cat.png|300" alt="a cat"></span></p>`)
	if err != nil {
		t.Fatalf("FormatContent() failed: %v", err)
	}
	if !strings.Contains(out, `<li><section>one <b>two</b></section></li>`) {
		t.Errorf("list item not wrapped: %s", out)
	}
	if !strings.Contains(out, `<img src="cat.png" alt="a cat"/>`) {
		t.Errorf("embed not converted: %s", out)
	}
}

func TestStripHostUI_DiagramUntouched(t *testing.T) {
	svg := `<svg viewBox="0 0 10 10"><g class="tooltip"><text>A</text></g><foreignObject width="5"><div class="clickable-icon">B</div></foreignObject></svg>`
	in := `<pre class="mermaid"><span class="internal-link">x</span>` + svg + `</pre>`

	out, err := StripHostUI(in)
	if err != nil {
		t.Fatalf("StripHostUI() failed: %v", err)
	}
	if out != in {
		t.Errorf("diagram changed\n got %s\nwant %s", out, in)
	}
}

func TestStripHostUI_CodeBlocksAndHostControls(t *testing.T) {
	in := `<p>see <a class="internal-link" href="x">x</a></p>` +
		`<div class="popover"><svg></svg></div>` +
		`<pre><span class="line-numbers">1</span><code>x := 1</code><button>Copy</button></pre>`

	out, err := StripHostUI(in)
	if err != nil {
		t.Fatalf("StripHostUI() failed: %v", err)
	}
	if strings.Contains(out, "internal-link") {
		t.Errorf("host link survived: %s", out)
	}
	if !strings.Contains(out, `<div class="popover"><svg></svg></div>`) {
		t.Errorf("element holding an svg was removed: %s", out)
	}
	if !strings.Contains(out, `<pre><code>x := 1</code></pre>`) {
		t.Errorf("code block not reduced to its code child: %s", out)
	}
}

func TestStripHostUI_TaskCheckboxes(t *testing.T) {
	in := `<ul><li><input type="checkbox" class="task-list-item-checkbox" checked=""/>done</li>` +
		`<li><input type="checkbox" disabled=""/>todo</li></ul>`

	out, err := StripHostUI(in)
	if err != nil {
		t.Fatalf("StripHostUI() failed: %v", err)
	}
	if strings.Contains(out, "<input") {
		t.Errorf("checkbox survived: %s", out)
	}
	if !strings.Contains(out, "<li>[x] done</li>") || !strings.Contains(out, "<li>[ ] todo</li>") {
		t.Errorf("markers = %s", out)
	}
}

func TestCleanupHTML(t *testing.T) {
	in := `<p>outside</p><section class="mp-content-section" data-x="1"><p id="a" class="b" data-line="3" style="color:red">hi</p></section>`

	out, err := CleanupHTML(in)
	if err != nil {
		t.Fatalf("CleanupHTML() failed: %v", err)
	}
	if out != `<section><p style="color:red">hi</p></section>` {
		t.Errorf("CleanupHTML() = %s", out)
	}
}

func TestClipboardPayload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	fetch := FetcherFunc(func(ctx context.Context, src string) ([]byte, error) {
		if src == "missing.png" {
			return nil, errors.New("not found")
		}
		return png, nil
	})
	in := `<section class="mp-content-section"><h2 class="t">Title</h2><p><img src="cat.png" alt="cat"/><img src="missing.png"/></p></section>`

	clip, err := ClipboardPayload(context.Background(), in, fetch, logging.Discard())
	if err != nil {
		t.Fatalf("ClipboardPayload() failed: %v", err)
	}
	if !strings.Contains(clip.HTML, `src="data:image/png;base64,`) {
		t.Errorf("image not inlined: %s", clip.HTML)
	}
	if !strings.Contains(clip.HTML, `src="missing.png"`) {
		t.Errorf("failed image should keep its src: %s", clip.HTML)
	}
	if strings.Contains(clip.HTML, "class=") {
		t.Errorf("class attributes survived: %s", clip.HTML)
	}
	if !strings.Contains(clip.Text, "## Title") || strings.Contains(clip.Text, "base64") {
		t.Errorf("text flavour = %q", clip.Text)
	}
}

func TestClipboardPayload_NoSection(t *testing.T) {
	_, err := ClipboardPayload(context.Background(), "<p>x</p>", FetcherFunc(nil), logging.Discard())
	if !errors.Is(err, ErrNoContentSection) {
		t.Errorf("err = %v, want ErrNoContentSection", err)
	}
}
