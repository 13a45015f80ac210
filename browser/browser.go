// Package browser drives a headless Chrome to do the rendering work only a
// browser can: rasterizing diagrams, compiling TeX with MathJax and laying out
// Mermaid diagrams.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"mp_publisher/logging"
)

var (
	ErrBrowserConnect = errors.New("failed to connect to browser")
	ErrPageCreate     = errors.New("failed to create browser page")
	ErrPageLoad       = errors.New("failed to load page")
	ErrRender         = errors.New("browser rendering failed")
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMathJaxURL = "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-svg.js"
	DefaultMermaidURL = "https://cdn.jsdelivr.net/npm/mermaid@10/dist/mermaid.min.js"
)

type Options struct {
	// Bin is the browser executable. Empty uses ROD_BROWSER_BIN, then rod's
	// own download.
	Bin        string
	Timeout    time.Duration
	MathJaxURL string
	MermaidURL string
	Logger     logging.Logger
}

// Browser is launched on first use and shared by all renderers. The MathJax
// and Mermaid pages are kept open between calls.
type Browser struct {
	opts   Options
	logger logging.Logger

	mu      sync.Mutex
	browser *rod.Browser
	pages   map[string]*rod.Page
	temp    []string
}

func New(opts Options) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MathJaxURL == "" {
		opts.MathJaxURL = DefaultMathJaxURL
	}
	if opts.MermaidURL == "" {
		opts.MermaidURL = DefaultMermaidURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Browser{opts: opts, logger: logger, pages: map[string]*rod.Page{}}
}

// ensureBrowser lazily connects to the browser. Callers hold b.mu.
func (b *Browser) ensureBrowser() error {
	if b.browser != nil {
		return nil
	}

	bin := b.opts.Bin
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	l := launcher.New()
	if bin != "" {
		l = l.Bin(bin)
	}
	// containers and CI runners have no usable sandbox
	if os.Getenv("CI") == "true" || bin != "" {
		l = l.NoSandbox(true)
	}
	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	b.browser = rod.New().ControlURL(u)
	if err := b.browser.Connect(); err != nil {
		b.browser = nil
		return fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	b.logger.Debug("browser started", "control_url", u)
	return nil
}

// Close releases the browser and every temporary page file.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, path := range b.temp {
		_ = os.Remove(path)
	}
	b.temp = nil
	b.pages = map[string]*rod.Page{}
	if b.browser != nil {
		err := b.browser.Close()
		b.browser = nil
		return err
	}
	return nil
}

func (b *Browser) timeout(ctx context.Context) (time.Duration, error) {
	timeout := b.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, context.DeadlineExceeded
		}
	}
	return timeout, nil
}

// openPage writes document to a temporary file and loads it. Callers hold
// b.mu.
func (b *Browser) openPage(ctx context.Context, document string) (*rod.Page, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, nil, err
	}
	path, err := writeTempPage(document)
	if err != nil {
		return nil, nil, err
	}

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "file://" + path})
	if err != nil {
		_ = os.Remove(path)
		return nil, nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	cleanup := func() {
		_ = page.Close()
		_ = os.Remove(path)
	}

	timeout, err := b.timeout(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: %v", ErrPageLoad, err)
	}
	return page, cleanup, nil
}

// sharedPage returns the long-lived page for key, loading document and
// running ready on first use. Callers hold b.mu.
func (b *Browser) sharedPage(ctx context.Context, key, document, ready string) (*rod.Page, error) {
	if page, ok := b.pages[key]; ok {
		return page, nil
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, err
	}
	path, err := writeTempPage(document)
	if err != nil {
		return nil, err
	}
	b.temp = append(b.temp, path)

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "file://" + path})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	timeout, err := b.timeout(ctx)
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("%w: %v", ErrPageLoad, err)
	}
	if _, err := page.Timeout(timeout).Eval(ready); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("%w: %s not ready: %v", ErrPageLoad, key, err)
	}
	b.pages[key] = page
	return page, nil
}

func writeTempPage(document string) (string, error) {
	f, err := os.CreateTemp("", "mp-render-*.html")
	if err != nil {
		return "", fmt.Errorf("create page file: %w", err)
	}
	if _, err := f.WriteString(document); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write page file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write page file: %w", err)
	}
	return f.Name(), nil
}
