// Package service ties conversion and publishing together for a document in
// the vault. The CLI and the HTTP server both drive it.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"mp_publisher/htmlclean"
	"mp_publisher/logging"
	"mp_publisher/publisher"
	"mp_publisher/render"
	"mp_publisher/styler"
	"mp_publisher/vault"
	"mp_publisher/wechat"
)

var (
	ErrPathRequired         = errors.New("document path is required")
	ErrPublisherUnavailable = errors.New("publishing needs wechat.app_id and wechat.app_secret")
)

// ConverterFactory builds a converter for a theme other than the default one.
type ConverterFactory func(theme styler.Theme) (*render.Converter, error)

type Options struct {
	Vault     vault.Vault
	Converter *render.Converter
	// Themed serves documents whose frontmatter selects a theme. Optional.
	Themed ConverterFactory
	// Publisher is nil when no credentials are configured.
	Publisher *publisher.Publisher
	// HTTPClient fetches remote images when there is no publisher.
	HTTPClient *http.Client
	// MaxImageSize caps those downloads. Zero means no cap.
	MaxImageSize int64
	Logger       logging.Logger
}

type Service struct {
	vault     vault.Vault
	converter *render.Converter
	factory   ConverterFactory
	publisher *publisher.Publisher
	http      *http.Client
	maxImage  int64
	logger    logging.Logger

	mu     sync.Mutex
	themed map[styler.Theme]*render.Converter
}

func New(opts Options) (*Service, error) {
	if opts.Vault == nil || opts.Converter == nil {
		return nil, errors.New("service requires a vault and a converter")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Service{
		vault:     opts.Vault,
		converter: opts.Converter,
		factory:   opts.Themed,
		publisher: opts.Publisher,
		http:      client,
		maxImage:  opts.MaxImageSize,
		logger:    logger,
		themed:    map[styler.Theme]*render.Converter{},
	}, nil
}

// Document is a loaded source file.
type Document struct {
	Ref         vault.Document
	Markdown    string
	Body        string
	Frontmatter render.Frontmatter
}

// Title prefers the frontmatter title, then the file name.
func (d *Document) Title() string {
	if d.Frontmatter.Title != "" {
		return d.Frontmatter.Title
	}
	return d.Ref.Basename()
}

// Load reads and parses the document at p.
func (s *Service) Load(ctx context.Context, p string) (*Document, error) {
	p = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(p)), "/")
	if p == "" {
		return nil, ErrPathRequired
	}
	ref := vault.Document{Path: p}
	if _, err := ref.Parent(); err != nil {
		return nil, err
	}
	md, err := s.vault.Read(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	fm, body, err := render.ParseFrontmatter(md)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return &Document{Ref: ref, Markdown: md, Body: body, Frontmatter: fm}, nil
}

// Preview is the themed document as shown to the author.
type Preview struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Theme string `json:"theme,omitempty"`
	HTML  string `json:"html"`
}

func (s *Service) Preview(ctx context.Context, p string) (*Preview, error) {
	doc, err := s.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	conv, err := s.converterFor(doc)
	if err != nil {
		return nil, err
	}
	out, err := conv.Preview(ctx, doc.Markdown, doc.Ref.Path)
	if err != nil {
		return nil, err
	}
	return &Preview{Path: doc.Ref.Path, Title: doc.Title(), Theme: doc.Frontmatter.Theme, HTML: out}, nil
}

// Copy returns the clipboard payload for a document, images inlined as data URIs.
func (s *Service) Copy(ctx context.Context, p string) (htmlclean.Clipboard, error) {
	doc, err := s.Load(ctx, p)
	if err != nil {
		return htmlclean.Clipboard{}, err
	}
	conv, err := s.converterFor(doc)
	if err != nil {
		return htmlclean.Clipboard{}, err
	}
	out, err := conv.Preview(ctx, doc.Markdown, doc.Ref.Path)
	if err != nil {
		return htmlclean.Clipboard{}, err
	}
	fetch := htmlclean.FetcherFunc(func(ctx context.Context, src string) ([]byte, error) {
		return s.fetchImage(ctx, doc.Ref, src)
	})
	return htmlclean.ClipboardPayload(ctx, out, fetch, s.logger)
}

// PublishRequest selects a document and overrides its frontmatter.
type PublishRequest struct {
	Path   string `json:"path"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	Digest string `json:"digest,omitempty"`
	// CoverMediaID is an already uploaded cover. It wins over Cover.
	CoverMediaID string `json:"cover_media_id,omitempty"`
	// Cover is a vault path of a cover image to upload.
	Cover string `json:"cover,omitempty"`
}

type PublishResult struct {
	Published    bool   `json:"published"`
	Title        string `json:"title"`
	CoverMediaID string `json:"cover_media_id,omitempty"`
}

func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	if s.publisher == nil {
		return nil, ErrPublisherUnavailable
	}
	doc, err := s.Load(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	title := firstNonEmpty(req.Title, doc.Title())

	cover := req.CoverMediaID
	if cover == "" {
		if coverPath := firstNonEmpty(req.Cover, doc.Frontmatter.Cover); coverPath != "" {
			if cover, err = s.uploadCoverFrom(ctx, doc.Ref, coverPath); err != nil {
				return nil, err
			}
		}
	}

	conv, err := s.converterFor(doc)
	if err != nil {
		return nil, err
	}
	content, err := conv.ArticleHTML(ctx, doc.Markdown, doc.Ref.Path)
	if err != nil {
		return nil, err
	}

	ok, err := s.publisher.PublishWith(ctx, title, content, cover, doc.Ref, publisher.PublishParams{
		Author:   firstNonEmpty(req.Author, doc.Frontmatter.Author),
		Digest:   firstNonEmpty(req.Digest, doc.Frontmatter.Digest),
		Markdown: doc.Body,
	})
	if err != nil {
		return nil, err
	}
	return &PublishResult{Published: ok, Title: title, CoverMediaID: cover}, nil
}

// Materials lists a page of the image library.
func (s *Service) Materials(ctx context.Context, page, pageSize int) (wechat.MaterialPage, error) {
	if s.publisher == nil {
		return wechat.MaterialPage{}, ErrPublisherUnavailable
	}
	return s.publisher.GetMaterials(ctx, page, pageSize)
}

// UploadCover uploads cover bytes and returns the media id.
func (s *Service) UploadCover(ctx context.Context, data []byte, fileName string) (string, error) {
	if s.publisher == nil {
		return "", ErrPublisherUnavailable
	}
	return s.publisher.UploadCoverImage(ctx, data, fileName)
}

func (s *Service) uploadCoverFrom(ctx context.Context, doc vault.Document, link string) (string, error) {
	data, err := s.fetchImage(ctx, doc, link)
	if err != nil {
		return "", fmt.Errorf("load cover %s: %w", link, err)
	}
	name := path.Base(strings.SplitN(link, "?", 2)[0])
	return s.UploadCover(ctx, data, name)
}

// fetchImage loads a remote image over HTTP and anything else from the vault.
func (s *Service) fetchImage(ctx context.Context, doc vault.Document, src string) ([]byte, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		if s.publisher == nil {
			return publisher.FetchImage(ctx, s.http, src, s.maxImage)
		}
		return s.publisher.Fetch(ctx, src)
	}
	linked, err := s.vault.ResolveLink(ctx, src, doc.Path)
	if err != nil {
		return nil, err
	}
	return s.vault.ReadBinary(ctx, linked)
}

func (s *Service) converterFor(doc *Document) (*render.Converter, error) {
	if doc.Frontmatter.Theme == "" || s.factory == nil {
		return s.converter, nil
	}
	theme, err := styler.ParseTheme(doc.Frontmatter.Theme)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", doc.Ref.Path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.themed[theme]; ok {
		return conv, nil
	}
	conv, err := s.factory(theme)
	if err != nil {
		return nil, err
	}
	s.themed[theme] = conv
	return conv, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
