// Package publisher pushes rendered documents to the WeChat draft box: inline
// images are uploaded once and recorded in the document sidecar, then the draft
// is created or updated in place.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"mp_publisher/htmlclean"
	"mp_publisher/imaging"
	"mp_publisher/logging"
	"mp_publisher/metadata"
	"mp_publisher/vault"
	"mp_publisher/wechat"
)

const (
	invalidMediaIDCode = 40007

	noticePublished = "发布成功"
)

// Remote is the subset of the WeChat client the publisher drives.
type Remote interface {
	UploadImage(ctx context.Context, data []byte, fileName string) (*wechat.UploadResult, error)
	UploadCoverImage(ctx context.Context, data []byte, fileName string) (string, error)
	GetMaterials(ctx context.Context, page, pageSize int) (wechat.MaterialPage, error)
	AddDraft(ctx context.Context, art wechat.Article) (*wechat.Response, *wechat.DraftResult, error)
	UpdateDraft(ctx context.Context, mediaID string, index int, art wechat.Article) (*wechat.Response, *wechat.DraftResult, error)
	HandleError(resp *wechat.Response) string
}

// Summarizer writes an article digest from its Markdown source.
type Summarizer interface {
	Summarize(ctx context.Context, title, markdown string) (string, error)
}

// Options configures a Publisher. Remote, Metadata and Vault are required.
type Options struct {
	Remote   Remote
	Metadata *metadata.Store
	Vault    vault.Vault

	// HTTPClient downloads remote images (default 60s timeout).
	HTTPClient *http.Client
	Normalizer *imaging.Normalizer
	Summarizer Summarizer

	AttachmentPattern string
	// MaxImageSize caps remote image downloads in bytes. Zero means no cap.
	MaxImageSize int64

	Logger   logging.Logger
	Notifier logging.Notifier
	Now      func() time.Time
}

// Publisher orchestrates image upload and draft submission for documents.
type Publisher struct {
	remote     Remote
	metadata   *metadata.Store
	vault      vault.Vault
	http       *http.Client
	normalizer *imaging.Normalizer
	summarizer Summarizer

	attachmentPattern string
	maxImageSize      int64

	logger   logging.Logger
	notifier logging.Notifier
	now      func() time.Time
}

// PublishParams carries optional article fields.
type PublishParams struct {
	Author string
	Digest string
	// Markdown is the document source, used to generate a digest when Digest is empty.
	Markdown string
}

// New creates a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Remote == nil || opts.Metadata == nil || opts.Vault == nil {
		return nil, errors.New("publisher requires a remote client, a metadata store and a vault")
	}
	p := &Publisher{
		remote:            opts.Remote,
		metadata:          opts.Metadata,
		vault:             opts.Vault,
		http:              opts.HTTPClient,
		normalizer:        opts.Normalizer,
		summarizer:        opts.Summarizer,
		attachmentPattern: opts.AttachmentPattern,
		maxImageSize:      opts.MaxImageSize,
		logger:            opts.Logger,
		notifier:          opts.Notifier,
		now:               opts.Now,
	}
	if p.http == nil {
		p.http = &http.Client{Timeout: 60 * time.Second}
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.normalizer == nil {
		p.normalizer = &imaging.Normalizer{MaxSize: opts.MaxImageSize, Logger: p.logger}
	}
	if p.notifier == nil {
		p.notifier = logging.NotifierFunc(func(string) {})
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Publish uploads the document images and saves content as draft article 0.
// It reports false when the remote side rejected the draft; that rejection has
// already been shown to the user.
func (p *Publisher) Publish(ctx context.Context, title, content, thumbMediaID string, doc vault.Document) (bool, error) {
	return p.PublishWith(ctx, title, content, thumbMediaID, doc, PublishParams{})
}

// PublishWith is Publish with optional author and digest.
func (p *Publisher) PublishWith(ctx context.Context, title, content, thumbMediaID string, doc vault.Document, params PublishParams) (bool, error) {
	ok, err := p.publish(ctx, title, content, thumbMediaID, doc, params)
	if err != nil {
		var apiErr *wechat.APIError
		if !errors.As(err, &apiErr) {
			p.logger.Error("publish failed", "document", doc.Path, "error", err)
			p.notifier.Notify("发布失败: " + err.Error())
		}
		return false, err
	}
	return ok, nil
}

func (p *Publisher) publish(ctx context.Context, title, content, thumbMediaID string, doc vault.Document, params PublishParams) (bool, error) {
	assetFolder, err := vault.AssetFolderPath(p.attachmentPattern, doc)
	if err != nil {
		return false, err
	}
	processed, err := p.ProcessDocumentImages(ctx, content, doc, assetFolder)
	if err != nil {
		return false, err
	}
	if processed, err = htmlclean.StripHostUI(processed); err != nil {
		return false, fmt.Errorf("strip host ui: %w", err)
	}

	meta, err := p.metadata.GetOrCreate(ctx, doc, assetFolder)
	if err != nil {
		return false, fmt.Errorf("load metadata: %w", err)
	}

	art := wechat.Article{
		Title:        title,
		Author:       params.Author,
		Digest:       p.digest(ctx, title, params),
		Content:      processed,
		ThumbMediaID: thumbMediaID,
	}
	if thumbMediaID != "" {
		art.ShowCoverPic = 1
	}

	var draftID string
	var items []metadata.DraftItem
	if meta.Draft != nil {
		draftID = meta.Draft.MediaID
		items = meta.Draft.Item
	}

	var (
		resp  *wechat.Response
		draft *wechat.DraftResult
	)
	if draftID != "" {
		resp, draft, err = p.remote.UpdateDraft(ctx, draftID, 0, art)
	} else {
		resp, draft, err = p.remote.AddDraft(ctx, art)
	}
	if err != nil {
		return false, err
	}

	if resp.ErrCode == invalidMediaIDCode && draftID != "" {
		p.logger.Warn("draft media_id is stale, creating a new draft", "media_id", draftID)
		draftID = ""
		meta.Draft.MediaID = ""
		if resp, draft, err = p.remote.AddDraft(ctx, art); err != nil {
			return false, err
		}
	}

	if !resp.OK() {
		p.remote.HandleError(resp)
		return false, resp.Err()
	}

	if draft != nil {
		if draft.MediaID != "" {
			draftID = draft.MediaID
		}
		if len(draft.Item) > 0 {
			items = make([]metadata.DraftItem, len(draft.Item))
			for i, it := range draft.Item {
				items[i] = metadata.DraftItem{Index: it.Index, AdCount: it.AdCount}
			}
		}
	}
	p.metadata.UpdateDraftMetadata(meta, metadata.DraftMetadata{
		MediaID: draftID,
		Item:    items,
		Title:   title,
		Content: processed,
	})
	if err := p.metadata.Update(ctx, doc, meta, assetFolder); err != nil {
		return false, fmt.Errorf("record draft: %w", err)
	}

	p.logger.Info("draft saved", "document", doc.Path, "media_id", draftID)
	p.notifier.Notify(noticePublished)
	return true, nil
}

func (p *Publisher) digest(ctx context.Context, title string, params PublishParams) string {
	if params.Digest != "" || p.summarizer == nil || params.Markdown == "" {
		return params.Digest
	}
	digest, err := p.summarizer.Summarize(ctx, title, params.Markdown)
	if err != nil {
		p.logger.Warn("digest generation failed", "error", err)
		return ""
	}
	return digest
}

// GetMaterials lists a page of the image library.
func (p *Publisher) GetMaterials(ctx context.Context, page, pageSize int) (wechat.MaterialPage, error) {
	return p.remote.GetMaterials(ctx, page, pageSize)
}

// UploadCoverImage normalizes and uploads a cover image, returning its media id.
func (p *Publisher) UploadCoverImage(ctx context.Context, data []byte, fileName string) (string, error) {
	normalized, name, err := p.normalizer.Normalize(data, fileName)
	if err != nil {
		return "", err
	}
	return p.remote.UploadCoverImage(ctx, normalized, name)
}
