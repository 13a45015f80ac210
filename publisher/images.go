package publisher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/vincent-petithory/dataurl"

	"mp_publisher/htmldom"
	"mp_publisher/metadata"
	"mp_publisher/vault"
	"mp_publisher/wechat"
)

var imageSubtype = regexp.MustCompile(`^\w+$`)

// ProcessDocumentImages uploads every image of content that is not yet known to
// the remote side and points its src at the hosted copy. Images that cannot be
// resolved keep their original src.
func (p *Publisher) ProcessDocumentImages(ctx context.Context, content string, doc vault.Document, assetFolder string) (string, error) {
	if _, err := doc.Parent(); err != nil {
		return "", err
	}
	if assetFolder == "" {
		var err error
		if assetFolder, err = vault.AssetFolderPath(p.attachmentPattern, doc); err != nil {
			return "", err
		}
	}
	meta, err := p.metadata.GetOrCreate(ctx, doc, assetFolder)
	if err != nil {
		return "", fmt.Errorf("load metadata: %w", err)
	}

	root, err := htmldom.Parse(content)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	images := htmldom.QueryAll(root, "img")
	p.logger.Debug("processing document images", "document", doc.Path, "count", len(images))

	for _, img := range images {
		src := htmldom.Attr(img, "src")
		if src == "" {
			continue
		}
		hosted, err := p.ProcessImage(ctx, src, doc, meta, assetFolder)
		if err != nil {
			return "", err
		}
		if hosted == "" {
			continue
		}
		htmldom.SetAttr(img, "src", hosted)
	}
	return htmldom.Render(root)
}

// ProcessImage returns the hosted URL for src, uploading it first when needed.
// An empty URL with a nil error means the image was skipped. Only a failed
// metadata write is returned as an error.
func (p *Publisher) ProcessImage(ctx context.Context, src string, doc vault.Document, meta *metadata.Document, assetFolder string) (string, error) {
	switch {
	case strings.HasPrefix(src, "data:image/"):
		return p.processDataURI(ctx, src), nil
	case strings.HasPrefix(src, "http"):
		return p.processRemote(ctx, src, doc, meta, assetFolder)
	default:
		return p.processLocal(ctx, src, doc, meta, assetFolder)
	}
}

// processDataURI uploads generated images. They are never deduplicated.
func (p *Publisher) processDataURI(ctx context.Context, src string) string {
	du, err := dataurl.DecodeString(src)
	if err != nil || du.Encoding != dataurl.EncodingBase64 || !imageSubtype.MatchString(du.MediaType.Subtype) {
		p.logger.Warn("unsupported data uri image", "error", err)
		return ""
	}
	fileName := fmt.Sprintf("formula_%d_%s.%s", p.now().UnixMilli(), randomSuffix(), du.MediaType.Subtype)
	p.logger.Debug("uploading generated image", "file", fileName)

	res, err := p.UploadImageAndGetURL(ctx, du.Data, fileName)
	if err != nil || res == nil {
		return ""
	}
	return res.URL
}

func (p *Publisher) processRemote(ctx context.Context, src string, doc vault.Document, meta *metadata.Document, assetFolder string) (string, error) {
	if cached := metadata.IsImageUploaded(meta, src); cached != nil {
		return cached.URL, nil
	}
	p.logger.Debug("downloading remote image", "url", src)

	data, err := p.Fetch(ctx, src)
	if err != nil {
		p.logger.Error("download image failed", "url", src, "error", err)
		return "", nil
	}
	fileName := remoteFileName(src)
	if fileName == "" {
		fileName = fmt.Sprintf("web_image_%d.png", p.now().UnixMilli())
	}
	res, err := p.UploadImageAndGetURL(ctx, data, fileName)
	if err != nil || res == nil {
		return "", nil
	}
	return p.remember(ctx, doc, meta, assetFolder, src, metadata.ImageMetadata{
		FileName: src,
		URL:      res.URL,
		MediaID:  res.MediaID,
	})
}

func (p *Publisher) processLocal(ctx context.Context, src string, doc vault.Document, meta *metadata.Document, assetFolder string) (string, error) {
	fileName := localFileName(src)
	if fileName == "" {
		return "", nil
	}
	if cached := metadata.IsImageUploaded(meta, fileName); cached != nil {
		return cached.URL, nil
	}

	linked, err := p.vault.ResolveLink(ctx, fileName, doc.Path)
	if err != nil {
		p.logger.Error("image file not found", "file", fileName, "document", doc.Path, "error", err)
		return "", nil
	}
	data, err := p.vault.ReadBinary(ctx, linked)
	if err != nil {
		p.logger.Error("read image failed", "path", linked, "error", err)
		return "", nil
	}
	res, err := p.UploadImageAndGetURL(ctx, data, fileName)
	if err != nil || res == nil {
		return "", nil
	}
	return p.remember(ctx, doc, meta, assetFolder, fileName, metadata.ImageMetadata{
		FileName: fileName,
		URL:      res.URL,
		MediaID:  res.MediaID,
	})
}

// remember records an upload and writes the sidecar before returning.
func (p *Publisher) remember(ctx context.Context, doc vault.Document, meta *metadata.Document, assetFolder, key string, img metadata.ImageMetadata) (string, error) {
	img.UploadTime = p.now().UnixMilli()
	metadata.AddImageMetadata(meta, key, img)
	if err := p.metadata.Update(ctx, doc, meta, assetFolder); err != nil {
		return "", fmt.Errorf("record upload of %s: %w", key, err)
	}
	return img.URL, nil
}

// UploadImageAndGetURL normalizes data for the material API and uploads it.
// A nil result with a nil error is a business failure already reported to the user.
func (p *Publisher) UploadImageAndGetURL(ctx context.Context, data []byte, fileName string) (*wechat.UploadResult, error) {
	normalized, name, err := p.normalizer.Normalize(data, fileName)
	if err != nil {
		p.logger.Error("prepare image failed", "file", fileName, "error", err)
		p.notifier.Notify(fmt.Sprintf("图片 %s 无法上传: %v", fileName, err))
		return nil, err
	}
	return p.remote.UploadImage(ctx, normalized, name)
}

// Fetch downloads a remote image, refusing bodies above the configured size.
// It also serves as the clipboard image fetcher.
func (p *Publisher) Fetch(ctx context.Context, src string) ([]byte, error) {
	data, err := FetchImage(ctx, p.http, src, p.maxImageSize)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("image downloaded", "url", src, "size", units.HumanSize(float64(len(data))))
	return data, nil
}

// FetchImage downloads src with client, refusing bodies over limit bytes.
// A limit of zero or less reads everything.
func FetchImage(ctx context.Context, client *http.Client, src string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds maximum allowed size (%s)", units.HumanSize(float64(limit)))
	}
	return data, nil
}

// remoteFileName is the last path segment of src without its query.
func remoteFileName(src string) string {
	name := src[strings.LastIndex(src, "/")+1:]
	name, _, _ = strings.Cut(name, "?")
	return name
}

// localFileName is the metadata key of a local image: its base name, without
// query, URL-decoded.
func localFileName(src string) string {
	name, _, _ := strings.Cut(src, "?")
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
}
