package wechat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const uploadedImagesKey = "wechat_uploaded_images_cache"

// UploadResult identifies an uploaded permanent image.
type UploadResult struct {
	MediaID string `json:"media_id"`
	URL     string `json:"url"`
}

// UploadedImage is an entry of the uploaded-images index keyed by media id.
type UploadedImage struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	UploadTime int64  `json:"uploadTime"`
}

// UploadImage posts data as a permanent image material. A business error is shown
// to the user and yields (nil, nil); transport failures return the error.
func (c *Client) UploadImage(ctx context.Context, data []byte, fileName string) (*UploadResult, error) {
	boundary := "----WebKitFormBoundary" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	body := multipartBody(boundary, fileName, data)

	resp, err := c.RequestWithTokenRetry(ctx, func(ctx context.Context, token string) (*Response, error) {
		u := c.endpoint(addMaterialPath, token, url.Values{"type": {"image"}})
		return c.do(ctx, u, "multipart/form-data; boundary="+boundary, bytes.NewReader(body))
	})
	if err != nil {
		c.logger.Error("upload image failed", "file", fileName, "error", err)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			c.notifier.Notify("上传图片失败，请检查网络或配置")
		}
		return nil, err
	}
	if !resp.OK() {
		c.HandleError(resp)
		return nil, nil
	}

	var out UploadResult
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.MediaID == "" {
		return nil, fmt.Errorf("%w: response has no media_id", ErrUploadFailed)
	}
	c.rememberUpload(ctx, out, fileName)
	return &out, nil
}

// UploadCoverImage uploads a cover image and returns its media id.
func (c *Client) UploadCoverImage(ctx context.Context, data []byte, fileName string) (string, error) {
	res, err := c.UploadImage(ctx, data, fileName)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", ErrUploadFailed
	}
	return res.MediaID, nil
}

// UploadedImages returns the index of images uploaded by this client.
func (c *Client) UploadedImages() map[string]UploadedImage {
	out := map[string]UploadedImage{}
	if _, err := c.store.Get(uploadedImagesKey, &out); err != nil {
		c.logger.Warn("read uploaded images cache failed", "error", err)
	}
	return out
}

func (c *Client) rememberUpload(ctx context.Context, res UploadResult, fileName string) {
	index := c.UploadedImages()
	index[res.MediaID] = UploadedImage{URL: res.URL, Name: fileName, UploadTime: c.now().UnixMilli()}
	if err := c.store.Set(ctx, uploadedImagesKey, index); err != nil {
		c.logger.Warn("update uploaded images cache failed", "error", err)
	}
}

// multipartBody builds a single part form body for field "media".
func multipartBody(boundary, fileName string, data []byte) []byte {
	contentType := "image/jpeg"
	if mt := mimetype.Detect(data); strings.HasPrefix(mt.String(), "image/") {
		contentType = mt.String()
	}
	name := strings.NewReplacer(`"`, "_", "\r", "", "\n", "").Replace(fileName)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Disposition: form-data; name=\"media\"; filename=\"%s\"\r\n", name)
	fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", contentType)
	buf.Write(data)
	fmt.Fprintf(&buf, "\r\n--%s--", boundary)
	return buf.Bytes()
}
