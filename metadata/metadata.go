// Package metadata keeps the per-document sidecar that records uploaded images and
// the remote draft created for the document.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mp_publisher/logging"
	"mp_publisher/vault"
)

// FileName is the sidecar file name inside the asset folder.
const FileName = "metadata.json"

// ImageMetadata describes one uploaded image.
type ImageMetadata struct {
	FileName   string `json:"fileName"`
	URL        string `json:"url"`
	MediaID    string `json:"media_id"`
	UploadTime int64  `json:"uploadTime"`
}

// DraftItem mirrors the item list returned by the draft endpoints.
type DraftItem struct {
	Index   int `json:"index"`
	AdCount int `json:"ad_count"`
}

// DraftMetadata identifies the remote draft last published for a document.
type DraftMetadata struct {
	MediaID    string      `json:"media_id"`
	Item       []DraftItem `json:"item"`
	Title      string      `json:"title"`
	Content    string      `json:"content"`
	UpdateTime int64       `json:"updateTime"`
}

// Document is the sidecar record. Images are keyed by base file name for local
// images and by full URL for remote ones.
type Document struct {
	Images map[string]ImageMetadata `json:"images"`
	Draft  *DraftMetadata           `json:"draft,omitempty"`
}

// Store reads and writes sidecars through a vault.
type Store struct {
	vault  vault.Vault
	logger logging.Logger
	now    func() time.Time
}

// NewStore creates a Store. A nil clock uses time.Now.
func NewStore(v vault.Vault, logger logging.Logger, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{vault: v, logger: logger, now: now}
}

// Path returns the sidecar location for an asset folder.
func Path(assetFolder string) string {
	return assetFolder + "/" + FileName
}

// GetOrCreate returns the sidecar for doc. A corrupt file is renamed aside with a
// ".corrupt.<ms>" suffix and replaced by an empty record.
func (s *Store) GetOrCreate(ctx context.Context, doc vault.Document, assetFolder string) (*Document, error) {
	if _, err := doc.Parent(); err != nil {
		return nil, err
	}
	path := Path(assetFolder)

	exists, err := s.vault.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("stat metadata: %w", err)
	}
	if exists {
		raw, err := s.vault.ReadBinary(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		var meta Document
		err = json.Unmarshal(raw, &meta)
		if err == nil {
			if meta.Images == nil {
				meta.Images = map[string]ImageMetadata{}
			}
			return &meta, nil
		}
		s.logger.Warn("metadata file corrupted", "path", path, "error", err)
		backup := fmt.Sprintf("%s.corrupt.%d", path, s.now().UnixMilli())
		if err := s.vault.Rename(ctx, path, backup); err != nil {
			return nil, fmt.Errorf("quarantine metadata: %w", err)
		}
	}

	meta := &Document{Images: map[string]ImageMetadata{}}
	if err := s.vault.MkdirAll(ctx, assetFolder); err != nil {
		return nil, fmt.Errorf("create asset folder: %w", err)
	}
	if err := s.write(ctx, path, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Update overwrites the sidecar with meta. Last writer wins.
func (s *Store) Update(ctx context.Context, doc vault.Document, meta *Document, assetFolder string) error {
	if _, err := doc.Parent(); err != nil {
		return err
	}
	return s.write(ctx, Path(assetFolder), meta)
}

func (s *Store) write(ctx context.Context, path string, meta *Document) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.vault.Write(ctx, path, data); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// IsImageUploaded returns the cached record for key, or nil.
func IsImageUploaded(meta *Document, key string) *ImageMetadata {
	if meta == nil || meta.Images == nil {
		return nil
	}
	img, ok := meta.Images[key]
	if !ok {
		return nil
	}
	return &img
}

// AddImageMetadata records an upload in memory. Callers follow up with Update.
func AddImageMetadata(meta *Document, key string, data ImageMetadata) {
	if meta.Images == nil {
		meta.Images = map[string]ImageMetadata{}
	}
	meta.Images[key] = data
}

// UpdateDraftMetadata replaces the draft record and stamps it with the current time.
func (s *Store) UpdateDraftMetadata(meta *Document, draft DraftMetadata) {
	draft.UpdateTime = s.now().UnixMilli()
	meta.Draft = &draft
}
