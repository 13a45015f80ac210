package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mp_publisher/logging"
	"mp_publisher/vault"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(v vault.Vault) (*Store, *stepClock) {
	clock := &stepClock{t: time.UnixMilli(1_700_000_000_000)}
	return NewStore(v, logging.Discard(), clock.now), clock
}

func TestGetOrCreate_CreatesEmptyRecord(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	s, _ := newTestStore(v)
	doc := vault.Document{Path: "posts/hello.md"}

	meta, err := s.GetOrCreate(ctx, doc, "posts/hello__assets")
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if meta.Images == nil || len(meta.Images) != 0 || meta.Draft != nil {
		t.Errorf("GetOrCreate() = %+v, want empty record", meta)
	}

	raw, err := v.Read(ctx, "posts/hello__assets/metadata.json")
	if err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
	if !strings.Contains(raw, "\n  \"images\": {}") {
		t.Errorf("sidecar not pretty printed: %q", raw)
	}
	if ok, _ := v.Exists(ctx, "posts/hello__assets"); !ok {
		t.Error("asset folder not created")
	}
}

func TestGetOrCreate_QuarantinesCorruptFile(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	v.Put("posts/hello__assets/metadata.json", []byte("{not json"))
	s, _ := newTestStore(v)

	meta, err := s.GetOrCreate(ctx, vault.Document{Path: "posts/hello.md"}, "posts/hello__assets")
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if len(meta.Images) != 0 {
		t.Errorf("Images = %v, want empty", meta.Images)
	}

	var backup string
	for _, f := range v.Files() {
		if strings.HasPrefix(f, "posts/hello__assets/metadata.json.corrupt.") {
			backup = f
		}
	}
	if backup == "" {
		t.Fatalf("corrupt file not preserved, files: %v", v.Files())
	}
	preserved, _ := v.Read(ctx, backup)
	if preserved != "{not json" {
		t.Errorf("backup content = %q", preserved)
	}
	fresh, _ := v.Read(ctx, "posts/hello__assets/metadata.json")
	if !strings.Contains(fresh, `"images"`) {
		t.Errorf("fresh sidecar = %q", fresh)
	}
}

func TestGetOrCreate_InvalidDocumentLocation(t *testing.T) {
	s, _ := newTestStore(vault.NewMemory())
	_, err := s.GetOrCreate(context.Background(), vault.Document{Path: ""}, "x")
	if !errors.Is(err, vault.ErrInvalidDocumentLocation) {
		t.Errorf("GetOrCreate() error = %v, want ErrInvalidDocumentLocation", err)
	}
}

func TestDraftMetadata_RoundTrip(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemory()
	s, _ := newTestStore(v)
	doc := vault.Document{Path: "posts/hello.md"}
	folder := "posts/hello__assets"

	meta, err := s.GetOrCreate(ctx, doc, folder)
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	s.UpdateDraftMetadata(meta, DraftMetadata{MediaID: "old", Title: "t"})
	before := meta.Draft.UpdateTime
	if err := s.Update(ctx, doc, meta, folder); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	s.UpdateDraftMetadata(meta, DraftMetadata{MediaID: "new-id", Item: []DraftItem{{Index: 0}}, Title: "t"})
	if err := s.Update(ctx, doc, meta, folder); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	reloaded, err := s.GetOrCreate(ctx, doc, folder)
	if err != nil {
		t.Fatalf("GetOrCreate() failed: %v", err)
	}
	if reloaded.Draft == nil || reloaded.Draft.MediaID != "new-id" {
		t.Fatalf("Draft = %+v, want media_id new-id", reloaded.Draft)
	}
	if reloaded.Draft.UpdateTime <= before {
		t.Errorf("UpdateTime = %d, want > %d", reloaded.Draft.UpdateTime, before)
	}
}

func TestImageLookup(t *testing.T) {
	meta := &Document{}
	if IsImageUploaded(meta, "cat.png") != nil {
		t.Error("IsImageUploaded() on empty record should be nil")
	}
	AddImageMetadata(meta, "cat.png", ImageMetadata{FileName: "cat.png", URL: "https://mmbiz/cat", MediaID: "m1"})

	got := IsImageUploaded(meta, "cat.png")
	if got == nil || got.URL != "https://mmbiz/cat" || got.MediaID != "m1" {
		t.Errorf("IsImageUploaded() = %+v", got)
	}
}
