package wechat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestUploadImage_Multipart(t *testing.T) {
	api := newFakeAPI()
	var gotName, gotType, gotQuery string
	var gotData []byte
	api.handlers[addMaterialPath] = func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data; boundary=----WebKitFormBoundary") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		file, hdr, err := r.FormFile("media")
		if err != nil {
			t.Errorf("FormFile() failed: %v", err)
			return
		}
		defer file.Close()
		gotName = hdr.Filename
		gotType = hdr.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(file)
		writeJSON(w, map[string]any{"media_id": "MEDIA1", "url": "http://mmbiz.qpic.cn/cat"})
	}
	c, _, _, store := newTestClient(t, api)

	res, err := c.UploadImage(context.Background(), pngHeader, "cat.png")
	if err != nil || res == nil {
		t.Fatalf("UploadImage() = %v, %v", res, err)
	}
	if res.MediaID != "MEDIA1" || res.URL != "http://mmbiz.qpic.cn/cat" {
		t.Errorf("result = %+v", res)
	}
	if gotName != "cat.png" || gotType != "image/png" || string(gotData) != string(pngHeader) {
		t.Errorf("part name=%q type=%q len=%d", gotName, gotType, len(gotData))
	}
	if !strings.Contains(gotQuery, "type=image") || !strings.Contains(gotQuery, "access_token=token-1") {
		t.Errorf("query = %q", gotQuery)
	}

	index := map[string]UploadedImage{}
	if ok, _ := store.Get(uploadedImagesKey, &index); !ok || index["MEDIA1"].Name != "cat.png" {
		t.Errorf("uploaded images cache = %+v", index)
	}
}

func TestUploadImage_BusinessErrorYieldsNil(t *testing.T) {
	api := newFakeAPI()
	api.handlers[addMaterialPath] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"errcode": 40009, "errmsg": "invalid image size"})
	}
	c, _, notes, _ := newTestClient(t, api)

	res, err := c.UploadImage(context.Background(), pngHeader, "huge.png")
	if err != nil || res != nil {
		t.Fatalf("UploadImage() = %v, %v, want nil, nil", res, err)
	}
	if !notes.Contains("图片尺寸太大") {
		t.Errorf("notices = %v", notes.Messages())
	}
	if notes.Contains("上传图片失败") {
		t.Error("generic failure notice duplicated the specific one")
	}
}

func TestUploadCoverImage(t *testing.T) {
	api := newFakeAPI()
	api.handlers[addMaterialPath] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"errcode": 41005, "errmsg": "media data missing"})
	}
	c, _, _, _ := newTestClient(t, api)

	if _, err := c.UploadCoverImage(context.Background(), nil, "cover.jpg"); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("UploadCoverImage() error = %v, want ErrUploadFailed", err)
	}
}

func TestGetMaterials(t *testing.T) {
	api := newFakeAPI()
	var req batchGetRequest
	api.handlers[batchGetMaterial] = func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{
			"total_count": 42,
			"item_count":  1,
			"item":        []map[string]any{{"media_id": "m1", "name": "a.png", "url": "http://x/a", "update_time": 1}},
		})
	}
	c, _, _, _ := newTestClient(t, api)

	page, err := c.GetMaterials(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("GetMaterials() failed: %v", err)
	}
	if req.Type != "image" || req.Offset != 20 || req.Count != 10 {
		t.Errorf("request = %+v", req)
	}
	if page.TotalCount != 42 || len(page.Items) != 1 || page.Items[0].MediaID != "m1" {
		t.Errorf("page = %+v", page)
	}
	cached, ok := c.CachedMaterials(2)
	if !ok || cached.TotalCount != 42 {
		t.Errorf("CachedMaterials() = %+v, %v", cached, ok)
	}
}

func TestGetMaterials_BusinessErrorEmpty(t *testing.T) {
	api := newFakeAPI()
	api.handlers[batchGetMaterial] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"errcode": 48001, "errmsg": "api unauthorized"})
	}
	c, _, notes, _ := newTestClient(t, api)

	page, err := c.GetMaterials(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("GetMaterials() failed: %v", err)
	}
	if len(page.Items) != 0 || page.TotalCount != 0 {
		t.Errorf("page = %+v, want empty", page)
	}
	if !notes.Contains("接口功能未授权") {
		t.Errorf("notices = %v", notes.Messages())
	}
}

func TestDrafts(t *testing.T) {
	api := newFakeAPI()
	var addBody, updateBody string
	api.handlers[addDraftPath] = func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		addBody = string(b)
		writeJSON(w, map[string]any{"media_id": "DRAFT1", "item": []map[string]any{{"index": 0, "ad_count": 0}}})
	}
	api.handlers[updateDraftPath] = func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		updateBody = string(b)
		writeJSON(w, map[string]any{"errcode": 0, "errmsg": "ok"})
	}
	c, _, _, _ := newTestClient(t, api)
	ctx := context.Background()
	art := Article{Title: "标题", Content: "<p>a & b</p>", ThumbMediaID: "thumb", ShowCoverPic: 1}

	_, draft, err := c.AddDraft(ctx, art)
	if err != nil || draft == nil || draft.MediaID != "DRAFT1" || len(draft.Item) != 1 {
		t.Fatalf("AddDraft() = %+v, %v", draft, err)
	}
	if !strings.Contains(addBody, `"articles":[{`) || !strings.Contains(addBody, "<p>a & b</p>") {
		t.Errorf("add body = %s", addBody)
	}

	_, updated, err := c.UpdateDraft(ctx, "DRAFT1", 0, art)
	if err != nil || updated == nil || updated.MediaID != "DRAFT1" {
		t.Fatalf("UpdateDraft() = %+v, %v", updated, err)
	}
	if !strings.Contains(updateBody, `"media_id":"DRAFT1"`) || !strings.Contains(updateBody, `"index":0`) || !strings.Contains(updateBody, `"articles":{`) {
		t.Errorf("update body = %s", updateBody)
	}
}

func TestUpdateDraft_StaleMediaID(t *testing.T) {
	api := newFakeAPI()
	api.handlers[updateDraftPath] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"errcode": 40007, "errmsg": "invalid media_id"})
	}
	c, _, _, _ := newTestClient(t, api)

	resp, draft, err := c.UpdateDraft(context.Background(), "STALE", 0, Article{})
	if err != nil {
		t.Fatalf("UpdateDraft() failed: %v", err)
	}
	if draft != nil || resp.ErrCode != 40007 {
		t.Errorf("resp = %+v draft = %+v", resp, draft)
	}
	var apiErr *APIError
	if !errors.As(resp.Err(), &apiErr) || apiErr.Code != 40007 {
		t.Errorf("Err() = %v", resp.Err())
	}
}
