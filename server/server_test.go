package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mp_publisher/htmlclean"
	"mp_publisher/logging"
	"mp_publisher/metadata"
	"mp_publisher/publisher"
	"mp_publisher/render"
	"mp_publisher/service"
	"mp_publisher/styler"
	"mp_publisher/vault"
	"mp_publisher/wechat"
)

type fakeRemote struct {
	covers []string
	pages  []int
}

func (f *fakeRemote) UploadImage(_ context.Context, _ []byte, fileName string) (*wechat.UploadResult, error) {
	return &wechat.UploadResult{MediaID: "img-" + fileName, URL: "https://mmbiz.qpic.cn/" + fileName}, nil
}

func (f *fakeRemote) UploadCoverImage(_ context.Context, _ []byte, fileName string) (string, error) {
	f.covers = append(f.covers, fileName)
	return "cover-media", nil
}

func (f *fakeRemote) GetMaterials(_ context.Context, page, pageSize int) (wechat.MaterialPage, error) {
	f.pages = append(f.pages, page, pageSize)
	return wechat.MaterialPage{Items: []wechat.Material{{MediaID: "m1", Name: "a.png"}}, TotalCount: 1}, nil
}

func (f *fakeRemote) AddDraft(context.Context, wechat.Article) (*wechat.Response, *wechat.DraftResult, error) {
	return &wechat.Response{}, &wechat.DraftResult{MediaID: "draft-1"}, nil
}

func (f *fakeRemote) UpdateDraft(_ context.Context, mediaID string, _ int, _ wechat.Article) (*wechat.Response, *wechat.DraftResult, error) {
	return &wechat.Response{}, &wechat.DraftResult{MediaID: mediaID}, nil
}

func (f *fakeRemote) HandleError(resp *wechat.Response) string {
	return wechat.ErrorMessage(resp.ErrCode, resp.ErrMsg)
}

func newTestServer(t *testing.T, withPublisher bool) (http.Handler, *fakeRemote) {
	t.Helper()
	v := vault.NewMemory()
	v.Put("notes/post.md", []byte("---\ntitle: Hello\n---\n# Hello\n\nworld\n"))

	st, err := styler.New(styler.Options{Theme: styler.DefaultTheme})
	if err != nil {
		t.Fatal(err)
	}
	opts := service.Options{
		Vault:     v,
		Converter: render.NewConverter(render.New(render.Options{}), render.ConverterOptions{Styler: st}),
	}
	remote := &fakeRemote{}
	if withPublisher {
		pub, err := publisher.New(publisher.Options{
			Remote:   remote,
			Metadata: metadata.NewStore(v, nil, nil),
			Vault:    v,
		})
		if err != nil {
			t.Fatal(err)
		}
		opts.Publisher = pub
	}
	svc, err := service.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(svc, Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	return srv.Routes(), remote
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPreview(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodPost, "/api/preview", `{"path":"notes/post.md"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var got service.Preview
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Title != "Hello" || !strings.Contains(got.HTML, "mp-content-section") {
		t.Errorf("preview = %+v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestPreview_Errors(t *testing.T) {
	h, _ := newTestServer(t, false)
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"no path", http.MethodPost, `{}`, http.StatusBadRequest},
		{"missing", http.MethodPost, `{"path":"nope.md"}`, http.StatusNotFound},
		{"wrong method", http.MethodGet, ``, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, "/api/preview", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestCopy(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodPost, "/api/copy", `{"path":"notes/post.md"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var clip htmlclean.Clipboard
	if err := json.NewDecoder(rec.Body).Decode(&clip); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(clip.HTML, "class=") || !strings.Contains(clip.Text, "world") {
		t.Errorf("clipboard = %+v", clip)
	}
}

func TestPublish(t *testing.T) {
	h, _ := newTestServer(t, true)
	rec := do(t, h, http.MethodPost, "/api/publish", `{"path":"notes/post.md","title":"Custom"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var res service.PublishResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Published || res.Title != "Custom" {
		t.Errorf("result = %+v", res)
	}
}

func TestPublish_NoCredentials(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodPost, "/api/publish", `{"path":"notes/post.md"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body)
	}
}

func TestMaterials(t *testing.T) {
	h, remote := newTestServer(t, true)
	rec := do(t, h, http.MethodGet, "/api/materials?page=2&count=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(remote.pages) != 2 || remote.pages[0] != 2 || remote.pages[1] != 10 {
		t.Errorf("pages = %v", remote.pages)
	}
	var page wechat.MaterialPage
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil || page.TotalCount != 1 {
		t.Errorf("page = %+v, %v", page, err)
	}

	for _, q := range []string{"page=-1", "count=0", "count=21", "page=x"} {
		if rec := do(t, h, http.MethodGet, "/api/materials?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, rec.Code)
		}
	}
}

func TestCover(t *testing.T) {
	h, remote := newTestServer(t, true)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("media", "cover.png")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte("cover-bytes"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/cover", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"media_id":"cover-media"`) || len(remote.covers) != 1 {
		t.Errorf("body = %s, covers = %v", rec.Body, remote.covers)
	}

	if rec := do(t, h, http.MethodPost, "/api/cover", "{}"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing file: status = %d", rec.Code)
	}
}

func TestTrimSlash(t *testing.T) {
	h, _ := newTestServer(t, false)
	rec := do(t, h, http.MethodGet, "/api/materials/?page=1", "")
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/api/materials?page=1" {
		t.Errorf("status = %d, location = %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(context.DeadlineExceeded); got != http.StatusGatewayTimeout {
		t.Errorf("deadline = %d", got)
	}
	if got := statusFor(&wechat.APIError{Code: 45009}); got != http.StatusBadGateway {
		t.Errorf("api error = %d", got)
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	v := vault.NewMemory()
	svc, err := service.New(service.Options{
		Vault:     v,
		Converter: render.NewConverter(render.New(render.Options{}), render.ConverterOptions{}),
	})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(svc, Options{})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v, want nil after cancel", err)
	}
}
