package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"

	"github.com/bigkaa/flashdrop/internal/api/generated"
	"github.com/bigkaa/flashdrop/internal/domain/lifecycle"
	"github.com/bigkaa/flashdrop/internal/domain/model"
	"github.com/bigkaa/flashdrop/internal/service"
	"github.com/bigkaa/flashdrop/internal/storage/filestore"
)

// --- Mock-сервисы (function fields) ---

type mockUploader struct {
	uploadFn func(ctx context.Context, p service.UploadParams) (*service.UploadResult, error)
}

func (m *mockUploader) Upload(ctx context.Context, p service.UploadParams) (*service.UploadResult, error) {
	return m.uploadFn(ctx, p)
}

type mockResolver struct {
	resolveFn   func(ctx context.Context, slug string, now time.Time) (*service.Decision, error)
	tombstoneFn func(slug string) (lifecycle.Action, bool)
}

func (m *mockResolver) Resolve(ctx context.Context, slug string, now time.Time) (*service.Decision, error) {
	return m.resolveFn(ctx, slug, now)
}

func (m *mockResolver) Tombstone(slug string) (lifecycle.Action, bool) {
	if m.tombstoneFn == nil {
		return lifecycle.ActionNotFound, false
	}
	return m.tombstoneFn(slug)
}

type mockSweeper struct {
	sweepFn func(ctx context.Context, now time.Time, trigger string) (*service.SweepResult, error)
}

func (m *mockSweeper) Sweep(ctx context.Context, now time.Time, trigger string) (*service.SweepResult, error) {
	return m.sweepFn(ctx, now, trigger)
}

type stubPG struct{ status string }

func (s stubPG) CheckReady() (string, string) { return s.status, "" }

type testServer struct {
	router   chi.Router
	uploader *mockUploader
	resolver *mockResolver
	sweeper  *mockSweeper
	fs       afero.Fs
	handler  *APIHandler
}

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fs := afero.NewMemMapFs()
	objects, err := filestore.New(fs, "/data", "http://flashdrop.test")
	if err != nil {
		t.Fatal(err)
	}

	ts := &testServer{
		uploader: &mockUploader{},
		resolver: &mockResolver{},
		sweeper:  &mockSweeper{},
		fs:       fs,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts.handler = NewAPIHandler(Deps{
		Health:      NewHealthHandler(stubPG{status: statusOK}, objects),
		Uploader:    ts.uploader,
		Resolver:    ts.resolver,
		Sweeper:     ts.sweeper,
		Objects:     objects,
		MaxFileSize: 1024,
	}, logger)
	ts.handler.now = func() time.Time { return testNow }

	ts.router = chi.NewRouter()
	generated.HandlerFromMux(ts.handler, ts.router)
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело не JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

// --- GET /api/content/{slug} ---

func TestGetContent(t *testing.T) {
	expires := testNow.Add(time.Hour)
	servePayload := &service.Decision{
		Action: lifecycle.ActionServe,
		Payload: &service.ViewPayload{
			URL:       "http://flashdrop.test/files/demo.png",
			MimeType:  "image/png",
			MediaType: model.MediaImage,
			ViewOnce:  true,
			ExpiresAt: expires,
			Viewer:    "image",
		},
	}

	tests := []struct {
		name       string
		decision   *service.Decision
		err        error
		tombstone  lifecycle.Action
		wantStatus int
		wantCode   string
	}{
		{name: "выдача", decision: servePayload, wantStatus: http.StatusOK},
		{name: "истёк", decision: &service.Decision{Action: lifecycle.ActionDeleteExpired}, wantStatus: http.StatusGone, wantCode: "EXPIRED"},
		{name: "просмотрен", decision: &service.Decision{Action: lifecycle.ActionDeleteViewed}, wantStatus: http.StatusGone, wantCode: "ALREADY_VIEWED"},
		{name: "не найден", decision: &service.Decision{Action: lifecycle.ActionNotFound}, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{
			name:       "надгробие",
			decision:   &service.Decision{Action: lifecycle.ActionNotFound},
			tombstone:  lifecycle.ActionDeleteViewed,
			wantStatus: http.StatusGone,
			wantCode:   "ALREADY_VIEWED",
		},
		{
			name:       "надгробие истёкшего",
			decision:   &service.Decision{Action: lifecycle.ActionNotFound},
			tombstone:  lifecycle.ActionDeleteExpired,
			wantStatus: http.StatusGone,
			wantCode:   "EXPIRED",
		},
		{
			name:       "хранилище недоступно",
			err:        fmt.Errorf("x: %w", service.ErrStoreUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "STORE_UNAVAILABLE",
		},
		{name: "прочая ошибка", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.resolver.resolveFn = func(_ context.Context, slug string, now time.Time) (*service.Decision, error) {
				if slug != "demo" || !now.Equal(testNow) {
					t.Errorf("Resolve(%q, %v)", slug, now)
				}
				return tt.decision, tt.err
			}
			if tt.tombstone != lifecycle.ActionNotFound {
				ts.resolver.tombstoneFn = func(string) (lifecycle.Action, bool) { return tt.tombstone, true }
			}

			rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/content/demo", nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидается %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Error("ответ не должен кэшироваться")
			}
			body := decodeBody(t, rec)
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Errorf("code = %v, ожидается %s", body["code"], tt.wantCode)
			}
			if tt.wantStatus == http.StatusOK {
				if body["url"] != "http://flashdrop.test/files/demo.png" || body["viewer"] != "image" ||
					body["viewOnce"] != true || body["expiresAt"] != expires.Format(time.RFC3339) {
					t.Errorf("неожиданное тело: %v", body)
				}
			}
		})
	}
}

// --- POST /api/upload ---

func multipartRequest(t *testing.T, fields map[string]string, file []byte, fileType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="upload.bin"`)
		if fileType != "" {
			h.Set("Content-Type", fileType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(file)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload_Multipart(t *testing.T) {
	ts := newTestServer(t)
	ts.uploader.uploadFn = func(_ context.Context, p service.UploadParams) (*service.UploadResult, error) {
		data, _ := io.ReadAll(p.Reader)
		if string(data) != "payload" || p.Size != 7 {
			t.Errorf("данные файла: %q, size=%d", data, p.Size)
		}
		if p.Slug != "demo" || !p.ViewOnce || p.MimeType != "image/png" {
			t.Errorf("неожиданные параметры: %+v", p)
		}
		return &service.UploadResult{Content: &model.Content{Slug: p.Slug}}, nil
	}

	rec := ts.do(multipartRequest(t, map[string]string{"slug": "demo", "viewOnce": "true"}, []byte("payload"), "image/png"))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["slug"] != "demo" {
		t.Errorf("неожиданное тело: %v", body)
	}
}

// Поле mimeType формы приоритетнее заголовка части.
func TestUpload_MultipartMimeField(t *testing.T) {
	ts := newTestServer(t)
	ts.uploader.uploadFn = func(_ context.Context, p service.UploadParams) (*service.UploadResult, error) {
		if p.MimeType != "video/mp4" {
			t.Errorf("MimeType = %q", p.MimeType)
		}
		return &service.UploadResult{Content: &model.Content{Slug: "gen"}}, nil
	}
	rec := ts.do(multipartRequest(t, map[string]string{"mimeType": "video/mp4"}, []byte("x"), "application/octet-stream"))
	if rec.Code != http.StatusOK {
		t.Errorf("статус = %d", rec.Code)
	}
}

func TestUpload_MultipartNoFile(t *testing.T) {
	ts := newTestServer(t)
	ts.uploader.uploadFn = func(_ context.Context, p service.UploadParams) (*service.UploadResult, error) {
		if p.Reader != nil || p.URL != "" {
			t.Errorf("ожидались пустые параметры: %+v", p)
		}
		return nil, &service.ValidationError{Code: "NO_CONTENT", Message: "Контент не передан"}
	}
	rec := ts.do(multipartRequest(t, map[string]string{"slug": "demo"}, nil, ""))
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["code"] != "NO_CONTENT" {
		t.Errorf("статус = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpload_BadViewOnce(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(multipartRequest(t, map[string]string{"viewOnce": "maybe"}, []byte("x"), "image/png"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d", rec.Code)
	}
}

func TestUpload_BodyTooLarge(t *testing.T) {
	ts := newTestServer(t)
	ts.handler.maxFileSize = 16
	big := bytes.Repeat([]byte{1}, multipartOverhead+1024)
	rec := ts.do(multipartRequest(t, nil, big, "image/png"))
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["code"] != "FILE_TOO_LARGE" {
		t.Errorf("статус = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpload_JSON(t *testing.T) {
	ts := newTestServer(t)
	ts.uploader.uploadFn = func(_ context.Context, p service.UploadParams) (*service.UploadResult, error) {
		want := service.UploadParams{
			URL:       "https://cdn.test/a.webm",
			MimeType:  "video/webm",
			MediaType: "video",
			Size:      2048,
			Slug:      "clip",
			ViewOnce:  true,
		}
		if p != want {
			t.Errorf("параметры = %+v, ожидается %+v", p, want)
		}
		return &service.UploadResult{Content: &model.Content{Slug: p.Slug}}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(
		`{"slug":"clip","url":"https://cdn.test/a.webm","mimeType":"video/webm","mediaType":"video","size":2048,"viewOnce":true}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация", &service.ValidationError{Code: "INVALID_SLUG", Message: "bad"}, http.StatusBadRequest, "INVALID_SLUG"},
		{"конфликт", fmt.Errorf("slug: %w", service.ErrConflict), http.StatusConflict, "SLUG_IN_USE"},
		{"хранилище", errors.New("disk full"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.uploader.uploadFn = func(context.Context, service.UploadParams) (*service.UploadResult, error) {
				return nil, tt.err
			}
			req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{"url":"https://x.test/a.png","mimeType":"image/png","size":1}`))
			req.Header.Set("Content-Type", "application/json")
			rec := ts.do(req)
			if rec.Code != tt.wantStatus || decodeBody(t, rec)["code"] != tt.wantCode {
				t.Errorf("статус = %d, тело: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUpload_BadRequests(t *testing.T) {
	ts := newTestServer(t)
	for name, req := range map[string]*http.Request{
		"без Content-Type": httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("x")),
		"text/plain": func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("x"))
			r.Header.Set("Content-Type", "text/plain")
			return r
		}(),
		"битый JSON": func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{"))
			r.Header.Set("Content-Type", "application/json")
			return r
		}(),
	} {
		rec := ts.do(req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: статус = %d", name, rec.Code)
		}
	}
}

// --- /api/cron/cleanup ---

func TestCleanup(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		ts := newTestServer(t)
		ts.sweeper.sweepFn = func(_ context.Context, now time.Time, trigger string) (*service.SweepResult, error) {
			if trigger != service.TriggerHTTP || !now.Equal(testNow) {
				t.Errorf("Sweep(%v, %s)", now, trigger)
			}
			return &service.SweepResult{Cleaned: 3, Failed: 1}, nil
		}
		rec := ts.do(httptest.NewRequest(method, "/api/cron/cleanup", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: статус = %d", method, rec.Code)
		}
		body := decodeBody(t, rec)
		if body["success"] != true || body["cleaned"] != float64(3) {
			t.Errorf("%s: тело = %v", method, body)
		}
	}
}

func TestCleanup_Error(t *testing.T) {
	ts := newTestServer(t)
	ts.sweeper.sweepFn = func(context.Context, time.Time, string) (*service.SweepResult, error) {
		return &service.SweepResult{}, service.ErrStoreUnavailable
	}
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/cron/cleanup", nil))
	if rec.Code != http.StatusInternalServerError || decodeBody(t, rec)["error"] == nil {
		t.Errorf("статус = %d: %s", rec.Code, rec.Body.String())
	}
}

// --- GET /files/{name} ---

func TestGetFile(t *testing.T) {
	ts := newTestServer(t)
	_ = afero.WriteFile(ts.fs, "/data/demo.ogv", []byte("0123456789"), 0o644)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/files/demo.ogv", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "0123456789" {
		t.Fatalf("статус = %d, тело = %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/ogg" {
		t.Errorf("Content-Type = %q, ожидается video/ogg", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `inline; filename="demo.ogv"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// Range-запрос
	req := httptest.NewRequest(http.MethodGet, "/files/demo.ogv", nil)
	req.Header.Set("Range", "bytes=2-4")
	rec = ts.do(req)
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "234" {
		t.Errorf("Range: статус = %d, тело = %q", rec.Code, rec.Body.String())
	}
}

func TestGetFile_NotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/files/missing.png", "/files/..%2Fetc%2Fpasswd", "/files/a.b.c"} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: статус = %d", path, rec.Code)
		}
	}

	// S3-бэкенд: локальная раздача выключена
	ts.handler.objects = nil
	_ = afero.WriteFile(ts.fs, "/data/demo.png", []byte("x"), 0o644)
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/files/demo.png", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("без локального хранилища: статус = %d", rec.Code)
	}
}

// --- Health / OpenAPI ---

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/live", nil)); rec.Code != http.StatusOK {
		t.Errorf("live: статус = %d", rec.Code)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != statusOK {
		t.Errorf("ready: статус = %d: %s", rec.Code, rec.Body.String())
	}

	// Директория данных исчезла
	_ = ts.fs.RemoveAll("/data")
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready без хранилища: статус = %d", rec.Code)
	}

	ts.handler.health = NewHealthHandler(stubPG{status: statusFail}, nil)
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready без PostgreSQL: статус = %d", rec.Code)
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)); rec.Code != http.StatusOK {
		t.Errorf("metrics: статус = %d", rec.Code)
	}
}

func TestOpenAPISpec(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	paths, _ := body["paths"].(map[string]any)
	if _, ok := paths["/api/content/{slug}"]; !ok {
		t.Errorf("в документе нет /api/content/{slug}: %v", body["paths"])
	}
}
