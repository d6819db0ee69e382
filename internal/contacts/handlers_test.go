package contacts_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/HerbHall/phonebook/internal/contacts"
	"github.com/HerbHall/phonebook/internal/testutil"
	"github.com/HerbHall/phonebook/pkg/models"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type testEnv struct {
	plugin *contacts.Plugin
	fs     afero.Fs
	mux    *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	p := contacts.New(testutil.NewStore(t), fs, contacts.WithClock(testutil.NewClock()))

	cfg := viper.New()
	cfg.Set("phone_uniqueness", "exact")
	cfg.Set("avatar.dir", "public/avatars")
	cfg.Set("avatar.public_path", "/avatars")
	if err := p.Init(cfg, zap.NewNop()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mux := http.NewServeMux()
	for _, route := range p.Routes() {
		mux.HandleFunc(route.Method+" /api/v1/contacts"+route.Path, route.Handler)
	}
	prefix, assets := p.Assets()
	mux.Handle("GET "+prefix+"/", assets)
	return &testEnv{plugin: p, fs: fs, mux: mux}
}

type envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination"`
	Errors     []string           `json:"errors"`
}

func (e *testEnv) do(t *testing.T, method, target string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	return e.serve(t, req)
}

func (e *testEnv) serve(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	var env envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode body: %v", req.Method, req.URL, err)
	}
	return w.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v
}

func TestHandlers_AdaLovelaceLifecycle(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/v1/contacts", map[string]string{
		"name":  "Ada Lovelace",
		"phone": "0812-3000-0099",
	})
	if status != http.StatusCreated || !body.Success {
		t.Fatalf("create: status = %d body = %+v", status, body)
	}
	created := decodeData[models.Contact](t, body)
	if created.ID == "" {
		t.Fatal("create returned no id")
	}

	status, body = env.do(t, "GET", "/api/v1/contacts?keyword=Ada", nil)
	if status != http.StatusOK {
		t.Fatalf("list: status = %d", status)
	}
	list := decodeData[[]models.Contact](t, body)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list = %+v, want one result with id %s", list, created.ID)
	}
	if body.Pagination == nil || body.Pagination.Total != 1 || body.Pagination.Limit != models.DefaultLimit {
		t.Errorf("pagination = %+v", body.Pagination)
	}

	status, body = env.do(t, "PUT", "/api/v1/contacts/"+created.ID, map[string]string{"phone": "0812-3000-0100"})
	if status != http.StatusOK {
		t.Fatalf("update: status = %d body = %+v", status, body)
	}
	updated := decodeData[models.Contact](t, body)
	if updated.Name != "Ada Lovelace" || updated.Phone != "0812-3000-0100" {
		t.Errorf("updated = %+v", updated)
	}

	status, body = env.do(t, "DELETE", "/api/v1/contacts/"+created.ID, nil)
	if status != http.StatusOK || !body.Success {
		t.Fatalf("delete: status = %d body = %+v", status, body)
	}

	status, body = env.do(t, "GET", "/api/v1/contacts/"+created.ID, nil)
	if status != http.StatusNotFound || body.Success {
		t.Errorf("get after delete: status = %d body = %+v", status, body)
	}

	status, _ = env.do(t, "DELETE", "/api/v1/contacts/"+created.ID, nil)
	if status != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", status)
	}
}

func TestHandlers_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, "POST", "/api/v1/contacts", map[string]string{"name": "Clara", "phone": "+62 813-3000-0022"})
	clara := decodeData[models.Contact](t, body)

	tests := []struct {
		name       string
		method     string
		target     string
		body       any
		wantStatus int
		wantErrors int
	}{
		{"page zero", "GET", "/api/v1/contacts?page=0", nil, http.StatusBadRequest, 0},
		{"limit too big", "GET", "/api/v1/contacts?limit=101", nil, http.StatusBadRequest, 0},
		{"limit not a number", "GET", "/api/v1/contacts?limit=ten", nil, http.StatusBadRequest, 0},
		{"unknown sort", "GET", "/api/v1/contacts?sortBy=password", nil, http.StatusBadRequest, 0},
		{"missing fields", "POST", "/api/v1/contacts", map[string]string{}, http.StatusBadRequest, 2},
		{"duplicate phone", "POST", "/api/v1/contacts", map[string]string{"name": "Clone", "phone": "62 813 3000 0022"}, http.StatusBadRequest, 1},
		{"empty update", "PUT", "/api/v1/contacts/" + clara.ID, map[string]string{}, http.StatusBadRequest, 1},
		{"update unknown", "PUT", "/api/v1/contacts/6f1c1b8e-7a0e-4c38-9a49-4d1c1ad0a001", map[string]string{"name": "Zed"}, http.StatusNotFound, 0},
		{"malformed id", "GET", "/api/v1/contacts/not-an-id", nil, http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.do(t, tt.method, tt.target, tt.body)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %+v)", status, tt.wantStatus, body)
			}
			if body.Success {
				t.Error("success = true, want false")
			}
			if body.Message == "" {
				t.Error("message is empty")
			}
			if len(body.Errors) != tt.wantErrors {
				t.Errorf("errors = %v, want %d items", body.Errors, tt.wantErrors)
			}
		})
	}
}

func TestHandlers_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("POST", "/api/v1/contacts", strings.NewReader("{not json"))
	status, body := env.serve(t, req)
	if status != http.StatusBadRequest || body.Success {
		t.Errorf("status = %d body = %+v", status, body)
	}
}

func avatarRequest(t *testing.T, id, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if id != "" {
		if err := mw.WriteField("id", id); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="avatar"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest("POST", "/api/v1/contacts/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func png(size int) []byte {
	b := make([]byte, size)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}

func jpeg(size int) []byte {
	b := make([]byte, size)
	copy(b, "\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	return b
}

func createContact(t *testing.T, env *testEnv, name, phone string) models.Contact {
	t.Helper()
	status, body := env.do(t, "POST", "/api/v1/contacts", map[string]string{"name": name, "phone": phone})
	if status != http.StatusCreated {
		t.Fatalf("create %s: status = %d body = %+v", name, status, body)
	}
	return decodeData[models.Contact](t, body)
}

func TestHandlers_AvatarTooLargeKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	c := createContact(t, env, "Ada Lovelace", "0812-3000-0099")

	status, body := env.serve(t, avatarRequest(t, c.ID, "big.png", "image/png", png(3<<20)))
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 (body %+v)", status, body)
	}

	_, body = env.do(t, "GET", "/api/v1/contacts/"+c.ID, nil)
	if got := decodeData[models.Contact](t, body); got.Avatar != nil {
		t.Errorf("avatar = %q, want unchanged nil", *got.Avatar)
	}
}

func TestHandlers_AvatarReplace(t *testing.T) {
	env := newTestEnv(t)
	c := createContact(t, env, "Ada Lovelace", "0812-3000-0099")

	status, body := env.serve(t, avatarRequest(t, c.ID, "first.png", "image/png", png(1024)))
	if status != http.StatusOK {
		t.Fatalf("first upload: status = %d body = %+v", status, body)
	}
	first := decodeData[map[string]string](t, body)["avatar"]

	status, body = env.serve(t, avatarRequest(t, c.ID, "second.jpg", "image/jpeg", jpeg(500<<10)))
	if status != http.StatusOK {
		t.Fatalf("second upload: status = %d body = %+v", status, body)
	}
	second := decodeData[map[string]string](t, body)["avatar"]
	if second == first || !strings.HasPrefix(second, "/avatars/avatar_"+c.ID+"_") {
		t.Errorf("second = %q, first = %q", second, first)
	}

	if ok, _ := afero.Exists(env.fs, "public/avatars/"+strings.TrimPrefix(first, "/avatars/")); ok {
		t.Error("old avatar still on disk")
	}

	_, body = env.do(t, "GET", "/api/v1/contacts/"+c.ID, nil)
	if got := decodeData[models.Contact](t, body); got.AvatarRef() != second {
		t.Errorf("stored avatar = %q, want %q", got.AvatarRef(), second)
	}

	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest("GET", second, nil))
	if w.Code != http.StatusOK || w.Body.Len() != 500<<10 {
		t.Errorf("serve avatar: status = %d len = %d", w.Code, w.Body.Len())
	}
}

func TestHandlers_AvatarRejections(t *testing.T) {
	env := newTestEnv(t)
	c := createContact(t, env, "Ada Lovelace", "0812-3000-0099")

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{"missing file", avatarRequest(t, c.ID, "", "", nil), http.StatusBadRequest},
		{"missing id", avatarRequest(t, "", "a.png", "image/png", png(64)), http.StatusBadRequest},
		{"unknown contact", avatarRequest(t, "6f1c1b8e-7a0e-4c38-9a49-4d1c1ad0a001", "a.png", "image/png", png(64)), http.StatusNotFound},
		{"invalid id", avatarRequest(t, "not-a-uuid", "a.png", "image/png", png(64)), http.StatusBadRequest},
		{"gif", avatarRequest(t, c.ID, "a.gif", "image/gif", []byte("GIF89a......")), http.StatusUnsupportedMediaType},
		{"not multipart", httptest.NewRequest("POST", "/api/v1/contacts/avatar", strings.NewReader("{}")), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := env.serve(t, tt.req)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %+v)", status, tt.wantStatus, body)
			}
			if body.Success {
				t.Error("success = true")
			}
		})
	}
}

func TestPlugin_Health(t *testing.T) {
	env := newTestEnv(t)
	createContact(t, env, "Ada Lovelace", "0812-3000-0099")

	h := env.plugin.Health(context.Background())
	if h.Status != "ok" || h.Details["contacts"] != "1" || h.Details["schema_version"] != "2" {
		t.Errorf("Health = %+v", h)
	}
}

func TestPlugin_InitRejectsBadPolicy(t *testing.T) {
	p := contacts.New(testutil.NewStore(t), afero.NewMemMapFs())
	cfg := viper.New()
	cfg.Set("phone_uniqueness", "fuzzy")
	if err := p.Init(cfg, zap.NewNop()); err == nil {
		t.Error("Init with unknown policy succeeded")
	}
}

func TestPlugin_ValidateConfigLimit(t *testing.T) {
	p := contacts.New(testutil.NewStore(t), afero.NewMemMapFs())
	cfg := viper.New()
	cfg.Set("default_limit", 500)
	if err := p.Init(cfg, zap.NewNop()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.ValidateConfig(); err == nil {
		t.Error("ValidateConfig accepted default_limit 500")
	}
}
