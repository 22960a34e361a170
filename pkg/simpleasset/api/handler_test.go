package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/ingest"
	"github.com/tendant/simple-asset/pkg/simpleasset/lifecycle"
	previewmemory "github.com/tendant/simple-asset/pkg/simpleasset/previews/memory"
	memorystorage "github.com/tendant/simple-asset/pkg/simpleasset/storage/memory"
)

const publicBase = "https://cdn.example.com/assets"

var (
	previewID = uuid.MustParse("7d0c1f7e-3b2a-4c5d-8e9f-0a1b2c3d4e5f")
	siteID    = uuid.MustParse("0b6f6a52-1c2d-4e3f-9a8b-7c6d5e4f3a2b")
	otherSite = uuid.MustParse("9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d")
)

type testEnv struct {
	router   *chi.Mux
	store    *memorystorage.Backend
	previews *previewmemory.Source
	now      time.Time
}

func setupHandlerTest(t *testing.T, middlewares ...func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	store := memorystorage.New(memorystorage.WithPublicBaseURL(publicBase))

	// httptest servers listen on loopback, which the default client refuses
	pipeline, err := ingest.New(store,
		ingest.WithURLGuard(func(string) bool { return true }),
		ingest.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
	)
	require.NoError(t, err)
	manager, err := lifecycle.New(store)
	require.NoError(t, err)

	env := &testEnv{
		store:    store,
		previews: previewmemory.New(),
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	handler := NewHandler(pipeline, manager,
		WithPreviewSource(env.previews),
		WithClock(func() time.Time { return env.now }),
		WithMaxBatchURLs(3),
	)

	env.router = chi.NewRouter()
	env.router.Use(RequestIDMiddleware)
	for _, mw := range middlewares {
		env.router.Use(mw)
	}
	env.router.Mount("/", handler.Routes())
	return env
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func (env *testEnv) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) upload(t *testing.T, ns string, data []byte) ingest.Result {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/uploads?"+ns, bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error.Code
}

func TestHandler_Upload_RawBody(t *testing.T) {
	env := setupHandlerTest(t)

	res := env.upload(t, "site_id="+siteID.String(), pngBytes(t, 8, 8))

	prefix := siteID.String() + "/" + siteID.String() + "/"
	assert.True(t, strings.HasPrefix(res.Path, prefix), res.Path)
	assert.True(t, strings.HasSuffix(res.Path, ".png"), res.Path)
	assert.Equal(t, publicBase+"/"+res.Path, res.URL)
	assert.True(t, env.store.Has(res.Path))
}

func TestHandler_Upload_Multipart(t *testing.T) {
	env := setupHandlerTest(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("preview_id", previewID.String()))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="photo.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, 4, 4))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.Path, "temp-preview/"+previewID.String()+"/"), res.Path)
	// detected type wins over the declared one
	assert.True(t, strings.HasSuffix(res.Path, ".png"), res.Path)
	contentType, _, ok := env.store.Meta(res.Path)
	require.True(t, ok)
	assert.Equal(t, "image/png", contentType)
}

func TestHandler_Upload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		body       []byte
		limit      int64
		wantStatus int
		wantCode   string
	}{
		{"missing namespace", "", []byte("x"), 0, http.StatusBadRequest, "invalid_input"},
		{"both namespaces", "site_id=" + siteID.String() + "&preview_id=" + previewID.String(), []byte("x"), 0, http.StatusBadRequest, "invalid_input"},
		{"malformed id", "site_id=not-a-uuid", []byte("x"), 0, http.StatusBadRequest, "invalid_input"},
		{"not an image", "site_id=" + siteID.String(), []byte("<?php echo 1; ?>"), 0, http.StatusForbidden, "security_violation"},
		{"empty body", "site_id=" + siteID.String(), nil, 0, http.StatusBadRequest, "invalid_input"},
		{"body over limit", "site_id=" + siteID.String(), bytes.Repeat([]byte{0x89}, 256), 64, http.StatusRequestEntityTooLarge, "too_large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env *testEnv
			if tt.limit > 0 {
				env = setupHandlerTest(t, RequestSizeLimitMiddleware(tt.limit))
			} else {
				env = setupHandlerTest(t)
			}

			req := httptest.NewRequest(http.MethodPost, "/uploads?"+tt.query, bytes.NewReader(tt.body))
			req.Header.Set("Content-Type", "image/png")
			w := httptest.NewRecorder()
			env.router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, decodeErrorCode(t, w))
			assert.Empty(t, env.store.Paths())
		})
	}
}

func TestHandler_Ingest(t *testing.T) {
	env := setupHandlerTest(t)
	img := pngBytes(t, 6, 6)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logo.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer remote.Close()

	w := env.do(t, http.MethodPost, "/ingest", IngestRequest{
		NamespaceRequest: NamespaceRequest{SiteID: siteID.String()},
		URL:              remote.URL + "/logo.png",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, env.store.Has(res.Path))

	// a URL already served by the store is not fetched again
	w = env.do(t, http.MethodPost, "/ingest", IngestRequest{
		NamespaceRequest: NamespaceRequest{SiteID: siteID.String()},
		URL:              res.URL,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.True(t, again.Deduplicated)
	assert.Equal(t, res.Path, again.Path)
	assert.Len(t, env.store.Paths(), 1)

	w = env.do(t, http.MethodPost, "/ingest", IngestRequest{
		NamespaceRequest: NamespaceRequest{SiteID: siteID.String()},
		URL:              "ftp://example.com/logo.png",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/ingest", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_input", decodeErrorCode(t, w))
}

func TestHandler_IngestBatch(t *testing.T) {
	env := setupHandlerTest(t)
	img := pngBytes(t, 3, 3)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer remote.Close()

	w := env.do(t, http.MethodPost, "/ingest/batch", BatchRequest{
		NamespaceRequest: NamespaceRequest{PreviewID: previewID.String()},
		URLs:             []string{remote.URL + "/a.png", remote.URL + "/missing.png"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	assert.NotNil(t, resp.Items[0].Result)
	assert.Empty(t, resp.Items[0].Error)
	assert.Nil(t, resp.Items[1].Result)
	assert.NotEmpty(t, resp.Items[1].Error)

	w = env.do(t, http.MethodPost, "/ingest/batch", BatchRequest{
		NamespaceRequest: NamespaceRequest{PreviewID: previewID.String()},
		URLs:             []string{"a", "b", "c", "d"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/ingest/batch", BatchRequest{
		NamespaceRequest: NamespaceRequest{PreviewID: previewID.String()},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Claim(t *testing.T) {
	env := setupHandlerTest(t)
	res := env.upload(t, "preview_id="+previewID.String(), pngBytes(t, 5, 5))

	doc := fmt.Sprintf(`{"preview_id":%q,"site_id":%q,"document":{"hero":{"image":%q},"count":3}}`,
		previewID, siteID, res.URL)
	w := env.do(t, http.MethodPost, "/claims", doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Document map[string]interface{} `json:"document"`
		URLs     map[string]string      `json:"urls"`
		Report   simpleasset.Report     `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	filename := res.Path[strings.LastIndex(res.Path, "/")+1:]
	newPath := siteID.String() + "/" + previewID.String() + "/" + filename
	newURL := publicBase + "/" + newPath

	assert.Equal(t, []string{res.Path}, resp.Report.Succeeded)
	assert.Empty(t, resp.Report.Failed)
	assert.Equal(t, map[string]string{res.URL: newURL}, resp.URLs)
	assert.Equal(t, newURL, resp.Document["hero"].(map[string]interface{})["image"])
	assert.Equal(t, float64(3), resp.Document["count"])

	assert.False(t, env.store.Has(res.Path))
	assert.True(t, env.store.Has(newPath))
}

func TestHandler_Claim_InvalidIDs(t *testing.T) {
	env := setupHandlerTest(t)

	w := env.do(t, http.MethodPost, "/claims", ClaimRequest{PreviewID: "nope", SiteID: siteID.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/claims", ClaimRequest{PreviewID: previewID.String(), SiteID: uuid.Nil.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Duplicate(t *testing.T) {
	env := setupHandlerTest(t)
	res := env.upload(t, "site_id="+siteID.String(), pngBytes(t, 5, 5))

	w := env.do(t, http.MethodPost, "/duplicates", DuplicateRequest{
		SourceSiteID: siteID.String(),
		TargetSiteID: otherSite.String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Document interface{}        `json:"document"`
		Report   simpleasset.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Document)
	assert.Equal(t, []string{res.Path}, resp.Report.Succeeded)

	filename := res.Path[strings.LastIndex(res.Path, "/")+1:]
	assert.True(t, env.store.Has(res.Path))
	assert.True(t, env.store.Has(otherSite.String()+"/"+siteID.String()+"/"+filename))

	w = env.do(t, http.MethodPost, "/duplicates", DuplicateRequest{
		SourceSiteID: siteID.String(),
		TargetSiteID: siteID.String(),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SweepOrphans(t *testing.T) {
	env := setupHandlerTest(t)
	kept := env.upload(t, "site_id="+siteID.String(), pngBytes(t, 2, 2))
	dropped := env.upload(t, "site_id="+siteID.String(), pngBytes(t, 3, 3))

	body := fmt.Sprintf(`{"site_id":%q,"old_document":[%q,%q],"new_document":[%q]}`,
		siteID, kept.URL, dropped.URL, kept.URL)
	w := env.do(t, http.MethodPost, "/orphans/sweep", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report simpleasset.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, []string{dropped.Path}, report.Succeeded)
	assert.True(t, env.store.Has(kept.Path))
	assert.False(t, env.store.Has(dropped.Path))

	w = env.do(t, http.MethodPost, "/orphans/sweep", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Empty(t, report.Succeeded)
}

func TestHandler_SweepExpired(t *testing.T) {
	env := setupHandlerTest(t)
	live := uuid.MustParse("11111111-2222-4333-8444-555555555555")
	expired := env.upload(t, "preview_id="+previewID.String(), pngBytes(t, 2, 2))
	alive := env.upload(t, "preview_id="+live.String(), pngBytes(t, 2, 2))

	env.previews.Put(previewID, env.now.Add(-time.Minute))
	env.previews.Put(live, env.now.Add(time.Hour))

	w := env.do(t, http.MethodPost, "/expired/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report simpleasset.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, []string{expired.Path}, report.Succeeded)
	assert.False(t, env.store.Has(expired.Path))
	assert.True(t, env.store.Has(alive.Path))

	w = env.do(t, http.MethodPost, "/expired/sweep", ExpiredSweepRequest{PreviewIDs: []string{live.String()}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, env.store.Has(alive.Path))

	w = env.do(t, http.MethodPost, "/expired/sweep", ExpiredSweepRequest{PreviewIDs: []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DeleteSite(t *testing.T) {
	env := setupHandlerTest(t)
	a := env.upload(t, "site_id="+siteID.String(), pngBytes(t, 2, 2))
	b := env.upload(t, "site_id="+otherSite.String(), pngBytes(t, 2, 2))

	w := env.do(t, http.MethodDelete, "/sites/"+siteID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report simpleasset.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, []string{a.Path}, report.Succeeded)
	assert.False(t, env.store.Has(a.Path))
	assert.True(t, env.store.Has(b.Path))

	w = env.do(t, http.MethodDelete, "/sites/..", nil)
	assert.NotEqual(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/sites/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
