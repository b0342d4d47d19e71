package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"testing"

	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type part struct {
	field, filename, contentType, value string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, p.value))
			continue
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.value)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, bucket string, parts ...part) (*http.Response, apiResponse) {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/api/v1/buckets/"+bucket+"/objects", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out apiResponse
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func TestContentTypeAllowed(t *testing.T) {
	patterns := []string{"image/*", "text/plain"}
	assert.True(t, contentTypeAllowed("image/png", patterns))
	assert.True(t, contentTypeAllowed("text/plain; charset=utf-8", patterns))
	assert.False(t, contentTypeAllowed("application/zip", patterns))
	assert.True(t, contentTypeAllowed("application/zip", nil))
}

func TestObjectLifecycle(t *testing.T) {
	env := setupTestServer(t, nil)
	require.NoError(t, env.gw.CreateResource(context.Background(), "docs", ""))

	resp, body := env.upload(t, "docs",
		part{field: "key", value: "notes/today.txt"},
		part{field: "meta-owner", value: "ops"},
		part{field: "file", filename: "ignored.txt", contentType: "text/plain", value: "hello"},
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	up := decode[map[string]any](t, body.Data)
	assert.Equal(t, "notes/today.txt", up["key"])
	assert.EqualValues(t, 5, up["size"])

	// upload overwrites by key
	resp, _ = env.upload(t, "docs",
		part{field: "key", value: "notes/today.txt"},
		part{field: "file", filename: "x.txt", contentType: "text/plain", value: "hello again"},
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/v1/buckets/docs/objects?prefix=notes/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[storage.Page](t, body.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(11), page.Items[0].Size)
	assert.Equal(t, 1, page.Count)

	dl, err := http.Get(env.ts.URL + "/api/v1/buckets/docs/objects/download?key=notes%2Ftoday.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(dl.Body)
	dl.Body.Close()
	assert.Equal(t, http.StatusOK, dl.StatusCode)
	assert.Equal(t, "hello again", string(data))
	assert.Equal(t, "text/plain", dl.Header.Get("Content-Type"))
	assert.Contains(t, dl.Header.Get("Content-Disposition"), "today.txt")

	head, err := http.Head(env.ts.URL + "/api/v1/buckets/docs/objects/meta?key=notes/today.txt")
	require.NoError(t, err)
	head.Body.Close()
	assert.Equal(t, http.StatusOK, head.StatusCode)
	assert.Equal(t, "11", head.Header.Get("Content-Length"))
	assert.NotEmpty(t, head.Header.Get("ETag"))

	resp, body = env.do(t, http.MethodGet, "/api/v1/buckets/docs/objects/meta?key=notes/today.txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", decode[storage.Item](t, body.Data).ContentType)

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/buckets/docs/objects?key=notes/today.txt", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodDelete, "/api/v1/buckets/docs/objects?key=notes/today.txt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, body.Error)

	head, err = http.Head(env.ts.URL + "/api/v1/buckets/docs/objects/meta?key=notes/today.txt")
	require.NoError(t, err)
	head.Body.Close()
	assert.Equal(t, http.StatusNotFound, head.StatusCode)
}

func TestListObjectsPaging(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.gw.CreateResource(ctx, "paged", ""))
	for _, k := range []string{"a", "b", "c"} {
		_, err := env.gw.PutItem(ctx, "paged", k, strings.NewReader(k), 1, "", nil)
		require.NoError(t, err)
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/buckets/paged/objects?pageSize=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[storage.Page](t, body.Data)
	assert.True(t, page.Truncated)
	require.NotEmpty(t, page.NextToken)

	resp, body = env.do(t, http.MethodGet, "/api/v1/buckets/paged/objects?pageSize=2&token="+page.NextToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[storage.Page](t, body.Data)
	assert.False(t, page.Truncated)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c", page.Items[0].Key)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/buckets/paged/objects?pageSize=lots", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/buckets/nope-bucket/objects", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadLimits(t *testing.T) {
	env := setupTestServer(t, func(c *config.Config) {
		c.MaxUploadBytes = 512
		c.AllowedContentTypes = []string{"text/*"}
	})
	require.NoError(t, env.gw.CreateResource(context.Background(), "limited", ""))

	resp, body := env.upload(t, "limited", part{field: "file", filename: "big.txt", contentType: "text/plain", value: strings.Repeat("x", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	if body.Error != nil {
		assert.Equal(t, kindTooLarge, body.Error.Kind)
	}

	resp, body = env.upload(t, "limited", part{field: "file", filename: "a.zip", contentType: "application/zip", value: "PK"})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, kindUnsupportedMedia, body.Error.Kind)

	resp, _ = env.upload(t, "limited", part{field: "key", value: "bad?key"}, part{field: "file", filename: "a.txt", contentType: "text/plain", value: "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.upload(t, "limited", part{field: "key", value: "only-key"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchDelete(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.gw.CreateResource(ctx, "batch", ""))
	_, err := env.gw.PutItem(ctx, "batch", "keep-going", strings.NewReader("1"), 1, "", nil)
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/v1/buckets/batch/objects/batch-delete", map[string]any{"keys": []string{"missing", "keep-going", "bad|key"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[[]deleteResult](t, body.Data)
	require.Len(t, results, 3)
	assert.False(t, results[0].Deleted)
	assert.Equal(t, storage.KindNotFound, results[0].Kind)
	assert.True(t, results[1].Deleted)
	assert.Equal(t, storage.KindInvalidName, results[2].Kind)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/buckets/batch/objects/batch-delete", map[string]any{"keys": []string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPresign(t *testing.T) {
	env := setupTestServer(t, nil)
	require.NoError(t, env.gw.CreateResource(context.Background(), "signed", ""))

	resp, body := env.do(t, http.MethodPost, "/api/v1/buckets/signed/presign", map[string]string{"key": "a.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]any](t, body.Data)
	assert.Equal(t, "GET", out["method"])
	assert.EqualValues(t, 3600, out["expiresIn"])
	assert.Contains(t, out["url"], "expires=3600")

	resp, body = env.do(t, http.MethodPost, "/api/v1/buckets/signed/presign", map[string]string{"key": "a.txt", "mode": "write"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PUT", decode[map[string]any](t, body.Data)["method"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/buckets/signed/presign", map[string]string{"key": "a.txt", "mode": "delete"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/buckets/signed/presign", map[string]string{"key": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindInvalidName), body.Error.Kind)
}
