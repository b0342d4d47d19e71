package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/deletion"
	"github.com/arencloud/bucketwarden/internal/models"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	cases := map[storage.Kind]int{
		storage.KindInvalidName:   http.StatusBadRequest,
		storage.KindNotFound:      http.StatusNotFound,
		storage.KindAlreadyExists: http.StatusConflict,
		storage.KindNotEmpty:      http.StatusConflict,
		storage.KindHasDependents: http.StatusConflict,
		storage.KindConfigMissing: http.StatusInternalServerError,
		storage.KindUnavailable:   http.StatusBadGateway,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestCreateBucket(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/v1/buckets", map[string]string{"name": "reports", "region": "eu-west-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "eu-west-1", decode[map[string]string](t, body.Data)["region"])
	assert.True(t, env.gw.HasBucket("reports"))

	resp, body = env.do(t, http.MethodPost, "/api/v1/buckets", map[string]string{"name": "reports"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindAlreadyExists), body.Error.Kind)

	resp, body = env.do(t, http.MethodPost, "/api/v1/buckets", map[string]string{"name": "ab"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindInvalidName), body.Error.Kind)
	assert.Contains(t, body.Error.Message, "too short")

	rows, err := env.store.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "reports", rows[0].Name)
}

func TestListBucketsSyncsCatalog(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.UpsertBucket(ctx, "stale", "us-east-1"))
	require.NoError(t, env.gw.CreateResource(ctx, "alpha", ""))
	require.NoError(t, env.gw.CreateResource(ctx, "beta", "eu-west-1"))

	resp, body := env.do(t, http.MethodGet, "/api/v1/buckets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	live := decode[[]storage.Resource](t, body.Data)
	require.Len(t, live, 2)
	assert.Equal(t, "eu-west-1", live[1].Region)

	resp, body = env.do(t, http.MethodGet, "/api/v1/buckets/catalog", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decode[[]models.Bucket](t, body.Data)
	names := []string{}
	for _, r := range rows {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestListBucketsProviderFailure(t *testing.T) {
	env := setupTestServer(t, nil)
	env.gw.FailOn("ListResources", storage.Errorf(storage.KindUnavailable, "list buckets", "connection refused"))

	resp, body := env.do(t, http.MethodGet, "/api/v1/buckets", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, "connection refused", body.Error.Message)
}

func TestDeleteBucketReportsThenForceDeletes(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.gw.CreateResource(ctx, "reports", ""))
	require.NoError(t, env.store.UpsertBucket(ctx, "reports", "us-east-1"))
	env.gw.AttachAccessPoint("ap1", "reports", testAccount)
	env.gw.AttachAccessPoint("ap2", "reports", testAccount)

	resp, body := env.do(t, http.MethodDelete, "/api/v1/buckets/reports", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindHasDependents), body.Error.Kind)
	assert.Equal(t, []string{"ap1", "ap2"}, body.Error.Dependents)
	assert.True(t, env.gw.HasBucket("reports"))
	assert.Equal(t, []string{"ap1", "ap2"}, env.gw.AccessPoints("reports"))

	resp, body = env.do(t, http.MethodDelete, "/api/v1/buckets/reports?force=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[deletion.Outcome](t, body.Data)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Removed)
	assert.Contains(t, out.Message, "2 access point(s)")
	assert.False(t, env.gw.HasBucket("reports"))

	rows, err := env.store.Catalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteBucketNotEmpty(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.gw.CreateResource(ctx, "busy", ""))
	_, err := env.gw.PutItem(ctx, "busy", "a.txt", strings.NewReader("x"), 1, "text/plain", nil)
	require.NoError(t, err)

	for _, path := range []string{"/api/v1/buckets/busy", "/api/v1/buckets/busy?force=true"} {
		resp, body := env.do(t, http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
		require.NotNil(t, body.Error)
		assert.Equal(t, string(storage.KindNotEmpty), body.Error.Kind)
	}
	assert.True(t, env.gw.HasBucket("busy"))
}

func TestForceDeleteWithoutAccount(t *testing.T) {
	env := setupTestServer(t, func(c *config.Config) { c.AccountID = "" })
	require.NoError(t, env.gw.CreateResource(context.Background(), "reports", ""))

	resp, body := env.do(t, http.MethodDelete, "/api/v1/buckets/reports?force=true", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindConfigMissing), body.Error.Kind)
	assert.True(t, env.gw.HasBucket("reports"))
}

func TestDeleteBucketDecodesPathAndValidates(t *testing.T) {
	env := setupTestServer(t, nil)
	resp, body := env.do(t, http.MethodDelete, "/api/v1/buckets/My%20Bucket", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindInvalidName), body.Error.Kind)
	assert.Empty(t, env.gw.Calls())
}

func TestBucketSizeAndAccessPoints(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.gw.CreateResource(ctx, "media", ""))
	for _, body := range []string{"abc", "defgh"} {
		_, err := env.gw.PutItem(ctx, "media", "k-"+body, strings.NewReader(body), -1, "", nil)
		require.NoError(t, err)
	}
	env.gw.AttachAccessPoint("media-ap", "media", testAccount)

	resp, body := env.do(t, http.MethodGet, "/api/v1/buckets/media/size", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 8, decode[map[string]any](t, body.Data)["bytes"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/buckets/missing-bucket/size", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, decode[map[string]any](t, body.Data)["bytes"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/buckets/media/access-points", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	aps := decode[[]storage.Attachment](t, body.Data)
	require.Len(t, aps, 1)
	assert.Equal(t, "media-ap", aps[0].Name)
}

func TestAccessPointsRequireAccount(t *testing.T) {
	env := setupTestServer(t, func(c *config.Config) { c.AccountID = "" })
	resp, body := env.do(t, http.MethodGet, "/api/v1/buckets/media/access-points", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, string(storage.KindConfigMissing), body.Error.Kind)
}

func TestListBucketsKeepsDegradedEntries(t *testing.T) {
	env := setupTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, env.gw.CreateResource(ctx, "alpha", "eu-west-1"))
	require.NoError(t, env.gw.CreateResource(ctx, "locked", "eu-west-1"))
	env.gw.FailOn("Enrich:locked", storage.Errorf(storage.KindUnavailable, "bucket location", "access denied"))

	resp, body := env.do(t, http.MethodGet, "/api/v1/buckets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	live := decode[[]storage.Resource](t, body.Data)
	require.Len(t, live, 2)
	assert.Equal(t, "eu-west-1", live[0].Region)
	assert.Equal(t, storage.UnknownRegion, live[1].Region)
	assert.Zero(t, live[1].ItemCount)
}
