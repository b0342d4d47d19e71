package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutItemOverwritesByKey(t *testing.T) {
	ctx := context.Background()
	g := New("")
	require.NoError(t, g.CreateResource(ctx, "demo", ""))

	first, err := g.PutItem(ctx, "demo", "k.txt", strings.NewReader("one"), 3, "text/plain", map[string]string{"v": "1"})
	require.NoError(t, err)
	second, err := g.PutItem(ctx, "demo", "k.txt", strings.NewReader("second"), 6, "text/plain", map[string]string{"v": "2"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag)
	assert.Equal(t, int64(6), second.Size)

	page, err := g.ListItems(ctx, "demo", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "2", page.Items[0].Metadata["v"])

	rd, err := g.GetItem(ctx, "demo", "k.txt")
	require.NoError(t, err)
	defer rd.Body.Close()
	body, _ := io.ReadAll(rd.Body)
	assert.Equal(t, "second", string(body))
	assert.Equal(t, second.ETag, rd.Item.ETag)
}

func TestCreateResourceErrors(t *testing.T) {
	ctx := context.Background()
	g := New("eu-west-1")
	require.NoError(t, g.CreateResource(ctx, "demo", ""))
	assert.ErrorIs(t, g.CreateResource(ctx, "demo", ""), storage.ErrAlreadyExists)
	assert.ErrorIs(t, g.CreateResource(ctx, "ab", ""), storage.ErrInvalidName)

	res, err := g.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "eu-west-1", res[0].Region)
}

func TestDeleteResourceChecks(t *testing.T) {
	ctx := context.Background()
	g := New("")
	require.NoError(t, g.CreateResource(ctx, "full", ""))
	_, err := g.PutItem(ctx, "full", "a", strings.NewReader("x"), 1, "", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, g.DeleteResource(ctx, "full"), storage.ErrNotEmpty)

	require.NoError(t, g.CreateResource(ctx, "pinned", ""))
	g.AttachAccessPoint("ap1", "pinned", "123")
	assert.ErrorIs(t, g.DeleteResource(ctx, "pinned"), storage.ErrHasDependents)

	assert.ErrorIs(t, g.DeleteResource(ctx, "missing"), storage.ErrNotFound)
}

func TestItemNotFound(t *testing.T) {
	ctx := context.Background()
	g := New("")
	require.NoError(t, g.CreateResource(ctx, "demo", ""))
	_, err := g.HeadItem(ctx, "demo", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = g.GetItem(ctx, "demo", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, g.DeleteItem(ctx, "demo", "nope"), storage.ErrNotFound)
}

func TestListItemsPagination(t *testing.T) {
	ctx := context.Background()
	g := New("")
	require.NoError(t, g.CreateResource(ctx, "demo", ""))
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		_, err := g.PutItem(ctx, "demo", k, strings.NewReader(k), int64(len(k)), "", nil)
		require.NoError(t, err)
	}
	page, err := g.ListItems(ctx, "demo", storage.ListOptions{Prefix: "a/", PageSize: 2})
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.Equal(t, 2, page.Count)

	next, err := g.ListItems(ctx, "demo", storage.ListOptions{Prefix: "a/", PageSize: 2, Token: page.NextToken})
	require.NoError(t, err)
	assert.False(t, next.Truncated)
	require.Len(t, next.Items, 1)
	assert.Equal(t, "a/3", next.Items[0].Key)
}

func TestDependents(t *testing.T) {
	ctx := context.Background()
	g := New("")
	require.NoError(t, g.CreateResource(ctx, "demo", ""))
	g.AttachAccessPoint("ap2", "demo", "123")
	g.AttachAccessPoint("ap1", "demo", "123")
	g.AttachAccessPoint("other", "elsewhere", "123")

	deps := g.ListDependents(ctx, "demo", "123")
	require.Len(t, deps, 2)
	assert.Equal(t, "ap1", deps[0].Name)

	g.FailOn("ListDependents", errors.New("throttled"))
	assert.Empty(t, g.ListDependents(ctx, "demo", "123"))
	g.FailOn("ListDependents", nil)

	require.NoError(t, g.DeleteDependent(ctx, "ap1", "123"))
	assert.Equal(t, []string{"ap2"}, g.AccessPoints("demo"))
	assert.ErrorIs(t, g.DeleteDependent(ctx, "ap1", "123"), storage.ErrUnavailable)
}

func TestPresign(t *testing.T) {
	ctx := context.Background()
	g := New("")
	u, err := g.Presign(ctx, "demo", "a/b.txt", storage.PresignWrite)
	require.NoError(t, err)
	assert.Contains(t, u, "method=PUT")
	assert.Contains(t, u, "expires=3600")

	_, err = g.Presign(ctx, "demo", "a/b.txt", storage.PresignMode("delete"))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestListResourcesDegradesFailedEnrichment(t *testing.T) {
	ctx := context.Background()
	g := New("us-east-1")
	for _, name := range []string{"alpha", "broken", "remote"} {
		require.NoError(t, g.CreateResource(ctx, name, "eu-west-1"))
		_, err := g.PutItem(ctx, name, "k", strings.NewReader("x"), 1, "", nil)
		require.NoError(t, err)
	}
	g.FailOn("Enrich:broken", errors.New("access denied"))
	g.FailOn("Presence:remote", errors.New("permanent redirect"))

	res, err := g.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.Equal(t, "alpha", res[0].Name)
	assert.Equal(t, "eu-west-1", res[0].Region)
	assert.EqualValues(t, 1, res[0].ItemCount)

	assert.Equal(t, storage.UnknownRegion, res[1].Region)
	assert.Zero(t, res[1].ItemCount)

	assert.Equal(t, "eu-west-1", res[2].Region, "resolved region survives a failed presence check")
	assert.Zero(t, res[2].ItemCount)
}
