package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/arencloud/bucketwarden/internal/storage/memory"
	"github.com/aws/smithy-go"
	minio "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		ssl    bool
		host   string
		secure bool
	}{
		{"minio.local:9000", false, "minio.local:9000", false},
		{"http://minio.local:9000", true, "minio.local:9000", false},
		{"https://s3.amazonaws.com", false, "s3.amazonaws.com", true},
		{"", true, "", true},
	}
	for _, c := range cases {
		h, sec := normalizeEndpoint(c.in, c.ssl)
		assert.Equal(t, c.host, h, c.in)
		assert.Equal(t, c.secure, sec, c.in)
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "http://minio.local:9000", endpointURL("minio.local:9000", false))
	assert.Equal(t, "https://minio.local", endpointURL("minio.local", true))
	assert.Equal(t, "http://localhost:4566", endpointURL("http://localhost:4566", true))
	assert.Equal(t, "", endpointURL("", true))
}

func TestForcePathStyle(t *testing.T) {
	assert.True(t, forcePathStyle(Provider{Type: "minio"}))
	assert.True(t, forcePathStyle(Provider{Type: "generic"}))
	assert.True(t, forcePathStyle(Provider{Type: ""}))
	assert.False(t, forcePathStyle(Provider{Type: "AWS"}))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want storage.Kind
	}{
		{"aws no such key", &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}, storage.KindNotFound},
		{"aws head 404", &smithy.GenericAPIError{Code: "NotFound"}, storage.KindNotFound},
		{"aws taken", &smithy.GenericAPIError{Code: "BucketAlreadyExists"}, storage.KindAlreadyExists},
		{"aws owned", &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"}, storage.KindAlreadyExists},
		{"aws not empty", &smithy.GenericAPIError{Code: "BucketNotEmpty"}, storage.KindNotEmpty},
		{"aws access points", &smithy.GenericAPIError{Code: "InvalidRequest", Message: "Bucket cannot be deleted while Access Points are attached"}, storage.KindHasDependents},
		{"aws throttle", &smithy.GenericAPIError{Code: "SlowDown", Message: "Please reduce your request rate."}, storage.KindUnavailable},
		{"minio no bucket", minio.ErrorResponse{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}, storage.KindNotFound},
		{"minio owned", minio.ErrorResponse{Code: "BucketAlreadyOwnedByYou"}, storage.KindAlreadyExists},
		{"prose no bucket", errors.New("The specified bucket does not exist"), storage.KindNotFound},
		{"transport", errors.New("dial tcp 10.0.0.1:443: i/o timeout"), storage.KindUnavailable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := classify("op", fmt.Errorf("wrapped: %w", c.err))
			assert.Equal(t, c.want, storage.KindOf(err))
		})
	}
	assert.NoError(t, classify("op", nil))

	already := storage.Errorf(storage.KindNotEmpty, "delete bucket", "busy")
	assert.Same(t, already, classify("other", already))
}

func TestContainsNoSuchBucket(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"NoSuchBucket: bucket does not exist", true},
		{"The specified bucket does not exist", true},
		{"permission denied", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, containsNoSuchBucket(c.in), c.in)
	}
}

func TestCountBytes(t *testing.T) {
	var n int64
	r := countBytes(strings.NewReader("hello world"), &n)
	buf := make([]byte, 4)
	for {
		if _, err := r.Read(buf); err != nil {
			break
		}
	}
	assert.Equal(t, int64(11), n)
}

func TestOpen(t *testing.T) {
	gw, err := Open(context.Background(), Provider{Type: "memory", Region: "eu-central-1"}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &memory.Gateway{}, gw)

	gw, err = Open(context.Background(), Provider{Type: "minio", Endpoint: "http://localhost:9000", AccessKey: "a", SecretKey: "b"}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MinioGateway{}, gw)

	gw, err = Open(context.Background(), Provider{Type: "aws", AccessKey: "a", SecretKey: "b", Region: "eu-west-1"}, logging.Nop())
	require.NoError(t, err)
	assert.IsType(t, &AWSGateway{}, gw)

	_, err = Open(context.Background(), Provider{Type: "ftp"}, logging.Nop())
	assert.Error(t, err)
}

// Integration test against a live S3-compatible endpoint. Skipped by default;
// set S3_INTEGRATION_TEST=true and the TEST_* variables to run it.
func TestGatewayRoundTrip(t *testing.T) {
	if os.Getenv("S3_INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test; set S3_INTEGRATION_TEST=true to run")
	}
	p := Provider{
		Type:      os.Getenv("TEST_PROVIDER_TYPE"),
		Endpoint:  os.Getenv("TEST_API_URL"),
		AccessKey: os.Getenv("TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("TEST_SECRET_KEY"),
		Region:    os.Getenv("TEST_REGION"),
	}
	ctx := context.Background()
	gw, err := Open(ctx, p, logging.Nop())
	require.NoError(t, err)

	bucket := "bw-it-" + time.Now().Format("20060102-150405")
	require.NoError(t, gw.CreateResource(ctx, bucket, ""))
	t.Cleanup(func() { _ = gw.DeleteResource(context.Background(), bucket) })

	put, err := gw.PutItem(ctx, bucket, "a/b.txt", strings.NewReader("one"), -1, "text/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), put.Size)
	_, err = gw.PutItem(ctx, bucket, "a/b.txt", strings.NewReader("two!"), -1, "text/plain", nil)
	require.NoError(t, err)

	page, err := gw.ListItems(ctx, bucket, storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(4), page.Items[0].Size)

	assert.ErrorIs(t, gw.DeleteResource(ctx, bucket), storage.ErrNotEmpty)
	require.NoError(t, gw.DeleteItem(ctx, bucket, "a/b.txt"))
	_, err = gw.HeadItem(ctx, bucket, "a/b.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
