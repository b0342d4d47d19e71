package s3

import (
	"context"
	"io"
	"net/url"

	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// MinioGateway talks to S3-compatible providers (MinIO, NooBaa/MCG, generic
// S3 endpoints). Those providers have no access points.
type MinioGateway struct {
	mc     *minio.Client
	region string
	logger logging.Logger
}

var _ storage.Gateway = (*MinioGateway)(nil)

func NewMinio(p Provider, logger logging.Logger) (*MinioGateway, error) {
	endpoint, secure := normalizeEndpoint(p.Endpoint, p.UseSSL)
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(p.AccessKey, p.SecretKey, ""),
		Secure: secure,
		Region: p.Region,
	}
	if forcePathStyle(p) {
		opts.BucketLookup = minio.BucketLookupPath
	}
	mc, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &MinioGateway{mc: mc, region: p.Region, logger: logger}, nil
}

func (c *MinioGateway) ListResources(ctx context.Context) ([]storage.Resource, error) {
	buckets, err := c.mc.ListBuckets(ctx)
	if err != nil {
		return nil, classify("list buckets", err)
	}
	out := make([]storage.Resource, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, storage.Resource{Name: b.Name, CreatedAt: b.CreationDate})
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichLimit)
	for i := range out {
		g.Go(func() error {
			c.enrich(gctx, &out[i])
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (c *MinioGateway) enrich(ctx context.Context, r *storage.Resource) {
	region, err := c.mc.GetBucketLocation(ctx, r.Name)
	if err != nil {
		c.logger.Debug("bucket region lookup failed", "bucket", r.Name, "error", err)
		r.Region, r.ItemCount = storage.UnknownRegion, 0
		return
	}
	r.Region = region
	has, err := storage.HasItems(ctx, c, r.Name)
	if err != nil {
		c.logger.Debug("bucket presence lookup failed", "bucket", r.Name, "region", region, "error", err)
		r.ItemCount = 0
		return
	}
	if has {
		r.ItemCount = 1
	}
}

func (c *MinioGateway) CreateResource(ctx context.Context, name, region string) error {
	if err := naming.Bucket(name); err != nil {
		return err
	}
	if region == "" {
		region = c.region
	}
	if err := c.mc.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region}); err != nil {
		return classify("create bucket", err)
	}
	c.logger.Info("bucket created", "bucket", name, "region", region)
	return nil
}

func (c *MinioGateway) DeleteResource(ctx context.Context, name string) error {
	if err := naming.Bucket(name); err != nil {
		return err
	}
	has, err := storage.HasItems(ctx, c, name)
	if err != nil {
		return err
	}
	if has {
		return storage.Errorf(storage.KindNotEmpty, "delete bucket", "bucket %q is not empty", name)
	}
	if err := c.mc.RemoveBucket(ctx, name); err != nil {
		return classify("delete bucket", err)
	}
	return nil
}

// ListItems pages with StartAfter: the continuation token is the last key of
// the previous page. One extra key is read to learn whether more follow.
func (c *MinioGateway) ListItems(ctx context.Context, bucket string, opts storage.ListOptions) (storage.Page, error) {
	if err := naming.Bucket(bucket); err != nil {
		return storage.Page{}, err
	}
	size := storage.ClampPageSize(opts.PageSize)
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	page := storage.Page{Items: []storage.Item{}}
	for obj := range c.mc.ListObjects(lctx, bucket, minio.ListObjectsOptions{
		Prefix:     opts.Prefix,
		Recursive:  true,
		StartAfter: opts.Token,
		MaxKeys:    size + 1,
	}) {
		if obj.Err != nil {
			return storage.Page{}, classify("list objects", obj.Err)
		}
		if len(page.Items) == size {
			page.Truncated = true
			page.NextToken = page.Items[size-1].Key
			break
		}
		page.Items = append(page.Items, objectItem(obj))
	}
	page.Count = len(page.Items)
	return page, nil
}

func (c *MinioGateway) PutItem(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (storage.PutResult, error) {
	if err := naming.Object(bucket, key); err != nil {
		return storage.PutResult{}, err
	}
	// Size may be unknown in streaming; minio supports -1 for unknown length
	info, err := c.mc.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType, UserMetadata: metadata})
	if err != nil {
		return storage.PutResult{}, classify("put object", err)
	}
	return storage.PutResult{ETag: trimETag(info.ETag), Size: info.Size}, nil
}

// GetItem stats the object first so a missing key fails before a stream is
// handed out.
func (c *MinioGateway) GetItem(ctx context.Context, bucket, key string) (*storage.ItemReader, error) {
	it, err := c.HeadItem(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify("get object", err)
	}
	return &storage.ItemReader{Body: obj, Item: it}, nil
}

func (c *MinioGateway) HeadItem(ctx context.Context, bucket, key string) (storage.Item, error) {
	if err := naming.Object(bucket, key); err != nil {
		return storage.Item{}, err
	}
	info, err := c.mc.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.Item{}, classify("head object", err)
	}
	return objectItem(info), nil
}

func (c *MinioGateway) DeleteItem(ctx context.Context, bucket, key string) error {
	if _, err := c.HeadItem(ctx, bucket, key); err != nil {
		return err
	}
	if err := c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return classify("delete object", err)
	}
	return nil
}

func (c *MinioGateway) Presign(ctx context.Context, bucket, key string, mode storage.PresignMode) (string, error) {
	if err := naming.Object(bucket, key); err != nil {
		return "", err
	}
	var (
		u   *url.URL
		err error
	)
	switch mode {
	case storage.PresignRead:
		u, err = c.mc.PresignedGetObject(ctx, bucket, key, storage.PresignTTL, url.Values{})
	case storage.PresignWrite:
		u, err = c.mc.PresignedPutObject(ctx, bucket, key, storage.PresignTTL)
	default:
		return "", storage.Errorf(storage.KindUnavailable, "presign", "unsupported presign mode %q", mode)
	}
	if err != nil {
		return "", storage.E(storage.KindUnavailable, "presign", "signing URL failed", err)
	}
	return u.String(), nil
}

func (c *MinioGateway) ListDependents(ctx context.Context, bucket, accountID string) []storage.Attachment {
	return []storage.Attachment{}
}

func (c *MinioGateway) DeleteDependent(ctx context.Context, name, accountID string) error {
	return storage.Errorf(storage.KindUnavailable, "delete access point", "access points are not supported by S3-compatible providers (%q)", name)
}

func objectItem(o minio.ObjectInfo) storage.Item {
	it := storage.Item{
		Key:          o.Key,
		Size:         o.Size,
		LastModified: o.LastModified,
		ETag:         trimETag(o.ETag),
		ContentType:  o.ContentType,
	}
	if len(o.UserMetadata) > 0 {
		it.Metadata = map[string]string(o.UserMetadata)
	}
	return it
}
