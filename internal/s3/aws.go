package s3

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/s3control"
	"golang.org/x/sync/errgroup"
)

// AWSGateway talks to Amazon S3, using S3 Control for access points.
type AWSGateway struct {
	client   *awss3.Client
	presign  *awss3.PresignClient
	uploader *manager.Uploader
	control  *s3control.Client
	region   string
	logger   logging.Logger
}

var _ storage.Gateway = (*AWSGateway)(nil)

// NewAWS builds the gateway. Static keys are used when set, otherwise the
// SDK's default credential chain.
func NewAWS(ctx context.Context, p Provider, logger logging.Logger) (*AWSGateway, error) {
	region := p.Region
	if region == "" {
		region = "us-east-1"
	}
	var awsCfg aws.Config
	if p.AccessKey != "" {
		awsCfg = aws.Config{
			Region:      region,
			Credentials: credentials.NewStaticCredentialsProvider(p.AccessKey, p.SecretKey, ""),
		}
	} else {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if ep := endpointURL(p.Endpoint, p.UseSSL); ep != "" {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = forcePathStyle(p)
		}
	})
	return &AWSGateway{
		client:   client,
		presign:  awss3.NewPresignClient(client),
		uploader: manager.NewUploader(client),
		control:  s3control.NewFromConfig(awsCfg),
		region:   region,
		logger:   logger,
	}, nil
}

func (c *AWSGateway) ListResources(ctx context.Context) ([]storage.Resource, error) {
	var out []storage.Resource
	pager := awss3.NewListBucketsPaginator(c.client, &awss3.ListBucketsInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify("list buckets", err)
		}
		for _, b := range page.Buckets {
			out = append(out, storage.Resource{Name: aws.ToString(b.Name), CreatedAt: aws.ToTime(b.CreationDate)})
		}
	}

	// lookups are independent; a failure only degrades its own entry
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

func (c *AWSGateway) enrich(ctx context.Context, r *storage.Resource) {
	loc, err := c.client.GetBucketLocation(ctx, &awss3.GetBucketLocationInput{Bucket: aws.String(r.Name)})
	if err != nil {
		c.logger.Debug("bucket region lookup failed", "bucket", r.Name, "error", err)
		r.Region, r.ItemCount = storage.UnknownRegion, 0
		return
	}
	r.Region = string(loc.LocationConstraint)
	if r.Region == "" {
		// S3 reports the legacy default region as an empty constraint
		r.Region = "us-east-1"
	}
	// buckets in other regions answer with a redirect here; the region stays
	list, err := c.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{Bucket: aws.String(r.Name), MaxKeys: aws.Int32(1)})
	if err != nil {
		c.logger.Debug("bucket presence lookup failed", "bucket", r.Name, "region", r.Region, "error", err)
		r.ItemCount = 0
		return
	}
	r.ItemCount = int64(aws.ToInt32(list.KeyCount))
}

func (c *AWSGateway) CreateResource(ctx context.Context, name, region string) error {
	if err := naming.Bucket(name); err != nil {
		return err
	}
	if region == "" {
		region = c.region
	}
	in := &awss3.CreateBucketInput{Bucket: aws.String(name)}
	if region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{LocationConstraint: types.BucketLocationConstraint(region)}
	}
	if _, err := c.client.CreateBucket(ctx, in); err != nil {
		return classify("create bucket", err)
	}
	c.logger.Info("bucket created", "bucket", name, "region", region)
	return nil
}

func (c *AWSGateway) DeleteResource(ctx context.Context, name string) error {
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
	if _, err := c.client.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return classify("delete bucket", err)
	}
	return nil
}

func (c *AWSGateway) ListItems(ctx context.Context, bucket string, opts storage.ListOptions) (storage.Page, error) {
	if err := naming.Bucket(bucket); err != nil {
		return storage.Page{}, err
	}
	in := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		MaxKeys: aws.Int32(int32(storage.ClampPageSize(opts.PageSize))),
	}
	if opts.Prefix != "" {
		in.Prefix = aws.String(opts.Prefix)
	}
	if opts.Token != "" {
		in.ContinuationToken = aws.String(opts.Token)
	}
	out, err := c.client.ListObjectsV2(ctx, in)
	if err != nil {
		return storage.Page{}, classify("list objects", err)
	}
	page := storage.Page{
		Truncated: aws.ToBool(out.IsTruncated),
		NextToken: aws.ToString(out.NextContinuationToken),
		Count:     int(aws.ToInt32(out.KeyCount)),
		Items:     make([]storage.Item, 0, len(out.Contents)),
	}
	for _, o := range out.Contents {
		page.Items = append(page.Items, storage.Item{
			Key:          aws.ToString(o.Key),
			Size:         aws.ToInt64(o.Size),
			LastModified: aws.ToTime(o.LastModified),
			ETag:         trimETag(aws.ToString(o.ETag)),
		})
	}
	return page, nil
}

// PutItem streams body through the multipart uploader, so size may be -1.
func (c *AWSGateway) PutItem(ctx context.Context, bucket, key string, body io.Reader, _ int64, contentType string, metadata map[string]string) (storage.PutResult, error) {
	if err := naming.Object(bucket, key); err != nil {
		return storage.PutResult{}, err
	}
	var n int64
	in := &awss3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Body:     countBytes(body, &n),
		Metadata: metadata,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	out, err := c.uploader.Upload(ctx, in)
	if err != nil {
		return storage.PutResult{}, classify("put object", err)
	}
	return storage.PutResult{ETag: trimETag(aws.ToString(out.ETag)), Size: n}, nil
}

func (c *AWSGateway) GetItem(ctx context.Context, bucket, key string) (*storage.ItemReader, error) {
	if err := naming.Object(bucket, key); err != nil {
		return nil, err
	}
	out, err := c.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, classify("get object", err)
	}
	return &storage.ItemReader{
		Body: out.Body,
		Item: storage.Item{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified),
			ETag:         trimETag(aws.ToString(out.ETag)),
			ContentType:  aws.ToString(out.ContentType),
			Metadata:     out.Metadata,
		},
	}, nil
}

func (c *AWSGateway) HeadItem(ctx context.Context, bucket, key string) (storage.Item, error) {
	if err := naming.Object(bucket, key); err != nil {
		return storage.Item{}, err
	}
	out, err := c.client.HeadObject(ctx, &awss3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return storage.Item{}, classify("head object", err)
	}
	return storage.Item{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ETag:         trimETag(aws.ToString(out.ETag)),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

// DeleteItem heads the object first: S3 acknowledges deletes of missing keys.
func (c *AWSGateway) DeleteItem(ctx context.Context, bucket, key string) error {
	if _, err := c.HeadItem(ctx, bucket, key); err != nil {
		return err
	}
	if _, err := c.client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return classify("delete object", err)
	}
	return nil
}

func (c *AWSGateway) Presign(ctx context.Context, bucket, key string, mode storage.PresignMode) (string, error) {
	if err := naming.Object(bucket, key); err != nil {
		return "", err
	}
	expires := awss3.WithPresignExpires(storage.PresignTTL)
	switch mode {
	case storage.PresignRead:
		req, err := c.presign.PresignGetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}, expires)
		if err != nil {
			return "", storage.E(storage.KindUnavailable, "presign", "signing GET URL failed", err)
		}
		return req.URL, nil
	case storage.PresignWrite:
		req, err := c.presign.PresignPutObject(ctx, &awss3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}, expires)
		if err != nil {
			return "", storage.E(storage.KindUnavailable, "presign", "signing PUT URL failed", err)
		}
		return req.URL, nil
	}
	return "", storage.Errorf(storage.KindUnavailable, "presign", "unsupported presign mode %q", mode)
}

func (c *AWSGateway) ListDependents(ctx context.Context, bucket, accountID string) []storage.Attachment {
	out := []storage.Attachment{}
	pager := s3control.NewListAccessPointsPaginator(c.control, &s3control.ListAccessPointsInput{
		AccountId: aws.String(accountID),
		Bucket:    aws.String(bucket),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			c.logger.Error("list access points failed", "bucket", bucket, "error", err)
			return []storage.Attachment{}
		}
		for _, ap := range page.AccessPointList {
			out = append(out, storage.Attachment{Name: aws.ToString(ap.Name), Bucket: aws.ToString(ap.Bucket), AccountID: accountID})
		}
	}
	return out
}

func (c *AWSGateway) DeleteDependent(ctx context.Context, name, accountID string) error {
	_, err := c.control.DeleteAccessPoint(ctx, &s3control.DeleteAccessPointInput{
		AccountId: aws.String(accountID),
		Name:      aws.String(name),
	})
	if err != nil {
		return storage.E(storage.KindUnavailable, "delete access point", fmt.Sprintf("deleting access point %q failed", name), err)
	}
	return nil
}

func trimETag(s string) string { return strings.Trim(s, `"`) }
