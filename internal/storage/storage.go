// Package storage holds the provider-neutral view of buckets, objects and
// access points, the Gateway contract every backend implements, and the
// error taxonomy shared by the rest of the service.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignTTL is the fixed validity of every presigned URL.
const PresignTTL = 3600 * time.Second

// MaxPageSize is the provider limit for a single listing page.
const MaxPageSize = 1000

// UnknownRegion is reported when a bucket's region could not be resolved.
const UnknownRegion = "unknown"

// Resource is a bucket as seen by the service.
type Resource struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Region    string    `json:"region"`
	ItemCount int64     `json:"itemCount"`
	Bytes     int64     `json:"bytes"`
}

// Item is an object stored in a bucket.
type Item struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"lastModified"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"contentType,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Attachment is an access point bound to a bucket. The service lists and
// removes attachments but never creates them.
type Attachment struct {
	Name      string `json:"name"`
	Bucket    string `json:"bucket"`
	AccountID string `json:"accountId"`
}

// ListOptions selects one page of a bucket listing.
type ListOptions struct {
	Prefix   string
	PageSize int
	Token    string
}

// Page is one page of a bucket listing. Count is the number of items in
// this page.
type Page struct {
	Items     []Item `json:"items"`
	Truncated bool   `json:"truncated"`
	NextToken string `json:"nextToken,omitempty"`
	Count     int    `json:"count"`
}

// PutResult describes a stored object.
type PutResult struct {
	ETag string `json:"etag"`
	Size int64  `json:"size"`
}

// ItemReader is an open object body plus its metadata. Body must be closed.
type ItemReader struct {
	Body io.ReadCloser
	Item Item
}

// PresignMode selects the verb a presigned URL grants.
type PresignMode string

const (
	PresignRead  PresignMode = "read"
	PresignWrite PresignMode = "write"
)

// Valid reports whether m is a known mode.
func (m PresignMode) Valid() bool { return m == PresignRead || m == PresignWrite }

// Gateway is the single translation layer between bucket administration and
// a storage provider. Implementations return *Error values from the package
// taxonomy.
type Gateway interface {
	ListResources(ctx context.Context) ([]Resource, error)
	CreateResource(ctx context.Context, name, region string) error
	// DeleteResource removes an empty bucket. It fails with KindNotEmpty when
	// objects remain and KindHasDependents when access points block removal.
	DeleteResource(ctx context.Context, name string) error

	ListItems(ctx context.Context, bucket string, opts ListOptions) (Page, error)
	PutItem(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (PutResult, error)
	GetItem(ctx context.Context, bucket, key string) (*ItemReader, error)
	HeadItem(ctx context.Context, bucket, key string) (Item, error)
	DeleteItem(ctx context.Context, bucket, key string) error
	Presign(ctx context.Context, bucket, key string, mode PresignMode) (string, error)

	// ListDependents is best effort and returns an empty slice on failure.
	ListDependents(ctx context.Context, bucket, accountID string) []Attachment
	DeleteDependent(ctx context.Context, name, accountID string) error
}

// ClampPageSize bounds a requested page size to [1, MaxPageSize]. Zero
// selects MaxPageSize as the default page.
func ClampPageSize(n int) int {
	switch {
	case n == 0, n > MaxPageSize:
		return MaxPageSize
	case n < 1:
		return 1
	}
	return n
}
