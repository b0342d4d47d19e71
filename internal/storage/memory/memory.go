// Package memory is an in-process storage.Gateway. It backs the "memory"
// provider type for local development and the package tests of the
// orchestrator and HTTP layer.
package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/arencloud/bucketwarden/internal/naming"
	"github.com/arencloud/bucketwarden/internal/storage"
)

type object struct {
	item storage.Item
	data []byte
}

type bucket struct {
	created time.Time
	region  string
	objects map[string]*object
}

// Gateway keeps buckets, objects and access points in maps.
type Gateway struct {
	mu            sync.Mutex
	defaultRegion string
	now           func() time.Time
	buckets       map[string]*bucket
	// access point name -> attachment
	points map[string]storage.Attachment

	// Fault injection for tests: operation name -> error returned instead.
	faults map[string]error
	// DeleteDependent fails for these names.
	failDependents map[string]error
	calls          []string
}

var _ storage.Gateway = (*Gateway)(nil)

// New returns an empty gateway.
func New(defaultRegion string) *Gateway {
	if defaultRegion == "" {
		defaultRegion = "us-east-1"
	}
	return &Gateway{
		defaultRegion:  defaultRegion,
		now:            time.Now,
		buckets:        map[string]*bucket{},
		points:         map[string]storage.Attachment{},
		faults:         map[string]error{},
		failDependents: map[string]error{},
	}
}

// AttachAccessPoint registers an access point on bucket, standing in for one
// created outside the service.
func (g *Gateway) AttachAccessPoint(name, bucketName, accountID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[name] = storage.Attachment{Name: name, Bucket: bucketName, AccountID: accountID}
}

// FailOn makes every call of op return err until cleared with a nil err.
// "Enrich:<bucket>" fails the region lookup of one bucket in ListResources
// and "Presence:<bucket>" fails its item presence check.
func (g *Gateway) FailOn(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.faults, op)
		return
	}
	g.faults[op] = err
}

// FailDependent makes DeleteDependent fail for name.
func (g *Gateway) FailDependent(name string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failDependents[name] = err
}

// Calls returns the operations invoked so far, in order.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.calls)
}

// HasBucket reports whether name exists.
func (g *Gateway) HasBucket(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.buckets[name]
	return ok
}

// AccessPoints returns the names of access points attached to bucketName.
func (g *Gateway) AccessPoints(bucketName string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, ap := range g.points {
		if ap.Bucket == bucketName {
			out = append(out, ap.Name)
		}
	}
	slices.Sort(out)
	return out
}

// enter records the call and returns an injected fault, if any. Callers hold mu.
func (g *Gateway) enter(op string) error {
	g.calls = append(g.calls, op)
	return g.faults[op]
}

func (g *Gateway) ListResources(ctx context.Context) ([]storage.Resource, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("ListResources"); err != nil {
		return nil, err
	}
	out := make([]storage.Resource, 0, len(g.buckets))
	for _, name := range slices.Sorted(maps.Keys(g.buckets)) {
		b := g.buckets[name]
		r := storage.Resource{Name: name, CreatedAt: b.created, Region: b.region}
		switch {
		case g.faults["Enrich:"+name] != nil:
			r.Region = storage.UnknownRegion
		case g.faults["Presence:"+name] != nil:
		case len(b.objects) > 0:
			r.ItemCount = 1
		}
		out = append(out, r)
	}
	return out, nil
}

func (g *Gateway) CreateResource(ctx context.Context, name, region string) error {
	if err := naming.Bucket(name); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateResource"); err != nil {
		return err
	}
	if _, ok := g.buckets[name]; ok {
		return storage.Errorf(storage.KindAlreadyExists, "create bucket", "bucket %q already exists", name)
	}
	if region == "" {
		region = g.defaultRegion
	}
	g.buckets[name] = &bucket{created: g.now().UTC(), region: region, objects: map[string]*object{}}
	return nil
}

func (g *Gateway) DeleteResource(ctx context.Context, name string) error {
	if err := naming.Bucket(name); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("DeleteResource"); err != nil {
		return err
	}
	b, ok := g.buckets[name]
	if !ok {
		return storage.Errorf(storage.KindNotFound, "delete bucket", "bucket %q does not exist", name)
	}
	if len(b.objects) > 0 {
		return storage.Errorf(storage.KindNotEmpty, "delete bucket", "bucket %q is not empty", name)
	}
	for _, ap := range g.points {
		if ap.Bucket == name {
			return storage.Errorf(storage.KindHasDependents, "delete bucket", "bucket %q has access points attached", name)
		}
	}
	delete(g.buckets, name)
	return nil
}

func (g *Gateway) ListItems(ctx context.Context, bucketName string, opts storage.ListOptions) (storage.Page, error) {
	if err := naming.Bucket(bucketName); err != nil {
		return storage.Page{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("ListItems"); err != nil {
		return storage.Page{}, err
	}
	b, ok := g.buckets[bucketName]
	if !ok {
		return storage.Page{}, storage.Errorf(storage.KindNotFound, "list objects", "bucket %q does not exist", bucketName)
	}
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.Token {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	size := storage.ClampPageSize(opts.PageSize)
	page := storage.Page{Items: []storage.Item{}}
	if len(keys) > size {
		keys = keys[:size]
		page.Truncated = true
		page.NextToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		page.Items = append(page.Items, copyItem(b.objects[k].item))
	}
	page.Count = len(page.Items)
	return page, nil
}

func (g *Gateway) PutItem(ctx context.Context, bucketName, key string, body io.Reader, size int64, contentType string, metadata map[string]string) (storage.PutResult, error) {
	if err := naming.Object(bucketName, key); err != nil {
		return storage.PutResult{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.PutResult{}, storage.E(storage.KindUnavailable, "put object", "reading upload body failed", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("PutItem"); err != nil {
		return storage.PutResult{}, err
	}
	b, ok := g.buckets[bucketName]
	if !ok {
		return storage.PutResult{}, storage.Errorf(storage.KindNotFound, "put object", "bucket %q does not exist", bucketName)
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.objects[key] = &object{
		item: storage.Item{
			Key:          key,
			Size:         int64(len(data)),
			LastModified: g.now().UTC(),
			ETag:         etag,
			ContentType:  contentType,
			Metadata:     maps.Clone(metadata),
		},
		data: data,
	}
	return storage.PutResult{ETag: etag, Size: int64(len(data))}, nil
}

func (g *Gateway) GetItem(ctx context.Context, bucketName, key string) (*storage.ItemReader, error) {
	if err := naming.Object(bucketName, key); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetItem"); err != nil {
		return nil, err
	}
	obj, err := g.lookup("get object", bucketName, key)
	if err != nil {
		return nil, err
	}
	return &storage.ItemReader{Body: io.NopCloser(bytes.NewReader(obj.data)), Item: copyItem(obj.item)}, nil
}

func (g *Gateway) HeadItem(ctx context.Context, bucketName, key string) (storage.Item, error) {
	if err := naming.Object(bucketName, key); err != nil {
		return storage.Item{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("HeadItem"); err != nil {
		return storage.Item{}, err
	}
	obj, err := g.lookup("head object", bucketName, key)
	if err != nil {
		return storage.Item{}, err
	}
	return copyItem(obj.item), nil
}

func (g *Gateway) DeleteItem(ctx context.Context, bucketName, key string) error {
	if err := naming.Object(bucketName, key); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("DeleteItem"); err != nil {
		return err
	}
	if _, err := g.lookup("delete object", bucketName, key); err != nil {
		return err
	}
	delete(g.buckets[bucketName].objects, key)
	return nil
}

func (g *Gateway) Presign(ctx context.Context, bucketName, key string, mode storage.PresignMode) (string, error) {
	if err := naming.Object(bucketName, key); err != nil {
		return "", err
	}
	if !mode.Valid() {
		return "", storage.Errorf(storage.KindUnavailable, "presign", "unsupported presign mode %q", mode)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("Presign"); err != nil {
		return "", err
	}
	method := "GET"
	if mode == storage.PresignWrite {
		method = "PUT"
	}
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprint(int(storage.PresignTTL.Seconds())))
	u := url.URL{Scheme: "memory", Host: bucketName, Path: "/" + key, RawQuery: q.Encode()}
	return u.String(), nil
}

func (g *Gateway) ListDependents(ctx context.Context, bucketName, accountID string) []storage.Attachment {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("ListDependents"); err != nil {
		return []storage.Attachment{}
	}
	out := []storage.Attachment{}
	for _, ap := range g.points {
		if ap.Bucket == bucketName && (accountID == "" || ap.AccountID == accountID) {
			out = append(out, ap)
		}
	}
	slices.SortFunc(out, func(a, b storage.Attachment) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (g *Gateway) DeleteDependent(ctx context.Context, name, accountID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("DeleteDependent:" + name); err != nil {
		return err
	}
	if err := g.failDependents[name]; err != nil {
		return storage.E(storage.KindUnavailable, "delete access point", fmt.Sprintf("deleting access point %q failed", name), err)
	}
	ap, ok := g.points[name]
	if !ok || (accountID != "" && ap.AccountID != accountID) {
		return storage.Errorf(storage.KindUnavailable, "delete access point", "access point %q not found", name)
	}
	delete(g.points, name)
	return nil
}

func (g *Gateway) lookup(op, bucketName, key string) (*object, error) {
	b, ok := g.buckets[bucketName]
	if !ok {
		return nil, storage.Errorf(storage.KindNotFound, op, "bucket %q does not exist", bucketName)
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, storage.Errorf(storage.KindNotFound, op, "object %q not found in %q", key, bucketName)
	}
	return obj, nil
}

func copyItem(it storage.Item) storage.Item {
	it.Metadata = maps.Clone(it.Metadata)
	return it
}
