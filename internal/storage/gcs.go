package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBucket stores objects in a Google Cloud Storage bucket.
type GCSBucket struct {
	client    *gcs.Client
	bucket    *gcs.BucketHandle
	urlExpiry time.Duration
}

// NewGCS opens a client using application default credentials, or the
// service account key file when credentialsFile is set. Extra options are
// passed to the client.
func NewGCS(ctx context.Context, bucket, credentialsFile string, urlExpiry time.Duration, opts ...option.ClientOption) (*GCSBucket, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &GCSBucket{client: client, bucket: client.Bucket(bucket), urlExpiry: urlExpiry}, nil
}

func (b *GCSBucket) Close() error { return b.client.Close() }

func (b *GCSBucket) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return r, nil
}

// Create streams r into the object. A failed read cancels the upload so no
// partial object is committed.
func (b *GCSBucket) Create(ctx context.Context, name, contentType string, r io.Reader) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := b.bucket.Object(name).NewWriter(wctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", name, err)
	}
	return nil
}

func (b *GCSBucket) Exists(ctx context.Context, name string) (bool, error) {
	_, err := b.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *GCSBucket) Attrs(ctx context.Context, name string) (Object, error) {
	attrs, err := b.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return Object{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Object{}, err
	}
	return objectFromAttrs(attrs), nil
}

func (b *GCSBucket) List(ctx context.Context, prefix string) ([]Object, error) {
	it := b.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	var objs []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		objs = append(objs, objectFromAttrs(attrs))
	}
	return objs, nil
}

// URL returns a V4 signed GET URL.
func (b *GCSBucket) URL(_ context.Context, name string) (string, error) {
	u, err := b.bucket.SignedURL(name, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(b.urlExpiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", name, err)
	}
	return u, nil
}

func objectFromAttrs(a *gcs.ObjectAttrs) Object {
	ct := a.ContentType
	if ct == "" {
		ct = ContentType(a.Name)
	}
	return Object{Path: a.Name, ContentType: ct, Size: a.Size, Updated: a.Updated}
}
