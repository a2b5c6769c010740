package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"

	"github.com/xrsl/skipper/pkg/retry"
)

// keyMetadata holds the raw cache key on each object.
const keyMetadata = "skipper-key"

// GCSBackend stores entries as objects in a Google Cloud Storage bucket.
// Object names are the path-escaped key under an optional prefix; escaping
// is per character, so key prefixes map onto object name prefixes.
type GCSBackend struct {
	svc    *storage.Service
	bucket string
	prefix string
	retry  retry.Config
}

func NewGCSBackend(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSBackend, error) {
	if bucket == "" {
		return nil, errors.New("gcs cache backend requires a bucket")
	}
	svc, err := storage.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSBackend{
		svc:    svc,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		retry:  retry.DefaultConfig(),
	}, nil
}

func (b *GCSBackend) Name() string {
	return "gcs"
}

func (b *GCSBackend) objectName(key string) string {
	name := url.PathEscape(key)
	if b.prefix == "" {
		return name
	}
	return b.prefix + "/" + name
}

func (b *GCSBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	return retry.Do(ctx, b.retry, func() ([]Entry, error) {
		var entries []Entry
		call := b.svc.Objects.List(b.bucket).Prefix(b.objectName(prefix))
		err := call.Pages(ctx, func(objs *storage.Objects) error {
			for _, o := range objs.Items {
				e, err := b.entryFromObject(o)
				if err != nil {
					continue
				}
				if strings.HasPrefix(e.Key, prefix) {
					entries = append(entries, e)
				}
			}
			return nil
		})
		if err != nil {
			return nil, classify(err)
		}
		return entries, nil
	})
}

func (b *GCSBackend) entryFromObject(o *storage.Object) (Entry, error) {
	key := o.Metadata[keyMetadata]
	if key == "" {
		name := strings.TrimPrefix(o.Name, b.prefix+"/")
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			return Entry{}, err
		}
		key = unescaped
	}
	saved, err := time.Parse(time.RFC3339, o.Updated)
	if err != nil {
		return Entry{}, fmt.Errorf("object %s has invalid update time: %w", o.Name, err)
	}
	return Entry{
		Key:     key,
		ID:      o.Id,
		SavedAt: saved,
		Size:    int64(o.Size),
	}, nil
}

func (b *GCSBackend) Get(ctx context.Context, e Entry, w io.Writer) error {
	resp, err := retry.Do(ctx, b.retry, func() (*http.Response, error) {
		resp, err := b.svc.Objects.Get(b.bucket, b.objectName(e.Key)).Context(ctx).Download()
		if err != nil {
			return nil, classify(err)
		}
		return resp, nil
	})
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, e.Key)
		}
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (b *GCSBackend) Put(ctx context.Context, key string, r io.Reader) (Entry, error) {
	obj := &storage.Object{
		Name:        b.objectName(key),
		ContentType: "application/gzip",
		Metadata:    map[string]string{keyMetadata: key},
	}
	// ifGenerationMatch=0 only succeeds when no live object has this name.
	res, err := b.svc.Objects.Insert(b.bucket, obj).
		IfGenerationMatch(0).
		Media(r).
		Context(ctx).
		Do()
	if err != nil {
		if isStatus(err, http.StatusPreconditionFailed) {
			return Entry{}, ErrKeyExists
		}
		return Entry{}, err
	}
	return b.entryFromObject(res)
}

// classify marks transient API failures as retryable.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && retry.TransientStatus(gerr.Code) {
		return retry.Retryable(err)
	}
	return err
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
