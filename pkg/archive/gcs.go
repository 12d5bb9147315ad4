// Package archive writes a best-effort raw copy of every inbound broker
// payload to object storage, batched into compressed JSONL objects.
package archive

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// ObjectStore abstracts the slice of the Cloud Storage client the archiver
// uses, so batches can be tested against an in-memory fake.
type ObjectStore interface {
	Bucket(name string) BucketHandle
}

// BucketHandle abstracts a *storage.BucketHandle.
type BucketHandle interface {
	Object(name string) ObjectHandle
}

// ObjectHandle abstracts a *storage.ObjectHandle.
type ObjectHandle interface {
	NewWriter(ctx context.Context) io.WriteCloser
}

// --- Adapters wrapping the concrete Cloud Storage client ---

type gcsStoreAdapter struct {
	client *storage.Client
}

// NewGCSObjectStore adapts a concrete *storage.Client to the ObjectStore interface.
func NewGCSObjectStore(client *storage.Client) ObjectStore {
	if client == nil {
		return nil
	}
	return &gcsStoreAdapter{client: client}
}

func (a *gcsStoreAdapter) Bucket(name string) BucketHandle {
	return &gcsBucketAdapter{bucket: a.client.Bucket(name)}
}

type gcsBucketAdapter struct {
	bucket *storage.BucketHandle
}

func (a *gcsBucketAdapter) Object(name string) ObjectHandle {
	return &gcsObjectAdapter{object: a.bucket.Object(name)}
}

type gcsObjectAdapter struct {
	object *storage.ObjectHandle
}

func (a *gcsObjectAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.object.NewWriter(ctx)
}
