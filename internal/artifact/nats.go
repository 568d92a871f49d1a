package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var _ Store = (*NATSStore)(nil)

// NATSStore keeps artifacts in a JetStream object store bucket.
type NATSStore struct {
	bucket string
	store  jetstream.ObjectStore
}

// NewNATSStore binds to bucket, creating it on first use.
func NewNATSStore(ctx context.Context, nc *nats.Conn, bucket string) (*NATSStore, error) {
	if bucket == "" {
		return nil, errors.New("artifact: bucket must not be empty")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("artifact: jetstream: %w", err)
	}

	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Synthesized audio for the %s bucket.", bucket),
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		store, err = js.ObjectStore(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("artifact: bind to bucket %q: %w", bucket, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("artifact: create bucket %q: %w", bucket, err)
	}

	return &NATSStore{bucket: bucket, store: store}, nil
}

// Put implements Store.
func (s *NATSStore) Put(ctx context.Context, name string, data []byte) (Artifact, error) {
	if !ValidName(name) {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	info, err := s.store.PutBytes(ctx, name, data)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: put %q to bucket %q: %w", name, s.bucket, err)
	}
	return Artifact{Name: name, Size: int64(info.Size)}, nil
}

// Open implements Store.
func (s *NATSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	obj, err := s.store.Get(ctx, name)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: get %q from bucket %q: %w", name, s.bucket, err)
	}
	return obj, nil
}

// Ping queries the bucket status.
func (s *NATSStore) Ping(ctx context.Context) error {
	if _, err := s.store.Status(ctx); err != nil {
		return fmt.Errorf("artifact: bucket %q: %w", s.bucket, err)
	}
	return nil
}
