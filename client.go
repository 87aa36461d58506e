package main

import (
	"context"
	"io"
)

// maxDeleteBatch is the largest number of keys S3 accepts in one
// DeleteObjects call.
const maxDeleteBatch = 1000

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// PutObjectRequest is a single object write. Empty fields are not sent.
type PutObjectRequest struct {
	Key          string
	Body         io.Reader
	ContentType  string
	CacheControl string
	ACL          string
	Metadata     map[string]string
}

// DeleteFailure is a key the store refused to delete in a batch.
type DeleteFailure struct {
	Key     string
	Code    string
	Message string
}

// BucketClient is the set of object store primitives the sync engine is
// built on.
type BucketClient interface {
	// ListObjects returns every object whose key starts with prefix,
	// following pagination to the end.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	PutObject(ctx context.Context, bucket string, req PutObjectRequest) error
	// DeleteObject succeeds when the key is already absent.
	DeleteObject(ctx context.Context, bucket, key string) error
	// DeleteObjects deletes at most maxDeleteBatch keys and returns the
	// keys that could not be deleted.
	DeleteObjects(ctx context.Context, bucket string, keys []string) ([]DeleteFailure, error)
}
