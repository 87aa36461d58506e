package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type objectDeleter struct {
	client BucketClient
	bucket string
}

// deleteObject removes exactly one key. Deleting a key that no longer
// exists is not an error, so a re-run after a partial failure converges.
func (d *objectDeleter) deleteObject(ctx context.Context, key string) error {
	if err := d.client.DeleteObject(ctx, d.bucket, key); err != nil {
		return newStoreError("delete", err, key)
	}
	return nil
}

// subtreeKeys lists prefix itself and every key below prefix + "/".
// Siblings that merely share the leading characters are left out.
func (d *objectDeleter) subtreeKeys(ctx context.Context, prefix string) ([]string, error) {
	prefix = trimPrefix(prefix)
	objects, err := d.client.ListObjects(ctx, d.bucket, prefix)
	if err != nil {
		return nil, newStoreError("list", err, prefix)
	}

	var keys []string
	for _, obj := range objects {
		if obj.Key == prefix || strings.HasPrefix(obj.Key, prefix+"/") {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

// deleteSubtree removes prefix and everything below it in as few batch
// calls as the store allows. It returns the deleted keys.
func (d *objectDeleter) deleteSubtree(ctx context.Context, prefix string) ([]string, error) {
	keys, err := d.subtreeKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, &EmptyDeleteError{Prefix: trimPrefix(prefix)}
	}

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		failures, err := d.client.DeleteObjects(ctx, d.bucket, batch)
		if err != nil {
			return nil, newStoreError("delete-batch", err, batch...)
		}
		if len(failures) > 0 {
			return nil, batchDeleteError(failures)
		}
	}

	return keys, nil
}

func batchDeleteError(failures []DeleteFailure) *StoreError {
	keys := make([]string, 0, len(failures))
	reasons := make([]string, 0, len(failures))
	for _, f := range failures {
		keys = append(keys, f.Key)
		reasons = append(reasons, fmt.Sprintf("%s: %s %s", f.Key, f.Code, f.Message))
	}
	return &StoreError{
		Op:   "delete-batch",
		Keys: keys,
		Err:  errors.New(strings.Join(reasons, "; ")),
	}
}
