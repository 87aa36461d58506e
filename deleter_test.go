package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteObjectIsIdempotent(t *testing.T) {
	client := NewMockBucketClient("mock-bucket")
	client.Seed(map[string]string{"aws/demo/file2.txt": "2"})
	deleter := &objectDeleter{client: client, bucket: "mock-bucket"}

	require.NoError(t, deleter.deleteObject(context.Background(), "aws/demo/file2.txt"))
	require.NoError(t, deleter.deleteObject(context.Background(), "aws/demo/file2.txt"))
	assert.Empty(t, client.Keys())
}

func TestDeleteObjectTouchesOnlyItsKey(t *testing.T) {
	client := NewMockBucketClient("mock-bucket")
	client.Seed(map[string]string{
		"aws/demo/file":     "f",
		"aws/demo/file.txt": "t",
		"aws/demo/file/sub": "s",
	})
	deleter := &objectDeleter{client: client, bucket: "mock-bucket"}

	require.NoError(t, deleter.deleteObject(context.Background(), "aws/demo/file"))
	assert.Equal(t, []string{"aws/demo/file.txt", "aws/demo/file/sub"}, client.Keys())
}

func TestDeleteSubtree(t *testing.T) {
	client := NewMockBucketClient("mock-bucket")
	client.Seed(map[string]string{
		"aws/demo/dir1":                   "",
		"aws/demo/dir1/file11.txt":        "11",
		"aws/demo/dir1/dir11/file111.txt": "111",
		"aws/demo/dir10/file.txt":         "sibling",
		"aws/demo/dir1.txt":               "sibling file",
	})
	deleter := &objectDeleter{client: client, bucket: "mock-bucket"}

	deleted, err := deleter.deleteSubtree(context.Background(), "aws/demo/dir1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"aws/demo/dir1",
		"aws/demo/dir1/file11.txt",
		"aws/demo/dir1/dir11/file111.txt",
	}, deleted)
	assert.Equal(t, []string{"aws/demo/dir1.txt", "aws/demo/dir10/file.txt"}, client.Keys())
	assert.Equal(t, []string{"delete-batch 3"}, client.CallsWithPrefix("delete-batch"))
}

func TestDeleteSubtreeEmpty(t *testing.T) {
	client := NewMockBucketClient("mock-bucket")
	client.Seed(map[string]string{"aws/demo/dir10/file.txt": "sibling"})
	deleter := &objectDeleter{client: client, bucket: "mock-bucket"}

	_, err := deleter.deleteSubtree(context.Background(), "aws/demo/dir1")
	var emptyErr *EmptyDeleteError
	require.True(t, errors.As(err, &emptyErr))
	assert.Equal(t, "aws/demo/dir1", emptyErr.Prefix)
	assert.Empty(t, client.CallsWithPrefix("delete-batch"))
}

func TestDeleteSubtreeBatches(t *testing.T) {
	client := NewMockBucketClient("mock-bucket")
	contents := make(map[string]string)
	for i := 0; i < 2500; i++ {
		contents[fmt.Sprintf("aws/demo/big/file%04d.txt", i)] = "x"
	}
	client.Seed(contents)
	deleter := &objectDeleter{client: client, bucket: "mock-bucket"}

	deleted, err := deleter.deleteSubtree(context.Background(), "aws/demo/big")
	require.NoError(t, err)
	assert.Len(t, deleted, 2500)
	assert.Empty(t, client.Keys())
	assert.Equal(t, []string{"delete-batch 1000", "delete-batch 1000", "delete-batch 500"}, client.CallsWithPrefix("delete-batch"))
}

func TestDeleteSubtreePartialFailure(t *testing.T) {
	client := NewMockBucketClient("mock-bucket")
	client.Seed(map[string]string{
		"aws/demo/dir1/a.txt": "a",
		"aws/demo/dir1/b.txt": "b",
	})
	client.BatchFailures["aws/demo/dir1/b.txt"] = true
	deleter := &objectDeleter{client: client, bucket: "mock-bucket"}

	_, err := deleter.deleteSubtree(context.Background(), "aws/demo/dir1")
	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "delete-batch", storeErr.Op)
	assert.Equal(t, []string{"aws/demo/dir1/b.txt"}, storeErr.Keys)
	assert.Contains(t, storeErr.Error(), "AccessDenied")
}
