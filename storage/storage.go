// Package storage abstracts the object stores a lake table can live on.
// Tables address their data and log files through a Backend so the same
// code serves a local directory during development and a blob bucket in
// production.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gocloud.dev/blob"
)

type Backend interface {
	// JoinPath appends pathToJoin as a new component to path.
	JoinPath(path, pathToJoin string) string
	// TrimPath returns path with any trailing separator removed.
	TrimPath(path string) string
	// HeadObj fetches object metadata without reading the content.
	HeadObj(path string) (ObjectMeta, error)
	// GetObj fetches object content. Returns *ErrNotFound when the object
	// does not exist.
	GetObj(path string) ([]byte, error)
	// ListObjs returns the objects found under the path prefix.
	ListObjs(path string) ([]ObjectMeta, error)
	// PutObj creates an object with data as content. Readers of the path
	// must never observe a partial write.
	PutObj(path string, data []byte) error
	// RenameObjNoReplace moves an object from src to dst with
	// rename-if-not-exists semantics; *ErrAlreadyExists is returned when
	// dst is already present.
	RenameObjNoReplace(src, dst string) error
	// DeleteObjs deletes the given objects, skipping missing ones.
	DeleteObjs(paths ...string) error
}

// ObjectMeta describes metadata of a storage object.
type ObjectMeta struct {
	// Path component of the object URI.
	Path string
	// The last time the object was modified in the backing store.
	Modified time.Time
}

// NewBackendForURI selects a backend based on the URI scheme and returns
// it together with the root path table names should be joined onto.
// Anything without a scheme (or file://) maps to the local filesystem;
// every other scheme is opened as a gocloud bucket (honoring ?prefix=), so
// the caller must have imported the matching driver (s3blob, gcsblob,
// memblob, ...). Bucket-backed roots address objects by key, hence the
// empty root path.
func NewBackendForURI(uri string) (Backend, string, error) {
	scheme, rest, found := strings.Cut(uri, "://")
	if !found {
		return &FileBackend{}, uri, nil
	}
	if scheme == "file" {
		return &FileBackend{}, "/" + strings.TrimLeft(rest, "/"), nil
	}

	bucket, err := blob.OpenBucket(context.Background(), uri)
	if err != nil {
		return nil, "", fmt.Errorf("unable to open bucket for uri %q: %w", uri, err)
	}
	return NewBlobBackend(bucket), "", nil
}
