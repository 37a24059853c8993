package storage

import (
	"context"
	"fmt"
	"io"
	gopath "path"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobBackend stores objects in a gocloud bucket; paths are bucket keys.
type BlobBackend struct {
	bucket *blob.Bucket
}

var _ Backend = &BlobBackend{}

func NewBlobBackend(bucket *blob.Bucket) *BlobBackend {
	return &BlobBackend{bucket: bucket}
}

func (b *BlobBackend) JoinPath(path, pathToJoin string) string {
	return gopath.Join(path, pathToJoin)
}

func (b *BlobBackend) TrimPath(path string) string {
	return gopath.Clean(path)
}

func (b *BlobBackend) HeadObj(path string) (ObjectMeta, error) {
	attr, err := b.bucket.Attributes(context.Background(), path)
	switch gcerrors.Code(err) {
	case gcerrors.OK:
		return ObjectMeta{Path: path, Modified: attr.ModTime}, nil
	case gcerrors.NotFound:
		return ObjectMeta{}, &ErrNotFound{Inner: err, Path: path}
	default:
		return ObjectMeta{}, fmt.Errorf("unable to get attributes for key '%s': %w", path, err)
	}
}

func (b *BlobBackend) GetObj(path string) ([]byte, error) {
	data, err := b.bucket.ReadAll(context.Background(), path)
	switch gcerrors.Code(err) {
	case gcerrors.OK:
		return data, nil
	case gcerrors.NotFound:
		return nil, &ErrNotFound{Inner: err, Path: path}
	default:
		return nil, fmt.Errorf("unable to read key '%s': %w", path, err)
	}
}

func (b *BlobBackend) ListObjs(path string) ([]ObjectMeta, error) {
	ctx := context.Background()
	iter := b.bucket.List(&blob.ListOptions{Prefix: path, Delimiter: "/"})

	var results []ObjectMeta
	for {
		o, err := iter.Next(ctx)
		if err == io.EOF {
			return results, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error while listing objects: %w", err)
		}

		results = append(results, ObjectMeta{
			Path:     o.Key,
			Modified: o.ModTime,
		})
	}
}

func (b *BlobBackend) PutObj(path string, data []byte) error {
	ctx := context.Background()
	w, err := b.bucket.NewWriter(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("unable to create writer for key '%s': %w", path, err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("unable to write key '%s': %w", path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("unable to close writer for key '%s': %w", path, err)
	}

	return nil
}

func (b *BlobBackend) RenameObjNoReplace(src, dst string) error {
	ctx := context.Background()

	exists, err := b.bucket.Exists(ctx, dst)
	if err != nil {
		return fmt.Errorf("unable to check if dst exists: %w", err)
	}
	if exists {
		return &ErrAlreadyExists{Path: dst}
	}

	if err := b.bucket.Copy(ctx, dst, src, nil); err != nil {
		return fmt.Errorf("unable to copy src to dst: %w", err)
	}

	if err := b.bucket.Delete(ctx, src); err != nil {
		return fmt.Errorf("unable to delete src: %w", err)
	}

	return nil
}

func (b *BlobBackend) DeleteObjs(paths ...string) error {
	ctx := context.Background()
	for _, p := range paths {
		err := b.bucket.Delete(ctx, p)
		if gcerrors.Code(err) == gcerrors.NotFound {
			continue
		}
		if err != nil {
			return fmt.Errorf("error while deleting key '%s': %w", p, err)
		}
	}
	return nil
}
