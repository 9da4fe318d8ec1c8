// Package media archives inbound attachments in Google Cloud Storage so a
// failed job can be retried without downloading the media again.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// uploadTimeout bounds a single object write.
const uploadTimeout = 2 * time.Minute

// Store is the archive surface the job worker and CLI depend on.
type Store interface {
	// Put writes data under name and returns its gs:// URI.
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	// Fetch reads the object a gs:// URI points to.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// Archive is a Store backed by one GCS bucket.
// It assumes Application Default Credentials are configured.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewArchive creates an Archive writing under gs://bucket/prefix.
func NewArchive(ctx context.Context, bucket, prefix string) (*Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("media archive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	return a.client.Close()
}

// Put implements Store.
func (a *Archive) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	object := path.Join(a.prefix, name)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", object, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload %s: %w", object, err)
	}
	return URI(a.bucket, object), nil
}

// UploadFile copies a local file into the archive.
func (a *Archive) UploadFile(ctx context.Context, name, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	object := path.Join(a.prefix, name)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	w.ContentType = mime.TypeByExtension(path.Ext(filePath))
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy file to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	return URI(a.bucket, object), nil
}

// Fetch implements Store.
func (a *Archive) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

var _ Store = (*Archive)(nil)
