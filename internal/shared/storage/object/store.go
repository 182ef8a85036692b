package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"translator-backend/internal/shared/util"
)

// ObjectStore defines the contract for saving and retrieving binary objects.
type ObjectStore interface {
	Save(ctx context.Context, userId string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	DownloadURL(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}

// PutArtifact stores a generated document under the owner's artifact namespace
// and returns its storage key.
func PutArtifact(ctx context.Context, store ObjectStore, ownerID, name, mimeType string, data []byte) (string, error) {
	sanitized, err := util.SanitizeFileName(name)
	if err != nil {
		return "", err
	}
	key := path.Join("artifacts", util.HashUserKey(ownerID), fmt.Sprintf("%d_%s", time.Now().UTC().UnixNano(), sanitized))
	if _, err := store.SaveWithKey(ctx, key, mimeType, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return key, nil
}

// ReadAll opens a stored object and reads it fully.
func ReadAll(ctx context.Context, store ObjectStore, storageKey string) ([]byte, error) {
	rc, err := store.Open(ctx, storageKey)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
