package object

import (
	"context"
	"io"
)

// Object describes a saved file.
type Object struct {
	Key         string `json:"key"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
	SHA256      string `json:"sha256"`
}

// ObjectStore saves retrieved output files under an owner namespace.
// File names are kept verbatim apart from path separators.
type ObjectStore interface {
	Save(ctx context.Context, ownerID string, fileName string, r io.Reader) (Object, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}
