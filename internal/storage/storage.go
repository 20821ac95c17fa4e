// Package storage holds the offsite archive backends. Uploads are raw file
// bytes keyed by <prefix>/<filename>; transient-failure retry is the storage
// client's concern, not the orchestrator's.
package storage

import (
	"context"
	"io"
	"time"
)

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
}

type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
}
