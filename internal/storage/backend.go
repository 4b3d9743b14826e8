package storage

import "context"

// Entry is one key/value pair written by PutMany.
type Entry struct {
	Key   string
	Value []byte
}

// Backend is a durable key/value store used by Adapter.
//
// Get reports absence with found=false and a nil error. Delete of a missing
// key is a no-op. Capacity rejections are apperr.ErrQuotaExceeded.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	PutMany(ctx context.Context, entries []Entry) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// KV is the surface collaborators persist through.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	PutMany(ctx context.Context, entries []Entry) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

var _ KV = (*Adapter)(nil)
