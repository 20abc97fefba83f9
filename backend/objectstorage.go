package backend

import "context"

// ObjectStorage is a typed adapter mapping a logical identifier to a
// physical key on some backend. Generic over the payload type T, it replaces
// the source framework's get_upload_type/get_download_type runtime
// type-query operations with a compile-time guarantee: a Go ObjectStorage[T]
// can only ever round-trip T.
type ObjectStorage[T any] interface {
	Upload(ctx context.Context, id string, value T) error
	Download(ctx context.Context, id string) (T, error)
	CheckExists(ctx context.Context, id string) (bool, error)
	Drop(ctx context.Context, id string) error
}
