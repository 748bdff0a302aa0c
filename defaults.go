package chunkstream

import "time"

const (
	defaultChunkSize    = 256 << 10
	defaultTimeout      = 10 * time.Second
	defaultChunkRetries = 3
	defaultRetryDelay   = 10 * time.Millisecond
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
