package util

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const stripes = 256

// Striped serializes read-modify-write sequences per key on stores that have
// no conditional primitives of their own.
type Striped struct {
	mus [stripes]sync.Mutex
}

func (s *Striped) For(key string) *sync.Mutex {
	return &s.mus[xxhash.Sum64String(key)%stripes]
}
