package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Sized.Decode for payloads over the bound.
var ErrTooLarge = errors.New("codec: payload too large")

// Sized bounds the payload a wrapped codec will decode, so a corrupt or
// foreign entry in a shared store cannot force a large allocation.
// Max <= 0 disables the bound. Encoding is never limited.
type Sized[V any] struct {
	Codec[V]
	Max int
}

func (s Sized[V]) Decode(b []byte) (V, error) {
	if s.Max > 0 && len(b) > s.Max {
		var zero V
		return zero, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(b), s.Max)
	}
	return s.Codec.Decode(b)
}
