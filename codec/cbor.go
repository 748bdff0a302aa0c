package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// Master records are compared byte for byte by CAS, so CBOR always uses the
// core deterministic encoding. Duplicate map keys are rejected on decode.
var (
	cborEnc = mustMode(cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		ShortestFloat: cbor.ShortestFloat16,
		NaNConvert:    cbor.NaNConvert7e00,
		InfConvert:    cbor.InfConvertFloat16,
		IndefLength:   cbor.IndefLengthForbidden,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode)
	cborDec = mustMode(cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode)
)

func mustMode[M any](build func() (M, error)) M {
	m, err := build()
	if err != nil {
		panic("codec: cbor options: " + err.Error())
	}
	return m
}

// CBOR is the compact binary record codec. The zero value is ready to use.
type CBOR[V any] struct{}

func (CBOR[V]) Encode(v V) ([]byte, error) { return cborEnc.Marshal(v) }
func (CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := cborDec.Unmarshal(b, &v)
	return v, err
}
