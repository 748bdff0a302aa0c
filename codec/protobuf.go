package codec

import "google.golang.org/protobuf/proto"

// Protobuf stores generated messages. M is the message struct and PM its
// pointer, so the zero value can allocate a fresh message per Decode:
//
//	codec.Protobuf[mypb.Doc, *mypb.Doc]{}
type Protobuf[M any, PM interface {
	*M
	proto.Message
}] struct{}

func (Protobuf[M, PM]) Encode(v PM) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (Protobuf[M, PM]) Decode(b []byte) (PM, error) {
	m := PM(new(M))
	if err := proto.Unmarshal(b, m); err != nil {
		var zero PM
		return zero, err
	}
	return m, nil
}
