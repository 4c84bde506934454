package codec

import "fmt"

// GRPCRaw is a gRPC codec that moves already-serialized protobuf bytes
// through unchanged. Values must be *[]byte. It registers under the name
// "proto", so peers see ordinary application/grpc+proto traffic.
type GRPCRaw struct{}

func (GRPCRaw) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case *[]byte:
		return *b, nil
	case []byte:
		return b, nil
	}
	return nil, fmt.Errorf("GRPCRaw: cannot marshal %T", v)
}

func (GRPCRaw) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("GRPCRaw: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

func (GRPCRaw) Name() string {
	return "proto"
}
