package swapper

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX protobuf field numbers used when scanning a model for initializers.
const (
	modelGraphField       = 7 // ModelProto.graph
	graphInitializerField = 5 // GraphProto.initializer
	tensorDimsField       = 1
	tensorDataTypeField   = 2
	tensorFloatDataField  = 4
	tensorNameField       = 8
	tensorRawDataField    = 9

	onnxFloat = 1 // TensorProto.DataType FLOAT
)

// initializer is the subset of an ONNX TensorProto needed to recover a float
// matrix.
type initializer struct {
	name     string
	dims     []int64
	dataType uint64
	raw      []byte
	floats   []float32
}

func (t *initializer) values() ([]float32, error) {
	if t.dataType != onnxFloat {
		return nil, fmt.Errorf("initializer %q has data type %d, want float", t.name, t.dataType)
	}
	if len(t.floats) > 0 {
		return t.floats, nil
	}
	if len(t.raw)%4 != 0 {
		return nil, fmt.Errorf("initializer %q raw data has %d bytes", t.name, len(t.raw))
	}
	out := make([]float32, len(t.raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.raw[i*4:]))
	}
	return out, nil
}

// isEmapName reports whether an initializer name marks the EMAP matrix.
func isEmapName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "emap") || n == "e_map" || n == "embedding_map"
}

// ExtractEmap recovers the EMAP matrix stored as an initializer of the swap
// model: the first 512x512 float tensor whose name mentions emap in any
// case, else the first 512x512 float tensor.
func ExtractEmap(model []byte) (*Emap, error) {
	graph, err := messageField(model, modelGraphField)
	if err != nil {
		return nil, fmt.Errorf("failed to read model graph: %w", err)
	}

	var candidate, named *initializer
	err = walk(graph, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != graphInitializerField || typ != protowire.BytesType {
			return nil
		}
		t, err := parseInitializer(v)
		if err != nil {
			return err
		}
		if len(t.dims) != 2 || t.dims[0] != EmbeddingDim || t.dims[1] != EmbeddingDim || t.dataType != onnxFloat {
			return nil
		}
		if candidate == nil {
			candidate = t
		}
		if named == nil && isEmapName(t.name) {
			named = t
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan initializers: %w", err)
	}
	if named != nil {
		candidate = named
	}
	if candidate == nil {
		return nil, fmt.Errorf("no %dx%d float initializer in model", EmbeddingDim, EmbeddingDim)
	}
	vals, err := candidate.values()
	if err != nil {
		return nil, err
	}
	return NewEmap(vals)
}

func parseInitializer(b []byte) (*initializer, error) {
	t := &initializer{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case tensorDimsField:
			if typ == protowire.BytesType {
				for len(v) > 0 {
					d, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					t.dims = append(t.dims, int64(d))
					v = v[n:]
				}
			} else {
				t.dims = append(t.dims, int64(u))
			}
		case tensorDataTypeField:
			t.dataType = u
		case tensorNameField:
			t.name = string(v)
		case tensorRawDataField:
			t.raw = v
		case tensorFloatDataField:
			if typ == protowire.BytesType {
				for i := 0; i+4 <= len(v); i += 4 {
					t.floats = append(t.floats, math.Float32frombits(binary.LittleEndian.Uint32(v[i:])))
				}
			} else {
				t.floats = append(t.floats, math.Float32frombits(uint32(u)))
			}
		}
		return nil
	})
	return t, err
}

// messageField returns the first length-delimited field num of b.
func messageField(b []byte, num protowire.Number) ([]byte, error) {
	var found []byte
	err := walk(b, func(n protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if found == nil && n == num && typ == protowire.BytesType {
			found = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("field %d not present", num)
	}
	return found, nil
}

// walk calls fn for each top-level field of a protobuf message. Bytes fields
// pass their payload in v; varint and fixed fields pass their value in u.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var (
			v []byte
			u uint64
		)
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			u = uint64(x)
		case protowire.Fixed64Type:
			u, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, typ, v, u); err != nil {
			return err
		}
	}
	return nil
}
