package bram

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// DataType describes how one BRAM word is stored: big-endian, Size bytes,
// signed two's complement or unsigned. Tags follow the numpy convention used
// in the model parameter files, e.g. ">u8" for accumulated powers and ">i8"
// for cross powers.
type DataType struct {
	Size   int
	Signed bool
}

// ParseDataType parses a numpy-style tag such as ">u8" or ">i4".
func ParseDataType(tag string) (DataType, error) {
	s := strings.TrimSpace(tag)
	if !strings.HasPrefix(s, ">") {
		return DataType{}, fmt.Errorf("data type %q: only big-endian (>) tags are supported", tag)
	}
	s = s[1:]
	if len(s) < 2 {
		return DataType{}, fmt.Errorf("data type %q: too short", tag)
	}
	var signed bool
	switch s[0] {
	case 'i':
		signed = true
	case 'u':
		signed = false
	default:
		return DataType{}, fmt.Errorf("data type %q: kind must be i or u", tag)
	}
	size, err := strconv.Atoi(s[1:])
	if err != nil {
		return DataType{}, fmt.Errorf("data type %q: %w", tag, err)
	}
	switch size {
	case 1, 2, 4, 8:
	default:
		return DataType{}, fmt.Errorf("data type %q: unsupported size %d", tag, size)
	}
	return DataType{Size: size, Signed: signed}, nil
}

// MustDataType is ParseDataType for package-level constants.
func MustDataType(tag string) DataType {
	t, err := ParseDataType(tag)
	if err != nil {
		panic(err)
	}
	return t
}

func (t DataType) String() string {
	kind := "u"
	if t.Signed {
		kind = "i"
	}
	return fmt.Sprintf(">%s%d", kind, t.Size)
}

// Bits returns the word width in bits.
func (t DataType) Bits() int { return 8 * t.Size }

func (t DataType) word(b []byte) uint64 {
	switch t.Size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(b))
	case 4:
		return uint64(binary.BigEndian.Uint32(b))
	default:
		return binary.BigEndian.Uint64(b)
	}
}

func (t DataType) value(b []byte) float64 {
	w := t.word(b)
	if !t.Signed {
		return float64(w)
	}
	switch t.Size {
	case 1:
		return float64(int8(w))
	case 2:
		return float64(int16(w))
	case 4:
		return float64(int32(w))
	default:
		return float64(int64(w))
	}
}

func (t DataType) put(b []byte, v int64) {
	switch t.Size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	case 4:
		binary.BigEndian.PutUint32(b, uint32(v))
	default:
		binary.BigEndian.PutUint64(b, uint64(v))
	}
}

// Decode converts raw big-endian words into float64 values without scaling.
func Decode(raw []byte, t DataType) ([]float64, error) {
	if t.Size == 0 {
		return nil, fmt.Errorf("decode: zero-sized data type")
	}
	if len(raw)%t.Size != 0 {
		return nil, fmt.Errorf("decode: %d bytes is not a multiple of %d", len(raw), t.Size)
	}
	out := make([]float64, len(raw)/t.Size)
	for i := range out {
		out[i] = t.value(raw[i*t.Size:])
	}
	return out, nil
}

// Encode writes integer codes as big-endian words, keeping the low t.Size
// bytes of each value (two's complement for negative codes).
func Encode(values []int64, t DataType) []byte {
	out := make([]byte, len(values)*t.Size)
	for i, v := range values {
		t.put(out[i*t.Size:], v)
	}
	return out
}
