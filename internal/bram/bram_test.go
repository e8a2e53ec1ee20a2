package bram

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBlocks struct {
	data   map[string][]byte
	reads  []string
	truncs map[string]int
}

func (m *memBlocks) Read(_ context.Context, name string, size, offset int) ([]byte, error) {
	m.reads = append(m.reads, name)
	d, ok := m.data[name]
	if !ok {
		return nil, fmt.Errorf("no such device %s", name)
	}
	end := offset + size
	if end > len(d) {
		end = len(d)
	}
	if n, ok := m.truncs[name]; ok {
		end = offset + n
	}
	return append([]byte(nil), d[offset:end]...), nil
}

func (m *memBlocks) Write(_ context.Context, name string, data []byte, offset int) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	buf := m.data[name]
	if len(buf) < offset+len(data) {
		grown := make([]byte, offset+len(data))
		copy(grown, buf)
		buf = grown
	}
	copy(buf[offset:], data)
	m.data[name] = buf
	return nil
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		tag     string
		want    DataType
		wantErr bool
	}{
		{tag: ">u8", want: DataType{Size: 8}},
		{tag: ">i8", want: DataType{Size: 8, Signed: true}},
		{tag: ">i4", want: DataType{Size: 4, Signed: true}},
		{tag: " >u2", want: DataType{Size: 2}},
		{tag: "<u8", wantErr: true},
		{tag: ">f8", wantErr: true},
		{tag: ">i3", wantErr: true},
		{tag: ">", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ParseDataType(tt.tag)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeSignedAndUnsigned(t *testing.T) {
	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw, uint64(1)<<40)
	var neg int64 = -12345
	binary.BigEndian.PutUint64(raw[8:], uint64(neg))

	u, err := Decode(raw, MustDataType(">u8"))
	require.NoError(t, err)
	assert.Equal(t, float64(uint64(1)<<40), u[0])

	s, err := Decode(raw, MustDataType(">i8"))
	require.NoError(t, err)
	assert.Equal(t, -12345.0, s[1])

	_, err = Decode(raw[:7], MustDataType(">i4"))
	require.Error(t, err)
}

func TestEncodeNegativeTwosComplement(t *testing.T) {
	out := Encode([]int64{-1, 1 << 27}, MustDataType(">i4"))
	require.Len(t, out, 8)
	assert.Equal(t, uint32(0xffffffff), binary.BigEndian.Uint32(out))
	assert.Equal(t, uint32(1<<27), binary.BigEndian.Uint32(out[4:]))

	back, err := Decode(out, MustDataType(">i4"))
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 1 << 27}, back)
}

func TestInterleaveRoundTrip(t *testing.T) {
	for _, k := range []int{1, 2, 3, 8} {
		for _, l := range []int{1, 4, 256} {
			ref := make([]int, k*l)
			for i := range ref {
				ref[i] = i*7 - 3
			}
			banks, err := Split(ref, k)
			require.NoError(t, err)
			require.Len(t, banks, k)
			for _, b := range banks {
				require.Len(t, b, l)
			}
			back, err := Interleave(banks)
			require.NoError(t, err)
			assert.Equal(t, ref, back, "k=%d l=%d", k, l)
		}
	}
}

func TestInterleaveOrder(t *testing.T) {
	banks := [][]int{{0, 3, 6}, {1, 4, 7}, {2, 5, 8}}
	out, err := Interleave(banks)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, out)
}

func TestUnequalBanksRejected(t *testing.T) {
	_, err := Interleave([][]int{{0, 2, 4}, {1, 3}})
	assert.ErrorIs(t, err, ErrBankLength)

	_, err = Split([]int{0, 1, 2, 3, 4}, 2)
	assert.ErrorIs(t, err, ErrBankLength)

	_, err = Split([]int{0, 1}, 0)
	assert.Error(t, err)

	err = WriteInterleaved(context.Background(), nil, []string{"a", "b"}, []int64{1, 2, 3}, MustDataType(">i4"))
	assert.ErrorIs(t, err, ErrBankLength)
}

func testLayout(names ...string) Layout {
	return Layout{Names: names, AddrWidth: 2, WordWidth: 64, Type: MustDataType(">i8")}
}

func TestReadInterleaved(t *testing.T) {
	mem := &memBlocks{}
	codes := []int64{10, -11, 12, 13, -14, 15, 16, 17}
	require.NoError(t, WriteInterleaved(context.Background(), mem, []string{"b0", "b1"}, codes, MustDataType(">i8")))

	got, err := ReadInterleaved(context.Background(), mem, testLayout("b0", "b1"))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, -11, 12, 13, -14, 15, 16, 17}, got)
	assert.Equal(t, []string{"b0", "b1"}, mem.reads)
}

func TestReadInterleavedShortRead(t *testing.T) {
	mem := &memBlocks{truncs: map[string]int{"b1": 16}}
	require.NoError(t, WriteInterleaved(context.Background(), mem, []string{"b0", "b1"}, make([]int64, 8), MustDataType(">i8")))

	_, err := ReadInterleaved(context.Background(), mem, testLayout("b0", "b1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortRead), "got %v", err)
}

func TestReadComplex(t *testing.T) {
	mem := &memBlocks{}
	ctx := context.Background()
	require.NoError(t, WriteInterleaved(ctx, mem, []string{"re0", "re1"}, []int64{1, 2, 3, 4, 5, 6, 7, 8}, MustDataType(">i8")))
	require.NoError(t, WriteInterleaved(ctx, mem, []string{"im0", "im1"}, []int64{-1, -2, -3, -4, -5, -6, -7, -8}, MustDataType(">i8")))

	got, err := ReadComplex(ctx, mem, testLayout("re0", "re1"), testLayout("im0", "im1"))
	require.NoError(t, err)
	require.Len(t, got, 8)
	assert.Equal(t, complex(3, -3), got[2])
}

func TestLayoutValidate(t *testing.T) {
	l := testLayout("a")
	l.WordWidth = 32
	require.Error(t, l.Validate())
	require.Error(t, Layout{AddrWidth: 8, Type: MustDataType(">u8")}.Validate())
	require.NoError(t, testLayout("a", "b").Validate())
	assert.Equal(t, 8, testLayout("a", "b").Channels())
}

func TestBankNames(t *testing.T) {
	assert.Equal(t, []string{"dout_a2_0", "dout_a2_1"}, BankNames("dout_a2_%d", 2))
	assert.Equal(t, "bram_mult1_7_bram_im", BankNames("bram_mult1_%d_bram_im", 8)[7])
	assert.Empty(t, BankNames("x%d", 0))
}
