// Package archive stores calibration runs: named arrays in parquet files,
// run metadata in testinfo.json, the run directory packed as .tar.gz.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
)

// ErrMissingArray is returned when a requested array is not in the set.
var ErrMissingArray = errors.New("array not found")

type row struct {
	Key   string  `parquet:"key,dict"`
	Index int64   `parquet:"index"`
	Re    float64 `parquet:"re"`
	Im    float64 `parquet:"im"`
}

// Arrays is a named set of real or complex vectors, the unit of storage.
type Arrays struct {
	data map[string][]complex128
}

func NewArrays() *Arrays { return &Arrays{data: map[string][]complex128{}} }

// Set stores a real vector.
func (a *Arrays) Set(key string, v []float64) {
	c := make([]complex128, len(v))
	for i, x := range v {
		c[i] = complex(x, 0)
	}
	a.data[key] = c
}

// SetComplex stores a complex vector.
func (a *Arrays) SetComplex(key string, v []complex128) {
	a.data[key] = append([]complex128(nil), v...)
}

// Real returns the real part of the named array.
func (a *Arrays) Real(key string) ([]float64, error) {
	c, ok := a.data[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrMissingArray)
	}
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = real(v)
	}
	return out, nil
}

func (a *Arrays) Complex(key string) ([]complex128, error) {
	c, ok := a.data[key]
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrMissingArray)
	}
	return append([]complex128(nil), c...), nil
}

// Keys returns the array names in sorted order.
func (a *Arrays) Keys() []string {
	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode writes the set as zstd-compressed parquet.
func (a *Arrays) Encode(w io.Writer) error {
	pw := parquet.NewGenericWriter[row](w, parquet.Compression(&parquet.Zstd))
	for _, key := range a.Keys() {
		vals := a.data[key]
		rows := make([]row, len(vals))
		for i, v := range vals {
			rows[i] = row{Key: key, Index: int64(i), Re: real(v), Im: imag(v)}
		}
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write %q: %w", key, err)
		}
	}
	return pw.Close()
}

// DecodeArrays reads a set written by Encode.
func DecodeArrays(data []byte) (*Arrays, error) {
	gr := parquet.NewGenericReader[row](bytes.NewReader(data))
	defer gr.Close()

	a := NewArrays()
	batch := make([]row, 1024)
	for {
		n, err := gr.Read(batch)
		for _, r := range batch[:n] {
			vals := a.data[r.Key]
			if int(r.Index) >= len(vals) {
				grown := make([]complex128, r.Index+1)
				copy(grown, vals)
				vals = grown
			}
			vals[r.Index] = complex(r.Re, r.Im)
			a.data[r.Key] = vals
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read arrays: %w", err)
		}
	}
	return a, nil
}

// WriteFile stores the set at path, creating parent directories.
func (a *Arrays) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := a.Encode(&buf); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadFile loads a set stored by WriteFile.
func ReadFile(path string) (*Arrays, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := DecodeArrays(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}
