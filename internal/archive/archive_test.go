package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArraysEncodeDecode(t *testing.T) {
	a := NewArrays()
	a.Set("a2_usb", []float64{1, 2, 3})
	a.SetComplex("ab_usb", []complex128{1 + 2i, -3i})

	dir := t.TempDir()
	p := filepath.Join(dir, "caldata.parquet")
	require.NoError(t, a.WriteFile(p))

	back, err := ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2_usb", "ab_usb"}, back.Keys())

	re, err := back.Real("a2_usb")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, re)
	c, err := back.Complex("ab_usb")
	require.NoError(t, err)
	assert.Equal(t, []complex128{1 + 2i, -3i}, c)

	_, err = back.Real("b2_lsb")
	assert.True(t, errors.Is(err, ErrMissingArray))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"dss_cal 2026-10-19 10:00:00", KindDSSCal},
		{"/data/bm_cal_tone 2026-10-19 10:00:00.tar.gz", KindBMCalTone},
		{"bm_cal_noise 2026-10-19 10:00:00/", KindBMCalNoise},
		{"dss_srr 2026", KindDSSSRR},
		{"bm_lnr_tone 2026", KindBMLNR},
		{"bm_lnr_noise 2026", KindBMLNRNoise},
		{"dbm_cal_tone 2020-02-28 19:57:09.tar.gz", KindBMCalTone},
		{"dbm_cal_noise 2020-02-28 19:57:09.tar.gz", KindBMCalNoise},
		{"/data/dbm_lnr_noise 2020-03-02 11:03:40", KindBMLNRNoise},
	}
	for _, tt := range tests {
		got, err := KindOf(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	_, err := KindOf("spectra 2026.tar.gz")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestRunPackAndLoad(t *testing.T) {
	root := t.TempDir()
	run, err := NewRun(root, KindDSSCal, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, run.WriteInfo(map[string]any{"bandwidth": 1080, "lo_freq": 8000}))

	cal := NewArrays()
	cal.Set("a2_lsb", []float64{4, 5})
	require.NoError(t, run.Save("caldata", cal))
	raw := NewArrays()
	raw.Set("a2", []float64{9})
	require.NoError(t, run.SaveRaw("tone_usb", 3, raw))
	// same base name one level deeper must not shadow caldata
	require.NoError(t, NewArrays().WriteFile(filepath.Join(run.Dir, "rawdata_tone_usb", "caldata.parquet")))

	// directory form
	a, kind, err := Load(run.Dir, "caldata")
	require.NoError(t, err)
	assert.Equal(t, KindDSSCal, kind)
	v, err := a.Real("a2_lsb")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, v)

	packed, err := run.Pack()
	require.NoError(t, err)
	_, err = os.Stat(run.Dir)
	assert.True(t, os.IsNotExist(err))

	a, kind, err = Load(packed, "caldata")
	require.NoError(t, err)
	assert.Equal(t, KindDSSCal, kind)
	v, err = a.Real("a2_lsb")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, v)

	_, _, err = Load(packed, "srrdata")
	assert.True(t, errors.Is(err, ErrMissingArray))
}

func TestSubRunLoad(t *testing.T) {
	root := t.TempDir()
	run, err := NewRun(root, KindDSSCal, time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	for lo, v := range map[string]float64{"lo_8000mhz": 8, "lo_9000mhz": 9} {
		sub, err := run.Sub(lo)
		require.NoError(t, err)
		assert.Equal(t, KindDSSCal, sub.Kind)
		cal := NewArrays()
		cal.Set("a2_usb", []float64{v})
		require.NoError(t, sub.Save("caldata", cal))
	}
	_, err = run.Sub("../escape")
	assert.Error(t, err)

	a, _, err := Load(run.Dir, "lo_9000mhz/caldata")
	require.NoError(t, err)
	v, err := a.Real("a2_usb")
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, v)

	packed, err := run.Pack()
	require.NoError(t, err)
	a, kind, err := Load(packed, "lo_9000mhz/caldata")
	require.NoError(t, err)
	assert.Equal(t, KindDSSCal, kind)
	v, err = a.Real("a2_usb")
	require.NoError(t, err)
	assert.Equal(t, []float64{9}, v)

	// a sub run entry is not found under the bare name
	_, _, err = Load(packed, "caldata")
	assert.True(t, errors.Is(err, ErrMissingArray))
}

type fakeS3 struct {
	bucket, key string
	body        []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	b, err := io.ReadAll(in.Body)
	f.body = b
	return &s3.PutObjectOutput{}, err
}

func TestS3Upload(t *testing.T) {
	_, err := NewS3Uploader(&fakeS3{}, "", "", nil)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "dss_cal x.tar.gz")
	require.NoError(t, os.WriteFile(file, []byte("tarball"), 0o644))

	fake := &fakeS3{}
	u, err := NewS3Uploader(fake, "lab-runs", "roach2", nil)
	require.NoError(t, err)
	key, err := u.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "roach2/dss_cal x.tar.gz", key)
	assert.Equal(t, "lab-runs", fake.bucket)
	assert.Equal(t, []byte("tarball"), fake.body)
}
