package sweep

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestChannels(t *testing.T) {
	assert.Equal(t, []int{1, 129, 257}, TestChannels(1, 300, 128))
	assert.Len(t, TestChannels(1, 2048, 8), 256)
	assert.Nil(t, TestChannels(1, 10, 0))
}

func TestIFFreqsExcludesEndpoint(t *testing.T) {
	f := IFFreqs(1080, 2048)
	require.Len(t, f, 2048)
	assert.Equal(t, 0.0, f[0])
	assert.InDelta(t, 1080-1080.0/2048, f[2047], 1e-9)
}

func TestRFFreqs(t *testing.T) {
	assert.Equal(t, []float64{8010, 8020}, RFFreqs(8000, []float64{10, 20}, USB))
	assert.Equal(t, []float64{7990, 7980}, RFFreqs(8000, []float64{10, 20}, LSB))
}

func TestDensifyKeepsSamplesAndLength(t *testing.T) {
	full := IFFreqs(1080, 2048)
	chans := TestChannels(1, 2048, 128)
	test := Pick(full, chans)
	sparse := make([]float64, len(test))
	for i := range sparse {
		sparse[i] = math.Sin(float64(i))
	}
	dense, err := Densify(test, full, sparse)
	require.NoError(t, err)
	require.Len(t, dense, 2048)
	for i, c := range chans {
		assert.Equal(t, sparse[i], dense[c], "channel %d", c)
	}
	// held constant outside the sampled range
	assert.Equal(t, sparse[0], dense[0])
	assert.Equal(t, sparse[len(sparse)-1], dense[2047])
	// halfway between two samples
	mid := (chans[0] + chans[1]) / 2
	assert.InDelta(t, (sparse[0]+sparse[1])/2, dense[mid], 1e-9)
}

func TestDensifySingleSample(t *testing.T) {
	dense, err := Densify([]float64{5}, []float64{0, 5, 10}, []float64{3})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 3, 3}, dense)
}

func TestDensifyErrors(t *testing.T) {
	_, err := Densify(nil, []float64{1}, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
	_, err = Densify([]float64{1, 2}, []float64{1}, []float64{1})
	require.Error(t, err)
}

func TestDensifyComplex(t *testing.T) {
	dense, err := DensifyComplex([]float64{0, 10}, []float64{0, 5, 10}, []complex128{0, 10 - 20i})
	require.NoError(t, err)
	assert.Equal(t, []complex128{0, 5 - 10i, 10 - 20i}, dense)
}
