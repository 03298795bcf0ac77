package noise

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewGaussian(t *testing.T) {
	assert := assert.New(t)

	cov := mat.NewSymDense(2, []float64{1, 0.1, 0.1, 1})
	g, err := NewGaussian(cov, 42)
	assert.NoError(err)
	assert.NotNil(g)
}

func TestSampleHasExpectedLength(t *testing.T) {
	assert := assert.New(t)

	cov := mat.NewSymDense(6, []float64{
		1, 0, 0, 0.6, 0, 0,
		0, 1, 0, 0, 0.6, 0,
		0, 0, 1, 0, 0, 0.6,
		0.6, 0, 0, 1, 0, 0,
		0, 0.6, 0, 0, 1, 0,
		0, 0, 0.6, 0, 0, 1,
	})
	g, err := NewGaussian(cov, 7)
	assert.NoError(err)

	s := g.Sample()
	assert.Equal(6, s.Len())
}

func TestSampleMeanConvergesToZero(t *testing.T) {
	assert := assert.New(t)

	cov := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	g, err := NewGaussian(cov, 1)
	assert.NoError(err)

	const n = 20000
	sum := [2]float64{}
	for i := 0; i < n; i++ {
		s := g.Sample()
		sum[0] += s.AtVec(0)
		sum[1] += s.AtVec(1)
	}

	assert.InDelta(0.0, sum[0]/n, 0.05)
	assert.InDelta(0.0, sum[1]/n, 0.05)
}
