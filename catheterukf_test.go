package catheterukf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/WrightGroupSRI/catheter-ukf/noise"
)

func TestDefaultConfig(t *testing.T) {
	assert := assert.New(t)
	cfg := DefaultConfig()
	assert.Equal(7.8, cfg.CoilDistance)
	assert.Equal(9.0, cfg.TipDistance)
	assert.Equal(1e-4, cfg.H)
}

func TestNewInvalidConfig(t *testing.T) {
	assert := assert.New(t)

	_, err := New(Config{CoilDistance: -1, TipDistance: 9.0, H: 1e-4})
	assert.Error(err)

	_, err = New(Config{CoilDistance: 7.8, TipDistance: 9.0, H: 0})
	assert.Error(err)
}

func TestEstimateInitialStateAndTipAndCoils(t *testing.T) {
	assert := assert.New(t)

	f, err := New(DefaultConfig())
	assert.NoError(err)

	distal := mat.NewVecDense(3, []float64{0, 0, f.ss.CoilOffset})
	proximal := mat.NewVecDense(3, []float64{0, 0, -f.ss.CoilOffset})

	x, P, err := f.EstimateInitialState(distal, proximal)
	assert.NoError(err)
	assert.NotNil(P)

	tip, d, p := f.TipAndCoils(x)
	assert.InDelta(f.ss.TipOffset, tip.AtVec(2), 1e-9)
	assert.InDelta(distal.AtVec(2), d.AtVec(2), 1e-9)
	assert.InDelta(proximal.AtVec(2), p.AtVec(2), 1e-9)
}

func TestEstimateInitialStateCoincidentCoils(t *testing.T) {
	assert := assert.New(t)

	f, err := New(DefaultConfig())
	assert.NoError(err)

	same := mat.NewVecDense(3, []float64{1, 2, 3})
	_, _, err = f.EstimateInitialState(same, same)
	assert.Error(err)
}

// TestFilterConvergesOnStationaryNoiseFreeTrack runs the full predict/update
// cycle against a perfectly stationary, noise-free observation stream and
// checks that the residual between the estimate and ground truth is smaller
// at iteration 50 than at iteration 10 and ends below 1e-6, and that the
// estimate covariance stays bounded.
func TestFilterConvergesOnStationaryNoiseFreeTrack(t *testing.T) {
	assert := assert.New(t)

	f, err := New(DefaultConfig())
	assert.NoError(err)

	truth := mat.NewVecDense(18, []float64{
		10, 20, 5,
		0, 0, 0,
		0, 0, 0,
		0, 0, 1,
		0, 0, 0,
		0, 0, 0,
	})
	z := f.ss.ObserveState(truth)

	x := mat.NewVecDense(18, []float64{
		10.5, 19.4, 5.6,
		0, 0, 0,
		0, 0, 0,
		0.1, 0.05, 0.99,
		0, 0, 0,
		0, 0, 0,
	})
	P := diagSymN(18, 1.0)

	const dt = 0.01
	const iters = 150

	residualAt := make(map[int]float64)
	var finalResidual float64
	for i := 0; i < iters; i++ {
		x, P, err = f.Filter(x, P, z, dt)
		assert.NoError(err)

		residual := 0.0
		for j := 0; j < 18; j++ {
			d := x.AtVec(j) - truth.AtVec(j)
			residual += d * d
		}
		residual = math.Sqrt(residual)
		finalResidual = residual
		if i == 10 || i == 50 {
			residualAt[i] = residual
		}

		trace := 0.0
		for j := 0; j < 18; j++ {
			trace += P.At(j, j)
		}
		assert.Less(trace, 1e6)
	}

	// the residual should shrink substantially between an early and a
	// later checkpoint, and end up effectively zero for this noise-free,
	// stationary track.
	assert.Less(residualAt[50], residualAt[10])
	assert.Less(finalResidual, 1e-6)
}

// TestFilterTracksNoisyStationaryTarget runs the same stationary scenario
// but perturbs every observation with measurement noise drawn from the
// filter's own R, checking that the estimate stays close to ground truth
// rather than diverging or tracking the noise.
func TestFilterTracksNoisyStationaryTarget(t *testing.T) {
	assert := assert.New(t)

	f, err := New(DefaultConfig())
	assert.NoError(err)

	truth := mat.NewVecDense(18, []float64{
		10, 20, 5,
		0, 0, 0,
		0, 0, 0,
		0, 0, 1,
		0, 0, 0,
		0, 0, 0,
	})
	zTrue := f.ss.ObserveState(truth)

	sampler, err := noise.NewGaussian(f.R, 99)
	assert.NoError(err)

	x := mat.NewVecDense(18, []float64{
		10, 20, 5,
		0, 0, 0,
		0, 0, 0,
		0, 0, 1,
		0, 0, 0,
		0, 0, 0,
	})
	P := diagSymN(18, 0.1)

	const dt = 0.01
	const iters = 400

	for i := 0; i < iters; i++ {
		perturb := sampler.Sample()
		z := mat.NewVecDense(6, nil)
		z.AddVec(zTrue, perturb)

		x, P, err = f.Filter(x, P, z, dt)
		assert.NoError(err)
	}

	posErr := math.Sqrt(
		math.Pow(x.AtVec(0)-truth.AtVec(0), 2) +
			math.Pow(x.AtVec(1)-truth.AtVec(1), 2) +
			math.Pow(x.AtVec(2)-truth.AtVec(2), 2))
	assert.Less(posErr, 0.5)
}

func diagSymN(n int, v float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, v)
	}
	return s
}
