// Package noise draws multivariate-normal samples used by this module's
// tests to synthesize a noisy coil-position stream. The filter's own
// predict/update equations never sample noise internally (process and
// measurement noise are added analytically), so this sampler exists
// purely as test-data tooling.
package noise

import (
	"fmt"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/WrightGroupSRI/catheter-ukf/internal/linalg"
)

// Gaussian draws samples from a zero-mean multivariate normal distribution
// with a fixed covariance.
type Gaussian struct {
	dist *distmv.Normal
}

// NewGaussian creates a Gaussian sampler for the given covariance, seeded
// from seed. It returns an error if cov is not a valid covariance matrix.
func NewGaussian(cov mat.Symmetric, seed uint64) (*Gaussian, error) {
	dist, ok := distmv.NewNormal(make([]float64, cov.Symmetric()), cov, rand.New(rand.NewSource(seed)))
	if !ok {
		return nil, fmt.Errorf("noise: failed to construct Gaussian with covariance %v", linalg.Format(cov))
	}
	return &Gaussian{dist: dist}, nil
}

// Sample draws one zero-mean sample and returns it.
func (g *Gaussian) Sample() *mat.VecDense {
	r := g.dist.Rand(nil)
	return mat.NewVecDense(len(r), r)
}
