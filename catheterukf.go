// Package catheterukf is a real-time state estimator for a two-coil
// magnetically tracked catheter: it fuses a noisy stream of coil-position
// observations into a smooth estimate of the catheter's midpoint pose,
// velocity, acceleration, tip direction and angular rates, using an
// unscented Kalman filter on the Riemannian manifold S² (package
// statespace, package unscented, package kalman/rukf).
//
// Filter is the facade: it fixes the process and measurement noise
// covariances once at construction and exposes Predict, Update and the
// combined Filter step.
package catheterukf

import (
	"fmt"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	"github.com/WrightGroupSRI/catheter-ukf/kalman/rukf"
	"github.com/WrightGroupSRI/catheter-ukf/statespace"
)

// Config holds the construction-time parameters of a Filter.
type Config struct {
	// CoilDistance is the distance between the two coils, in mm.
	CoilDistance float64
	// TipDistance is the distance from the tip to the tip-adjacent coil, in mm.
	TipDistance float64
	// H is the unscented transform's sigma-point spread parameter. If the
	// filter seems to diverge, consider reducing this value.
	H float64
}

// DefaultConfig returns the catheter-tracking defaults: 7.8mm coil
// distance, 9.0mm tip distance, h = 1e-4.
func DefaultConfig() Config {
	return Config{
		CoilDistance: 7.8,
		TipDistance:  9.0,
		H:            1e-4,
	}
}

// Filter is the catheter tracking unscented Kalman filter. It is
// reusable across calls: Predict, Update and Filter take and return
// immutable (state, covariance) value pairs and hold no mutable state of
// their own beyond the fixed configuration built at construction.
type Filter struct {
	ss   *statespace.States
	core *rukf.RUKF

	// Q is the fixed process noise covariance, expressed in the tangent
	// chart of whatever state it is applied to.
	Q *mat.SymDense
	// R is the fixed measurement noise covariance.
	R *mat.SymDense
}

// New creates a Filter from cfg. It returns an error if the configuration
// is invalid.
func New(cfg Config) (*Filter, error) {
	ss, err := statespace.New(cfg.CoilDistance, cfg.TipDistance)
	if err != nil {
		return nil, fmt.Errorf("catheterukf: %v", err)
	}

	core, err := rukf.New(ss, cfg.H)
	if err != nil {
		return nil, fmt.Errorf("catheterukf: %v", err)
	}

	return &Filter{
		ss:   ss,
		core: core,
		Q:    transitionCov(ss.TipOffset),
		R:    measurementCov(),
	}, nil
}

// linearAngularRatio is the conversion factor between a linear error at
// the tip and an equivalent angular error about the midpoint.
func linearAngularRatio(tipOffset float64) float64 {
	return 1.0 / (tipOffset * tipOffset)
}

// transitionCov builds the 18x18 diagonal process noise matrix: position,
// velocity and acceleration variances, repeated for their angular
// counterparts scaled by the linear-to-angular conversion ratio. It is
// assembled from six independent 3x3 scaled-identity blocks, which is
// exactly the shape matrix.BlockSymDiag builds.
func transitionCov(tipOffset float64) *mat.SymDense {
	const (
		qx = 1e-12
		qv = 1e0
		qu = 1e0
	)
	c := linearAngularRatio(tipOffset)
	return matrix.BlockSymDiag([]mat.Symmetric{
		scaledIdentity3(qx), scaledIdentity3(qv), scaledIdentity3(qu),
		scaledIdentity3(c * qx), scaledIdentity3(c * qv), scaledIdentity3(c * qu),
	})
}

// initialCov builds the 18x18 diagonal initial-condition covariance, using
// the same position/velocity/acceleration block pattern as transitionCov
// but with unit variances.
func initialCov(tipOffset float64) *mat.SymDense {
	c := linearAngularRatio(tipOffset)
	return matrix.BlockSymDiag([]mat.Symmetric{
		scaledIdentity3(1), scaledIdentity3(1), scaledIdentity3(1),
		scaledIdentity3(c), scaledIdentity3(c), scaledIdentity3(c),
	})
}

// measurementCov builds the 6x6 measurement noise matrix: 0.001 times a
// block matrix with identity diagonal blocks and 0.6-scaled identity
// off-diagonal blocks, modeling positively correlated coil errors from a
// shared magnetic field distortion. This is not block-diagonal, so it is
// assembled entry by entry rather than via BlockSymDiag.
func measurementCov() *mat.SymDense {
	r := mat.NewSymDense(statespace.ObsDim, nil)
	for i := 0; i < statespace.ObsDim; i++ {
		for j := i; j < statespace.ObsDim; j++ {
			v := 0.0
			sameCoil := (i < 3) == (j < 3)
			if i%3 == j%3 {
				if sameCoil {
					v = 1.0
				} else {
					v = 0.6
				}
			}
			r.SetSym(i, j, 0.001*v)
		}
	}
	return r
}

func scaledIdentity3(v float64) *mat.SymDense {
	s := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		s.SetSym(i, i, v)
	}
	return s
}

// Predict performs the predict phase of the filter.
func (f *Filter) Predict(x *mat.VecDense, P *mat.SymDense, dt float64) (*mat.VecDense, *mat.SymDense, error) {
	xNext, pNext, err := f.core.Predict(x, P, f.Q, dt)
	if err != nil {
		return nil, nil, fmt.Errorf("catheterukf: predict: %v", err)
	}
	return xNext, pNext, nil
}

// Update performs the update phase of the filter, correcting (x, P) with
// observation z.
func (f *Filter) Update(x *mat.VecDense, P *mat.SymDense, z *mat.VecDense) (*mat.VecDense, *mat.SymDense, error) {
	xPlus, pPlus, err := f.core.Update(x, P, f.R, z)
	if err != nil {
		return nil, nil, fmt.Errorf("catheterukf: update: %v", err)
	}
	return xPlus, pPlus, nil
}

// Filter performs a combined predict/update step: Predict(x, P, dt)
// followed by Update(..., z).
func (f *Filter) Filter(x *mat.VecDense, P *mat.SymDense, z *mat.VecDense, dt float64) (*mat.VecDense, *mat.SymDense, error) {
	xPred, pPred, err := f.Predict(x, P, dt)
	if err != nil {
		return nil, nil, err
	}
	return f.Update(xPred, pPred, z)
}

// EstimateInitialState builds a default prior from a single pair of coil
// observations: the midpoint between the coils, zero velocity and
// acceleration, the unit direction from proximal to distal coil, and zero
// angular velocity/acceleration. It returns an error if the two coil
// positions coincide (the direction is undefined).
func (f *Filter) EstimateInitialState(distal, proximal *mat.VecDense) (*mat.VecDense, *mat.SymDense, error) {
	if distal.Len() != 3 || proximal.Len() != 3 {
		return nil, nil, fmt.Errorf("catheterukf: coil positions must be 3-vectors")
	}

	mid := mat.NewVecDense(3, nil)
	mid.AddVec(distal, proximal)
	mid.ScaleVec(0.5, mid)

	dir := mat.NewVecDense(3, nil)
	dir.SubVec(distal, proximal)
	n := mat.Norm(dir, 2)
	if n < 1e-12 {
		return nil, nil, fmt.Errorf("catheterukf: distal and proximal coil positions coincide: direction is undefined")
	}
	dir.ScaleVec(1/n, dir)

	data := make([]float64, statespace.Dim)
	copy(data[statespace.PosIndex:], mid.RawVector().Data)
	copy(data[statespace.DirIndex:], dir.RawVector().Data)
	x := mat.NewVecDense(statespace.Dim, data)

	P := initialCov(f.ss.TipOffset)

	return x, P, nil
}

// TipAndCoils reconstructs the tip, distal coil and proximal coil
// positions implied by state x.
func (f *Filter) TipAndCoils(x *mat.VecDense) (tip, distal, proximal *mat.VecDense) {
	center := mat.NewVecDense(3, []float64{x.AtVec(statespace.PosIndex), x.AtVec(statespace.PosIndex + 1), x.AtVec(statespace.PosIndex + 2)})
	dir := mat.NewVecDense(3, []float64{x.AtVec(statespace.DirIndex), x.AtVec(statespace.DirIndex + 1), x.AtVec(statespace.DirIndex + 2)})

	tip = mat.NewVecDense(3, nil)
	tip.AddScaledVec(center, f.ss.TipOffset, dir)

	distal = mat.NewVecDense(3, nil)
	distal.AddScaledVec(center, f.ss.CoilOffset, dir)

	proximal = mat.NewVecDense(3, nil)
	proximal.AddScaledVec(center, -f.ss.CoilOffset, dir)

	return tip, distal, proximal
}
