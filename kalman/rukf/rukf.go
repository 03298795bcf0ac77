// Package rukf implements the predict/update equations of an unscented
// Kalman filter on a Riemannian manifold: it orchestrates the manifold
// algebra (package statespace) and the unscented transform (package
// unscented) so that covariances are always interpreted in the tangent
// chart of the state they are paired with, rebasing them between charts
// whenever the mean moves.
//
// For reference, see: Hauberg, Lauze, Pedersen, "Unscented Kalman
// Filtering on Riemannian Manifolds".
package rukf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/WrightGroupSRI/catheter-ukf/internal/linalg"
	"github.com/WrightGroupSRI/catheter-ukf/statespace"
	"github.com/WrightGroupSRI/catheter-ukf/unscented"
)

// RUKF is the Riemannian unscented Kalman filter core. It holds references
// to its two collaborators and is stateless between calls: Predict and
// Update take and return immutable (state, covariance) value pairs.
type RUKF struct {
	ss *statespace.States
	ut *unscented.Transform
}

// New creates an RUKF that uses ss for manifold operations and spreads
// sigma points with parameter h.
func New(ss *statespace.States, h float64) (*RUKF, error) {
	ut, err := unscented.New(h)
	if err != nil {
		return nil, fmt.Errorf("rukf: %v", err)
	}
	return &RUKF{ss: ss, ut: ut}, nil
}

// Predict propagates (x, P) by dt under process noise Q. It returns the
// propagated state and the covariance expressed in the tangent chart of
// the propagated state.
func (k *RUKF) Predict(x *mat.VecDense, P *mat.SymDense, q mat.Symmetric, dt float64) (*mat.VecDense, *mat.SymDense, error) {
	xt := k.ss.EvolveState(x, dt)

	zero := k.ss.LocalIdentity()
	sigmas, w, err := k.ut.SigmasFromStats(zero, P)
	if err != nil {
		return nil, nil, fmt.Errorf("rukf: predict: %v", err)
	}

	_, cols := sigmas.Dims()
	for c := 0; c < cols; c++ {
		col := sigmas.ColView(c).(*mat.VecDense)
		g := k.ss.LocalToGlobal(x, col)
		g = k.ss.EvolveState(g, dt)
		rebased := k.ss.GlobalToLocal(xt, g)
		col.CopyVec(rebased)
	}

	_, pt := k.ut.StatsFromSigmas(sigmas, w)

	qt := k.ss.LocalTransitionCov(xt, q)
	qt.ScaleSym(dt, qt)

	result := mat.NewSymDense(statespace.Dim, nil)
	result.AddSym(pt, qt)

	return xt, result, nil
}

// Update corrects (x, P) with measurement z under measurement noise R. It
// returns the corrected state and the covariance rebased into the tangent
// chart of the corrected state.
func (k *RUKF) Update(x *mat.VecDense, P *mat.SymDense, r mat.Symmetric, z *mat.VecDense) (*mat.VecDense, *mat.SymDense, error) {
	zero := k.ss.LocalIdentity()
	sigmas, w, err := k.ut.SigmasFromStats(zero, P)
	if err != nil {
		return nil, nil, fmt.Errorf("rukf: update: %v", err)
	}

	_, cols := sigmas.Dims()
	obs := mat.NewDense(statespace.ObsDim, cols, nil)
	for c := 0; c < cols; c++ {
		g := k.ss.LocalToGlobal(x, sigmas.ColView(c).(*mat.VecDense))
		o := k.ss.ObserveState(g)
		obs.SetCol(c, obsSlice(o))
	}

	_, s := k.ut.StatsFromSigmas(obs, w)
	s.AddSym(s, r)

	cross := weightedCross(sigmas, w, obs)

	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return nil, nil, fmt.Errorf("rukf: update: failed to invert innovation covariance: %v", err)
	}

	gain := mat.NewDense(statespace.Dim, statespace.ObsDim, nil)
	gain.Mul(cross, &sInv)

	innovation := mat.NewVecDense(statespace.ObsDim, nil)
	innovation.SubVec(z, k.ss.ObserveState(x))

	localCorrection := mat.NewVecDense(statespace.Dim, nil)
	localCorrection.MulVec(gain, innovation)

	xPlus := k.ss.LocalToGlobal(x, localCorrection)

	var kp mat.Dense
	kp.Mul(gain, s)
	var kskt mat.Dense
	kskt.Mul(&kp, gain.T())

	var pMinus mat.Dense
	pMinus.Sub(P, &kskt)
	pMinusSym := linalg.Symmetrize(&pMinus)

	// Rebase: the linear update above produced a covariance anchored at
	// x, but the posterior mean moved to xPlus, so re-express it in the
	// tangent chart of xPlus.
	rebaseSigmas, w2, err := k.ut.SigmasFromStats(zero, pMinusSym)
	if err != nil {
		return nil, nil, fmt.Errorf("rukf: update: rebase: %v", err)
	}
	_, rcols := rebaseSigmas.Dims()
	for c := 0; c < rcols; c++ {
		col := rebaseSigmas.ColView(c).(*mat.VecDense)
		g := k.ss.LocalToGlobal(x, col)
		rebased := k.ss.GlobalToLocal(xPlus, g)
		col.CopyVec(rebased)
	}
	_, pPlus := k.ut.StatsFromSigmas(rebaseSigmas, w2)

	return xPlus, pPlus, nil
}

func obsSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

// weightedCross computes the cross-covariance C = sigmas * diag(w) * obs^T
// used for the Kalman gain. obs is deliberately not mean-subtracted here:
// the cross term uses raw sigma-point observations rather than their
// weighted mean.
func weightedCross(sigmas *mat.Dense, w []float64, obs *mat.Dense) *mat.Dense {
	sRows, cols := sigmas.Dims()
	oRows, _ := obs.Dims()

	c := mat.NewDense(sRows, oRows, nil)
	var outer mat.Dense
	for col := 0; col < cols; col++ {
		outer.Mul(sigmas.ColView(col), obs.ColView(col).(*mat.VecDense).T())
		outer.Scale(w[col], &outer)
		c.Add(c, &outer)
	}
	return c
}
