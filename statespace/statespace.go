// Package statespace implements the manifold algebra for a two-coil
// magnetically tracked catheter: packing/unpacking the 18-parameter state,
// evolving it under constant-acceleration/constant-angular-acceleration
// dynamics, observing the two coil positions, and converting between the
// global (on-manifold) representation and a local tangent-space chart
// rooted at an arbitrary base state.
//
// The rotational component of the state is a unit vector on S², the 2-
// sphere embedded in R³; Rot, Exp and Log implement the sphere's geodesic
// exponential/logarithm maps, following Hauberg, Lauze and Pedersen's
// "Unscented Kalman Filtering on Riemannian Manifolds".
package statespace

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/WrightGroupSRI/catheter-ukf/internal/linalg"
)

// Dim is the length of a packed state vector: 6 three-vectors (x, v, a, q,
// w, u).
const Dim = 18

// ObsDim is the length of a packed observation vector: distal and
// proximal coil positions.
const ObsDim = 6

// Index offsets of the six 3-vector fields within a packed 18-vector,
// preserved for compatibility with externally stored state vectors.
const (
	PosIndex    = 0
	VelIndex    = 3
	AccIndex    = 6
	DirIndex    = 9
	AngVelIndex = 12
	AngAccIndex = 15
)

// States holds the catheter geometry configuration used to evolve and
// observe states, and to convert between global and local coordinates.
type States struct {
	// CoilDistance is the distance between the two coils, in mm.
	CoilDistance float64
	// TipDistance is the distance from the tip to the tip-adjacent coil, in mm.
	TipDistance float64
	// CoilOffset is half of CoilDistance: the distance from the midpoint to
	// either coil.
	CoilOffset float64
	// TipOffset is the distance from the midpoint to the tip.
	TipOffset float64
}

// New creates a States configuration for the given coil and tip distances
// (both in mm). It returns an error if either distance is not positive.
func New(coilDistance, tipDistance float64) (*States, error) {
	if coilDistance <= 0 {
		return nil, fmt.Errorf("statespace: invalid coil distance: %v", coilDistance)
	}
	if tipDistance <= 0 {
		return nil, fmt.Errorf("statespace: invalid tip distance: %v", tipDistance)
	}

	coilOffset := coilDistance / 2.0
	return &States{
		CoilDistance: coilDistance,
		TipDistance:  tipDistance,
		CoilOffset:   coilOffset,
		TipOffset:    tipDistance + coilOffset,
	}, nil
}

// vec3 arithmetic -----------------------------------------------------------

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func norm(a [3]float64) float64 {
	return math.Sqrt(dot(a, a))
}

func scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

func add(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

// matVec multiplies a 3x3 matrix by a 3-vector.
func matVec(R mat.Matrix, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = R.At(i, 0)*v[0] + R.At(i, 1)*v[1] + R.At(i, 2)*v[2]
	}
	return out
}

// Rot returns the rotation matrix that rotates by angle ‖v‖ about axis
// base × v. Because v is required to be tangent at base (v·base = 0), the
// rotation vector base × v has magnitude exactly ‖v‖.
func Rot(base, v [3]float64) *mat.Dense {
	return rodrigues(cross(base, v))
}

// rodrigues converts a rotation vector (axis * angle) to a rotation matrix.
func rodrigues(rotvec [3]float64) *mat.Dense {
	theta := norm(rotvec)
	if theta < 1e-15 {
		return mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, 1, 0,
			0, 0, 1,
		})
	}

	axis := scale(rotvec, 1/theta)
	K := mat.NewDense(3, 3, []float64{
		0, -axis[2], axis[1],
		axis[2], 0, -axis[0],
		-axis[1], axis[0], 0,
	})

	var k2 mat.Dense
	k2.Mul(K, K)

	r := mat.NewDense(3, 3, nil)
	r.Scale(math.Sin(theta), K)

	var k2Scaled mat.Dense
	k2Scaled.Scale(1-math.Cos(theta), &k2)

	r.Add(r, &k2Scaled)
	for i := 0; i < 3; i++ {
		r.Set(i, i, r.At(i, i)+1)
	}

	return r
}

// Exp maps a tangent increment v at base to the sphere point reached by
// rotating base along the geodesic of length ‖v‖.
func Exp(base, v [3]float64) [3]float64 {
	R := Rot(base, v)
	return matVec(R, base)
}

// Log is the inverse of Exp: it returns the tangent vector at base whose
// geodesic reaches p, for p in the open hemisphere around base. Near the
// antipode of base it is degenerate; near base itself it returns the zero
// vector.
func Log(base, p [3]float64) [3]float64 {
	v := cross(cross(base, p), base)
	s := norm(v)
	if s < 1e-12 {
		return [3]float64{}
	}
	return scale(v, math.Asin(s)/s)
}

// packed state ----------------------------------------------------------

func packGlobal(x, v, a, q, w, u [3]float64) *mat.VecDense {
	n := norm(q)
	q = scale(q, 1/n)
	w = sub(w, scale(q, dot(w, q)))
	u = sub(u, scale(q, dot(u, q)))
	return pack(x, v, a, q, w, u)
}

func packLocal(x, v, a, q, w, u [3]float64) *mat.VecDense {
	return pack(x, v, a, q, w, u)
}

func pack(x, v, a, q, w, u [3]float64) *mat.VecDense {
	data := make([]float64, Dim)
	copy(data[PosIndex:], x[:])
	copy(data[VelIndex:], v[:])
	copy(data[AccIndex:], a[:])
	copy(data[DirIndex:], q[:])
	copy(data[AngVelIndex:], w[:])
	copy(data[AngAccIndex:], u[:])
	return mat.NewVecDense(Dim, data)
}

func unpack(s mat.Vector) (x, v, a, q, w, u [3]float64) {
	at := func(i int) [3]float64 {
		return [3]float64{s.AtVec(i), s.AtVec(i + 1), s.AtVec(i + 2)}
	}
	return at(PosIndex), at(VelIndex), at(AccIndex), at(DirIndex), at(AngVelIndex), at(AngAccIndex)
}

func packObs(distal, proximal [3]float64) *mat.VecDense {
	data := make([]float64, ObsDim)
	copy(data[0:], distal[:])
	copy(data[3:], proximal[:])
	return mat.NewVecDense(ObsDim, data)
}

// EvolveState integrates state by dt under constant linear acceleration
// and constant angular acceleration, carrying the angular velocity/
// acceleration along in the rotating frame of q.
func (s *States) EvolveState(state *mat.VecDense, dt float64) *mat.VecDense {
	x, v, a, q, w, u := unpack(state)

	omega := add(scale(w, dt), scale(u, 0.5*dt*dt))
	R := Rot(q, omega)

	xNext := add(add(x, scale(v, dt)), scale(a, 0.5*dt*dt))
	vNext := add(v, scale(a, dt))
	qNext := matVec(R, q)
	wNext := matVec(R, add(w, scale(u, dt)))
	uNext := matVec(R, u)

	return packGlobal(xNext, vNext, a, qNext, wNext, uNext)
}

// ObserveState returns the predicted distal and proximal coil positions
// for state, concatenated as a 6-vector (distal first).
func (s *States) ObserveState(state *mat.VecDense) *mat.VecDense {
	x, _, _, q, _, _ := unpack(state)
	distal := add(x, scale(q, s.CoilOffset))
	proximal := sub(x, scale(q, s.CoilOffset))
	return packObs(distal, proximal)
}

// TipFromState returns the reconstructed catheter tip position for state.
func (s *States) TipFromState(state *mat.VecDense) *mat.VecDense {
	x, _, _, q, _, _ := unpack(state)
	tip := add(x, scale(q, s.TipOffset))
	return mat.NewVecDense(3, tip[:])
}

// GlobalToLocal expresses global state g in the tangent chart rooted at
// global state base.
func (s *States) GlobalToLocal(base, g *mat.VecDense) *mat.VecDense {
	bx, bv, ba, bq, bw, bu := unpack(base)
	gx, gv, ga, gq, gw, gu := unpack(g)

	lx := sub(gx, bx)
	lv := sub(gv, bv)
	la := sub(ga, ba)
	lq := Log(bq, gq)

	// R rotates bq to gq; R is a rotation matrix, so R^-1 = R^T.
	R := Rot(bq, lq)
	lw := sub(matVec(R.T(), gw), bw)
	lu := sub(matVec(R.T(), gu), bu)

	return packLocal(lx, lv, la, lq, lw, lu)
}

// LocalToGlobal lifts local coordinate l, expressed in the tangent chart
// rooted at global state base, back to a global state.
func (s *States) LocalToGlobal(base, l *mat.VecDense) *mat.VecDense {
	bx, bv, ba, bq, bw, bu := unpack(base)
	lx, lv, la, lq, lw, lu := unpack(l)

	gx := add(bx, lx)
	gv := add(bv, lv)
	ga := add(ba, la)
	gq := Exp(bq, lq)

	R := Rot(bq, lq)
	gw := matVec(R, add(bw, lw))
	gu := matVec(R, add(bu, lu))

	return packGlobal(gx, gv, ga, gq, gw, gu)
}

// LocalIdentity returns the zero vector representing "no displacement" in
// any tangent chart.
func (s *States) LocalIdentity() *mat.VecDense {
	return mat.NewVecDense(Dim, nil)
}

// LocalTransitionCov projects process noise Q onto the tangent space of
// state's direction component, zeroing noise along q in the angular
// velocity and angular acceleration blocks so that additive process noise
// cannot push the state off the manifold.
func (s *States) LocalTransitionCov(state *mat.VecDense, q mat.Symmetric) *mat.SymDense {
	_, _, _, dir, _, _ := unpack(state)

	proj := mat.NewDense(Dim, Dim, nil)
	for i := 0; i < Dim; i++ {
		proj.Set(i, i, 1)
	}
	for bi := 0; bi < 3; bi++ {
		for bj := 0; bj < 3; bj++ {
			delta := dir[bi] * dir[bj]
			proj.Set(AngVelIndex+bi, AngVelIndex+bj, proj.At(AngVelIndex+bi, AngVelIndex+bj)-delta)
			proj.Set(AngAccIndex+bi, AngAccIndex+bj, proj.At(AngAccIndex+bi, AngAccIndex+bj)-delta)
		}
	}

	var tmp mat.Dense
	tmp.Mul(proj, q)
	var out mat.Dense
	out.Mul(&tmp, proj.T())

	return linalg.Symmetrize(&out)
}
