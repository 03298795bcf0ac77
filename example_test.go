package catheterukf_test

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	catheterukf "github.com/WrightGroupSRI/catheter-ukf"
)

// This example builds a filter with the default catheter geometry,
// forms an initial prior from a single pair of coil observations, and
// runs one predict/update cycle against a repeated observation.
func Example() {
	f, err := catheterukf.New(catheterukf.DefaultConfig())
	if err != nil {
		fmt.Println(err)
		return
	}

	distal := mat.NewVecDense(3, []float64{0, 0, 3.9 + 9.0})
	proximal := mat.NewVecDense(3, []float64{0, 0, 3.9})

	x, P, err := f.EstimateInitialState(distal, proximal)
	if err != nil {
		fmt.Println(err)
		return
	}

	z := mat.NewVecDense(6, nil)
	z.SetVec(0, distal.AtVec(0))
	z.SetVec(1, distal.AtVec(1))
	z.SetVec(2, distal.AtVec(2))
	z.SetVec(3, proximal.AtVec(0))
	z.SetVec(4, proximal.AtVec(1))
	z.SetVec(5, proximal.AtVec(2))

	x, P, err = f.Filter(x, P, z, 0.01)
	if err != nil {
		fmt.Println(err)
		return
	}

	tip, _, _ := f.TipAndCoils(x)
	_ = P

	fmt.Printf("tip z ~= %.1f\n", tip.AtVec(2))
	// Output: tip z ~= 21.3
}
