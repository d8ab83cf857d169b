package lin

import (
	"github.com/pkg/errors"
	"github.com/soypat/goivp"
	"gonum.org/v1/exp/linsolve"
	"gonum.org/v1/gonum/mat"
)

// GMRES is a matrix-free iterative linear solver driven through an
// ATimes product, wrapping the gonum linsolve GMRES method.
type GMRES struct {
	atimes   func(v, av ivp.Vector) error
	v, av    ivp.Vector
	restart  int
	maxIters int
	mulErr   error
}

// NewGMRES creates a GMRES solver sized from the template vector.
// restart and maxIters fall back to 5 and 2*restart when nonpositive.
func NewGMRES(tmpl ivp.Vector, restart, maxIters int) *GMRES {
	if restart <= 0 {
		restart = 5
	}
	if maxIters <= 0 {
		maxIters = 2 * restart
	}
	return &GMRES{
		v:        tmpl.CloneEmpty(),
		av:       tmpl.CloneEmpty(),
		restart:  restart,
		maxIters: maxIters,
	}
}

// Kind reports the solver class.
func (g *GMRES) Kind() ivp.SolverKind { return ivp.KindIterative }

// SetATimes installs the operator product.
func (g *GMRES) SetATimes(atimes func(v, av ivp.Vector) error) error {
	g.atimes = atimes
	return nil
}

// Setup checks that an operator product is installed. The matrix
// argument is ignored; GMRES is matrix-free.
func (g *GMRES) Setup(a ivp.Matrix) error {
	if g.atimes == nil {
		return errors.New("lin: gmres setup before SetATimes")
	}
	return nil
}

// Solve iterates on A x = b to the requested residual tolerance.
// Non-convergence within the iteration budget is recoverable.
func (g *GMRES) Solve(a ivp.Matrix, x, b ivp.Vector, tol float64) error {
	br, err := rawOf(b)
	if err != nil {
		return err
	}
	xr, err := rawOf(x)
	if err != nil {
		return err
	}
	n := len(br)
	bv := mat.NewVecDense(n, nil)
	copy(bv.RawVector().Data, br)
	g.mulErr = nil
	res, err := linsolve.Iterative(g, bv, &linsolve.GMRES{Restart: g.restart}, &linsolve.Settings{
		Tolerance:     tol,
		MaxIterations: g.maxIters,
	})
	if g.mulErr != nil {
		return g.mulErr
	}
	if err != nil {
		return errors.Wrap(ivp.ErrRecoverable, "lin: gmres did not converge")
	}
	copy(xr, res.X.RawVector().Data)
	return nil
}

// MulVecTo implements the linsolve operator interface over the ATimes
// closure. Errors from the closure are latched and surfaced by Solve.
func (g *GMRES) MulVecTo(dst *mat.VecDense, trans bool, x mat.Vector) {
	if g.mulErr != nil {
		dst.Zero()
		return
	}
	vr, err := rawOf(g.v)
	if err != nil {
		g.mulErr = err
		dst.Zero()
		return
	}
	for i := 0; i < x.Len(); i++ {
		vr[i] = x.AtVec(i)
	}
	if err := g.atimes(g.v, g.av); err != nil {
		g.mulErr = err
		dst.Zero()
		return
	}
	ar, _ := rawOf(g.av)
	for i := range ar {
		dst.SetVec(i, ar[i])
	}
}
