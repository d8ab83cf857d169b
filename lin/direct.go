package lin

import (
	"math"

	"github.com/pkg/errors"
	"github.com/soypat/goivp"
	"gonum.org/v1/gonum/mat"
)

// Direct is a dense direct linear solver using an LU factorization.
type Direct struct {
	lu       mat.LU
	factored bool
}

// NewDirect creates a dense LU solver.
func NewDirect() *Direct { return &Direct{} }

// Kind reports the solver class.
func (d *Direct) Kind() ivp.SolverKind { return ivp.KindDirect }

// Setup factorizes a.
func (d *Direct) Setup(a ivp.Matrix) error {
	ad, ok := a.(*Dense)
	if !ok {
		return errors.Errorf("lin: direct solver needs a dense matrix, got %T", a)
	}
	d.lu.Factorize(ad.m)
	d.factored = true
	return nil
}

// Solve computes x from the current factorization. A singular
// factorization is reported as recoverable so the engine can retry
// with a fresh Jacobian and smaller step; an ill-conditioned but
// nonsingular one is used as is.
func (d *Direct) Solve(a ivp.Matrix, x, b ivp.Vector, tol float64) error {
	if !d.factored {
		return errors.New("lin: solve before setup")
	}
	xr, err := rawOf(x)
	if err != nil {
		return err
	}
	br, err := rawOf(b)
	if err != nil {
		return err
	}
	n := len(br)
	bv := mat.NewVecDense(n, nil)
	copy(bv.RawVector().Data, br)
	xv := mat.NewVecDense(n, xr)
	if err := d.lu.SolveVecTo(xv, false, bv); err != nil {
		if c, near := err.(mat.Condition); near && !math.IsInf(float64(c), 1) {
			// ill-conditioned but usable
			return nil
		}
		return errors.Wrap(ivp.ErrRecoverable, "lin: singular iteration matrix")
	}
	return nil
}
