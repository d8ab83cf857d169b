package nonlin

import (
	"github.com/pkg/errors"
	"github.com/soypat/goivp"
)

// FixedPoint iterates zcor = G(zcor) without linear solves. Suitable
// for nonstiff implicit couplings.
type FixedPoint struct {
	sys      ivp.SysFunc
	ctest    ivp.ConvTestFunc
	maxIters int

	gval, del ivp.Vector
}

// NewFixedPoint creates a fixed-point solver with the default
// iteration cap.
func NewFixedPoint() *FixedPoint { return &FixedPoint{maxIters: 10} }

// Kind reports the fixed-point formulation.
func (fp *FixedPoint) Kind() ivp.NonlinKind { return ivp.FixedPoint }

// Init sizes the iteration scratch from the template vector.
func (fp *FixedPoint) Init(tmpl ivp.Vector) error {
	fp.gval = tmpl.CloneEmpty()
	fp.del = tmpl.CloneEmpty()
	return nil
}

func (fp *FixedPoint) SetSys(fn ivp.SysFunc) { fp.sys = fn }

// SetLSetup is a no-op; fixed-point iteration uses no linear solver.
func (fp *FixedPoint) SetLSetup(fn func(jbad bool) (bool, error)) {}

// SetLSolve is a no-op; fixed-point iteration uses no linear solver.
func (fp *FixedPoint) SetLSolve(fn func(b ivp.Vector) error) {}

func (fp *FixedPoint) SetConvTest(fn ivp.ConvTestFunc) { fp.ctest = fn }

func (fp *FixedPoint) SetMaxIters(n int) {
	if n > 0 {
		fp.maxIters = n
	}
}

// Solve iterates zcor = G(zcor) from zero until the convergence test
// passes.
func (fp *FixedPoint) Solve(zcor, w ivp.Vector, tol float64, callLSetup bool) (int, error) {
	if fp.sys == nil || fp.ctest == nil {
		return 0, errors.New("nonlin: fixed-point solver not fully wired")
	}
	zcor.Fill(0)
	for iter := 1; ; iter++ {
		if err := fp.sys(zcor, fp.gval); err != nil {
			return iter - 1, err
		}
		fp.del.LinearSum(1, fp.gval, -1, zcor)
		zcor.CopyFrom(fp.gval)
		r, err := fp.ctest(iter, fp.del, w, tol)
		if err != nil {
			return iter, err
		}
		switch r {
		case ivp.ConvSatisfied:
			return iter, nil
		case ivp.ConvRecoverable:
			return iter, errors.Wrap(ivp.ErrConvergence, "nonlin: diverging")
		}
		if iter >= fp.maxIters {
			return iter, errors.Wrap(ivp.ErrConvergence, "nonlin: iteration cap")
		}
	}
}
