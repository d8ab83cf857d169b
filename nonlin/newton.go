// Package nonlin provides the nonlinear-solver capabilities the
// integrator couples to implicit steppers: a modified Newton iteration
// and a fixed-point (functional) iteration.
package nonlin

import (
	"github.com/pkg/errors"
	"github.com/soypat/goivp"
)

// Newton is a modified Newton iteration: the iteration matrix is
// refreshed through the linear setup hook only when the engine or a
// convergence failure demands it.
type Newton struct {
	sys      ivp.SysFunc
	lsetup   func(jbad bool) (bool, error)
	lsolve   func(b ivp.Vector) error
	ctest    ivp.ConvTestFunc
	maxIters int

	res, del ivp.Vector
}

// NewNewton creates a Newton solver with the default iteration cap.
func NewNewton() *Newton { return &Newton{maxIters: 3} }

// Kind reports the residual formulation.
func (nw *Newton) Kind() ivp.NonlinKind { return ivp.RootFind }

// Init sizes the iteration scratch from the template vector.
func (nw *Newton) Init(tmpl ivp.Vector) error {
	nw.res = tmpl.CloneEmpty()
	nw.del = tmpl.CloneEmpty()
	return nil
}

func (nw *Newton) SetSys(fn ivp.SysFunc) { nw.sys = fn }

func (nw *Newton) SetLSetup(fn func(jbad bool) (bool, error)) { nw.lsetup = fn }

func (nw *Newton) SetLSolve(fn func(b ivp.Vector) error) { nw.lsolve = fn }

func (nw *Newton) SetConvTest(fn ivp.ConvTestFunc) { nw.ctest = fn }

func (nw *Newton) SetMaxIters(n int) {
	if n > 0 {
		nw.maxIters = n
	}
}

// Solve refines zcor from zero until the convergence test passes. On a
// convergence failure with a possibly stale Jacobian it retries once
// after forcing a fresh linear setup.
func (nw *Newton) Solve(zcor, w ivp.Vector, tol float64, callLSetup bool) (int, error) {
	if nw.sys == nil || nw.lsolve == nil || nw.ctest == nil {
		return 0, errors.New("nonlin: newton solver not fully wired")
	}
	total := 0
	jbad := false
	for pass := 0; pass < 2; pass++ {
		if nw.lsetup != nil && (callLSetup || jbad) {
			if _, err := nw.lsetup(jbad); err != nil {
				return total, err
			}
		}
		zcor.Fill(0)
		iters, err := nw.iterate(zcor, w, tol)
		total += iters
		if err == nil {
			return total, nil
		}
		if !errors.Is(err, ivp.ErrConvergence) || nw.lsetup == nil || jbad {
			return total, err
		}
		// one more pass with a forced Jacobian refresh
		jbad = true
	}
	return total, errors.Wrap(ivp.ErrConvergence, "nonlin: newton")
}

func (nw *Newton) iterate(zcor, w ivp.Vector, tol float64) (int, error) {
	for iter := 1; ; iter++ {
		if err := nw.sys(zcor, nw.res); err != nil {
			return iter - 1, err
		}
		nw.del.CopyFrom(nw.res)
		if err := nw.lsolve(nw.del); err != nil {
			return iter - 1, err
		}
		// solving A·del = F(zcor) and stepping zcor -= del
		zcor.LinearSum(1, zcor, -1, nw.del)
		r, err := nw.ctest(iter, nw.del, w, tol)
		if err != nil {
			return iter, err
		}
		switch r {
		case ivp.ConvSatisfied:
			return iter, nil
		case ivp.ConvRecoverable:
			return iter, errors.Wrap(ivp.ErrConvergence, "nonlin: diverging")
		}
		if iter >= nw.maxIters {
			return iter, errors.Wrap(ivp.ErrConvergence, "nonlin: iteration cap")
		}
	}
}
