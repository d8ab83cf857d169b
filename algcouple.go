package ivp

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// msbp and msbj pace linear setups and Jacobian rebuilds by step
	// count; dgmax triggers a setup when gamma drifts.
	defaultMsbp  = 20
	defaultMsbj  = 50
	defaultDgmax = 0.3

	// nonlinear iteration tuning
	defaultMaxcor  = 3
	defaultNlscoef = 0.1
	crdown         = 0.3
	rdiv           = 2.0

	// difference-quotient J·v retries on recoverable RHS failures
	maxDQIters  = 3
	dqSigShrink = 0.25
)

// algCoupling wires the nonlinear and linear solvers into the step
// attempt. It owns the iteration matrix, the cached Jacobian and the
// gamma bookkeeping that decides when either is rebuilt.
type algCoupling struct {
	nls NonlinearSolver
	ls  LinearSolver

	a, savedJ Matrix
	jacFn     JacFunc
	jtvFn     JTimesFunc
	linsysFn  LinSysFunc

	linear        bool
	linearTimeDep bool

	massLS        LinearSolver
	massM         Matrix
	massFn        MassFunc
	massTimeDep   bool
	massBuilt     bool
	massSetupDone bool

	gamma, gammap, gamrat float64
	dgmax                 float64
	msbp, msbj            int64
	nstlp, nstlj          int64
	jcur                  bool
	convfail              bool
	crate, delp           float64
	maxcor                int
	nlscoef               float64

	// per-solve context shared with the closures. fpred holds
	// f(t, zpred) and is the origin for Jacobian builds; ftemp is the
	// residual-evaluation scratch and tracks the current iterate.
	t     float64
	zpred Vector
	fpred Vector
	ftemp Vector
	jtv   Vector

	nsetups, nje, njtv, nfeDQ, nni, nnf int64
}

func (ac *algCoupling) init() {
	ac.dgmax = defaultDgmax
	ac.msbp = defaultMsbp
	ac.msbj = defaultMsbj
	ac.maxcor = defaultMaxcor
	ac.nlscoef = defaultNlscoef
	ac.crate = 1
	ac.gamrat = 1
}

func (ac *algCoupling) allocate(tmpl Vector) {
	if ac.nls == nil && ac.ls == nil && ac.massLS == nil {
		return
	}
	ac.fpred = tmpl.CloneEmpty()
	ac.ftemp = tmpl.CloneEmpty()
	ac.jtv = tmpl.CloneEmpty()
}

func (ac *algCoupling) reset() {
	ac.gamma = 0
	ac.gammap = 0
	ac.gamrat = 1
	ac.jcur = false
	ac.convfail = false
	ac.crate = 1
	ac.nstlp = 0
	ac.nstlj = 0
	ac.massBuilt = false
	ac.massSetupDone = false
}

func (ac *algCoupling) zeroCounters() {
	ac.nsetups = 0
	ac.nje = 0
	ac.njtv = 0
	ac.nfeDQ = 0
	ac.nni = 0
	ac.nnf = 0
}

func (ac *algCoupling) free() {
	ac.jtv = nil
	ac.ftemp = nil
	ac.fpred = nil
	ac.savedJ = nil
	ac.a = nil
}

// massMatVec computes y = M(t)·x, rebuilding M when time-dependent.
func (ac *algCoupling) massMatVec(s *Solver, t float64, x, y Vector) error {
	if ac.massM == nil {
		return errors.New("no mass matrix attached")
	}
	if !ac.massBuilt || ac.massTimeDep {
		if err := ac.massFn(t, ac.massM); err != nil {
			return err
		}
		ac.massBuilt = true
	}
	return ac.massM.(MatVecer).MatVec(x, y)
}

// wireNonlinear installs the engine-side system, setup, solve and
// convergence-test closures into the attached nonlinear solver.
func (s *Solver) wireNonlinear() {
	nls := s.alg.nls
	nls.SetSys(s.nlsSys)
	nls.SetConvTest(s.nlsConvTest)
	nls.SetMaxIters(s.alg.maxcor)
	if s.alg.ls != nil {
		nls.SetLSetup(s.nlsLSetup)
		nls.SetLSolve(s.nlsLSolve)
	}
}

// wireLinear finishes linear-solver setup that depends on the state
// template: matrix-free solvers receive the operator product closure.
func (s *Solver) wireLinear() error {
	ac := &s.alg
	if ats, ok := ac.ls.(ATimesSetter); ok && ac.ls.Kind() == KindIterative {
		if err := ats.SetATimes(s.aTimes); err != nil {
			return wrapError(IllegalInput, s.tn, err, "installing operator product")
		}
	}
	if ac.ls.Kind() == KindDirect && ac.jacFn == nil && ac.linsysFn == nil {
		if _, ok := ac.savedJ.(DifferenceJacer); !ok {
			return newError(IllegalInput, s.tn,
				"direct solver without a Jacobian needs difference-quotient matrix support")
		}
	}
	return nil
}

// SolveNonlinear advances one implicit stage: it solves for z such
// that the stepper's stage equation holds, starting from the predictor
// zpred with implicit coefficient gamma. Steppers call this from
// Attempt. The returned error is recoverable (convergence failure,
// recoverable RHS) or fatal per the taxonomy.
func (s *Solver) SolveNonlinear(t float64, zpred, z Vector, gamma float64) error {
	ac := &s.alg
	if ac.nls == nil {
		return newError(IllegalInput, t, "no nonlinear solver attached")
	}
	ac.t = t
	ac.zpred = zpred
	ac.gamma = gamma
	// f at the predictor anchors the Jacobian, linsys and J·v builds
	if err := s.Rhs(t, zpred, ac.fpred); err != nil {
		return err
	}
	if ac.gammap == 0 {
		ac.gammap = gamma
	}
	ac.gamrat = 1
	if ac.gammap != 0 {
		ac.gamrat = gamma / ac.gammap
	}

	callSetup := false
	if ac.ls != nil {
		callSetup = (s.nst == 0 && ac.nsetups == 0) ||
			ac.convfail ||
			s.nflagPrevConv ||
			math.Abs(ac.gamrat-1) > ac.dgmax ||
			s.nst >= ac.nstlp+ac.msbp
	}

	ac.crate = 1
	ac.delp = 0
	iters, err := ac.nls.Solve(z, s.ewt, ac.nlscoef, callSetup)
	ac.nni += int64(iters)
	if err != nil {
		if Recoverable(err) {
			ac.nnf++
			ac.convfail = true
			return err
		}
		return err
	}
	ac.convfail = false
	// z currently holds the converged correction
	z.LinearSum(1, zpred, 1, z)
	return nil
}

// nlsSys evaluates the residual (or fixed-point map) at the current
// correction zcor.
func (s *Solver) nlsSys(zcor, out Vector) error {
	ac := &s.alg
	ytmp := s.tempv
	ytmp.LinearSum(1, ac.zpred, 1, zcor)
	s.tcur = ac.t
	if err := s.Rhs(ac.t, ytmp, ac.ftemp); err != nil {
		return err
	}
	if ac.nls.Kind() == FixedPoint {
		out.LinearSum(ac.gamma, ac.ftemp, 0, zcor)
		return nil
	}
	if ac.massLS != nil {
		if err := ac.massMatVec(s, ac.t, zcor, out); err != nil {
			if Recoverable(err) {
				return err
			}
			return wrapError(MassFuncFail, ac.t, err, "")
		}
		out.LinearSum(1, out, -ac.gamma, ac.ftemp)
		return nil
	}
	out.LinearSum(1, zcor, -ac.gamma, ac.ftemp)
	return nil
}

// nlsLSetup rebuilds the iteration matrix A = M - gamma*J (or I -
// gamma*J) and runs the linear solver setup. The Jacobian itself is
// recomputed only when stale.
func (s *Solver) nlsLSetup(jbad bool) (bool, error) {
	ac := &s.alg
	if ac.massLS != nil {
		if !ac.massBuilt || ac.massTimeDep {
			if err := ac.massFn(ac.t, ac.massM); err != nil {
				return false, wrapError(MassFuncFail, ac.t, err, "")
			}
			ac.massBuilt = true
		}
		if !ac.massSetupDone || ac.massTimeDep {
			if err := ac.massLS.Setup(ac.massM); err != nil {
				return false, wrapError(MassSetupFail, ac.t, err, "")
			}
			ac.massSetupDone = true
		}
	}

	jneed := jbad ||
		ac.nje == 0 ||
		s.nst >= ac.nstlj+ac.msbj ||
		(ac.convfail && math.Abs(ac.gamrat-1) < ac.dgmax)
	if ac.linear && !ac.linearTimeDep && ac.nje > 0 && !jbad {
		// constant-coefficient problems keep their Jacobian
		jneed = false
	}

	var err error
	switch {
	case ac.linsysFn != nil:
		ac.jcur, err = ac.linsysFn(ac.t, ac.zpred, ac.fpred, ac.a, !jneed, ac.gamma)
		if err != nil {
			if Recoverable(err) {
				return false, err
			}
			return false, wrapError(LinsetupFail, ac.t, err, "user linsys function")
		}
		if jneed {
			ac.nje++
			ac.nstlj = s.nst
		}
	case ac.a != nil:
		if jneed {
			ac.savedJ.Zero()
			if ac.jacFn != nil {
				err = ac.jacFn(ac.t, ac.zpred, ac.fpred, ac.savedJ)
			} else {
				dj := ac.savedJ.(DifferenceJacer)
				err = dj.DifferenceJacobian(s.dqRhs, ac.t, ac.zpred, ac.fpred)
			}
			if err != nil {
				if Recoverable(err) {
					return false, err
				}
				return false, wrapError(LinsetupFail, ac.t, err, "jacobian evaluation")
			}
			ac.nje++
			ac.nstlj = s.nst
		}
		if err = ac.a.CopyFrom(ac.savedJ); err != nil {
			return false, wrapError(LinsetupFail, ac.t, err, "")
		}
		if ac.massLS != nil {
			err = ac.a.ScaleAdd(-ac.gamma, ac.massM)
		} else {
			err = ac.a.ScaleAddIdentity(-ac.gamma)
		}
		if err != nil {
			return false, wrapError(LinsetupFail, ac.t, err, "")
		}
		ac.jcur = jneed
	default:
		// matrix-free or matrix-embedded; the solver owns the operator
		ac.jcur = true
	}

	if err = ac.ls.Setup(ac.a); err != nil {
		if Recoverable(err) {
			return false, err
		}
		return false, wrapError(LinsetupFail, ac.t, err, "")
	}
	ac.nsetups++
	ac.nstlp = s.nst
	ac.gammap = ac.gamma
	ac.gamrat = 1
	return ac.jcur, nil
}

// nlsLSolve solves A·x = b in place.
func (s *Solver) nlsLSolve(b Vector) error {
	ac := &s.alg
	tol := 0.05 * ac.nlscoef
	if err := ac.ls.Solve(ac.a, b, b, tol); err != nil {
		if Recoverable(err) {
			return err
		}
		return wrapError(LinsolveFail, ac.t, err, "")
	}
	// correction scaling is only safe for A = I - gamma*J
	if ac.massLS == nil && ac.gamrat != 1 {
		switch ac.ls.Kind() {
		case KindDirect, KindMatrixIterative:
			b.Scale(2 / (1 + ac.gamrat))
		}
	}
	return nil
}

// nlsConvTest is the standard rate-adjusted convergence test on the
// weighted correction norm. Linearly implicit problems pass
// unconditionally.
func (s *Solver) nlsConvTest(iter int, del, w Vector, tol float64) (ConvResult, error) {
	ac := &s.alg
	if ac.linear {
		return ConvSatisfied, nil
	}
	delnrm := del.WrmsNorm(w)
	if iter > 1 {
		ac.crate = math.Max(crdown*ac.crate, delnrm/ac.delp)
		if delnrm > rdiv*ac.delp {
			return ConvRecoverable, nil
		}
	}
	dcon := delnrm * math.Min(1, ac.crate) / tol
	ac.delp = delnrm
	if dcon <= 1 {
		return ConvSatisfied, nil
	}
	return ConvContinue, nil
}

// aTimes is the operator product handed to matrix-free solvers:
// A·v = M·v - gamma*(J·v).
func (s *Solver) aTimes(v, av Vector) error {
	ac := &s.alg
	if err := s.jTimes(v, ac.jtv); err != nil {
		return err
	}
	if ac.massLS != nil {
		if err := ac.massMatVec(s, ac.t, v, av); err != nil {
			return err
		}
		av.LinearSum(1, av, -ac.gamma, ac.jtv)
		return nil
	}
	av.LinearSum(1, v, -ac.gamma, ac.jtv)
	return nil
}

// jTimes computes J·v through the user product or the
// difference-quotient fallback
//
//	J·v ~ (f(t, y + sig*v) - f(t, y)) / sig,  sig = 1/||v||_wrms
//
// shrinking sig on recoverable RHS failures.
func (s *Solver) jTimes(v, jv Vector) error {
	ac := &s.alg
	if ac.jtvFn != nil {
		ac.njtv++
		return ac.jtvFn(v, jv, ac.t, ac.zpred, ac.fpred)
	}
	wnrm := v.WrmsNorm(s.ewt)
	if wnrm == 0 {
		jv.Fill(0)
		return nil
	}
	sig := 1 / wnrm
	ytmp := s.tempv2
	var err error
	for i := 0; i < maxDQIters; i++ {
		ytmp.LinearSum(1, ac.zpred, sig, v)
		ac.nfeDQ++
		s.nfe++
		err = s.f(ac.t, ytmp, jv)
		if err == nil {
			jv.LinearSum(1/sig, jv, -1/sig, ac.fpred)
			ac.njtv++
			return nil
		}
		if !Recoverable(err) {
			return err
		}
		sig *= dqSigShrink
	}
	return err
}

// dqRhs is the RHS view handed to difference-quotient Jacobian fills;
// it books the evaluations separately.
func (s *Solver) dqRhs(t float64, y, ydot Vector) error {
	s.alg.nfeDQ++
	s.nfe++
	return s.f(t, y, ydot)
}

// MassSolve solves M·x = b in place for steppers that need it.
func (s *Solver) MassSolve(b Vector) error {
	ac := &s.alg
	if ac.massLS == nil {
		return newError(IllegalInput, s.tcur, "no mass solver attached")
	}
	if !ac.massBuilt || !ac.massSetupDone || ac.massTimeDep {
		if err := ac.massFn(s.tcur, ac.massM); err != nil {
			return wrapError(MassFuncFail, s.tcur, err, "")
		}
		ac.massBuilt = true
		if err := ac.massLS.Setup(ac.massM); err != nil {
			return wrapError(MassSetupFail, s.tcur, err, "")
		}
		ac.massSetupDone = true
	}
	if err := ac.massLS.Solve(ac.massM, b, b, 0.05*ac.nlscoef); err != nil {
		return wrapError(MassSolveFail, s.tcur, err, "")
	}
	return nil
}

// LinearSolverAttached returns the linear solver the coupling drives,
// or nil.
func (s *Solver) LinearSolverAttached() LinearSolver { return s.alg.ls }

// MassSolverAttached returns the mass-matrix solver, or nil.
func (s *Solver) MassSolverAttached() LinearSolver { return s.alg.massLS }

// ImplicitRHS returns the right-hand side the implicit stages solve
// against.
func (s *Solver) ImplicitRHS() Func { return s.f }

// Gammas reports the implicit-system scalars, preferring the stepper's
// own view when it publishes one.
func (s *Solver) Gammas() (gamma, gamrat float64, jcur bool) {
	if gs, ok := s.stepper.(GammaSource); ok {
		return gs.Gammas()
	}
	return s.alg.gamma, s.alg.gamrat, s.alg.jcur
}
