package ivp


const (
	// dlamchE is the machine epsilon. For IEEE this is 2^{-53}.
	dlamchE = 1.0 / (1 << 53)

	// dlamchB is the radix of the machine (the base of the number system).
	dlamchB = 2

	// uround is the unit roundoff, base * eps.
	uround = dlamchB * dlamchE

	fuzzFactor = 100.0
	onepsm     = 1.0 + 4.0*uround

	// smallReal floors error weights in untoleranced fixed-step runs.
	smallReal = 1e-308

	defaultMxstep = 500
	defaultMxhnil = 10
	defaultMaxNef = 7
	defaultMaxNcf = 10
	defaultMaxCf  = 10

	smallNef = 2

	etaMin      = 0.1
	etaMaxFirst = 10000.0
	etaGrowth   = 20.0
	etaMaxFail  = 0.3
	etaConvFail = 0.25
)

type phase int

const (
	phaseFresh phase = iota
	phaseReady
	phaseStepping
	phaseCommitted
	phaseFailed
)

type tolKind int

const (
	tolNone tolKind = iota
	tolScalar
	tolVector
	tolFunc
)

type tolSpec struct {
	kind     tolKind
	rtol     float64
	atol     float64
	atolVec  Vector
	wfn      WeightFunc
	atolMin0 bool
}

// InitType selects how much state Init rebuilds.
type InitType int

const (
	// FirstInit allocates everything and zeroes all counters.
	FirstInit InitType = iota
	// ResetInit restarts the integration from (t0, y0) but preserves
	// counters.
	ResetInit
	// ResizeInit is used internally after a Resize.
	ResizeInit
)

// Solver is one integrator instance. It owns the solution vector and
// all scratch storage, and is not safe for concurrent use; distinct
// instances are independent.
type Solver struct {
	f       Func
	stepper Stepper
	traits  StepperTraits
	frhs    FullRHSer

	// long-lived vectors
	yn, ycur     Vector
	fn           Vector
	tempv, tempv2 Vector
	ewt, rwt     Vector
	rwtAlias     bool
	constraints  Vector
	constrMask   Vector

	tol, restol tolSpec

	// time cursor; terr carries the compensated-summation residue
	tn, tcur, terr float64
	tretlast       float64
	compensated    bool

	tstop       float64
	tstopSet    bool
	tstopInterp bool

	// step sizes
	h, hold, h0u, hprime, eta float64
	hin                       float64
	hmin                      float64
	hmaxInv                   float64
	fixed                     bool

	// adaptivity
	etamax    float64
	ctrl      Controller
	forcePass bool
	mxstep    int
	mxhnil    int
	maxnef    int
	maxncf    int
	maxconstr int

	alg    algCoupling
	roots  rootState
	interp Interpolant

	interpChoice string
	needFullRHS  bool
	fnValid      bool

	accumMode AccumMode
	accumErr  float64
	accumTime float64

	postStep PostStepFunc

	// Logger receives integrator warnings. Attach an io.Writer to see
	// them; the default discards.
	Logger Logger

	hasLinComb bool

	phase         phase
	initialized   bool
	nflagPrevConv bool
	nhnilWarned   int

	// counters
	nst, nstAttempts, nfe, netf, ncfn, nconstrFails int64
}

// New creates a blank integrator. Attach a right-hand side and a
// stepper, set a tolerance, then call Init.
func New() *Solver {
	s := &Solver{
		mxstep:      defaultMxstep,
		mxhnil:      defaultMxhnil,
		maxnef:      defaultMaxNef,
		maxncf:      defaultMaxNcf,
		maxconstr:   defaultMaxCf,
		compensated: true,
		ctrl:        newIController(),
	}
	s.alg.init()
	return s
}

// SetRHS installs the problem right-hand side f(t, y).
func (s *Solver) SetRHS(f Func) { s.f = f }

// AttachStepper installs the time-stepping method and probes its
// optional capabilities.
func (s *Solver) AttachStepper(st Stepper) error {
	if st == nil {
		return newError(IllegalInput, s.tn, "nil stepper")
	}
	s.stepper = st
	s.traits = st.Traits()
	s.frhs, _ = st.(FullRHSer)
	return nil
}

// AttachNonlinearSolver installs the nonlinear solver used by implicit
// steppers.
func (s *Solver) AttachNonlinearSolver(nls NonlinearSolver) error {
	if nls == nil {
		return newError(IllegalInput, s.tn, "nil nonlinear solver")
	}
	s.alg.nls = nls
	return nil
}

// AttachLinearSolver installs the linear solver and, for matrix-based
// solvers, the iteration matrix template. Matrix-free solvers pass a
// nil matrix and receive an ATimes product built from the Jacobian
// (user-supplied or difference-quotient).
func (s *Solver) AttachLinearSolver(ls LinearSolver, a Matrix) error {
	if ls == nil {
		return newError(IllegalInput, s.tn, "nil linear solver")
	}
	switch ls.Kind() {
	case KindDirect, KindMatrixIterative:
		if a == nil {
			return newError(IllegalInput, s.tn, "matrix-based solver needs a matrix")
		}
		s.alg.a = a
		s.alg.savedJ = a.Clone()
	case KindIterative:
		if _, ok := ls.(ATimesSetter); !ok {
			return newError(IllegalInput, s.tn, "iterative solver %T lacks SetATimes", ls)
		}
		s.alg.a = nil
		s.alg.savedJ = nil
	case KindMatrixEmbedded:
		s.alg.a = nil
		s.alg.savedJ = nil
	}
	s.alg.ls = ls
	return nil
}

// AttachMassSolver installs the mass-matrix solver, its matrix storage
// and the fill function. timeDep marks M as time-dependent so it is
// rebuilt on every setup.
func (s *Solver) AttachMassSolver(ls LinearSolver, m Matrix, fn MassFunc, timeDep bool) error {
	if ls == nil || m == nil || fn == nil {
		return newError(IllegalInput, s.tn, "mass solver needs solver, matrix and fill function")
	}
	if _, ok := m.(MatVecer); !ok {
		return newError(IllegalInput, s.tn, "mass matrix %T lacks matvec support", m)
	}
	s.alg.massLS = ls
	s.alg.massM = m
	s.alg.massFn = fn
	s.alg.massTimeDep = timeDep
	return nil
}

// SetJacobian installs a user Jacobian for matrix-based linear solvers.
func (s *Solver) SetJacobian(jac JacFunc) { s.alg.jacFn = jac }

// SetJacTimes installs a user Jacobian-vector product for matrix-free
// solvers. Nil restores the difference-quotient fallback.
func (s *Solver) SetJacTimes(jtv JTimesFunc) { s.alg.jtvFn = jtv }

// SetLinSysFn hands the construction of the iteration matrix to the
// caller.
func (s *Solver) SetLinSysFn(fn LinSysFunc) { s.alg.linsysFn = fn }

// SetLinearlyImplicit declares the problem linearly implicit: the
// nonlinear convergence test passes unconditionally after one
// iteration. timeDep marks the coefficient as time-dependent, forcing
// Jacobian rebuilds that would otherwise be skipped.
func (s *Solver) SetLinearlyImplicit(timeDep bool) {
	s.alg.linear = true
	s.alg.linearTimeDep = timeDep
}

// SetMaxNonlinIters bounds the corrector iterations per stage.
func (s *Solver) SetMaxNonlinIters(n int) {
	if n > 0 {
		s.alg.maxcor = n
	}
}

// Init prepares the integration at (t0, y0). FirstInit clones all
// internal storage from y0 and zeroes the counters; ResetInit restarts
// from (t0, y0) preserving counters.
func (s *Solver) Init(t0 float64, y0 Vector, kind InitType) error {
	if s.f == nil {
		return newError(IllegalInput, t0, "no right-hand side attached")
	}
	if s.stepper == nil {
		return newError(IllegalInput, t0, "no stepper attached")
	}
	if y0 == nil || y0.Len() == 0 {
		return newError(IllegalInput, t0, "empty initial state")
	}
	if s.traits.Implicit && s.alg.nls == nil {
		return newError(IllegalInput, t0, "implicit stepper needs a nonlinear solver")
	}
	if s.alg.nls != nil && s.alg.nls.Kind() == RootFind && s.alg.ls == nil {
		return newError(IllegalInput, t0, "newton iteration needs a linear solver")
	}
	if s.traits.UsesMass && s.alg.massLS == nil {
		return newError(IllegalInput, t0, "stepper needs a mass solver")
	}

	switch kind {
	case FirstInit:
		s.allocate(y0)
		s.zeroCounters()
	case ResetInit, ResizeInit:
		if s.yn == nil {
			return newError(IllegalInput, t0, "reset before first init")
		}
		if kind == ResetInit && s.yn.Len() != y0.Len() {
			return newError(IllegalInput, t0, "reset with mismatched state length; use Resize")
		}
		if kind == ResizeInit {
			s.allocate(y0)
		}
	}
	s.yn.CopyFrom(y0)
	s.ycur.CopyFrom(y0)

	s.tn = t0
	s.tcur = t0
	s.terr = 0
	s.tretlast = t0

	s.h = 0
	s.hold = 0
	s.h0u = 0
	s.hprime = 0
	s.eta = 1
	s.etamax = etaMaxFirst
	s.initialized = false
	s.nflagPrevConv = false
	s.nhnilWarned = 0
	s.fnValid = false
	s.ctrl.Reset()

	s.alg.reset()
	s.roots.reset()
	s.interp = nil

	// capability probes are flagged here, never at use
	_, s.hasLinComb = s.yn.(LinearCombiner)

	if err := s.stepper.Init(s); err != nil {
		return wrapError(IllegalInput, t0, err, "stepper init")
	}
	if s.alg.nls != nil {
		if err := s.alg.nls.Init(s.yn); err != nil {
			return wrapError(NoMemory, t0, err, "nonlinear solver init")
		}
		s.wireNonlinear()
	}
	if s.alg.ls != nil {
		if err := s.wireLinear(); err != nil {
			return err
		}
	}
	s.phase = phaseReady
	return nil
}

// Reset restarts the integration from (t, y) preserving all counters.
func (s *Solver) Reset(t float64, y Vector) error {
	return s.Init(t, y, ResetInit)
}

// Resize adapts the integrator to a problem of a new size. The vectors
// the caller supplied (constraints and vector absolute tolerances) are
// passed through rf; without rf, a resize with any of them set is
// rejected. The engine's own vectors are always recloned from ynew; rf
// is not applied to them. Counters are preserved; the integration
// resumes at (t, ynew) with the step history cleared.
func (s *Solver) Resize(t float64, ynew Vector, rf ResizeFunc) error {
	if s.yn == nil {
		return newError(IllegalInput, t, "resize before init")
	}
	n := ynew.Len()
	if rf != nil {
		remap := func(v Vector) (Vector, error) {
			if v == nil {
				return nil, nil
			}
			return rf(v, n)
		}
		var err error
		if s.constraints, err = remap(s.constraints); err != nil {
			return wrapError(IllegalInput, t, err, "resizing constraints")
		}
		if s.tol.kind == tolVector {
			if s.tol.atolVec, err = remap(s.tol.atolVec); err != nil {
				return wrapError(IllegalInput, t, err, "resizing atol")
			}
			s.tol.atolMin0 = s.tol.atolVec.Min() == 0
		}
		if s.restol.kind == tolVector {
			if s.restol.atolVec, err = remap(s.restol.atolVec); err != nil {
				return wrapError(IllegalInput, t, err, "resizing residual atol")
			}
		}
	} else {
		if s.constraints != nil {
			return newError(IllegalInput, t, "resize with constraints needs a resize function")
		}
		if s.tol.kind == tolVector || s.restol.kind == tolVector {
			return newError(IllegalInput, t, "resize with vector tolerances needs a resize function")
		}
	}
	return s.Init(t, ynew, ResizeInit)
}

// Free releases the integrator's storage. The instance must be
// re-Inited before further use.
func (s *Solver) Free() {
	// release in reverse order of allocation
	s.interp = nil
	s.roots = rootState{}
	s.alg.free()
	s.constrMask = nil
	s.constraints = nil
	s.rwt = nil
	s.ewt = nil
	s.tempv2 = nil
	s.tempv = nil
	s.fn = nil
	s.ycur = nil
	s.yn = nil
	s.phase = phaseFresh
}

func (s *Solver) allocate(tmpl Vector) {
	s.yn = tmpl.Clone()
	s.ycur = tmpl.CloneEmpty()
	s.fn = tmpl.CloneEmpty()
	s.tempv = tmpl.CloneEmpty()
	s.tempv2 = tmpl.CloneEmpty()
	s.ewt = tmpl.CloneEmpty()
	s.rwt = s.ewt
	s.rwtAlias = true
	if s.constraints != nil && s.constraints.Len() == tmpl.Len() {
		s.constrMask = tmpl.CloneEmpty()
	}
	s.alg.allocate(tmpl)
}

func (s *Solver) zeroCounters() {
	s.nst = 0
	s.nstAttempts = 0
	s.nfe = 0
	s.netf = 0
	s.ncfn = 0
	s.nconstrFails = 0
	s.roots.nge = 0
	s.alg.zeroCounters()
	s.accumErr = 0
	s.accumTime = 0
}

// Stats is a snapshot of the integrator counters.
type Stats struct {
	Steps           int64
	StepAttempts    int64
	RhsEvals        int64
	ErrTestFails    int64
	ConvFails       int64
	ConstraintFails int64
	LinSetups       int64
	JacEvals        int64
	JtimesEvals     int64
	RhsEvalsDQ      int64
	NonlinIters     int64
	NonlinFails     int64
	RootEvals       int64
	FirstStep       float64
	LastStep        float64
	CurrentStep     float64
	CurrentTime     float64
}

// Stats returns the current counter snapshot.
func (s *Solver) Stats() Stats {
	return Stats{
		Steps:           s.nst,
		StepAttempts:    s.nstAttempts,
		RhsEvals:        s.nfe,
		ErrTestFails:    s.netf,
		ConvFails:       s.ncfn,
		ConstraintFails: s.nconstrFails,
		LinSetups:       s.alg.nsetups,
		JacEvals:        s.alg.nje,
		JtimesEvals:     s.alg.njtv,
		RhsEvalsDQ:      s.alg.nfeDQ,
		NonlinIters:     s.alg.nni,
		NonlinFails:     s.alg.nnf,
		RootEvals:       s.roots.nge,
		FirstStep:       s.h0u,
		LastStep:        s.hold,
		CurrentStep:     s.hprime,
		CurrentTime:     s.tn,
	}
}

// N returns the problem size.
func (s *Solver) N() int { return s.yn.Len() }

// Tn returns the last committed solution time.
func (s *Solver) Tn() float64 { return s.tn }

// Tcur returns the in-attempt time cursor.
func (s *Solver) Tcur() float64 { return s.tcur }

// H returns the current step size.
func (s *Solver) H() float64 { return s.h }

// Yn returns the committed state. Steppers must treat it as read-only.
func (s *Solver) Yn() Vector { return s.yn }

// Ycur returns the attempt workspace the stepper writes its candidate
// into.
func (s *Solver) Ycur() Vector { return s.ycur }

// Ewt returns the current error-weight vector.
func (s *Solver) Ewt() Vector { return s.ewt }

// Rwt returns the residual-weight vector (aliases Ewt without a
// separate residual tolerance).
func (s *Solver) Rwt() Vector { return s.rwt }

// FirstStep reports whether no step has been committed yet.
func (s *Solver) FirstStep() bool { return s.nst == 0 }

// Rhs evaluates the attached right-hand side, counting the evaluation.
// The returned error keeps the callback's recoverable/fatal
// classification.
func (s *Solver) Rhs(t float64, y, ydot Vector) error {
	s.nfe++
	return s.f(t, y, ydot)
}

// FullRHS evaluates the stepper's notion of the full right-hand side,
// falling back to the attached Func.
func (s *Solver) FullRHS(t float64, y, f Vector, mode RHSMode) error {
	if s.frhs != nil {
		return s.frhs.FullRHS(s, t, y, f, mode)
	}
	return s.Rhs(t, y, f)
}

// WrmsNorm returns the error-weighted RMS norm of x.
func (s *Solver) WrmsNorm(x Vector) float64 { return x.WrmsNorm(s.ewt) }

// linComb writes sum c[i]*xs[i] into dst, using the fused kernel when
// the vector provides one. dst may alias xs[0] only.
func (s *Solver) linComb(dst Vector, c []float64, xs []Vector) {
	if s.hasLinComb {
		dst.(LinearCombiner).LinearCombination(c, xs)
		return
	}
	if len(xs) == 1 {
		dst.LinearSum(c[0], xs[0], 0, xs[0])
		return
	}
	dst.LinearSum(c[0], xs[0], c[1], xs[1])
	for i := 2; i < len(xs); i++ {
		dst.LinearSum(1, dst, c[i], xs[i])
	}
}
