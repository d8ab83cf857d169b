package ivp

import "github.com/pkg/errors"

// Func is the right-hand side f(t, y) of the problem M(t) y' = f(t, y).
// ydot receives the result. Return nil on success, an error wrapping
// ErrRecoverable to request a retry with a smaller step, or any other
// error to abort the integration.
type Func func(t float64, y, ydot Vector) error

// RootFunc evaluates the nrtfn root functions g(t, y) into gout.
type RootFunc func(t float64, y Vector, gout []float64) error

// JacFunc fills J with df/dy evaluated at (t, y); fy holds f(t, y).
type JacFunc func(t float64, y, fy Vector, j Matrix) error

// JTimesFunc computes jv = J(t, y)·v without forming J; fy holds f(t, y).
type JTimesFunc func(v, jv Vector, t float64, y, fy Vector) error

// LinSysFunc builds the iteration matrix A directly when the caller owns
// its construction. jok reports that the cached Jacobian may be reused;
// the returned jcur reports whether A now reflects the current state.
type LinSysFunc func(t float64, y, fy Vector, a Matrix, jok bool, gamma float64) (jcur bool, err error)

// MassFunc fills m with the mass matrix M(t).
type MassFunc func(t float64, m Matrix) error

// PostStepFunc runs after every accepted step, before it is committed.
// An error aborts the integration.
type PostStepFunc func(t float64, y Vector) error

// WeightFunc builds the error-weight vector w from the state y in place
// of the built-in tolerance machinery.
type WeightFunc func(y, w Vector) error

// ResizeFunc maps an existing vector onto a problem of the new size n,
// preserving values where meaningful.
type ResizeFunc func(v Vector, n int) (Vector, error)

// Vector is the abstract state-vector capability. The engine applies
// only these operations and never reads components; storage, layout and
// any internal parallelism belong to the implementation. All mutating
// methods use the receiver as destination. The state subpackage carries
// the dense reference implementation.
type Vector interface {
	Len() int
	// Clone returns a deep copy.
	Clone() Vector
	// CloneEmpty returns a zeroed vector of the same shape.
	CloneEmpty() Vector
	CopyFrom(x Vector)
	// Fill sets every component to c.
	Fill(c float64)
	// Scale multiplies the receiver by c in place.
	Scale(c float64)
	// AddConst adds c to every component in place.
	AddConst(c float64)
	// Abs sets the receiver to |x| componentwise.
	Abs(x Vector)
	// Inv sets the receiver to 1/x componentwise.
	Inv(x Vector)
	// Mul sets the receiver to x.*y.
	Mul(x, y Vector)
	// Div sets the receiver to x./y.
	Div(x, y Vector)
	// LinearSum sets the receiver to a*x + b*y. The receiver may alias
	// x or y.
	LinearSum(a float64, x Vector, b float64, y Vector)
	Dot(x Vector) float64
	Min() float64
	MaxNorm() float64
	// WrmsNorm returns sqrt(sum((w_i*v_i)^2)/n).
	WrmsNorm(w Vector) float64
}

// LinearCombiner is an optional fused vector kernel. The engine probes
// for it at setup and composes LinearSum calls when it is absent.
type LinearCombiner interface {
	// LinearCombination sets the receiver to sum c[i]*xs[i]. The
	// receiver may alias xs[0].
	LinearCombination(c []float64, xs []Vector)
}

// ConstraintMasker tests the receiver against entrywise constraint
// codes in {-2,-1,0,+1,+2} meaning <=0, <0, free, >0, >=0. It returns
// true when every constraint holds, and writes 1 into m at violating
// components and 0 elsewhere. Required for SetConstraints.
type ConstraintMasker interface {
	ConstrMask(c, m Vector) bool
}

// MinQuotienter returns the minimum of num_i/denom_i over components
// with denom_i != 0. Required for SetConstraints.
type MinQuotienter interface {
	MinQuotient(num, denom Vector) float64
}

// Matrix is the abstract storage capability for Jacobian and mass
// matrices.
type Matrix interface {
	Zero()
	Clone() Matrix
	CopyFrom(src Matrix) error
	// ScaleAdd sets the receiver A to c*A + B.
	ScaleAdd(c float64, b Matrix) error
	// ScaleAddIdentity sets the receiver A to c*A + I.
	ScaleAddIdentity(c float64) error
}

// MatVecer is an optional matrix capability computing y = A·x.
type MatVecer interface {
	MatVec(x, y Vector) error
}

// DifferenceJacer is an optional matrix capability that fills the
// receiver with a difference-quotient approximation of df/dy. The
// engine uses it when a direct linear solver is attached and the user
// supplied no Jacobian.
type DifferenceJacer interface {
	DifferenceJacobian(f Func, t float64, y, fy Vector) error
}

// SolverKind classifies a linear solver for the coupling layer.
type SolverKind int

const (
	// KindDirect factorizes the iteration matrix.
	KindDirect SolverKind = iota
	// KindIterative solves matrix-free through an ATimes product.
	KindIterative
	// KindMatrixIterative iterates but consumes an assembled matrix.
	KindMatrixIterative
	// KindMatrixEmbedded owns its matrix; Setup and Solve receive nil.
	KindMatrixEmbedded
)

// LinearSolver solves A x = b for the algebraic coupling.
type LinearSolver interface {
	Kind() SolverKind
	Setup(a Matrix) error
	// Solve writes the solution into x. tol is the residual tolerance
	// for iterative solvers; direct solvers ignore it.
	Solve(a Matrix, x, b Vector, tol float64) error
}

// ATimesSetter receives the operator-product closure used by
// matrix-free solvers.
type ATimesSetter interface {
	SetATimes(atimes func(v, av Vector) error) error
}

// ScalingSetter receives the left/right scaling vectors some iterative
// solvers support.
type ScalingSetter interface {
	SetScalingVectors(s1, s2 Vector) error
}

// NonlinKind distinguishes the two nonlinear formulations the coupling
// layer feeds.
type NonlinKind int

const (
	// RootFind solvers drive a residual F(zcor) to zero.
	RootFind NonlinKind = iota
	// FixedPoint solvers iterate zcor = G(zcor).
	FixedPoint
)

// ConvResult is the outcome of one convergence-test evaluation.
type ConvResult int

const (
	ConvSatisfied ConvResult = iota
	ConvContinue
	// ConvRecoverable asks the caller to retry with a fresh Jacobian or
	// a smaller step.
	ConvRecoverable
)

// SysFunc evaluates the residual (RootFind) or the fixed-point map
// (FixedPoint) at the current correction.
type SysFunc func(zcor, out Vector) error

// ConvTestFunc judges convergence from the iteration count, the latest
// correction increment del, its weight vector and the target tolerance.
type ConvTestFunc func(iter int, del, w Vector, tol float64) (ConvResult, error)

// NonlinearSolver iterates to a correction zcor such that the system
// function vanishes (or reaches its fixed point) at zpred + zcor.
// Implementations live in the nonlin subpackage.
type NonlinearSolver interface {
	Kind() NonlinKind
	// Init sizes internal storage from the template vector.
	Init(tmpl Vector) error
	SetSys(fn SysFunc)
	// SetLSetup installs the linear setup hook. jbad reports a known
	// stale Jacobian; the hook returns whether the Jacobian is current.
	SetLSetup(fn func(jbad bool) (jcur bool, err error))
	SetLSolve(fn func(b Vector) error)
	SetConvTest(fn ConvTestFunc)
	SetMaxIters(n int)
	// Solve refines zcor in place, starting from zero. w weights the
	// convergence norm. callLSetup forces the linear setup hook on the
	// first iteration. It returns the number of iterations performed.
	Solve(zcor, w Vector, tol float64, callLSetup bool) (iters int, err error)
}

// StepFlag is the outcome of one step attempt.
type StepFlag int

const (
	// StepOK means ycur holds the candidate solution and dsm its error.
	StepOK StepFlag = iota
	// StepRecoverable is a recoverable failure inside the attempt; the
	// engine shrinks h and retries.
	StepRecoverable
	// StepConvFail is a nonlinear-solver convergence failure.
	StepConvFail
	// StepRetry asks for an immediate retry without counting against
	// the failure budgets.
	StepRetry
	// StepFatal aborts the integration.
	StepFatal
)

// StepperTraits are the feature bits a stepper publishes; they gate
// optional engine subsystems.
type StepperTraits struct {
	// Order is the accuracy order used by the step controller.
	Order int
	// Adaptive steppers produce a meaningful dsm for the error test.
	Adaptive bool
	// Implicit steppers drive the algebraic-solver coupling.
	Implicit bool
	// UsesMass steppers require an attached mass solver.
	UsesMass bool
}

// Stepper is one attempt at advancing the state by h. On StepOK the
// stepper has left the candidate state in Ycur and must not have
// touched Yn; the engine commits or rejects.
type Stepper interface {
	Traits() StepperTraits
	// Init binds the stepper to the engine and allocates stage storage.
	// It is called on every FirstInit, Reset and Resize.
	Init(s *Solver) error
	Attempt(s *Solver) (dsm float64, flag StepFlag, err error)
}

// RHSMode tells a full-RHS evaluation where in the step it happens, so
// steppers that cache stage values can reuse them.
type RHSMode int

const (
	RHSStart RHSMode = iota
	RHSEnd
	RHSOther
)

// FullRHSer lets a stepper own the meaning of "the full right-hand
// side" (an IMEX stepper sums its pieces). When absent the engine
// evaluates the attached Func directly.
type FullRHSer interface {
	FullRHS(s *Solver, t float64, y, f Vector, mode RHSMode) error
}

// GammaSource exposes the implicit-system scalars of a stepper.
type GammaSource interface {
	Gammas() (gamma, gamrat float64, jcur bool)
}

// ErrConvergence is the sentinel nonlinear solvers wrap when the
// iteration fails to converge. It is always recoverable: the engine
// shrinks the step and retries with a refreshed Jacobian.
var ErrConvergence = errors.Wrap(ErrRecoverable, "convergence failure")

// Controller turns the error norm of an accepted or rejected step into
// the next step-size ratio eta. The engine enforces all bounds; the
// controller only proposes.
type Controller interface {
	// NextEta proposes eta after an accepted step with error dsm.
	NextEta(dsm, h float64, order int) float64
	// FailEta proposes eta after the nef-th temporal error-test failure.
	FailEta(dsm, h float64, nef, order int) float64
	Reset()
}
