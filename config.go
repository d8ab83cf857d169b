package ivp

import (
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config modifies integrator behaviour. Zero values select the
// defaults listed on each field. Apply with Solver.SetConfig or the
// individual Set methods.
type Config struct {
	// RTol and ATol are the scalar tolerances. Both zero leaves the
	// tolerance unset; Evolve then requires SetTolerance or fixed-step
	// mode.
	RTol float64 `yaml:"rtol"`
	ATol float64 `yaml:"atol"`
	// InitialStep is the first step size h0. Zero asks the engine to
	// estimate it.
	InitialStep float64 `yaml:"h0"`
	// MinStep is the lower bound on |h|. Default 0.
	MinStep float64 `yaml:"hmin"`
	// MaxStep is the upper bound on |h|. Zero means unbounded.
	MaxStep float64 `yaml:"hmax"`
	// MaxSteps caps internal steps per Evolve call. Default 500.
	MaxSteps int `yaml:"mxstep"`
	// MaxHNilWarns caps step-beneath-roundoff warnings. Default 10,
	// negative disables the warning entirely.
	MaxHNilWarns int `yaml:"mxhnil"`
	// MaxErrTestFails bounds temporal error-test failures per step.
	// Default 7.
	MaxErrTestFails int `yaml:"max_err_test_fails"`
	// MaxConvFails bounds nonlinear convergence failures per step.
	// Default 10.
	MaxConvFails int `yaml:"max_conv_fails"`
	// MaxConstrFails bounds constraint-violation retries per step.
	// Default 10.
	MaxConstrFails int `yaml:"max_constr_fails"`
	// FixedStep disables adaptivity and reuses InitialStep every step.
	FixedStep bool `yaml:"fixed"`
	// NoCompensatedTime disables compensated summation of the time
	// cursor.
	NoCompensatedTime bool `yaml:"no_compensated_time"`
	// ForcePass skips the temporal error test. Meant for
	// parallel-in-time drivers.
	ForcePass bool `yaml:"force_pass"`
	// Interpolant selects dense output: "hermite" (default) or
	// "lagrange". Lagrange needs no RHS values and suits steppers whose
	// full right-hand side is expensive.
	Interpolant string `yaml:"interpolant"`
}

// ConfigFromYAML decodes a Config from YAML.
func ConfigFromYAML(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "ivp: decoding config")
	}
	return cfg, nil
}

func verifyConfig(cfg Config) error {
	if cfg.RTol < 0 || cfg.ATol < 0 {
		return errors.New("config: tolerances must be nonnegative")
	}
	if cfg.MinStep < 0 {
		return errors.New("config: hmin must be nonnegative")
	}
	if cfg.MaxStep < 0 {
		return errors.New("config: hmax must be nonnegative")
	}
	if cfg.MaxStep > 0 && cfg.MinStep > cfg.MaxStep {
		return errors.New("config: hmin exceeds hmax")
	}
	if cfg.FixedStep && cfg.InitialStep == 0 {
		return errors.New("config: fixed step mode needs h0")
	}
	switch cfg.Interpolant {
	case "", "hermite", "lagrange":
	default:
		return errors.Errorf("config: unknown interpolant %q", cfg.Interpolant)
	}
	return nil
}

// SetConfig applies cfg wholesale. Invalid combinations are rejected
// before anything is applied.
func (s *Solver) SetConfig(cfg Config) error {
	if err := verifyConfig(cfg); err != nil {
		return newError(IllegalInput, s.tn, "%v", err)
	}
	if cfg.RTol != 0 || cfg.ATol != 0 {
		s.SetTolerance(cfg.RTol, cfg.ATol)
	}
	s.SetInitialStep(cfg.InitialStep)
	s.SetMinStep(cfg.MinStep)
	s.SetMaxStep(cfg.MaxStep)
	s.SetMaxSteps(cfg.MaxSteps)
	s.SetMaxHNILWarns(cfg.MaxHNilWarns)
	if cfg.MaxErrTestFails > 0 {
		s.maxnef = cfg.MaxErrTestFails
	}
	if cfg.MaxConvFails > 0 {
		s.maxncf = cfg.MaxConvFails
	}
	if cfg.MaxConstrFails > 0 {
		s.maxconstr = cfg.MaxConstrFails
	}
	if cfg.FixedStep {
		s.SetFixedStep(cfg.InitialStep)
	}
	s.compensated = !cfg.NoCompensatedTime
	s.forcePass = cfg.ForcePass
	s.interpChoice = cfg.Interpolant
	return nil
}

// SetTolerance installs scalar relative and absolute tolerances.
func (s *Solver) SetTolerance(rtol, atol float64) {
	s.tol = tolSpec{kind: tolScalar, rtol: rtol, atol: atol, atolMin0: atol == 0}
}

// SetVectorTolerance installs a scalar relative tolerance with a
// per-component absolute tolerance vector.
func (s *Solver) SetVectorTolerance(rtol float64, atol Vector) {
	s.tol = tolSpec{kind: tolVector, rtol: rtol, atolVec: atol.Clone(), atolMin0: atol.Min() == 0}
}

// SetWeightFn delegates the error-weight build to fn.
func (s *Solver) SetWeightFn(fn WeightFunc) {
	s.tol = tolSpec{kind: tolFunc, wfn: fn}
}

// SetResTolerance installs scalar tolerances for the residual weight
// used when a mass matrix is present.
func (s *Solver) SetResTolerance(rtol, atol float64) {
	s.restol = tolSpec{kind: tolScalar, rtol: rtol, atol: atol, atolMin0: atol == 0}
}

// SetResVectorTolerance installs a vector absolute tolerance for the
// residual weight.
func (s *Solver) SetResVectorTolerance(rtol float64, atol Vector) {
	s.restol = tolSpec{kind: tolVector, rtol: rtol, atolVec: atol.Clone(), atolMin0: atol.Min() == 0}
}

// SetInitialStep sets h0. Zero asks the engine to estimate the first
// step.
func (s *Solver) SetInitialStep(h0 float64) { s.hin = h0 }

// SetMinStep sets the lower bound on |h|.
func (s *Solver) SetMinStep(hmin float64) {
	if hmin <= 0 {
		s.hmin = 0
		return
	}
	s.hmin = hmin
}

// SetMaxStep sets the upper bound on |h|. Zero removes the bound.
func (s *Solver) SetMaxStep(hmax float64) {
	if hmax <= 0 {
		s.hmaxInv = 0
		return
	}
	s.hmaxInv = 1 / hmax
}

// SetMaxSteps caps internal steps per Evolve call. Nonpositive restores
// the default.
func (s *Solver) SetMaxSteps(n int) {
	if n <= 0 {
		s.mxstep = defaultMxstep
		return
	}
	s.mxstep = n
}

// SetMaxHNILWarns caps the t+h == t warnings. Zero restores the
// default; negative disables them.
func (s *Solver) SetMaxHNILWarns(n int) {
	if n == 0 {
		s.mxhnil = defaultMxhnil
		return
	}
	s.mxhnil = n
}

// SetFixedStep disables adaptivity and takes every step with h. A zero
// h restores adaptive stepping.
func (s *Solver) SetFixedStep(h float64) {
	if h == 0 {
		s.fixed = false
		return
	}
	s.fixed = true
	s.hin = h
}

// SetStopTime makes tstop a hard barrier for the integration: steps
// are always shortened so they do not cross it. When interpolate is
// true the solution returned at tstop is interpolated; otherwise it is
// the committed state of the step that ended within roundoff of tstop.
func (s *Solver) SetStopTime(tstop float64, interpolate bool) error {
	if s.phase != phaseFresh && s.nst > 0 {
		// tstop must lie ahead of the current time
		if (tstop-s.tn)*s.h < 0 {
			return newError(IllegalInput, s.tn, "tstop %g behind current t %g", tstop, s.tn)
		}
	}
	s.tstop = tstop
	s.tstopSet = true
	s.tstopInterp = interpolate
	return nil
}

// ClearStopTime removes the stop-time barrier.
func (s *Solver) ClearStopTime() { s.tstopSet = false }

// SetConstraints installs entrywise constraint codes in {-2,-1,0,+1,+2}
// meaning <=0, <0, free, >0, >=0. A nil c clears constraints. The
// vector implementation must provide the constraint-mask and
// min-quotient primitives; their absence is reported here, not at use.
func (s *Solver) SetConstraints(c Vector) error {
	if c == nil {
		s.constraints = nil
		s.constrMask = nil
		return nil
	}
	if _, ok := c.(ConstraintMasker); !ok {
		return newError(IllegalInput, s.tn, "vector %T lacks constraint mask support", c)
	}
	if _, ok := c.(MinQuotienter); !ok {
		return newError(IllegalInput, s.tn, "vector %T lacks min-quotient support", c)
	}
	if c.MaxNorm() > 2 {
		return newError(IllegalInput, s.tn, "constraint codes must lie in [-2,2]")
	}
	s.constraints = c.Clone()
	s.constrMask = c.CloneEmpty()
	return nil
}

// SetPostStep installs a processor that runs on every accepted step
// before it is committed.
func (s *Solver) SetPostStep(fn PostStepFunc) { s.postStep = fn }

// SetController replaces the step-size controller.
func (s *Solver) SetController(c Controller) {
	if c == nil {
		s.ctrl = newIController()
		return
	}
	s.ctrl = c
}

// AccumMode selects how accepted-step error norms accumulate.
type AccumMode int

const (
	AccumNone AccumMode = iota
	// AccumMax tracks the largest accepted dsm.
	AccumMax
	// AccumSum totals accepted dsm values.
	AccumSum
	// AccumAvg weights each dsm by |h| and divides by elapsed |t|,
	// giving a time-weighted mean that tolerates non-monotone h.
	AccumAvg
)

// SetAccumulatedErrorMode selects the accumulation mode and resets the
// accumulator.
func (s *Solver) SetAccumulatedErrorMode(m AccumMode) {
	s.accumMode = m
	s.accumErr = 0
	s.accumTime = 0
}

// AccumulatedError reads the accumulator under the configured mode.
func (s *Solver) AccumulatedError() float64 {
	if s.accumMode == AccumAvg {
		if s.accumTime == 0 {
			return 0
		}
		return s.accumErr / s.accumTime
	}
	return s.accumErr
}

// ResetAccumulatedError zeroes the accumulator.
func (s *Solver) ResetAccumulatedError() {
	s.accumErr = 0
	s.accumTime = 0
}

func clampEta(eta, h, etamax, hmin, hmaxInv float64) float64 {
	if eta > etamax {
		eta = etamax
	}
	if hmin > 0 {
		if lo := hmin / math.Abs(h); eta < lo {
			eta = lo
		}
	}
	if hmaxInv > 0 {
		if g := math.Abs(h) * eta * hmaxInv; g > 1 {
			eta /= g
		}
	}
	return eta
}
