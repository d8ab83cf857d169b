package stepper

import (
	"math"

	"github.com/soypat/goivp"
)

// SDIRK2 is the two-stage, L-stable singly diagonally implicit method
// of order 2 with an embedded first order solution for step control.
// Each stage solves its algebraic system through the engine's
// nonlinear-solver coupling.
type SDIRK2 struct {
	z, zpred ivp.Vector
	k1, k2   ivp.Vector
	yerr     ivp.Vector
}

// NewSDIRK2 creates the implicit stepper.
func NewSDIRK2() *SDIRK2 { return &SDIRK2{} }

// Traits publishes the method's capabilities.
func (sd *SDIRK2) Traits() ivp.StepperTraits {
	return ivp.StepperTraits{Order: 2, Adaptive: true, Implicit: true}
}

// Init allocates the stage storage.
func (sd *SDIRK2) Init(s *ivp.Solver) error {
	tmpl := s.Yn()
	sd.z = tmpl.CloneEmpty()
	sd.zpred = tmpl.CloneEmpty()
	sd.k1 = tmpl.CloneEmpty()
	sd.k2 = tmpl.CloneEmpty()
	sd.yerr = tmpl.CloneEmpty()
	return nil
}

// Attempt solves the two stage systems and leaves the second-order
// solution in Ycur.
func (sd *SDIRK2) Attempt(s *ivp.Solver) (float64, ivp.StepFlag, error) {
	// diagonal coefficient of the L-stable pair
	gam := 1 - math.Sqrt2/2

	t, h := s.Tn(), s.H()
	yn, ycur := s.Yn(), s.Ycur()
	hg := h * gam

	// stage 1: z1 = yn + h*gam*f(t + gam*h, z1)
	if err := s.SolveNonlinear(t+gam*h, yn, sd.z, hg); err != nil {
		return 0, implicitFlag(err), err
	}
	sd.k1.LinearSum(1/hg, sd.z, -1/hg, yn)

	// stage 2: z2 = yn + h*(1-gam)*k1 + h*gam*f(t + h, z2)
	sd.zpred.LinearSum(1, yn, h*(1-gam), sd.k1)
	if err := s.SolveNonlinear(t+h, sd.zpred, sd.z, hg); err != nil {
		return 0, implicitFlag(err), err
	}
	sd.k2.LinearSum(1/hg, sd.z, -1/hg, sd.zpred)

	// the method is stiffly accurate: the solution is the last stage
	ycur.CopyFrom(sd.z)

	// embedded comparison against the first order weights (1/2, 1/2)
	sd.yerr.LinearSum(1, sd.k1, -1, sd.k2)
	sd.yerr.Scale(h * (0.5 - gam))
	return s.WrmsNorm(sd.yerr), ivp.StepOK, nil
}

func implicitFlag(err error) ivp.StepFlag {
	if ivp.Recoverable(err) {
		return ivp.StepConvFail
	}
	return ivp.StepFatal
}
