// Package stepper provides reference time-stepping methods for the
// integrator engine: an adaptive Dormand-Prince 5(4) pair, a classic
// fixed-order RK4, and a two-stage SDIRK method that drives the
// engine's algebraic-solver coupling.
package stepper

import (
	"github.com/soypat/goivp"
)

// DormandPrince is the explicit embedded 5(4) pair used by Matlab's
// ode45 and Simulink's default solver.
type DormandPrince struct {
	k    [7]ivp.Vector
	ytmp ivp.Vector
	yerr ivp.Vector
}

// NewDormandPrince creates the adaptive 5(4) stepper.
func NewDormandPrince() *DormandPrince { return &DormandPrince{} }

// Traits publishes the pair's capabilities.
func (dp *DormandPrince) Traits() ivp.StepperTraits {
	return ivp.StepperTraits{Order: 4, Adaptive: true}
}

// Init allocates the stage storage.
func (dp *DormandPrince) Init(s *ivp.Solver) error {
	tmpl := s.Yn()
	for i := range dp.k {
		dp.k[i] = tmpl.CloneEmpty()
	}
	dp.ytmp = tmpl.CloneEmpty()
	dp.yerr = tmpl.CloneEmpty()
	return nil
}

// Attempt advances yn by h into Ycur and returns the embedded error
// norm.
func (dp *DormandPrince) Attempt(s *ivp.Solver) (float64, ivp.StepFlag, error) {
	// Butcher tableau for the Dormand-Prince 5(4) method
	const c20, c21 = 1. / 5., 1. / 5.
	const c30, c31, c32 = 3. / 10., 3. / 40., 9. / 40.
	const c40, c41, c42, c43 = 4. / 5., 44. / 45., -56. / 15., 32. / 9.
	const c50, c51, c52, c53, c54 = 8. / 9., 19372. / 6561., -25360. / 2187., 64448. / 6561., -212. / 729.
	const c60, c61, c62, c63, c64, c65 = 1., 9017. / 3168., -355. / 33., 46732. / 5247., 49. / 176., -5103. / 18656.
	const c70, c71, c72, c73, c74, c75, c76 = 1., 35. / 384., 0., 500. / 1113., 125. / 192., -2187. / 6784., 11. / 84.
	// Alternate solution for error calculation
	const a1, a3, a4, a5, a6, a7 = 5179. / 57600., 7571. / 16695., 393. / 640., -92097. / 339200., 187. / 2100., 1. / 40.
	// Fifth order
	const b1, b3, b4, b5, b6 = 35. / 384., 500. / 1113., 125. / 192., -2187. / 6784., 11. / 84.

	t, h := s.Tn(), s.H()
	yn, ycur := s.Yn(), s.Ycur()

	type stage struct {
		c     float64
		coefs []float64
	}
	stages := []stage{
		{c20, []float64{c21}},
		{c30, []float64{c31, c32}},
		{c40, []float64{c41, c42, c43}},
		{c50, []float64{c51, c52, c53, c54}},
		{c60, []float64{c61, c62, c63, c64, c65}},
		{c70, []float64{c71, c72, c73, c74, c75, c76}},
	}

	if err := s.Rhs(t, yn, dp.k[0]); err != nil {
		return 0, recoverableFlag(err), err
	}
	dp.k[0].Scale(h)
	for i, st := range stages {
		dp.ytmp.CopyFrom(yn)
		for j, c := range st.coefs {
			dp.ytmp.LinearSum(1, dp.ytmp, c, dp.k[j])
		}
		if err := s.Rhs(t+st.c*h, dp.ytmp, dp.k[i+1]); err != nil {
			return 0, recoverableFlag(err), err
		}
		dp.k[i+1].Scale(h)
	}

	// fifth order solution
	ycur.CopyFrom(yn)
	ycur.LinearSum(1, ycur, b1, dp.k[0])
	ycur.LinearSum(1, ycur, b3, dp.k[2])
	ycur.LinearSum(1, ycur, b4, dp.k[3])
	ycur.LinearSum(1, ycur, b5, dp.k[4])
	ycur.LinearSum(1, ycur, b6, dp.k[5])

	// alternate fourth order solution and error estimate
	dp.yerr.CopyFrom(yn)
	dp.yerr.LinearSum(1, dp.yerr, a1, dp.k[0])
	dp.yerr.LinearSum(1, dp.yerr, a3, dp.k[2])
	dp.yerr.LinearSum(1, dp.yerr, a4, dp.k[3])
	dp.yerr.LinearSum(1, dp.yerr, a5, dp.k[4])
	dp.yerr.LinearSum(1, dp.yerr, a6, dp.k[5])
	dp.yerr.LinearSum(1, dp.yerr, a7, dp.k[6])
	dp.yerr.LinearSum(1, ycur, -1, dp.yerr)

	return s.WrmsNorm(dp.yerr), ivp.StepOK, nil
}

// RK4 is the classic fourth order Runge-Kutta method. It produces no
// error estimate and suits fixed-step runs.
type RK4 struct {
	k    [4]ivp.Vector
	ytmp ivp.Vector
}

// NewRK4 creates the fixed-order stepper.
func NewRK4() *RK4 { return &RK4{} }

// Traits publishes the method's capabilities; Adaptive is false, so the
// engine skips the temporal error test.
func (rk *RK4) Traits() ivp.StepperTraits {
	return ivp.StepperTraits{Order: 4}
}

// Init allocates the stage storage.
func (rk *RK4) Init(s *ivp.Solver) error {
	tmpl := s.Yn()
	for i := range rk.k {
		rk.k[i] = tmpl.CloneEmpty()
	}
	rk.ytmp = tmpl.CloneEmpty()
	return nil
}

// Attempt advances yn by h into Ycur.
func (rk *RK4) Attempt(s *ivp.Solver) (float64, ivp.StepFlag, error) {
	const overSix = 1. / 6.
	t, h := s.Tn(), s.H()
	yn, ycur := s.Yn(), s.Ycur()

	if err := s.Rhs(t, yn, rk.k[0]); err != nil {
		return 0, recoverableFlag(err), err
	}
	rk.ytmp.LinearSum(1, yn, 0.5*h, rk.k[0])
	if err := s.Rhs(t+0.5*h, rk.ytmp, rk.k[1]); err != nil {
		return 0, recoverableFlag(err), err
	}
	rk.ytmp.LinearSum(1, yn, 0.5*h, rk.k[1])
	if err := s.Rhs(t+0.5*h, rk.ytmp, rk.k[2]); err != nil {
		return 0, recoverableFlag(err), err
	}
	rk.ytmp.LinearSum(1, yn, h, rk.k[2])
	if err := s.Rhs(t+h, rk.ytmp, rk.k[3]); err != nil {
		return 0, recoverableFlag(err), err
	}

	rk.ytmp.LinearSum(1, rk.k[0], 1, rk.k[3])
	rk.ytmp.LinearSum(1, rk.ytmp, 2, rk.k[1])
	rk.ytmp.LinearSum(1, rk.ytmp, 2, rk.k[2])
	ycur.LinearSum(1, yn, h*overSix, rk.ytmp)
	return 0, ivp.StepOK, nil
}

func recoverableFlag(err error) ivp.StepFlag {
	if ivp.Recoverable(err) {
		return ivp.StepRecoverable
	}
	return ivp.StepFatal
}
