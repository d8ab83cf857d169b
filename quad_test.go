package ivp_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/soypat/goivp"
	"github.com/soypat/goivp/lin"
	"github.com/soypat/goivp/nonlin"
	"github.com/soypat/goivp/state"
	"github.com/soypat/goivp/stepper"
)

// newSolverFor wires the named stepper with whatever solvers it needs.
func newSolverFor(t *testing.T, name string) *ivp.Solver {
	t.Helper()
	s := ivp.New()
	switch name {
	case "dormandPrince":
		require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	case "sdirk2":
		require.NoError(t, s.AttachStepper(stepper.NewSDIRK2()))
		require.NoError(t, s.AttachNonlinearSolver(nonlin.NewNewton()))
		require.NoError(t, s.AttachLinearSolver(lin.NewDirect(), lin.NewDense(2)))
	}
	return s
}

// all steppers must reproduce theta(t) = 1/2 t^2 from the system
// theta' = thetaDot, thetaDot' = 1.
func TestQuadraticAcrossSteppers(t *testing.T) {
	for _, tc := range []struct {
		name string
		tol  float64
	}{
		{name: "dormandPrince", tol: 1e-7},
		{name: "sdirk2", tol: 1e-3},
	} {
		s := newSolverFor(t, tc.name)
		s.SetRHS(func(tt float64, y, ydot ivp.Vector) error {
			r := y.(*state.Vector).RawData()
			d := ydot.(*state.Vector).RawData()
			d[0] = r[1]
			d[1] = 1
			return nil
		})
		s.SetTolerance(1e-8, 1e-10)
		require.NoError(t, s.Init(0, state.New(2), ivp.FirstInit))

		yout := state.New(2)
		tret, _, err := s.Evolve(1, yout, ivp.Normal)
		require.NoError(t, err, tc.name)
		require.Equal(t, 1.0, tret, tc.name)
		require.InDelta(t, 0.5, yout.RawData()[0], tc.tol, tc.name)
		require.InDelta(t, 1.0, yout.RawData()[1], tc.tol, tc.name)
	}
}

func TestBackwardIntegration(t *testing.T) {
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-8, 1e-10)
	require.NoError(t, s.Init(0, state.NewFromSlice([]float64{1}), ivp.FirstInit))

	yout := state.New(1)
	prev := 0.0
	// each step must move strictly backward
	for i := 0; i < 3; i++ {
		tret, _, err := s.Evolve(-1, yout, ivp.OneStep)
		require.NoError(t, err)
		require.Less(t, tret, prev)
		prev = tret
	}
	tret, st, err := s.Evolve(-1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.Equal(t, -1.0, tret)
	require.InDelta(t, math.E, yout.RawData()[0], 1e-6)
}
