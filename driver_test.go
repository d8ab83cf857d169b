package ivp_test

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/soypat/goivp"
	"github.com/soypat/goivp/lin"
	"github.com/soypat/goivp/nonlin"
	"github.com/soypat/goivp/state"
	"github.com/soypat/goivp/stepper"
)

// decay is the scalar test problem y' = -y, y(0) = 1.
func decay(t float64, y, ydot ivp.Vector) error {
	ydot.CopyFrom(y)
	ydot.Scale(-1)
	return nil
}

func newDecaySolver(t *testing.T) (*ivp.Solver, ivp.Vector) {
	t.Helper()
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-8, 1e-10)
	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))
	return s, y0.CloneEmpty()
}

func TestLinearScalarDecay(t *testing.T) {
	s, yout := newDecaySolver(t)
	tret, st, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.Equal(t, 1.0, tret)

	got := yout.(*state.Vector).RawData()[0]
	require.InDelta(t, math.Exp(-1), got, 1e-7)

	stats := s.Stats()
	require.GreaterOrEqual(t, stats.Steps, int64(1))
	require.GreaterOrEqual(t, stats.StepAttempts, stats.Steps)
	require.Equal(t, int64(0), stats.RootEvals)
}

func TestRootDetection(t *testing.T) {
	s := ivp.New()
	s.SetRHS(func(t float64, y, ydot ivp.Vector) error {
		ydot.Fill(1)
		return nil
	})
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-8, 1e-10)
	y0 := state.NewFromSlice([]float64{0})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))
	require.NoError(t, s.RootInit(1, func(t float64, y ivp.Vector, g []float64) error {
		g[0] = y.(*state.Vector).RawData()[0] - 0.5
		return nil
	}))

	yout := y0.CloneEmpty()
	tret, st, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.RootReturn, st)
	require.InDelta(t, 0.5, tret, 1e-9)
	require.InDelta(t, 0.5, yout.(*state.Vector).RawData()[0], 1e-8)

	info := make([]int, 1)
	require.NoError(t, s.RootInfo(info))
	require.Equal(t, 1, info[0])
	require.Greater(t, s.Stats().RootEvals, int64(0))

	// resume past the root to tout
	tret, st, err = s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.Equal(t, 1.0, tret)
	require.InDelta(t, 1.0, yout.(*state.Vector).RawData()[0], 1e-8)
}

func TestTstopCoincidence(t *testing.T) {
	s := ivp.New()
	s.SetRHS(func(t float64, y, ydot ivp.Vector) error {
		ydot.Fill(0)
		return nil
	})
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-8, 1e-10)
	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))
	require.NoError(t, s.SetStopTime(0.5, false))

	yout := y0.CloneEmpty()
	tret, st, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.TstopReturn, st)
	require.Equal(t, 0.5, tret)
	require.Equal(t, 1.0, yout.(*state.Vector).RawData()[0])

	tret, st, err = s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.Equal(t, 1.0, tret)
}

func TestOneStepMode(t *testing.T) {
	s, yout := newDecaySolver(t)
	for i := 1; i <= 5; i++ {
		_, st, err := s.Evolve(1, yout, ivp.OneStep)
		require.NoError(t, err)
		require.Equal(t, ivp.Success, st)
		require.Equal(t, int64(i), s.Stats().Steps)
	}
}

func TestRecoverableRHSDuringEstimation(t *testing.T) {
	fails := 0
	s := ivp.New()
	s.SetRHS(func(tt float64, y, ydot ivp.Vector) error {
		if tt != 0 && fails < 2 {
			fails++
			return errors.Wrap(ivp.ErrRecoverable, "transient failure")
		}
		return decay(tt, y, ydot)
	})
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-8, 1e-10)
	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	tret, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, 1.0, tret)
	require.Equal(t, 2, fails)
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-6)
}

func TestConstraintViolation(t *testing.T) {
	s := ivp.New()
	s.SetRHS(func(t float64, y, ydot ivp.Vector) error {
		ydot.Fill(-1)
		return nil
	})
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-6, 1e-8)
	s.SetMinStep(0.01)
	require.NoError(t, s.SetConstraints(state.NewFromSlice([]float64{2}))) // y >= 0

	y0 := state.NewFromSlice([]float64{0.1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.Error(t, err)
	require.Equal(t, ivp.ConstraintFail, ivp.CodeOf(err))
	// the preserved snapshot still honors the constraint
	require.GreaterOrEqual(t, yout.(*state.Vector).RawData()[0], 0.0)
	require.Greater(t, s.Stats().ConstraintFails, int64(0))
}

func TestGetDkyRoundTrip(t *testing.T) {
	s, yout := newDecaySolver(t)
	_, _, err := s.Evolve(1, yout, ivp.OneStep)
	require.NoError(t, err)

	stats := s.Stats()
	dky := yout.CloneEmpty()
	require.NoError(t, s.GetDky(stats.CurrentTime, 0, dky))
	diff := dky.Clone()
	diff.LinearSum(1, diff, -1, yout)
	require.Less(t, diff.MaxNorm(), 1e-12)
}

func TestGetDkyValidation(t *testing.T) {
	s, yout := newDecaySolver(t)
	_, _, err := s.Evolve(1, yout, ivp.OneStep)
	require.NoError(t, err)
	stats := s.Stats()

	dky := yout.CloneEmpty()
	err = s.GetDky(stats.CurrentTime, 5, dky)
	require.Equal(t, ivp.BadK, ivp.CodeOf(err))

	err = s.GetDky(stats.CurrentTime-10*stats.LastStep, 0, dky)
	require.Equal(t, ivp.BadT, ivp.CodeOf(err))

	// k = 1 inside the last step approximates y' = -y
	tmid := stats.CurrentTime - stats.LastStep/2
	require.NoError(t, s.GetDky(tmid, 1, dky))
	require.InDelta(t, -math.Exp(-tmid), dky.(*state.Vector).RawData()[0], 1e-5)
}

func TestTooCloseAndDirection(t *testing.T) {
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-8, 1e-10)
	require.NoError(t, s.Init(1, state.NewFromSlice([]float64{1}), ivp.FirstInit))
	yout := state.New(1).CloneEmpty()
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.Equal(t, ivp.TooClose, ivp.CodeOf(err))

	s2 := ivp.New()
	s2.SetRHS(decay)
	require.NoError(t, s2.AttachStepper(stepper.NewDormandPrince()))
	s2.SetTolerance(1e-8, 1e-10)
	s2.SetInitialStep(-0.1) // points away from tout
	require.NoError(t, s2.Init(0, state.NewFromSlice([]float64{1}), ivp.FirstInit))
	_, _, err = s2.Evolve(1, yout, ivp.Normal)
	require.Equal(t, ivp.IllegalInput, ivp.CodeOf(err))
}

func TestTooMuchWorkIsResumable(t *testing.T) {
	s, yout := newDecaySolver(t)
	s.SetMaxSteps(2)
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.Equal(t, ivp.TooMuchWork, ivp.CodeOf(err))

	s.SetMaxSteps(0) // restore default
	tret, st, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.Equal(t, 1.0, tret)
}

func TestResetIdempotence(t *testing.T) {
	s, yout := newDecaySolver(t)
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)

	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Reset(0, y0))
	first := s.Stats()
	require.NoError(t, s.Reset(0, y0))
	second := s.Stats()
	require.Equal(t, first, second)
	require.Greater(t, first.Steps, int64(0)) // counters survive Reset

	tret, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, 1.0, tret)
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-7)
}

func TestFixedStepRK4(t *testing.T) {
	s := ivp.New()
	s.SetRHS(func(t float64, y, ydot ivp.Vector) error {
		ydot.Fill(1)
		return nil
	})
	require.NoError(t, s.AttachStepper(stepper.NewRK4()))
	s.SetFixedStep(0.1)
	y0 := state.NewFromSlice([]float64{0})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	tret, st, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.InDelta(t, 1.0, tret, 1e-12)
	require.InDelta(t, 1.0, yout.(*state.Vector).RawData()[0], 1e-12)
	steps := s.Stats().Steps
	require.GreaterOrEqual(t, steps, int64(10))
	require.LessOrEqual(t, steps, int64(11))
}

func TestImplicitDecayNewtonDirect(t *testing.T) {
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewSDIRK2()))
	require.NoError(t, s.AttachNonlinearSolver(nonlin.NewNewton()))
	require.NoError(t, s.AttachLinearSolver(lin.NewDirect(), lin.NewDense(1)))
	s.SetTolerance(1e-6, 1e-9)

	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	tret, st, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.Success, st)
	require.Equal(t, 1.0, tret)
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-3)

	stats := s.Stats()
	require.Greater(t, stats.NonlinIters, int64(0))
	require.Greater(t, stats.LinSetups, int64(0))
	require.Greater(t, stats.JacEvals, int64(0))
}

func TestImplicitDecayGMRESMatrixFree(t *testing.T) {
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewSDIRK2()))
	require.NoError(t, s.AttachNonlinearSolver(nonlin.NewNewton()))
	tmpl := state.New(1)
	require.NoError(t, s.AttachLinearSolver(lin.NewGMRES(tmpl, 5, 20), nil))
	s.SetTolerance(1e-6, 1e-9)

	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	tret, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, 1.0, tret)
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-3)
	require.Greater(t, s.Stats().JtimesEvals, int64(0))
}

// cubic decay y' = -k*y^3 has the closed form y(t) = y0/sqrt(1+2k*y0^2*t);
// its Jacobian changes with the iterate, so a stale difference-quotient
// origin shows up as a wrong answer rather than just slow convergence.
func cubicDecay(k float64) ivp.Func {
	return func(tt float64, y, ydot ivp.Vector) error {
		v := y.(*state.Vector).RawData()[0]
		ydot.(*state.Vector).RawData()[0] = -k * v * v * v
		return nil
	}
}

func TestImplicitNonlinearCubic(t *testing.T) {
	const k = 10.0
	want := 1 / math.Sqrt(1+2*k) // y(1) with y0 = 1
	for _, tc := range []struct {
		name   string
		attach func(s *ivp.Solver) error
	}{
		{name: "newtonDirectDQ", attach: func(s *ivp.Solver) error {
			return s.AttachLinearSolver(lin.NewDirect(), lin.NewDense(1))
		}},
		{name: "newtonGMRES", attach: func(s *ivp.Solver) error {
			return s.AttachLinearSolver(lin.NewGMRES(state.New(1), 5, 20), nil)
		}},
	} {
		s := ivp.New()
		s.SetRHS(cubicDecay(k))
		require.NoError(t, s.AttachStepper(stepper.NewSDIRK2()), tc.name)
		require.NoError(t, s.AttachNonlinearSolver(nonlin.NewNewton()), tc.name)
		require.NoError(t, tc.attach(s), tc.name)
		s.SetTolerance(1e-6, 1e-9)
		require.NoError(t, s.Init(0, state.NewFromSlice([]float64{1}), ivp.FirstInit), tc.name)

		yout := state.New(1)
		tret, st, err := s.Evolve(1, yout, ivp.Normal)
		require.NoError(t, err, tc.name)
		require.Equal(t, ivp.Success, st, tc.name)
		require.Equal(t, 1.0, tret, tc.name)
		require.InDelta(t, want, yout.RawData()[0], 1e-3, tc.name)
	}
}

func TestMassMatrixDecay(t *testing.T) {
	// 2 y' = -2 y is y' = -y through a constant mass matrix
	s := ivp.New()
	s.SetRHS(func(t float64, y, ydot ivp.Vector) error {
		ydot.CopyFrom(y)
		ydot.Scale(-2)
		return nil
	})
	require.NoError(t, s.AttachStepper(stepper.NewSDIRK2()))
	require.NoError(t, s.AttachNonlinearSolver(nonlin.NewNewton()))
	require.NoError(t, s.AttachLinearSolver(lin.NewDirect(), lin.NewDense(1)))
	massFill := func(t float64, m ivp.Matrix) error {
		m.(*lin.Dense).Raw().Set(0, 0, 2) // M = 2I
		return nil
	}
	require.NoError(t, s.AttachMassSolver(lin.NewDirect(), lin.NewDense(1), massFill, false))
	s.SetTolerance(1e-6, 1e-9)

	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	tret, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, 1.0, tret)
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-3)
}

func TestEvolveBeforeInitRejected(t *testing.T) {
	s := ivp.New()
	yout := state.New(1)
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.Equal(t, ivp.IllegalInput, ivp.CodeOf(err))
}
