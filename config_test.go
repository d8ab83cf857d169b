package ivp_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/soypat/goivp"
	"github.com/soypat/goivp/state"
	"github.com/soypat/goivp/stepper"
)

func TestConfigFromYAML(t *testing.T) {
	cfg, err := ivp.ConfigFromYAML([]byte(`
rtol: 1.0e-6
atol: 1.0e-9
hmax: 0.25
mxstep: 1000
interpolant: lagrange
`))
	require.NoError(t, err)
	require.Equal(t, 1e-6, cfg.RTol)
	require.Equal(t, 1e-9, cfg.ATol)
	require.Equal(t, 0.25, cfg.MaxStep)
	require.Equal(t, 1000, cfg.MaxSteps)
	require.Equal(t, "lagrange", cfg.Interpolant)

	_, err = ivp.ConfigFromYAML([]byte("rtol: ["))
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	s := ivp.New()
	require.Error(t, s.SetConfig(ivp.Config{RTol: -1}))
	require.Error(t, s.SetConfig(ivp.Config{MinStep: 2, MaxStep: 1}))
	require.Error(t, s.SetConfig(ivp.Config{FixedStep: true}))
	require.Error(t, s.SetConfig(ivp.Config{Interpolant: "spline"}))
	require.NoError(t, s.SetConfig(ivp.Config{RTol: 1e-6, ATol: 1e-9, MaxStep: 0.5}))
}

func TestLagrangeInterpolant(t *testing.T) {
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	require.NoError(t, s.SetConfig(ivp.Config{RTol: 1e-9, ATol: 1e-11, MaxStep: 0.05, Interpolant: "lagrange"}))
	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	tret, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, 1.0, tret)
	// tout is reached by interpolation over the state history
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-6)

	stats := s.Stats()
	dky := yout.CloneEmpty()
	tmid := stats.CurrentTime - stats.LastStep/2
	require.NoError(t, s.GetDky(tmid, 0, dky))
	require.InDelta(t, math.Exp(-tmid), dky.(*state.Vector).RawData()[0], 1e-6)
}

func TestVectorTolerance(t *testing.T) {
	s := ivp.New()
	s.SetRHS(decay)
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetVectorTolerance(1e-8, state.NewFromSlice([]float64{1e-10}))
	y0 := state.NewFromSlice([]float64{1})
	require.NoError(t, s.Init(0, y0, ivp.FirstInit))

	yout := y0.CloneEmpty()
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.InDelta(t, math.Exp(-1), yout.(*state.Vector).RawData()[0], 1e-7)
}

func TestAccumulatedError(t *testing.T) {
	s, yout := newDecaySolver(t)
	s.SetAccumulatedErrorMode(ivp.AccumMax)
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	acc := s.AccumulatedError()
	require.Greater(t, acc, 0.0)
	require.LessOrEqual(t, acc, 1.0) // accepted steps all passed the error test
	s.ResetAccumulatedError()
	require.Equal(t, 0.0, s.AccumulatedError())
}

func TestPostStepProcessor(t *testing.T) {
	s, yout := newDecaySolver(t)
	seen := 0
	s.SetPostStep(func(tt float64, y ivp.Vector) error {
		seen++
		return nil
	})
	_, _, err := s.Evolve(1, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, int(s.Stats().Steps), seen)
}
