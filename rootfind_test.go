package ivp_test

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/soypat/goivp"
	"github.com/soypat/goivp/state"
	"github.com/soypat/goivp/stepper"
)

var errMock = errors.New("mock failure")

// oscillator sets up y'' = -y as a first order system with g = y0, so
// sin(t) crosses zero at every multiple of pi.
func newOscillator(t *testing.T) *ivp.Solver {
	t.Helper()
	s := ivp.New()
	s.SetRHS(func(tt float64, y, ydot ivp.Vector) error {
		r := y.(*state.Vector).RawData()
		d := ydot.(*state.Vector).RawData()
		d[0] = r[1]
		d[1] = -r[0]
		return nil
	})
	require.NoError(t, s.AttachStepper(stepper.NewDormandPrince()))
	s.SetTolerance(1e-9, 1e-11)
	require.NoError(t, s.Init(0, state.NewFromSlice([]float64{0, 1}), ivp.FirstInit))
	return s
}

func TestRootInitialZeroInactive(t *testing.T) {
	s := newOscillator(t)
	require.NoError(t, s.RootInit(1, func(tt float64, y ivp.Vector, g []float64) error {
		g[0] = y.(*state.Vector).RawData()[0] // zero at t = 0 and t = pi
		return nil
	}))
	yout := state.New(2)
	// the zero at t0 is marked inactive, not reported; the next zero is pi
	tret, st, err := s.Evolve(4, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.RootReturn, st)
	require.InDelta(t, math.Pi, tret, 1e-7)
}

func TestRootDirectionMask(t *testing.T) {
	s := newOscillator(t)
	require.NoError(t, s.RootInit(1, func(tt float64, y ivp.Vector, g []float64) error {
		g[0] = y.(*state.Vector).RawData()[1] // cos(t): falls at pi/2, rises at 3pi/2
		return nil
	}))
	require.NoError(t, s.SetRootDirection([]int{1})) // rising only
	yout := state.New(2)
	tret, st, err := s.Evolve(7, yout, ivp.Normal)
	require.NoError(t, err)
	require.Equal(t, ivp.RootReturn, st)
	require.InDelta(t, 3*math.Pi/2, tret, 1e-6)

	info := make([]int, 1)
	require.NoError(t, s.RootInfo(info))
	require.Equal(t, 1, info[0]) // g was negative on the low side
}

func TestRootDirectionValidation(t *testing.T) {
	s := newOscillator(t)
	require.NoError(t, s.RootInit(2, func(tt float64, y ivp.Vector, g []float64) error {
		g[0], g[1] = 1, 1
		return nil
	}))
	require.Error(t, s.SetRootDirection([]int{1}))
	require.Error(t, s.SetRootDirection([]int{0, 3}))
	require.NoError(t, s.SetRootDirection([]int{0, -1}))
}

func TestRootFnFailureIsFatal(t *testing.T) {
	s := newOscillator(t)
	require.NoError(t, s.RootInit(1, func(tt float64, y ivp.Vector, g []float64) error {
		if tt > 0.5 {
			return errMock
		}
		g[0] = -1
		return nil
	}))
	yout := state.New(2)
	_, _, err := s.Evolve(4, yout, ivp.Normal)
	require.Error(t, err)
	require.Equal(t, ivp.RootFuncFail, ivp.CodeOf(err))
}
