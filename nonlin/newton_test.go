package nonlin

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/soypat/goivp"
	"github.com/soypat/goivp/state"
)

// wireScalar sets the Newton solver onto the scalar residual
// F(z) = z - c with the exact linear solve A = F' = 1.
func wireScalar(nw *Newton, c float64) {
	nw.SetSys(func(zcor, out ivp.Vector) error {
		out.CopyFrom(zcor)
		out.AddConst(-c)
		return nil
	})
	nw.SetLSolve(func(b ivp.Vector) error { return nil }) // A = I
	nw.SetConvTest(func(iter int, del, w ivp.Vector, tol float64) (ivp.ConvResult, error) {
		if del.WrmsNorm(w) <= tol {
			return ivp.ConvSatisfied, nil
		}
		return ivp.ConvContinue, nil
	})
}

func TestNewtonSolvesLinearResidual(t *testing.T) {
	nw := NewNewton()
	require.NoError(t, nw.Init(state.New(1)))
	wireScalar(nw, 0.75)

	z := state.New(1)
	w := state.NewFromSlice([]float64{1})
	iters, err := nw.Solve(z, w, 1e-12, false)
	require.NoError(t, err)
	// the exact solve lands in one increment; one more pass sees it
	require.Equal(t, 2, iters)
	require.InDelta(t, 0.75, z.RawData()[0], 1e-12)
}

func TestNewtonIterationCap(t *testing.T) {
	nw := NewNewton()
	require.NoError(t, nw.Init(state.New(1)))
	nw.SetMaxIters(2)
	nw.SetSys(func(zcor, out ivp.Vector) error {
		out.Fill(1) // residual never shrinks
		return nil
	})
	nw.SetLSolve(func(b ivp.Vector) error {
		b.Scale(1e-3) // damped correction keeps the test iterating
		return nil
	})
	nw.SetConvTest(func(iter int, del, w ivp.Vector, tol float64) (ivp.ConvResult, error) {
		return ivp.ConvContinue, nil
	})

	z := state.New(1)
	w := state.NewFromSlice([]float64{1})
	_, err := nw.Solve(z, w, 1e-12, false)
	require.Error(t, err)
	require.True(t, errors.Is(err, ivp.ErrConvergence))
	require.True(t, ivp.Recoverable(err))
}

func TestNewtonRefreshesJacobianOnce(t *testing.T) {
	nw := NewNewton()
	require.NoError(t, nw.Init(state.New(1)))
	wireScalar(nw, 0.5)
	setups := 0
	nw.SetLSetup(func(jbad bool) (bool, error) {
		setups++
		return true, nil
	})

	z := state.New(1)
	w := state.NewFromSlice([]float64{1})
	_, err := nw.Solve(z, w, 1e-12, true)
	require.NoError(t, err)
	require.Equal(t, 1, setups)
}

func TestFixedPointConverges(t *testing.T) {
	fp := NewFixedPoint()
	require.NoError(t, fp.Init(state.New(1)))
	fp.SetMaxIters(50)
	// G(z) = (z + 1)/2 has fixed point 1
	fp.SetSys(func(zcor, out ivp.Vector) error {
		out.CopyFrom(zcor)
		out.Scale(0.5)
		out.AddConst(0.5)
		return nil
	})
	fp.SetConvTest(func(iter int, del, w ivp.Vector, tol float64) (ivp.ConvResult, error) {
		if del.WrmsNorm(w) <= tol {
			return ivp.ConvSatisfied, nil
		}
		return ivp.ConvContinue, nil
	})

	z := state.New(1)
	w := state.NewFromSlice([]float64{1})
	_, err := fp.Solve(z, w, 1e-10, false)
	require.NoError(t, err)
	require.InDelta(t, 1.0, z.RawData()[0], 1e-9)
}
