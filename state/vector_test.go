package state

import (
	"math"
	"testing"

	"github.com/soypat/goivp"
)

func TestArithmetic(t *testing.T) {
	v := NewFromSlice([]float64{1, -2, 3})
	w := New(3)

	w.Abs(v)
	for i, want := range []float64{1, 2, 3} {
		if w.x[i] != want {
			t.Errorf("Abs[%d]: expected %v, got %v", i, want, w.x[i])
		}
	}

	w.Inv(v)
	if w.x[1] != -0.5 {
		t.Errorf("Inv: expected -0.5, got %v", w.x[1])
	}

	w.LinearSum(2, v, 1, v)
	for i := range w.x {
		if w.x[i] != 3*v.x[i] {
			t.Errorf("LinearSum[%d]: expected %v, got %v", i, 3*v.x[i], w.x[i])
		}
	}

	// aliasing the receiver with an operand must be safe
	u := v.Clone().(*Vector)
	u.LinearSum(1, u, 2, v)
	if u.x[0] != 3 {
		t.Errorf("aliased LinearSum: expected 3, got %v", u.x[0])
	}

	if got := v.Dot(v); got != 14 {
		t.Errorf("Dot: expected 14, got %v", got)
	}
	if got := v.Min(); got != -2 {
		t.Errorf("Min: expected -2, got %v", got)
	}
	if got := v.MaxNorm(); got != 3 {
		t.Errorf("MaxNorm: expected 3, got %v", got)
	}
}

func TestLinearCombination(t *testing.T) {
	a := NewFromSlice([]float64{1, 1})
	b := NewFromSlice([]float64{0, 1})
	c := NewFromSlice([]float64{2, 0})
	dst := New(2)
	dst.LinearCombination([]float64{1, 2, 3}, []ivp.Vector{a, b, c})
	if dst.x[0] != 7 || dst.x[1] != 3 {
		t.Errorf("LinearCombination: expected [7 3], got %v", dst.x)
	}
}

func TestWrmsNorm(t *testing.T) {
	v := NewFromSlice([]float64{3, 4})
	w := NewFromSlice([]float64{1, 1})
	want := math.Sqrt((9.0 + 16.0) / 2.0)
	if got := v.WrmsNorm(w); math.Abs(got-want) > 1e-15 {
		t.Errorf("WrmsNorm: expected %v, got %v", want, got)
	}
}

func TestConstrMask(t *testing.T) {
	c := NewFromSlice([]float64{2, -1, 0, 1})
	m := New(4)

	ok := NewFromSlice([]float64{0, -3, 42, 1}).ConstrMask(c, m)
	if !ok {
		t.Error("expected constraints satisfied")
	}

	y := NewFromSlice([]float64{-1, 0, 42, 1})
	if y.ConstrMask(c, m) {
		t.Error("expected violations")
	}
	if m.x[0] != 1 || m.x[1] != 1 || m.x[2] != 0 || m.x[3] != 0 {
		t.Errorf("mask: expected [1 1 0 0], got %v", m.x)
	}
}

func TestMinQuotient(t *testing.T) {
	num := NewFromSlice([]float64{1, 4, 9})
	den := NewFromSlice([]float64{2, 0, 3})
	v := New(3)
	if got := v.MinQuotient(num, den); got != 0.5 {
		t.Errorf("MinQuotient: expected 0.5, got %v", got)
	}
	zero := New(3)
	if got := v.MinQuotient(num, zero); !math.IsInf(got, 1) {
		t.Errorf("MinQuotient over zero denominator: expected +Inf, got %v", got)
	}
}
