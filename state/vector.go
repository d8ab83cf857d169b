// Package state provides the dense reference implementation of the
// integrator's vector capability, backed by a []float64 and the gonum
// floats kernels.
package state

import (
	"fmt"
	"math"

	"github.com/soypat/goivp"
	"gonum.org/v1/gonum/floats"
)

// Vector is a dense state vector. The zero value is not usable; create
// vectors with New or NewFromSlice.
type Vector struct {
	x []float64
}

// New creates a zeroed dense vector of length n.
func New(n int) *Vector {
	if n <= 0 {
		throwf("state: vector length must be positive. got %d", n)
	}
	return &Vector{x: make([]float64, n)}
}

// NewFromSlice creates a dense vector that copies x.
func NewFromSlice(x []float64) *Vector {
	if len(x) == 0 {
		throwf("state: vector length must be positive. got 0")
	}
	v := &Vector{x: make([]float64, len(x))}
	copy(v.x, x)
	return v
}

// RawData returns the backing slice. Mutating it mutates the vector.
func (v *Vector) RawData() []float64 { return v.x }

// Len returns the number of components.
func (v *Vector) Len() int { return len(v.x) }

// Clone returns a deep copy of v.
func (v *Vector) Clone() ivp.Vector {
	return NewFromSlice(v.x)
}

// CloneEmpty returns a zeroed vector of the same length.
func (v *Vector) CloneEmpty() ivp.Vector {
	return New(len(v.x))
}

// CopyFrom copies x into v.
// It panics if the lengths do not match.
func (v *Vector) CopyFrom(x ivp.Vector) {
	xs := raw(x)
	if len(xs) != len(v.x) {
		throwf("state: copy of length %d into length %d", len(xs), len(v.x))
	}
	copy(v.x, xs)
}

// Fill sets every component of v to c.
func (v *Vector) Fill(c float64) {
	for i := range v.x {
		v.x[i] = c
	}
}

// Scale multiplies every component of v by c.
func (v *Vector) Scale(c float64) {
	floats.Scale(c, v.x)
}

// AddConst adds the scalar c to all components of v.
func (v *Vector) AddConst(c float64) {
	floats.AddConst(c, v.x)
}

// Abs sets v to the componentwise absolute value of x.
func (v *Vector) Abs(x ivp.Vector) {
	xs := raw(x)
	for i := range v.x {
		v.x[i] = math.Abs(xs[i])
	}
}

// Inv sets v to the componentwise reciprocal of x.
func (v *Vector) Inv(x ivp.Vector) {
	xs := raw(x)
	for i := range v.x {
		v.x[i] = 1 / xs[i]
	}
}

// Mul performs element-wise multiplication of x and y into v.
// It panics if the argument lengths do not match.
func (v *Vector) Mul(x, y ivp.Vector) {
	floats.MulTo(v.x, raw(x), raw(y))
}

// Div performs element-wise division x/y into v.
// It panics if the argument lengths do not match.
func (v *Vector) Div(x, y ivp.Vector) {
	floats.DivTo(v.x, raw(x), raw(y))
}

// LinearSum sets v to a*x + b*y. v may alias x or y.
func (v *Vector) LinearSum(a float64, x ivp.Vector, b float64, y ivp.Vector) {
	xs, ys := raw(x), raw(y)
	for i := range v.x {
		v.x[i] = a*xs[i] + b*ys[i]
	}
}

// LinearCombination sets v to sum c[i]*xs[i]. v may alias xs[0].
// It panics if c and xs lengths differ or xs is empty.
func (v *Vector) LinearCombination(c []float64, xs []ivp.Vector) {
	if len(c) != len(xs) || len(xs) == 0 {
		throwf("state: linear combination of %d coefficients over %d vectors", len(c), len(xs))
	}
	floats.ScaleTo(v.x, c[0], raw(xs[0]))
	for i := 1; i < len(xs); i++ {
		floats.AddScaled(v.x, c[i], raw(xs[i]))
	}
}

// Dot returns the dot product of v and x.
func (v *Vector) Dot(x ivp.Vector) float64 {
	return floats.Dot(v.x, raw(x))
}

// Min returns the smallest component of v.
func (v *Vector) Min() float64 {
	return floats.Min(v.x)
}

// MaxNorm returns the largest absolute component of v.
func (v *Vector) MaxNorm() float64 {
	m := 0.0
	for i := range v.x {
		if a := math.Abs(v.x[i]); a > m {
			m = a
		}
	}
	return m
}

// WrmsNorm returns the weighted root-mean-square norm of v with
// weights w.
func (v *Vector) WrmsNorm(w ivp.Vector) float64 {
	ws := raw(w)
	sum := 0.0
	for i := range v.x {
		p := v.x[i] * ws[i]
		sum += p * p
	}
	return math.Sqrt(sum / float64(len(v.x)))
}

// ConstrMask tests v against the constraint codes in c and writes a
// 0/1 violation mask into m. Codes follow the integrator convention:
// ±2 for non-strict, ±1 for strict inequalities against zero.
func (v *Vector) ConstrMask(c, m ivp.Vector) bool {
	cs, ms := raw(c), raw(m)
	ok := true
	for i := range v.x {
		ms[i] = 0
		switch {
		case cs[i] == 0:
			continue
		case math.Abs(cs[i]) > 1.5: // >=0 or <=0
			if v.x[i]*cs[i] < 0 {
				ms[i] = 1
				ok = false
			}
		default: // >0 or <0
			if v.x[i]*cs[i] <= 0 {
				ms[i] = 1
				ok = false
			}
		}
	}
	return ok
}

// MinQuotient returns the minimum of num_i/denom_i over components with
// nonzero denominator, or +Inf when every denominator is zero.
func (v *Vector) MinQuotient(num, denom ivp.Vector) float64 {
	ns, ds := raw(num), raw(denom)
	q := math.Inf(1)
	for i := range ns {
		if ds[i] == 0 {
			continue
		}
		if r := ns[i] / ds[i]; r < q {
			q = r
		}
	}
	return q
}

func raw(x ivp.Vector) []float64 {
	d, ok := x.(*Vector)
	if !ok {
		throwf("state: mixed vector implementations: %T", x)
	}
	return d.x
}

func throwf(format string, a ...interface{}) {
	panic(fmt.Sprintf(format, a...))
}
