package ivp

import "github.com/pkg/errors"

// Interpolant is the dense-output hook: seeded at t0, fed every
// committed step, and evaluated for y and its derivatives inside the
// last step interval.
type Interpolant interface {
	// Init seeds the model at the initial condition; f may be nil when
	// no full RHS is available.
	Init(t float64, y, f Vector)
	// Update feeds the newly committed step; it runs before yn is
	// overwritten elsewhere.
	Update(t float64, y, f Vector)
	// Evaluate writes the k-th derivative of the interpolant at t into
	// dky.
	Evaluate(dky Vector, t float64, k int) error
	// Degree is the currently supported polynomial degree.
	Degree() int
	// NeedsRHS reports whether Update requires a full-RHS value.
	NeedsRHS() bool
}

// errDegree signals a derivative order beyond the interpolant degree.
var errDegree = errors.New("derivative order exceeds interpolant degree")

// hermite is the cubic Hermite model over the last step [t0, t1] built
// from state and RHS values at both endpoints.
type hermite struct {
	s          *Solver
	t0, t1     float64
	y1, f1     Vector
	c2, c3     Vector
	havePair   bool
}

func newHermite(s *Solver, tmpl Vector) *hermite {
	return &hermite{
		s:  s,
		y1: tmpl.CloneEmpty(),
		f1: tmpl.CloneEmpty(),
		c2: tmpl.CloneEmpty(),
		c3: tmpl.CloneEmpty(),
	}
}

func (hi *hermite) NeedsRHS() bool { return true }

func (hi *hermite) Degree() int {
	if hi.havePair {
		return 3
	}
	return 1
}

func (hi *hermite) Init(t float64, y, f Vector) {
	hi.t0, hi.t1 = t, t
	hi.y1.CopyFrom(y)
	if f != nil {
		hi.f1.CopyFrom(f)
	} else {
		hi.f1.Fill(0)
	}
	hi.c2.Fill(0)
	hi.c3.Fill(0)
	hi.havePair = false
}

// Update folds the previous endpoint and the new one into monomial
// coefficients about t1, so Evaluate is a short linear combination.
func (hi *hermite) Update(t float64, y, f Vector) {
	h := t - hi.t1
	if h == 0 {
		return
	}
	y0, f0 := hi.s.tempv, hi.s.tempv2
	y0.CopyFrom(hi.y1)
	f0.CopyFrom(hi.f1)
	hi.t0, hi.t1 = hi.t1, t
	hi.y1.CopyFrom(y)
	hi.f1.CopyFrom(f)
	// p(s) = y1 + f1 s + c2 s^2 + c3 s^3, s = t* - t1, matching
	// (y0, f0) at s = -h
	a := hi.c2 // A = y0 - y1 + h f1
	a.LinearSum(1, y0, -1, hi.y1)
	a.LinearSum(1, a, h, hi.f1)
	b := hi.c3 // B = f0 - f1
	b.LinearSum(1, f0, -1, hi.f1)
	h2, h3 := h*h, h*h*h
	// c3 = B/h^2 + 2A/h^3, then c2 = A/h^2 + h*c3 (== 3A/h^2 + B/h),
	// ordered so each write only consumes values still live
	hi.s.linComb(b, []float64{1 / h2, 2 / h3}, []Vector{b, a})
	a.LinearSum(1/h2, a, h, b)
	hi.havePair = true
}

func (hi *hermite) Evaluate(dky Vector, t float64, k int) error {
	if k > hi.Degree() {
		return errDegree
	}
	sp := t - hi.t1
	s2 := sp * sp
	switch k {
	case 0:
		hi.s.linComb(dky, []float64{1, sp, s2, s2 * sp}, []Vector{hi.y1, hi.f1, hi.c2, hi.c3})
	case 1:
		hi.s.linComb(dky, []float64{1, 2 * sp, 3 * s2}, []Vector{hi.f1, hi.c2, hi.c3})
	case 2:
		hi.s.linComb(dky, []float64{2, 6 * sp}, []Vector{hi.c2, hi.c3})
	case 3:
		hi.s.linComb(dky, []float64{6}, []Vector{hi.c3})
	}
	return nil
}

// lagrange interpolates over a short history of committed states; it
// needs no RHS values, so it serves steppers without a full RHS.
type lagrange struct {
	s      *Solver
	maxDeg int
	ts     []float64
	ys     []Vector
}

func newLagrange(s *Solver, tmpl Vector) *lagrange {
	return &lagrange{s: s, maxDeg: 3}
}

func (la *lagrange) NeedsRHS() bool { return false }

func (la *lagrange) Degree() int { return len(la.ts) - 1 }

func (la *lagrange) Init(t float64, y, f Vector) {
	la.ts = la.ts[:0]
	la.ys = la.ys[:0]
	la.push(t, y)
}

func (la *lagrange) Update(t float64, y, f Vector) {
	la.push(t, y)
}

func (la *lagrange) push(t float64, y Vector) {
	if len(la.ts) == la.maxDeg+1 {
		copy(la.ts, la.ts[1:])
		old := la.ys[0]
		copy(la.ys, la.ys[1:])
		old.CopyFrom(y)
		la.ts[la.maxDeg] = t
		la.ys[la.maxDeg] = old
		return
	}
	la.ts = append(la.ts, t)
	la.ys = append(la.ys, y.Clone())
}

// Evaluate computes the k-th derivative of the Newton-form polynomial
// through the stored history by Horner recurrences with derivative
// accumulation.
func (la *lagrange) Evaluate(dky Vector, t float64, k int) error {
	m := len(la.ts) - 1
	if k > m {
		return errDegree
	}
	// divided-difference triangle
	work := make([]Vector, m+1)
	for i := range work {
		work[i] = la.ys[i].Clone()
	}
	for lvl := 1; lvl <= m; lvl++ {
		for i := m; i >= lvl; i-- {
			dt := la.ts[i] - la.ts[i-lvl]
			work[i].LinearSum(1/dt, work[i], -1/dt, work[i-1])
		}
	}
	// Horner with derivative carry: d[j] tracks p^(j)/j!
	d := make([]Vector, k+1)
	d[0] = work[m]
	for j := 1; j <= k; j++ {
		d[j] = dky.CloneEmpty()
	}
	for i := m - 1; i >= 0; i-- {
		dt := t - la.ts[i]
		for j := k; j >= 1; j-- {
			d[j].LinearSum(dt, d[j], 1, d[j-1])
		}
		d[0].LinearSum(dt, d[0], 1, work[i])
	}
	fact := 1.0
	for j := 2; j <= k; j++ {
		fact *= float64(j)
	}
	dky.LinearSum(fact, d[k], 0, d[k])
	return nil
}

// setupInterpolant chooses and seeds the dense-output model per the
// configuration; Hermite is the default for every stepper.
func (s *Solver) setupInterpolant() error {
	choice := s.interpChoice
	if choice == "" {
		choice = "hermite"
	}
	switch choice {
	case "hermite":
		s.interp = newHermite(s, s.yn)
	case "lagrange":
		s.interp = newLagrange(s, s.yn)
	}
	if s.interp.NeedsRHS() {
		s.needFullRHS = true
	}
	var f Vector
	if s.fnValid {
		f = s.fn
	}
	s.interp.Init(s.tn, s.yn, f)
	return nil
}
