// Package lin provides dense implementations of the integrator's matrix
// and linear-solver capabilities on top of gonum/mat, plus a GMRES
// iterative solver wrapping gonum's experimental linsolve package.
package lin

import (
	"github.com/pkg/errors"
	"github.com/soypat/goivp"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Dense is a dense n-by-n matrix capability backed by mat.Dense.
type Dense struct {
	m *mat.Dense
	n int
}

// NewDense creates a zeroed n-by-n dense matrix.
func NewDense(n int) *Dense {
	return &Dense{m: mat.NewDense(n, n, nil), n: n}
}

// Raw exposes the underlying mat.Dense.
func (d *Dense) Raw() *mat.Dense { return d.m }

// Zero sets every entry to zero.
func (d *Dense) Zero() { d.m.Zero() }

// Clone returns a deep copy.
func (d *Dense) Clone() ivp.Matrix {
	return &Dense{m: mat.DenseCopyOf(d.m), n: d.n}
}

// CopyFrom copies src into d.
func (d *Dense) CopyFrom(src ivp.Matrix) error {
	s, ok := src.(*Dense)
	if !ok {
		return errors.Errorf("lin: mixed matrix implementations: %T", src)
	}
	d.m.Copy(s.m)
	return nil
}

// ScaleAdd sets d to c*d + b.
func (d *Dense) ScaleAdd(c float64, b ivp.Matrix) error {
	bd, ok := b.(*Dense)
	if !ok {
		return errors.Errorf("lin: mixed matrix implementations: %T", b)
	}
	d.m.Scale(c, d.m)
	d.m.Add(d.m, bd.m)
	return nil
}

// ScaleAddIdentity sets d to c*d + I.
func (d *Dense) ScaleAddIdentity(c float64) error {
	d.m.Scale(c, d.m)
	for i := 0; i < d.n; i++ {
		d.m.Set(i, i, d.m.At(i, i)+1)
	}
	return nil
}

// MatVec computes y = d·x.
func (d *Dense) MatVec(x, y ivp.Vector) error {
	xr, err := rawOf(x)
	if err != nil {
		return err
	}
	yr, err := rawOf(y)
	if err != nil {
		return err
	}
	yv := mat.NewVecDense(d.n, yr)
	yv.MulVec(d.m, mat.NewVecDense(d.n, xr))
	return nil
}

// DifferenceJacobian fills d with a forward-difference approximation of
// df/dy at (t, y), reusing fy as the origin value.
func (d *Dense) DifferenceJacobian(f ivp.Func, t float64, y, fy ivp.Vector) error {
	yr, err := rawOf(y)
	if err != nil {
		return err
	}
	fr, err := rawOf(fy)
	if err != nil {
		return err
	}
	ytmp := y.Clone()
	ftmp := fy.CloneEmpty()
	ytr, _ := rawOf(ytmp)
	ftr, _ := rawOf(ftmp)
	var ferr error
	eval := func(dst, x []float64) {
		if ferr != nil {
			return
		}
		copy(ytr, x)
		if err := f(t, ytmp, ftmp); err != nil {
			ferr = err
			return
		}
		copy(dst, ftr)
	}
	fd.Jacobian(d.m, eval, yr, &fd.JacobianSettings{
		Formula:     fd.Forward,
		OriginKnown: true,
		OriginValue: fr,
	})
	return ferr
}

// rawer is the optional raw-slice view the dense solvers need to bridge
// engine vectors into gonum.
type rawer interface {
	RawData() []float64
}

func rawOf(v ivp.Vector) ([]float64, error) {
	r, ok := v.(rawer)
	if !ok {
		return nil, errors.Errorf("lin: vector %T exposes no raw data", v)
	}
	return r.RawData(), nil
}
