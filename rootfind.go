package ivp

import "math"

// rootState is the plain data block of the root-finding subsystem. It
// is sized at RootInit and borrowed by the checks on every scan.
type rootState struct {
	nrt            int
	g              RootFunc
	rootdir        []int
	gactive        []bool
	noInactiveWarn bool
	inactiveWarned bool

	tlo, thi, trout float64
	glo, ghi, grout []float64
	iroots          []int
	ttol            float64
	nge             int64
	irfnd           bool
}

func (r *rootState) reset() {
	r.irfnd = false
	r.inactiveWarned = false
	for i := range r.gactive {
		r.gactive[i] = true
	}
}

// RootInit installs nrtfn root functions evaluated through g. A zero
// count (or nil g) disables root finding. Calling it again resizes the
// root workspace; direction masks reset to "both".
func (s *Solver) RootInit(nrtfn int, g RootFunc) error {
	if nrtfn <= 0 || g == nil {
		s.roots = rootState{nge: s.roots.nge}
		return nil
	}
	nge := s.roots.nge
	s.roots = rootState{
		nrt:     nrtfn,
		g:       g,
		rootdir: make([]int, nrtfn),
		gactive: make([]bool, nrtfn),
		glo:     make([]float64, nrtfn),
		ghi:     make([]float64, nrtfn),
		grout:   make([]float64, nrtfn),
		iroots:  make([]int, nrtfn),
		nge:     nge,
	}
	for i := range s.roots.gactive {
		s.roots.gactive[i] = true
	}
	s.needFullRHS = true
	return nil
}

// SetRootDirection restricts which zero-crossing directions are
// reported: -1 falling, +1 rising, 0 both.
func (s *Solver) SetRootDirection(dir []int) error {
	if len(dir) != s.roots.nrt {
		return newError(IllegalInput, s.tn, "root direction length %d, have %d root functions", len(dir), s.roots.nrt)
	}
	for i, d := range dir {
		if d < -1 || d > 1 {
			return newError(IllegalInput, s.tn, "root direction[%d] = %d", i, d)
		}
		s.roots.rootdir[i] = d
	}
	return nil
}

// SetNoInactiveRootWarn suppresses the warning about root functions
// that are identically zero at the start of the integration.
func (s *Solver) SetNoInactiveRootWarn() { s.roots.noInactiveWarn = true }

// RootInfo writes, for each root function, the crossing indicator of
// the last root return: +1 a rising crossing (g negative on the low
// side), -1 a falling crossing (g positive on the low side), 0 no root.
func (s *Solver) RootInfo(dst []int) error {
	if len(dst) != s.roots.nrt {
		return newError(IllegalInput, s.tn, "root info length %d, have %d root functions", len(dst), s.roots.nrt)
	}
	copy(dst, s.roots.iroots)
	return nil
}

func (s *Solver) gEval(t float64, y Vector, gout []float64) error {
	s.roots.nge++
	if err := s.roots.g(t, y, gout); err != nil {
		return wrapError(RootFuncFail, t, err, "")
	}
	return nil
}

func (s *Solver) updateRootTtol() {
	s.roots.ttol = (math.Abs(s.tn) + math.Abs(s.h)) * uround * fuzzFactor
}

// rootCheck1 runs at the start of integration: it marks root functions
// that begin at zero inactive and re-arms them just past t0.
func (s *Solver) rootCheck1() error {
	r := &s.roots
	r.tlo = s.tn
	s.updateRootTtol()
	if err := s.gEval(s.tn, s.yn, r.glo); err != nil {
		return err
	}
	zroot := false
	for i := range r.glo {
		r.gactive[i] = true
		if math.Abs(r.glo[i]) == 0 {
			r.gactive[i] = false
			zroot = true
		}
	}
	if !zroot {
		return nil
	}
	// a component starting exactly at zero is probed just ahead
	smallh := math.Max(r.ttol/math.Abs(s.h), 0.1) * s.h
	tplus := r.tlo + smallh
	y := s.tempv
	y.LinearSum(1, s.yn, smallh, s.fn)
	if err := s.gEval(tplus, y, r.ghi); err != nil {
		return err
	}
	for i := range r.ghi {
		if !r.gactive[i] && math.Abs(r.ghi[i]) != 0 {
			r.gactive[i] = true
			r.glo[i] = r.ghi[i]
		}
	}
	return nil
}

// rootCheck2 runs when the previous Evolve returned a root: it guards
// against a second root hiding within the tolerance of the first.
func (s *Solver) rootCheck2() (bool, error) {
	r := &s.roots
	if !r.irfnd {
		return false, nil
	}
	y := s.tempv
	if err := s.dky(r.tlo, 0, y); err != nil {
		return false, err
	}
	if err := s.gEval(r.tlo, y, r.glo); err != nil {
		return false, err
	}
	zroot := false
	for i := range r.iroots {
		r.iroots[i] = 0
	}
	for i := range r.glo {
		if r.gactive[i] && math.Abs(r.glo[i]) == 0 {
			zroot = true
			r.iroots[i] = 1
		}
	}
	if !zroot {
		return false, nil
	}
	s.updateRootTtol()
	smallh := math.Copysign(r.ttol, s.h)
	tplus := r.tlo + smallh
	if (tplus-s.tn)*s.h >= 0 {
		if err := s.dky(tplus, 0, y); err != nil {
			return false, err
		}
	} else {
		y.LinearSum(1, s.yn, tplus-s.tn, s.fn)
	}
	if err := s.gEval(tplus, y, r.ghi); err != nil {
		return false, err
	}
	zroot = false
	for i := range r.ghi {
		if math.Abs(r.ghi[i]) == 0 {
			if !r.gactive[i] {
				continue
			}
			if r.iroots[i] == 1 {
				return false, newError(CloseRoot, r.tlo, "two zeros of root function %d within ttol", i)
			}
			zroot = true
			r.iroots[i] = 1
		} else if r.iroots[i] == 1 {
			// moved off the previous zero; rebase the bracket
			r.glo[i] = r.ghi[i]
		}
	}
	if zroot {
		r.tlo = tplus
		r.trout = tplus
		copy(r.grout, r.ghi)
		return true, nil
	}
	return false, nil
}

// rootCheck3 scans (tlo, thi] for sign changes, where thi is the
// earlier of tn and tout (Normal mode only).
func (s *Solver) rootCheck3(tout float64, task Task) (bool, error) {
	r := &s.roots
	var y Vector
	if task == Normal && (s.tn-tout)*s.h >= 0 {
		r.thi = tout
		y = s.tempv
		if err := s.dky(r.thi, 0, y); err != nil {
			return false, err
		}
	} else {
		r.thi = s.tn
		y = s.yn
	}
	s.updateRootTtol()
	if err := s.gEval(r.thi, y, r.ghi); err != nil {
		return false, err
	}
	found, err := s.illinois()
	if err != nil {
		return false, err
	}
	if found {
		r.tlo = r.trout
		copy(r.glo, r.grout)
		r.irfnd = true
		return true, nil
	}
	r.irfnd = false
	r.tlo = r.thi
	copy(r.glo, r.ghi)
	if s.nst == 1 && !r.noInactiveWarn && !r.inactiveWarned {
		for i := range r.gactive {
			if !r.gactive[i] {
				s.Logger.Logf("warning: root function %d is identically zero at the start of integration\n", i)
				r.inactiveWarned = true
			}
		}
	}
	return false, nil
}

// illinois refines the bracket [tlo, thi] with the modified-secant
// Illinois scheme, keyed to the crossing that makes the largest
// fractional step toward the far endpoint.
func (s *Solver) illinois() (bool, error) {
	r := &s.roots
	// reactivate functions that left their initial zero
	for i := range r.gactive {
		if !r.gactive[i] && math.Abs(r.ghi[i]) != 0 {
			r.gactive[i] = true
			r.glo[i] = r.ghi[i]
		}
	}
	imax, sgnchg, zroot := r.scan(r.ghi)
	if !sgnchg {
		r.trout = r.thi
		copy(r.grout, r.ghi)
		if !zroot {
			return false, nil
		}
		// exact zero at thi only
		for i := range r.iroots {
			r.iroots[i] = 0
			if r.gactive[i] && math.Abs(r.ghi[i]) == 0 && r.rootdir[i]*sign(r.glo[i]) <= 0 {
				r.iroots[i] = crossSign(r.glo[i])
			}
		}
		return true, nil
	}

	alph := 1.0
	side, sideprev := 0, -1
	y := s.tempv
	for math.Abs(r.thi-r.tlo) > r.ttol {
		if sideprev == side {
			if side == 2 {
				alph *= 2
			} else {
				alph /= 2
			}
		} else {
			alph = 1
		}
		sideprev = side
		tmid := r.thi - (r.thi-r.tlo)*r.ghi[imax]/(r.ghi[imax]-alph*r.glo[imax])
		// nudge tmid inward when it crowds an endpoint
		if math.Abs(tmid-r.tlo) < 0.5*r.ttol {
			fracint := math.Abs(r.thi-r.tlo) / r.ttol
			fracsub := 0.1
			if fracint <= 5 {
				fracsub = 0.5 / fracint
			}
			tmid = r.tlo + fracsub*(r.thi-r.tlo)
		}
		if math.Abs(r.thi-tmid) < 0.5*r.ttol {
			fracint := math.Abs(r.thi-r.tlo) / r.ttol
			fracsub := 0.1
			if fracint <= 5 {
				fracsub = 0.5 / fracint
			}
			tmid = r.thi - fracsub*(r.thi-r.tlo)
		}
		if err := s.dky(tmid, 0, y); err != nil {
			return false, err
		}
		if err := s.gEval(tmid, y, r.grout); err != nil {
			return false, err
		}
		var mid int
		mid, sgnchg, zroot = r.scan(r.grout)
		if sgnchg {
			// change bracketed in (tlo, tmid]
			imax = mid
			r.thi = tmid
			copy(r.ghi, r.grout)
			side = 1
			continue
		}
		if zroot {
			// no change below tmid, zero at tmid itself
			r.thi = tmid
			copy(r.ghi, r.grout)
			break
		}
		// no root in (tlo, tmid]; advance the low end
		r.tlo = tmid
		copy(r.glo, r.grout)
		side = 2
	}

	r.trout = r.thi
	copy(r.grout, r.ghi)
	for i := range r.iroots {
		r.iroots[i] = 0
		if !r.gactive[i] || r.rootdir[i]*sign(r.glo[i]) > 0 {
			continue
		}
		if math.Abs(r.ghi[i]) == 0 || r.glo[i]*r.ghi[i] < 0 {
			r.iroots[i] = crossSign(r.glo[i])
		}
	}
	return true, nil
}

// scan inspects (tlo, t*] values g for usable sign changes and exact
// zeros, returning the index of the dominant crossing.
func (r *rootState) scan(g []float64) (imax int, sgnchg, zroot bool) {
	maxfrac := 0.0
	for i := range g {
		if !r.gactive[i] {
			continue
		}
		if math.Abs(g[i]) == 0 {
			if r.rootdir[i]*sign(r.glo[i]) <= 0 {
				zroot = true
			}
			continue
		}
		if r.glo[i]*g[i] < 0 && r.rootdir[i]*sign(r.glo[i]) <= 0 {
			gfrac := math.Abs(g[i] / (g[i] - r.glo[i]))
			if gfrac > maxfrac {
				sgnchg = true
				maxfrac = gfrac
				imax = i
			}
		}
	}
	return imax, sgnchg, zroot
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// crossSign encodes the direction of a crossing by the sign of g on the
// low side.
func crossSign(glo float64) int {
	if glo > 0 {
		return -1
	}
	return 1
}
