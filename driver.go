package ivp

import (
	"math"

	"github.com/pkg/errors"
)

// Evolve advances the integration toward tout and writes the returned
// solution into yout. The returned time is where the solution in yout
// lives. A nil error comes with a Status explaining the stop; a non-nil
// error is an *Error from the failure taxonomy.
func (s *Solver) Evolve(tout float64, yout Vector, task Task) (float64, Status, error) {
	defer s.Logger.flush()
	switch s.phase {
	case phaseFresh:
		return 0, Success, newError(IllegalInput, 0, "Evolve before Init")
	case phaseFailed:
		return s.tn, Success, newError(IllegalInput, s.tn, "Evolve after a terminal failure; reinitialize first")
	}
	if yout == nil || yout.Len() != s.yn.Len() {
		return s.tn, Success, newError(IllegalInput, s.tn, "output vector missing or mis-sized")
	}
	if task != Normal && task != OneStep {
		return s.tn, Success, newError(IllegalInput, s.tn, "unknown task %d", int(task))
	}

	if !s.initialized {
		if err := s.initialSetup(tout); err != nil {
			return s.tn, Success, err
		}
	} else if tret, st, done, err := s.entryStopTests(tout, yout, task); done {
		return tret, st, err
	}

	nstloc := 0
	for {
		s.phase = phaseStepping

		if s.nst > 0 {
			if err := s.buildWeights(); err != nil {
				s.phase = phaseCommitted
				yout.CopyFrom(s.yn)
				return s.tn, Success, err
			}
		}
		if nstloc >= s.mxstep {
			s.phase = phaseCommitted
			yout.CopyFrom(s.yn)
			s.tretlast = s.tn
			return s.tn, Success, newError(TooMuchWork, s.tn, "%d internal steps taken before reaching %g", nstloc, tout)
		}
		if !s.fixed {
			if tolsf := uround * s.yn.WrmsNorm(s.ewt); tolsf > 1 {
				s.phase = phaseCommitted
				yout.CopyFrom(s.yn)
				s.tretlast = s.tn
				return s.tn, Success, newError(TooMuchAccuracy, s.tn, "requested accuracy unachievable; scale tolerances by at least %g", 2*tolsf)
			}
		}
		if s.tn+s.hprime == s.tn && s.mxhnil >= 0 {
			s.nhnilWarned++
			if s.nhnilWarned <= s.mxhnil {
				s.Logger.Logf("warning: internal t = %g and step %g are such that t + h == t on the next step\n", s.tn, s.hprime)
				if s.nhnilWarned == s.mxhnil {
					s.Logger.Logf("warning: the above will not be issued again\n")
				}
			}
		}

		if err := s.step(); err != nil {
			s.phase = phaseFailed
			yout.CopyFrom(s.yn)
			s.tretlast = s.tn
			return s.tn, Success, err
		}
		nstloc++

		if s.roots.nrt > 0 {
			found, err := s.rootCheck3(tout, task)
			if err != nil {
				s.phase = phaseFailed
				yout.CopyFrom(s.yn)
				return s.tn, Success, err
			}
			if found {
				return s.rootReturn(yout)
			}
		}

		if s.tstopSet {
			if tret, st, done, err := s.tstopTests(yout); done {
				return tret, st, err
			}
		}

		if task == Normal && (s.tn-tout)*s.h >= 0 {
			s.phase = phaseCommitted
			if s.interp != nil {
				if err := s.dky(tout, 0, yout); err != nil {
					return s.tn, Success, err
				}
				s.tretlast = tout
				return tout, Success, nil
			}
			yout.CopyFrom(s.yn)
			s.tretlast = s.tn
			return s.tn, Success, nil
		}
		if task == OneStep {
			s.phase = phaseCommitted
			yout.CopyFrom(s.yn)
			s.tretlast = s.tn
			return s.tn, Success, nil
		}
	}
}

// initialSetup validates the problem on the first Evolve call: weights,
// the first RHS value, the initial step and its gating, dense output
// and the initial root check.
func (s *Solver) initialSetup(tout float64) error {
	if s.tol.kind == tolNone && !s.fixed {
		return newError(IllegalInput, s.tn, "no tolerance set")
	}
	if err := s.buildWeights(); err != nil {
		return err
	}

	if err := s.FullRHS(s.tn, s.yn, s.fn, RHSStart); err != nil {
		if Recoverable(err) {
			return wrapError(FirstRhsFuncFail, s.tn, err, "rhs failed recoverably at the first call")
		}
		return wrapError(RhsFuncFail, s.tn, err, "rhs failed at the first call")
	}
	s.fnValid = true

	h := s.hin
	if h != 0 && (tout-s.tn)*h < 0 {
		return newError(IllegalInput, s.tn, "h0 = %g points away from tout", h)
	}
	if s.fixed {
		h = math.Copysign(s.hin, tout-s.tn)
	}
	if h == 0 {
		var err error
		if h, err = s.estimateH0(tout); err != nil {
			return err
		}
	}
	if rh := math.Abs(h) * s.hmaxInv; rh > 1 {
		h /= rh
	}
	if s.hmin > 0 && math.Abs(h) < s.hmin {
		h = math.Copysign(s.hmin, h)
	}
	if s.tstopSet {
		if (s.tstop-s.tn)*h < 0 {
			return newError(IllegalInput, s.tn, "tstop %g behind t0 %g", s.tstop, s.tn)
		}
		if (s.tn+h-s.tstop)*h > 0 {
			h = (s.tstop - s.tn) * (1 - 4*uround)
		}
	}
	s.h = h
	s.hprime = h
	s.h0u = h
	s.eta = 1

	if err := s.setupInterpolant(); err != nil {
		return err
	}
	if s.roots.nrt > 0 {
		if err := s.rootCheck1(); err != nil {
			return err
		}
	}
	s.initialized = true
	return nil
}

// entryStopTests handles the stop conditions that may already hold when
// Evolve resumes after a previous return.
func (s *Solver) entryStopTests(tout float64, yout Vector, task Task) (float64, Status, bool, error) {
	troundoff := fuzzFactor * uround * (math.Abs(s.tn) + math.Abs(s.h))
	if s.roots.nrt > 0 {
		found, err := s.rootCheck2()
		if err != nil {
			yout.CopyFrom(s.yn)
			return s.tn, Success, true, err
		}
		if found {
			tret, st, err := s.rootReturn(yout)
			return tret, st, true, err
		}
		if math.Abs(s.tn-s.tretlast) > troundoff {
			found, err = s.rootCheck3(tout, task)
			if err != nil {
				s.phase = phaseFailed
				yout.CopyFrom(s.yn)
				return s.tn, Success, true, err
			}
			if found {
				tret, st, err := s.rootReturn(yout)
				return tret, st, true, err
			}
		}
	}
	if task == Normal && (s.tn-tout)*s.h >= 0 {
		if err := s.dky(tout, 0, yout); err != nil {
			return s.tn, Success, true, err
		}
		s.tretlast = tout
		return tout, Success, true, nil
	}
	if s.tstopSet {
		if tret, st, done, err := s.tstopTests(yout); done {
			return tret, st, done, err
		}
	}
	if task == OneStep && math.Abs(s.tn-s.tretlast) > troundoff {
		yout.CopyFrom(s.yn)
		s.tretlast = s.tn
		return s.tn, Success, true, nil
	}
	return 0, Success, false, nil
}

// tstopTests returns at tstop when tn has reached it within roundoff,
// and otherwise keeps hprime from stepping across it.
func (s *Solver) tstopTests(yout Vector) (float64, Status, bool, error) {
	troundoff := fuzzFactor * uround * (math.Abs(s.tn) + math.Abs(s.h))
	if math.Abs(s.tn-s.tstop) <= troundoff {
		if s.tstopInterp && s.interp != nil {
			if err := s.dky(s.tstop, 0, yout); err != nil {
				return s.tn, Success, true, err
			}
		} else {
			yout.CopyFrom(s.yn)
		}
		s.tretlast = s.tstop
		s.tstopSet = false
		s.phase = phaseCommitted
		return s.tstop, TstopReturn, true, nil
	}
	if (s.tn+s.hprime-s.tstop)*s.h > 0 {
		s.hprime = (s.tstop - s.tn) * (1 - 4*uround)
		if s.h != 0 {
			s.eta = s.hprime / s.h
		}
	}
	return 0, Success, false, nil
}

func (s *Solver) rootReturn(yout Vector) (float64, Status, error) {
	s.phase = phaseCommitted
	if err := s.dky(s.roots.trout, 0, yout); err != nil {
		return s.tn, Success, err
	}
	s.tretlast = s.roots.trout
	return s.roots.trout, RootReturn, nil
}

// step takes exactly one accepted step, arbitrating the attempt loop:
// convergence failures, constraint violations and the temporal error
// test each shrink h and retry within their budgets.
func (s *Solver) step() error {
	ncf, nef, ncstr := 0, 0, 0
	s.h = s.hprime
	if s.fixed && s.hin != 0 {
		s.h = math.Copysign(s.hin, s.h)
		if s.tstopSet && (s.tn+s.h-s.tstop)*s.h > 0 {
			s.h = s.tstop - s.tn
		}
		s.hprime = s.h
	}

	for {
		s.tcur = s.tn + s.h
		dsm, flag, aerr := s.stepper.Attempt(s)
		if flag != StepRetry {
			s.nstAttempts++
		}
		switch flag {
		case StepFatal:
			if aerr == nil {
				aerr = newError(Other, s.tn, "stepper reported failure")
			}
			return s.asFatal(aerr)
		case StepRetry:
			continue
		case StepConvFail, StepRecoverable:
			if aerr != nil && !Recoverable(aerr) {
				return s.asFatal(aerr)
			}
			s.ncfn++
			ncf++
			atHmin := s.hmin > 0 && math.Abs(s.h) <= s.hmin*onepsm
			if ncf >= s.maxncf || atHmin {
				if aerr != nil && !errors.Is(aerr, ErrConvergence) {
					return wrapError(RepeatedRhsFuncFail, s.tn, aerr, "")
				}
				return newError(ConvFailure, s.tn, "after %d failures with |h| = %g", ncf, math.Abs(s.h))
			}
			s.setEtaOnConvFail()
			s.nflagPrevConv = true
			s.rescale()
			continue
		case StepOK:
		}

		if s.constraints != nil {
			retry, err := s.checkConstraints(&ncstr)
			if err != nil {
				return err
			}
			if retry {
				continue
			}
		}

		if s.traits.Adaptive && !s.fixed && !s.forcePass && dsm > 1 {
			s.netf++
			nef++
			atHmin := s.hmin > 0 && math.Abs(s.h) <= s.hmin*onepsm
			if nef >= s.maxnef || atHmin {
				return newError(ErrFailure, s.tn, "error test failed %d times with |h| = %g", nef, math.Abs(s.h))
			}
			s.setEtaOnErrFail(dsm, nef)
			s.rescale()
			continue
		}

		return s.completeStep(dsm)
	}
}

// asFatal maps an unrecoverable attempt error onto the taxonomy,
// keeping codes that are already classified.
func (s *Solver) asFatal(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return wrapError(UnrecoverableRhsFuncFail, s.tn, err, "")
}

// checkConstraints enforces the entrywise inequality codes on the
// candidate state, deriving the retry step ratio from the failing
// components.
func (s *Solver) checkConstraints(ncstr *int) (retry bool, err error) {
	if s.ycur.(ConstraintMasker).ConstrMask(s.constraints, s.constrMask) {
		return false, nil
	}
	s.nconstrFails++
	*ncstr++
	if *ncstr >= s.maxconstr {
		return false, newError(ConstraintFail, s.tn, "after %d violations", *ncstr)
	}
	if s.hmin > 0 && math.Abs(s.h) <= s.hmin*onepsm {
		return false, newError(ConstraintFail, s.tn, "violation with |h| = hmin")
	}
	// eta = 0.9*min over failing components of yn_i/(yn_i - ycur_i)
	den := s.tempv
	den.LinearSum(1, s.yn, -1, s.ycur)
	den.Mul(s.constrMask, den)
	num := s.tempv2
	num.Mul(s.constrMask, s.yn)
	eta := 0.9 * s.yn.(MinQuotienter).MinQuotient(num, den)
	if math.IsInf(eta, 0) || math.IsNaN(eta) || eta > 0.9 {
		eta = 0.9
	}
	if eta < etaMin {
		eta = etaMin
	}
	if s.hmin > 0 {
		if lo := s.hmin / math.Abs(s.h); eta < lo {
			eta = lo
		}
	}
	s.eta = eta
	s.hprime = s.h * s.eta
	s.etamax = 1
	s.rescale()
	return true, nil
}

// completeStep commits an accepted step: the time cursor advances with
// compensated summation, dense output and the accumulators are fed, and
// the controller proposes the next step.
func (s *Solver) completeStep(dsm float64) error {
	s.nst++
	s.nflagPrevConv = false

	// a failure below leaves the step uncommitted: the time cursor and
	// the step count return to the state held in yn
	told, terrOld := s.tn, s.terr
	undo := func() {
		s.nst--
		s.tn, s.terr, s.tcur = told, terrOld, told
	}
	if s.compensated {
		z := s.h + s.terr
		t := s.tn + z
		s.terr = z - (t - s.tn)
		s.tn = t
	} else {
		s.tn += s.h
	}
	s.tcur = s.tn

	if s.postStep != nil {
		if err := s.postStep(s.tn, s.ycur); err != nil {
			undo()
			return wrapError(Other, s.tn, err, "post-step processor")
		}
	}

	switch s.accumMode {
	case AccumMax:
		if dsm > s.accumErr {
			s.accumErr = dsm
		}
	case AccumSum:
		s.accumErr += dsm
	case AccumAvg:
		s.accumErr += dsm * math.Abs(s.h)
		s.accumTime += math.Abs(s.h)
	}

	if s.needFullRHS || (s.interp != nil && s.interp.NeedsRHS()) {
		if err := s.FullRHS(s.tn, s.ycur, s.fn, RHSEnd); err != nil {
			undo()
			return wrapError(RhsFuncFail, s.tn, err, "rhs failed after an accepted step")
		}
		s.fnValid = true
	}
	if s.interp != nil {
		s.interp.Update(s.tn, s.ycur, s.fn)
	}

	s.yn.CopyFrom(s.ycur)
	s.hold = s.h
	s.setEtaOnSuccess(dsm)
	s.phase = phaseCommitted
	return nil
}

// GetDky writes the k-th derivative of the interpolated solution at t
// into out. t must lie within the last step, widened by the dense
// output fuzz.
func (s *Solver) GetDky(t float64, k int, out Vector) error {
	if out == nil || s.yn == nil || out.Len() != s.yn.Len() {
		return newError(IllegalInput, s.tn, "output vector missing or mis-sized")
	}
	if k < 0 || k > 3 {
		return newError(BadK, s.tn, "derivative order %d outside [0,3]", k)
	}
	return s.dky(t, k, out)
}

func (s *Solver) dky(t float64, k int, out Vector) error {
	if s.interp == nil {
		if t == s.tn && k == 0 {
			out.CopyFrom(s.yn)
			return nil
		}
		return newError(BadDky, s.tn, "no dense output configured")
	}
	tfuzz := fuzzFactor * uround * (math.Abs(s.tn) + math.Abs(s.hold))
	if s.h < 0 {
		tfuzz = -tfuzz
	}
	tp := s.tn - s.hold - tfuzz
	tn1 := s.tn + tfuzz
	if (t-tp)*(t-tn1) > 0 {
		return newError(BadT, s.tn, "t = %g outside [%g, %g]", t, s.tn-s.hold, s.tn)
	}
	if err := s.interp.Evaluate(out, t, k); err != nil {
		if errors.Is(err, errDegree) {
			return newError(BadK, s.tn, "order %d exceeds interpolant degree %d", k, s.interp.Degree())
		}
		return wrapError(BadDky, s.tn, err, "")
	}
	return nil
}
