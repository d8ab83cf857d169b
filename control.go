package ivp

import "math"

// iController is the default integral step controller: the classical
// safety-factored power law eta = safety*(1/dsm)^(1/(p+1)), the same
// family the embedded Runge-Kutta drivers use.
type iController struct {
	safety float64
}

func newIController() *iController { return &iController{safety: 0.9} }

func (c *iController) NextEta(dsm, h float64, order int) float64 {
	if dsm <= 0 {
		return math.Inf(1) // engine caps growth
	}
	return c.safety * math.Pow(1/dsm, 1/float64(order+1))
}

func (c *iController) FailEta(dsm, h float64, nef, order int) float64 {
	eta := c.safety * math.Pow(1/dsm, 1/float64(order+1))
	if eta > 1 {
		eta = 1
	}
	return eta
}

func (c *iController) Reset() {}

// setEtaOnSuccess derives the next step ratio after an accepted step
// and stores hprime. The controller proposes; the bounds here decide.
func (s *Solver) setEtaOnSuccess(dsm float64) {
	if s.fixed || !s.traits.Adaptive {
		s.eta = 1
		s.hprime = s.h
		if s.fixed && s.hin != 0 {
			s.hprime = math.Copysign(s.hin, s.h)
		}
		return
	}
	eta := s.ctrl.NextEta(dsm, s.h, s.traits.Order)
	if eta < etaMin {
		eta = etaMin
	}
	s.eta = clampEta(eta, s.h, s.etamax, s.hmin, s.hmaxInv)
	s.hprime = s.h * s.eta
	// the first-step growth cap applies once
	s.etamax = etaGrowth
}

// setEtaOnErrFail shrinks the step after the nef-th temporal error-test
// failure.
func (s *Solver) setEtaOnErrFail(dsm float64, nef int) {
	eta := s.ctrl.FailEta(dsm, s.h, nef, s.traits.Order)
	if eta < etaMin {
		eta = etaMin
	}
	if nef >= smallNef && eta > etaMaxFail {
		eta = etaMaxFail
	}
	if s.hmin > 0 {
		if lo := s.hmin / math.Abs(s.h); eta < lo {
			eta = lo
		}
	}
	s.eta = eta
	s.hprime = s.h * s.eta
	s.etamax = 1
}

// setEtaOnConvFail shrinks the step after a nonlinear convergence
// failure.
func (s *Solver) setEtaOnConvFail() {
	eta := etaConvFail
	if s.hmin > 0 {
		if lo := s.hmin / math.Abs(s.h); eta < lo {
			eta = lo
		}
	}
	s.eta = eta
	s.hprime = s.h * s.eta
	s.etamax = 1
}

// rescale applies hprime to h between attempts of the same step.
func (s *Solver) rescale() {
	s.h = s.hprime
}
