package ivp

import "math"

const (
	h0Iters    = 4
	h0Bias     = 0.5
	h0LBFactor = 100.0
	// hubGrowth bounds how much y0 may grow over the first step under a
	// forward-Euler heuristic.
	hubGrowth = 0.1
)

// estimateH0 picks the first step size when the caller set none. tout
// fixes the direction; the magnitude comes from a finite-difference
// estimate of ||y''|| so that h ~ sqrt(2/||y''||), bracketed between a
// roundoff floor and a fraction of the integration interval.
func (s *Solver) estimateH0(tout float64) (float64, error) {
	tdist := tout - s.tn
	sign := 1.0
	if tdist < 0 {
		sign = -1
	}
	tround := uround * math.Max(math.Abs(s.tn), math.Abs(tout))
	if tdist == 0 || math.Abs(tdist) < 2*tround {
		return 0, newError(TooClose, s.tn, "tout %g too close to t0 %g", tout, s.tn)
	}

	hlb := h0LBFactor * tround
	hub := s.upperBoundH0(tdist)

	hg := math.Sqrt(hlb * hub)
	if hub < hlb {
		return sign * hg, nil
	}

	// outer loop: refine hg against the ydd estimate
	hs := hg
	var hnew float64
	count1 := 0
	for {
		count1++
		hgOK := false
		var yddnrm float64
		// inner loop tolerates recoverable RHS failures by shrinking
		count2 := 0
		for {
			count2++
			ydd, err := s.yddNorm(sign * hg)
			if err == nil {
				yddnrm = ydd
				hgOK = true
				break
			}
			if !Recoverable(err) || count2 >= h0Iters {
				return 0, wrapError(FirstRhsFuncFail, s.tn, err, "during initial step estimation")
			}
			hg *= 0.2
		}
		if !hgOK {
			break
		}
		if yddnrm*hub*hub > 2 {
			hnew = math.Sqrt(2 / yddnrm)
		} else {
			hnew = math.Sqrt(hg * hub)
		}
		if count1 >= h0Iters {
			// two retries were ineffective; keep the safe guess
			hnew = hs
			break
		}
		hrat := hnew / hg
		if hrat > 0.5 && hrat < 2 {
			break
		}
		if count1 > 2 && hnew > hs {
			hnew = hs
			break
		}
		hs = math.Max(hs, hnew)
		hg = hnew
	}
	if hnew == 0 {
		hnew = hg
	}

	h0 := h0Bias * hnew
	if h0 < hlb {
		h0 = hlb
	}
	if h0 > hub {
		h0 = hub
	}
	return sign * h0, nil
}

// upperBoundH0 bounds |h0| so a forward-Euler step grows no component
// of y0 by more than a fraction of its weighted magnitude.
func (s *Solver) upperBoundH0(tdist float64) float64 {
	hub := hubGrowth * math.Abs(tdist)
	if !s.fnValid {
		return hub
	}
	// bound hub so that hub*|f0_i| <= F*|y0_i| + (rtol*|y0_i| + atol_i);
	// the weight term protects components starting near zero
	temp1, temp2 := s.tempv, s.tempv2
	temp1.Abs(s.yn)
	temp1.Scale(hubGrowth)
	temp2.Inv(s.ewt)
	temp1.LinearSum(1, temp1, 1, temp2)
	temp2.Abs(s.fn)
	temp2.Div(temp2, temp1)
	ratio := temp2.MaxNorm()
	if ratio*hub > 1 {
		hub = 1 / ratio
	}
	return hub
}

// yddNorm estimates ||y''|| by differencing f across a trial Euler step
// of size hg.
func (s *Solver) yddNorm(hg float64) (float64, error) {
	if !s.fnValid {
		return 0, newError(IllegalInput, s.tn, "no rhs value for step estimation")
	}
	y, ydd := s.tempv, s.tempv2
	y.LinearSum(1, s.yn, hg, s.fn)
	if err := s.FullRHS(s.tn+hg, y, ydd, RHSOther); err != nil {
		return 0, err
	}
	ydd.LinearSum(1/hg, ydd, -1/hg, s.fn)
	return ydd.WrmsNorm(s.ewt), nil
}
