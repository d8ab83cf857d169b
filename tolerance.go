package ivp

// buildWeights recomputes the error weights from the current committed
// state: ewt_i = 1/(rtol*|y_i| + atol_i). A nonpositive weight is a
// signal, never a crash; the driver maps it to IllegalInput.
func (s *Solver) buildWeights() error {
	if err := s.weightsFrom(s.tol, s.yn, s.ewt); err != nil {
		return err
	}
	if s.restol.kind == tolNone || s.alg.massLS == nil {
		if !s.rwtAlias {
			s.rwt = s.ewt
			s.rwtAlias = true
		}
		return nil
	}
	if s.rwtAlias {
		s.rwt = s.ewt.CloneEmpty()
		s.rwtAlias = false
	}
	// residual weights are built from M·y
	if err := s.alg.massMatVec(s, s.tn, s.yn, s.tempv); err != nil {
		return newError(MassFuncFail, s.tn, "building residual weights")
	}
	return s.weightsFrom(s.restol, s.tempv, s.rwt)
}

func (s *Solver) weightsFrom(spec tolSpec, y, w Vector) error {
	switch spec.kind {
	case tolNone:
		if s.fixed {
			// fixed-step explicit runs carry no meaningful tolerance;
			// floor the weights so accuracy checks stay quiet
			w.Fill(smallReal)
			return nil
		}
		return newError(IllegalInput, s.tn, "no tolerance set")
	case tolScalar:
		w.Abs(y)
		w.Scale(spec.rtol)
		w.AddConst(spec.atol)
	case tolVector:
		w.Abs(y)
		w.Scale(spec.rtol)
		w.LinearSum(1, w, 1, spec.atolVec)
	case tolFunc:
		if err := spec.wfn(y, w); err != nil {
			return newError(IllegalInput, s.tn, "weight function failed: %v", err)
		}
		if w.Min() <= 0 {
			return newError(IllegalInput, s.tn, "weight function produced nonpositive weights")
		}
		return nil
	}
	if spec.atolMin0 {
		// with a zero atol floor, a vanishing component voids the weights
		if w.Min() <= 0 {
			return newError(IllegalInput, s.tn, "nonpositive error weight component")
		}
	}
	w.Inv(w)
	return nil
}
