// Package ivp implements the core of an adaptive time-stepping
// integrator for stiff and nonstiff initial-value problems of the form
//
//	M(t) y' = f(t, y),  y(t0) = y0
//
// The package is the stepper-agnostic engine: the evolve loop with
// step-size control and failure handling, the initial step estimator,
// root finding across steps, the algebraic-solver coupling used by
// implicit methods, and dense output. Time-stepping methods themselves
// are external collaborators attached through the Stepper capability;
// reference implementations live in the stepper subpackage, with dense
// linear algebra in lin and nonlinear iteration in nonlin.
package ivp
