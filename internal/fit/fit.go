// Package fit estimates the conditional (stratified) logistic model
// over choice strata and evaluates it with individual-aware temporal
// cross-validation. Each stratum is one multinomial choice among its
// K+1 alternatives; coefficients maximize the conditional likelihood.
package fit

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/tagbase/stepselect/internal/steps"
)

// Status distinguishes the fit outcomes callers must handle. There is
// no silent fallback: a non-Fitted status carries its reason in
// Result.Err and the caller decides whether to export for an external
// tool instead.
type Status int

const (
	// Fitted means the optimizer converged and Result.Model is valid.
	Fitted Status = iota
	// BackendUnavailable means there was nothing the optimizer could
	// run on (no complete strata, or an empty covariate list).
	BackendUnavailable
	// ConvergenceFailure means the optimizer ran but did not converge.
	ConvergenceFailure
)

func (s Status) String() string {
	switch s {
	case Fitted:
		return "fitted"
	case BackendUnavailable:
		return "backend-unavailable"
	case ConvergenceFailure:
		return "convergence-failure"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Model is a converged conditional logit fit.
type Model struct {
	Covariates []string
	Coef       []float64
	LogLik     float64
	AIC        float64
	BIC        float64
	DF         int // number of fitted coefficients; no intercept exists
	NObs       int
}

// Result is the explicit outcome of a fit attempt.
type Result struct {
	Status Status
	Model  *Model
	Err    error
}

// stratum is one choice set in design-matrix form.
type stratum struct {
	x    [][]float64 // one row of covariate values per alternative
	used int         // index of the used alternative
}

// Fit estimates coefficients for the named covariates. Rows must form
// complete strata (see CompleteStrata); strata violating the
// one-used-row invariant are dropped and counted, never imputed.
func Fit(rows []steps.Row, covariates []string) Result {
	if len(covariates) == 0 {
		return Result{Status: BackendUnavailable, Err: fmt.Errorf("no covariates to fit")}
	}
	strata, nObs, dropped := buildStrata(rows, covariates)
	if dropped > 0 {
		log.Warn().Int("strata", dropped).Msg("dropped strata without exactly one used row")
	}
	if len(strata) == 0 {
		return Result{Status: BackendUnavailable, Err: fmt.Errorf("no complete strata to fit")}
	}

	p := optimize.Problem{
		Func: func(beta []float64) float64 {
			return negLogLik(strata, beta)
		},
		Grad: func(grad, beta []float64) {
			negLogLikGrad(grad, strata, beta)
		},
	}

	x0 := make([]float64, len(covariates))
	res, err := optimize.Minimize(p, x0, nil, &optimize.BFGS{})
	if err != nil {
		return Result{Status: ConvergenceFailure, Err: fmt.Errorf("conditional logit: %w", err)}
	}
	if status := res.Status; status != optimize.GradientThreshold && status != optimize.FunctionConvergence && status != optimize.StepConvergence {
		return Result{Status: ConvergenceFailure, Err: fmt.Errorf("conditional logit stopped without converging: %v", status)}
	}
	for _, b := range res.X {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return Result{Status: ConvergenceFailure, Err: fmt.Errorf("conditional logit produced non-finite coefficients")}
		}
	}

	ll := -res.F
	k := len(covariates)
	m := &Model{
		Covariates: append([]string(nil), covariates...),
		Coef:       append([]float64(nil), res.X...),
		LogLik:     ll,
		AIC:        2*float64(k) - 2*ll,
		BIC:        math.Log(float64(nObs))*float64(k) - 2*ll,
		DF:         k,
		NObs:       nObs,
	}
	return Result{Status: Fitted, Model: m}
}

// Value looks up a named covariate on a design row. Unknown names fall
// through to the passthrough covariates.
func Value(r *steps.Row, name string) (float64, bool) {
	switch name {
	case "log_l":
		return r.LogL, true
	case "log_l2":
		return r.LogL2, true
	case "cos_turn":
		return r.CosTurn, true
	case "nn_dist":
		return r.NNDist, true
	case "n_forward":
		return r.NForward, true
	case "n_behind":
		return r.NBehind, true
	case "ahead_any":
		return r.AheadAny, true
	case "behind_any":
		return r.BehindAny, true
	case "mean_align_fwd":
		return r.MeanAlignFwd, true
	case "rel_speed_fwd":
		return r.RelSpeedFwd, true
	case "sex_M":
		return r.SexM, true
	default:
		v, ok := r.Extra[name]
		return v, ok
	}
}

// CompleteStrata drops every stratum with a missing or non-finite
// value for any requested covariate on any of its rows, returning the
// surviving rows and the number of strata removed. The drop is always
// whole-stratum.
func CompleteStrata(rows []steps.Row, covariates []string) ([]steps.Row, int) {
	bad := make(map[int64]bool)
	for i := range rows {
		for _, name := range covariates {
			v, ok := Value(&rows[i], name)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				bad[rows[i].StratumID] = true
				break
			}
		}
	}
	if len(bad) == 0 {
		return rows, 0
	}
	kept := rows[:0:0]
	for _, r := range rows {
		if !bad[r.StratumID] {
			kept = append(kept, r)
		}
	}
	return kept, len(bad)
}

// buildStrata groups rows by stratum id in first-seen order. Strata
// without exactly one used row are dropped and counted.
func buildStrata(rows []steps.Row, covariates []string) (out []stratum, nObs, dropped int) {
	order := make([]int64, 0)
	byID := make(map[int64]*stratum)
	usedCount := make(map[int64]int)

	for i := range rows {
		r := &rows[i]
		s, ok := byID[r.StratumID]
		if !ok {
			s = &stratum{used: -1}
			byID[r.StratumID] = s
			order = append(order, r.StratumID)
		}
		x := make([]float64, len(covariates))
		for j, name := range covariates {
			v, _ := Value(r, name)
			x[j] = v
		}
		if r.IsUsed == 1 {
			s.used = len(s.x)
			usedCount[r.StratumID]++
		}
		s.x = append(s.x, x)
	}

	for _, id := range order {
		s := byID[id]
		if usedCount[id] != 1 || len(s.x) < 2 {
			dropped++
			continue
		}
		out = append(out, *s)
		nObs += len(s.x)
	}
	return out, nObs, dropped
}

// negLogLik is the negative conditional log-likelihood:
// −Σ_s [η_used − log Σ_j exp(η_j)], with the per-stratum max
// subtracted before exponentiating.
func negLogLik(strata []stratum, beta []float64) float64 {
	nll := 0.0
	for _, s := range strata {
		etas := make([]float64, len(s.x))
		for j, x := range s.x {
			etas[j] = floats.Dot(x, beta)
		}
		max := floats.Max(etas)
		sum := 0.0
		for _, e := range etas {
			sum += math.Exp(e - max)
		}
		nll -= etas[s.used] - (max + math.Log(sum))
	}
	return nll
}

// negLogLikGrad writes the gradient of negLogLik into grad:
// Σ_s [Σ_j p_j·x_j − x_used].
func negLogLikGrad(grad []float64, strata []stratum, beta []float64) {
	for j := range grad {
		grad[j] = 0
	}
	for _, s := range strata {
		etas := make([]float64, len(s.x))
		for j, x := range s.x {
			etas[j] = floats.Dot(x, beta)
		}
		max := floats.Max(etas)
		sum := 0.0
		for j := range etas {
			etas[j] = math.Exp(etas[j] - max)
			sum += etas[j]
		}
		for j, x := range s.x {
			p := etas[j] / sum
			for d := range grad {
				grad[d] += p * x[d]
			}
		}
		for d := range grad {
			grad[d] -= s.x[s.used][d]
		}
	}
}
