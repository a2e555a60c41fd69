package fit

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tagbase/stepselect/internal/steps"
)

// FoldError reports a cross-validation fold whose refit failed.
// Evaluation halts at the failing fold; metrics from earlier folds are
// never reported as final.
type FoldError struct {
	Fold int
	Err  error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("cross-validation fold %d failed to fit: %v", e.Fold, e.Err)
}

func (e *FoldError) Unwrap() error { return e.Err }

// CVMetrics are stratum-wise ranking metrics averaged over folds.
type CVMetrics struct {
	// LogScore is the mean negative log-probability of the used
	// alternative under the per-stratum softmax.
	LogScore float64
	// MeanRank is the mean rank of the used alternative, 1 = most
	// preferred. Ties take the smallest rank.
	MeanRank float64
	// Top1 is the fraction of strata ranking the used alternative
	// first.
	Top1 float64
	// Folds is the number of folds evaluated.
	Folds int
}

// CrossValidate refits the model k times on temporal-block folds and
// scores each held-out block. Folds are assigned per individual by
// time rank modulo k, so a fold holds every k-th stratum of each
// individual's sequence and a random split never occurs.
func CrossValidate(rows []steps.Row, covariates []string, k int) (CVMetrics, error) {
	if k < 2 {
		return CVMetrics{}, fmt.Errorf("cross-validation needs at least 2 folds, got %d", k)
	}
	foldOf := assignFolds(rows, k)

	var logScores, meanRanks, top1s []float64
	for f := 0; f < k; f++ {
		var train, test []steps.Row
		for _, r := range rows {
			if foldOf[r.StratumID] == f {
				test = append(test, r)
			} else {
				train = append(train, r)
			}
		}
		if len(test) == 0 {
			continue
		}

		res := Fit(train, covariates)
		if res.Status != Fitted {
			return CVMetrics{Folds: len(logScores)}, &FoldError{Fold: f, Err: res.Err}
		}

		ls, mr, t1 := scoreFold(test, res.Model)
		logScores = append(logScores, ls)
		meanRanks = append(meanRanks, mr)
		top1s = append(top1s, t1)
	}
	if len(logScores) == 0 {
		return CVMetrics{}, fmt.Errorf("no fold produced held-out strata")
	}

	m := CVMetrics{
		LogScore: mean(logScores),
		MeanRank: mean(meanRanks),
		Top1:     mean(top1s),
		Folds:    len(logScores),
	}
	log.Info().
		Float64("log_score", m.LogScore).
		Float64("mean_rank", m.MeanRank).
		Float64("top1", m.Top1).
		Int("folds", m.Folds).
		Msg("cross-validation complete")
	return m, nil
}

// assignFolds gives every stratum of an individual a fold by the
// stratum's time rank modulo k. All rows of a stratum share its fold.
func assignFolds(rows []steps.Row, k int) map[int64]int {
	type stratumKey struct {
		id      string
		nanos   int64
		stratum int64
	}
	seen := make(map[int64]bool)
	var strata []stratumKey
	for _, r := range rows {
		if seen[r.StratumID] {
			continue
		}
		seen[r.StratumID] = true
		strata = append(strata, stratumKey{id: r.ID, nanos: r.Time.UnixNano(), stratum: r.StratumID})
	}
	sort.Slice(strata, func(i, j int) bool {
		if strata[i].id != strata[j].id {
			return strata[i].id < strata[j].id
		}
		if strata[i].nanos != strata[j].nanos {
			return strata[i].nanos < strata[j].nanos
		}
		return strata[i].stratum < strata[j].stratum
	})

	out := make(map[int64]int, len(strata))
	rank := 0
	lastID := ""
	for _, s := range strata {
		if s.id != lastID {
			rank = 0
			lastID = s.id
		}
		rank++
		out[s.stratum] = rank % k
	}
	return out
}

// scoreFold converts linear predictors to within-stratum choice
// probabilities and reports log score, mean used rank, and top-1 rate
// over the fold's strata.
func scoreFold(test []steps.Row, m *Model) (logScore, meanRank, top1 float64) {
	type alt struct {
		eta  float64
		used bool
	}
	byStratum := make(map[int64][]alt)
	var order []int64
	for i := range test {
		r := &test[i]
		eta := 0.0
		for j, name := range m.Covariates {
			v, _ := Value(r, name)
			eta += v * m.Coef[j]
		}
		if _, ok := byStratum[r.StratumID]; !ok {
			order = append(order, r.StratumID)
		}
		byStratum[r.StratumID] = append(byStratum[r.StratumID], alt{eta: eta, used: r.IsUsed == 1})
	}

	n := 0
	var sumLog, sumRank, sumTop1 float64
	for _, id := range order {
		alts := byStratum[id]
		usedIdx := -1
		maxEta := math.Inf(-1)
		for i, a := range alts {
			if a.used {
				usedIdx = i
			}
			if a.eta > maxEta {
				maxEta = a.eta
			}
		}
		if usedIdx < 0 {
			continue
		}

		sum := 0.0
		for _, a := range alts {
			sum += math.Exp(a.eta - maxEta)
		}
		pUsed := math.Exp(alts[usedIdx].eta-maxEta) / sum

		rank := 1
		for i, a := range alts {
			if i != usedIdx && a.eta > alts[usedIdx].eta {
				rank++
			}
		}

		sumLog += -math.Log(pUsed)
		sumRank += float64(rank)
		if rank == 1 {
			sumTop1++
		}
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	return sumLog / float64(n), sumRank / float64(n), sumTop1 / float64(n)
}

func mean(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
