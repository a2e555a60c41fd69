// Package steps builds the case-control choice sets: one used step
// plus K available alternatives per regularized step, all sharing a
// stratum identifier and origin point. Available steps are drawn from
// the pooled empirical step-length and turn-angle distributions of the
// whole track set, the usual movement-kernel approximation in
// step-selection analysis.
package steps

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tagbase/stepselect/internal/geo"
	"github.com/tagbase/stepselect/internal/track"
)

// logEpsilon keeps log step lengths finite for zero-length steps.
const logEpsilon = 1e-9

// neutralCosTurn is the placeholder turn-angle cosine written on
// available rows. The turn of an available step is not separately
// modeled; recomputing a geometric turn here would change the model,
// so the placeholder is kept deliberately.
const neutralCosTurn = 1.0

// InsufficientDataError reports that the pooled empirical
// distributions required for sampling are empty.
type InsufficientDataError struct {
	What string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("not enough observed steps to sample from: %s pool is empty", e.What)
}

// Row is one design-table row: a used or available alternative within
// a stratum. Social covariates are zero-valued until the design
// assembler fills them.
type Row struct {
	StratumID int64
	ID        string
	Time      time.Time

	XEnd, YEnd float64
	Heading    float64

	LogL    float64
	LogL2   float64
	CosTurn float64
	IsUsed  int

	// Social covariates, filled by the design assembler.
	NNDist       float64
	NForward     float64
	NBehind      float64
	AheadAny     float64
	BehindAny    float64
	MeanAlignFwd float64
	RelSpeedFwd  float64

	// SexM is the standardized-input sex indicator (1 = male).
	SexM float64

	// Extra holds passthrough covariates copied from the source step.
	Extra map[string]float64
}

// Builder generates strata from regularized steps.
type Builder struct {
	K              int
	IncludeLogL2   bool
	IncludeCosTurn bool
}

// Build emits exactly (K+1) rows per input step: the used row first,
// then K available rows. The rng must be seeded by the caller; a fixed
// seed, config, and input order reproduce the output exactly.
func (b *Builder) Build(steps []track.Step, rng *rand.Rand) ([]Row, error) {
	poolLen := make([]float64, 0, len(steps))
	poolTurn := make([]float64, 0, len(steps))
	for _, s := range steps {
		if !math.IsNaN(s.Length) && !math.IsInf(s.Length, 0) {
			poolLen = append(poolLen, s.Length)
		}
		if !math.IsNaN(s.Turn) && !math.IsInf(s.Turn, 0) {
			poolTurn = append(poolTurn, s.Turn)
		}
	}
	if len(poolLen) == 0 {
		return nil, &InsufficientDataError{What: "step length"}
	}
	if len(poolTurn) == 0 {
		return nil, &InsufficientDataError{What: "turn angle"}
	}

	rows := make([]Row, 0, len(steps)*(b.K+1))
	for i, s := range steps {
		stratum := int64(i)

		used := Row{
			StratumID: stratum,
			ID:        s.ID,
			Time:      s.Time,
			XEnd:      s.X,
			YEnd:      s.Y,
			Heading:   s.Heading,
			LogL:      math.Log(s.Length + logEpsilon),
			IsUsed:    1,
			Extra:     s.Extra,
		}
		if b.IncludeCosTurn {
			used.CosTurn = math.Cos(s.Turn)
		}
		if b.IncludeLogL2 {
			used.LogL2 = used.LogL * used.LogL
		}
		rows = append(rows, used)

		// Base heading for candidates: the previous step's heading,
		// falling back to the current heading when absent.
		h0 := s.HeadingPrev
		if math.IsNaN(h0) {
			h0 = s.Heading
		}

		for k := 0; k < b.K; k++ {
			length := poolLen[rng.Intn(len(poolLen))]
			turn := poolTurn[rng.Intn(len(poolTurn))]
			heading := geo.WrapPositive(h0 + turn)

			// Bearing convention: sine along x (east), cosine along y
			// (north).
			xEnd := s.XPrev + length*math.Sin(heading)
			yEnd := s.YPrev + length*math.Cos(heading)

			// Log-length from the realized displacement, not the
			// drawn length.
			realized := math.Hypot(xEnd-s.XPrev, yEnd-s.YPrev)
			avail := Row{
				StratumID: stratum,
				ID:        s.ID,
				Time:      s.Time,
				XEnd:      xEnd,
				YEnd:      yEnd,
				Heading:   heading,
				LogL:      math.Log(realized + logEpsilon),
				IsUsed:    0,
				Extra:     s.Extra,
			}
			if b.IncludeCosTurn {
				avail.CosTurn = neutralCosTurn
			}
			if b.IncludeLogL2 {
				avail.LogL2 = avail.LogL * avail.LogL
			}
			rows = append(rows, avail)
		}
	}

	log.Debug().
		Int("strata", len(steps)).
		Int("rows", len(rows)).
		Int("k", b.K).
		Msg("built choice sets")
	return rows, nil
}

// Origins returns the shared (xPrev, yPrev) origin per stratum,
// indexed by stratum id. Strata inherit their origin from the source
// step.
func Origins(steps []track.Step) map[int64][2]float64 {
	out := make(map[int64][2]float64, len(steps))
	for i, s := range steps {
		out[int64(i)] = [2]float64{s.XPrev, s.YPrev}
	}
	return out
}
