package social

import (
	"math"
	"sort"
	"time"

	"github.com/tagbase/stepselect/internal/geo"
	"github.com/tagbase/stepselect/internal/track"
)

// LeadRecord marks whether any conspecific sits behind the focal
// individual's endpoint one grid interval later. This is a descriptive
// post-hoc metric for interpretation only; it reads the future and is
// never joined into the likelihood.
type LeadRecord struct {
	ID         string
	Time       time.Time
	LeadFuture int
}

// LeadFollowPosthoc computes the future-leading indicator for every
// used step. Neighbors are evaluated at t+interval against the focal
// endpoint and heading at t.
func LeadFollowPosthoc(steps []track.Step, interval time.Duration, radiusM, coneHalfAngleDeg float64) []LeadRecord {
	half := coneHalfAngleDeg * math.Pi / 180

	byTime := make(map[int64][]track.Step)
	for _, s := range steps {
		byTime[s.Time.UnixNano()] = append(byTime[s.Time.UnixNano()], s)
	}

	ordered := append([]track.Step(nil), steps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ID != ordered[j].ID {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].Time.Before(ordered[j].Time)
	})

	var out []LeadRecord
	for _, s := range ordered {
		future := byTime[s.Time.Add(interval).UnixNano()]
		others := 0
		lead := 0
		for _, o := range future {
			if o.ID == s.ID {
				continue
			}
			others++
			dx := o.X - s.X
			dy := o.Y - s.Y
			if math.Hypot(dx, dy) > radiusM {
				continue
			}
			proj := dx*math.Sin(s.Heading) + dy*math.Cos(s.Heading)
			ad := geo.AngularDiff(math.Atan2(dx, dy), s.Heading)
			if proj < 0 && ad <= half {
				lead = 1
				break
			}
		}
		if others == 0 {
			// Nobody else present one interval later; no record, as
			// leading is undefined rather than absent.
			continue
		}
		out = append(out, LeadRecord{ID: s.ID, Time: s.Time, LeadFuture: lead})
	}
	return out
}

// LeadRate summarizes the fraction of steps flagged as future-leading.
func LeadRate(records []LeadRecord) float64 {
	if len(records) == 0 {
		return math.NaN()
	}
	n := 0
	for _, r := range records {
		n += r.LeadFuture
	}
	return float64(n) / float64(len(records))
}
