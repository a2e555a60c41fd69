// Package track owns the fix and regularized-step data model and the
// resampling of irregular fixes onto a fixed time grid.
//
// Responsibilities: per-individual grid resampling with in-bin
// averaging and linear interpolation, step kinematics (length, bearing,
// turn, speed), and the local planar projection shared by the whole
// run. Downstream packages never see raw fixes.
package track

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tagbase/stepselect/internal/geo"
)

// Fix is one cleaned location observation for one individual.
type Fix struct {
	ID   string
	Time time.Time
	Lon  float64
	Lat  float64

	// Sex is the raw per-fix value; empty when not recorded.
	Sex string
	// HPE is the horizontal position error in meters; NaN when absent.
	HPE float64
	// Extra carries configured passthrough numeric attributes.
	Extra map[string]float64
}

// Step is one regularized grid row with complete previous-step
// kinematics. Grid timestamps within an individual are spaced exactly
// at the configured interval.
type Step struct {
	ID   string
	Time time.Time

	Lon, Lat         float64
	LonPrev, LatPrev float64

	// Planar coordinates in the run's local frame, meters.
	X, Y         float64
	XPrev, YPrev float64

	Length      float64 // step length, meters
	Heading     float64 // bearing of this step, [0, 2π)
	HeadingPrev float64 // bearing of the previous step; NaN on a track's first step
	Turn        float64 // signed turn vs previous heading, [−π, π); NaN on a track's first step
	Speed       float64 // meters per second

	// Sex is the individual's modal sex value; empty when unknown.
	Sex string
	// Extra holds passthrough covariates joined by nearest time.
	Extra map[string]float64
}

// Regularizer resamples cleaned fixes onto a fixed time grid.
type Regularizer struct {
	Interval    time.Duration
	Passthrough []string
}

// Regularize converts fixes into regularized steps across all
// individuals. Only the first grid row of a track produces no step;
// the next step carries a NaN turn since it has no predecessor
// heading. Individuals spanning fewer than three grid bins contribute
// zero rows; this is not an error. The planar frame is centered on
// the median lon/lat of the whole input.
func (r *Regularizer) Regularize(fixes []Fix) []Step {
	if len(fixes) == 0 {
		return nil
	}

	frame := geo.NewLocalFrame(medianLonLat(fixes))

	groups := groupByID(fixes)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	sexByID := modalSex(fixes)

	var out []Step
	for _, id := range ids {
		steps := r.regularizeOne(id, groups[id], frame)
		for i := range steps {
			steps[i].Sex = sexByID[id]
		}
		out = append(out, steps...)
	}

	log.Debug().
		Int("individuals", len(ids)).
		Int("steps", len(out)).
		Msg("regularized tracks")
	return out
}

// gridCell accumulates fixes landing in one grid bin.
type gridCell struct {
	lon, lat float64
	n        int
}

func (r *Regularizer) regularizeOne(id string, fixes []Fix, frame geo.LocalFrame) []Step {
	if len(fixes) < 2 {
		return nil
	}
	sort.Slice(fixes, func(i, j int) bool { return fixes[i].Time.Before(fixes[j].Time) })

	// Average fixes per bin. Bins align to epoch multiples of the
	// interval so that co-tracked individuals share grid timestamps.
	bins := make(map[int64]*gridCell)
	for _, f := range fixes {
		k := f.Time.UTC().Truncate(r.Interval).UnixNano()
		c, ok := bins[k]
		if !ok {
			c = &gridCell{}
			bins[k] = c
		}
		c.lon += f.Lon
		c.lat += f.Lat
		c.n++
	}

	t0 := fixes[0].Time.UTC().Truncate(r.Interval)
	t1 := fixes[len(fixes)-1].Time.UTC().Truncate(r.Interval)
	n := int(t1.Sub(t0)/r.Interval) + 1
	if n < 3 {
		// Below the minimum to define a step plus its predecessor.
		return nil
	}

	lons := make([]float64, n)
	lats := make([]float64, n)
	for i := 0; i < n; i++ {
		t := t0.Add(time.Duration(i) * r.Interval)
		if c, ok := bins[t.UnixNano()]; ok {
			lons[i] = c.lon / float64(c.n)
			lats[i] = c.lat / float64(c.n)
		} else {
			lons[i] = math.NaN()
			lats[i] = math.NaN()
		}
	}
	interpolateInPlace(lons)
	interpolateInPlace(lats)

	steps := make([]Step, 0, n-1)
	prevHeading := math.NaN()
	for i := 1; i < n; i++ {
		length := geo.Haversine(lons[i-1], lats[i-1], lons[i], lats[i])
		heading := geo.Bearing(lons[i-1], lats[i-1], lons[i], lats[i])
		x, y := frame.Project(lons[i], lats[i])
		xPrev, yPrev := frame.Project(lons[i-1], lats[i-1])

		// The first step has no predecessor heading, so its turn is
		// NaN. Its endpoint and length still count.
		s := Step{
			ID:          id,
			Time:        t0.Add(time.Duration(i) * r.Interval),
			Lon:         lons[i],
			Lat:         lats[i],
			LonPrev:     lons[i-1],
			LatPrev:     lats[i-1],
			X:           x,
			Y:           y,
			XPrev:       xPrev,
			YPrev:       yPrev,
			Length:      length,
			Heading:     heading,
			HeadingPrev: prevHeading,
			Turn:        geo.WrapSigned(heading - prevHeading),
			Speed:       length / r.Interval.Seconds(),
		}
		if len(r.Passthrough) > 0 {
			s.Extra = nearestExtras(fixes, s.Time, r.Passthrough)
		}
		steps = append(steps, s)
		prevHeading = heading
	}
	return steps
}

// interpolateInPlace fills NaN runs linearly between the surrounding
// finite values and clamps leading/trailing NaNs to the nearest finite
// value. No extrapolation beyond the observed range.
func interpolateInPlace(v []float64) {
	n := len(v)
	first, last := -1, -1
	for i := 0; i < n; i++ {
		if !math.IsNaN(v[i]) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return
	}
	for i := 0; i < first; i++ {
		v[i] = v[first]
	}
	for i := last + 1; i < n; i++ {
		v[i] = v[last]
	}
	i := first
	for i < last {
		if !math.IsNaN(v[i+1]) {
			i++
			continue
		}
		// v[i] is finite, scan to the end of the NaN run.
		j := i + 1
		for math.IsNaN(v[j]) {
			j++
		}
		for k := i + 1; k < j; k++ {
			frac := float64(k-i) / float64(j-i)
			v[k] = v[i] + frac*(v[j]-v[i])
		}
		i = j
	}
}

// nearestExtras joins passthrough values from the fix nearest in time.
func nearestExtras(fixes []Fix, t time.Time, names []string) map[string]float64 {
	best := -1
	var bestDt time.Duration
	for i, f := range fixes {
		dt := f.Time.Sub(t)
		if dt < 0 {
			dt = -dt
		}
		if best < 0 || dt < bestDt {
			best = i
			bestDt = dt
		}
	}
	if best < 0 || fixes[best].Extra == nil {
		return nil
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		if v, ok := fixes[best].Extra[name]; ok {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func groupByID(fixes []Fix) map[string][]Fix {
	groups := make(map[string][]Fix)
	for _, f := range fixes {
		groups[f.ID] = append(groups[f.ID], f)
	}
	return groups
}

// modalSex returns each individual's most frequent non-empty sex
// value. Ties resolve to the lexicographically smallest value so the
// result is deterministic.
func modalSex(fixes []Fix) map[string]string {
	counts := make(map[string]map[string]int)
	for _, f := range fixes {
		if f.Sex == "" {
			continue
		}
		if counts[f.ID] == nil {
			counts[f.ID] = make(map[string]int)
		}
		counts[f.ID][f.Sex]++
	}
	out := make(map[string]string, len(counts))
	for id, c := range counts {
		best, bestN := "", 0
		for v, n := range c {
			if n > bestN || (n == bestN && v < best) {
				best, bestN = v, n
			}
		}
		out[id] = best
	}
	return out
}

func medianLonLat(fixes []Fix) (lon0, lat0 float64) {
	lons := make([]float64, 0, len(fixes))
	lats := make([]float64, 0, len(fixes))
	for _, f := range fixes {
		lons = append(lons, f.Lon)
		lats = append(lats, f.Lat)
	}
	return median(lons), median(lats)
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
