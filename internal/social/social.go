// Package social answers same-timestamp neighbor queries over the
// regularized track set. One snapshot is built per distinct grid
// timestamp and never consulted for any other timestamp: covariates
// computed here reflect only information available at decision time.
package social

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tagbase/stepselect/internal/geo"
	"github.com/tagbase/stepselect/internal/track"
)

// Covariates is the fixed-shape result of one neighbor query.
// Distance, alignment, and relative speed are NaN when undefined; the
// design assembler resolves those downstream.
type Covariates struct {
	NNDist       float64 // nearest neighbor distance within radius
	NForward     float64 // neighbors in the forward cone
	NBehind      float64 // neighbors behind that still pass the cone test
	AheadAny     float64 // 1 when NForward > 0
	BehindAny    float64 // 1 when NBehind > 0
	MeanAlignFwd float64 // mean heading-alignment cosine, forward cone
	RelSpeedFwd  float64 // mean speed of forward neighbors
}

// NoNeighbors is the record returned when nobody else is present at
// the query timestamp or within the radius.
func NoNeighbors() Covariates {
	return Covariates{
		NNDist:       math.NaN(),
		MeanAlignFwd: math.NaN(),
		RelSpeedFwd:  math.NaN(),
	}
}

// point is one individual's endpoint within a snapshot.
type point struct {
	id      string
	x, y    float64
	heading float64
	speed   float64
}

// snapshot indexes all endpoints at one timestamp. Points are bucketed
// on a uniform grid with cells the size of the query radius, so a
// radius query inspects at most the 3×3 cell neighborhood. Small
// snapshots skip the buckets and scan directly.
type snapshot struct {
	points   []point
	cellSize float64
	cells    map[cellKey][]int
}

type cellKey struct{ cx, cy int }

// bucketThreshold is the snapshot size below which a linear scan is
// cheaper than grid bucketing.
const bucketThreshold = 16

func newSnapshot(points []point, cellSize float64) *snapshot {
	s := &snapshot{points: points, cellSize: cellSize}
	if len(points) >= bucketThreshold {
		s.cells = make(map[cellKey][]int, len(points))
		for i, p := range points {
			k := s.keyFor(p.x, p.y)
			s.cells[k] = append(s.cells[k], i)
		}
	}
	return s
}

func (s *snapshot) keyFor(x, y float64) cellKey {
	return cellKey{
		cx: int(math.Floor(x / s.cellSize)),
		cy: int(math.Floor(y / s.cellSize)),
	}
}

// within returns indices of points no farther than radius from (x, y).
func (s *snapshot) within(x, y, radius float64) []int {
	var out []int
	consider := func(i int) {
		p := s.points[i]
		if math.Hypot(p.x-x, p.y-y) <= radius {
			out = append(out, i)
		}
	}
	if s.cells == nil {
		for i := range s.points {
			consider(i)
		}
		return out
	}
	center := s.keyFor(x, y)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			k := cellKey{center.cx + dx, center.cy + dy}
			for _, i := range s.cells[k] {
				consider(i)
			}
		}
	}
	return out
}

// Engine holds one snapshot per distinct regularized timestamp.
type Engine struct {
	radius   float64
	coneHalf float64 // radians
	byTime   map[int64]*snapshot
}

// NewEngine partitions the regularized steps by timestamp and builds
// the per-timestamp indices. The engine is read-only after this.
func NewEngine(steps []track.Step, radiusM, coneHalfAngleDeg float64) *Engine {
	byTime := make(map[int64][]point)
	for _, s := range steps {
		k := s.Time.UnixNano()
		byTime[k] = append(byTime[k], point{
			id:      s.ID,
			x:       s.X,
			y:       s.Y,
			heading: s.Heading,
			speed:   s.Speed,
		})
	}
	e := &Engine{
		radius:   radiusM,
		coneHalf: coneHalfAngleDeg * math.Pi / 180,
		byTime:   make(map[int64]*snapshot, len(byTime)),
	}
	for k, pts := range byTime {
		e.byTime[k] = newSnapshot(pts, radiusM)
	}
	log.Debug().
		Int("timestamps", len(e.byTime)).
		Float64("radius_m", radiusM).
		Msg("neighbor engine built")
	return e
}

// Query computes social covariates for a candidate endpoint. Only the
// snapshot at exactly t is consulted; a timestamp with no snapshot
// returns the no-neighbors record.
func (e *Engine) Query(t time.Time, xEnd, yEnd, stepHeading float64, focalID string) Covariates {
	snap, ok := e.byTime[t.UnixNano()]
	if !ok {
		return NoNeighbors()
	}

	ux := math.Sin(stepHeading)
	uy := math.Cos(stepHeading)

	cov := NoNeighbors()
	nn := math.Inf(1)
	var alignSum, speedSum float64

	for _, i := range snap.within(xEnd, yEnd, e.radius) {
		p := snap.points[i]
		if p.id == focalID {
			continue
		}
		dx := p.x - xEnd
		dy := p.y - yEnd
		dist := math.Hypot(dx, dy)
		if dist < nn {
			nn = dist
		}

		proj := dx*ux + dy*uy
		angToNb := math.Atan2(dx, dy)
		angDiff := geo.AngularDiff(angToNb, stepHeading)

		// Behind applies the same angular-deviation bound as ahead;
		// only the projection sign differs. For half-angles of 90° or
		// less nothing satisfies both, so the rear counts stay zero.
		switch {
		case proj > 0 && angDiff <= e.coneHalf:
			cov.NForward++
			alignSum += math.Cos(geo.WrapSigned(p.heading - stepHeading))
			speedSum += p.speed
		case proj < 0 && angDiff <= e.coneHalf:
			cov.NBehind++
		}
	}

	if !math.IsInf(nn, 1) {
		cov.NNDist = nn
	}
	if cov.NForward > 0 {
		cov.AheadAny = 1
		cov.MeanAlignFwd = alignSum / cov.NForward
		cov.RelSpeedFwd = speedSum / cov.NForward
	}
	if cov.NBehind > 0 {
		cov.BehindAny = 1
	}
	return cov
}
