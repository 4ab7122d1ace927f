package odom

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// surfelPoint adapts a window surfel's center_world into the kdtree.Comparable
// contract; idx is the surfel's index in the slice passed to
// MatchSurfelsKNN, carried through so results don't need a coordinate
// re-lookup.
type surfelPoint struct {
	pos Vec3
	idx int
}

func (p surfelPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(surfelPoint)
	switch d {
	case 0:
		return p.pos.X - q.pos.X
	case 1:
		return p.pos.Y - q.pos.Y
	default:
		return p.pos.Z - q.pos.Z
	}
}

func (p surfelPoint) Dims() int { return 3 }

func (p surfelPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(surfelPoint)
	d := p.pos.Sub(q.pos)
	return d.Dot(d)
}

type surfelPoints []surfelPoint

func (s surfelPoints) Index(i int) kdtree.Comparable { return s[i] }
func (s surfelPoints) Len() int                      { return len(s) }
func (s surfelPoints) Slice(start, end int) kdtree.Interface {
	return s[start:end]
}
func (s surfelPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(surfelPlane{surfelPoints: s, Dim: d}, kdtree.MedianOfRandoms(surfelPlane{surfelPoints: s, Dim: d}, 100))
}

type surfelPlane struct {
	surfelPoints
	kdtree.Dim
}

func (p surfelPlane) Less(i, j int) bool {
	return p.surfelPoints[i].Compare(p.surfelPoints[j], p.Dim) < 0
}
func (p surfelPlane) Swap(i, j int) {
	p.surfelPoints[i], p.surfelPoints[j] = p.surfelPoints[j], p.surfelPoints[i]
}
func (p surfelPlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfRandoms(p, 100)) }
func (p surfelPlane) Slice(start, end int) kdtree.SortSlicer {
	return surfelPlane{surfelPoints: p.surfelPoints[start:end], Dim: p.Dim}
}

// MatchSurfelsKNN builds a kd-tree over window surfels' center_world (C3) and
// emits correspondences satisfying normal agreement, point-to-plane distance,
// and the s1.T < s2.T ordering. Each accepted pair is emitted once.
func MatchSurfelsKNN(cfg Config, surfels []Surfel) []Correspondence {
	if len(surfels) < 2 {
		return nil
	}
	pts := make(surfelPoints, len(surfels))
	for i, s := range surfels {
		pts[i] = surfelPoint{pos: s.CenterWorld, idx: i}
	}
	tree := kdtree.New(pts, true)

	cosMax := cfg.NormalAgreementCos
	rMatch2 := cfg.RMatch * cfg.RMatch
	seen := make(map[[2]int]bool)
	var out []Correspondence

	for i, s := range surfels {
		keeper := kdtree.NewNKeeper(cfg.KnnK + 1)
		tree.NearestSet(keeper, surfelPoint{pos: s.CenterWorld, idx: i})
		for _, item := range keeper.Heap {
			if item.Comparable == nil {
				continue
			}
			j := item.Comparable.(surfelPoint).idx
			if j == i || item.Dist > rMatch2 {
				continue
			}
			other := surfels[j]
			if c, ok := acceptCorrespondence(s, other, i, j, cosMax, cfg.PointPlaneDistMax); ok {
				key := [2]int{c.S1, c.S2}
				if !seen[key] {
					seen[key] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// acceptCorrespondence applies the shared acceptance rule used by both the
// kd-tree matcher (C3) and the grid matcher (C10): normals must agree within
// cosMax, the point-to-plane distance must be within dMax, and the pair is
// emitted with s1.T < s2.T (equal timestamps are rejected).
func acceptCorrespondence(a, b Surfel, ai, bi int, cosMax, dMax float64) (Correspondence, bool) {
	if a.T == b.T {
		return Correspondence{}, false
	}
	agree := math.Abs(a.NormalWorld.Dot(b.NormalWorld))
	if agree < cosMax {
		return Correspondence{}, false
	}
	diff := a.CenterWorld.Sub(b.CenterWorld)
	dist := math.Abs(b.NormalWorld.Dot(diff))
	if dist > dMax {
		return Correspondence{}, false
	}

	s1, s2 := ai, bi
	if a.T > b.T {
		s1, s2 = bi, ai
	}
	weight := agree
	return Correspondence{S1: s1, S2: s2, Weight: weight}, true
}

// MatchSurfelsGrid is the C10 fallback: it buckets surfels into a 3D grid keyed
// by voxel size RMatch and pairs all surfels sharing a bucket, applying the
// same acceptance rule as the kd-tree path. Used when the kd-tree path is
// disabled (Config.UseGridMatcher); semantics are otherwise identical.
func MatchSurfelsGrid(cfg Config, surfels []Surfel) []Correspondence {
	if len(surfels) < 2 {
		return nil
	}
	buckets := make(map[voxelKey][]int)
	size := cfg.RMatch
	if size <= 0 {
		size = 1
	}
	for i, s := range surfels {
		k := voxelOf(s.CenterWorld, size)
		buckets[k] = append(buckets[k], i)
	}

	seen := make(map[[2]int]bool)
	var out []Correspondence
	for _, idxs := range buckets {
		for a := 0; a < len(idxs); a++ {
			for b := a + 1; b < len(idxs); b++ {
				i, j := idxs[a], idxs[b]
				c, ok := acceptCorrespondence(surfels[i], surfels[j], i, j, cfg.NormalAgreementCos, cfg.PointPlaneDistMax)
				if !ok {
					continue
				}
				key := [2]int{c.S1, c.S2}
				if !seen[key] {
					seen[key] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// MatchSurfels dispatches to the kd-tree or grid matcher per cfg.
func MatchSurfels(cfg Config, surfels []Surfel) []Correspondence {
	if cfg.UseGridMatcher {
		return MatchSurfelsGrid(cfg, surfels)
	}
	return MatchSurfelsKNN(cfg, surfels)
}
