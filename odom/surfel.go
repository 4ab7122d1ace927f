package odom

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type voxelKey struct{ x, y, z int64 }

func voxelOf(p Vec3, size float64) voxelKey {
	return voxelKey{
		x: int64(math.Floor(p.X / size)),
		y: int64(math.Floor(p.Y / size)),
		z: int64(math.Floor(p.Z / size)),
	}
}

// ExtractSurfels voxelizes an undistorted sweep and fits a plane to every
// voxel holding at least cfg.MinPointsPerVoxel points, emitting one Surfel
// per voxel whose planarity score (smallest eigenvalue over the eigenvalue
// sum, so near zero for a flat patch) is at most cfg.PlanarityThreshold.
// refPose(t) must return the
// interpolated body pose at a point's timestamp, used to project the
// world-frame fit back into the surfel's local (body) frame.
func ExtractSurfels(cfg Config, sweep []LidarPoint, refPose func(t float64) (Rigid3, bool)) []Surfel {
	buckets := make(map[voxelKey][]LidarPoint)
	for _, p := range sweep {
		k := voxelOf(p.XYZ, cfg.VoxelSize)
		buckets[k] = append(buckets[k], p)
	}

	surfels := make([]Surfel, 0, len(buckets))
	for _, pts := range buckets {
		if len(pts) < cfg.MinPointsPerVoxel {
			continue
		}
		centerWorld, normalWorld, planarity, ok := fitPlane(pts)
		if !ok || planarity > cfg.PlanarityThreshold {
			continue
		}

		t := medianTime(pts)
		pose, ok := refPose(t)
		if !ok {
			continue
		}
		inv := pose.Inverse()

		surfels = append(surfels, Surfel{
			T:              t,
			CenterWorld:    centerWorld,
			NormalWorld:    normalWorld,
			CenterLocal:    inv.Apply(centerWorld),
			NormalLocal:    inv.Rot.Rotate(normalWorld).Normalized(),
			RefPose:        pose,
			PointCount:     len(pts),
			PlanarityScore: planarity,
		})
	}
	return surfels
}

// fitPlane computes the centroid and the eigenvector of the smallest
// eigenvalue of the 3x3 covariance of pts, returning the planarity score
// lambda_min / (lambda0+lambda1+lambda2).
func fitPlane(pts []LidarPoint) (center, normal Vec3, planarity float64, ok bool) {
	n := float64(len(pts))
	var sum Vec3
	for _, p := range pts {
		sum = sum.Add(p.XYZ)
	}
	centroid := sum.Scale(1.0 / n)

	var c [3][3]float64
	for _, p := range pts {
		d := p.XYZ.Sub(centroid)
		dv := [3]float64{d.X, d.Y, d.Z}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				c[i][j] += dv[i] * dv[j]
			}
		}
	}
	data := make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			data[i*3+j] = c[i][j] / n
		}
	}
	sym := mat.NewSymDense(3, data)

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return Vec3{}, Vec3{}, 0, false
	}
	values := eig.Values(nil)
	sort.Float64s(values)
	sum3 := values[0] + values[1] + values[2]
	if sum3 <= 0 {
		return Vec3{}, Vec3{}, 0, false
	}
	planarity = values[0] / sum3

	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	// Find the column whose eigenvalue equals the smallest; EigenSym does not
	// guarantee sorted order so we re-derive the index from unsorted values.
	raw := eig.Values(nil)
	minIdx := 0
	for i := 1; i < 3; i++ {
		if raw[i] < raw[minIdx] {
			minIdx = i
		}
	}
	normal = Vec3{vecs.At(0, minIdx), vecs.At(1, minIdx), vecs.At(2, minIdx)}.Normalized()

	return centroid, normal, planarity, true
}

func medianTime(pts []LidarPoint) float64 {
	ts := make([]float64, len(pts))
	for i, p := range pts {
		ts[i] = p.T
	}
	sort.Float64s(ts)
	return ts[len(ts)/2]
}
