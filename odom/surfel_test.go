package odom

import (
	"math"
	"testing"
)

func identityRefPose(t float64) (Rigid3, bool) { return IdentityRigid3(), true }

func TestExtractSurfels_FlatPlaneProducesUpNormal(t *testing.T) {
	cfg := testConfig()
	cfg.MinPointsPerVoxel = 4

	var sweep []LidarPoint
	for x := -1.0; x <= 1.0; x += 0.1 {
		for y := -1.0; y <= 1.0; y += 0.1 {
			sweep = append(sweep, LidarPoint{XYZ: Vec3{X: x, Y: y, Z: 5}, T: 0})
		}
	}

	surfels := ExtractSurfels(cfg, sweep, identityRefPose)
	if len(surfels) == 0 {
		t.Fatal("expected at least one surfel from a flat plane")
	}
	for _, s := range surfels {
		n := s.NormalWorld
		if math.Abs(n.X) > 0.2 || math.Abs(n.Y) > 0.2 {
			t.Errorf("expected a normal close to (0,0,+-1), got %+v", n)
		}
		if s.PlanarityScore > cfg.PlanarityThreshold {
			t.Errorf("surfel planarity %v above threshold %v", s.PlanarityScore, cfg.PlanarityThreshold)
		}
	}
}

func TestExtractSurfels_SparseVoxelsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.MinPointsPerVoxel = 6
	sweep := []LidarPoint{
		{XYZ: Vec3{0, 0, 0}, T: 0},
		{XYZ: Vec3{0.01, 0, 0}, T: 0},
	}
	surfels := ExtractSurfels(cfg, sweep, identityRefPose)
	if len(surfels) != 0 {
		t.Errorf("expected no surfels from an under-populated voxel, got %d", len(surfels))
	}
}
