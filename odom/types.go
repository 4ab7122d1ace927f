package odom

// ImuMeasurement is one raw inertial sample: gyro (rad/s) and specific force
// (m/s^2) at time t.
type ImuMeasurement struct {
	T   float64
	Gyr Vec3
	Acc Vec3
}

// LidarPoint is one raw range point in the LiDAR body frame at time T.
type LidarPoint struct {
	XYZ Vec3
	T   float64
}

// ImuState is a propagated inertial state inside the window: the integrated
// pose at T under the current bias/gravity estimate.
type ImuState struct {
	T   float64
	Gyr Vec3
	Acc Vec3
	Pos Vec3
	Rot Quat
}

func (s ImuState) Pose() Rigid3 { return Rigid3{Pos: s.Pos, Rot: s.Rot} }

// SampleState is one knot of the cubic B-spline trajectory/bias model.
type SampleState struct {
	T    float64
	Pos  Vec3
	Rot  Quat
	Bg   Vec3
	Ba   Vec3
	Grav Vec3

	// DataCor packs the 12 correction components applied at the end of an
	// outer iteration: [rotCor(3), posCor(3), bgCor(3), baCor(3)].
	DataCor [12]float64
}

func (s SampleState) Pose() Rigid3 { return Rigid3{Pos: s.Pos, Rot: s.Rot} }

func (s SampleState) RotCor() Vec3 { return Vec3{s.DataCor[0], s.DataCor[1], s.DataCor[2]} }
func (s SampleState) PosCor() Vec3 { return Vec3{s.DataCor[3], s.DataCor[4], s.DataCor[5]} }
func (s SampleState) BgCor() Vec3  { return Vec3{s.DataCor[6], s.DataCor[7], s.DataCor[8]} }
func (s SampleState) BaCor() Vec3  { return Vec3{s.DataCor[9], s.DataCor[10], s.DataCor[11]} }

func (s *SampleState) setRotCor(v Vec3) { s.DataCor[0], s.DataCor[1], s.DataCor[2] = v.X, v.Y, v.Z }
func (s *SampleState) setPosCor(v Vec3) { s.DataCor[3], s.DataCor[4], s.DataCor[5] = v.X, v.Y, v.Z }
func (s *SampleState) setBgCor(v Vec3)  { s.DataCor[6], s.DataCor[7], s.DataCor[8] = v.X, v.Y, v.Z }
func (s *SampleState) setBaCor(v Vec3)  { s.DataCor[9], s.DataCor[10], s.DataCor[11] = v.X, v.Y, v.Z }

// Surfel is a small planar patch extracted from a voxel of an undistorted
// sweep. Local attributes are fixed at extraction time in the IMU body
// frame at T; world attributes are recomputed whenever RefPose changes.
type Surfel struct {
	T             float64
	CenterLocal   Vec3
	NormalLocal   Vec3
	CenterWorld   Vec3
	NormalWorld   Vec3
	RefPose       Rigid3
	PointCount    int
	PlanarityScore float64
}

// UpdatePose re-projects the surfel's local attributes into world frame
// under a new reference pose, without re-fitting the plane.
func (s *Surfel) UpdatePose(newRefPose Rigid3) {
	s.RefPose = newRefPose
	s.CenterWorld = newRefPose.Apply(s.CenterLocal)
	s.NormalWorld = newRefPose.Rot.Rotate(s.NormalLocal).Normalized()
}

// Correspondence is an accepted surfel-to-surfel match, s1.T < s2.T.
type Correspondence struct {
	S1, S2 int // indices into the []Surfel slice the matcher was given
	Weight float64
}

// BoundingBox is an axis-aligned box in the blind-zone sense: points
// strictly inside are discarded during sweep construction.
type BoundingBox struct {
	MinX float64 `yaml:"minX"`
	MaxX float64 `yaml:"maxX"`
	MinY float64 `yaml:"minY"`
	MaxY float64 `yaml:"maxY"`
	MinZ float64 `yaml:"minZ"`
	MaxZ float64 `yaml:"maxZ"`
}

// Contains reports whether p lies strictly inside the box.
func (b BoundingBox) Contains(p Vec3) bool {
	return p.X > b.MinX && p.X < b.MaxX &&
		p.Y > b.MinY && p.Y < b.MaxY &&
		p.Z > b.MinZ && p.Z < b.MaxZ
}

// Config holds all statically provided tuning parameters; see spec §6.
type Config struct {
	ImuRate               float64      `yaml:"imuRate"`
	SampleDt              float64      `yaml:"sampleDt"`
	SweepDuration         float64      `yaml:"sweepDuration"`
	SlidingWindowDuration float64      `yaml:"slidingWindowDuration"`
	MinRange              float64      `yaml:"minRange"`
	MaxRange              float64      `yaml:"maxRange"`
	BlindBoundingBox      BoundingBox  `yaml:"blindBoundingBox"`
	ExtLidar2Imu          Rigid3       `yaml:"extLidar2Imu"`
	GravityNorm           float64      `yaml:"gravityNorm"`

	GyroscopeNoiseDensityCostWeight     float64 `yaml:"gyroscopeNoiseDensityCostWeight"`
	AccelerometerNoiseDensityCostWeight float64 `yaml:"accelerometerNoiseDensityCostWeight"`
	GyroscopeRandomWalkCostWeight       float64 `yaml:"gyroscopeRandomWalkCostWeight"`
	AccelerometerRandomWalkCostWeight   float64 `yaml:"accelerometerRandomWalkCostWeight"`

	OuterIterNumMax    int     `yaml:"outerIterNumMax"`
	InnerIterNumMax    int     `yaml:"innerIterNumMax"`
	MinPointsPerVoxel  int     `yaml:"minPointsPerVoxel"`
	VoxelSize          float64 `yaml:"voxelSize"`
	PlanarityThreshold float64 `yaml:"planarityThreshold"`
	KnnK               int     `yaml:"knnK"`
	RMatch             float64 `yaml:"rMatch"`
	NormalAgreementCos float64 `yaml:"normalAgreementCos"`
	PointPlaneDistMax  float64 `yaml:"pointPlaneDistMax"`

	// UseGridMatcher selects the C10 grid-bucket matcher in place of the
	// kd-tree KNN matcher (C3); same output contract.
	UseGridMatcher bool `yaml:"useGridMatcher"`
}

// ImuDt returns the nominal IMU sample interval 1/ImuRate.
func (c Config) ImuDt() float64 {
	if c.ImuRate <= 0 {
		return 0
	}
	return 1.0 / c.ImuRate
}

// clampUnit clamps x to [-1, 1], guarding acos/asin callers against float
// round-off pushing a cosine argument slightly out of domain.
func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
