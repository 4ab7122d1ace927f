package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func validConfigYAML() string {
	return `imuRate: 200
sampleDt: 0.1
sweepDuration: 0.1
slidingWindowDuration: 2.0
minRange: 0.3
maxRange: 60.0
blindBoundingBox: {minX: -0.2, maxX: 0.2, minY: -0.2, maxY: 0.2, minZ: -0.2, maxZ: 0.2}
extLidar2Imu: {pos: {x: 0, y: 0, z: 0}, rot: {w: 1, x: 0, y: 0, z: 0}}
gravityNorm: 9.81
gyroscopeNoiseDensityCostWeight: 1.0
accelerometerNoiseDensityCostWeight: 1.0
gyroscopeRandomWalkCostWeight: 1.0
accelerometerRandomWalkCostWeight: 1.0
outerIterNumMax: 3
innerIterNumMax: 10
minPointsPerVoxel: 6
voxelSize: 0.5
planarityThreshold: 0.05
knnK: 5
rMatch: 1.0
normalAgreementCos: 0.8660254
pointPlaneDistMax: 0.1
mqtt: {broker: "tcp://localhost:1883", imuTopic: "sensor/imu", pointTopic: "sensor/points", publishPrefix: "odom"}
`
}

func TestLoad_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, validConfigYAML())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ImuRate != 200 {
		t.Errorf("ImuRate = %v, want 200", cfg.ImuRate)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want %q", cfg.MQTT.Broker, "tcp://localhost:1883")
	}
	if cfg.BlindBoundingBox.MaxX != 0.2 {
		t.Errorf("BlindBoundingBox.MaxX = %v, want 0.2", cfg.BlindBoundingBox.MaxX)
	}
	if cfg.ExtLidar2Imu.Rot.W != 1 {
		t.Errorf("ExtLidar2Imu.Rot.W = %v, want 1", cfg.ExtLidar2Imu.Rot.W)
	}
}

func TestLoad_RejectsZeroImuRate(t *testing.T) {
	path := writeConfig(t, "imuRate: 0\nsampleDt: 0.1\nsweepDuration: 0.1\nslidingWindowDuration: 2.0\nmaxRange: 10\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for zero imuRate")
	}
}

func TestLoad_RequiresMqttTopicsWhenBrokerSet(t *testing.T) {
	body := validConfigYAML()
	// swap in a config missing both topics while broker is set.
	path := writeConfig(t, body+"\n") // broker+topics present in fixture; sanity check passes
	if _, err := Load(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path2 := writeConfig(t, `imuRate: 200
sampleDt: 0.1
sweepDuration: 0.1
slidingWindowDuration: 2.0
maxRange: 10
mqtt: {broker: "tcp://localhost:1883"}
`)
	if _, err := Load(path2); err == nil {
		t.Fatal("expected error for mqtt.broker set without topics")
	}
}

func TestDefault_PassesValidation(t *testing.T) {
	cfg := Default()
	if err := validate(&cfg); err != nil {
		t.Errorf("Default() config should validate cleanly, got: %v", err)
	}
}
