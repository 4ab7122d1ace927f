// Package config loads the static odometry configuration from YAML,
// mirroring the teacher's flat load-then-validate config layer.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flex-transformer/wildcat-slam/odom"
)

// MQTT holds the broker connection and topic settings for the ingest and
// publish packages. The core odom package has no knowledge of MQTT.
type MQTT struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"clientId"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	ImuTopic      string `yaml:"imuTopic"`
	PointTopic    string `yaml:"pointTopic"`
	PublishPrefix string `yaml:"publishPrefix"`
}

// Config is the unified configuration file: the odometry engine's tuning
// parameters plus the MQTT transport settings.
type Config struct {
	odom.Config `yaml:",inline"`
	MQTT        MQTT `yaml:"mqtt"`
}

// Load reads and validates the configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration back to a YAML file, useful for a
// calibration or replay tool that adjusts tuning parameters and persists
// them.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.ImuRate <= 0 {
		return fmt.Errorf("imuRate must be positive")
	}
	if cfg.SampleDt <= 0 {
		return fmt.Errorf("sampleDt must be positive")
	}
	if cfg.SweepDuration <= 0 {
		return fmt.Errorf("sweepDuration must be positive")
	}
	if cfg.SlidingWindowDuration <= cfg.SampleDt {
		return fmt.Errorf("slidingWindowDuration must exceed sampleDt")
	}
	if cfg.MaxRange <= cfg.MinRange {
		return fmt.Errorf("maxRange must exceed minRange")
	}
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ImuTopic == "" {
			return fmt.Errorf("mqtt.imuTopic is required when mqtt.broker is set")
		}
		if cfg.MQTT.PointTopic == "" {
			return fmt.Errorf("mqtt.pointTopic is required when mqtt.broker is set")
		}
	}
	return nil
}

// Default returns the tuning defaults shown in the spec's example
// configuration, for use by replay tools and tests that don't read a file.
func Default() Config {
	return Config{
		Config: odom.Config{
			ImuRate:               200,
			SampleDt:              0.1,
			SweepDuration:         0.1,
			SlidingWindowDuration: 2.0,
			MinRange:              0.3,
			MaxRange:              60.0,
			BlindBoundingBox: odom.BoundingBox{
				MinX: -0.2, MaxX: 0.2,
				MinY: -0.2, MaxY: 0.2,
				MinZ: -0.2, MaxZ: 0.2,
			},
			ExtLidar2Imu:                        odom.IdentityRigid3(),
			GravityNorm:                         9.81,
			GyroscopeNoiseDensityCostWeight:     1.0,
			AccelerometerNoiseDensityCostWeight: 1.0,
			GyroscopeRandomWalkCostWeight:       1.0,
			AccelerometerRandomWalkCostWeight:   1.0,
			OuterIterNumMax:                     3,
			InnerIterNumMax:                     10,
			MinPointsPerVoxel:                   6,
			VoxelSize:                           0.5,
			PlanarityThreshold:                  0.05,
			KnnK:                                5,
			RMatch:                              1.0,
			NormalAgreementCos:                  0.8660254,
			PointPlaneDistMax:                   0.1,
		},
	}
}
