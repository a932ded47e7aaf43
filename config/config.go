// Package config defines the on-disk JSON configuration for the
// coordinator and its per-camera pipelines (§6 External Interfaces).
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/rarchambault/Holoportation-2025-2026/calibration"
)

// Defaults for fields the reference configuration leaves unset.
const (
	DefaultFilterNeighbours = 10
	DefaultFilterThreshold  = 0.01
	DefaultICPIterations    = 10
	DefaultRefineIterations = 2
)

// CameraSettings is the per-camera portion of the configuration (§6): clip
// bounds, the KNN outlier filter, marker poses, exposure control and the
// ICP refinement parameters.
type CameraSettings struct {
	MinBounds [3]float32 `json:"min_bounds"`
	MaxBounds [3]float32 `json:"max_bounds"`

	Filter            bool    `json:"filter"`
	FilterNeighbours  int     `json:"filter_neighbours"`
	FilterThreshold   float32 `json:"filter_threshold"`

	MarkerPoses []calibration.MarkerPose `json:"marker_poses"`

	AutoExposure bool `json:"auto_exposure"`
	ExposureStep int  `json:"exposure_step"`

	ICPIterations    int  `json:"icp_iterations"`
	RefineIterations int  `json:"refine_iterations"`
	MergeScans       bool `json:"merge_scans"`
	SaveBinaryPLY    bool `json:"save_binary_ply"`
}

// SystemConfig is the top-level configuration document: one CameraSettings
// per configured camera, keyed by serial number, plus system-wide streaming
// parameters.
type SystemConfig struct {
	Cameras map[string]CameraSettings `json:"cameras"`

	MinPrecision float64 `json:"min_precision"`
	HalfRange    float64 `json:"half_range"`
}

// applyDefaults fills in the documented defaults for any field the caller
// left at its zero value.
func (c *CameraSettings) applyDefaults() {
	if c.FilterNeighbours == 0 {
		c.FilterNeighbours = DefaultFilterNeighbours
	}
	if c.FilterThreshold == 0 {
		c.FilterThreshold = DefaultFilterThreshold
	}
	if c.ICPIterations == 0 {
		c.ICPIterations = DefaultICPIterations
	}
	if c.RefineIterations == 0 {
		c.RefineIterations = DefaultRefineIterations
	}
}

// Load reads and validates a SystemConfig document from path, applying
// per-camera defaults to any field left unset.
func Load(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}

	var cfg SystemConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}

	if cfg.MinPrecision <= 0 {
		return nil, errors.New("min_precision must be positive")
	}
	if cfg.HalfRange <= 0 {
		return nil, errors.New("half_range must be positive")
	}

	for serial, settings := range cfg.Cameras {
		settings.applyDefaults()
		cfg.Cameras[serial] = settings
	}

	return &cfg, nil
}
