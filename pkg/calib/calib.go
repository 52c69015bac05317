// Package calib loads omnidirectional camera calibrations from YAML
// documents in the "ncameras" multi-camera format and extracts
// per-camera models for rectification.
package calib

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Error kinds returned by Extract; match with errors.Is.
var (
	ErrNoCameraSystem   = errors.New("calibration document has no camera system")
	ErrSlotRange        = errors.New("camera slot index out of range")
	ErrShortIntrinsics  = errors.New("intrinsics data needs at least 5 elements")
	ErrDistortionLength = errors.New("distortion data must have exactly 4 elements")
	ErrBadScale         = errors.New("output scale must be positive and finite")
)

// Document is the calibration file schema. The camera list lives at
// ncameras[0].cameras[i].camera; intrinsics data is [xi, fx, fy, cx,
// cy] and distortion data is [k1, k2, p1, p2].
type Document struct {
	NCameras []CameraSystem `yaml:"ncameras"`
}

// CameraSystem groups the cameras of one multi-camera rig.
type CameraSystem struct {
	Cameras []CameraEntry `yaml:"cameras"`
}

// CameraEntry wraps a single camera block.
type CameraEntry struct {
	Camera Camera `yaml:"camera"`
}

// Camera holds the calibration blocks of one camera.
type Camera struct {
	Intrinsics DataBlock  `yaml:"intrinsics"`
	Distortion Distortion `yaml:"distortion"`
}

// Distortion wraps the distortion parameter block.
type Distortion struct {
	Parameters DataBlock `yaml:"parameters"`
}

// DataBlock is a flat numeric payload.
type DataBlock struct {
	Data []float64 `yaml:"data"`
}

// Load reads and parses a calibration file.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	return &doc, nil
}

// Model holds the calibration of one camera under the unified
// omnidirectional model, ready for rectification.
type Model struct {
	K    *mat.Dense // 3x3 intrinsic matrix
	D    *mat.Dense // 4x1 distortion coefficients
	Xi   float64    // mirror parameter
	KNew *mat.Dense // 3x3 output intrinsics, focal lengths divided by the scale
}

// Extract builds the model for one camera slot. The scale divides the
// output focal lengths; the principal point is left untouched.
// Any malformed field fails with a wrapped error kind and no model.
func Extract(doc *Document, slot Slot, scale float64) (*Model, error) {
	if scale <= 0 || math.IsInf(scale, 0) || math.IsNaN(scale) {
		return nil, fmt.Errorf("%w: got %v", ErrBadScale, scale)
	}
	if doc == nil || len(doc.NCameras) == 0 {
		return nil, ErrNoCameraSystem
	}

	cameras := doc.NCameras[0].Cameras
	if slot < 0 || int(slot) >= len(cameras) {
		return nil, fmt.Errorf("%w: slot %d, document has %d cameras", ErrSlotRange, slot, len(cameras))
	}
	camera := cameras[slot].Camera

	intr := camera.Intrinsics.Data
	if len(intr) < 5 {
		return nil, fmt.Errorf("%w: slot %s has %d", ErrShortIntrinsics, slot, len(intr))
	}
	dist := camera.Distortion.Parameters.Data
	if len(dist) != 4 {
		return nil, fmt.Errorf("%w: slot %s has %d", ErrDistortionLength, slot, len(dist))
	}

	xi, fx, fy, cx, cy := intr[0], intr[1], intr[2], intr[3], intr[4]

	k := mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	})

	kNew := mat.DenseCopyOf(k)
	kNew.Set(0, 0, fx/scale)
	kNew.Set(1, 1, fy/scale)

	d := mat.NewDense(4, 1, nil)
	for i, v := range dist {
		d.Set(i, 0, v)
	}

	return &Model{K: k, D: d, Xi: xi, KNew: kNew}, nil
}
