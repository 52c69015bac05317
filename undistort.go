// Package undistort converts distorted fisheye/omnidirectional camera
// images into rectified perspective images using a pre-computed
// calibration.
//
// Calibrations follow the unified omnidirectional camera model: a 3x3
// intrinsic matrix, four radial-tangential distortion coefficients and
// a single mirror parameter. They are loaded from a YAML document in
// the "ncameras" multi-camera format, with one camera per fixed slot
// (front, left, rear, right).
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		"github.com/omnicam/undistort"
//		"github.com/omnicam/undistort/pkg/calib"
//	)
//
//	func main() {
//		doc, err := calib.Load("calibration.yaml")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		u, err := undistort.New(doc, 5)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := u.RectifyFile(calib.SlotFront, "frame.png", "frame_rectified.png"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of four main components:
//
// 1. Calib (pkg/calib): calibration document schema and per-camera extraction
// 2. Rectify (pkg/rectify): the unified-sphere rectification transform
// 3. ImageIO (pkg/imageio): image decoding and encoding
// 4. Batch (pkg/batch): whole-directory processing across the four camera folders
//
// The rectification builds a dense per-pixel lookup table mapping
// every output pixel back through the virtual perspective camera onto
// the unit sphere and forward through the distortion model into the
// source image, then resamples with bilinear interpolation. The table
// depends only on the calibration and the image size, so it is cached
// and reused across frames.
package undistort

import (
	"fmt"
	"image"

	"github.com/omnicam/undistort/pkg/calib"
	"github.com/omnicam/undistort/pkg/imageio"
	"github.com/omnicam/undistort/pkg/rectify"
)

// Version of the undistort library
const Version = "1.0.0"

// Undistorter rectifies images for all four camera slots of one
// calibrated rig.
type Undistorter struct {
	rectifiers map[calib.Slot]*rectify.Rectifier
}

// New extracts all four camera models from the document and returns an
// Undistorter. Any malformed camera record fails the whole
// construction.
func New(doc *calib.Document, scale float64) (*Undistorter, error) {
	rectifiers := make(map[calib.Slot]*rectify.Rectifier, len(calib.Slots()))
	for _, slot := range calib.Slots() {
		model, err := calib.Extract(doc, slot, scale)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", slot, err)
		}
		r, err := rectify.New(model)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", slot, err)
		}
		rectifiers[slot] = r
	}
	return &Undistorter{rectifiers: rectifiers}, nil
}

// RectifyImage rectifies a single decoded image for the given camera
// slot.
func (u *Undistorter) RectifyImage(slot calib.Slot, img image.Image) (image.Image, error) {
	r, ok := u.rectifiers[slot]
	if !ok {
		return nil, fmt.Errorf("no calibration for camera %s", slot)
	}
	return r.Rectify(img)
}

// RectifyFile loads an image, rectifies it for the given camera slot
// and writes the result.
func (u *Undistorter) RectifyFile(slot calib.Slot, inPath, outPath string) error {
	img, err := imageio.Load(inPath)
	if err != nil {
		return fmt.Errorf("failed to load image: %w", err)
	}

	out, err := u.RectifyImage(slot, img)
	if err != nil {
		return fmt.Errorf("rectification failed: %w", err)
	}

	if err := imageio.Save(out, outPath); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
