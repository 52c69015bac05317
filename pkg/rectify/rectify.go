// Package rectify maps distorted omnidirectional camera images onto a
// virtual perspective image plane using the unified camera model
// (intrinsics, radial-tangential distortion and a mirror parameter).
package rectify

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/mat"

	"github.com/omnicam/undistort/pkg/calib"
)

// Error kinds returned by New and Rectify; match with errors.Is.
var (
	ErrNilModel   = errors.New("calibration model is nil")
	ErrBadShape   = errors.New("calibration matrix has wrong shape")
	ErrNotFinite  = errors.New("calibration parameter is not finite")
	ErrEmptyImage = errors.New("input image is empty")
)

// Model is the per-camera calibration consumed by the Rectifier.
type Model = calib.Model

// Rectifier rectifies images taken by a single calibrated camera. It
// caches the coordinate lookup table per image size and is safe for
// concurrent use.
type Rectifier struct {
	model *Model

	mu     sync.Mutex
	tables map[image.Point]*remapTable
}

// New validates the model shapes and returns a Rectifier. Shape
// validation happens here, before any numeric work.
func New(model *Model) (*Rectifier, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if err := checkShape(model.K, 3, 3, "K"); err != nil {
		return nil, err
	}
	if err := checkShape(model.KNew, 3, 3, "scaled K"); err != nil {
		return nil, err
	}
	if err := checkShape(model.D, 4, 1, "D"); err != nil {
		return nil, err
	}
	if math.IsInf(model.Xi, 0) || math.IsNaN(model.Xi) {
		return nil, fmt.Errorf("%w: mirror parameter %v", ErrNotFinite, model.Xi)
	}

	return &Rectifier{
		model:  model,
		tables: make(map[image.Point]*remapTable),
	}, nil
}

func checkShape(m *mat.Dense, rows, cols int, name string) error {
	if m == nil {
		return fmt.Errorf("%w: %s is nil", ErrBadShape, name)
	}
	r, c := m.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrBadShape, name, r, c, rows, cols)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsInf(v, 0) || math.IsNaN(v) {
				return fmt.Errorf("%w: %s[%d][%d] = %v", ErrNotFinite, name, i, j, v)
			}
		}
	}
	return nil
}

// Rectify returns a perspective-rectified copy of img with the same
// dimensions. Source locations outside the image bounds are filled
// with black. The input is never mutated.
func (r *Rectifier) Rectify(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, ErrEmptyImage
	}

	table, err := r.tableFor(width, height)
	if err != nil {
		return nil, err
	}

	src := imaging.Clone(img)
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))

	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			i := v*width + u
			pr, pg, pb, pa := sampleBilinear(src, table.srcX[i], table.srcY[i])
			o := v*dst.Stride + u*4
			dst.Pix[o+0] = pr
			dst.Pix[o+1] = pg
			dst.Pix[o+2] = pb
			dst.Pix[o+3] = pa
		}
	}

	return dst, nil
}

func (r *Rectifier) tableFor(width, height int) (*remapTable, error) {
	size := image.Point{X: width, Y: height}

	r.mu.Lock()
	defer r.mu.Unlock()
	if table, ok := r.tables[size]; ok {
		return table, nil
	}

	table, err := buildRemapTable(r.model, width, height)
	if err != nil {
		return nil, err
	}
	r.tables[size] = table
	return table, nil
}

// sampleBilinear reads the source at a fractional location, blending
// the four surrounding pixels. Neighbors outside the image contribute
// the constant border color (opaque black).
func sampleBilinear(src *image.NRGBA, x, y float64) (uint8, uint8, uint8, uint8) {
	if x < -1 || y < -1 || x > float64(src.Bounds().Dx()) || y > float64(src.Bounds().Dy()) {
		return 0, 0, 0, 255
	}
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	w00 := (1 - fx) * (1 - fy)
	w10 := fx * (1 - fy)
	w01 := (1 - fx) * fy
	w11 := fx * fy

	r00, g00, b00, a00 := pixelAt(src, x0, y0)
	r10, g10, b10, a10 := pixelAt(src, x0+1, y0)
	r01, g01, b01, a01 := pixelAt(src, x0, y0+1)
	r11, g11, b11, a11 := pixelAt(src, x0+1, y0+1)

	blend := func(c00, c10, c01, c11 float64) uint8 {
		v := c00*w00 + c10*w10 + c01*w01 + c11*w11
		return uint8(math.Min(255, math.Max(0, v+0.5)))
	}

	return blend(r00, r10, r01, r11),
		blend(g00, g10, g01, g11),
		blend(b00, b10, b01, b11),
		blend(a00, a10, a01, a11)
}

func pixelAt(src *image.NRGBA, x, y int) (float64, float64, float64, float64) {
	if x < 0 || y < 0 || x >= src.Bounds().Dx() || y >= src.Bounds().Dy() {
		// Constant border: opaque black.
		return 0, 0, 0, 255
	}
	i := y*src.Stride + x*4
	return float64(src.Pix[i+0]), float64(src.Pix[i+1]), float64(src.Pix[i+2]), float64(src.Pix[i+3])
}
