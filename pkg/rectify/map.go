package rectify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// remapTable maps every output pixel to its sampling location in the
// source image. It depends only on the model and the image size, so
// the Rectifier caches one per size.
type remapTable struct {
	width, height int
	srcX, srcY    []float64
}

// buildRemapTable back-projects each output pixel through the inverse
// of KNew onto the unit sphere under the mirror parameter, then
// re-projects it through the distortion model and K. The rotation
// between the virtual and real camera frames is identity.
func buildRemapTable(m *Model, width, height int) (*remapTable, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.KNew); err != nil {
		return nil, fmt.Errorf("%w: output intrinsic matrix is singular", ErrNotFinite)
	}

	fx := m.K.At(0, 0)
	skew := m.K.At(0, 1)
	cx := m.K.At(0, 2)
	fy := m.K.At(1, 1)
	cy := m.K.At(1, 2)
	k1 := m.D.At(0, 0)
	k2 := m.D.At(1, 0)
	p1 := m.D.At(2, 0)
	p2 := m.D.At(3, 0)
	xi := m.Xi

	table := &remapTable{
		width:  width,
		height: height,
		srcX:   make([]float64, width*height),
		srcY:   make([]float64, width*height),
	}

	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			// Ray through the output pixel in the virtual camera frame.
			x := inv.At(0, 0)*float64(u) + inv.At(0, 1)*float64(v) + inv.At(0, 2)
			y := inv.At(1, 0)*float64(u) + inv.At(1, 1)*float64(v) + inv.At(1, 2)
			z := inv.At(2, 0)*float64(u) + inv.At(2, 1)*float64(v) + inv.At(2, 2)

			// Onto the unit sphere, then onto the normalized plane shifted
			// by the mirror parameter.
			norm := math.Sqrt(x*x + y*y + z*z)
			xs, ys, zs := x/norm, y/norm, z/norm

			i := v*width + u

			// Rays pointing away from the mirror have no source pixel.
			denom := zs + xi
			if denom <= 1e-12 {
				table.srcX[i] = -1
				table.srcY[i] = -1
				continue
			}
			xu := xs / denom
			yu := ys / denom

			// Radial-tangential distortion.
			r2 := xu*xu + yu*yu
			radial := 1 + k1*r2 + k2*r2*r2
			xd := xu*radial + 2*p1*xu*yu + p2*(r2+2*xu*xu)
			yd := yu*radial + p1*(r2+2*yu*yu) + 2*p2*xu*yu

			table.srcX[i] = fx*xd + skew*yd + cx
			table.srcY[i] = fy*yd + cy
		}
	}

	return table, nil
}
