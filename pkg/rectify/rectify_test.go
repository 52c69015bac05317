package rectify

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// testModel builds a valid model; xi, distortion and scale control how
// aggressive the transform is.
func testModel(xi float64, dist []float64, scale float64) *Model {
	k := mat.NewDense(3, 3, []float64{
		100, 0, 32,
		0, 100, 24,
		0, 0, 1,
	})
	kNew := mat.DenseCopyOf(k)
	kNew.Set(0, 0, k.At(0, 0)/scale)
	kNew.Set(1, 1, k.At(1, 1)/scale)

	d := mat.NewDense(4, 1, nil)
	for i, v := range dist {
		d.Set(i, 0, v)
	}

	return &Model{K: k, D: d, Xi: xi, KNew: kNew}
}

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}

	return img
}

func TestNew(t *testing.T) {
	r, err := New(testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if r == nil {
		t.Fatal("New returned nil")
	}
}

func TestNewShapeErrors(t *testing.T) {
	base := func() *Model { return testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5) }

	wrongK := base()
	wrongK.K = mat.NewDense(2, 3, nil)

	wrongKNew := base()
	wrongKNew.KNew = mat.NewDense(3, 4, nil)

	wrongD := base()
	wrongD.D = mat.NewDense(5, 1, nil)

	rowD := base()
	rowD.D = mat.NewDense(1, 4, nil)

	nilD := base()
	nilD.D = nil

	tests := []struct {
		name  string
		model *Model
		want  error
	}{
		{"nil model", nil, ErrNilModel},
		{"K not 3x3", wrongK, ErrBadShape},
		{"scaled K not 3x3", wrongKNew, ErrBadShape},
		{"D not 4 rows", wrongD, ErrBadShape},
		{"D transposed", rowD, ErrBadShape},
		{"D nil", nilD, ErrBadShape},
	}

	for _, tt := range tests {
		r, err := New(tt.model)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
		if r != nil {
			t.Errorf("%s: expected no rectifier on error", tt.name)
		}
	}
}

func TestNewNotFinite(t *testing.T) {
	badXi := testModel(math.Inf(1), []float64{0, 0, 0, 0}, 5)
	if _, err := New(badXi); !errors.Is(err, ErrNotFinite) {
		t.Errorf("expected ErrNotFinite for infinite mirror parameter, got %v", err)
	}

	badK := testModel(0.9, []float64{0, 0, 0, 0}, 5)
	badK.K.Set(0, 0, math.NaN())
	if _, err := New(badK); !errors.Is(err, ErrNotFinite) {
		t.Errorf("expected ErrNotFinite for NaN focal length, got %v", err)
	}
}

func TestRectifyPreservesDimensions(t *testing.T) {
	r, err := New(testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sizes := [][2]int{{64, 48}, {48, 64}, {33, 27}}
	for _, size := range sizes {
		img := createTestImage(size[0], size[1])
		out, err := r.Rectify(img)
		if err != nil {
			t.Fatalf("Rectify %dx%d failed: %v", size[0], size[1], err)
		}
		bounds := out.Bounds()
		if bounds.Dx() != size[0] || bounds.Dy() != size[1] {
			t.Errorf("expected %dx%d output, got %dx%d", size[0], size[1], bounds.Dx(), bounds.Dy())
		}
	}
}

// With a zero mirror parameter, zero distortion and unit scale the
// model degenerates to a plain pinhole, so rectification is the
// identity mapping.
func TestRectifyPinholeIdentity(t *testing.T) {
	r, err := New(testModel(0, []float64{0, 0, 0, 0}, 1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	img := createTestImage(64, 48)
	out, err := r.Rectify(img)
	if err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}

	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			wr, wg, wb, _ := img.At(x, y).RGBA()
			gr, gg, gb, _ := out.At(x, y).RGBA()
			if absDiff(wr, gr) > 257 || absDiff(wg, gg) > 257 || absDiff(wb, gb) > 257 {
				t.Fatalf("pixel (%d,%d) changed: want %v, got %v", x, y, img.At(x, y), out.At(x, y))
			}
		}
	}
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestRectifyDoesNotMutateInput(t *testing.T) {
	r, err := New(testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	img := createTestImage(32, 24).(*image.RGBA)
	before := make([]uint8, len(img.Pix))
	copy(before, img.Pix)

	if _, err := r.Rectify(img); err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}

	for i := range before {
		if img.Pix[i] != before[i] {
			t.Fatal("Rectify mutated the input buffer")
		}
	}
}

func TestRectifyEmptyImage(t *testing.T) {
	r, err := New(testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := r.Rectify(nil); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage for nil input, got %v", err)
	}
	if _, err := r.Rectify(image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage for zero-size input, got %v", err)
	}
}

func TestRectifyCachesRemapTable(t *testing.T) {
	r, err := New(testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := r.Rectify(createTestImage(32, 24)); err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}
	if _, err := r.Rectify(createTestImage(32, 24)); err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}
	if len(r.tables) != 1 {
		t.Errorf("expected one cached table for one size, got %d", len(r.tables))
	}

	if _, err := r.Rectify(createTestImage(16, 12)); err != nil {
		t.Fatalf("Rectify failed: %v", err)
	}
	if len(r.tables) != 2 {
		t.Errorf("expected two cached tables for two sizes, got %d", len(r.tables))
	}
}

func TestRectifySingularScaledK(t *testing.T) {
	model := testModel(0.9, []float64{0, 0, 0, 0}, 5)
	model.KNew.Set(0, 0, 0)
	model.KNew.Set(0, 2, 0)

	r, err := New(model)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := r.Rectify(createTestImage(16, 12)); err == nil {
		t.Error("expected error for singular output intrinsics")
	}
}

func TestBuildRemapTableOmnidirectional(t *testing.T) {
	model := testModel(1.0, []float64{-0.2, 0.05, 0, 0}, 4)
	table, err := buildRemapTable(model, 64, 48)
	if err != nil {
		t.Fatalf("buildRemapTable failed: %v", err)
	}

	// The ray through the principal point is unaffected by distortion
	// and must map back onto the principal point.
	cx := int(model.KNew.At(0, 2))
	cy := int(model.KNew.At(1, 2))
	i := cy*64 + cx
	if math.Abs(table.srcX[i]-model.K.At(0, 2)) > 1e-9 || math.Abs(table.srcY[i]-model.K.At(1, 2)) > 1e-9 {
		t.Errorf("principal point mapped to (%v, %v), want (%v, %v)",
			table.srcX[i], table.srcY[i], model.K.At(0, 2), model.K.At(1, 2))
	}

	// All entries must be finite.
	for j := range table.srcX {
		if math.IsNaN(table.srcX[j]) || math.IsInf(table.srcX[j], 0) ||
			math.IsNaN(table.srcY[j]) || math.IsInf(table.srcY[j], 0) {
			t.Fatalf("non-finite map entry at %d: (%v, %v)", j, table.srcX[j], table.srcY[j])
		}
	}
}

func BenchmarkRectify(b *testing.B) {
	r, err := New(testModel(0.9, []float64{-0.2, 0.05, 0.001, -0.001}, 5))
	if err != nil {
		b.Fatal(err)
	}
	img := createTestImage(640, 480)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Rectify(img); err != nil {
			b.Fatal(err)
		}
	}
}
