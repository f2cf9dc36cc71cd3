package depth

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Intrinsics holds a pinhole camera's focal lengths and principal point,
// mirroring the fields (and CheckValid convention) of this codebase's
// PinholeCameraIntrinsics, restricted to what the epipolar search actually
// consumes.
type Intrinsics struct {
	Width, Height int
	Fx, Fy        float64
	Cx, Cy        float64
}

// CheckValid mirrors PinholeCameraIntrinsics.CheckValid: catches
// misconfiguration before it turns into silent NaNs deep in stereo search.
func (in Intrinsics) CheckValid() error {
	if in.Width <= 0 || in.Height <= 0 {
		return errors.Errorf("invalid intrinsics size (%d, %d)", in.Width, in.Height)
	}
	if in.Fx <= 0 || in.Fy <= 0 {
		return errors.Errorf("invalid focal lengths (%v, %v)", in.Fx, in.Fy)
	}
	return nil
}

// Matrix returns the 3x3 camera matrix K.
func (in Intrinsics) Matrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.Fx, 0, in.Cx,
		0, in.Fy, in.Cy,
		0, 0, 1,
	})
}

// InverseIntrinsics holds the four scalars of K^-1 that matter for
// back-projection: K^-1 is upper triangular with 1 in the bottom right, so
// only fxi, fyi, cxi, cyi are needed.
type InverseIntrinsics struct {
	Fxi, Fyi, Cxi, Cyi float64
}

// Inverse computes K^-1's relevant coefficients directly, avoiding a general
// matrix inversion for a matrix whose structure makes it unnecessary.
func (in Intrinsics) Inverse() InverseIntrinsics {
	return InverseIntrinsics{
		Fxi: 1 / in.Fx,
		Fyi: 1 / in.Fy,
		Cxi: -in.Cx / in.Fx,
		Cyi: -in.Cy / in.Fy,
	}
}

// kinvP computes K^-1 * (x, y, 1), the back-projected ray direction for pixel
// (x, y) at unit depth.
func kinvP(inv InverseIntrinsics, x, y float64) r3.Vector {
	return r3.Vector{X: x*inv.Fxi + inv.Cxi, Y: y*inv.Fyi + inv.Cyi, Z: 1}
}

// project applies a pinhole projection to a 3D point already expressed in the
// target camera's frame: (fx*x/z+cx, fy*y/z+cy).
func project(in Intrinsics, q r3.Vector) r2.Point {
	return r2.Point{X: in.Fx*q.X/q.Z + in.Cx, Y: in.Fy*q.Y/q.Z + in.Cy}
}

// homogeneousDivide turns an already K-scaled homogeneous point into a pixel
// coordinate by dividing through by Z; unlike project, it does not reapply K.
func homogeneousDivide(v r3.Vector) r2.Point {
	return r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}
}

func addVec(a, b r3.Vector) r3.Vector   { return r3.Vector{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }
func scaleVec(a r3.Vector, s float64) r3.Vector {
	return r3.Vector{X: a.X * s, Y: a.Y * s, Z: a.Z * s}
}

// mulMat3Vec computes m*v for a 3x3 mat.Dense.
func mulMat3Vec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// mulMat3TransposeVec computes m^T*v for a 3x3 mat.Dense.
func mulMat3TransposeVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(1, 0)*v.Y + m.At(2, 0)*v.Z,
		Y: m.At(0, 1)*v.X + m.At(1, 1)*v.Y + m.At(2, 1)*v.Z,
		Z: m.At(0, 2)*v.X + m.At(1, 2)*v.Y + m.At(2, 2)*v.Z,
	}
}

// otherToThisTranslation returns the reference camera's optical center
// expressed in the keyframe's own coordinate frame. Given the keyframe-
// >reference pose X_ref = R*X_key + T, the reference frame's origin
// (X_ref = 0) maps back to X_key = -R^T*T; that is the translation component
// of the inverse (reference->keyframe) transform, not of R/T themselves. This
// is the vector the epipolar-line construction in 4.1 projects through the
// keyframe's own intrinsics.
func otherToThisTranslation(r *mat.Dense, t r3.Vector) r3.Vector {
	v := mulMat3TransposeVec(r, t)
	return r3.Vector{X: -v.X, Y: -v.Y, Z: -v.Z}
}

// Gradient is a single pixel's image gradient. Max holds that pixel's own
// gradient magnitude (GradientsFromImage takes no neighborhood maximum); the
// hole-fill/decay gates in this package call magnitude() rather than read Max.
type Gradient struct {
	Gx, Gy, Max float64
}

func (g Gradient) magnitude() float64 { return math.Hypot(g.Gx, g.Gy) }

// GradientField is a dense W*H buffer of Gradient values, one per pixel of a
// keyframe's intensity image.
type GradientField struct {
	width, height int
	data          []Gradient
}

// NewGradientField allocates a zeroed width x height gradient field.
func NewGradientField(width, height int) *GradientField {
	return &GradientField{width: width, height: height, data: make([]Gradient, width*height)}
}

func (g *GradientField) Width() int  { return g.width }
func (g *GradientField) Height() int { return g.height }

func (g *GradientField) At(x, y int) Gradient { return g.data[y*g.width+x] }

func (g *GradientField) Set(x, y int, v Gradient) { g.data[y*g.width+x] = v }

// Bilinear interpolates gx, gy at a fractional pixel coordinate.
func (g *GradientField) Bilinear(x, y float64) (gx, gy float64) {
	ix0, iy0, dx, dy := bilinearCorner(x, y, g.width, g.height)
	g00, g10 := g.At(ix0, iy0), g.At(ix0+1, iy0)
	g01, g11 := g.At(ix0, iy0+1), g.At(ix0+1, iy0+1)
	topX := g00.Gx*(1-dx) + g10.Gx*dx
	botX := g01.Gx*(1-dx) + g11.Gx*dx
	topY := g00.Gy*(1-dx) + g10.Gy*dx
	botY := g01.Gy*(1-dx) + g11.Gy*dx
	return topX*(1-dy) + botX*dy, topY*(1-dy) + botY*dy
}

// GradientsFromImage computes a gradient field from raw intensities using
// centered finite differences, matching the reference filter's
// image[idx+1]-image[idx-1] / image[idx+width]-image[idx-width] convention.
// Border pixels (where a centered difference is unavailable) are left zero.
func GradientsFromImage(img *ImageF32) *GradientField {
	gf := NewGradientField(img.Width, img.Height)
	maxMag := 0.0
	for y := 1; y < img.Height-1; y++ {
		for x := 1; x < img.Width-1; x++ {
			gx := img.At(x+1, y) - img.At(x-1, y)
			gy := img.At(x, y+1) - img.At(x, y-1)
			mag := math.Hypot(gx, gy)
			if mag > maxMag {
				maxMag = mag
			}
			gf.Set(x, y, Gradient{Gx: gx, Gy: gy})
		}
	}
	for i := range gf.data {
		gf.data[i].Max = math.Hypot(gf.data[i].Gx, gf.data[i].Gy)
	}
	return gf
}

// ImageF32 is a dense row-major float64 intensity buffer: the "raw intensity
// pyramid level 0" a keyframe or reference frame supplies.
type ImageF32 struct {
	Width, Height int
	Data          []float64
}

// NewImageF32 allocates a zeroed width x height image.
func NewImageF32(width, height int) *ImageF32 {
	return &ImageF32{Width: width, Height: height, Data: make([]float64, width*height)}
}

func (im *ImageF32) At(x, y int) float64 { return im.Data[y*im.Width+x] }

func (im *ImageF32) Set(x, y int, v float64) { im.Data[y*im.Width+x] = v }

func (im *ImageF32) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < im.Width && y < im.Height
}

// bilinearCorner clamps a fractional coordinate into the image so bilinear
// sampling never indexes out of range, returning the top-left integer corner
// and fractional offsets.
func bilinearCorner(x, y float64, width, height int) (ix0, iy0 int, dx, dy float64) {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	maxX := float64(width - 2)
	maxY := float64(height - 2)
	if x > maxX {
		x = maxX
	}
	if y > maxY {
		y = maxY
	}
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	return int(x0), int(y0), x - x0, y - y0
}

// Bilinear samples the image at a fractional pixel coordinate.
func (im *ImageF32) Bilinear(x, y float64) float64 {
	ix0, iy0, dx, dy := bilinearCorner(x, y, im.Width, im.Height)
	v00 := im.At(ix0, iy0)
	v10 := im.At(ix0+1, iy0)
	v01 := im.At(ix0, iy0+1)
	v11 := im.At(ix0+1, iy0+1)
	top := v00*(1-dx) + v10*dx
	bot := v01*(1-dx) + v11*dx
	return top*(1-dy) + bot*dy
}

// inImageRange reports whether p lies at least padding pixels inside a
// width x height image.
func inImageRange(p r2.Point, width, height int, padding float64) bool {
	return p.X >= padding && p.Y >= padding &&
		p.X <= float64(width)-1-padding && p.Y <= float64(height)-1-padding
}

// epipolarDirection computes and gates the epipolar direction in the
// keyframe's image for pixel p, per spec 4.1: the three checks encode the
// well-posedness of 1-D stereo along the line.
func epipolarDirection(cfg Config, in Intrinsics, grad Gradient, px, py float64, otherToThisT r3.Vector) (r2.Point, bool) {
	proj := project(in, otherToThisT)
	epl := r2.Point{X: otherToThisT.Z * (px - proj.X), Y: otherToThisT.Z * (py - proj.Y)}
	eplLenSq := epl.X*epl.X + epl.Y*epl.Y
	if eplLenSq < cfg.MinEplLengthSquared {
		return r2.Point{}, false
	}

	gradDotEpl := grad.Gx*epl.X + grad.Gy*epl.Y
	eplGradSquared := gradDotEpl * gradDotEpl / eplLenSq
	if eplGradSquared < cfg.MinEplGradSquared {
		return r2.Point{}, false
	}

	gradNormSq := grad.Gx*grad.Gx + grad.Gy*grad.Gy
	cosineSquared := (gradDotEpl * gradDotEpl) / (gradNormSq*eplLenSq + divisionEps)
	if cosineSquared < cfg.MinEplAngleSquared {
		return r2.Point{}, false
	}

	l := math.Sqrt(eplLenSq)
	return r2.Point{X: epl.X / l, Y: epl.Y / l}, true
}
