package depth

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func identity3x3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func rampKeyframe(width, height int, in Intrinsics) *Keyframe {
	img := NewImageF32(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, 50*float64(x))
		}
	}
	return &Keyframe{ID: 1, Intrinsics: in, Image: img, Gradients: GradientsFromImage(img)}
}

func testRefFrame(width, height int, kfImage *ImageF32, in Intrinsics, baseline, forward float64) *ReferenceFrame {
	r := identity3x3()
	t := r3.Vector{X: baseline, Y: 0, Z: forward}
	kr := mat.NewDense(3, 3, nil)
	kr.Mul(in.Matrix(), r)
	kt := mulMat3Vec(in.Matrix(), t)
	return &ReferenceFrame{ID: 2, Image: kfImage, R: r, T: t, KR: kr, KT: kt}
}

func TestDoLineStereoEPLGateOnFlatGradient(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 320, Height: 240, Fx: 400, Fy: 400, Cx: 160, Cy: 120}

	flat := NewImageF32(in.Width, in.Height)
	kf := &Keyframe{ID: 1, Intrinsics: in, Image: flat, Gradients: GradientsFromImage(flat)}
	ref := testRefFrame(in.Width, in.Height, flat, in, 0.05, 0.02)

	es := NewEpipolarSearch(cfg)
	res := es.DoLineStereo(kf, image2i{X: 160, Y: 120}, 0.5, 1.0, 2.0, ref)
	test.That(t, res.Success(), test.ShouldBeFalse)
	test.That(t, res.Error, test.ShouldEqual, float64(OutcomeEPLGate))
}

func TestDoLineStereoDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 320, Height: 240, Fx: 400, Fy: 400, Cx: 160, Cy: 120}
	kf := rampKeyframe(in.Width, in.Height, in)
	ref := testRefFrame(in.Width, in.Height, kf.Image, in, 0.05, 0.02)

	es := NewEpipolarSearch(cfg)
	p := image2i{X: 160, Y: 120}
	r1 := es.DoLineStereo(kf, p, 0.5, 1.0, 2.0, ref)
	r2 := es.DoLineStereo(kf, p, 0.5, 1.0, 2.0, ref)
	test.That(t, r1, test.ShouldResemble, r2)
}

func TestDoLineStereoRejectsInvertedBracket(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 320, Height: 240, Fx: 400, Fy: 400, Cx: 160, Cy: 120}
	kf := rampKeyframe(in.Width, in.Height, in)
	ref := testRefFrame(in.Width, in.Height, kf.Image, in, 0.05, 0.02)

	es := NewEpipolarSearch(cfg)
	res := es.DoLineStereo(kf, image2i{X: 160, Y: 120}, 2.0, 1.0, 0.5, ref)
	test.That(t, res.Success(), test.ShouldBeFalse)
}

func TestDoLineStereoRejectsNearBorder(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 320, Height: 240, Fx: 400, Fy: 400, Cx: 160, Cy: 120}
	kf := rampKeyframe(in.Width, in.Height, in)
	ref := testRefFrame(in.Width, in.Height, kf.Image, in, 0.05, 0.02)

	es := NewEpipolarSearch(cfg)
	res := es.DoLineStereo(kf, image2i{X: 2, Y: 2}, 0.5, 1.0, 2.0, ref)
	test.That(t, res.Success(), test.ShouldBeFalse)
}
