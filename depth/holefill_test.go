package depth

import (
	"testing"

	"go.viam.com/test"
)

func TestIntegralBufferBoxSum(t *testing.T) {
	g := NewGrid(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			g.Set(x, y, newHypothesis(1.0, 0.02, 3))
		}
	}
	buf := newIntegralBuffer(4, 4)
	err := buf.build(g)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.box(0, 0, 4, 4), test.ShouldEqual, int64(16*3))
	test.That(t, buf.box(1, 1, 3, 3), test.ShouldEqual, int64(4*3))
	test.That(t, buf.box(-2, -2, 100, 100), test.ShouldEqual, int64(16*3))
}

func testHoleFillKeyframe(w, h int) *Keyframe {
	in := Intrinsics{Width: w, Height: h, Fx: 100, Fy: 100, Cx: float64(w) / 2, Cy: float64(h) / 2}
	img := NewImageF32(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 50*float64(x))
		}
	}
	return &Keyframe{ID: 1, Intrinsics: in, Image: img, Gradients: GradientsFromImage(img)}
}

func TestHoleFillerFillsSupportedHole(t *testing.T) {
	cfg := DefaultConfig()
	kf := testHoleFillKeyframe(9, 9)
	src := NewGrid(9, 9)
	for y := 0; y < 9; y++ {
		for x := 0; x < 9; x++ {
			if x == 4 && y == 4 {
				continue
			}
			src.Set(x, y, newHypothesis(1.0, 0.01, int(cfg.ValidityCounterMax)))
		}
	}

	dst := NewGrid(9, 9)
	hf := NewHoleFiller(cfg)
	err := hf.Fill(kf, src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.At(4, 4).Valid, test.ShouldBeTrue)
	test.That(t, dst.At(4, 4).Idepth, test.ShouldAlmostEqual, 1.0, 1e-6)
}

func TestHoleFillerLeavesUnsupportedHole(t *testing.T) {
	cfg := DefaultConfig()
	kf := testHoleFillKeyframe(9, 9)
	src := NewGrid(9, 9)
	src.Set(4, 4, PixelHypothesis{}) // everything invalid.
	dst := NewGrid(9, 9)
	hf := NewHoleFiller(cfg)
	err := hf.Fill(kf, src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.At(4, 4).Valid, test.ShouldBeFalse)
}
