package depth

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPropagateWarpsForwardAndRescales(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 32, Height: 32, Fx: 100, Fy: 100, Cx: 16, Cy: 16}

	src := NewGrid(in.Width, in.Height)
	for y := 8; y < 24; y++ {
		for x := 8; x < 24; x++ {
			src.Set(x, y, newHypothesis(1.0, 0.02, 5))
		}
	}

	newKF := &Keyframe{ID: 2, Intrinsics: in}
	promo := &Promotion{
		NewKeyframe: newKF,
		OldToNewR:   identity3x3(),
		OldToNewT:   r3.Vector{X: 0, Y: 0, Z: 0.1},
	}

	oldKF := &Keyframe{ID: 1, Intrinsics: in}
	dst := NewGrid(in.Width, in.Height)
	p := NewPropagator(cfg)
	err := p.Propagate(oldKF, src, promo, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.CountValid(), test.ShouldBeGreaterThan, 0)

	scale := rescale(dst)
	test.That(t, scale, test.ShouldBeGreaterThan, 0)

	sum := 0.0
	n := 0
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			h := dst.At(x, y)
			if h.Valid {
				sum += h.Idepth
				n++
			}
		}
	}
	test.That(t, sum/float64(n), test.ShouldAlmostEqual, 1.0, 1e-6)
}

func TestPropagateRejectsMismatchedDst(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 32, Height: 32, Fx: 100, Fy: 100, Cx: 16, Cy: 16}
	src := NewGrid(in.Width, in.Height)
	oldKF := &Keyframe{ID: 1, Intrinsics: in}
	newKF := &Keyframe{ID: 2, Intrinsics: in}
	promo := &Promotion{NewKeyframe: newKF, OldToNewR: identity3x3(), OldToNewT: r3.Vector{}}

	dst := NewGrid(4, 4)
	p := NewPropagator(cfg)
	err := p.Propagate(oldKF, src, promo, dst)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRescaleNoOpOnEmptyGrid(t *testing.T) {
	g := NewGrid(4, 4)
	scale := rescale(g)
	test.That(t, scale, test.ShouldEqual, 1.0)
	test.That(t, g.CountValid(), test.ShouldEqual, 0)
}
