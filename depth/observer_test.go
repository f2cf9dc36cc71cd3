package depth

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestInitFromRandomGatesOnGradient(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 32, Height: 32, Fx: 100, Fy: 100, Cx: 16, Cy: 16}
	img := NewImageF32(in.Width, in.Height)
	// left half flat (no gradient), right half a strong ramp.
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			if x >= in.Width/2 {
				img.Set(x, y, 100*float64(x))
			}
		}
	}
	kf := &Keyframe{ID: 1, Intrinsics: in, Image: img, Gradients: GradientsFromImage(img)}
	grid := NewGrid(in.Width, in.Height)

	InitFromRandom(cfg, kf, grid, rand.New(rand.NewSource(1)))

	test.That(t, grid.At(2, 16).Valid, test.ShouldBeFalse)
	test.That(t, grid.At(in.Width-4, 16).Valid, test.ShouldBeTrue)
}

func TestInitFromGTRejectsMismatchedLength(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 4, Height: 4, Fx: 100, Fy: 100, Cx: 2, Cy: 2}
	kf := &Keyframe{ID: 1, Intrinsics: in, SeedIdepth: []float64{1, 2, 3}}
	grid := NewGrid(in.Width, in.Height)
	err := InitFromGT(cfg, kf, grid)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestInitFromGTSeedsValidPixels(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 2, Height: 2, Fx: 100, Fy: 100, Cx: 1, Cy: 1}
	seed := []float64{1.0, 0, 2.0, -1}
	kf := &Keyframe{ID: 1, Intrinsics: in, SeedIdepth: seed}
	grid := NewGrid(in.Width, in.Height)

	err := InitFromGT(cfg, kf, grid)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.At(0, 0).Valid, test.ShouldBeTrue)
	test.That(t, grid.At(1, 0).Valid, test.ShouldBeFalse)
	test.That(t, grid.At(0, 1).Valid, test.ShouldBeTrue)
	test.That(t, grid.At(1, 1).Valid, test.ShouldBeFalse)
}

func TestInitFromExistingRestoresBlacklist(t *testing.T) {
	in := Intrinsics{Width: 2, Height: 1, Fx: 100, Fy: 100, Cx: 1, Cy: 0}
	kf := &Keyframe{
		ID:                 1,
		Intrinsics:         in,
		ReactivateIdepth:   []float64{1.0, 0},
		ReactivateVar:      []float64{0.02, -2},
		ReactivateValidity: []int{5, 0},
	}
	cfg := DefaultConfig()
	grid := NewGrid(in.Width, in.Height)
	err := InitFromExisting(cfg, kf, grid)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grid.At(0, 0).Valid, test.ShouldBeTrue)
	test.That(t, grid.At(1, 0).Valid, test.ShouldBeFalse)
	test.That(t, grid.At(1, 0).Blacklisted, test.ShouldEqual, cfg.MinBlacklist-1)
	test.That(t, grid.At(1, 0).Blacklisted < cfg.MinBlacklist, test.ShouldBeTrue)
}

func TestObserveUpdateInvalidatesOnWeakGradient(t *testing.T) {
	cfg := DefaultConfig()
	in := Intrinsics{Width: 64, Height: 64, Fx: 200, Fy: 200, Cx: 32, Cy: 32}
	flatImg := NewImageF32(in.Width, in.Height)
	kf := &Keyframe{ID: 1, Intrinsics: in, Image: flatImg, Gradients: GradientsFromImage(flatImg)}
	ref := &ReferenceFrame{ID: 2, Image: flatImg, R: identity3x3(), T: r3.Vector{X: 0.05, Y: 0, Z: 0.02},
		KR: identity3x3(), KT: r3.Vector{X: 0.05 * in.Fx, Y: 0, Z: 0.02}, TrackingParentIsActiveKeyframe: true}

	grid := NewGrid(in.Width, in.Height)
	prior := newHypothesis(1.0, 0.01, int(cfg.ValidityCounterInitialObserve))
	grid.Set(32, 32, prior)

	o := NewObserver(cfg)
	err := o.Observe(kf, grid, ref)
	test.That(t, err, test.ShouldBeNil)

	after := grid.At(32, 32)
	test.That(t, after.Valid, test.ShouldBeFalse)
}
