package depth

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testIntrinsics() Intrinsics {
	return Intrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Cx: 320, Cy: 240}
}

func TestIntrinsicsCheckValid(t *testing.T) {
	in := testIntrinsics()
	test.That(t, in.CheckValid(), test.ShouldBeNil)

	bad := in
	bad.Fx = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)

	bad2 := in
	bad2.Width = 0
	test.That(t, bad2.CheckValid(), test.ShouldNotBeNil)
}

func TestKinvPRoundTrip(t *testing.T) {
	in := testIntrinsics()
	inv := in.Inverse()
	ray := kinvP(inv, in.Cx, in.Cy)
	test.That(t, ray.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, ray.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, ray.Z, test.ShouldEqual, 1.0)

	p := project(in, ray)
	test.That(t, p.X, test.ShouldAlmostEqual, in.Cx, 1e-9)
	test.That(t, p.Y, test.ShouldAlmostEqual, in.Cy, 1e-9)
}

func TestBilinearAtGridPoint(t *testing.T) {
	img := NewImageF32(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, float64(x+y))
		}
	}
	test.That(t, img.Bilinear(1, 1), test.ShouldAlmostEqual, 2.0, 1e-9)
	test.That(t, img.Bilinear(1.5, 1.5), test.ShouldAlmostEqual, 3.0, 1e-9)
}

func TestEpipolarDirectionGatesShortEpl(t *testing.T) {
	cfg := DefaultConfig()
	in := testIntrinsics()
	grad := Gradient{Gx: 10, Gy: 0}
	_, ok := epipolarDirection(cfg, in, grad, 320, 240, r3.Vector{X: 0, Y: 0, Z: 1})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestEpipolarDirectionAcceptsAlignedGradient(t *testing.T) {
	cfg := DefaultConfig()
	in := testIntrinsics()
	grad := Gradient{Gx: 50, Gy: 0}
	dir, ok := epipolarDirection(cfg, in, grad, 100, 240, r3.Vector{X: 0.5, Y: 0, Z: 1})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, math.Abs(dir.X*dir.X+dir.Y*dir.Y-1), test.ShouldBeLessThan, 1e-6)
}
