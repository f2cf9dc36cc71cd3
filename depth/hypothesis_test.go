package depth

import (
	"testing"

	"go.viam.com/test"
)

func TestNewHypothesis(t *testing.T) {
	h := newHypothesis(0.4, 0.01, 5)
	test.That(t, h.Valid, test.ShouldBeTrue)
	test.That(t, h.Idepth, test.ShouldEqual, 0.4)
	test.That(t, h.IdepthSmoothed, test.ShouldEqual, 0.4)
	test.That(t, h.IdepthVar, test.ShouldEqual, 0.01)
	test.That(t, h.IdepthVarSmoothed, test.ShouldEqual, 0.01)
	test.That(t, h.ValidityCounter, test.ShouldEqual, 5)
}

func TestNewHypothesisUnzerosIdepth(t *testing.T) {
	h := newHypothesis(0, 0.01, 5)
	test.That(t, h.Idepth, test.ShouldNotEqual, 0)
	test.That(t, h.Idepth, test.ShouldBeGreaterThan, 0)
}

func TestUnzero(t *testing.T) {
	test.That(t, unzero(0), test.ShouldBeGreaterThan, 0)
	test.That(t, unzero(-0), test.ShouldBeGreaterThan, 0)
	test.That(t, unzero(1.0), test.ShouldEqual, 1.0)
	test.That(t, unzero(-1.0), test.ShouldEqual, -1.0)
	test.That(t, unzero(-1e-12), test.ShouldBeLessThan, 0)
}

func TestClampValidityCounter(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, clampValidityCounter(cfg, -3, 0), test.ShouldEqual, 0)
	test.That(t, clampValidityCounter(cfg, 1000, 0), test.ShouldEqual, int(cfg.ValidityCounterMax))
	highGradCeil := clampValidityCounter(cfg, 1000, 255)
	test.That(t, highGradCeil, test.ShouldBeGreaterThan, int(cfg.ValidityCounterMax))
}
