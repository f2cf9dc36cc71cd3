package depth

import (
	"testing"

	"go.viam.com/test"
)

func TestRegularizeSmoothsTowardNeighbors(t *testing.T) {
	cfg := DefaultConfig()
	src := NewGrid(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			src.Set(x, y, newHypothesis(1.0, 0.01, int(cfg.ValidityCounterMax)))
		}
	}
	// a mild deviation, still within the inconsistency gate.
	src.Set(2, 2, newHypothesis(1.05, 0.01, int(cfg.ValidityCounterMax)))

	dst := NewGrid(5, 5)
	r := NewRegularizer(cfg)
	err := r.Regularize(src, dst, false)
	test.That(t, err, test.ShouldBeNil)

	center := dst.At(2, 2)
	test.That(t, center.Valid, test.ShouldBeTrue)
	test.That(t, center.IdepthSmoothed, test.ShouldBeLessThan, 1.05)
	test.That(t, center.IdepthSmoothed, test.ShouldBeGreaterThan, 1.0)
}

func TestRegularizeInvalidatesInconsistentOutlier(t *testing.T) {
	cfg := DefaultConfig()
	src := NewGrid(5, 5)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			src.Set(x, y, newHypothesis(1.0, 0.01, int(cfg.ValidityCounterMax)))
		}
	}
	// an outlier so far from its neighbors that every one of them fails the
	// inconsistency gate and is excluded from the weighted sum, leaving too
	// little validity support to keep the pixel.
	src.Set(2, 2, newHypothesis(5.0, 0.01, int(cfg.ValidityCounterMax)))

	dst := NewGrid(5, 5)
	r := NewRegularizer(cfg)
	err := r.Regularize(src, dst, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.At(2, 2).Valid, test.ShouldBeFalse)
}

func TestRegularizeInvalidatesIsolatedPixel(t *testing.T) {
	cfg := DefaultConfig()
	src := NewGrid(9, 9)
	src.Set(4, 4, newHypothesis(1.0, 0.01, 1))

	dst := NewGrid(9, 9)
	r := NewRegularizer(cfg)
	err := r.Regularize(src, dst, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dst.At(4, 4).Valid, test.ShouldBeFalse)
}

func TestRegularizeRejectsMismatchedDims(t *testing.T) {
	cfg := DefaultConfig()
	src := NewGrid(4, 4)
	dst := NewGrid(3, 3)
	r := NewRegularizer(cfg)
	err := r.Regularize(src, dst, false)
	test.That(t, err, test.ShouldNotBeNil)
}
