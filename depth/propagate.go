package depth

import (
	"math"

	"github.com/pkg/errors"
)

// Propagator forward-warps a depth map from the outgoing active keyframe onto
// a newly-promoted one, grounded on propagateDepth. Unlike Observer and
// Regularizer it runs single-threaded: two source pixels can warp to the same
// destination cell, and resolving that collision requires seeing both writes
// in one place rather than partitioning by row.
type Propagator struct {
	cfg Config
}

// NewPropagator builds a Propagator bound to cfg.
func NewPropagator(cfg Config) *Propagator {
	return &Propagator{cfg: cfg}
}

// Propagate warps src (oldKeyframe's grid) onto dst (a freshly allocated grid
// sized to promo's new keyframe), resolving destination collisions either by
// a variance-weighted merge or by asymmetric occlusion arbitration. dst must
// start zeroed (all invalid). Rescaling is the caller's job (DepthMap.Promote
// runs it only after regularize and hole-fill have also seen dst), so this
// leaves dst's idepth scale exactly as warped.
func (p *Propagator) Propagate(oldKeyframe *Keyframe, src *Grid, promo *Promotion, dst *Grid) error {
	cfg := p.cfg
	newIn := promo.NewKeyframe.Intrinsics
	if err := newIn.CheckValid(); err != nil {
		return errors.Wrap(err, "propagate")
	}
	if dst.Width() != newIn.Width || dst.Height() != newIn.Height {
		return errors.Errorf("propagate: dst grid %dx%d does not match new keyframe intrinsics %dx%d",
			dst.Width(), dst.Height(), newIn.Width, newIn.Height)
	}

	oldInv := oldKeyframe.Intrinsics.Inverse()
	w, h := src.Width(), src.Height()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			hyp := src.AtIndex(idx)
			if !hyp.Valid || hyp.IdepthSmoothed <= 0 {
				continue
			}
			trackingAvailable := promo.TrackingQuality != nil && promo.TrackingParentIsActiveKeyframe
			if trackingAvailable && !promo.TrackingQuality.IsGood(x, y) {
				continue
			}

			ray := kinvP(oldInv, float64(x), float64(y))
			pOld := scaleVec(ray, 1/hyp.IdepthSmoothed)
			pNew := addVec(mulMat3Vec(promo.OldToNewR, pOld), promo.OldToNewT)
			if pNew.Z <= 0 {
				continue
			}
			newIdepth := 1 / pNew.Z
			dst2 := project(newIn, pNew)
			if dst2.X < 2.1 || dst2.Y < 2.1 || dst2.X > float64(newIn.Width)-3.1 || dst2.Y > float64(newIn.Height)-3.1 {
				continue
			}
			nx, ny := int(math.Round(dst2.X)), int(math.Round(dst2.Y))

			destGrad := 0.0
			if promo.NewKeyframe.Gradients != nil {
				destGrad = promo.NewKeyframe.Gradients.At(nx, ny).magnitude()
				if destGrad < cfg.MinAbsGradCreate {
					continue
				}
			}
			// The tracking-quality mask already vetted the source pixel above;
			// only fall back to a photometric check when no usable mask was
			// available (none supplied, or the tracking parent is not the old
			// active keyframe).
			if !trackingAvailable && oldKeyframe.Image != nil && promo.NewKeyframe.Image != nil {
				residual := oldKeyframe.Image.At(x, y) - promo.NewKeyframe.Image.At(nx, ny)
				if residual*residual > cfg.MaxDiffConstant+cfg.MaxDiffGradMult*destGrad*destGrad {
					continue
				}
			}

			idepthRatio := newIdepth / hyp.IdepthSmoothed
			newVar := idepthRatio * idepthRatio * idepthRatio * idepthRatio * hyp.IdepthVar
			if newVar > cfg.MaxVar {
				continue
			}

			target := dst.At(nx, ny)
			if target.Valid {
				diff := newIdepth - target.Idepth
				if cfg.DiffFacPropMerge*diff*diff < target.IdepthVar+newVar {
					// Consistent merge: the two hypotheses agree within their
					// combined uncertainty, so fuse rather than arbitrate.
					mw := newVar / (target.IdepthVar + newVar)
					merged := target
					merged.Idepth = unzero(mw*target.Idepth + (1-mw)*newIdepth)
					merged.IdepthVar = 1.0 / (1.0/target.IdepthVar + 1.0/newVar)
					merged.IdepthSmoothed = merged.Idepth
					merged.IdepthVarSmoothed = merged.IdepthVar
					merged.ValidityCounter = clampValidityCounter(cfg, target.ValidityCounter+hyp.ValidityCounter, destGrad)
					dst.Set(nx, ny, merged)
					continue
				}

				// Occlusion arbitration is intentionally asymmetric: a
				// closer arriving surface (smaller idepth means farther, so
				// "closer" is larger idepth) evicts the existing entry and
				// takes its place, while a farther arrival is dropped and
				// the existing entry is kept. See the design notes for why
				// this asymmetry is preserved rather than symmetrized.
				if newIdepth < target.Idepth {
					continue
				}
				dst.Invalidate(nx, ny)
			}

			warped := hyp
			warped.Idepth = newIdepth
			warped.IdepthVar = newVar
			warped.IdepthSmoothed = newIdepth
			warped.IdepthVarSmoothed = newVar
			dst.Set(nx, ny, warped)
		}
	}

	return nil
}

// rescale renormalizes g so the mean idepth across valid pixels is 1,
// matching the reference filter's post-propagation rescale step, and returns
// the scale factor it applied (1.0 for a no-op). A grid with no valid pixels,
// or whose accumulated idepth sum happens to land on zero, is left untouched:
// there is nothing to rescale against.
func rescale(g *Grid) float64 {
	sum := 0.0
	n := 0
	for i := 0; i < g.Width()*g.Height(); i++ {
		hyp := g.AtIndex(i)
		if hyp.Valid {
			sum += hyp.Idepth
			n++
		}
	}
	if n == 0 || sum == 0 {
		return 1.0
	}
	scale := float64(n) / sum
	scale2 := scale * scale
	for i := 0; i < g.Width()*g.Height(); i++ {
		hyp := g.AtIndex(i)
		if !hyp.Valid {
			continue
		}
		hyp.Idepth *= scale
		hyp.IdepthVar *= scale2
		hyp.IdepthSmoothed *= scale
		hyp.IdepthVarSmoothed *= scale2
		g.SetIndex(i, hyp)
	}
	return scale
}
