package depth

import (
	"github.com/pkg/errors"

	"go.viam.com/depthmap/depth/internal/rowpool"
)

// Regularizer smooths a depth grid by averaging each valid pixel against its
// 5x5 neighborhood, optionally rejecting neighbors that look occluded,
// grounded on regularizeDepthMapRow<removeOcclusions>. The bool that was a
// template parameter in the reference filter is an ordinary argument here:
// nothing about this package needs compile-time specialization for it.
type Regularizer struct {
	cfg Config
}

// NewRegularizer builds a Regularizer bound to cfg.
func NewRegularizer(cfg Config) *Regularizer {
	return &Regularizer{cfg: cfg}
}

// Regularize reads src and writes the smoothed result into dst, which must
// share src's dimensions and is fully overwritten. Rows are independent, so
// this dispatches across the row-strip pool.
func (r *Regularizer) Regularize(src, dst *Grid, removeOcclusions bool) error {
	if src.Width() != dst.Width() || src.Height() != dst.Height() {
		return errors.New("regularize: src and dst grid dimensions differ")
	}
	cfg := r.cfg
	w, h := src.Width(), src.Height()

	return rowpool.Dispatch(0, h, cfg.RowStripHeight, func(yMin, yMax int) {
		for y := yMin; y < yMax; y++ {
			for x := 0; x < w; x++ {
				dst.Set(x, y, r.regularizePixel(src, x, y, removeOcclusions))
			}
		}
	})
}

// regularizePixel only ever smooths or invalidates an already-valid center;
// seeding a new hypothesis at an invalid pixel is HoleFiller's job, not the
// smoother's.
func (r *Regularizer) regularizePixel(src *Grid, x, y int, removeOcclusions bool) PixelHypothesis {
	cfg := r.cfg
	center := src.At(x, y)
	if !center.Valid {
		return PixelHypothesis{}
	}

	sumIdepth, sumWeight, sumValidity := 0.0, 0.0, 0
	numOccluding, numNotOccluding := 0, 0

	for dy := -2; dy <= 2; dy++ {
		ny := y + dy
		if ny < 0 || ny >= src.Height() {
			continue
		}
		for dx := -2; dx <= 2; dx++ {
			nx := x + dx
			if nx < 0 || nx >= src.Width() {
				continue
			}
			n := src.At(nx, ny)
			if !n.Valid {
				continue
			}

			diff := n.Idepth - center.Idepth
			if cfg.DiffFacSmoothing*diff*diff > n.IdepthVar+center.IdepthVar {
				if removeOcclusions && n.Idepth > center.Idepth {
					numOccluding++
				} else {
					numNotOccluding++
				}
				continue
			}
			numNotOccluding++

			weight := 1.0 / (n.IdepthVar + cfg.RegDistVar*float64(dx*dx+dy*dy))
			sumIdepth += n.Idepth * weight
			sumWeight += weight
			sumValidity += n.ValidityCounter
		}
	}

	if sumWeight <= 0 || (removeOcclusions && numOccluding > numNotOccluding) || sumValidity < cfg.ValSumMinForKeep {
		center.Valid = false
		center.Blacklisted--
		return center
	}

	center.IdepthSmoothed = unzero(sumIdepth / sumWeight)
	center.IdepthVarSmoothed = 1.0 / sumWeight
	return center
}
