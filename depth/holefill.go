package depth

import (
	"github.com/pkg/errors"

	"go.viam.com/depthmap/depth/internal/rowpool"
)

// integralBuffer is a two-pass summed-area table over a grid's validity
// counters, letting HoleFiller answer "how much validity mass sits in this
// box" in constant time instead of rescanning a 5x5 window per hole,
// grounded on buildRegIntegralBuffer.
type integralBuffer struct {
	width, height int
	sum           []int64
}

func newIntegralBuffer(width, height int) *integralBuffer {
	return &integralBuffer{width: width, height: height, sum: make([]int64, (width+1)*(height+1))}
}

func (b *integralBuffer) at(x, y int) int64 { return b.sum[y*(b.width+1)+x] }
func (b *integralBuffer) set(x, y int, v int64) { b.sum[y*(b.width+1)+x] = v }

// build fills the summed-area table from grid's validity counters. Phase one
// (per-row running sums) is embarrassingly parallel; phase two (accumulating
// those row sums downward) has a strict top-to-bottom dependency and runs
// serially, matching the reference filter's two-pass integral construction.
func (b *integralBuffer) build(grid *Grid) error {
	w, h := grid.Width(), grid.Height()
	if b.width != w || b.height != h {
		return errors.New("integral buffer: size does not match grid")
	}

	rowSum := make([][]int64, h)
	err := rowpool.Dispatch(0, h, 10, func(yMin, yMax int) {
		for y := yMin; y < yMax; y++ {
			row := make([]int64, w+1)
			running := int64(0)
			for x := 0; x < w; x++ {
				hyp := grid.At(x, y)
				if hyp.Valid {
					running += int64(hyp.ValidityCounter)
				}
				row[x+1] = running
			}
			rowSum[y] = row
		}
	})
	if err != nil {
		return err
	}

	for x := 0; x <= w; x++ {
		b.set(x, 0, 0)
	}
	for y := 0; y < h; y++ {
		for x := 0; x <= w; x++ {
			b.set(x, y+1, b.at(x, y)+rowSum[y][x])
		}
	}
	return nil
}

// box returns the sum of validity counters within [x0,x1) x [y0,y1),
// clamped to the buffer's bounds.
func (b *integralBuffer) box(x0, y0, x1, y1 int) int64 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > b.width {
		x1 = b.width
	}
	if y1 > b.height {
		y1 = b.height
	}
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	return b.at(x1, y1) - b.at(x0, y1) - b.at(x1, y0) + b.at(x0, y0)
}

// HoleFiller fills small invalid gaps in a depth grid using a validity-mass
// integral image instead of a per-pixel 5x5 rescan, grounded on
// regularizeDepthMapFillHoles/regularizeDepthMapFillHolesRow.
type HoleFiller struct {
	cfg Config
}

// NewHoleFiller builds a HoleFiller bound to cfg.
func NewHoleFiller(cfg Config) *HoleFiller {
	return &HoleFiller{cfg: cfg}
}

// Fill writes into dst any invalid pixel of src whose 5x5 neighborhood
// carries enough accumulated validity mass and whose keyframe gradient is
// strong enough to trust, leaving already-valid pixels and unsupported holes
// copied through unchanged (including their blacklist state, which the next
// fill pass needs).
func (f *HoleFiller) Fill(kf *Keyframe, src, dst *Grid) error {
	if src.Width() != dst.Width() || src.Height() != dst.Height() {
		return errors.New("hole fill: src and dst grid dimensions differ")
	}
	if kf.Intrinsics.Width != src.Width() || kf.Intrinsics.Height != src.Height() {
		return errors.New("hole fill: keyframe dimensions do not match grid")
	}
	cfg := f.cfg
	w, h := src.Width(), src.Height()

	buf := newIntegralBuffer(w, h)
	if err := buf.build(src); err != nil {
		return err
	}

	return rowpool.Dispatch(0, h, cfg.RowStripHeight, func(yMin, yMax int) {
		for y := yMin; y < yMax; y++ {
			for x := 0; x < w; x++ {
				hyp := src.At(x, y)
				if hyp.Valid {
					dst.Set(x, y, hyp)
					continue
				}

				if kf.Gradients.At(x, y).magnitude() < cfg.MinAbsGradCreate {
					dst.Set(x, y, hyp)
					continue
				}

				mass := buf.box(x-2, y-2, x+3, y+3)
				canCreate := hyp.Blacklisted >= int(cfg.MinBlacklist) && mass > int64(cfg.ValSumMinForCreate)
				canUnblacklist := mass > int64(cfg.ValSumMinForUnblacklist)
				if !canCreate && !canUnblacklist {
					dst.Set(x, y, hyp)
					continue
				}

				dst.Set(x, y, f.fillFromNeighborhood(src, x, y))
			}
		}
	})
}

func (f *HoleFiller) fillFromNeighborhood(src *Grid, x, y int) PixelHypothesis {
	sumIdepth, sumWeight := 0.0, 0.0
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
			weight := 1.0 / n.IdepthVar
			sumIdepth += n.Idepth * weight
			sumWeight += weight
		}
	}
	if sumWeight <= 0 {
		return PixelHypothesis{}
	}
	idepth := unzero(sumIdepth / sumWeight)
	return newHypothesis(idepth, f.cfg.VarRandomInitInitial, 0)
}
