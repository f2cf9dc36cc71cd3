package depth

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"go.viam.com/depthmap/depth/internal/rowpool"
)

// Observer drives the per-pixel create/update decisions that keep a depth
// map's current grid in sync with a new reference frame, grounded on
// observeDepthRow/observeDepthCreate/observeDepthUpdate.
type Observer struct {
	cfg    Config
	search *EpipolarSearch
}

// NewObserver builds an Observer bound to cfg.
func NewObserver(cfg Config) *Observer {
	return &Observer{cfg: cfg, search: NewEpipolarSearch(cfg)}
}

// Observe walks every row of grid against ref, creating hypotheses where
// gradient supports it and none exists, updating existing ones via EKF
// fusion, and blacklisting or invalidating on repeated failure. Rows are
// dispatched across the row-strip pool; a given row only ever touches its own
// cells, so no cross-strip synchronization is required.
func (o *Observer) Observe(kf *Keyframe, grid *Grid, ref *ReferenceFrame) error {
	if err := kf.Intrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "observe")
	}
	w, h := grid.Width(), grid.Height()
	const border = 3

	return rowpool.Dispatch(border, h-border, o.cfg.RowStripHeight, func(yMin, yMax int) {
		for y := yMin; y < yMax; y++ {
			for x := border; x < w-border; x++ {
				o.observePixel(kf, grid, ref, x, y)
			}
		}
	})
}

func (o *Observer) observePixel(kf *Keyframe, grid *Grid, ref *ReferenceFrame, x, y int) {
	idx := y*grid.Width() + x
	h := grid.AtIndex(idx)

	if ref.TrackingParentIsActiveKeyframe && ref.TrackingQuality != nil && !ref.TrackingQuality.IsGood(x, y) {
		return
	}

	if !h.Valid {
		o.observeCreate(kf, grid, ref, x, y, idx, h)
		return
	}

	if ref.ID < h.NextStereoFrameMinID {
		return
	}

	o.observeUpdate(kf, grid, ref, x, y, idx, h)
}

// observeCreate attempts to seed a new hypothesis at an invalid, sufficiently
// high-gradient pixel via a wide-open stereo search, grounded on
// observeDepthCreate.
func (o *Observer) observeCreate(kf *Keyframe, grid *Grid, ref *ReferenceFrame, x, y, idx int, prior PixelHypothesis) {
	cfg := o.cfg
	if prior.Blacklisted < int(cfg.MinBlacklist) {
		return
	}

	grad := kf.Gradients.At(x, y)
	if grad.magnitude() < cfg.MinAbsGradCreate {
		return
	}

	res := o.search.DoLineStereo(kf, image2i{X: x, Y: y}, 0, 1, 1/cfg.MinDepth, ref)
	if !res.Success() {
		switch StereoOutcome(res.Error) {
		case OutcomeAmbiguous, OutcomeBigError:
			prior.Blacklisted--
			grid.SetIndex(idx, prior)
		}
		return
	}
	if res.Var > cfg.MaxVar {
		return
	}

	newHyp := newHypothesis(res.Idepth, res.Var, int(cfg.ValidityCounterInitialObserve))
	grid.SetIndex(idx, newHyp)
}

// observeUpdate refreshes an existing hypothesis at (x, y), fusing a fresh
// stereo estimate via EKF-style variance-weighted averaging, grounded on
// observeDepthUpdate. The fusion never increases the posterior variance
// beyond the smaller of the two inputs.
func (o *Observer) observeUpdate(kf *Keyframe, grid *Grid, ref *ReferenceFrame, x, y, idx int, h PixelHypothesis) {
	cfg := o.cfg
	grad := kf.Gradients.At(x, y)
	if grad.magnitude() < cfg.MinAbsGradDecrease {
		h.Valid = false
		grid.SetIndex(idx, h)
		return
	}

	sigma := math.Sqrt(h.IdepthVarSmoothed)
	minIdepth := h.IdepthSmoothed - cfg.StereoEplVarFac*sigma
	maxIdepth := h.IdepthSmoothed + cfg.StereoEplVarFac*sigma
	if minIdepth < cfg.MinDepth {
		minIdepth = cfg.MinDepth
	}
	if maxIdepth > 1/cfg.MinDepth {
		maxIdepth = 1 / cfg.MinDepth
	}

	res := o.search.DoLineStereo(kf, image2i{X: x, Y: y}, minIdepth, h.IdepthSmoothed, maxIdepth, ref)
	if !res.Success() {
		if StereoOutcome(res.Error) == OutcomeAmbiguous {
			h.ValidityCounter -= int(cfg.ValidityCounterDec)
			h.NextStereoFrameMinID = 0
			h.IdepthVar *= cfg.FailVarIncFac
			if h.IdepthVar > cfg.MaxVar {
				h.Valid = false
				h.Blacklisted--
			}
			grid.SetIndex(idx, h)
		}
		return
	}

	// Inconsistency gate: reject a fresh estimate too far from the smoothed
	// prior relative to their combined uncertainty, rather than fusing it in.
	diff := res.Idepth - h.IdepthSmoothed
	if cfg.DiffFacObserve*diff*diff > res.Var+h.IdepthVarSmoothed {
		h.IdepthVar *= cfg.FailVarIncFac
		if h.IdepthVar > cfg.MaxVar {
			h.Valid = false
		}
		grid.SetIndex(idx, h)
		return
	}

	// EKF fusion: predict the prior forward by SuccVarIncFac before weighting
	// it against the new observation, so uncertainty never silently stalls.
	idVarPredicted := h.IdepthVar * cfg.SuccVarIncFac
	w := res.Var / (res.Var + idVarPredicted)

	fusedIdepth := w*h.Idepth + (1-w)*res.Idepth
	fusedVar := idVarPredicted * w
	if fusedVar > h.IdepthVar {
		fusedVar = h.IdepthVar
	}
	if fusedVar > cfg.MaxVar {
		fusedVar = cfg.MaxVar
	}

	h.Idepth = unzero(fusedIdepth)
	h.IdepthVar = fusedVar
	h.ValidityCounter += int(cfg.ValidityCounterInc)
	h.ValidityCounter = clampValidityCounter(cfg, h.ValidityCounter, grad.magnitude())

	// Only a short epipolar line (weak baseline for this pixel) throttles the
	// next stereo attempt; a well-conditioned line is retried every frame.
	if res.EplLength < cfg.MinEplLengthCrop {
		increment := kf.NumFramesTrackedOnThis / (kf.NumMappedOnThis + 5)
		if increment < 3 {
			increment = 3
		}
		if res.EplLength < cfg.MinEplLengthCrop/2 {
			increment *= 3
		}
		skip := ref.ID + increment
		if int(res.EplLength*10000)%2 == 0 {
			skip++
		}
		h.NextStereoFrameMinID = skip
	}

	grid.SetIndex(idx, h)
}

// InitFromRandom seeds every pixel with a random idepth, gated on gradient,
// grounded on initializeRandomly.
func InitFromRandom(cfg Config, kf *Keyframe, grid *Grid, rng *rand.Rand) {
	w, h := grid.Width(), grid.Height()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := kf.Gradients.At(x, y)
			if g.magnitude() < cfg.MinAbsGradCreate {
				grid.Invalidate(x, y)
				continue
			}
			idepth := 0.5 + 1.0*rng.Float64()
			grid.Set(x, y, newHypothesis(idepth, cfg.VarRandomInitInitial, int(cfg.ValidityCounterInitialInit)))
		}
	}
}

// InitFromGT seeds the grid from a keyframe's supplied ground-truth idepth
// array, invalidating pixels where no ground truth is available, grounded on
// initializeFromGTDepth.
func InitFromGT(cfg Config, kf *Keyframe, grid *Grid) error {
	if kf.SeedIdepth == nil {
		return errors.New("init from gt: keyframe has no seed idepth array")
	}
	w, h := grid.Width(), grid.Height()
	if len(kf.SeedIdepth) != w*h {
		return errors.Errorf("init from gt: seed array length %d does not match grid %dx%d", len(kf.SeedIdepth), w, h)
	}
	for i, id := range kf.SeedIdepth {
		if id <= 0 || math.IsNaN(id) {
			grid.SetIndex(i, PixelHypothesis{})
			continue
		}
		grid.SetIndex(i, newHypothesis(id, cfg.VarGtInitInitial, int(cfg.ValidityCounterInitialInit)))
	}
	return nil
}

// InitFromExisting restores a grid from a previously-finalized keyframe's
// stored per-pixel arrays, preserving blacklist state, grounded on
// setFromExistingKF.
func InitFromExisting(cfg Config, kf *Keyframe, grid *Grid) error {
	w, h := grid.Width(), grid.Height()
	n := w * h
	if len(kf.ReactivateIdepth) != n || len(kf.ReactivateVar) != n || len(kf.ReactivateValidity) != n {
		return errors.New("init from existing: reactivation arrays do not match grid dimensions")
	}
	for i := 0; i < n; i++ {
		v := kf.ReactivateVar[i]
		if v < 0 {
			blacklisted := 0
			if v == -2 {
				// The -2 sentinel marks a pixel blacklisted for good; never let
				// it satisfy Blacklisted >= MinBlacklist again.
				blacklisted = cfg.MinBlacklist - 1
			}
			grid.SetIndex(i, PixelHypothesis{Valid: false, Blacklisted: blacklisted})
			continue
		}
		grid.SetIndex(i, PixelHypothesis{
			Valid:             true,
			Idepth:            kf.ReactivateIdepth[i],
			IdepthVar:         v,
			IdepthSmoothed:    kf.ReactivateIdepth[i],
			IdepthVarSmoothed: v,
			ValidityCounter:   kf.ReactivateValidity[i],
		})
	}
	return nil
}
