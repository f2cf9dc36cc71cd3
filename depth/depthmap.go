package depth

import (
	"math/rand"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// Stats holds exponentially-weighted moving averages of per-call timings, plus
// the valid-pixel fraction seen after the most recent observe pass, exposed
// for external monitoring. There's no ready-made metrics
// library in play here (this package doesn't depend on any wire-format
// metrics exporter); a couple of float64 fields updated in place is simpler
// than reaching for one.
type Stats struct {
	mu sync.Mutex

	observeMillis     float64
	regularizeMillis  float64
	propagateMillis   float64
	fillHolesMillis   float64
	lastValidFraction float64
}

const statsEWMAWeight = 0.1

func (s *Stats) recordObserve(millis float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observeMillis = ewma(s.observeMillis, millis)
}

func (s *Stats) recordRegularize(millis float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regularizeMillis = ewma(s.regularizeMillis, millis)
}

func (s *Stats) recordPropagate(millis float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propagateMillis = ewma(s.propagateMillis, millis)
}

func (s *Stats) recordFillHoles(millis float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillHolesMillis = ewma(s.fillHolesMillis, millis)
}

func (s *Stats) recordValidFraction(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastValidFraction = f
}

// Snapshot returns a copy of the current EWMA timings and the last valid
// fraction.
func (s *Stats) Snapshot() (observeMillis, regularizeMillis, propagateMillis, validFraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observeMillis, s.regularizeMillis, s.propagateMillis, s.lastValidFraction
}

// FillHolesMillis returns the current EWMA of the hole-fill pass duration,
// tracked separately since Snapshot's signature is part of the spec surface.
func (s *Stats) FillHolesMillis() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillHolesMillis
}

func ewma(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return prev*(1-statsEWMAWeight) + sample*statsEWMAWeight
}

// DepthMap is the semi-dense idepth field maintained for one active keyframe
// at a time. It owns the current and scratch grids, the active keyframe's
// scoped lock, and the components (Observer, Regularizer, HoleFiller,
// Propagator) that operate on them.
type DepthMap struct {
	cfg    Config
	logger golog.Logger

	mu     sync.Mutex
	active *Keyframe
	unlock func()

	current *Grid
	scratch *Grid

	observer    *Observer
	regularizer *Regularizer
	holeFiller  *HoleFiller
	propagator  *Propagator

	stats Stats
}

// New builds an empty DepthMap; call one of InitFromRandom/InitFromGT/
// InitFromExisting before Update/Promote can be used.
func New(cfg Config, logger golog.Logger) *DepthMap {
	if logger == nil {
		logger = golog.Global()
	}
	return &DepthMap{
		cfg:         cfg,
		logger:      logger,
		observer:    NewObserver(cfg),
		regularizer: NewRegularizer(cfg),
		holeFiller:  NewHoleFiller(cfg),
		propagator:  NewPropagator(cfg),
	}
}

// Config returns the tunables this map was constructed with.
func (d *DepthMap) Config() Config { return d.cfg }

// Stats returns the running EWMA timing/quality counters.
func (d *DepthMap) Stats() *Stats { return &d.stats }

// ActiveKeyframe returns the currently active keyframe, or nil if none.
func (d *DepthMap) ActiveKeyframe() *Keyframe {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Current returns the current grid. Callers must not mutate it directly;
// go through Update/Promote/Finalize instead.
func (d *DepthMap) Current() *Grid {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *DepthMap) setActive(kf *Keyframe, grid *Grid) {
	if d.unlock != nil {
		d.unlock()
		d.unlock = nil
	}
	if kf.Locker != nil {
		d.unlock = kf.Locker.LockActive()
	}
	d.active = kf
	d.current = grid
	d.scratch = NewGrid(grid.Width(), grid.Height())
}

// InitFromRandom activates kf with a randomly-seeded grid, gated by gradient
// magnitude, grounded on initializeRandomly.
func (d *DepthMap) InitFromRandom(kf *Keyframe, rng *rand.Rand) error {
	if err := kf.Intrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "init from random")
	}
	grid := NewGrid(kf.Intrinsics.Width, kf.Intrinsics.Height)
	InitFromRandom(d.cfg, kf, grid, rng)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.setActive(kf, grid)
	return nil
}

// InitFromGT activates kf with a ground-truth-seeded grid, grounded on
// initializeFromGTDepth.
func (d *DepthMap) InitFromGT(kf *Keyframe) error {
	if err := kf.Intrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "init from gt")
	}
	grid := NewGrid(kf.Intrinsics.Width, kf.Intrinsics.Height)
	if err := InitFromGT(d.cfg, kf, grid); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.setActive(kf, grid)
	return nil
}

// InitFromExisting reactivates kf from its own stored per-pixel arrays,
// grounded on setFromExistingKF.
func (d *DepthMap) InitFromExisting(kf *Keyframe) error {
	if err := kf.Intrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "init from existing")
	}
	grid := NewGrid(kf.Intrinsics.Width, kf.Intrinsics.Height)
	if err := InitFromExisting(d.cfg, kf, grid); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.setActive(kf, grid)
	return nil
}

// Update runs one observe+hole-fill+regularize cycle against ref, folding
// stereo evidence into the active keyframe's grid. Hole-filling runs before
// smoothing so the regularizer sees this frame's freshly created hypotheses
// too, matching the reference filter's updateKeyframe ordering.
// removeOcclusions is forwarded to the regularizer.
func (d *DepthMap) Update(ref *ReferenceFrame, removeOcclusions bool) error {
	d.mu.Lock()
	kf, current, scratch := d.active, d.current, d.scratch
	d.mu.Unlock()

	if kf == nil {
		return errors.New("update: no active keyframe")
	}
	if !ref.TrackingParentIsActiveKeyframe {
		d.logger.Warnw("updating keyframe with a frame tracked on a different keyframe", "keyframe", kf.ID, "frame", ref.ID)
	}

	observeStart := time.Now()
	if err := d.observer.Observe(kf, current, ref); err != nil {
		return errors.Wrap(err, "observe")
	}
	d.stats.recordObserve(float64(time.Since(observeStart).Microseconds()) / 1000)
	d.stats.recordValidFraction(float64(current.CountValid()) / float64(current.Width()*current.Height()))

	fillStart := time.Now()
	if err := d.holeFiller.Fill(kf, current, scratch); err != nil {
		return errors.Wrap(err, "fill holes")
	}
	current.CopyFrom(scratch)
	d.stats.recordFillHoles(float64(time.Since(fillStart).Microseconds()) / 1000)

	regularizeStart := time.Now()
	if err := d.regularizer.Regularize(current, scratch, removeOcclusions); err != nil {
		return errors.Wrap(err, "regularize")
	}
	current.CopyFrom(scratch)
	d.stats.recordRegularize(float64(time.Since(regularizeStart).Microseconds()) / 1000)

	return nil
}

// Promote forward-warps the current grid onto promo's new keyframe and makes
// that keyframe active, grounded on propagateDepth. The full pipeline is
// propagate, then regularize with occlusion removal, then hole-fill, then a
// final regularize pass without occlusion removal, then a single rescale
// applied to both the grid and the pose translation that will anchor the next
// promotion, matching the reference filter's trackFrame/propagateDepth glue.
func (d *DepthMap) Promote(promo *Promotion) error {
	d.mu.Lock()
	oldKF, src := d.active, d.current
	d.mu.Unlock()

	if oldKF == nil || src == nil {
		return errors.New("promote: no active keyframe to propagate from")
	}
	if err := promo.NewKeyframe.Intrinsics.CheckValid(); err != nil {
		return errors.Wrap(err, "promote")
	}
	if !promo.TrackingParentIsActiveKeyframe {
		d.logger.Warnw("promoting a keyframe whose tracking parent is not the active keyframe", "active", oldKF.ID, "new", promo.NewKeyframe.ID)
	}
	newIn := promo.NewKeyframe.Intrinsics

	warped := NewGrid(newIn.Width, newIn.Height)
	propagateStart := time.Now()
	if err := d.propagator.Propagate(oldKF, src, promo, warped); err != nil {
		return errors.Wrap(err, "propagate")
	}
	d.stats.recordPropagate(float64(time.Since(propagateStart).Microseconds()) / 1000)

	regularized := NewGrid(newIn.Width, newIn.Height)
	if err := d.regularizer.Regularize(warped, regularized, true); err != nil {
		return errors.Wrap(err, "promote regularize")
	}

	filled := NewGrid(newIn.Width, newIn.Height)
	if err := d.holeFiller.Fill(promo.NewKeyframe, regularized, filled); err != nil {
		return errors.Wrap(err, "promote fill holes")
	}

	dst := NewGrid(newIn.Width, newIn.Height)
	if err := d.regularizer.Regularize(filled, dst, false); err != nil {
		return errors.Wrap(err, "promote regularize")
	}

	scale := rescale(dst)
	promo.OldToNewT = scaleVec(promo.OldToNewT, 1/scale)

	d.mu.Lock()
	d.setActive(promo.NewKeyframe, dst)
	d.mu.Unlock()
	return nil
}

// Finalize runs a last hole-fill+regularize pass, snapshots the active
// keyframe's per-pixel arrays (for a later InitFromExisting reactivation),
// and clears the active keyframe.
func (d *DepthMap) Finalize() (idepth, variance []float64, validity []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil, nil, nil
	}

	if err := d.holeFiller.Fill(d.active, d.current, d.scratch); err != nil {
		panic(errors.Wrap(err, "finalize fill holes"))
	}
	d.current.CopyFrom(d.scratch)
	if err := d.regularizer.Regularize(d.current, d.scratch, false); err != nil {
		panic(errors.Wrap(err, "finalize regularize"))
	}
	d.current.CopyFrom(d.scratch)

	n := d.current.Width() * d.current.Height()
	idepth = make([]float64, n)
	variance = make([]float64, n)
	validity = make([]int, n)
	for i := 0; i < n; i++ {
		h := d.current.AtIndex(i)
		if !h.Valid {
			// -2 marks a pixel blacklisted for good (see InitFromExisting);
			// any other invalid pixel gets an ordinary -1 slot.
			variance[i] = -1
			if h.Blacklisted < d.cfg.MinBlacklist {
				variance[i] = -2
			}
			continue
		}
		idepth[i] = h.Idepth
		variance[i] = h.IdepthVar
		validity[i] = h.ValidityCounter
	}
	if d.unlock != nil {
		d.unlock()
		d.unlock = nil
	}
	d.active = nil
	d.current = nil
	d.scratch = nil
	return idepth, variance, validity
}

// Invalidate clears the active keyframe without producing a reactivation
// snapshot, releasing its lock immediately.
func (d *DepthMap) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unlock != nil {
		d.unlock()
		d.unlock = nil
	}
	d.active = nil
	d.current = nil
	d.scratch = nil
}
