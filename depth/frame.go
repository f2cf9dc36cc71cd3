package depth

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// KeyframeLocker lets the surrounding SLAM system guard the lifetime of a
// keyframe's pyramid/gradient buffers for as long as the depth map holds it
// active. Pose tracking and the keyframe graph are external collaborators
// (spec 1); this is the seam through which they keep a keyframe's backing
// data alive without this package needing to know how.
type KeyframeLocker interface {
	// LockActive acquires a scoped read lock and returns the function that
	// releases it.
	LockActive() func()
}

// Keyframe is the image against which a depth map is maintained. Everything
// on it is supplied by the surrounding system: acquisition, undistortion,
// and pyramid/gradient construction happen upstream (spec 1's Non-goals).
type Keyframe struct {
	ID         int
	Intrinsics Intrinsics
	Image      *ImageF32
	Gradients  *GradientField

	// NumFramesTrackedOnThis and NumMappedOnThis feed the next-stereo-frame
	// skip-increment heuristic in Observer.update (spec 4.3).
	NumFramesTrackedOnThis int
	NumMappedOnThis        int

	// Locker is optional; when set, DepthMap holds a scoped lock on it for
	// as long as this keyframe is active.
	Locker KeyframeLocker

	// SeedIdepth, when non-nil, is a W*H array of per-pixel ground-truth
	// idepth values (NaN or <=0 where unknown) consumed by InitFromGT.
	SeedIdepth []float64

	// ReactivateIdepth/Var/Validity are the stored per-pixel arrays consumed
	// by InitFromExisting when reactivating a previously-finalized keyframe.
	// A var of exactly -2 marks a blacklisted-but-invalid pixel (spec 6).
	ReactivateIdepth   []float64
	ReactivateVar      []float64
	ReactivateValidity []int
}

// TrackingQualityMask is the low-resolution tracking-parent-quality mask a
// reference frame carries: per subsampled pixel, whether tracking judged
// that pixel trustworthy enough to use for stereo without re-verification.
type TrackingQualityMask struct {
	// Level is the pyramid level shift applied to full-resolution
	// coordinates before indexing (x>>Level, y>>Level), matching the
	// reference filter's SE3TRACKING_MIN_LEVEL subsampling.
	Level         uint
	Width, Height int
	Good          []bool
}

// IsGood reports whether the mask judged the full-resolution pixel (x, y)
// trustworthy, subsampling by Level as the reference filter does.
func (m *TrackingQualityMask) IsGood(x, y int) bool {
	if m == nil {
		return true
	}
	sx, sy := x>>m.Level, y>>m.Level
	if sx < 0 || sy < 0 || sx >= m.Width || sy >= m.Height {
		return false
	}
	return m.Good[sy*m.Width+sx]
}

// ReferenceFrame is a later image with a known relative pose to the active
// keyframe, used as the second view in stereo. R/T and their K-scaled
// counterparts are precomputed by the caller (pose tracking is out of scope).
type ReferenceFrame struct {
	ID    int
	Image *ImageF32

	// R, T describe the keyframe->reference relative pose: X_ref = R*X_key+T.
	// otherToThisTranslation derives the inverse (reference->keyframe)
	// translation from these; do not pass R/T there expecting it back
	// unchanged.
	R *mat.Dense
	T r3.Vector

	// KR, KT are K*R and K*T (K = the keyframe's own intrinsics), used to
	// project keyframe-frame points directly into reference pixel space.
	KR *mat.Dense
	KT r3.Vector

	// InitialTrackedResidual feeds the geometric disparity error term.
	InitialTrackedResidual float64

	// TrackingParentIsActiveKeyframe mirrors the reference filter's check
	// that a reference frame's tracking parent is in fact the active
	// keyframe before trusting its TrackingQuality mask for skip decisions.
	TrackingParentIsActiveKeyframe bool
	TrackingQuality                *TrackingQualityMask
}

// Promotion carries everything Propagator needs to warp a depth map forward
// onto a newly-promoted keyframe: the inverse of the relative pose from the
// old active keyframe to the new one, plus (optionally) a tracking-quality
// mask relative to the old keyframe.
type Promotion struct {
	NewKeyframe *Keyframe

	// OldToNewR, OldToNewT is the inverse of the new keyframe's
	// tracking-parent pose: X_new = OldToNewR*X_old + OldToNewT.
	OldToNewR *mat.Dense
	OldToNewT r3.Vector

	TrackingParentIsActiveKeyframe bool
	TrackingQuality                *TrackingQualityMask
}
