package depth

import (
	"math"

	"github.com/golang/geo/r2"
)

// StereoOutcome is one of the integer-coded failure kinds a stereo probe can
// return. Per spec 7, these are data, not exceptions: callers switch on the
// value and adjust hypothesis state accordingly.
type StereoOutcome float64

const (
	// OutcomeEPLGate: the epipolar-line well-posedness gates failed before
	// any search was attempted.
	OutcomeEPLGate StereoOutcome = -5
	// OutcomeOOB: the search window fell outside the image.
	OutcomeOOB StereoOutcome = -1
	// OutcomeAmbiguous: no clear single winner, or a numeric anomaly.
	OutcomeAmbiguous StereoOutcome = -2
	// OutcomeBigError: the best residual exceeded the acceptance threshold.
	OutcomeBigError StereoOutcome = -3
	// OutcomeArithmetic: a degenerate epipolar line (zero or infinite length).
	OutcomeArithmetic StereoOutcome = -4
)

// StereoResult is the outcome of one EpipolarSearch.DoLineStereo call. Error
// holds the final minimum SSD (>= 0) on success, or one of the StereoOutcome
// sentinels on failure; Idepth/Var/EplLength are meaningful only on success.
type StereoResult struct {
	Idepth    float64
	Var       float64
	EplLength float64
	Error     float64
}

// Success reports whether the search found and accepted a match.
func (r StereoResult) Success() bool { return r.Error >= 0 }

// EpipolarSearch performs the epipolar-line SSD-5 stereo search that is this
// package's algorithmic core (spec 4.2), grounded step-for-step on the
// reference filter's doLineStereo/makeAndCheckEPL.
type EpipolarSearch struct {
	cfg Config
}

// NewEpipolarSearch builds a search routine bound to cfg.
func NewEpipolarSearch(cfg Config) *EpipolarSearch {
	return &EpipolarSearch{cfg: cfg}
}

// DoLineStereo searches the epipolar line in ref for the correspondence of
// keyframe pixel p, given a prior idepth and a (min, max) idepth bracket
// expressed along the translation direction. See spec 4.2 for the full
// 12-step protocol this follows.
func (es *EpipolarSearch) DoLineStereo(
	kf *Keyframe, p image2i, minIdepthAlongT, priorIdepthKey, maxIdepthAlongT float64,
	ref *ReferenceFrame,
) StereoResult {
	cfg := es.cfg
	fail := func(o StereoOutcome) StereoResult { return StereoResult{Error: float64(o)} }

	// --- 1. epipolar direction + gates -------------------------------------
	grad := kf.Gradients.At(p.X, p.Y)
	otherToThisT := otherToThisTranslation(ref.R, ref.T)
	keyDir, ok := epipolarDirection(cfg, kf.Intrinsics, grad, float64(p.X), float64(p.Y), otherToThisT)
	if !ok {
		return fail(OutcomeEPLGate)
	}

	inv := kf.Intrinsics.Inverse()
	kinv := kinvP(inv, float64(p.X), float64(p.Y))
	pKey := scaleVec(kinv, 1/priorIdepthKey)
	pRef := addVec(mulMat3Vec(ref.KR, pKey), ref.KT)
	idepthRef := 1 / pRef.Z

	invDepthRatio := priorIdepthKey / idepthRef
	keySampleDistance := cfg.ReferenceSampleDistance * invDepthRatio

	// --- key-side window bounds check (spec step 4) -------------------------
	keyPt := r2.Point{X: float64(p.X), Y: float64(p.Y)}
	winLo := r2.Point{X: keyPt.X - 2*keyDir.X*keySampleDistance, Y: keyPt.Y - 2*keyDir.Y*keySampleDistance}
	winHi := r2.Point{X: keyPt.X + 2*keyDir.X*keySampleDistance, Y: keyPt.Y + 2*keyDir.Y*keySampleDistance}
	pad := cfg.SamplePointToBorder + 1
	if !inImageRange(winLo, kf.Intrinsics.Width, kf.Intrinsics.Height, pad) ||
		!inImageRange(winHi, kf.Intrinsics.Width, kf.Intrinsics.Height, pad) {
		return fail(OutcomeOOB)
	}

	// --- 3. depth-ratio sanity gate ------------------------------------------
	if !(invDepthRatio > 0.7 && invDepthRatio < 1.4) {
		return fail(OutcomeOOB)
	}

	// --- 2. near/far endpoints in the reference image -------------------------
	pClose3 := addVec(mulMat3Vec(ref.KR, kinv), scaleVec(ref.KT, maxIdepthAlongT))
	if pClose3.Z < 0.001 {
		pInf := mulMat3Vec(ref.KR, kinv)
		maxIdepthAlongT = (0.001 - pInf.Z) / ref.KT.Z
		pClose3 = addVec(pInf, scaleVec(ref.KT, maxIdepthAlongT))
	}
	pClose := homogeneousDivide(pClose3)

	pFar3 := addVec(mulMat3Vec(ref.KR, kinv), scaleVec(ref.KT, minIdepthAlongT))
	if pFar3.Z < 0.001 || maxIdepthAlongT < minIdepthAlongT {
		return fail(OutcomeOOB)
	}
	pFar := homogeneousDivide(pFar3)

	diff := r2.Point{X: pClose.X - pFar.X, Y: pClose.Y - pFar.Y}
	eplLength := math.Hypot(diff.X, diff.Y)
	if !(eplLength > 0) || math.IsInf(eplLength, 0) {
		return fail(OutcomeArithmetic)
	}
	unit := r2.Point{X: diff.X / eplLength, Y: diff.Y / eplLength}
	refSearchStep := r2.Point{X: unit.X * cfg.ReferenceSampleDistance, Y: unit.Y * cfg.ReferenceSampleDistance}

	// --- 5. crop/pad the reference-side window --------------------------------
	if eplLength > cfg.MaxEplLengthCrop {
		pClose = r2.Point{X: pFar.X + unit.X*cfg.MaxEplLengthCrop, Y: pFar.Y + unit.Y*cfg.MaxEplLengthCrop}
	}
	pFar = r2.Point{X: pFar.X - refSearchStep.X, Y: pFar.Y - refSearchStep.Y}
	pClose = r2.Point{X: pClose.X + refSearchStep.X, Y: pClose.Y + refSearchStep.Y}
	if eplLength < cfg.MinEplLengthCrop {
		padLen := (cfg.MinEplLengthCrop - eplLength) / 2
		pFar = r2.Point{X: pFar.X - refSearchStep.X*padLen, Y: pFar.Y - refSearchStep.Y*padLen}
		pClose = r2.Point{X: pClose.X + refSearchStep.X*padLen, Y: pClose.Y + refSearchStep.Y*padLen}
	}

	if !inImageRange(pFar, kf.Intrinsics.Width, kf.Intrinsics.Height, cfg.SamplePointToBorder+1) ||
		!inImageRange(pClose, kf.Intrinsics.Width, kf.Intrinsics.Height, 1) {
		return fail(OutcomeOOB)
	}

	// --- 6. key-side SSD-5 descriptor -----------------------------------------
	keyIntensities := [5]float64{}
	for i := -2; i <= 2; i++ {
		x := keyPt.X + float64(i)*keyDir.X*keySampleDistance
		y := keyPt.Y + float64(i)*keyDir.Y*keySampleDistance
		keyIntensities[i+2] = kf.Image.Bilinear(x, y)
	}

	// --- 7. walk the reference line --------------------------------------------
	refIntensities := [5]float64{
		ref.Image.Bilinear(pFar.X-2*refSearchStep.X, pFar.Y-2*refSearchStep.Y),
		ref.Image.Bilinear(pFar.X-1*refSearchStep.X, pFar.Y-1*refSearchStep.Y),
		ref.Image.Bilinear(pFar.X-0*refSearchStep.X, pFar.Y-0*refSearchStep.Y),
		ref.Image.Bilinear(pFar.X+1*refSearchStep.X, pFar.Y+1*refSearchStep.Y),
		0,
	}

	searchPoint := pFar
	argminPoint := r2.Point{X: -1, Y: -1}
	minError := math.Inf(1)
	secondMinError := math.Inf(1)
	currArgmin, secondArgmin := -1, -1

	var prevError, nextError, prevDiff, nextDiff float64 = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	prevErrorPrev := -1.0

	var eA, eB [5]float64

	for i := 0; ; i++ {
		if (refSearchStep.X < 0) != (searchPoint.X > pClose.X) || (refSearchStep.Y < 0) != (searchPoint.Y > pClose.Y) {
			break
		}

		refIntensities[4] = ref.Image.Bilinear(searchPoint.X+2*refSearchStep.X, searchPoint.Y+2*refSearchStep.Y)

		var residual [5]float64
		for k := 0; k < 5; k++ {
			residual[k] = refIntensities[k] - keyIntensities[k]
		}
		if i%2 == 0 {
			eA = residual
		} else {
			eB = residual
		}

		errVal := 0.0
		for k := 0; k < 5; k++ {
			errVal += residual[k] * residual[k]
		}

		if errVal < minError {
			secondMinError = minError
			secondArgmin = currArgmin

			minError = errVal
			currArgmin = i

			prevError = prevErrorPrev
			prevDiff = dot5(eA, eB)
			nextError = -1
			nextDiff = -1

			argminPoint = searchPoint
		} else {
			if i-1 == currArgmin {
				nextError = errVal
				nextDiff = dot5(eA, eB)
			}
			if errVal < secondMinError {
				secondMinError = errVal
				secondArgmin = i
			}
		}

		prevErrorPrev = errVal
		refIntensities[0], refIntensities[1], refIntensities[2], refIntensities[3] =
			refIntensities[1], refIntensities[2], refIntensities[3], refIntensities[4]

		searchPoint = r2.Point{X: searchPoint.X + refSearchStep.X, Y: searchPoint.Y + refSearchStep.Y}
	}

	// --- 8. reject huge error or ambiguous winner -----------------------------
	if minError > 4*cfg.MaxErrorStereo {
		return fail(OutcomeBigError)
	}
	if absInt(currArgmin-secondArgmin) > 1 && cfg.MinDistanceErrorStereo*minError > secondMinError {
		return fail(OutcomeAmbiguous)
	}

	// --- 9. optional subpixel refinement ---------------------------------------
	interpolatePrev, interpolateNext := false, false
	if cfg.UseSubpixelStereo {
		gradPrevPrev := -(prevError - prevDiff)
		gradPrevCurr := +(minError - prevDiff)
		gradNextCurr := -(minError - nextDiff)
		gradNextNext := +(nextError - nextDiff)

		switch {
		case (gradNextCurr < 0) != (gradPrevCurr < 0):
			// zero-crossing inconsistent between neighbors: do not interpolate.
		case (gradPrevPrev < 0) != (gradPrevCurr < 0):
			if (gradNextNext < 0) != (gradNextCurr < 0) {
				// both sides show a crossing: ambiguous, skip interpolation.
			} else {
				interpolatePrev = true
			}
		case (gradNextNext < 0) != (gradNextCurr < 0):
			interpolateNext = true
		}

		if interpolatePrev {
			d := gradPrevCurr / (gradPrevCurr - gradPrevPrev)
			argminPoint = r2.Point{X: argminPoint.X - d*refSearchStep.X, Y: argminPoint.Y - d*refSearchStep.Y}
			minError = minError - 2*d*gradPrevCurr - (gradPrevPrev-gradPrevCurr)*d*d
		} else if interpolateNext {
			d := gradNextCurr / (gradNextCurr - gradNextNext)
			argminPoint = r2.Point{X: argminPoint.X + d*refSearchStep.X, Y: argminPoint.Y + d*refSearchStep.Y}
			minError = minError + 2*d*gradNextCurr + (gradNextNext-gradNextCurr)*d*d
		}
	}

	gradAlongLine := calcGradAlongLine(keyIntensities, keySampleDistance)
	if minError > cfg.MaxErrorStereo+20*math.Sqrt(gradAlongLine) {
		return fail(OutcomeBigError)
	}

	// --- 11. recover idepth in the keyframe -------------------------------------
	rKinvP := mulMat3Vec(ref.R, kinv)
	invCp := kinvP(inv, argminPoint.X, argminPoint.Y)
	keyToRefT := ref.T

	betaX := rKinvP.X*keyToRefT.Z - rKinvP.Z*keyToRefT.X
	betaY := rKinvP.Y*keyToRefT.Z - rKinvP.Z*keyToRefT.Y
	nomX := invCp.X*keyToRefT.Z - invCp.Z*keyToRefT.X
	nomY := invCp.Y*keyToRefT.Z - invCp.Z*keyToRefT.Y

	alphaX := refSearchStep.X * inv.Fxi * betaX / (nomX * nomX)
	alphaY := refSearchStep.Y * inv.Fyi * betaY / (nomY * nomY)

	idnewX := (rKinvP.X*invCp.Z - rKinvP.Z*invCp.X) / nomX
	idnewY := (rKinvP.Y*invCp.Z - rKinvP.Z*invCp.Y) / nomY

	var idnewBestMatch, alpha float64
	if refSearchStep.X*refSearchStep.X > refSearchStep.Y*refSearchStep.Y {
		idnewBestMatch, alpha = idnewX, alphaX
	} else {
		idnewBestMatch, alpha = idnewY, alphaY
	}

	if idnewBestMatch < 0 && !cfg.AllowNegativeIdepths {
		return fail(OutcomeAmbiguous)
	}

	// --- 12. variance -------------------------------------------------------------
	gx, gy := kf.Gradients.Bilinear(float64(p.X), float64(p.Y))
	geoDispError := calcGeometricDisparityError(gx, gy, keyDir.X*cfg.ReferenceSampleDistance, keyDir.Y*cfg.ReferenceSampleDistance, ref.InitialTrackedResidual)

	coeff := 0.5
	if interpolatePrev || interpolateNext {
		coeff = 0.05
	}
	photoDispError := 4 * cfg.CameraPixelNoise2 / (gradAlongLine + divisionEps)
	resultVar := alpha * alpha * (coeff*keySampleDistance*keySampleDistance + geoDispError + photoDispError)

	return StereoResult{
		Idepth:    idnewBestMatch,
		Var:       resultVar,
		EplLength: eplLength,
		Error:     minError,
	}
}

// image2i is a tiny (x, y) integer pixel coordinate, kept local to avoid
// importing the standard image package purely for a coordinate pair.
type image2i struct{ X, Y int }

func dot5(a, b [5]float64) float64 {
	s := 0.0
	for i := 0; i < 5; i++ {
		s += a[i] * b[i]
	}
	return s
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// calcGradAlongLine sums squared successive differences of the key
// descriptor, normalized by the sampling interval, matching the reference
// filter's calc_grad_along_line.
func calcGradAlongLine(intensities [5]float64, interval float64) float64 {
	sum := 0.0
	for i := 0; i < len(intensities)-1; i++ {
		d := intensities[i+1] - intensities[i]
		sum += d * d
	}
	return sum / (interval * interval)
}

// calcGeometricDisparityError is the geometric term of the variance model:
// error from wrong pose/calibration grows with the component of the image
// gradient that is *not* aligned with the epipolar direction.
func calcGeometricDisparityError(gx, gy, eplX, eplY, initialTrackedResidual float64) float64 {
	trackingErrorFac := 0.25 * (1 + initialTrackedResidual)
	p := eplX*gx + eplY*gy + divisionEps
	n := gx*gx + gy*gy
	return trackingErrorFac * trackingErrorFac * n / (p * p)
}
