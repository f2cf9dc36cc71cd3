// Package depth implements a semi-dense monocular depth estimator: a per-pixel
// probabilistic inverse-depth (idepth) field maintained for a keyframe image and
// refined by epipolar stereo search against reference frames with known relative
// poses. Tracking, keyframe graph management, and image acquisition are treated
// as external collaborators; only their data reaches this package.
package depth

// Config collects the tunable constants that drive epipolar search, EKF fusion,
// and regularization. Defaults follow the reference monocular-SLAM depth filter
// this package is modeled on; grouping them here (rather than scattering literals
// through the algorithm) mirrors the attribute-config pattern used elsewhere in
// this codebase for per-component tuning knobs.
type Config struct {
	// MinDepth bounds the maximum representable idepth as 1/MinDepth.
	MinDepth float64 `json:"min_depth"`
	// MaxVar is the ceiling on idepth_var; hypotheses above it are invalidated.
	MaxVar float64 `json:"max_var"`
	// VarRandomInitInitial seeds variance for randomly- and hole-filled hypotheses.
	VarRandomInitInitial float64 `json:"var_random_init_initial"`
	// VarGtInitInitial seeds variance for ground-truth-initialized hypotheses.
	VarGtInitInitial float64 `json:"var_gt_init_initial"`

	// MinAbsGradCreate is the minimum keyframe gradient magnitude to attempt
	// creating a new hypothesis at a pixel.
	MinAbsGradCreate float64 `json:"min_abs_grad_create"`
	// MinAbsGradDecrease is the minimum gradient magnitude below which an
	// existing hypothesis is invalidated outright.
	MinAbsGradDecrease float64 `json:"min_abs_grad_decrease"`

	MinEplLengthSquared float64 `json:"min_epl_length_squared"`
	MinEplGradSquared   float64 `json:"min_epl_grad_squared"`
	MinEplAngleSquared  float64 `json:"min_epl_angle_squared"`

	ReferenceSampleDistance float64 `json:"reference_sample_distance"`
	MaxEplLengthCrop        float64 `json:"max_epl_length_crop"`
	MinEplLengthCrop        float64 `json:"min_epl_length_crop"`
	SamplePointToBorder     float64 `json:"sample_point_to_border"`

	MaxErrorStereo         float64 `json:"max_error_stereo"`
	MinDistanceErrorStereo float64 `json:"min_distance_error_stereo"`
	CameraPixelNoise2      float64 `json:"camera_pixel_noise2"`

	UseSubpixelStereo    bool `json:"use_subpixel_stereo"`
	AllowNegativeIdepths bool `json:"allow_negative_idepths"`

	StereoEplVarFac float64 `json:"stereo_epl_var_fac"`
	DiffFacObserve  float64 `json:"diff_fac_observe"`
	DiffFacPropMerge float64 `json:"diff_fac_prop_merge"`
	DiffFacSmoothing float64 `json:"diff_fac_smoothing"`

	SuccVarIncFac float64 `json:"succ_var_inc_fac"`
	FailVarIncFac float64 `json:"fail_var_inc_fac"`

	ValidityCounterInc            int     `json:"validity_counter_inc"`
	ValidityCounterDec            int     `json:"validity_counter_dec"`
	ValidityCounterInitialObserve int     `json:"validity_counter_initial_observe"`
	// ValidityCounterInitialInit seeds validity for random- and ground-truth-
	// initialized pixels, distinct from the smaller increment observeCreate uses.
	ValidityCounterInitialInit int     `json:"validity_counter_initial_init"`
	ValidityCounterMax         float64 `json:"validity_counter_max"`
	ValidityCounterMaxVariable float64 `json:"validity_counter_max_variable"`

	MinBlacklist int `json:"min_blacklist"`

	RegDistVar float64 `json:"reg_dist_var"`

	ValSumMinForCreate      int `json:"val_sum_min_for_create"`
	ValSumMinForKeep        int `json:"val_sum_min_for_keep"`
	ValSumMinForUnblacklist int `json:"val_sum_min_for_unblacklist"`

	MaxDiffConstant float64 `json:"max_diff_constant"`
	MaxDiffGradMult float64 `json:"max_diff_grad_mult"`

	// RowStripHeight is the row-strip height handed to the parallel dispatcher.
	RowStripHeight int `json:"row_strip_height"`
}

// divisionEps guards against division by (near-)zero without branching on it.
const divisionEps = 1e-10

// DefaultConfig returns the constants this estimator was calibrated against.
func DefaultConfig() Config {
	maxVar := 0.5 * 0.5
	return Config{
		MinDepth:             0.05,
		MaxVar:               maxVar,
		VarRandomInitInitial: 0.5 * maxVar,
		VarGtInitInitial:     0.01 * 0.01,

		MinAbsGradCreate:   5,
		MinAbsGradDecrease: 5,

		MinEplLengthSquared: 1.0,
		MinEplGradSquared:   2.0 * 2.0,
		MinEplAngleSquared:  0.3 * 0.3,

		ReferenceSampleDistance: 1.0,
		MaxEplLengthCrop:        30.0,
		MinEplLengthCrop:        3.0,
		SamplePointToBorder:     7.0,

		MaxErrorStereo:         1300.0,
		MinDistanceErrorStereo: 1.5,
		CameraPixelNoise2:      4.0 * 4.0,

		UseSubpixelStereo:    true,
		AllowNegativeIdepths: false,

		StereoEplVarFac:  2.0,
		DiffFacObserve:   1.0,
		DiffFacPropMerge: 1.0,
		DiffFacSmoothing: 1.0,

		SuccVarIncFac: 1.01,
		FailVarIncFac: 1.1,

		ValidityCounterInc:            5,
		ValidityCounterDec:            5,
		ValidityCounterInitialObserve: 5,
		ValidityCounterInitialInit:    20,
		ValidityCounterMax:            5.0,
		ValidityCounterMaxVariable:    250.0,

		MinBlacklist: -1,

		RegDistVar: 0.075 * 0.075 * 2.0,

		ValSumMinForCreate:      30,
		ValSumMinForKeep:        24,
		ValSumMinForUnblacklist: 100,

		MaxDiffConstant: 40.0 * 40.0,
		MaxDiffGradMult: 0.5 * 0.5,

		RowStripHeight: 10,
	}
}
