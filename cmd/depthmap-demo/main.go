// Package main drives a synthetic keyframe/reference-frame pair through the
// full depth map lifecycle (random init, one observe/regularize/fill cycle,
// promotion to a second keyframe, finalize) and writes out a pseudocolor
// snapshot plus a binary snapshot of the resulting grid.
package main

import (
	"flag"
	"image/png"
	"math"
	"math/rand"
	"os"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthmap/depth"
	"go.viam.com/depthmap/depth/depthio"
)

func main() {
	width := flag.Int("width", 320, "synthetic image width")
	height := flag.Int("height", 240, "synthetic image height")
	out := flag.String("out", "depthmap-demo.png", "output pseudocolor PNG path")
	snapshotOut := flag.String("snapshot", "depthmap-demo.snapshot.gz", "output binary snapshot path")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	logger := golog.NewDevelopmentLogger("depthmap-demo")
	if err := run(*width, *height, *out, *snapshotOut, *seed, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(width, height int, out, snapshotOut string, seed int64, logger golog.Logger) error {
	intrinsics := depth.Intrinsics{Width: width, Height: height, Fx: 400, Fy: 400, Cx: float64(width) / 2, Cy: float64(height) / 2}

	kf := syntheticKeyframe(1, intrinsics)
	dm := depth.New(depth.DefaultConfig(), logger)

	rng := rand.New(rand.NewSource(seed))
	if err := dm.InitFromRandom(kf, rng); err != nil {
		return err
	}
	logger.Infow("initialized", "valid", dm.Current().CountValid())

	ref := syntheticReference(2, intrinsics, kf)
	if err := dm.Update(ref, true); err != nil {
		return err
	}
	logger.Infow("updated", "valid", dm.Current().CountValid())

	kf2 := syntheticKeyframe(3, intrinsics)
	promo := &depth.Promotion{
		NewKeyframe:                    kf2,
		OldToNewR:                      identity3(),
		OldToNewT:                      r3.Vector{X: 0.02, Y: 0, Z: 0},
		TrackingParentIsActiveKeyframe: true,
	}
	if err := dm.Promote(promo); err != nil {
		return err
	}
	logger.Infow("promoted", "valid", dm.Current().CountValid())

	final := dm.Current()
	dm.Finalize()
	logger.Infow("finalized", "valid", final.CountValid())

	img := depthio.Snapshot(final, 0.05, 5.0)
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return err
	}

	return depthio.WriteSnapshotFile(snapshotOut, final)
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func syntheticKeyframe(id int, in depth.Intrinsics) *depth.Keyframe {
	img := depth.NewImageF32(in.Width, in.Height)
	for y := 0; y < in.Height; y++ {
		for x := 0; x < in.Width; x++ {
			img.Set(x, y, 128+64*math.Sin(float64(x)/9)+64*math.Cos(float64(y)/13))
		}
	}
	return &depth.Keyframe{
		ID:         id,
		Intrinsics: in,
		Image:      img,
		Gradients:  depth.GradientsFromImage(img),
	}
}

func syntheticReference(id int, in depth.Intrinsics, kf *depth.Keyframe) *depth.ReferenceFrame {
	r := identity3()
	t := r3.Vector{X: 0.05, Y: 0, Z: 0}
	kr := mat.NewDense(3, 3, nil)
	kr.Mul(in.Matrix(), r)
	kt := r3.Vector{X: in.Fx*t.X + in.Cx*t.Z, Y: in.Fy*t.Y + in.Cy*t.Z, Z: t.Z}

	return &depth.ReferenceFrame{
		ID:    id,
		Image: kf.Image,
		R:     r,
		T:     t,
		KR:    kr,
		KT:    kt,
	}
}
