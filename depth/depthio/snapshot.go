// Package depthio persists and visualizes a depth grid. Its binary format
// and pseudocolor rendering follow rimage.DepthMap's WriteTo/ReadDepthMap and
// ToPrettyPicture conventions, adapted to a per-pixel hypothesis rather than a
// single integer depth.
package depthio

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/depthmap/depth"
)

// magic identifies this package's snapshot format, distinguishing it from
// rimage's own depth map files should the two ever sit in the same directory.
const magic uint64 = 0x4445505453454544 // "DEPTSEED", trimmed to 8 bytes

// WriteSnapshot writes grid's full per-pixel state (idepth, variance,
// validity, blacklist) to out as gzip-compressed little-endian binary.
func WriteSnapshot(out io.Writer, grid *depth.Grid) error {
	gz := gzip.NewWriter(out)
	if err := writeSnapshot(gz, grid); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// WriteSnapshotFile writes grid's snapshot to a new file at path.
func WriteSnapshotFile(path string, grid *depth.Grid) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrap(err, "create snapshot file")
	}
	defer f.Close()
	if err := WriteSnapshot(f, grid); err != nil {
		return err
	}
	return f.Sync()
}

func writeSnapshot(out io.Writer, grid *depth.Grid) error {
	buf := make([]byte, 8)
	putU64 := func(v uint64) error {
		binary.LittleEndian.PutUint64(buf, v)
		_, err := out.Write(buf)
		return err
	}
	putF64 := func(v float64) error {
		return putU64(math.Float64bits(v))
	}

	if err := putU64(magic); err != nil {
		return err
	}
	if err := putU64(uint64(grid.Width())); err != nil {
		return err
	}
	if err := putU64(uint64(grid.Height())); err != nil {
		return err
	}

	for y := 0; y < grid.Height(); y++ {
		for x := 0; x < grid.Width(); x++ {
			h := grid.At(x, y)
			validBit := uint64(0)
			if h.Valid {
				validBit = 1
			}
			if err := putU64(validBit); err != nil {
				return err
			}
			if err := putF64(h.Idepth); err != nil {
				return err
			}
			if err := putF64(h.IdepthVar); err != nil {
				return err
			}
			if err := putU64(uint64(int64(h.ValidityCounter))); err != nil {
				return err
			}
			if err := putU64(uint64(int64(h.Blacklisted))); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadSnapshot reads a grid previously written by WriteSnapshot.
func ReadSnapshot(in io.Reader) (*depth.Grid, error) {
	gz, err := gzip.NewReader(in)
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot gzip stream")
	}
	defer gz.Close()
	return readSnapshot(bufio.NewReader(gz))
}

// ReadSnapshotFile reads a grid snapshot from a file written by
// WriteSnapshotFile.
func ReadSnapshotFile(path string) (*depth.Grid, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot file")
	}
	defer f.Close()
	return ReadSnapshot(f)
}

func readSnapshot(r *bufio.Reader) (*depth.Grid, error) {
	readU64 := func() (uint64, error) {
		b := make([]byte, 8)
		n, err := io.ReadFull(r, b)
		if n != 8 {
			return 0, errors.Wrapf(err, "short read (%d bytes)", n)
		}
		return binary.LittleEndian.Uint64(b), nil
	}
	readF64 := func() (float64, error) {
		v, err := readU64()
		if err != nil {
			return 0, err
		}
		return math.Float64frombits(v), nil
	}

	gotMagic, err := readU64()
	if err != nil {
		return nil, errors.Wrap(err, "read magic")
	}
	if gotMagic != magic {
		return nil, errors.Errorf("not a depth snapshot (bad magic %x)", gotMagic)
	}

	width, err := readU64()
	if err != nil {
		return nil, errors.Wrap(err, "read width")
	}
	height, err := readU64()
	if err != nil {
		return nil, errors.Wrap(err, "read height")
	}
	if width == 0 || width >= 1<<20 || height == 0 || height >= 1<<20 {
		return nil, errors.Errorf("bad snapshot dimensions %dx%d", width, height)
	}

	grid := depth.NewGrid(int(width), int(height))
	for y := 0; y < int(height); y++ {
		for x := 0; x < int(width); x++ {
			validBit, err := readU64()
			if err != nil {
				return nil, errors.Wrap(err, "read validity bit")
			}
			idepth, err := readF64()
			if err != nil {
				return nil, errors.Wrap(err, "read idepth")
			}
			idepthVar, err := readF64()
			if err != nil {
				return nil, errors.Wrap(err, "read idepth var")
			}
			validityCounter, err := readU64()
			if err != nil {
				return nil, errors.Wrap(err, "read validity counter")
			}
			blacklisted, err := readU64()
			if err != nil {
				return nil, errors.Wrap(err, "read blacklist")
			}
			grid.Set(x, y, depth.PixelHypothesis{
				Valid:             validBit != 0,
				Idepth:            idepth,
				IdepthVar:         idepthVar,
				IdepthSmoothed:    idepth,
				IdepthVarSmoothed: idepthVar,
				ValidityCounter:   int(int64(validityCounter)),
				Blacklisted:       int(int64(blacklisted)),
			})
		}
	}
	return grid, nil
}

// Snapshot renders grid's idepth field as a pseudocolor image, following
// DepthMap.ToPrettyPicture's hue-ramp convention: invalid pixels are left
// black, valid ones are colored from a hue ramp spanning the observed idepth
// range clamped to [hardMin, hardMax].
func Snapshot(grid *depth.Grid, hardMin, hardMax float64) image.Image {
	min, max := hardMax, hardMin
	any := false
	for y := 0; y < grid.Height(); y++ {
		for x := 0; x < grid.Width(); x++ {
			h := grid.At(x, y)
			if !h.Valid {
				continue
			}
			any = true
			if h.Idepth < min {
				min = h.Idepth
			}
			if h.Idepth > max {
				max = h.Idepth
			}
		}
	}
	img := image.NewRGBA(image.Rect(0, 0, grid.Width(), grid.Height()))
	if !any {
		return img
	}
	if min < hardMin {
		min = hardMin
	}
	if max > hardMax {
		max = hardMax
	}
	span := max - min
	if span <= 0 {
		span = 1
	}

	for y := 0; y < grid.Height(); y++ {
		for x := 0; x < grid.Width(); x++ {
			h := grid.At(x, y)
			if !h.Valid {
				continue
			}
			v := h.Idepth
			if v < min {
				v = min
			}
			if v > max {
				v = max
			}
			ratio := (v - min) / span
			hue := 30 + 200.0*ratio
			cc := colorful.Hsv(hue, 1.0, 1.0)
			r, g, b := cc.RGB255()
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}
