package depthio

import (
	"bytes"
	"compress/gzip"
	"testing"

	"go.viam.com/test"

	"go.viam.com/depthmap/depth"
)

func testGrid() *depth.Grid {
	g := depth.NewGrid(4, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			if (x+y)%2 == 0 {
				g.Set(x, y, depth.PixelHypothesis{
					Valid: true, Idepth: float64(x+y) + 0.5, IdepthVar: 0.02,
					ValidityCounter: 5, Blacklisted: 0,
				})
			}
		}
	}
	return g
}

func TestWriteReadSnapshotRoundTrip(t *testing.T) {
	g := testGrid()
	var buf bytes.Buffer
	err := WriteSnapshot(&buf, g)
	test.That(t, err, test.ShouldBeNil)

	got, err := ReadSnapshot(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Width(), test.ShouldEqual, g.Width())
	test.That(t, got.Height(), test.ShouldEqual, g.Height())

	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			want := g.At(x, y)
			have := got.At(x, y)
			test.That(t, have.Valid, test.ShouldEqual, want.Valid)
			if want.Valid {
				test.That(t, have.Idepth, test.ShouldEqual, want.Idepth)
				test.That(t, have.IdepthVar, test.ShouldEqual, want.IdepthVar)
			}
		}
	}
}

func TestReadSnapshotRejectsBadMagic(t *testing.T) {
	// A valid gzip stream whose payload starts with a zero magic number, so
	// the rejection comes from the magic check rather than the gzip header.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(make([]byte, 40))
	gz.Close()
	_, err := ReadSnapshot(&buf)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSnapshotImageDimensions(t *testing.T) {
	g := testGrid()
	img := Snapshot(g, 0, 10)
	b := img.Bounds()
	test.That(t, b.Dx(), test.ShouldEqual, g.Width())
	test.That(t, b.Dy(), test.ShouldEqual, g.Height())
}
