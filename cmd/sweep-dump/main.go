// Command sweep-dump accumulates a configurable number of scans from a
// Sweep device and renders the combined point cloud as a binary PGM (P5)
// image, for visual sanity-checking during bring-up — a headless analogue
// of the reference SDK's viewer example.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/scanse/sweep-sdk"
)

func main() {
	log := logrus.New()

	port := flag.String("port", "", "serial port path, e.g. /dev/ttyUSB0")
	scans := flag.Int("scans", 10, "number of scans to accumulate")
	out := flag.String("out", "scan.pgm", "output PGM file path")
	size := flag.Int("size", 800, "output image width and height, in pixels")
	rangeCM := flag.Int("range", 4000, "centimeters from center to image edge")
	flag.Parse()

	if *port == "" {
		fmt.Fprintln(os.Stderr, "usage: sweep-dump -port /dev/ttyUSB0 -scans 10 -out scan.pgm")
		os.Exit(1)
	}

	entry := log.WithFields(logrus.Fields{"port": *port, "scans": *scans, "out": *out})

	if err := run(entry, *port, *scans, *out, *size, *rangeCM); err != nil {
		entry.WithError(err).Error("sweep-dump failed")
		os.Exit(1)
	}
}

func run(log *logrus.Entry, portPath string, numScans int, outPath string, imgSize, rangeCM int) error {
	dev, err := sweep.Open(portPath)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.StartScanning(); err != nil {
		return fmt.Errorf("sweep-dump: start scanning: %w", err)
	}
	defer dev.StopScanning()

	img := newPointCloudImage(imgSize, rangeCM)

	for i := 0; i < numScans; i++ {
		scan, err := dev.GetScan(context.Background())
		if err != nil {
			return fmt.Errorf("sweep-dump: get scan %d/%d: %w", i+1, numScans, err)
		}
		log.WithFields(logrus.Fields{"scan": i + 1, "samples": len(scan.Samples)}).Debug("accumulated scan")
		img.plotScan(scan)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("sweep-dump: create output: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := img.writePGM(w); err != nil {
		return fmt.Errorf("sweep-dump: write PGM: %w", err)
	}
	return w.Flush()
}

// pointCloudImage is a square grayscale accumulation buffer: every plotted
// sample brightens the pixel it lands on, so repeated hits (overlapping
// scans) show up whiter than single hits.
type pointCloudImage struct {
	size    int
	rangeCM int
	pixels  []byte
}

func newPointCloudImage(size, rangeCM int) *pointCloudImage {
	return &pointCloudImage{size: size, rangeCM: rangeCM, pixels: make([]byte, size*size)}
}

func (img *pointCloudImage) plotScan(scan sweep.Scan) {
	for _, s := range scan.Samples {
		img.plotSample(s)
	}
}

func (img *pointCloudImage) plotSample(s sweep.Sample) {
	radians := float64(s.AngleMillideg) / 1000 * math.Pi / 180
	x := float64(s.DistanceCM) * math.Cos(radians)
	y := float64(s.DistanceCM) * math.Sin(radians)

	half := float64(img.size) / 2
	scale := half / float64(img.rangeCM)
	px := int(half + x*scale)
	py := int(half - y*scale)
	if px < 0 || px >= img.size || py < 0 || py >= img.size {
		return
	}

	idx := py*img.size + px
	if img.pixels[idx] < 0xFF-0x20 {
		img.pixels[idx] += 0x20
	} else {
		img.pixels[idx] = 0xFF
	}
}

func (img *pointCloudImage) writePGM(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, "P5\n%d %d\n255\n", img.size, img.size); err != nil {
		return err
	}
	_, err := w.Write(img.pixels)
	return err
}
