// Command atonsim streams a synthetic render against a receiver: one
// session, a configurable frame range, RGBA plus an optional Z AOV,
// delivered bucket by bucket the way a display driver would.
//
// Useful for eyeballing a receiver without a render farm:
//
//	atonsim -frames 3 -width 640 -height 480 -bucket 64 -fps 10
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/melMass/Aton/internal/config"
	"github.com/melMass/Aton/internal/wire"
)

// packVersion builds the renderer version quadruple the way senders do.
func packVersion(arch, major, minor, patch int32) int32 {
	return arch*1_000_000 + major*10_000 + minor*100 + patch
}

func main() {
	host := flag.String("host", "", "receiver host (default $ATON_HOST or localhost)")
	port := flag.Int("port", 0, "receiver port (default $ATON_PORT or 9201)")
	width := flag.Int("width", 320, "image width")
	height := flag.Int("height", 240, "image height")
	bucket := flag.Int("bucket", 64, "bucket edge size")
	frames := flag.Int("frames", 1, "number of frames to send")
	withZ := flag.Bool("z", true, "send a Z AOV alongside RGBA")
	fps := flag.Float64("fps", 0, "bucket pacing, 0 = as fast as possible")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config failed", "error", err)
		os.Exit(1)
	}
	if *host == "" {
		*host = cfg.Server.Host
	}
	if *port == 0 {
		*port = cfg.Server.Port
	}

	var pause time.Duration
	if *fps > 0 {
		pause = time.Duration(float64(time.Second) / *fps)
	}

	start := time.Now()
	for fr := 0; fr < *frames; fr++ {
		if err := sendFrame(*host, *port, fr, *width, *height, *bucket, *withZ, pause, start); err != nil {
			slog.Error("frame failed", "frame", fr, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("render complete", "frames", *frames, "elapsed", time.Since(start))
}

func sendFrame(host string, port, fr, width, height, bucket int, withZ bool, pause time.Duration, start time.Time) error {
	client, err := wire.Dial(host, port)
	if err != nil {
		return err
	}

	header := &wire.Header{
		SessionID:  4242,
		Xres:       int32(width),
		Yres:       int32(height),
		RegionArea: int64(width) * int64(height),
		Version:    packVersion(7, 3, 1, 0),
		Frame:      float32(fr + 1),
		CamFov:     54.43,
		Samples:    [6]int32{3, 2, 2, 2, 0, 0},
	}
	// Identity camera, column-major.
	for i := 0; i < 4; i++ {
		header.CamMatrix[i*4+i] = 1
	}
	if err := client.OpenImage(header); err != nil {
		return err
	}
	slog.Info("image opened", "frame", fr+1, "resolution", fmt.Sprintf("%dx%d", width, height))

	for yo := 0; yo < height; yo += bucket {
		for xo := 0; xo < width; xo += bucket {
			bw := min(bucket, width-xo)
			bh := min(bucket, height-yo)
			elapsed := int32(time.Since(start).Milliseconds())

			if err := client.SendPixels(gradientBucket(fr, width, height, xo, yo, bw, bh, elapsed)); err != nil {
				return err
			}
			if withZ {
				if err := client.SendPixels(depthBucket(width, height, xo, yo, bw, bh, elapsed)); err != nil {
					return err
				}
			}
			if pause > 0 {
				time.Sleep(pause)
			}
		}
	}
	return client.CloseImage()
}

// gradientBucket fills RGBA with a frame-shifted UV gradient.
func gradientBucket(fr, width, height, xo, yo, bw, bh int, elapsed int32) *wire.Pixels {
	data := make([]float32, bw*bh*4)
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			u := float32(xo+x) / float32(width)
			v := float32(yo+y) / float32(height)
			i := (y*bw + x) * 4
			data[i+0] = u
			data[i+1] = v
			data[i+2] = float32(fr+1) * 0.25
			data[i+3] = 1
		}
	}
	return &wire.Pixels{
		Xres: int32(width), Yres: int32(height),
		BucketXo: int32(xo), BucketYo: int32(yo),
		BucketW: int32(bw), BucketH: int32(bh),
		Spp:     4,
		RAM:     512 << 20,
		Time:    elapsed,
		AOVName: "RGBA",
		Data:    data,
	}
}

// depthBucket fills a scalar Z plane with a vertical ramp.
func depthBucket(width, height, xo, yo, bw, bh int, elapsed int32) *wire.Pixels {
	data := make([]float32, bw*bh)
	for y := 0; y < bh; y++ {
		for x := 0; x < bw; x++ {
			data[y*bw+x] = float32(yo+y) / float32(height) * 100
		}
	}
	return &wire.Pixels{
		Xres: int32(width), Yres: int32(height),
		BucketXo: int32(xo), BucketYo: int32(yo),
		BucketW: int32(bw), BucketH: int32(bh),
		Spp:     1,
		RAM:     512 << 20,
		Time:    elapsed,
		AOVName: "Z",
		Data:    data,
	}
}
