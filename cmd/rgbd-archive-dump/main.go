package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"rgbd-stream-go/internal/archive"
	"rgbd-stream-go/internal/codec"
	"rgbd-stream-go/internal/pipeline"
)

func main() {
	var (
		path    = flag.String("path", "", "Path to a capture .zip archive")
		limit   = flag.Int("limit", 10, "Number of archive entries to list")
		decodeN = flag.Int("decode", 1, "Number of frames to decode and summarize")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	src, err := archive.OpenFile(*path, filepath.Base(*path))
	if err != nil {
		log.Fatalf("open archive: %v", err)
	}
	defer src.Close()

	meta, err := src.Initialize()
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	fmt.Printf("title: %s\n", src.Title())
	fmt.Printf("resolution: %dx%d @ %d fps\n", meta.Width, meta.Height, meta.FPS)
	fmt.Printf("intrinsics: fx=%.3f fy=%.3f tx=%.3f ty=%.3f\n",
		meta.Intrinsics.Fx, meta.Intrinsics.Fy, meta.Intrinsics.Tx, meta.Intrinsics.Ty)
	if meta.DepthWidth > 0 {
		fmt.Printf("depth resolution: %dx%d\n", meta.DepthWidth, meta.DepthHeight)
	}
	fmt.Printf("frames: %d (depth suffix %s)\n", src.FrameCount(), src.DepthSuffix())
	fmt.Printf("background: %v\n", src.HasBackground())

	entries := src.Entries()
	for i, name := range entries {
		if *limit > 0 && i >= *limit {
			fmt.Printf("  ... %d more\n", len(entries)-i)
			break
		}
		fmt.Printf("  %s\n", name)
	}

	if *decodeN <= 0 || src.FrameCount() == 0 {
		return
	}
	kind, err := codec.KindForSuffix(src.DepthSuffix())
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	c, err := codec.New(kind)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	video, err := pipeline.NewVideo(src, c)
	if err != nil {
		log.Fatalf("video: %v", err)
	}
	defer video.Close()

	ctx := context.Background()
	n := min(*decodeN, video.FrameCount())
	for i := 0; i < n; i++ {
		if err := video.LoadFrame(ctx, i); err != nil {
			log.Printf("frame %d: %v", i, err)
			continue
		}
		positions, _, _ := video.Buffers()
		zMin, zMax := codec.ZRange(positions)
		fmt.Printf("frame %d: points=%d z=[%.3f, %.3f]\n", i, len(positions)/codec.PositionStride, zMin, zMax)
	}
}
