package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rgbd-stream-go/internal/simulator"
	"rgbd-stream-go/internal/types"
)

func buildArchive(t *testing.T, spec simulator.Spec) []byte {
	t.Helper()
	data, err := simulator.BuildArchive(spec)
	if err != nil {
		t.Fatalf("BuildArchive error: %v", err)
	}
	return data
}

func TestOpenBytesFrames(t *testing.T) {
	t.Parallel()
	data := buildArchive(t, simulator.Spec{Title: "cap", Width: 2, Height: 2, FPS: 25, Frames: 3})
	src, err := OpenBytes(data, types.Capture{Filename: "cap.zip"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	defer src.Close()

	meta, err := src.Initialize()
	if err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if meta.Width != 2 || meta.Height != 2 || meta.FPS != 25 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if src.Title() != "cap" {
		t.Fatalf("expected title cap, got %q", src.Title())
	}
	if src.FrameCount() != 3 {
		t.Fatalf("expected 3 frames, got %d", src.FrameCount())
	}
	if src.DepthSuffix() != ".bytes" {
		t.Fatalf("expected .bytes fallback, got %q", src.DepthSuffix())
	}

	depth, err := src.DepthBlob(2)
	if err != nil {
		t.Fatalf("DepthBlob error: %v", err)
	}
	want := simulator.EncodeDepth(simulator.DepthFrame(2, 2, 2))
	if !bytes.Equal(depth, want) {
		t.Fatalf("depth blob mismatch")
	}
	if _, err := src.ColorBlob(0); err != nil {
		t.Fatalf("ColorBlob error: %v", err)
	}
	for _, idx := range []int{-1, 3} {
		if _, err := src.DepthBlob(idx); !errors.Is(err, types.ErrOutOfRange) {
			t.Fatalf("DepthBlob(%d): expected ErrOutOfRange, got %v", idx, err)
		}
		if _, err := src.ColorBlob(idx); !errors.Is(err, types.ErrOutOfRange) {
			t.Fatalf("ColorBlob(%d): expected ErrOutOfRange, got %v", idx, err)
		}
	}
	if _, ok := Background(src); ok {
		t.Fatalf("capture without bg entries reported a background track")
	}
}

func TestPrefersCompressedDepth(t *testing.T) {
	t.Parallel()
	data := buildArchive(t, simulator.Spec{Title: "c", Frames: 2, DepthSuffix: ".depth"})
	src, err := OpenBytes(data, types.Capture{Filename: "c.zip"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	if _, err := src.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if src.DepthSuffix() != ".depth" || src.FrameCount() != 2 {
		t.Fatalf("suffix=%q frames=%d", src.DepthSuffix(), src.FrameCount())
	}
}

func TestBackgroundTrack(t *testing.T) {
	t.Parallel()
	data := buildArchive(t, simulator.Spec{Title: "bg", Frames: 2, Background: true})
	src, err := OpenBytes(data, types.Capture{Filename: "bg.ZIP"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	if _, err := src.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	// bg entries live under rgbd/ but are not frames.
	if src.FrameCount() != 2 {
		t.Fatalf("expected 2 frames, got %d", src.FrameCount())
	}
	bg, ok := Background(src)
	if !ok {
		t.Fatalf("expected background track")
	}
	if _, err := bg.BackgroundColorBlob(1); err != nil {
		t.Fatalf("BackgroundColorBlob error: %v", err)
	}
}

func TestMissingEntries(t *testing.T) {
	t.Parallel()
	data := buildArchive(t, simulator.Spec{Title: "m", Frames: 2, SkipColor: []int{1}})
	src, err := OpenBytes(data, types.Capture{Filename: "m.zip"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	if _, err := src.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if _, err := src.ColorBlob(1); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("x/rgbd/0.jpg"); err != nil {
		t.Fatalf("zip create: %v", err)
	}
	_ = zw.Close()
	noMeta, err := OpenBytes(buf.Bytes(), types.Capture{Filename: "x.zip"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	if _, err := noMeta.Initialize(); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing metadata, got %v", err)
	}
}

func TestRootLevelArchive(t *testing.T) {
	t.Parallel()
	data := buildArchive(t, simulator.Spec{Frames: 1})
	src, err := OpenBytes(data, types.Capture{Filename: "renamed.zip"})
	if err != nil {
		t.Fatalf("OpenBytes error: %v", err)
	}
	if _, err := src.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if src.Title() != "" || src.FrameCount() != 1 {
		t.Fatalf("title=%q frames=%d", src.Title(), src.FrameCount())
	}
}

func TestOpenBytesRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := OpenBytes([]byte("not a zip"), types.Capture{Filename: "a.zip"}); !errors.Is(err, types.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestOpenFileAndClose(t *testing.T) {
	t.Parallel()
	data := buildArchive(t, simulator.Spec{Title: "disk", Frames: 1})
	path := filepath.Join(t.TempDir(), "disk.zip")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	src, err := OpenFile(path, "disk.zip")
	if err != nil {
		t.Fatalf("OpenFile error: %v", err)
	}
	if _, err := src.Initialize(); err != nil {
		t.Fatalf("Initialize error: %v", err)
	}
	if len(src.Entries()) == 0 {
		t.Fatalf("expected entries")
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if _, err := src.DepthBlob(0); err == nil {
		t.Fatalf("expected error after Close")
	}
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.zip"), "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTitleFromFilename(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"a.zip":  "a",
		"a.ZIP":  "a",
		"a":      "a",
		"zip":    "zip",
		"a.zipx": "a.zipx",
	}
	for in, want := range cases {
		if got := TitleFromFilename(in); got != want {
			t.Fatalf("TitleFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
