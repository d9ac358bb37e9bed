package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"rgbd-stream-go/internal/types"
)

const (
	metadataEntry    = "metadata"
	framesDir        = "rgbd/"
	backgroundPrefix = "rgbd/bg/bgColor"
	depthSuffix      = ".depth"
	rawDepthSuffix   = ".bytes"
	colorSuffix      = ".jpg"

	maxPrealloc = 64 << 20
)

type ZipSource struct {
	mu     sync.RWMutex
	reader *zip.Reader
	closer io.Closer
	files  map[string]*zip.File
	closed bool

	title         string
	frameCount    int
	depthSuffix   string
	hasBackground bool
	initialized   bool
	meta          types.FrameMetadata
}

// OpenBytes wraps an archive received over the network. The capture's
// filename, minus its ".zip" suffix, is the entry prefix.
func OpenBytes(data []byte, capture types.Capture) (*ZipSource, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", types.ErrParse, err)
	}
	return newZipSource(reader, nil, TitleFromFilename(capture.Filename)), nil
}

// OpenFile opens a capture archive from local disk.
func OpenFile(path string, title string) (*ZipSource, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", types.ErrNotFound, path, err)
	}
	return newZipSource(&rc.Reader, rc, TitleFromFilename(title)), nil
}

func newZipSource(reader *zip.Reader, closer io.Closer, title string) *ZipSource {
	files := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		files[f.Name] = f
	}
	return &ZipSource{
		reader: reader,
		closer: closer,
		files:  files,
		title:  strings.Trim(title, "/"),
	}
}

func (s *ZipSource) Initialize() (types.FrameMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.FrameMetadata{}, fmt.Errorf("%w: archive closed", types.ErrNotFound)
	}
	if s.initialized {
		return s.meta, nil
	}

	f, ok := s.files[s.path(metadataEntry)]
	if !ok && s.title != "" {
		// Some captures are zipped without the title directory.
		if root, found := s.files[metadataEntry]; found {
			f, ok = root, true
			s.title = ""
		}
	}
	if !ok {
		return types.FrameMetadata{}, fmt.Errorf("%w: metadata entry %q", types.ErrNotFound, s.path(metadataEntry))
	}
	data, err := readFile(f)
	if err != nil {
		return types.FrameMetadata{}, err
	}
	meta, err := types.ParseMetadata(data)
	if err != nil {
		return types.FrameMetadata{}, err
	}

	s.depthSuffix = depthSuffix
	s.frameCount = s.countFrames(depthSuffix)
	if s.frameCount == 0 {
		s.depthSuffix = rawDepthSuffix
		s.frameCount = s.countFrames(rawDepthSuffix)
	}
	bgPrefix := s.path(backgroundPrefix)
	for name := range s.files {
		if strings.HasPrefix(name, bgPrefix) && strings.HasSuffix(name, colorSuffix) {
			s.hasBackground = true
			break
		}
	}
	s.initialized = true
	s.meta = meta
	return meta, nil
}

func (s *ZipSource) countFrames(suffix string) int {
	prefix := s.path(framesDir)
	bgPrefix := s.path("rgbd/bg/")
	count := 0
	for name := range s.files {
		if strings.HasPrefix(name, prefix) && !strings.HasPrefix(name, bgPrefix) && strings.HasSuffix(name, suffix) {
			count++
		}
	}
	return count
}

func (s *ZipSource) FrameCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frameCount
}

func (s *ZipSource) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// DepthSuffix is ".depth" for compressed depth frames and ".bytes" for raw
// float32 frames. Empty before Initialize.
func (s *ZipSource) DepthSuffix() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depthSuffix
}

func (s *ZipSource) HasBackground() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasBackground
}

func (s *ZipSource) DepthBlob(index int) ([]byte, error) {
	return s.blob(index, func() string {
		return fmt.Sprintf("%s%d%s", framesDir, index, s.depthSuffix)
	})
}

func (s *ZipSource) ColorBlob(index int) ([]byte, error) {
	return s.blob(index, func() string {
		return fmt.Sprintf("%s%d%s", framesDir, index, colorSuffix)
	})
}

func (s *ZipSource) BackgroundColorBlob(index int) ([]byte, error) {
	return s.blob(index, func() string {
		return fmt.Sprintf("%s%d%s", backgroundPrefix, index, colorSuffix)
	})
}

func (s *ZipSource) blob(index int, name func() string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("%w: archive closed", types.ErrNotFound)
	}
	if index < 0 || index >= s.frameCount {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", types.ErrOutOfRange, index, s.frameCount)
	}
	entry := s.path(name())
	f, ok := s.files[entry]
	if !ok {
		return nil, fmt.Errorf("%w: entry %q", types.ErrNotFound, entry)
	}
	return readFile(f)
}

// Close releases the container. Safe to call more than once.
func (s *ZipSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.files = nil
	s.reader = nil
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Entries lists entry names in archive order.
func (s *ZipSource) Entries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return nil
	}
	names := make([]string, 0, len(s.reader.File))
	for _, f := range s.reader.File {
		names = append(names, f.Name)
	}
	return names
}

func (s *ZipSource) path(name string) string {
	if s.title == "" {
		return name
	}
	return s.title + "/" + name
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open entry %q: %v", types.ErrParse, f.Name, err)
	}
	defer rc.Close()
	size := f.UncompressedSize64
	if size > maxPrealloc {
		size = maxPrealloc
	}
	buf := bytes.NewBuffer(make([]byte, 0, int(size)))
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, fmt.Errorf("%w: read entry %q: %v", types.ErrParse, f.Name, err)
	}
	return buf.Bytes(), nil
}
