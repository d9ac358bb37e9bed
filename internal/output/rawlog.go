package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const rawLogMagic = "RGBDRAW1"

const rawLogHeaderSize = 12

// RawLogWriter appends length-prefixed records to a capture log:
// 8-byte magic, then per record an 8-byte unix-nano timestamp and a 4-byte
// payload size (both little-endian) followed by the payload.
type RawLogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// ResponseRecord is the CBOR payload written by RecordResponse.
type ResponseRecord struct {
	Kind       string `cbor:"kind"`
	TransferID string `cbor:"transfer_id"`
	Payload    []byte `cbor:"payload"`
}

type RawLogEntry struct {
	Timestamp time.Time
	Payload   []byte
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.bin", timestamp, prefix))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(rawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		f:    f,
		w:    w,
		path: filename,
	}, nil
}

func (r *RawLogWriter) Path() string {
	return r.path
}

func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	var header [rawLogHeaderSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

// RecordResponse logs one complete network response.
func (r *RawLogWriter) RecordResponse(kind string, transferID string, payload []byte) error {
	data, err := cbor.Marshal(ResponseRecord{Kind: kind, TransferID: transferID, Payload: payload})
	if err != nil {
		return err
	}
	return r.Record(data)
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

// ReadRawLog calls fn for every record in r, stopping at the first error.
func ReadRawLog(r io.Reader, fn func(RawLogEntry) error) error {
	br := bufio.NewReader(r)
	magic := make([]byte, len(rawLogMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != rawLogMagic {
		return fmt.Errorf("unexpected magic %q", magic)
	}
	var header [rawLogHeaderSize]byte
	for {
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read record header: %w", err)
		}
		ts := int64(binary.LittleEndian.Uint64(header[:8]))
		size := binary.LittleEndian.Uint32(header[8:12])
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("read record payload (%d bytes): %w", size, err)
		}
		if err := fn(RawLogEntry{Timestamp: time.Unix(0, ts), Payload: payload}); err != nil {
			return err
		}
	}
}

// DecodeResponse decodes a payload written by RecordResponse.
func DecodeResponse(payload []byte) (ResponseRecord, error) {
	var rec ResponseRecord
	if err := cbor.Unmarshal(payload, &rec); err != nil {
		return ResponseRecord{}, err
	}
	return rec, nil
}
