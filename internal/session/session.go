// Package session is the client side of the capture server's TCP protocol:
// it lists available captures and transfers capture archives.
package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rgbd-stream-go/internal/dispatch"
	"rgbd-stream-go/internal/measure"
	"rgbd-stream-go/internal/types"
)

const (
	DefaultQuietWindow = 250 * time.Millisecond
	DefaultListMaxWait = 10 * time.Second
	commandBuffer      = 16
)

var ErrClosed = errors.New("session closed")

// Handler receives completed responses. Calls are delivered through the
// session's dispatcher.
type Handler interface {
	OnCaptureList(list types.CaptureList)
	OnArchive(data []byte, capture types.Capture)
}

// Recorder persists raw responses, e.g. output.RawLogWriter.
type Recorder interface {
	RecordResponse(kind string, transferID string, payload []byte) error
}

type Option func(*Session)

func WithHandler(h Handler) Option {
	return func(s *Session) { s.handler = h }
}

func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(s *Session) { s.dispatcher = d }
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

func WithMeasurements(c *measure.Collector) Option {
	return func(s *Session) { s.measurements = c }
}

// WithSaveDir writes every received archive to dir under its capture filename.
func WithSaveDir(dir string) Option {
	return func(s *Session) { s.saveDir = dir }
}

// WithQuietWindow sets how long the socket must stay silent before a capture
// list is considered complete.
func WithQuietWindow(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.quiet = d
		}
	}
}

// WithListMaxWait bounds the total time spent reading one capture list.
func WithListMaxWait(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.listMaxWait = d
		}
	}
}

type command struct {
	op   int32
	name string
}

type Stats struct {
	CommandsSent  uint64 `json:"commands_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	Lists         uint64 `json:"lists"`
	Archives      uint64 `json:"archives"`
	Failures      uint64 `json:"failures"`
	Expecting     string `json:"expecting"`
}

type Session struct {
	conn     net.Conn
	commands chan command

	handler      Handler
	dispatcher   *dispatch.Dispatcher
	recorder     Recorder
	measurements *measure.Collector
	saveDir      string
	quiet        time.Duration
	listMaxWait  time.Duration

	mu           sync.Mutex
	captures     types.CaptureList
	listReceived bool

	closeOnce sync.Once
	closed    atomic.Bool
	expecting atomic.Int32

	commandsSent  atomic.Uint64
	bytesReceived atomic.Uint64
	lists         atomic.Uint64
	archives      atomic.Uint64
	failures      atomic.Uint64
}

// Dial connects to a capture server. Failure wraps types.ErrConnection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrConnection, addr, err)
	}
	return newSession(conn, opts...), nil
}

func newSession(conn net.Conn, opts ...Option) *Session {
	s := &Session{
		conn:        conn,
		commands:    make(chan command, commandBuffer),
		quiet:       DefaultQuietWindow,
		listMaxWait: DefaultListMaxWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) EnqueueList() error {
	return s.enqueue(command{op: OpList})
}

func (s *Session) EnqueueFetch(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty capture name", types.ErrNotFound)
	}
	return s.enqueue(command{op: OpFetch, name: name})
}

// EnqueueClose asks the server to end the session; Run returns nil once the
// command is sent.
func (s *Session) EnqueueClose() error {
	return s.enqueue(command{op: OpClose})
}

func (s *Session) enqueue(cmd command) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.commands <- cmd:
		return nil
	default:
		return fmt.Errorf("command queue full, dropping %s", opName(cmd.op))
	}
}

// Captures returns the last received capture list.
func (s *Session) Captures() []types.Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Capture(nil), s.captures.Captures...)
}

func (s *Session) Stats() Stats {
	return Stats{
		CommandsSent:  s.commandsSent.Load(),
		BytesReceived: s.bytesReceived.Load(),
		Lists:         s.lists.Load(),
		Archives:      s.archives.Load(),
		Failures:      s.failures.Load(),
		Expecting:     responseKind(s.expecting.Load()).String(),
	}
}

// Close drops the connection without notifying the server. Safe to call more
// than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// Run sends queued commands and reads their responses until EnqueueClose, ctx
// cancellation or a connection error. Protocol and parse errors abort only
// the response they occur in.
func (s *Session) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()
	defer s.Close()

	for {
		var cmd command
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd = <-s.commands:
		}
		err := s.execute(cmd)
		if cmd.op == OpClose && err == nil {
			return nil
		}
		if err == nil {
			continue
		}
		s.failures.Add(1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, types.ErrConnection) {
			return err
		}
		log.Printf("session %s (%s): %v", opName(cmd.op), expectedResponse(cmd.op), err)
	}
}

func expectedResponse(op int32) responseKind {
	switch op {
	case OpList:
		return responseList
	case OpFetch:
		return responseArchive
	default:
		return responseNone
	}
}

// execute sends one command and reads its response. The expected response
// kind is set before the send and cleared once the read is over.
func (s *Session) execute(cmd command) error {
	s.expecting.Store(int32(expectedResponse(cmd.op)))
	defer s.expecting.Store(int32(responseNone))
	switch cmd.op {
	case OpList:
		if err := s.send(cmd.op, ""); err != nil {
			return err
		}
		return s.receiveList()
	case OpFetch:
		capture, err := s.selectCapture(cmd.name)
		if err != nil {
			return err
		}
		if err := s.send(cmd.op, capture.Filename); err != nil {
			return err
		}
		return s.receiveArchive(capture)
	case OpClose:
		return s.send(cmd.op, "")
	default:
		return fmt.Errorf("%w: unknown opcode %d", types.ErrProtocol, cmd.op)
	}
}

// selectCapture picks the first listed capture whose filename contains name.
// Before any list was received the name is used verbatim.
func (s *Session) selectCapture(name string) (types.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.listReceived {
		return types.Capture{Filename: name}, nil
	}
	c, ok := s.captures.Find(name)
	if !ok {
		return types.Capture{}, fmt.Errorf("%w: no capture matches %q", types.ErrNotFound, name)
	}
	return c, nil
}

func (s *Session) send(op int32, name string) error {
	if _, err := s.conn.Write(EncodeCommand(op, name)); err != nil {
		return fmt.Errorf("%w: send %s: %v", types.ErrConnection, opName(op), err)
	}
	s.commandsSent.Add(1)
	return nil
}

func (s *Session) receiveList() error {
	done := s.measurements.Start(measure.StageNetwork, -1, 0)
	data, err := s.readUntilQuiet()
	if err != nil {
		return err
	}
	done(len(data))
	s.record("capture_list", data)

	list, err := types.ParseCaptureList(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.captures = list
	s.listReceived = true
	s.mu.Unlock()
	s.lists.Add(1)
	log.Printf("session: %d captures available", len(list.Captures))

	if s.handler != nil {
		s.dispatcher.Enqueue(func() { s.handler.OnCaptureList(list) })
	}
	return nil
}

// readUntilQuiet reads the unframed capture list. It ends once the socket
// was silent for the quiet window and the bytes read form a JSON document.
func (s *Session) readUntilQuiet() ([]byte, error) {
	defer s.conn.SetReadDeadline(time.Time{})
	var buf bytes.Buffer
	chunk := make([]byte, transferChunk)
	deadline := time.Now().Add(s.listMaxWait)
	for {
		wait := s.quiet
		if buf.Len() == 0 {
			wait = time.Until(deadline)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wait))
		n, err := s.conn.Read(chunk)
		buf.Write(chunk[:n])
		s.bytesReceived.Add(uint64(n))
		if err == nil {
			continue
		}
		if !isTimeout(err) {
			// A server may close right after a complete list; the dead socket
			// surfaces on the next command.
			if errors.Is(err, io.EOF) && buf.Len() > 0 && json.Valid(buf.Bytes()) {
				return buf.Bytes(), nil
			}
			return nil, fmt.Errorf("%w: read capture list: %v", types.ErrConnection, err)
		}
		if buf.Len() > 0 && json.Valid(buf.Bytes()) {
			return buf.Bytes(), nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: capture list incomplete after %s (%d bytes)", types.ErrProtocol, s.listMaxWait, buf.Len())
		}
	}
}

func (s *Session) receiveArchive(capture types.Capture) error {
	done := s.measurements.Start(measure.StageNetwork, -1, 0)
	var header [4]byte
	if _, err := io.ReadFull(s.conn, header[:]); err != nil {
		return fmt.Errorf("%w: read length prefix: %v", types.ErrConnection, err)
	}
	s.bytesReceived.Add(4)
	size := int32(binary.LittleEndian.Uint32(header[:]))
	if size < 0 {
		return fmt.Errorf("%w: negative archive length %d", types.ErrProtocol, size)
	}

	data := make([]byte, int(size))
	for off := 0; off < len(data); {
		end := min(off+transferChunk, len(data))
		n, err := s.conn.Read(data[off:end])
		off += n
		s.bytesReceived.Add(uint64(n))
		if n == 0 && err != nil {
			return fmt.Errorf("%w: archive truncated at %d of %d bytes: %v", types.ErrConnection, off, len(data), err)
		}
	}
	done(len(data))
	s.archives.Add(1)

	transferID := s.record("archive", data)
	log.Printf("session: received %s (%d bytes, transfer %s)", capture.Filename, len(data), transferID)
	if s.saveDir != "" {
		if err := saveArchive(s.saveDir, capture, data); err != nil {
			log.Printf("session: save archive: %v", err)
		}
	}
	if s.handler != nil {
		s.dispatcher.Enqueue(func() { s.handler.OnArchive(data, capture) })
	}
	return nil
}

func (s *Session) record(kind string, payload []byte) string {
	id := uuid.NewString()
	if s.recorder == nil {
		return id
	}
	if err := s.recorder.RecordResponse(kind, id, payload); err != nil {
		log.Printf("session: rawlog record failed: %v", err)
	}
	return id
}

func saveArchive(dir string, capture types.Capture, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := filepath.Base(capture.Filename)
	if name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid capture filename %q", capture.Filename)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
