package simulator

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"rgbd-stream-go/internal/types"
)

const (
	OpClose int32 = -1
	OpList  int32 = 1
	OpFetch int32 = 2
)

// Capture is one recording served by Server.
type Capture struct {
	Filename string
	Data     []byte
}

// Request is a command as parsed by Server, kept for inspection.
type Request struct {
	Op       int32
	Filename string
}

// Server speaks the capture-server side of the TCP protocol.
type Server struct {
	listener net.Listener

	mu       sync.Mutex
	captures []Capture
	requests []Request
	conns    map[net.Conn]struct{}
}

func Listen(addr string, captures ...Capture) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: ln,
		captures: captures,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) AddCapture(c Capture) {
	s.mu.Lock()
	s.captures = append(s.captures, c)
	s.mu.Unlock()
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
	}()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	buf := make([]byte, 4096)
	for {
		_ = conn.SetReadDeadline(time.Time{})
		if _, err := io.ReadFull(conn, buf[:4]); err != nil {
			return
		}
		// The filename has no length prefix: whatever arrives right after
		// the opcode belongs to it.
		n := 4
		op := int32(binary.LittleEndian.Uint32(buf[:4]))
		if op == OpFetch {
			_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			m, err := conn.Read(buf[4:])
			if err != nil && !isTimeout(err) {
				return
			}
			n += m
		}
		op, name, err := ParseCommand(buf[:n])
		if err != nil {
			log.Printf("simulator: %v", err)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, Request{Op: op, Filename: name})
		s.mu.Unlock()

		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		switch op {
		case OpClose:
			return
		case OpList:
			if _, err := conn.Write(s.listJSON()); err != nil {
				return
			}
		case OpFetch:
			data, ok := s.lookup(name)
			if !ok {
				log.Printf("simulator: unknown capture %q", name)
				data = nil
			}
			var header [4]byte
			binary.LittleEndian.PutUint32(header[:], uint32(len(data)))
			if _, err := conn.Write(append(header[:], data...)); err != nil {
				return
			}
		default:
			log.Printf("simulator: ignoring opcode %d", op)
		}
	}
}

func (s *Server) listJSON() []byte {
	s.mu.Lock()
	list := types.CaptureList{Captures: make([]types.Capture, 0, len(s.captures))}
	for _, c := range s.captures {
		list.Captures = append(list.Captures, types.Capture{Filename: c.Filename})
	}
	s.mu.Unlock()
	data, _ := json.Marshal(list)
	return data
}

func (s *Server) lookup(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.captures {
		if c.Filename == name {
			return c.Data, true
		}
	}
	return nil, false
}

// ParseCommand decodes one client command: a little-endian int32 opcode,
// followed by the UTF-8 filename for OpFetch.
func ParseCommand(data []byte) (int32, string, error) {
	if len(data) < 4 {
		return 0, "", fmt.Errorf("%w: command shorter than 4 bytes", types.ErrProtocol)
	}
	op := int32(binary.LittleEndian.Uint32(data[:4]))
	if op != OpFetch {
		return op, "", nil
	}
	return op, string(data[4:]), nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
