package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rgbd-stream-go/internal/config"
)

//go:embed web/*
var webFS embed.FS

// Command is a control request sent by a websocket client.
type Command struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Direction string `json:"direction,omitempty"`
	Frame     int    `json:"frame,omitempty"`
}

// ControlFunc executes a command and returns a reply payload for the client.
type ControlFunc func(Command) (any, error)

type Server struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*sync.Mutex
	mu        sync.Mutex
	cfg       config.AppConfig
	statusFn  func() map[string]any
	controlFn ControlFunc
}

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

func New(cfg config.AppConfig, statusFn func() map[string]any, controlFn ControlFunc) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		cfg:       cfg,
		statusFn:  statusFn,
		controlFn: controlFn,
	}
}

func (s *Server) Handler() (http.Handler, error) {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(sub)))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	return mux, nil
}

// Run serves the UI until ctx is done, broadcasting every value received on
// messages to all websocket clients.
func Run(ctx context.Context, cfg config.AppConfig, messages <-chan any, statusFn func() map[string]any, controlFn ControlFunc) error {
	srv := New(cfg, statusFn, controlFn)
	handler, err := srv.Handler()
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	go srv.Broadcast(ctx, messages)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.mu.Lock()
	writeMu := &sync.Mutex{}
	s.clients[conn] = writeMu
	s.mu.Unlock()

	hello := map[string]any{"type": "status"}
	if s.statusFn != nil {
		for k, v := range s.statusFn() {
			hello[k] = v
		}
	}
	_ = s.writeJSON(conn, writeMu, hello)

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := s.writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer s.removeClient(conn)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var cmd Command
			if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Type == "" {
				continue
			}
			_ = s.writeJSON(conn, writeMu, s.execute(cmd))
		}
	}()
}

func (s *Server) execute(cmd Command) map[string]any {
	reply := map[string]any{"type": "reply", "command": cmd.Type}
	if s.controlFn == nil {
		reply["error"] = "control disabled"
		return reply
	}
	result, err := s.controlFn(cmd)
	if err != nil {
		reply["error"] = err.Error()
		return reply
	}
	if result != nil {
		reply["result"] = result
	}
	return reply
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{
		"port":        s.cfg.Port,
		"server_addr": s.cfg.ServerAddr,
		"local_file":  s.cfg.LocalFile,
		"mode":        s.cfg.Mode,
		"queue_cap":   s.cfg.QueueCapacity,
		"publish":     s.cfg.PublishEndpoint,
		"debug":       s.cfg.Debug,
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	payload := map[string]any{}
	if s.statusFn != nil {
		payload = s.statusFn()
	}
	if metrics, ok := payload["metrics"].(map[string]any); ok {
		metrics["ws_clients"] = s.clientCount()
	} else {
		payload["ws_clients"] = s.clientCount()
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// Broadcast forwards messages to every connected client until ctx is done or
// messages is closed.
func (s *Server) Broadcast(ctx context.Context, messages <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			payload, err := json.Marshal(message)
			if err != nil {
				continue
			}
			var stale []*websocket.Conn
			s.mu.Lock()
			for conn, writeMu := range s.clients {
				if err := s.writeMessage(conn, writeMu, websocket.TextMessage, payload); err != nil {
					stale = append(stale, conn)
				}
			}
			s.mu.Unlock()
			for _, conn := range stale {
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) writeJSON(conn *websocket.Conn, writeMu *sync.Mutex, payload any) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(payload)
}

func (s *Server) writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
