package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"rgbd-stream-go/internal/config"
	"rgbd-stream-go/internal/dispatch"
	"rgbd-stream-go/internal/measure"
	"rgbd-stream-go/internal/output"
	"rgbd-stream-go/internal/pipeline"
	"rgbd-stream-go/internal/playback"
	"rgbd-stream-go/internal/publish"
	"rgbd-stream-go/internal/server"
	"rgbd-stream-go/internal/session"
	"rgbd-stream-go/internal/simulator"
	"rgbd-stream-go/internal/types"
)

type metrics struct {
	captureLists    atomic.Uint64
	archives        atomic.Uint64
	openFailures    atomic.Uint64
	framesReady     atomic.Uint64
	framesPublished atomic.Uint64
	publishErrors   atomic.Uint64
	uiDropped       atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"capture_lists_total":    m.captureLists.Load(),
		"archives_total":         m.archives.Load(),
		"open_failures_total":    m.openFailures.Load(),
		"frames_ready_total":     m.framesReady.Load(),
		"frames_published_total": m.framesPublished.Load(),
		"publish_errors_total":   m.publishErrors.Load(),
		"ui_dropped_total":       m.uiDropped.Load(),
	}
}

// sessionHandler connects network responses to the player and the UI.
type sessionHandler struct {
	cfg     config.AppConfig
	player  *playback.Player
	ui      func(any)
	metrics *metrics
	sess    atomic.Pointer[session.Session]
	fetched atomic.Bool
}

func (h *sessionHandler) OnCaptureList(list types.CaptureList) {
	h.metrics.captureLists.Add(1)
	h.ui(map[string]any{"type": "captures", "captures": list.Captures})
	if h.cfg.Capture == "" || h.fetched.Swap(true) {
		return
	}
	if sess := h.sess.Load(); sess != nil {
		if err := sess.EnqueueFetch(h.cfg.Capture); err != nil {
			log.Printf("fetch %q: %v", h.cfg.Capture, err)
		}
	}
}

func (h *sessionHandler) OnArchive(data []byte, capture types.Capture) {
	h.metrics.archives.Add(1)
	if err := h.player.OpenArchive(data, capture); err != nil {
		h.metrics.openFailures.Add(1)
		log.Printf("open %s: %v", capture.Filename, err)
		h.ui(map[string]any{"type": "error", "error": err.Error()})
	}
}

func main() {
	defaults := config.Default()
	var (
		configPath   = flag.String("config", "", "Optional YAML config overlay")
		port         = flag.Int("port", defaults.Port, "HTTP port for the web UI")
		serverAddr   = flag.String("server", "", "Capture server address (host:port)")
		capture      = flag.String("capture", "", "Capture to fetch once the list arrives (substring match)")
		localFile    = flag.String("file", "", "Play a local capture archive instead of connecting")
		mode         = flag.String("mode", defaults.Mode, "Decode mode: sync, pipelined or parallel")
		queueCap     = flag.Int("queue-cap", defaults.QueueCapacity, "Frame queue capacity in pipelined mode")
		quietWindow  = flag.Duration("quiet-window", defaults.QuietWindow, "Socket silence that ends a capture list")
		listMaxWait  = flag.Duration("list-max-wait", defaults.ListMaxWait, "Upper bound for reading a capture list")
		saveDir      = flag.String("save-dir", "", "Write received archives to this directory")
		outputDir    = flag.String("output-dir", defaults.OutputDir, "Directory for raw logs and measurements")
		rawLog       = flag.Bool("raw-log", false, "Record network responses to a raw log")
		measureFlag  = flag.Bool("measure", false, "Collect data-flow measurements and write them on exit")
		measureLimit = flag.Int("measure-limit", defaults.MeasureLimit, "Measurements kept in memory")
		device       = flag.String("device", defaults.Device, "Device label for measurement files")
		publishAddr  = flag.String("publish", "", "ZMQ PUB endpoint for decoded frames, e.g. tcp://*:5560")
		publishHWM   = flag.Int("publish-hwm", defaults.PublishHWM, "ZMQ send high-water mark")
		autoPlay     = flag.Bool("autoplay", false, "Start playing as soon as a capture is opened")
		debug        = flag.Bool("debug", false, "Serve a synthetic capture from an in-process server")
		debugFrames  = flag.Int("debug-frames", defaults.DebugFrames, "Frames in the synthetic capture")
		logEvery     = flag.Int("log-every", defaults.LogEvery, "Log every Nth per-frame error")
	)
	flag.Parse()

	cfg := defaults
	cfg.Port = *port
	cfg.ServerAddr = *serverAddr
	cfg.Capture = *capture
	cfg.LocalFile = *localFile
	cfg.Mode = *mode
	cfg.QueueCapacity = *queueCap
	cfg.QuietWindow = *quietWindow
	cfg.ListMaxWait = *listMaxWait
	cfg.SaveDir = *saveDir
	cfg.OutputDir = *outputDir
	cfg.RawLog = *rawLog
	cfg.Measure = *measureFlag
	cfg.MeasureLimit = *measureLimit
	cfg.Device = *device
	cfg.PublishEndpoint = *publishAddr
	cfg.PublishHWM = *publishHWM
	cfg.AutoPlay = *autoPlay
	cfg.Debug = *debug
	cfg.DebugFrames = *debugFrames
	cfg.LogEvery = *logEvery
	if *configPath != "" {
		if err := config.Load(*configPath, &cfg); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	playMode, err := playback.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m metrics
	uiMessages := make(chan any, 64)
	ui := func(msg any) {
		select {
		case uiMessages <- msg:
		default:
			m.uiDropped.Add(1)
		}
	}

	dispatcher := dispatch.New(cfg.DispatchBuffer)
	go dispatcher.Run(ctx)

	var collector *measure.Collector
	if cfg.Measure {
		collector = measure.NewCollector(cfg.MeasureLimit)
	}

	var publisher *publish.Publisher
	if cfg.PublishEndpoint != "" {
		publisher, err = publish.NewPublisher(cfg.PublishEndpoint, cfg.PublishHWM)
		if err != nil {
			log.Fatalf("publisher: %v", err)
		}
		defer publisher.Close()
		log.Printf("publishing frames on %s", cfg.PublishEndpoint)
	}

	onFrame := func(f types.FrameReady) {
		m.framesReady.Add(1)
		if publisher != nil {
			if err := publisher.Publish(f); err != nil {
				m.publishErrors.Add(1)
			} else {
				m.framesPublished.Add(1)
			}
		}
		ui(map[string]any{
			"type":     "frame",
			"video_id": f.VideoID,
			"index":    f.Index,
			"width":    f.Width,
			"height":   f.Height,
		})
	}

	var player *playback.Player
	player = playback.NewPlayer(ctx, playMode,
		playback.WithQueueCapacity(cfg.QueueCapacity),
		playback.WithVideoOptions(
			pipeline.WithFrameReady(onFrame),
			pipeline.WithDispatcher(dispatcher),
			pipeline.WithMeasurements(collector),
			pipeline.WithLogEvery(cfg.LogEvery),
		),
		playback.WithOnOpen(func(st playback.Status) {
			ui(map[string]any{"type": "status", "player": st})
			if cfg.AutoPlay {
				_ = player.Play()
			}
		}),
	)
	go player.Run(ctx)

	if cfg.Debug {
		addr, err := startDebugServer(ctx, cfg)
		if err != nil {
			log.Fatalf("debug server: %v", err)
		}
		cfg.ServerAddr = addr
		if cfg.Capture == "" {
			cfg.Capture = "debug"
		}
		log.Printf("debug capture server on %s", addr)
	}

	var sess *session.Session
	switch {
	case cfg.LocalFile != "":
		if err := player.OpenFile(cfg.LocalFile); err != nil {
			log.Fatalf("open %s: %v", cfg.LocalFile, err)
		}
	case cfg.ServerAddr != "":
		handler := &sessionHandler{cfg: cfg, player: player, ui: ui, metrics: &m}
		opts := []session.Option{
			session.WithHandler(handler),
			session.WithDispatcher(dispatcher),
			session.WithMeasurements(collector),
			session.WithQuietWindow(cfg.QuietWindow),
			session.WithListMaxWait(cfg.ListMaxWait),
		}
		if cfg.SaveDir != "" {
			opts = append(opts, session.WithSaveDir(cfg.SaveDir))
		}
		if cfg.RawLog {
			writer, err := output.NewRawLogWriter(cfg.OutputDir, "responses")
			if err != nil {
				log.Fatalf("failed to start raw log: %v", err)
			}
			defer func() {
				if err := writer.Close(); err != nil {
					log.Printf("raw log close failed: %v", err)
				}
			}()
			opts = append(opts, session.WithRecorder(writer))
		}
		sess, err = session.Dial(ctx, cfg.ServerAddr, opts...)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		handler.sess.Store(sess)
		if err := sess.EnqueueList(); err != nil {
			log.Fatalf("list: %v", err)
		}
		go func() {
			if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("session stopped: %v", err)
				ui(map[string]any{"type": "error", "error": err.Error()})
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := player.Status()
				log.Printf("playback stats: produced=%d decoded=%d fetch_failures=%d codec_failures=%d ready=%d",
					st.Stats.Produced, st.Stats.Decoded, st.Stats.FetchFailures, st.Stats.CodecFailures, m.framesReady.Load())
			}
		}
	}()

	statusFn := func() map[string]any {
		metricsPayload := m.snapshot()
		metricsPayload["dispatch_dropped_total"] = dispatcher.Dropped()
		if publisher != nil {
			metricsPayload["publish_sent_total"] = publisher.Sent()
			metricsPayload["publish_dropped_total"] = publisher.Dropped()
		}
		payload := map[string]any{
			"player":  player.Status(),
			"metrics": metricsPayload,
		}
		if sess != nil {
			payload["session"] = sess.Stats()
			payload["captures"] = sess.Captures()
		}
		if collector != nil {
			payload["measurements"] = collector.Summary()
		}
		return payload
	}

	controlFn := func(cmd server.Command) (any, error) {
		switch cmd.Type {
		case "list":
			if sess == nil {
				return nil, errors.New("not connected")
			}
			return nil, sess.EnqueueList()
		case "fetch":
			if sess == nil {
				return nil, errors.New("not connected")
			}
			return nil, sess.EnqueueFetch(cmd.Name)
		case "play":
			return nil, player.Play()
		case "pause":
			player.Pause()
			return nil, nil
		case "direction":
			d, err := playback.ParseDirection(cmd.Direction)
			if err != nil {
				return nil, err
			}
			player.SetDirection(d)
			return nil, nil
		case "seek":
			return nil, player.Seek(cmd.Frame)
		case "step":
			i, err := player.Step()
			return map[string]any{"index": i}, err
		case "status":
			return player.Status(), nil
		default:
			return nil, fmt.Errorf("unknown command %q", cmd.Type)
		}
	}

	log.Printf("Starting web UI at http://localhost:%d\n", cfg.Port)
	if err := server.Run(ctx, cfg, uiMessages, statusFn, controlFn); err != nil {
		log.Printf("server stopped: %v", err)
	}

	if err := player.Close(); err != nil {
		log.Printf("player close: %v", err)
	}
	if collector != nil {
		path, err := output.WriteMeasurements(cfg.OutputDir, cfg.Device, collector.Snapshot())
		if err != nil {
			log.Printf("write measurements: %v", err)
		} else if path != "" {
			log.Printf("wrote measurements to %s", path)
		}
	}
}

// startDebugServer serves two synthetic captures, "debug.zip" with a
// background track and "debug_plain.zip" without.
func startDebugServer(ctx context.Context, cfg config.AppConfig) (string, error) {
	srv, err := simulator.Listen("127.0.0.1:0")
	if err != nil {
		return "", err
	}
	for _, c := range []struct {
		name       string
		background bool
	}{{"debug", true}, {"debug_plain", false}} {
		data, err := simulator.BuildArchive(simulator.Spec{
			Title:      c.name,
			Width:      64,
			Height:     48,
			FPS:        30,
			Frames:     cfg.DebugFrames,
			Intrinsics: types.Intrinsics{Fx: 60, Fy: 60, Tx: 32, Ty: 24},
			Background: c.background,
		})
		if err != nil {
			return "", err
		}
		srv.AddCapture(simulator.Capture{Filename: c.name + ".zip", Data: data})
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			log.Printf("debug server stopped: %v", err)
		}
	}()
	return srv.Addr(), nil
}
