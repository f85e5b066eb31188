// Package rtmp accepts RTMP publishes and converts the FLV-framed AVC and
// AAC payloads into normalized frames for the inspection pipeline. Each
// published stream gets its own shared-timeline adjuster, anchored by video.
package rtmp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	gortmp "github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

// Server accepts RTMP connections and dispatches published streams to the
// onStream callback for pipeline setup. The callback runs synchronously
// inside the publish handshake, before any media tags are delivered, so it
// may attach a stats recorder to the stream.
type Server struct {
	log      *slog.Logger
	addr     string
	onStream func(*Stream)

	mu      sync.Mutex
	streams map[string]*Stream
}

// NewServer creates a Server listening on addr once Run is called. If log
// is nil, slog.Default() is used.
func NewServer(addr string, onStream func(*Stream), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "rtmp"),
		addr:     addr,
		onStream: onStream,
		streams:  make(map[string]*Stream),
	}
}

// Run serves RTMP until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rtmp: listen %s: %w", s.addr, err)
	}
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info("rtmp server listening", "addr", s.addr)
	srv := gortmp.NewServer(&gortmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *gortmp.ConnConfig) {
			return conn, &gortmp.ConnConfig{
				Handler: &connHandler{srv: s, log: s.log},
				ControlState: gortmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Get returns the published stream for the given key, or false.
func (s *Server) Get(key string) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[key]
	return st, ok
}

func (s *Server) register(key string) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[key]; ok {
		return nil, fmt.Errorf("rtmp: stream key %q already publishing", key)
	}
	st := newStream(key, s.log)
	s.streams[key] = st
	return st, nil
}

func (s *Server) unregister(key string) {
	s.mu.Lock()
	delete(s.streams, key)
	s.mu.Unlock()
}

// connHandler handles one RTMP connection. All callbacks run on the
// connection's read goroutine.
type connHandler struct {
	gortmp.DefaultHandler
	srv    *Server
	log    *slog.Logger
	stream *Stream
}

func (h *connHandler) OnPublish(_ *gortmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPublish) error {
	key := strings.TrimPrefix(cmd.PublishingName, "/")
	if key == "" {
		return errors.New("rtmp: empty stream key rejected")
	}
	st, err := h.srv.register(key)
	if err != nil {
		return err
	}
	h.stream = st
	h.log.Info("stream published", "key", key)
	if h.srv.onStream != nil {
		h.srv.onStream(st)
	}
	return nil
}

func (h *connHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	if h.stream == nil {
		return nil
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	if err := h.stream.HandleVideo(timestamp, data); err != nil {
		// A malformed tag is the publisher's bug, not a reason to kill
		// the whole session.
		h.log.Warn("dropping video tag", "key", h.stream.Key, "error", err)
	}
	return nil
}

func (h *connHandler) OnAudio(timestamp uint32, payload io.Reader) error {
	if h.stream == nil {
		return nil
	}
	data, err := io.ReadAll(payload)
	if err != nil {
		return err
	}
	if err := h.stream.HandleAudio(timestamp, data); err != nil {
		h.log.Warn("dropping audio tag", "key", h.stream.Key, "error", err)
	}
	return nil
}

func (h *connHandler) OnClose() {
	if h.stream == nil {
		return
	}
	h.log.Info("stream unpublished", "key", h.stream.Key,
		"audioDroppedBeforeAnchor", h.stream.audioDropped)
	h.srv.unregister(h.stream.Key)
	h.stream.Close()
	h.stream = nil
}
