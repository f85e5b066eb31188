// Package api serves the stream inspection surface over HTTP/3 and
// HTTPS: stream listing, per-stream stats and timestamp diagnostics,
// MP4 init-segment probing, SRT pull management, and HTTP transport
// stream ingest.
package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/refract/internal/certs"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mp4"
	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/srt"
	"github.com/zsiec/refract/internal/stats"
	"github.com/zsiec/refract/internal/stream"
)

// probeMaxBytes bounds the request body accepted by the MP4 probe
// endpoint. Initialization segments are metadata-only and small.
const probeMaxBytes = 32 << 20

// Config holds the API server's listen address, TLS certificate, and
// the subsystems it fronts. Caller is optional; when nil the SRT pull
// endpoints report not-configured.
type Config struct {
	Addr     string
	Cert     *certs.CertInfo
	Manager  *stream.Manager
	Registry *ingest.Registry
	Caller   *srt.Caller
}

// Server exposes the inspection API on one address: HTTP/3 over UDP
// and HTTPS over TCP, both serving the same mux.
type Server struct {
	cfg Config
	log *slog.Logger
	h3  *http3.Server
}

// NewServer validates the config and creates an API server. If log is
// nil, slog.Default() is used.
func NewServer(cfg Config, log *slog.Logger) (*Server, error) {
	if cfg.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	if cfg.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("api: Manager is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, log: log.With("component", "api")}, nil
}

// StreamInfo is the summary entry returned by the stream list endpoint.
type StreamInfo struct {
	Key         string `json:"key"`
	Protocol    string `json:"protocol"`
	UptimeMs    int64  `json:"uptimeMs"`
	VideoCodec  string `json:"videoCodec,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	AudioTracks int    `json:"audioTracks,omitempty"`
	HasCaptions bool   `json:"hasCaptions,omitempty"`
	HasSCTE35   bool   `json:"hasScte35,omitempty"`
}

// streamDetail is the full per-stream payload: the stats snapshot plus
// the current track inventory.
type streamDetail struct {
	Key       string               `json:"key"`
	StartedAt int64                `json:"startedAt"`
	Stats     stats.StreamSnapshot `json:"stats"`
	Tracks    []media.TrackInfo    `json:"tracks"`
}

// debugSnapshot aggregates transport, forwarding, and timestamp
// diagnostics for one stream.
type debugSnapshot struct {
	Ingest   *ingest.Stats       `json:"ingest,omitempty"`
	Pipeline pipeline.DebugStats `json:"pipeline"`
	PTS      stats.PTSDebugStats `json:"pts"`
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

// Handler returns the API's http.Handler, shared by the HTTP/3 and
// HTTPS listeners.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/streams", s.handleListStreams)
	mux.HandleFunc("GET /api/streams/{key}", s.handleStreamDetail)
	mux.HandleFunc("GET /api/streams/{key}/debug", s.handleStreamDebug)
	mux.HandleFunc("DELETE /api/streams/{key}", s.handleStreamStop)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("POST /api/probe", s.handleProbe)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/srt-pull", s.handleSRTPullOptions)
	mux.HandleFunc("POST /api/ingest/{key}", s.handleIngestPush)
	return corsMiddleware(mux)
}

// Run serves until the context is cancelled. HTTP/3 binds the UDP side
// of Addr and HTTPS the TCP side; the TCP responses carry Alt-Svc so
// capable clients upgrade.
func (s *Server) Run(ctx context.Context) error {
	handler := s.Handler()
	tlsConf := &tls.Config{Certificates: []tls.Certificate{s.cfg.Cert.TLSCert}}

	s.h3 = &http3.Server{
		Addr:      s.cfg.Addr,
		Handler:   handler,
		TLSConfig: tlsConf,
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
			Allow0RTT:      true,
		},
	}
	httpsSrv := &http.Server{
		Addr: s.cfg.Addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
				s.log.Debug("alt-svc header unavailable", "error", err)
			}
			handler.ServeHTTP(w, r)
		}),
		TLSConfig: tlsConf,
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		s.h3.Close()
		httpsSrv.Close()
	})
	defer stop()

	s.log.Info("api listening", "addr", s.cfg.Addr)
	g.Go(func() error { return s.h3.ListenAndServe() })
	g.Go(func() error { return httpsSrv.ListenAndServeTLS("", "") })

	err := g.Wait()
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(s.log, w, code, map[string]string{"error": msg})
}

func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	sessions := s.cfg.Manager.List()
	resp := make([]StreamInfo, 0, len(sessions))
	for _, sess := range sessions {
		snap := sess.Pipeline.Snapshot()
		resp = append(resp, StreamInfo{
			Key:         sess.Key,
			Protocol:    sess.Protocol,
			UptimeMs:    snap.UptimeMs,
			VideoCodec:  snap.Video.Codec,
			Width:       snap.Video.Width,
			Height:      snap.Video.Height,
			AudioTracks: len(snap.Audio),
			HasCaptions: snap.Captions.TotalFrames > 0,
			HasSCTE35:   snap.Splices.TotalEvents > 0,
		})
	}
	writeJSON(s.log, w, http.StatusOK, resp)
}

func (s *Server) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Manager.Get(r.PathValue("key"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	snap := sess.Pipeline.Snapshot()
	writeJSON(s.log, w, http.StatusOK, streamDetail{
		Key:       sess.Key,
		StartedAt: sess.StartedAt.UnixMilli(),
		Stats:     snap,
		Tracks:    sess.Pipeline.Tracks(),
	})
}

func (s *Server) handleStreamDebug(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	sess, ok := s.cfg.Manager.Get(key)
	if !ok {
		s.writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	snap := debugSnapshot{
		Pipeline: sess.Pipeline.Debug(),
		PTS:      sess.Pipeline.PTSDebug(),
	}
	if s.cfg.Registry != nil {
		if st, ok := s.cfg.Registry.Get(key); ok {
			is := st.Stats()
			snap.Ingest = &is
		}
	}
	writeJSON(s.log, w, http.StatusOK, snap)
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.cfg.Manager.Stop(key) {
		s.writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "stopped", "key": key})
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.log, w, http.StatusOK, certHashResponse{
		Hash: s.cfg.Cert.FingerprintBase64(),
		Addr: s.cfg.Addr,
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, probeMaxBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body) > probeMaxBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "init segment too large")
		return
	}
	res, err := mp4.Probe(body)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(s.log, w, http.StatusOK, res)
}

func (s *Server) handleSRTPullOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSRTPullList(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Caller == nil {
		writeJSON(s.log, w, http.StatusOK, []srt.PullRequest{})
		return
	}
	writeJSON(s.log, w, http.StatusOK, s.cfg.Caller.ActivePulls())
}

// SECURITY: the pull endpoint dials arbitrary addresses. Deployments
// exposed beyond a trusted network must gate it at a proxy.
func (s *Server) handleSRTPullCreate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Caller == nil {
		s.writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	var req srt.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.StreamKey == "" {
		s.writeError(w, http.StatusBadRequest, "address and streamKey are required")
		return
	}
	if err := s.cfg.Caller.Pull(r.Context(), req); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(s.log, w, http.StatusCreated, map[string]string{"status": "pulling", "streamKey": req.StreamKey})
}

func (s *Server) handleSRTPullStop(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Caller == nil {
		s.writeError(w, http.StatusNotImplemented, "SRT pull not configured")
		return
	}
	streamKey := r.URL.Query().Get("streamKey")
	if streamKey == "" {
		s.writeError(w, http.StatusBadRequest, "streamKey query parameter required")
		return
	}
	if err := s.cfg.Caller.Stop(streamKey); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(s.log, w, http.StatusOK, map[string]string{"status": "stopped", "streamKey": streamKey})
}

// handleIngestPush accepts a raw MPEG-TS body and feeds it to the
// ingest registry under the path key, blocking until the body ends.
func (s *Server) handleIngestPush(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Registry == nil {
		s.writeError(w, http.StatusNotImplemented, "ingest not configured")
		return
	}
	key := r.PathValue("key")

	st, writer := s.cfg.Registry.Register(key, "http", ingest.FormatMPEGTS)
	st.SetRemoteAddr(r.RemoteAddr)
	defer s.cfg.Registry.Unregister(st)

	buf := make([]byte, 64*1024)
	for {
		n, err := r.Body.Read(buf)
		if n > 0 {
			st.RecordRead(n)
			if _, werr := writer.Write(buf[:n]); werr != nil {
				s.writeError(w, http.StatusConflict, "stream replaced")
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("http ingest read failed", "key", key, "error", err)
			}
			break
		}
	}

	final := st.Stats()
	writeJSON(s.log, w, http.StatusOK, final)
}
