// Package stream tracks the lifecycle of active live streams, binding each
// ingest connection to its demux pipeline, telemetry collector, and RTP
// output, and providing the lookup surface the API serves from.
package stream

import (
	"context"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/rtmp"
	"github.com/zsiec/refract/internal/rtp"
	"github.com/zsiec/refract/internal/stats"
	"github.com/zsiec/refract/internal/timestamp"
)

// Session is one live stream and the pipeline inspecting it.
type Session struct {
	Key       string
	Protocol  string
	StartedAt time.Time
	Pipeline  *pipeline.Pipeline

	cancel context.CancelFunc
}

// Manager manages the lifecycle of active stream sessions. Sessions are
// created by the ingest callbacks and removed when their pipeline exits.
type Manager struct {
	log     *slog.Logger
	rtpAddr string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a stream manager. rtpAddr, when non-empty, is the UDP
// destination each session's video is packetized to. If log is nil,
// slog.Default() is used.
func NewManager(rtpAddr string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "stream-manager"),
		rtpAddr:  rtpAddr,
		sessions: make(map[string]*Session),
	}
}

// HandleIngest builds a demux pipeline for a newly registered transport
// stream and runs it in the background. It is the ingest.Registry onStream
// callback, bound to the process context in main.
func (m *Manager) HandleIngest(ctx context.Context, st *ingest.Stream, input io.Reader) {
	adjuster := timestamp.NewAdjuster(timestamp.ModeShared)
	collector := stats.NewCollector()

	dmx := demux.NewDemuxer(input, adjuster, m.log.With("stream", st.Key))
	dmx.SetStats(collector)

	p := pipeline.New(st.Key, st.Protocol, dmx, collector, m.log)
	p.SetIngestStats(st.Stats)

	m.start(ctx, st.Key, st.Protocol, p, st.Done())
}

// HandleRTMP builds a pipeline for a published RTMP stream. It runs
// synchronously inside the publish handshake and must not block.
func (m *Manager) HandleRTMP(ctx context.Context, rs *rtmp.Stream) {
	collector := stats.NewCollector()
	rs.SetStats(collector)

	p := pipeline.New(rs.Key, "rtmp", rs, collector, m.log)
	m.start(ctx, rs.Key, "rtmp", p, rs.Done())
}

// start registers the session, replacing any session already under the
// key, and launches the pipeline goroutine. done, when non-nil, signals
// that the underlying connection went away.
func (m *Manager) start(ctx context.Context, key, protocol string, p *pipeline.Pipeline, done <-chan struct{}) {
	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		Key:       key,
		Protocol:  protocol,
		StartedAt: time.Now(),
		Pipeline:  p,
		cancel:    cancel,
	}

	m.mu.Lock()
	if old := m.sessions[key]; old != nil {
		old.cancel()
	}
	m.sessions[key] = sess
	m.mu.Unlock()
	m.log.Info("session started", "key", key, "protocol", protocol)

	var sender *rtp.Sender
	if m.rtpAddr != "" {
		s, err := rtp.NewSender(m.rtpAddr, ssrcForKey(key), m.log)
		if err != nil {
			m.log.Warn("rtp output unavailable", "key", key, "error", err)
		} else {
			sender = s
			p.SetRTPSender(s)
		}
	}

	if done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-sctx.Done():
			}
		}()
	}

	go func() {
		err := p.Run(sctx)
		cancel()
		if sender != nil {
			sender.Close()
		}
		m.remove(sess)
		m.log.Info("session ended", "key", key, "error", err)
	}()
}

// remove drops the session unless it has already been replaced.
func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	if cur := m.sessions[sess.Key]; cur == sess {
		delete(m.sessions, sess.Key)
	}
	m.mu.Unlock()
}

// Stop cancels the session for the given key. It reports whether a session
// was found.
func (m *Manager) Stop(key string) bool {
	m.mu.RLock()
	sess, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		sess.cancel()
	}
	return ok
}

// Get returns the session for the given key, or false if not found.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// List returns all active sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// ssrcForKey derives a stable RTP SSRC from the stream key.
func ssrcForKey(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
