// Package ingest manages active ingest connections, coupling transport
// byte readers with metadata, lifecycle signaling, and pipeline dispatch.
package ingest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// InputFormat identifies the container format of an ingested stream.
type InputFormat int

// Supported ingest container formats.
const (
	FormatMPEGTS InputFormat = iota
)

// Stats captures connection-level metrics for an ingest stream, exposed
// via the inspection API for monitoring source health.
type Stats struct {
	Protocol      string  `json:"protocol"`
	BytesReceived int64   `json:"bytesReceived"`
	ReadCount     int64   `json:"readCount"`
	ConnectedAt   int64   `json:"connectedAt"`
	UptimeMs      int64   `json:"uptimeMs"`
	Kbps          float64 `json:"kbps"`
	RemoteAddr    string  `json:"remoteAddr"`
}

// Stream represents an active ingest connection, coupling the raw byte
// reader with metadata and lifecycle signaling. Bytes written to the
// internal pipe by the transport receiver are read by the demux pipeline.
type Stream struct {
	Key       string
	Protocol  string
	StartedAt time.Time
	Format    InputFormat

	input io.ReadCloser
	pw    io.WriteCloser
	done  chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the
// transport receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Done returns a channel closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of ingest connection metrics.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	bytes := s.bytesReceived.Load()
	uptimeMs := time.Since(s.StartedAt).Milliseconds()
	var kbps float64
	if uptimeMs > 0 {
		kbps = float64(bytes) * 8 / float64(uptimeMs)
	}
	return Stats{
		Protocol:      s.Protocol,
		BytesReceived: bytes,
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      uptimeMs,
		Kbps:          kbps,
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest streams by key and dispatches new streams
// to the onStream callback for pipeline setup. It is the rendezvous point
// between the transport ingest layers and the demux pipeline.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream

	onStream func(stream *Stream, input io.Reader)
}

// NewRegistry creates a Registry. The onStream callback is invoked
// asynchronously whenever a new stream is registered.
func NewRegistry(onStream func(stream *Stream, input io.Reader)) *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		onStream: onStream,
	}
}

// Register creates a new ingest stream with the given key, protocol, and
// format, returning the Stream and the Writer the transport receiver
// writes into. A stream already registered under the key is replaced and
// its pipe closed.
func (r *Registry) Register(key, protocol string, format InputFormat) (*Stream, io.Writer) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		Protocol:  protocol,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	old := r.streams[key]
	r.streams[key] = stream
	r.mu.Unlock()

	if old != nil {
		old.pw.Close()
		close(old.done)
	}

	if r.onStream != nil {
		go r.onStream(stream, pr)
	}

	return stream, pw
}

// Unregister removes the given stream, closing its pipe and signaling
// Done. A different stream registered under the same key in the meantime
// is left alone.
func (r *Registry) Unregister(s *Stream) {
	r.mu.Lock()
	cur, ok := r.streams[s.Key]
	if ok && cur == s {
		delete(r.streams, s.Key)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		s.pw.Close()
		close(s.done)
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns a snapshot of the active streams.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}
