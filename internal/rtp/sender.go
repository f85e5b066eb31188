package rtp

import (
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"

	"github.com/zsiec/refract/internal/media"
)

// SenderStats is a point-in-time view of a sender's delivery counters.
type SenderStats struct {
	PacketsSent int64 `json:"packetsSent"`
	BytesSent   int64 `json:"bytesSent"`
	FramesSent  int64 `json:"framesSent"`
	SendErrors  int64 `json:"sendErrors"`
}

// Sender packetizes video frames and writes the packets to one UDP
// destination. Send errors are counted and logged, not fatal: a dead
// receiver must not take the ingest pipeline down with it.
type Sender struct {
	log       *slog.Logger
	conn      net.Conn
	payloader *Payloader

	packets atomic.Int64
	bytes   atomic.Int64
	frames  atomic.Int64
	errors  atomic.Int64
}

// NewSender dials addr (host:port) over UDP and returns a Sender using
// the given SSRC. If log is nil, slog.Default() is used.
func NewSender(addr string, ssrc uint32, log *slog.Logger) (*Sender, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtp: dial %s: %w", addr, err)
	}
	return &Sender{
		log:       log.With("component", "rtp", "addr", addr),
		conn:      conn,
		payloader: NewPayloader(ssrc, DynamicPayloadType, DefaultMTU),
	}, nil
}

// SendFrame packetizes one video frame and writes all its packets. The
// first packet that fails to marshal or send aborts the frame.
func (s *Sender) SendFrame(frame *media.VideoFrame) {
	packets := s.payloader.Packetize(frame)
	if len(packets) == 0 {
		return
	}
	for _, pkt := range packets {
		if !s.sendPacket(pkt) {
			return
		}
	}
	s.frames.Add(1)
}

func (s *Sender) sendPacket(pkt *rtp.Packet) bool {
	buf, err := pkt.Marshal()
	if err != nil {
		s.errors.Add(1)
		s.log.Warn("marshal failed", "error", err)
		return false
	}
	if _, err := s.conn.Write(buf); err != nil {
		s.errors.Add(1)
		s.log.Warn("send failed", "error", err)
		return false
	}
	s.packets.Add(1)
	s.bytes.Add(int64(len(buf)))
	return true
}

// Stats returns the sender's delivery counters.
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		PacketsSent: s.packets.Load(),
		BytesSent:   s.bytes.Load(),
		FramesSent:  s.frames.Load(),
		SendErrors:  s.errors.Load(),
	}
}

// Close releases the UDP socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
