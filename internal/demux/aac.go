package demux

import (
	"context"
	"errors"

	"github.com/zsiec/refract/internal/bitstream"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
	"github.com/zsiec/refract/internal/timestamp"
)

// ErrInvalidADTS is returned when an ADTS header carries a sample rate
// index outside the ISO 14496-3 table.
var ErrInvalidADTS = errors.New("demux: invalid ADTS header")

// Sample rate index table, ISO 14496-3.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

const (
	adtsHeaderSize     = 7
	aacSamplesPerFrame = 1024
)

// adtsFrame is one AAC frame cut from an ADTS stream. Data spans the full
// frame, header included.
type adtsFrame struct {
	data       []byte
	sampleRate int
	channels   int
}

// parseADTS splits an ADTS byte stream into frames, resynchronizing on the
// 0xFFF sync word after garbage.
func parseADTS(data []byte) ([]adtsFrame, error) {
	var frames []adtsFrame
	offset := 0

	for len(data)-offset >= adtsHeaderSize {
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}

		r := bitstream.NewReader(data[offset:])
		r.SkipBits(12) // syncword
		r.SkipBits(3)  // ID, layer
		hasCRC := !r.ReadBit()
		r.SkipBits(2) // profile
		sampleRateIdx := r.ReadBits(4)
		if int(sampleRateIdx) >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		r.SkipBit() // private_bit
		channelCfg := r.ReadBits(3)
		r.SkipBits(4) // original/copy, home, copyright bits
		frameLen := int(r.ReadBits(13))

		headerSize := adtsHeaderSize
		if hasCRC {
			headerSize += 2
		}
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}

		frames = append(frames, adtsFrame{
			data:       data[offset : offset+frameLen],
			sampleRate: aacSampleRates[sampleRateIdx],
			channels:   int(channelCfg),
		})
		offset += frameLen
	}

	return frames, nil
}

// aacTrack parses the ADTS elementary stream of one PID. A PES packet may
// carry several AAC frames; each gets its own timestamp spaced by the
// 1024-sample frame duration from the PES PTS.
type aacTrack struct {
	d          *Demuxer
	pid        uint16
	trackIndex int
	primary    bool
	started    bool
	configured bool
	ch         chan *mpegts.PESData
}

func newAACTrack(d *Demuxer, pid uint16, trackIndex int, primary bool) *aacTrack {
	return &aacTrack{
		d:          d,
		pid:        pid,
		trackIndex: trackIndex,
		primary:    primary,
		ch:         make(chan *mpegts.PESData, 1),
	}
}

func (t *aacTrack) input() chan<- *mpegts.PESData { return t.ch }

func (t *aacTrack) run(ctx context.Context) error {
	for pes := range t.ch {
		if err := t.handle(ctx, pes); err != nil {
			return err
		}
	}
	return nil
}

func (t *aacTrack) handle(ctx context.Context, pes *mpegts.PESData) error {
	if len(pes.Data) == 0 {
		return nil
	}
	if !t.started {
		if err := t.d.adjuster.SharedInitializeOrWait(ctx, t.primary, 0); err != nil {
			return err
		}
		t.started = true
	}

	rawPTS, _ := pesTimes(pes)
	pts := t.d.adjuster.AdjustTsTimestamp(rawPTS)

	frames, err := parseADTS(pes.Data)
	if err != nil {
		t.d.log.Debug("skipping malformed ADTS packet", "pid", t.pid, "error", err)
	}

	for i, f := range frames {
		if !t.configured {
			t.configured = true
			t.d.updateTrack(t.pid, func(ti *media.TrackInfo) {
				ti.Codec = "mp4a.40.2"
				ti.SampleRate = f.sampleRate
				ti.Channels = f.channels
			})
		}

		framePTS := pts
		if pts != timestamp.TimeUnset {
			framePTS += int64(i) * aacSamplesPerFrame * 1_000_000 / int64(f.sampleRate)
		}
		af := &media.AudioFrame{
			PTS:        framePTS,
			Data:       f.data,
			SampleRate: f.sampleRate,
			Channels:   f.channels,
			TrackIndex: t.trackIndex,
		}
		if t.d.stats != nil {
			t.d.stats.RecordAudioFrame(t.trackIndex, int64(len(f.data)), framePTS, f.sampleRate, f.channels)
		}
		select {
		case t.d.audioCh <- af:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
