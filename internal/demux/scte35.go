package demux

import (
	"context"
	"time"

	"github.com/zsiec/refract/internal/mpegts"
	"github.com/zsiec/refract/internal/scte35"
)

// SpliceEvent is a parsed SCTE-35 splice information section: splice
// inserts, time signals, and segmentation descriptors used for ad
// insertion and content identification. PTS is the raw 90 kHz splice time
// from the section, not a normalized timestamp.
type SpliceEvent struct {
	PTS                int64   `json:"pts"`
	CommandType        string  `json:"commandType"`
	CommandTypeID      uint32  `json:"commandTypeId"`
	EventID            uint32  `json:"eventId,omitempty"`
	SegmentationType   string  `json:"segmentationType,omitempty"`
	SegmentationTypeID uint32  `json:"segmentationTypeId,omitempty"`
	Duration           float64 `json:"duration,omitempty"`
	OutOfNetwork       bool    `json:"outOfNetwork,omitempty"`
	Immediate          bool    `json:"immediate,omitempty"`
	Description        string  `json:"description"`
	ReceivedAt         int64   `json:"receivedAt"`
}

func (d *Demuxer) handleSection(ctx context.Context, section *mpegts.SectionData) {
	if len(section.Data) == 0 {
		return
	}

	sis, err := scte35.DecodeBytes(section.Data)
	if err != nil {
		d.log.Warn("failed to parse SCTE-35", "pid", section.PID, "error", err)
		return
	}
	if sis.SpliceCommand == nil {
		return
	}

	event := SpliceEvent{ReceivedAt: time.Now().UnixMilli()}

	switch cmd := sis.SpliceCommand.(type) {
	case *scte35.SpliceInsert:
		event.CommandType = "splice_insert"
		event.CommandTypeID = scte35.SpliceInsertType
		event.EventID = cmd.SpliceEventID
		event.OutOfNetwork = cmd.OutOfNetworkIndicator
		event.Immediate = cmd.SpliceImmediateFlag
		if cmd.BreakDuration != nil {
			event.Duration = float64(cmd.BreakDuration.Duration) / 90000.0
		}
		if event.OutOfNetwork {
			event.Description = "Splice Out (Ad Insertion)"
		} else {
			event.Description = "Splice In (Return to Program)"
		}
	case *scte35.TimeSignal:
		event.CommandType = "time_signal"
		event.CommandTypeID = scte35.TimeSignalType
		if cmd.SpliceTime.PTSTime != nil {
			event.PTS = int64(*cmd.SpliceTime.PTSTime)
		}
		event.Description = "Time Signal"
	case *scte35.SpliceNull:
		event.CommandType = "splice_null"
		event.CommandTypeID = scte35.SpliceNullType
		event.Description = "Heartbeat"
	default:
		event.CommandType = "unknown"
		event.Description = "Unknown Command"
	}

	for _, desc := range sis.SpliceDescriptors {
		if sd, ok := desc.(*scte35.SegmentationDescriptor); ok {
			event.EventID = sd.SegmentationEventID
			event.SegmentationTypeID = sd.SegmentationTypeID
			event.SegmentationType = sd.Name()
			if sd.SegmentationDuration != nil {
				event.Duration = float64(*sd.SegmentationDuration) / 90000.0
			}
			event.Description = sd.Name()
			break
		}
	}

	d.log.Debug("SCTE-35", "command", event.CommandType, "desc", event.Description, "eventID", event.EventID)
	if d.stats != nil {
		d.stats.RecordSplice(event)
	}

	// Splice events are advisory; never stall the dispatch loop on a slow
	// or absent consumer.
	select {
	case d.eventCh <- event:
	case <-ctx.Done():
	default:
		d.log.Debug("dropping splice event, channel full")
	}
}
