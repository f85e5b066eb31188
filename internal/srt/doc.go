// Package srt provides SRT transport-stream ingest: a listener-mode
// Server accepting publish connections keyed by streamid, and a
// caller-mode Caller that pulls from remote SRT sources. Both feed the
// ingest registry.
package srt
