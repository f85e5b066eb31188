package scte35

// SpliceNull is the heartbeat command: no payload, no effect.
type SpliceNull struct{}

func (cmd *SpliceNull) Type() uint32 { return SpliceNullType }

func (cmd *SpliceNull) commandLength() int { return 0 }

func (cmd *SpliceNull) decode(_ []byte) error { return nil }

func (cmd *SpliceNull) encode() ([]byte, error) { return nil, nil }
