package codecs

import (
	"fmt"
	"strings"
)

// AvcCodecString returns the RFC 6381 identifier for an H.264 stream:
// "avc1." followed by the profile, constraint and level bytes in hex.
func AvcCodecString(profileIdc, constraintFlags, levelIdc byte) string {
	return fmt.Sprintf("avc1.%02X%02X%02X", profileIdc, constraintFlags, levelIdc)
}

// HevcParams carries the general_profile_tier_level fields that feed an
// H.265 codec string, as parsed from an SPS or an hvcC box.
type HevcParams struct {
	// ProfileSpace is the 2-bit general_profile_space.
	ProfileSpace uint8
	TierFlag     bool
	ProfileIdc   uint8
	// CompatFlags is general_profile_compatibility_flags with the flag for
	// profile i in bit i, i.e. bit-reversed from stream order.
	CompatFlags     uint32
	ConstraintBytes [6]byte
	LevelIdc        uint8
}

var hevcProfileSpaces = [4]string{"", "A", "B", "C"}

// HevcCodecString returns the RFC 6381 identifier for an H.265 stream in
// the hvc1 form. Constraint bytes are appended as ".%02X" segments with
// all-zero trailing bytes omitted.
func HevcCodecString(p HevcParams) string {
	tier := "L"
	if p.TierFlag {
		tier = "H"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "hvc1.%s%d.%X.%s%d",
		hevcProfileSpaces[p.ProfileSpace], p.ProfileIdc, p.CompatFlags, tier, p.LevelIdc)
	last := len(p.ConstraintBytes)
	for last > 0 && p.ConstraintBytes[last-1] == 0 {
		last--
	}
	for _, c := range p.ConstraintBytes[:last] {
		fmt.Fprintf(&b, ".%02X", c)
	}
	return b.String()
}
