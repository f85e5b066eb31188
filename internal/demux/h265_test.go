package demux

import "testing"

// hevcSPS720p is a hand-built Main profile SPS: tier L, level 93, no
// conformance window, 1280x720.
var hevcSPS720p = []byte{
	0x42, 0x01, // NAL header, type 33
	0x01,                   // vps_id, max_sub_layers, nesting
	0x01,                   // profile_space, tier, profile_idc = Main
	0x60, 0x00, 0x00, 0x00, // compatibility flags
	0xB0, 0x00, 0x00, 0x00, 0x00, 0x00, // constraint flags
	0x5D,                         // level_idc = 93
	0xA0, 0x02, 0x80, 0x80, 0x2D, 0x14, // sps_id, chroma, size, no window
}

func TestParseHEVCSPS(t *testing.T) {
	t.Parallel()
	info, err := ParseHEVCSPS(hevcSPS720p)
	if err != nil {
		t.Fatalf("ParseHEVCSPS: %v", err)
	}
	if info.Width != 1280 || info.Height != 720 {
		t.Errorf("resolution = %dx%d, want 1280x720", info.Width, info.Height)
	}
	if info.Params.ProfileIdc != 1 {
		t.Errorf("profile = %d, want 1", info.Params.ProfileIdc)
	}
	if info.Params.TierFlag {
		t.Error("tier flag set, want main tier")
	}
	if info.Params.LevelIdc != 93 {
		t.Errorf("level = %d, want 93", info.Params.LevelIdc)
	}
	if info.Params.CompatFlags != 0x6 {
		t.Errorf("compat flags = %#x, want 0x6", info.Params.CompatFlags)
	}
	if got, want := info.CodecString(), "hvc1.1.6.L93.B0"; got != want {
		t.Errorf("codec = %q, want %q", got, want)
	}
}

func TestParseHEVCSPSTruncated(t *testing.T) {
	t.Parallel()
	if _, err := ParseHEVCSPS([]byte{0x42, 0x01}); err == nil {
		t.Error("want error for short input")
	}
	if _, err := ParseHEVCSPS(hevcSPS720p[:10]); err == nil {
		t.Error("want error for truncated SPS")
	}
}

func TestHEVCNALType(t *testing.T) {
	t.Parallel()
	if got := hevcNALType(0x42); got != hevcNALSPS {
		t.Errorf("type = %d, want %d", got, hevcNALSPS)
	}
	if got := hevcNALType(0x26); got != 19 {
		t.Errorf("type = %d, want 19 (IDR_W_RADL)", got)
	}
}

func TestIsHEVCKeyframe(t *testing.T) {
	t.Parallel()
	for typ := byte(hevcNALBlaWLP); typ <= hevcNALCraNut; typ++ {
		if !isHEVCKeyframe(typ) {
			t.Errorf("type %d should be a keyframe", typ)
		}
	}
	for _, typ := range []byte{0, 1, 15, 22, hevcNALVPS, hevcNALSEIPrefix} {
		if isHEVCKeyframe(typ) {
			t.Errorf("type %d should not be a keyframe", typ)
		}
	}
}
