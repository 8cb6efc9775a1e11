package ffmpegcodec

import (
	"github.com/Eyevinn/mp4ff/avc"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
)

var startCode = []byte{0, 0, 0, 1}

// avccToAnnexB converts AVCC format (length-prefixed NALUs) to Annex B format
// (start code prefixed).
func avccToAnnexB(data []byte) []byte {
	result := make([]byte, 0, len(data)+16)
	offset := 0

	for offset+4 <= len(data) {
		naluLen := int(data[offset])<<24 | int(data[offset+1])<<16 |
			int(data[offset+2])<<8 | int(data[offset+3])
		offset += 4

		if offset+naluLen > len(data) {
			break
		}

		result = append(result, startCode...)
		result = append(result, data[offset:offset+naluLen]...)
		offset += naluLen
	}

	return result
}

// parameterSets returns the SPS and PPS of an avcC record in Annex B format.
func parameterSets(description []byte) ([]byte, error) {
	if len(description) == 0 {
		return nil, nil
	}
	rec, err := avc.DecodeAVCDecConfRec(description)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, sps := range rec.SPSnalus {
		out = append(out, startCode...)
		out = append(out, sps...)
	}
	for _, pps := range rec.PPSnalus {
		out = append(out, startCode...)
		out = append(out, pps...)
	}
	return out, nil
}

// isKeyFrame inspects the first bytes of an encoded packet.
func isKeyFrame(family codecdetect.Codec, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	switch family {
	case codecdetect.CodecVP8:
		// frame tag bit 0: 0 for key frames
		return data[0]&0x01 == 0
	case codecdetect.CodecVP9:
		return vp9KeyFrame(data[0])
	case codecdetect.CodecAV1:
		return av1HasSequenceHeader(data)
	}
	return false
}

// vp9KeyFrame reads frame_type from the uncompressed header:
// frame_marker(2) profile_low(1) profile_high(1) [reserved(1)]
// show_existing_frame(1) frame_type(1).
func vp9KeyFrame(b byte) bool {
	if b>>6 != 0x2 {
		return false
	}
	profile := (b>>5)&1 | ((b>>4)&1)<<1
	shift := uint(3)
	if profile == 3 {
		shift = 2
	}
	if (b>>shift)&1 == 1 {
		// show_existing_frame
		return false
	}
	return (b>>(shift-1))&1 == 0
}

// av1HasSequenceHeader reports whether a temporal unit carries a sequence
// header OBU, which encoders emit on every key frame.
func av1HasSequenceHeader(data []byte) bool {
	for pos := 0; pos < len(data); {
		header := data[pos]
		obuType := (header >> 3) & 0x0f
		if obuType == 1 {
			return true
		}
		pos++
		if header&0x04 != 0 {
			// extension header
			pos++
		}
		if header&0x02 == 0 {
			// no size field: the OBU runs to the end
			return false
		}
		size, n := leb128(data[pos:])
		if n == 0 {
			return false
		}
		pos += n + int(size)
	}
	return false
}

func leb128(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]&0x7f) << (7 * uint(i))
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}
