package ffmpegcodec

import (
	"strings"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
	"github.com/user/webmshrink/pkg/ports"
)

// Backend is an ffmpeg codec implementation name, e.g. "libvpx-vp9".
type Backend string

type backendSet struct {
	hardware []Backend
	software []Backend
}

var encoderBackends = map[codecdetect.Codec]backendSet{
	codecdetect.CodecVP8: {
		hardware: []Backend{"vp8_vaapi"},
		software: []Backend{"libvpx"},
	},
	codecdetect.CodecVP9: {
		hardware: []Backend{"vp9_qsv", "vp9_vaapi"},
		software: []Backend{"libvpx-vp9"},
	},
	codecdetect.CodecAV1: {
		hardware: []Backend{"av1_nvenc", "av1_qsv", "av1_vaapi"},
		software: []Backend{"libsvtav1", "libaom-av1"},
	},
}

var decoderBackends = map[codecdetect.Codec]backendSet{
	codecdetect.CodecH264: {
		hardware: []Backend{"h264_cuvid", "h264_qsv"},
		software: []Backend{"h264"},
	},
	codecdetect.CodecVP8: {
		software: []Backend{"vp8", "libvpx"},
	},
	codecdetect.CodecVP9: {
		hardware: []Backend{"vp9_cuvid", "vp9_qsv"},
		software: []Backend{"vp9", "libvpx-vp9"},
	},
	codecdetect.CodecAV1: {
		hardware: []Backend{"av1_cuvid", "av1_qsv"},
		software: []Backend{"libdav1d", "libaom-av1", "av1"},
	},
}

// candidates orders the backends of a family by preference. Both lists are
// always tried, so a preference never makes a codec unavailable.
func (s backendSet) candidates(hw ports.HardwareAcceleration) []Backend {
	out := make([]Backend, 0, len(s.hardware)+len(s.software))
	if hw == ports.HardwarePreferred {
		out = append(out, s.hardware...)
		return append(out, s.software...)
	}
	out = append(out, s.software...)
	return append(out, s.hardware...)
}

// selectBackend returns the first candidate the binary offers and usable
// accepts.
func selectBackend(available map[string]bool, set backendSet, hw ports.HardwareAcceleration, usable func(Backend) bool) (Backend, bool) {
	for _, b := range set.candidates(hw) {
		if !available[string(b)] {
			continue
		}
		if usable != nil && !usable(b) {
			continue
		}
		return b, true
	}
	return "", false
}

func (s backendSet) isHardware(b Backend) bool {
	for _, h := range s.hardware {
		if h == b {
			return true
		}
	}
	return false
}

// defaultVAAPIDevice is the render node VAAPI encoders open.
const defaultVAAPIDevice = "/dev/dri/renderD128"

// hwSetup returns the arguments an encoder backend needs before the input
// (device setup) and after the codec (pixel format or frame upload). VAAPI
// and QSV encoders only take frames that live on the device.
func hwSetup(b Backend) (input, output []string) {
	name := string(b)
	switch {
	case strings.HasSuffix(name, "_vaapi"):
		return []string{"-vaapi_device", defaultVAAPIDevice},
			[]string{"-vf", "format=nv12,hwupload"}
	case strings.HasSuffix(name, "_qsv"):
		return []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
			[]string{"-vf", "format=nv12,hwupload=extra_hw_frames=64"}
	}
	return nil, []string{"-pix_fmt", "yuv420p"}
}
