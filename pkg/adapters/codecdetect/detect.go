// Package codecdetect identifies video codecs in MP4 tracks and codec
// strings.
package codecdetect

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/Eyevinn/mp4ff/av1"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// Codec represents a video codec family.
type Codec string

const (
	CodecH264    Codec = "h264"
	CodecAV1     Codec = "av1"
	CodecVP8     Codec = "vp8"
	CodecVP9     Codec = "vp9"
	CodecUnknown Codec = "unknown"
)

// Family returns the codec family of a codec string such as "avc1.64001f"
// or "vp09.00.10.08".
func Family(codec string) Codec {
	prefix, _, _ := strings.Cut(codec, ".")
	switch prefix {
	case "avc1", "avc3":
		return CodecH264
	case "av01":
		return CodecAV1
	case "vp8":
		return CodecVP8
	case "vp09":
		return CodecVP9
	default:
		return CodecUnknown
	}
}

// DetectFromReader detects the video codec family from an io.ReadSeeker.
func DetectFromReader(reader io.ReadSeeker) (Codec, error) {
	mp4File, err := mp4.DecodeFile(reader)
	if err != nil {
		return CodecUnknown, fmt.Errorf("decode mp4: %w", err)
	}

	// Reset reader position for subsequent reads
	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return CodecUnknown, fmt.Errorf("seek: %w", err)
	}

	trak, err := VideoTrack(mp4File)
	if err != nil {
		return CodecUnknown, err
	}
	cfg, err := TrackConfig(trak)
	if err != nil {
		return CodecUnknown, err
	}
	return Family(cfg.Codec), nil
}

// VideoTrack returns the first video track of a progressive or fragmented
// file.
func VideoTrack(mp4File *mp4.File) (*mp4.TrakBox, error) {
	moov := mp4File.Moov
	if mp4File.IsFragmented() && mp4File.Init != nil {
		moov = mp4File.Init.Moov
	}
	if moov == nil {
		return nil, fmt.Errorf("no moov box found")
	}

	for _, trak := range moov.Traks {
		if trak.Mdia != nil && trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType == "vide" {
			return trak, nil
		}
	}
	return nil, fmt.Errorf("no video track found")
}

// TrackConfig builds the container configuration of a video track: the
// codec string, the coded size and the codec description box payload.
func TrackConfig(trak *mp4.TrakBox) (ports.ContainerConfig, error) {
	if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return ports.ContainerConfig{}, fmt.Errorf("no sample description found")
	}

	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		vse, ok := child.(*mp4.VisualSampleEntryBox)
		if !ok {
			continue
		}

		cfg := ports.ContainerConfig{
			Width:  int(vse.Width),
			Height: int(vse.Height),
		}

		switch vse.Type() {
		case "avc1", "avc3":
			if vse.AvcC == nil {
				return cfg, fmt.Errorf("%s sample entry without avcC", vse.Type())
			}
			cfg.Codec = fmt.Sprintf("%s.%02x%02x%02x", vse.Type(),
				vse.AvcC.AVCProfileIndication,
				vse.AvcC.ProfileCompatibility,
				vse.AvcC.AVCLevelIndication)
			desc, err := payload(vse.AvcC)
			if err != nil {
				return cfg, err
			}
			cfg.Description = desc
			return cfg, nil

		case "av01":
			cfg.Codec = "av01"
			for _, c := range vse.Children {
				av1c, ok := c.(*mp4.Av1CBox)
				if !ok {
					continue
				}
				desc, err := payload(av1c)
				if err != nil {
					return cfg, err
				}
				cfg.Description = desc
				cfg.Codec = av1CodecString(av1c.CodecConfRec)
			}
			return cfg, nil

		case "hvc1", "hev1":
			return cfg, fmt.Errorf("%w: HEVC input", pipeline.ErrUnsupportedConfig)
		}
	}

	return ports.ContainerConfig{}, fmt.Errorf("%w: no supported sample entry", pipeline.ErrUnsupportedConfig)
}

// payload serializes a box and strips its 8-byte header.
func payload(b mp4.Box) ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode %s: %w", b.Type(), err)
	}
	if buf.Len() < 8 {
		return nil, fmt.Errorf("short %s box", b.Type())
	}
	return buf.Bytes()[8:], nil
}

// av1CodecString derives "av01.P.LLT.DD" from an AV1 codec configuration
// record.
func av1CodecString(rec av1.CodecConfRec) string {
	tier := "M"
	if rec.SeqTier0 != 0 {
		tier = "H"
	}
	depth := 8
	if rec.HighBitdepth != 0 {
		depth = 10
		if rec.SeqProfile == 2 && rec.TwelveBit != 0 {
			depth = 12
		}
	}
	return fmt.Sprintf("av01.%d.%02d%s.%02d", rec.SeqProfile, rec.SeqLevelIdx0, tier, depth)
}
