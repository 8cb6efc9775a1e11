package ffmpegcodec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
)

const (
	ivfHeaderSize      = 32
	ivfFrameHeaderSize = 12
)

// ivfFourCC returns the IVF FourCC of a codec family.
func ivfFourCC(family codecdetect.Codec) string {
	switch family {
	case codecdetect.CodecVP8:
		return "VP80"
	case codecdetect.CodecVP9:
		return "VP90"
	case codecdetect.CodecAV1:
		return "AV01"
	}
	return ""
}

// writeIVFHeader writes the 32-byte IVF file header. Timestamps are in
// microseconds.
func writeIVFHeader(w io.Writer, fourcc string, width, height int) error {
	var h [ivfHeaderSize]byte
	copy(h[0:4], "DKIF")
	binary.LittleEndian.PutUint16(h[4:], 0)
	binary.LittleEndian.PutUint16(h[6:], ivfHeaderSize)
	copy(h[8:12], fourcc)
	binary.LittleEndian.PutUint16(h[12:], uint16(width))
	binary.LittleEndian.PutUint16(h[14:], uint16(height))
	binary.LittleEndian.PutUint32(h[16:], 1_000_000)
	binary.LittleEndian.PutUint32(h[20:], 1)
	_, err := w.Write(h[:])
	return err
}

// writeIVFFrame writes one frame with its 12-byte header.
func writeIVFFrame(w io.Writer, pts int64, data []byte) error {
	var h [ivfFrameHeaderSize]byte
	binary.LittleEndian.PutUint32(h[0:], uint32(len(data)))
	binary.LittleEndian.PutUint64(h[4:], uint64(pts))
	if _, err := w.Write(h[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ivfReader reads frames from an IVF stream.
type ivfReader struct {
	r      io.Reader
	header bool
}

// next returns the next frame payload, or io.EOF at a clean end of stream.
func (r *ivfReader) next() ([]byte, error) {
	if !r.header {
		var h [ivfHeaderSize]byte
		if _, err := io.ReadFull(r.r, h[:]); err != nil {
			return nil, err
		}
		if string(h[0:4]) != "DKIF" {
			return nil, fmt.Errorf("not an IVF stream")
		}
		// The header length field allows for extensions.
		if n := int(binary.LittleEndian.Uint16(h[6:])); n > ivfHeaderSize {
			if _, err := io.CopyN(io.Discard, r.r, int64(n-ivfHeaderSize)); err != nil {
				return nil, err
			}
		}
		r.header = true
	}

	var fh [ivfFrameHeaderSize]byte
	if _, err := io.ReadFull(r.r, fh[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(fh[0:])
	data := make([]byte, size)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("read IVF frame: %w", err)
	}
	return data, nil
}
