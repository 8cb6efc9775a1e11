// Package mp4demuxer reads the video track of progressive and fragmented MP4
// files with mp4ff.
package mp4demuxer

import (
	"fmt"
	"io"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/user/webmshrink/pkg/adapters/codecdetect"
	"github.com/user/webmshrink/pkg/pipeline"
	"github.com/user/webmshrink/pkg/ports"
)

// sampleRef locates one sample. Progressive samples are read lazily from
// the input at offset; fragmented samples carry their data.
type sampleRef struct {
	offset   int64
	size     uint32
	data     []byte
	decode   uint64
	cto      int32
	duration uint32
	key      bool
}

// Demuxer implements ports.Demuxer.
type Demuxer struct {
	reader    io.ReadSeeker
	timescale uint32
	samples   []sampleRef
	next      int
}

// New creates a new MP4 demuxer.
func New() *Demuxer {
	return &Demuxer{}
}

// Open parses the file and indexes the samples of its first video track.
func (d *Demuxer) Open(r io.ReadSeeker) (ports.ContainerConfig, error) {
	mp4File, err := mp4.DecodeFile(r)
	if err != nil {
		return ports.ContainerConfig{}, fmt.Errorf("decode mp4: %w", err)
	}

	trak, err := codecdetect.VideoTrack(mp4File)
	if err != nil {
		return ports.ContainerConfig{}, fmt.Errorf("%w: %v", pipeline.ErrUnsupportedConfig, err)
	}
	cfg, err := codecdetect.TrackConfig(trak)
	if err != nil {
		return ports.ContainerConfig{}, err
	}

	d.reader = r
	d.timescale = 1000
	if trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
		d.timescale = trak.Mdia.Mdhd.Timescale
	}

	if mp4File.IsFragmented() {
		d.samples, err = fragmentedSamples(mp4File, trak.Tkhd.TrackID)
	} else {
		d.samples, err = progressiveSamples(trak.Mdia.Minf.Stbl)
	}
	if err != nil {
		return ports.ContainerConfig{}, err
	}
	return cfg, nil
}

// NextSample returns the next sample in decode order, or io.EOF.
func (d *Demuxer) NextSample() (ports.EncodedSample, error) {
	if d.next >= len(d.samples) {
		return ports.EncodedSample{}, io.EOF
	}
	ref := d.samples[d.next]
	d.next++

	data := ref.data
	if data == nil {
		var err error
		data, err = d.read(ref)
		if err != nil {
			return ports.EncodedSample{}, err
		}
	}

	typ := ports.ChunkDelta
	if ref.key {
		typ = ports.ChunkKey
	}
	pts := int64(ref.decode) + int64(ref.cto)
	return ports.EncodedSample{
		Data:      data,
		Timestamp: d.duration(pts),
		Duration:  d.duration(int64(ref.duration)),
		Type:      typ,
	}, nil
}

// Close releases demuxer resources. The input belongs to the caller.
func (d *Demuxer) Close() error {
	d.samples = nil
	return nil
}

func (d *Demuxer) read(ref sampleRef) ([]byte, error) {
	if _, err := d.reader.Seek(ref.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to sample: %w", err)
	}
	data := make([]byte, ref.size)
	if _, err := io.ReadFull(d.reader, data); err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return data, nil
}

func (d *Demuxer) duration(ticks int64) time.Duration {
	return time.Duration(ticks) * time.Second / time.Duration(d.timescale)
}

func progressiveSamples(stbl *mp4.StblBox) ([]sampleRef, error) {
	if stbl.Stsz == nil || stbl.Stsc == nil {
		return nil, fmt.Errorf("missing stsz or stsc box")
	}
	if stbl.Stco == nil && stbl.Co64 == nil {
		return nil, fmt.Errorf("no stco or co64 box")
	}

	// No stss means every sample is a sync sample.
	syncSamples := make(map[uint32]bool)
	if stbl.Stss != nil {
		for _, nr := range stbl.Stss.SampleNumber {
			syncSamples[nr] = true
		}
	}

	count := stbl.Stsz.SampleNumber
	refs := make([]sampleRef, 0, count)
	for nr := uint32(1); nr <= count; nr++ {
		offset, err := sampleOffset(stbl, nr)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", nr, err)
		}

		ref := sampleRef{
			offset: int64(offset),
			size:   stbl.Stsz.GetSampleSize(int(nr)),
			key:    stbl.Stss == nil || syncSamples[nr],
		}
		if stbl.Stts != nil {
			ref.decode, ref.duration = stbl.Stts.GetDecodeTime(nr)
		}
		if stbl.Ctts != nil {
			ref.cto = stbl.Ctts.GetCompositionTimeOffset(nr)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// sampleOffset finds the file offset of a sample from its chunk.
func sampleOffset(stbl *mp4.StblBox, sampleNr uint32) (uint64, error) {
	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(sampleNr))
	if err != nil {
		return 0, fmt.Errorf("get chunk nr: %w", err)
	}

	var chunkOffset uint64
	if stbl.Stco != nil {
		chunkOffset, err = stbl.Stco.GetOffset(chunkNr)
		if err != nil {
			return 0, fmt.Errorf("get chunk offset: %w", err)
		}
	} else {
		if chunkNr < 1 || chunkNr > len(stbl.Co64.ChunkOffset) {
			return 0, fmt.Errorf("chunk nr out of range")
		}
		chunkOffset = stbl.Co64.ChunkOffset[chunkNr-1]
	}

	offset := chunkOffset
	for s := uint32(firstSampleInChunk); s < sampleNr; s++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(s)))
	}
	return offset, nil
}

func fragmentedSamples(mp4File *mp4.File, trackID uint32) ([]sampleRef, error) {
	var trex *mp4.TrexBox
	if mp4File.Init != nil && mp4File.Init.Moov != nil && mp4File.Init.Moov.Mvex != nil {
		for _, t := range mp4File.Init.Moov.Mvex.Trexs {
			if t.TrackID == trackID {
				trex = t
				break
			}
		}
	}

	var refs []sampleRef
	for _, seg := range mp4File.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}

			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != trackID {
					continue
				}

				samples, err := frag.GetFullSamples(trex)
				if err != nil {
					return nil, fmt.Errorf("get samples: %w", err)
				}
				for _, s := range samples {
					refs = append(refs, sampleRef{
						size:     uint32(len(s.Data)),
						data:     s.Data,
						decode:   s.DecodeTime,
						cto:      s.CompositionTimeOffset,
						duration: s.Dur,
						key:      s.IsSync(),
					})
				}
			}
		}
	}
	return refs, nil
}
