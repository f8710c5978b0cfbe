package core

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
)

// chunk is a run of consecutive samples of one track stored contiguously.
type chunk struct {
	track  int
	first  int // index of the first sample in the track's media
	count  int
	desc   int
	size   int64
	offset int64   // absolute file offset, set by layout
	start  float64 // seconds, for cross-track ordering
}

// Remuxer writes a movie's tracks into one self-contained file.
type Remuxer struct {
	timeScale   int32
	duration    int64
	nextTrackID uint32
	tracks      []*Track
	chunks      [][]*chunk // per track, in sample order
	order       []*chunk   // write order
	dataSize    int64
	brand       string
	opts        FlattenOptions
}

const defaultChunkSeconds = 0.5

func newRemuxer(m *Movie, opts FlattenOptions, brand string) *Remuxer {
	r := &Remuxer{
		timeScale:   m.timeScale,
		duration:    m.duration,
		nextTrackID: m.nextTrackID,
		tracks:      m.Tracks(),
		brand:       brand,
		opts:        opts,
	}
	span := opts.ChunkSeconds
	if span <= 0 {
		span = defaultChunkSeconds
	}

	for ti, t := range r.tracks {
		md := t.media
		var list []*chunk
		var cur *chunk
		for i, s := range md.samples {
			start := ToSeconds(s.Time, md.timeScale)
			if cur == nil || s.DescIndex != cur.desc || (opts.Interleave && start-cur.start >= span) {
				cur = &chunk{track: ti, first: i, desc: s.DescIndex, start: start}
				list = append(list, cur)
			}
			cur.count++
			cur.size += s.Size
			r.dataSize += s.Size
		}
		r.chunks = append(r.chunks, list)
		r.order = append(r.order, list...)
	}
	if opts.Interleave {
		sort.SliceStable(r.order, func(i, j int) bool {
			return r.order[i].start < r.order[j].start
		})
	}
	return r
}

// layout assigns file offsets to every chunk starting at base.
func (r *Remuxer) layout(base int64) {
	off := base
	for _, c := range r.order {
		c.offset = off
		off += c.size
	}
}

// WriteFile writes ftyp, moov and mdat. The movie atom goes first unless
// FlattenOptions.MovieDataFirst is set.
func (r *Remuxer) WriteFile(f io.WriteSeeker, src *sourceSet) error {
	w := mp4.NewWriter(f)

	// 1. Write ftyp
	brand := [4]byte{}
	copy(brand[:], r.brand)
	ftyp := &mp4.Ftyp{
		MajorBrand:   brand,
		MinorVersion: 0x200,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: brand},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}
	if err := marshalBox(w, ftyp); err != nil {
		return err
	}
	ftypSize := int64(8 + 8 + 4*len(ftyp.CompatibleBrands))

	if r.opts.MovieDataFirst {
		hdr := mdatHeader(r.dataSize)
		r.layout(ftypSize + int64(len(hdr)))
		if err := r.writeMdat(f, hdr, src); err != nil {
			return err
		}
		moov, err := r.buildMoov(r.dataSize+ftypSize > math.MaxUint32)
		if err != nil {
			return err
		}
		_, err = f.Write(moov)
		return err
	}

	// 2. Prepare Metadata (moov)
	// a. Generate moov with dummy offsets (0) to measure it
	r.layout(0)
	dummy, err := r.buildMoov(false)
	if err != nil {
		return err
	}
	large := ftypSize+int64(len(dummy))+r.dataSize+16 > math.MaxUint32
	if large {
		// co64 entries are wider; measure again
		if dummy, err = r.buildMoov(true); err != nil {
			return err
		}
	}

	// b. Calculate mdat position
	hdr := mdatHeader(r.dataSize)
	r.layout(ftypSize + int64(len(dummy)) + int64(len(hdr)))

	// c. Generate REAL moov with correct offsets
	moov, err := r.buildMoov(large)
	if err != nil {
		return err
	}
	if len(moov) != len(dummy) {
		return fmt.Errorf("movie atom changed size between passes (%d != %d)", len(dummy), len(moov))
	}

	// 3. Write 'moov'
	if _, err := f.Write(moov); err != nil {
		return err
	}

	// 4. Write 'mdat'
	return r.writeMdat(f, hdr, src)
}

// mdatHeader is a plain header, or a 64-bit one when the data is too large
// for a 32-bit size.
func mdatHeader(dataSize int64) []byte {
	if dataSize+8 <= math.MaxUint32 {
		h := make([]byte, 8)
		binary.BigEndian.PutUint32(h[0:], uint32(dataSize+8))
		copy(h[4:], "mdat")
		return h
	}
	h := make([]byte, 16)
	binary.BigEndian.PutUint32(h[0:], 1)
	copy(h[4:], "mdat")
	binary.BigEndian.PutUint64(h[8:], uint64(dataSize+16))
	return h
}

func (r *Remuxer) writeMdat(out io.Writer, hdr []byte, src *sourceSet) error {
	if _, err := out.Write(hdr); err != nil {
		return err
	}

	copyBuffer := make([]byte, 1024*1024) // 1MB buffer
	prog := newProgress(r.opts.Progress, len(r.order))
	var written int64
	for _, c := range r.order {
		md := r.tracks[c.track].media
		for _, s := range md.samples[c.first : c.first+c.count] {
			in, err := src.open(s.Source)
			if err != nil {
				return err
			}
			// Seek to original sample
			if _, err := in.Seek(s.Offset, io.SeekStart); err != nil {
				return err
			}
			n, err := io.CopyBuffer(out, io.LimitReader(in, s.Size), copyBuffer)
			if err != nil {
				return err
			}
			if n != s.Size {
				return fmt.Errorf("sample at %d in %s: %w", s.Offset, s.Source.path, io.ErrUnexpectedEOF)
			}
			written += n
		}
		prog.step()
	}
	prog.finish()
	log.Debugf("wrote %d chunks, %d bytes of sample data", len(r.order), written)
	return nil
}

func (r *Remuxer) buildMoov(large bool) ([]byte, error) {
	var buf seekablebuffer.Buffer
	w := mp4.NewWriter(&buf)
	err := box(w, "moov", func() error {
		mvhd := &mp4.Mvhd{
			Timescale:   uint32(r.timeScale),
			Rate:        0x00010000,
			Volume:      0x0100,
			Matrix:      unityMatrix,
			NextTrackID: r.nextTrackID,
		}
		if r.duration > math.MaxUint32 {
			mvhd.Version = 1
			mvhd.DurationV1 = uint64(r.duration)
		} else {
			mvhd.DurationV0 = uint32(r.duration)
		}
		if err := marshalBox(w, mvhd); err != nil {
			return err
		}
		for i, t := range r.tracks {
			if err := r.writeTrak(w, t, r.chunks[i], large); err != nil {
				return fmt.Errorf("track %d: %w", t.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *Remuxer) writeTrak(w *mp4.Writer, t *Track, chunks []*chunk, large bool) error {
	md := t.media
	return box(w, "trak", func() error {
		// tkhd
		flags := byte(0x2 | 0x4) // InMovie + InPreview
		if t.enabled {
			flags |= tkhdEnabled
		}
		tkhd := &mp4.Tkhd{
			FullBox:        mp4.FullBox{Flags: [3]byte{0, 0, flags}},
			TrackID:        t.id,
			Layer:          t.layer,
			AlternateGroup: t.alternateGroup,
			Volume:         t.volume,
			Matrix:         t.matrix,
			Width:          t.width,
			Height:         t.height,
		}
		if d := t.edits.duration(); d > math.MaxUint32 {
			tkhd.Version = 1
			tkhd.DurationV1 = uint64(d)
		} else {
			tkhd.DurationV0 = uint32(d)
		}
		if err := marshalBox(w, tkhd); err != nil {
			return err
		}
		if len(t.aperture) > 0 {
			if err := rawBox(w, "tapt", t.aperture); err != nil {
				return err
			}
		}

		// edts
		if len(t.edits) > 0 {
			if err := box(w, "edts", func() error { return marshalBox(w, elstFor(t.edits)) }); err != nil {
				return err
			}
		}

		// mdia
		return box(w, "mdia", func() error {
			mdhd := &mp4.Mdhd{
				Timescale: uint32(md.timeScale),
				Language:  [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60},
			}
			if d := md.duration(); d > math.MaxUint32 {
				mdhd.Version = 1
				mdhd.DurationV1 = uint64(d)
			} else {
				mdhd.DurationV0 = uint32(d)
			}
			if err := marshalBox(w, mdhd); err != nil {
				return err
			}
			if err := rawBox(w, "hdlr", md.handler); err != nil {
				return err
			}
			return box(w, "minf", func() error {
				if md.header.typ != "" {
					if err := rawBox(w, md.header.typ, md.header.raw); err != nil {
						return err
					}
				}
				err := box(w, "dinf", func() error {
					return rawBox(w, "dref", []byte{
						0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 12, 117, 114, 108, 32, 0, 0, 0, 1,
					})
				})
				if err != nil {
					return err
				}
				return box(w, "stbl", func() error { return writeSampleTables(w, md, chunks, large) })
			})
		})
	})
}

func elstFor(edits editList) *mp4.Elst {
	elst := &mp4.Elst{EntryCount: uint32(len(edits))}
	for _, e := range edits {
		if e.Duration > math.MaxUint32 || e.MediaTime > math.MaxInt32 {
			elst.Version = 1
		}
	}
	for _, e := range edits {
		entry := mp4.ElstEntry{
			MediaRateInteger:  int16(e.Rate >> 16),
			MediaRateFraction: int16(e.Rate & 0xFFFF),
		}
		if elst.Version == 1 {
			entry.SegmentDurationV1 = uint64(e.Duration)
			entry.MediaTimeV1 = e.MediaTime
		} else {
			entry.SegmentDurationV0 = uint32(e.Duration)
			entry.MediaTimeV0 = int32(e.MediaTime)
		}
		elst.Entries = append(elst.Entries, entry)
	}
	return elst
}

func writeSampleTables(w *mp4.Writer, md *media, chunks []*chunk, large bool) error {
	samples := md.samples

	// 1. stsd
	stsd := make([]byte, 8)
	binary.BigEndian.PutUint32(stsd[4:], uint32(len(md.descriptions)))
	for _, d := range md.descriptions {
		stsd = append(stsd, d...)
	}
	if err := rawBox(w, "stsd", stsd); err != nil {
		return err
	}

	// 2. stts
	stts := &mp4.Stts{}
	for _, s := range samples {
		n := len(stts.Entries)
		if n > 0 && int64(stts.Entries[n-1].SampleDelta) == s.Duration {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, mp4.SttsEntry{SampleCount: 1, SampleDelta: uint32(s.Duration)})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	if err := marshalBox(w, stts); err != nil {
		return err
	}

	// 3. ctts, only when some sample is reordered
	hasCtts, negative := false, false
	for _, s := range samples {
		hasCtts = hasCtts || s.CompositionOffset != 0
		negative = negative || s.CompositionOffset < 0
	}
	if hasCtts {
		ctts := &mp4.Ctts{}
		if negative {
			ctts.Version = 1
		}
		var prev int64
		for _, s := range samples {
			n := len(ctts.Entries)
			if n > 0 && prev == s.CompositionOffset {
				ctts.Entries[n-1].SampleCount++
				continue
			}
			prev = s.CompositionOffset
			ctts.Entries = append(ctts.Entries, mp4.CttsEntry{
				SampleCount:    1,
				SampleOffsetV0: uint32(s.CompositionOffset),
				SampleOffsetV1: int32(s.CompositionOffset),
			})
		}
		ctts.EntryCount = uint32(len(ctts.Entries))
		if err := marshalBox(w, ctts); err != nil {
			return err
		}
	}

	// 4. stss, omitted when every sample is a sync sample
	stss := &mp4.Stss{}
	for i, s := range samples {
		if s.IsKeyframe {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}
	}
	if len(stss.SampleNumber) != len(samples) {
		stss.EntryCount = uint32(len(stss.SampleNumber))
		if err := marshalBox(w, stss); err != nil {
			return err
		}
	}

	// 5. stsc
	stsc := &mp4.Stsc{}
	for k, c := range chunks {
		n := len(stsc.Entries)
		if n > 0 && stsc.Entries[n-1].SamplesPerChunk == uint32(c.count) &&
			stsc.Entries[n-1].SampleDescriptionIndex == uint32(c.desc) {
			continue
		}
		stsc.Entries = append(stsc.Entries, mp4.StscEntry{
			FirstChunk:             uint32(k + 1),
			SamplesPerChunk:        uint32(c.count),
			SampleDescriptionIndex: uint32(c.desc),
		})
	}
	stsc.EntryCount = uint32(len(stsc.Entries))
	if err := marshalBox(w, stsc); err != nil {
		return err
	}

	// 6. stsz, constant size when every sample matches
	stsz := &mp4.Stsz{SampleCount: uint32(len(samples))}
	constant := len(samples) > 0
	for _, s := range samples {
		if s.Size != samples[0].Size {
			constant = false
			break
		}
	}
	if constant {
		stsz.SampleSize = uint32(samples[0].Size)
	} else {
		for _, s := range samples {
			stsz.EntrySize = append(stsz.EntrySize, uint32(s.Size))
		}
	}
	if err := marshalBox(w, stsz); err != nil {
		return err
	}

	// 7. stco / co64 (Offsets)
	if large {
		co64 := &mp4.Co64{EntryCount: uint32(len(chunks))}
		for _, c := range chunks {
			co64.ChunkOffset = append(co64.ChunkOffset, uint64(c.offset))
		}
		return marshalBox(w, co64)
	}
	stco := &mp4.Stco{EntryCount: uint32(len(chunks))}
	for _, c := range chunks {
		stco.ChunkOffset = append(stco.ChunkOffset, uint32(c.offset))
	}
	return marshalBox(w, stco)
}

// --- Atom Writer Helpers ---

func box(w *mp4.Writer, typ string, body func() error) error {
	if _, err := w.StartBox(&mp4.BoxInfo{Type: mp4.StrToBoxType(typ)}); err != nil {
		return err
	}
	if err := body(); err != nil {
		return err
	}
	_, err := w.EndBox()
	return err
}

func marshalBox(w *mp4.Writer, b mp4.IBox) error {
	return box(w, b.GetType().String(), func() error {
		_, err := mp4.Marshal(w, b, mp4.Context{})
		return err
	})
}

func rawBox(w *mp4.Writer, typ string, data []byte) error {
	return box(w, typ, func() error {
		_, err := w.Write(data)
		return err
	})
}
