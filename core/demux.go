package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/abema/go-mp4"
)

// Sample represents a single video frame/audio sample
type Sample struct {
	Offset            int64 // byte offset in Source
	Size              int64
	Time              int64 // decoding time in media ticks
	Duration          int64
	CompositionOffset int64
	IsKeyframe        bool
	DescIndex         int // 1-based index into the media's sample descriptions
	Source            *dataRef
}

// dataRef names the file holding sample bytes. It is shared read-only by
// every sample loaded from that file.
type dataRef struct {
	path string
}

type movieHeader struct {
	timeScale   int32
	duration    int64
	nextTrackID uint32
}

const tkhdEnabled = 0x000001

// errCorrupt marks sample tables that contradict each other or the file.
// Such a track fails the whole load instead of being skipped.
var errCorrupt = errors.New("corrupt sample table")

// Demuxer builds the track model from a probed atom tree
type Demuxer struct {
	source   *dataRef
	fileSize int64
}

func NewDemuxer(path string, fileSize int64) *Demuxer {
	return &Demuxer{source: &dataRef{path: path}, fileSize: fileSize}
}

// ExtractMovie parses the movie header and every track of the Movie Atom.
// Tracks that cannot be parsed are skipped with a warning.
func (d *Demuxer) ExtractMovie(moov Atom) (movieHeader, []*Track, error) {
	var hdr movieHeader

	if moov.Child("cmov") != nil {
		return hdr, nil, &UnsupportedError{Op: "load movie", Feature: "compressed movie resource"}
	}

	mvhd, ok := tablePayload[*mp4.Mvhd](moov.Child("mvhd"))
	if !ok {
		return hdr, nil, fmt.Errorf("missing mvhd")
	}
	if mvhd.Timescale == 0 || mvhd.Timescale > math.MaxInt32 {
		return hdr, nil, fmt.Errorf("invalid movie time scale %d", mvhd.Timescale)
	}
	hdr.timeScale = int32(mvhd.Timescale)
	if mvhd.Version == 1 {
		hdr.duration = int64(mvhd.DurationV1)
	} else {
		hdr.duration = int64(mvhd.DurationV0)
	}
	hdr.nextTrackID = mvhd.NextTrackID

	var tracks []*Track
	for _, child := range moov.Children {
		if child.Type != "trak" {
			continue
		}
		track, err := d.parseTrack(child, hdr.timeScale)
		if errors.Is(err, errCorrupt) {
			return hdr, nil, fmt.Errorf("track at offset %d: %w", child.Offset, err)
		}
		if err != nil {
			log.Warnf("skipping track at offset %d: %v", child.Offset, err)
			continue
		}
		tracks = append(tracks, track)
	}

	return hdr, tracks, nil
}

// parseTrack parses a single 'trak' atom into a Track
func (d *Demuxer) parseTrack(trak Atom, movieScale int32) (*Track, error) {
	tr := &Track{}

	// 1. tkhd (Track Header)
	tkhd, ok := tablePayload[*mp4.Tkhd](trak.Child("tkhd"))
	if !ok {
		return nil, fmt.Errorf("missing tkhd")
	}
	tr.id = tkhd.TrackID
	tr.enabled = tkhd.Flags[2]&tkhdEnabled != 0
	tr.volume = tkhd.Volume
	tr.layer = tkhd.Layer
	tr.alternateGroup = tkhd.AlternateGroup
	tr.matrix = tkhd.Matrix
	tr.width = tkhd.Width
	tr.height = tkhd.Height

	// 1b. tapt (Aperture dimensions)
	if tapt := trak.Child("tapt"); tapt != nil {
		tr.aperture = tapt.Raw
	}

	// 2. mdia -> mdhd (Media Header - Timescale)
	mdia := trak.Child("mdia")
	if mdia == nil {
		return nil, fmt.Errorf("missing mdia")
	}
	mdhd, ok := tablePayload[*mp4.Mdhd](mdia.Child("mdhd"))
	if !ok {
		return nil, fmt.Errorf("missing mdhd")
	}
	if mdhd.Timescale == 0 || mdhd.Timescale > math.MaxInt32 {
		return nil, fmt.Errorf("invalid media time scale %d", mdhd.Timescale)
	}
	md := &media{timeScale: int32(mdhd.Timescale)}

	// 3. mdia -> hdlr (Handler - Type)
	hdlr := mdia.Child("hdlr")
	if hdlr == nil || len(hdlr.Raw) < 12 {
		return nil, fmt.Errorf("missing hdlr")
	}
	md.handler = hdlr.Raw
	tr.kind = mediaTypeForHandler(string(hdlr.Raw[8:12])) // Offset 8 (after Ver/Flags/Pre)

	// 4. mdia -> minf (Media Info)
	minf := mdia.Child("minf")
	if minf == nil {
		return nil, fmt.Errorf("missing minf")
	}
	for _, typ := range mediaHeaderTypes {
		if a := minf.Child(typ); a != nil {
			md.header = mediaHeader{typ: typ, raw: a.Raw}
			break
		}
	}

	// 5. stbl (Sample Table)
	stbl := minf.Child("stbl")
	if stbl == nil {
		return nil, fmt.Errorf("missing stbl")
	}
	if stsd := stbl.Child("stsd"); stsd != nil {
		descs, err := splitSampleDescriptions(stsd.Raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		md.descriptions = descs
	}
	samples, err := d.MapSamples(*stbl)
	if err != nil {
		return nil, fmt.Errorf("failed to map samples: %w", err)
	}
	md.samples = samples
	tr.media = md

	// 6. edts -> elst (Edit List)
	if elst, ok := tablePayload[*mp4.Elst](trak.Find("edts", "elst")); ok {
		tr.edits = parseEdits(elst)
	}
	if len(tr.edits) == 0 && md.duration() > 0 {
		tr.edits = editList{{Duration: Rescale(md.duration(), md.timeScale, movieScale), MediaTime: 0, Rate: rateOne}}
	}

	log.Debugf("track %d (%s): media scale %d, %d samples, %d descriptions, %d edits",
		tr.id, tr.kind, md.timeScale, len(md.samples), len(md.descriptions), len(tr.edits))
	return tr, nil
}

// MapSamples processes all tables to generate a flat list of Samples with offsets and times
func (d *Demuxer) MapSamples(stbl Atom) ([]Sample, error) {
	stts, okStts := tablePayload[*mp4.Stts](stbl.Child("stts"))
	stsz, okStsz := tablePayload[*mp4.Stsz](stbl.Child("stsz"))
	stsc, okStsc := tablePayload[*mp4.Stsc](stbl.Child("stsc"))
	if !okStts || !okStsz || !okStsc {
		return nil, fmt.Errorf("missing critical atom tables (stts, stsz, or stsc)")
	}

	var chunkOffsets []uint64
	if stco, ok := tablePayload[*mp4.Stco](stbl.Child("stco")); ok {
		for _, off := range stco.ChunkOffset {
			chunkOffsets = append(chunkOffsets, uint64(off))
		}
	} else if co64, ok := tablePayload[*mp4.Co64](stbl.Child("co64")); ok {
		chunkOffsets = co64.ChunkOffset
	} else {
		return nil, fmt.Errorf("missing chunk offsets (stco or co64)")
	}

	if err := d.checkSampleCount(stts, stsz, stsc, len(chunkOffsets)); err != nil {
		return nil, err
	}
	numSamples := int(stsz.SampleCount)
	samples := make([]Sample, numSamples)

	// Fill Times
	current := 0
	t := int64(0)
	for _, entry := range stts.Entries {
		for i := uint32(0); i < entry.SampleCount && current < numSamples; i++ {
			samples[current].Time = t
			samples[current].Duration = int64(entry.SampleDelta)
			t += int64(entry.SampleDelta)
			current++
		}
	}

	// Fill Sizes
	for i := range samples {
		if stsz.SampleSize != 0 {
			samples[i].Size = int64(stsz.SampleSize)
		} else if i < len(stsz.EntrySize) {
			samples[i].Size = int64(stsz.EntrySize[i])
		}
	}

	// Composition offsets (B-Frames)
	if ctts, ok := tablePayload[*mp4.Ctts](stbl.Child("ctts")); ok {
		current = 0
		for _, entry := range ctts.Entries {
			off := int64(entry.SampleOffsetV0)
			if ctts.Version != 0 {
				off = int64(entry.SampleOffsetV1)
			}
			for i := uint32(0); i < entry.SampleCount && current < numSamples; i++ {
				samples[current].CompositionOffset = off
				current++
			}
		}
	}

	// Keyframes; every sample is a sync sample when stss is absent
	if stss, ok := tablePayload[*mp4.Stss](stbl.Child("stss")); ok {
		for _, n := range stss.SampleNumber {
			if n >= 1 && int(n) <= numSamples {
				samples[n-1].IsKeyframe = true
			}
		}
	} else {
		for i := range samples {
			samples[i].IsKeyframe = true
		}
	}

	// Fill Offsets (stsc + chunk offsets)
	mapped := 0
	entry := 0
	for i, chunkOffset := range chunkOffsets {
		if len(stsc.Entries) == 0 {
			break
		}
		chunkIndex := uint32(i + 1) // 1-based
		for entry+1 < len(stsc.Entries) && stsc.Entries[entry+1].FirstChunk <= chunkIndex {
			entry++
		}
		e := stsc.Entries[entry]

		offset := int64(chunkOffset)
		for j := uint32(0); j < e.SamplesPerChunk && mapped < numSamples; j++ {
			s := &samples[mapped]
			s.Offset = offset
			s.DescIndex = int(e.SampleDescriptionIndex)
			s.Source = d.source
			offset += s.Size
			mapped++
		}
	}
	if mapped < numSamples {
		return nil, fmt.Errorf("%w: chunk tables map %d of %d samples", errCorrupt, mapped, numSamples)
	}

	return samples, nil
}

// checkSampleCount rejects a sample count the other tables or the file
// cannot hold, before anything is sized from it.
func (d *Demuxer) checkSampleCount(stts *mp4.Stts, stsz *mp4.Stsz, stsc *mp4.Stsc, chunks int) error {
	count := uint64(stsz.SampleCount)
	if stsz.SampleSize == 0 {
		if count != uint64(len(stsz.EntrySize)) {
			return fmt.Errorf("%w: stsz declares %d samples but lists %d sizes", errCorrupt, count, len(stsz.EntrySize))
		}
		return nil
	}

	var timed uint64
	for _, e := range stts.Entries {
		timed += uint64(e.SampleCount)
	}
	if count > timed {
		return fmt.Errorf("%w: stsz declares %d samples, stts times %d", errCorrupt, count, timed)
	}

	var capacity uint64
	entry := 0
	for i := 0; i < chunks && capacity < count; i++ {
		for entry+1 < len(stsc.Entries) && stsc.Entries[entry+1].FirstChunk <= uint32(i+1) {
			entry++
		}
		if len(stsc.Entries) > 0 {
			capacity += uint64(stsc.Entries[entry].SamplesPerChunk)
		}
	}
	if count > capacity {
		return fmt.Errorf("%w: stsz declares %d samples, chunks hold %d", errCorrupt, count, capacity)
	}

	if d.fileSize > 0 && count > uint64(d.fileSize)/uint64(stsz.SampleSize) {
		return fmt.Errorf("%w: %d samples of %d bytes exceed the %d byte file", errCorrupt, count, stsz.SampleSize, d.fileSize)
	}
	return nil
}

func parseEdits(elst *mp4.Elst) editList {
	edits := make(editList, 0, len(elst.Entries))
	for _, e := range elst.Entries {
		ed := Edit{Rate: int32(e.MediaRateInteger)<<16 | int32(uint16(e.MediaRateFraction))}
		if elst.Version == 1 {
			ed.Duration = int64(e.SegmentDurationV1)
			ed.MediaTime = e.MediaTimeV1
		} else {
			ed.Duration = int64(e.SegmentDurationV0)
			ed.MediaTime = int64(e.MediaTimeV0)
		}
		if ed.MediaTime < 0 {
			ed.MediaTime = emptyMediaTime
		}
		edits = append(edits, ed)
	}
	return edits
}

// splitSampleDescriptions splits a raw stsd payload into its sample entries,
// each kept with its own box header.
func splitSampleDescriptions(raw []byte) ([][]byte, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("stsd too short (%d bytes)", len(raw))
	}
	count := binary.BigEndian.Uint32(raw[4:8])
	// every entry needs at least a box header
	if uint64(count) > uint64(len(raw)-8)/8 {
		return nil, fmt.Errorf("stsd declares %d entries in %d bytes", count, len(raw))
	}
	var descs [][]byte
	pos := 8
	for i := uint32(0); i < count; i++ {
		if pos+8 > len(raw) {
			return nil, fmt.Errorf("stsd entry %d truncated", i+1)
		}
		size := int(binary.BigEndian.Uint32(raw[pos : pos+4]))
		if size < 8 || pos+size > len(raw) {
			return nil, fmt.Errorf("stsd entry %d has invalid size %d", i+1, size)
		}
		entry := make([]byte, size)
		copy(entry, raw[pos:pos+size])
		descs = append(descs, entry)
		pos += size
	}
	return descs, nil
}

func tablePayload[T mp4.IBox](a *Atom) (T, bool) {
	var zero T
	if a == nil || a.Payload == nil {
		return zero, false
	}
	v, ok := a.Payload.(T)
	return v, ok
}
