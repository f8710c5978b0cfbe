package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// Sample entries are decoded through the avc1 and mp4a definitions: every
// visual entry shares the VisualSampleEntry layout and every sound entry
// the AudioSampleEntry one, whatever its four-character format.
var entryContext = mp4.Context{IsQuickTimeCompatible: true}

// QuickTime sound description v2 fields, offsets into QuickTimeData.
const (
	soundV2RateOffset = 4
	soundV2ChanOffset = 12
)

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width, Height float64
}

// Ratio is a horizontal:vertical pixel aspect ratio.
type Ratio struct {
	Horizontal, Vertical uint32
}

// AspectRatio classifies the display shape of a video track.
type AspectRatio int

const (
	AspectOther AspectRatio = iota
	AspectWidescreen
	AspectFullframe
)

func (a AspectRatio) String() string {
	switch a {
	case AspectWidescreen:
		return "widescreen"
	case AspectFullframe:
		return "fullframe"
	default:
		return "other"
	}
}

// H264Info is read from the sequence parameter set of an avcC record.
type H264Info struct {
	Profile uint8
	Level   uint8
	Width   int
	Height  int
}

// MediaDescriptor reads the sample description used by a track's first
// sample. Values are decoded on every call.
type MediaDescriptor struct {
	kind     MediaType
	entry    *sampleEntry
	width    uint32 // tkhd, 16.16
	height   uint32
	aperture []byte
}

// Descriptor returns the track's media descriptor, or nil when the media
// has no sample description.
func (t *Track) Descriptor() (*MediaDescriptor, error) {
	const op = "get media descriptor"
	if err := t.checkLive(op); err != nil {
		return nil, err
	}
	md := t.media
	index := 1
	if len(md.samples) > 0 {
		index = md.samples[0].DescIndex
	}
	entry, ok := md.description(index)
	if !ok {
		if len(md.samples) == 0 {
			return nil, nil
		}
		return nil, &ResourceError{
			Op: op, Path: fmt.Sprintf("track %d", t.id), Code: CodeBadDescription,
			Err: fmt.Errorf("sample description %d of %d is missing", index, len(md.descriptions)),
		}
	}
	decoded, err := decodeSampleEntry(t.kind, entry)
	if err != nil {
		return nil, &ResourceError{Op: op, Path: fmt.Sprintf("track %d", t.id), Code: CodeBadDescription, Err: err}
	}
	return &MediaDescriptor{
		kind:     t.kind,
		entry:    decoded,
		width:    t.width,
		height:   t.height,
		aperture: t.aperture,
	}, nil
}

// sampleEntry is a decoded sample description: the fixed fields of a
// visual or sound entry and the boxes that follow them.
type sampleEntry struct {
	format string
	visual *mp4.VisualSampleEntry
	audio  *mp4.AudioSampleEntry
	boxes  []Atom
}

func decodeSampleEntry(kind MediaType, raw []byte) (*sampleEntry, error) {
	r := bytes.NewReader(raw)
	bi, err := mp4.ReadBoxInfo(r)
	if err != nil {
		return nil, fmt.Errorf("sample description header: %w", err)
	}
	if bi.Size > uint64(len(raw)) {
		return nil, fmt.Errorf("sample description is %d bytes, box says %d", len(raw), bi.Size)
	}
	e := &sampleEntry{format: bi.Type.String()}

	var box mp4.IBox
	switch kind {
	case MediaVideo:
		e.visual = &mp4.VisualSampleEntry{SampleEntry: mp4.SampleEntry{AnyTypeBox: mp4.AnyTypeBox{Type: mp4.BoxTypeAvc1()}}}
		box = e.visual
	case MediaAudio:
		e.audio = &mp4.AudioSampleEntry{SampleEntry: mp4.SampleEntry{AnyTypeBox: mp4.AnyTypeBox{Type: mp4.BoxTypeMp4a()}}}
		box = e.audio
	default:
		return e, nil
	}
	n, err := mp4.Unmarshal(r, bi.Size-bi.HeaderSize, box, entryContext)
	if err != nil {
		return nil, fmt.Errorf("%s sample description: %w", e.format, err)
	}
	e.boxes = readEntryBoxes(raw[bi.HeaderSize+n : bi.Size])
	return e, nil
}

// readEntryBoxes decodes the extension boxes of a sample entry. Boxes read
// before a malformed one are kept; trailing padding is common.
func readEntryBoxes(b []byte) []Atom {
	if len(b) < 8 {
		return nil
	}
	r := bytes.NewReader(b)
	var top []Atom
	_, err := mp4.ReadBoxStructure(r, func(h *mp4.ReadHandle) (interface{}, error) {
		atom := Atom{
			Offset: int64(h.BoxInfo.Offset),
			Size:   int64(h.BoxInfo.Size),
			Type:   h.BoxInfo.Type.String(),
		}
		switch atom.Type {
		case "wave":
			children, err := h.Expand()
			if err != nil {
				return nil, err
			}
			atom.Children = collectAtoms(children)
		case "pasp", "avcC":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			atom.Payload = box
		case "chan":
			raw, err := readRawPayload(r, &h.BoxInfo)
			if err != nil {
				return nil, err
			}
			atom.Raw = raw
		}
		if len(h.Path) == 1 {
			top = append(top, atom)
		}
		return atom, nil
	})
	if err != nil {
		log.Debugf("sample entry extensions: %v", err)
	}
	return top
}

// Format is the four-character sample entry type, e.g. "avc1".
func (d *MediaDescriptor) Format() string {
	return d.entry.format
}

// Codec is the compressor name stored in a video description.
func (d *MediaDescriptor) Codec() (string, bool) {
	if d.kind != MediaVideo {
		return "", false
	}
	name := d.entry.visual.Compressorname
	n := int(name[0])
	if n == 0 {
		return "", false
	}
	if n > len(name)-1 {
		n = len(name) - 1
	}
	return string(name[1 : 1+n]), true
}

// Depth is the pixel depth of a video description.
func (d *MediaDescriptor) Depth() (int, bool) {
	if d.kind != MediaVideo {
		return 0, false
	}
	return int(d.entry.visual.Depth), true
}

// EncodedPixelDimensions is the coded frame size.
func (d *MediaDescriptor) EncodedPixelDimensions() (Dimensions, bool) {
	if d.kind != MediaVideo {
		return Dimensions{}, false
	}
	return Dimensions{
		Width:  float64(d.entry.visual.Width),
		Height: float64(d.entry.visual.Height),
	}, true
}

// PixelAspectRatio comes from the pasp extension and defaults to 1:1.
func (d *MediaDescriptor) PixelAspectRatio() (Ratio, bool) {
	if d.kind != MediaVideo {
		return Ratio{}, false
	}
	if pasp, ok := tablePayload[*mp4.PixelAspectRatioBox](FindAtom(d.entry.boxes, "pasp")); ok {
		if pasp.HSpacing > 0 && pasp.VSpacing > 0 {
			return Ratio{pasp.HSpacing, pasp.VSpacing}, true
		}
	}
	return Ratio{1, 1}, true
}

// DisplayPixelDimensions is the presented size. It prefers the track's
// clean aperture, then the track header size, then the encoded size scaled
// by the pixel aspect ratio.
func (d *MediaDescriptor) DisplayPixelDimensions() (Dimensions, bool) {
	if d.kind != MediaVideo {
		return Dimensions{}, false
	}
	// go-mp4 has no tapt model; clef is version/flags then 16.16 width and height
	if clef, ok := findBox(d.aperture, "clef"); ok && len(clef) >= 12 {
		w := binary.BigEndian.Uint32(clef[4:8])
		h := binary.BigEndian.Uint32(clef[8:12])
		if w > 0 && h > 0 {
			return Dimensions{float64(w) / 0x10000, float64(h) / 0x10000}, true
		}
	}
	if d.width > 0 && d.height > 0 {
		return Dimensions{float64(d.width) / 0x10000, float64(d.height) / 0x10000}, true
	}
	enc, _ := d.EncodedPixelDimensions()
	par, _ := d.PixelAspectRatio()
	return Dimensions{enc.Width * float64(par.Horizontal) / float64(par.Vertical), enc.Height}, true
}

// AspectRatio classifies encoded width/height scaled by the pixel aspect ratio.
func (d *MediaDescriptor) AspectRatio() (AspectRatio, bool) {
	enc, ok := d.EncodedPixelDimensions()
	if !ok || enc.Height == 0 {
		return AspectOther, false
	}
	par, _ := d.PixelAspectRatio()
	aspect := enc.Width / enc.Height * float64(par.Horizontal) / float64(par.Vertical)
	switch {
	case math.Abs(aspect-16.0/9.0) < 1e-3:
		return AspectWidescreen, true
	case math.Abs(aspect-4.0/3.0) < 1e-3:
		return AspectFullframe, true
	default:
		return AspectOther, true
	}
}

// H264 decodes the first SPS of an avcC record.
func (d *MediaDescriptor) H264() (H264Info, bool) {
	if d.kind != MediaVideo {
		return H264Info{}, false
	}
	avcc, ok := tablePayload[*mp4.AVCDecoderConfiguration](FindAtom(d.entry.boxes, "avcC"))
	if !ok || len(avcc.SequenceParameterSets) == 0 {
		return H264Info{}, false
	}
	var sps h264.SPS
	if err := sps.Unmarshal(avcc.SequenceParameterSets[0].NALUnit); err != nil {
		log.Debugf("avcC SPS: %v", err)
		return H264Info{}, false
	}
	return H264Info{
		Profile: sps.ProfileIdc,
		Level:   sps.LevelIdc,
		Width:   sps.Width(),
		Height:  sps.Height(),
	}, true
}

// ChannelCount is the channel count of a sound description.
func (d *MediaDescriptor) ChannelCount() (int, bool) {
	if d.kind != MediaAudio {
		return 0, false
	}
	a := d.entry.audio
	if a.EntryVersion == 2 && len(a.QuickTimeData) >= soundV2ChanOffset+4 {
		return int(binary.BigEndian.Uint32(a.QuickTimeData[soundV2ChanOffset:])), true
	}
	return int(a.ChannelCount), true
}

// SampleRate is the sound sample rate in Hz.
func (d *MediaDescriptor) SampleRate() (float64, bool) {
	if d.kind != MediaAudio {
		return 0, false
	}
	a := d.entry.audio
	if a.EntryVersion == 2 && len(a.QuickTimeData) >= soundV2RateOffset+8 {
		return math.Float64frombits(binary.BigEndian.Uint64(a.QuickTimeData[soundV2RateOffset:])), true
	}
	return float64(a.SampleRate) / 0x10000, true
}

// RawChannelLayout returns the 'chan' record, or a layout inferred from the
// channel count when the description carries none.
func (d *MediaDescriptor) RawChannelLayout() (ChannelLayout, bool) {
	n, ok := d.ChannelCount()
	if !ok {
		return ChannelLayout{}, false
	}
	chn := FindAtom(d.entry.boxes, "chan")
	if wave := FindAtom(d.entry.boxes, "wave"); chn == nil && wave != nil {
		chn = wave.Child("chan")
	}
	if chn != nil {
		l, err := parseChannelLayout(chn.Raw)
		if err == nil {
			l.Channels = n
			return l, true
		}
		log.Debugf("ignoring channel layout: %v", err)
	}
	switch n {
	case 1:
		return ChannelLayout{Tag: LayoutMono, Channels: n}, true
	case 2:
		return ChannelLayout{Tag: LayoutStereo, Channels: n}, true
	default:
		return ChannelLayout{Tag: LayoutDiscreteInOrder | LayoutTag(n&0xFFFF), Channels: n}, true
	}
}

// ChannelLayout resolves the role of every channel.
func (d *MediaDescriptor) ChannelLayout() ([]ChannelAssignment, bool) {
	l, ok := d.RawChannelLayout()
	if !ok {
		return nil, false
	}
	return ResolveChannelLayout(l), true
}

// parseChannelLayout decodes a 'chan' payload: version/flags, tag, bitmap,
// description count, then 20 bytes per description.
func parseChannelLayout(b []byte) (ChannelLayout, error) {
	if len(b) < 16 {
		return ChannelLayout{}, fmt.Errorf("chan payload is %d bytes", len(b))
	}
	l := ChannelLayout{
		Tag:    LayoutTag(binary.BigEndian.Uint32(b[4:8])),
		Bitmap: binary.BigEndian.Uint32(b[8:12]),
	}
	count := int(binary.BigEndian.Uint32(b[12:16]))
	if 16+count*20 > len(b) {
		return ChannelLayout{}, fmt.Errorf("chan declares %d descriptions in %d bytes", count, len(b))
	}
	for i := 0; i < count; i++ {
		off := 16 + i*20
		l.Labels = append(l.Labels, binary.BigEndian.Uint32(b[off:off+4]))
	}
	return l, nil
}

// findBox scans a run of raw boxes for typ and returns its payload.
func findBox(b []byte, typ string) ([]byte, bool) {
	for len(b) >= 8 {
		size := int(binary.BigEndian.Uint32(b[0:4]))
		if size == 0 {
			size = len(b)
		}
		if size < 8 || size > len(b) {
			return nil, false
		}
		if string(b[4:8]) == typ {
			return b[8:size], true
		}
		b = b[size:]
	}
	return nil, false
}
