package core

import (
	"fmt"
	"math"
	"sort"
)

// MediaType classifies a track by its media handler.
type MediaType int

const (
	MediaUnknown MediaType = iota
	MediaVideo
	MediaAudio
	MediaText
)

func (t MediaType) String() string {
	switch t {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaText:
		return "text"
	default:
		return "unknown"
	}
}

// handler codes
const (
	handlerVideo = "vide"
	handlerAudio = "soun"
	handlerText  = "text"
)

func mediaTypeForHandler(h string) MediaType {
	switch h {
	case handlerVideo:
		return MediaVideo
	case handlerAudio:
		return MediaAudio
	case handlerText, "sbtl", "subt":
		return MediaText
	default:
		return MediaUnknown
	}
}

var mediaHeaderTypes = []string{"vmhd", "smhd", "nmhd", "gmhd", "sthd"}

type mediaHeader struct {
	typ string
	raw []byte
}

// media is the sample data of a track. It is never mutated once built;
// splices build a new media and swap the pointer.
type media struct {
	timeScale    int32
	handler      []byte // raw hdlr payload
	header       mediaHeader
	descriptions [][]byte // sample entries, box header included
	samples      []Sample
}

func (m *media) duration() int64 {
	if len(m.samples) == 0 {
		return 0
	}
	last := m.samples[len(m.samples)-1]
	return last.Time + last.Duration
}

// sampleAt returns the index of the sample playing at media time t, clamped
// to the sample range.
func (m *media) sampleAt(t int64) int {
	i := sort.Search(len(m.samples), func(i int) bool { return m.samples[i].Time > t })
	if i > 0 {
		i--
	}
	return i
}

// sampleFrom returns the index of the first sample starting at or after t.
func (m *media) sampleFrom(t int64) int {
	return sort.Search(len(m.samples), func(i int) bool { return m.samples[i].Time >= t })
}

func (m *media) description(index int) ([]byte, bool) {
	if index < 1 || index > len(m.descriptions) {
		return nil, false
	}
	return m.descriptions[index-1], true
}

// Track is one media stream of a Movie.
type Track struct {
	movie   *Movie
	deleted bool

	id             uint32
	kind           MediaType
	enabled        bool
	volume         int16 // 8.8 fixed point
	layer          int16
	alternateGroup int16
	matrix         [9]int32
	width, height  uint32 // 16.16 fixed point
	aperture       []byte // raw tapt payload

	media *media
	edits editList
}

func (t *Track) live() bool {
	return t != nil && !t.deleted && t.movie != nil && !t.movie.disposed
}

func (t *Track) checkLive(op string) error {
	if !t.live() {
		return &UsageError{Op: op, Subject: fmt.Sprintf("track %d", t.id), Err: ErrStale}
	}
	return nil
}

// ID is the container-assigned track identifier.
func (t *Track) ID() uint32 {
	if !t.live() {
		return 0
	}
	return t.id
}

func (t *Track) MediaType() MediaType {
	if !t.live() {
		return MediaUnknown
	}
	return t.kind
}

func (t *Track) IsVideo() bool { return t.MediaType() == MediaVideo }
func (t *Track) IsAudio() bool { return t.MediaType() == MediaAudio }
func (t *Track) IsText() bool  { return t.MediaType() == MediaText }

// RawDuration is the media duration in media ticks.
func (t *Track) RawDuration() int64 {
	if !t.live() {
		return 0
	}
	return t.media.duration()
}

// TimeScale is the media time scale.
func (t *Track) TimeScale() int32 {
	if !t.live() {
		return 0
	}
	return t.media.timeScale
}

// Duration is the media duration in seconds.
func (t *Track) Duration() float64 {
	if !t.live() {
		return 0
	}
	return ToSeconds(t.media.duration(), t.media.timeScale)
}

// FrameCount is the number of media samples.
func (t *Track) FrameCount() int {
	if !t.live() {
		return 0
	}
	return len(t.media.samples)
}

// FrameRate is samples per second of media, 0 for empty media.
func (t *Track) FrameRate() float64 {
	d := t.Duration()
	if d == 0 {
		return 0
	}
	return float64(t.FrameCount()) / d
}

func (t *Track) Enabled() bool {
	return t.live() && t.enabled
}

func (t *Track) Enable() error  { return t.setEnabled("enable track", true) }
func (t *Track) Disable() error { return t.setEnabled("disable track", false) }

func (t *Track) setEnabled(op string, on bool) error {
	if err := t.checkLive(op); err != nil {
		return err
	}
	t.enabled = on
	t.movie.markChanged()
	return nil
}

// Volume returns the track volume in [0, 1].
func (t *Track) Volume() float64 {
	if !t.live() {
		return 0
	}
	return float64(t.volume) / 256
}

// SetVolume clamps v to [0, 1]. It does nothing on tracks that carry no sound.
func (t *Track) SetVolume(v float64) error {
	if err := t.checkLive("set volume"); err != nil {
		return err
	}
	if t.kind != MediaAudio {
		return nil
	}
	v = math.Max(0, math.Min(1, v))
	t.volume = int16(math.Round(v * 256))
	t.movie.markChanged()
	return nil
}

// Offset is the time in seconds before the track starts playing.
func (t *Track) Offset() float64 {
	if !t.live() {
		return 0
	}
	return ToSeconds(t.edits.leadingEmpty(), t.movie.timeScale)
}

// SetOffset moves the track start to the given time.
func (t *Track) SetOffset(seconds float64) error {
	const op = "set track offset"
	if err := t.checkLive(op); err != nil {
		return err
	}
	if seconds < 0 || math.IsNaN(seconds) {
		return &UsageError{Op: op, Subject: fmt.Sprintf("%g", seconds), Err: ErrInvalidArgument}
	}
	rest := t.edits
	for len(rest) > 0 && rest[0].Empty() {
		rest = rest[1:]
	}
	edits := editList{}
	if ticks := ToTicks(seconds, t.movie.timeScale); ticks > 0 {
		edits = append(edits, emptyEdit(ticks))
	}
	t.edits = append(edits, rest...)
	t.movie.recomputeDuration()
	t.movie.markChanged()
	return nil
}

// Edits returns a copy of the track's edit list.
func (t *Track) Edits() []Edit {
	if !t.live() {
		return nil
	}
	return t.edits.clone()
}

// Rect is an axis-aligned rectangle in movie coordinates.
type Rect struct {
	Left, Top, Right, Bottom float64
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

func (r Rect) empty() bool { return r.Right <= r.Left || r.Bottom <= r.Top }

func (r Rect) union(o Rect) Rect {
	if r.empty() {
		return o
	}
	if o.empty() {
		return r
	}
	return Rect{
		Left:   math.Min(r.Left, o.Left),
		Top:    math.Min(r.Top, o.Top),
		Right:  math.Max(r.Right, o.Right),
		Bottom: math.Max(r.Bottom, o.Bottom),
	}
}

// Bounds is the track rectangle after the matrix translation.
func (t *Track) Bounds() Rect {
	if !t.live() {
		return Rect{}
	}
	tx := float64(t.matrix[6]) / 0x10000
	ty := float64(t.matrix[7]) / 0x10000
	return Rect{
		Left:   tx,
		Top:    ty,
		Right:  tx + float64(t.width)/0x10000,
		Bottom: ty + float64(t.height)/0x10000,
	}
}

func (t *Track) BoundsWidth() float64  { return t.Bounds().Width() }
func (t *Track) BoundsHeight() float64 { return t.Bounds().Height() }

// Delete removes the track from its movie. The Track is stale afterwards.
func (t *Track) Delete() error {
	if err := t.checkLive("delete track"); err != nil {
		return err
	}
	m := t.movie
	for i, other := range m.tracks {
		if other == t {
			m.tracks = append(m.tracks[:i:i], m.tracks[i+1:]...)
			break
		}
	}
	t.deleted = true
	m.recomputeDuration()
	m.markChanged()
	return nil
}

// detached returns a copy of t with no owning movie. media is shared.
func (t *Track) detached() *Track {
	c := *t
	c.movie = nil
	c.deleted = false
	c.edits = t.edits.clone()
	return &c
}

var unityMatrix = [9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000}
