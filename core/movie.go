package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Movie is an ordered set of tracks sharing one movie time scale.
type Movie struct {
	timeScale   int32
	duration    int64
	tracks      []*Track
	nextTrackID uint32
	path        string // file the movie was loaded from, empty when built in memory

	loaded   bool
	disposed bool
	changed  bool
	editing  bool
	sel      Selection
}

// NewMovie allocates an unloaded movie.
func NewMovie() (*Movie, error) {
	if err := checkEntered("new movie"); err != nil {
		return nil, err
	}
	return &Movie{}, nil
}

// Open loads the movie stored at path.
func Open(path string) (*Movie, error) {
	m, err := NewMovie()
	if err != nil {
		return nil, err
	}
	if err := m.LoadFromFile(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Empty returns a loaded movie with no tracks.
func Empty() (*Movie, error) {
	m, err := NewMovie()
	if err != nil {
		return nil, err
	}
	if err := m.LoadEmpty(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Movie) checkLoadable(op, subject string) error {
	switch {
	case m.disposed:
		return &UsageError{Op: op, Subject: subject, Err: ErrStale}
	case m.loaded:
		return &UsageError{Op: op, Subject: subject, Err: ErrAlreadyLoaded}
	}
	return nil
}

// LoadFromFile populates m from a container file. Nothing changes on failure.
func (m *Movie) LoadFromFile(path string) error {
	if err := m.checkLoadable("load movie", path); err != nil {
		return err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return &ResourceError{Op: "resolve movie path", Path: path, Code: CodeBadPath, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return resourceErr("resolve movie path", abs, err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return resourceErr("open movie file", abs, err)
	}

	hdr, tracks, err := readMovie(f, abs, info.Size())
	if err != nil {
		f.Close()
		var un *UnsupportedError
		if errors.As(err, &un) {
			return err
		}
		return &ResourceError{Op: "load movie", Path: abs, Code: CodeInvalidMovie, Err: err}
	}

	if err := f.Close(); err != nil {
		return resourceErr("close movie file", abs, err)
	}

	m.install(hdr.timeScale, tracks, hdr.nextTrackID)
	m.path = abs
	if hdr.duration != m.duration {
		log.Debugf("%s: header duration %d, edit lists give %d", abs, hdr.duration, m.duration)
	}
	log.Debugf("loaded %s: %d tracks, scale %d, duration %d", abs, len(m.tracks), m.timeScale, m.duration)
	return nil
}

func readMovie(r io.ReadSeeker, path string, size int64) (movieHeader, []*Track, error) {
	atoms, err := FastProbe(r)
	if err != nil {
		return movieHeader{}, nil, err
	}
	moov := FindAtom(atoms, "moov")
	if moov == nil {
		return movieHeader{}, nil, fmt.Errorf("no movie atom")
	}
	return NewDemuxer(path, size).ExtractMovie(*moov)
}

// LoadEmpty makes m a loaded movie with no tracks.
func (m *Movie) LoadEmpty() error {
	if err := m.checkLoadable("load empty movie", ""); err != nil {
		return err
	}
	m.install(settings.MovieTimeScale, nil, 1)
	return nil
}

func (m *Movie) install(scale int32, tracks []*Track, nextID uint32) {
	m.timeScale = scale
	m.tracks = tracks
	m.nextTrackID = nextID
	for _, t := range tracks {
		t.movie = m
		if t.id >= m.nextTrackID {
			m.nextTrackID = t.id + 1
		}
	}
	if m.nextTrackID == 0 {
		m.nextTrackID = 1
	}
	m.loaded = true
	m.changed = false
	m.recomputeDuration()
}

// Dispose releases the movie and its tracks. Repeated calls do nothing.
func (m *Movie) Dispose() {
	if m.disposed {
		return
	}
	m.disposed = true
	m.tracks = nil
}

func (m *Movie) Disposed() bool { return m.disposed }

// check guards every operation that needs a loaded, live movie.
func (m *Movie) check(op string) error {
	switch {
	case m.disposed:
		return &UsageError{Op: op, Subject: m.path, Err: ErrStale}
	case !m.loaded:
		return &UsageError{Op: op, Subject: m.path, Err: ErrNotLoaded}
	}
	return nil
}

func (m *Movie) usable() bool { return m.loaded && !m.disposed }

// Path is the file the movie was loaded from.
func (m *Movie) Path() string { return m.path }

func (m *Movie) TimeScale() int32 {
	if !m.usable() {
		return 0
	}
	return m.timeScale
}

// RawDuration is the duration in movie ticks.
func (m *Movie) RawDuration() int64 {
	if !m.usable() {
		return 0
	}
	return m.duration
}

// Duration is the duration in seconds.
func (m *Movie) Duration() float64 {
	if !m.usable() {
		return 0
	}
	return ToSeconds(m.duration, m.timeScale)
}

func (m *Movie) TrackCount() int { return len(m.tracks) }

// Track returns the track at a zero-based index.
func (m *Movie) Track(index int) (*Track, error) {
	if err := m.check("get track"); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(m.tracks) {
		return nil, &UsageError{Op: "get track", Subject: fmt.Sprintf("index %d", index), Err: ErrInvalidArgument}
	}
	return m.tracks[index], nil
}

func (m *Movie) Tracks() []*Track {
	return append([]*Track(nil), m.tracks...)
}

func (m *Movie) tracksOf(kind MediaType) []*Track {
	var out []*Track
	for _, t := range m.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

func (m *Movie) VideoTracks() []*Track { return m.tracksOf(MediaVideo) }
func (m *Movie) AudioTracks() []*Track { return m.tracksOf(MediaAudio) }
func (m *Movie) TextTracks() []*Track  { return m.tracksOf(MediaText) }

// Bounds is the union of the track rectangles.
func (m *Movie) Bounds() Rect {
	var r Rect
	for _, t := range m.tracks {
		r = r.union(t.Bounds())
	}
	return r
}

// Changed reports whether the movie was modified since load or the last
// ClearChangedStatus.
func (m *Movie) Changed() bool { return m.changed }

func (m *Movie) ClearChangedStatus() { m.changed = false }

func (m *Movie) markChanged() { m.changed = true }

// Selection is the range consumed by the most recent edit.
func (m *Movie) Selection() Selection { return m.sel }

func (m *Movie) recomputeDuration() {
	var d int64
	for _, t := range m.tracks {
		if td := t.edits.duration(); td > d {
			d = td
		}
	}
	m.duration = d
}

func (m *Movie) allocTrackID() uint32 {
	id := m.nextTrackID
	m.nextTrackID++
	return id
}

// NewVideoTrack adds an empty video track of the given size.
func (m *Movie) NewVideoTrack(width, height float64) (*Track, error) {
	return m.newTrack("new video track", MediaVideo, width, height)
}

// NewAudioTrack adds an empty sound track at full volume.
func (m *Movie) NewAudioTrack() (*Track, error) {
	return m.newTrack("new audio track", MediaAudio, 0, 0)
}

// NewTextTrack adds an empty text track of the given size.
func (m *Movie) NewTextTrack(width, height float64) (*Track, error) {
	return m.newTrack("new text track", MediaText, width, height)
}

func (m *Movie) newTrack(op string, kind MediaType, width, height float64) (*Track, error) {
	if err := m.check(op); err != nil {
		return nil, err
	}
	if width < 0 || height < 0 {
		return nil, &UsageError{Op: op, Subject: fmt.Sprintf("%gx%g", width, height), Err: ErrInvalidArgument}
	}
	t := &Track{
		movie:   m,
		kind:    kind,
		enabled: true,
		matrix:  unityMatrix,
		width:   uint32(width * 0x10000),
		height:  uint32(height * 0x10000),
		media:   newMedia(kind),
	}
	if kind == MediaAudio {
		t.volume = 0x100
	}
	t.id = m.allocTrackID()
	m.tracks = append(m.tracks, t)
	m.markChanged()
	log.Debugf("added %s track %d", kind, t.id)
	return t, nil
}

func newMedia(kind MediaType) *media {
	switch kind {
	case MediaVideo:
		return &media{
			timeScale: settings.VideoTimeScale,
			handler:   handlerPayload(handlerVideo, "VideoHandler"),
			header:    mediaHeader{typ: "vmhd", raw: []byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0}},
		}
	case MediaAudio:
		return &media{
			timeScale: settings.AudioTimeScale,
			handler:   handlerPayload(handlerAudio, "SoundHandler"),
			header:    mediaHeader{typ: "smhd", raw: []byte{0, 0, 0, 0, 0, 0, 0, 0}},
		}
	default:
		return &media{
			timeScale: settings.TextTimeScale,
			handler:   handlerPayload(handlerText, "TextHandler"),
			header:    mediaHeader{typ: "nmhd", raw: []byte{0, 0, 0, 0}},
		}
	}
}

// handlerPayload builds a raw hdlr payload: version/flags, pre_defined,
// handler type, 12 reserved bytes and a null-terminated name.
func handlerPayload(typ, name string) []byte {
	b := make([]byte, 24, 24+len(name)+1)
	copy(b[8:12], typ)
	b = append(b, name...)
	return append(b, 0)
}

// newMovieFrom wraps detached tracks in a fresh in-memory movie.
func newMovieFrom(scale int32, tracks []*Track) *Movie {
	m := &Movie{}
	m.install(scale, tracks, 1)
	return m
}
