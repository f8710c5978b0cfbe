package core

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenFixture(t *testing.T) {
	m := openFixture(t, videoFixture(50), audioFixture(50))

	if m.TrackCount() != 2 {
		t.Fatalf("Expected 2 tracks, got %d", m.TrackCount())
	}
	if m.TimeScale() != 600 {
		t.Errorf("Expected time scale 600, got %d", m.TimeScale())
	}
	if m.Duration() != 5 {
		t.Errorf("Expected 5s, got %v", m.Duration())
	}
	if m.Changed() {
		t.Error("Expected a freshly loaded movie to be unchanged")
	}

	video, err := m.Track(0)
	if err != nil {
		t.Fatal(err)
	}
	if !video.IsVideo() || video.TimeScale() != 600 || video.FrameCount() != 50 {
		t.Errorf("Unexpected video track: %v scale %d frames %d", video.MediaType(), video.TimeScale(), video.FrameCount())
	}
	if video.FrameRate() != 10 {
		t.Errorf("Expected 10 fps, got %v", video.FrameRate())
	}
	if video.BoundsWidth() != 640 || video.BoundsHeight() != 480 {
		t.Errorf("Expected 640x480 bounds, got %vx%v", video.BoundsWidth(), video.BoundsHeight())
	}
	if b := m.Bounds(); b.Width() != 640 || b.Height() != 480 {
		t.Errorf("Expected movie bounds 640x480, got %v", b)
	}

	audio, _ := m.Track(1)
	if !audio.IsAudio() || audio.RawDuration() != 220500 || audio.Duration() != 5 {
		t.Errorf("Unexpected audio track: %v raw %d", audio.MediaType(), audio.RawDuration())
	}
	if audio.Volume() != 1 {
		t.Errorf("Expected full volume, got %v", audio.Volume())
	}
	if len(m.VideoTracks()) != 1 || len(m.AudioTracks()) != 1 || len(m.TextTracks()) != 0 {
		t.Error("Unexpected track type filters")
	}

	if _, err := m.Track(2); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected an invalid index error, got %v", err)
	}
}

func TestLoadTwiceKeepsState(t *testing.T) {
	m := openFixture(t, videoFixture(10))
	other := writeFixture(t, "other.mov", videoFixture(20), audioFixture(20))

	err := m.LoadFromFile(other)
	var ue *UsageError
	if !errors.As(err, &ue) || !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("Expected an already loaded usage error, got %v", err)
	}
	if m.TrackCount() != 1 || m.Duration() != 1 {
		t.Errorf("Expected the original state, got %d tracks %vs", m.TrackCount(), m.Duration())
	}
	if err := m.LoadEmpty(); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("Expected LoadEmpty to fail too, got %v", err)
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.mov")
	if err := os.WriteFile(garbage, []byte("definitely not a movie"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		code Code
	}{
		{"missing", filepath.Join(dir, "missing.mov"), CodeFileNotFound},
		{"not a container", garbage, CodeInvalidMovie},
		{"directory", dir, CodeInvalidMovie},
		{"sample count past the tables", patchedFixture(t, "stsz", 8, 0xFFFFFFF0), CodeInvalidMovie},
		{"description count past the box", patchedFixture(t, "stsd", 4, 0xFFFFFFFF), CodeInvalidMovie},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMovie()
			if err != nil {
				t.Fatal(err)
			}
			err = m.LoadFromFile(tt.path)
			var re *ResourceError
			if !errors.As(err, &re) {
				t.Fatalf("Expected a resource error, got %v", err)
			}
			if re.Code != tt.code {
				t.Errorf("Expected code %d, got %d (%v)", tt.code, re.Code, err)
			}
			if re.Path == "" {
				t.Error("Expected the error to name the path")
			}
			if m.TrackCount() != 0 || m.TimeScale() != 0 {
				t.Error("Expected the movie to stay unloaded")
			}
			if err := m.LoadEmpty(); err != nil {
				t.Errorf("Expected a later load to succeed, got %v", err)
			}
		})
	}
}

// patchedFixture writes a one-track movie and overwrites the 32-bit field at
// offset bytes into the payload of the track's stbl child typ.
func patchedFixture(t *testing.T, typ string, offset int64, value uint32) string {
	t.Helper()
	path := writeFixture(t, "patched.mov", videoFixture(10))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	atoms, err := FastProbe(f)
	if err != nil {
		t.Fatal(err)
	}
	box := FindAtom(atoms, "moov").Find("trak", "mdia", "minf", "stbl", typ)
	if box == nil {
		t.Fatalf("no %s in fixture", typ)
	}
	field := make([]byte, 4)
	binary.BigEndian.PutUint32(field, value)
	if _, err := f.WriteAt(field, box.Offset+8+offset); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCompressedMovieIsUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compressed.mov")
	data := append(rawBoxBytes("ftyp", []byte("qt  \x00\x00\x02\x00qt  ")), rawBoxBytes("moov", rawBoxBytes("cmov", nil))...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewMovie()
	if err != nil {
		t.Fatal(err)
	}
	err = m.LoadFromFile(path)
	var ue *UnsupportedError
	if !errors.As(err, &ue) || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Expected an unsupported error, got %v", err)
	}
	var re *ResourceError
	if errors.As(err, &re) {
		t.Errorf("Expected no resource error around it, got %v", err)
	}
	if m.TrackCount() != 0 {
		t.Error("Expected the movie to stay unloaded")
	}
}

func TestDispose(t *testing.T) {
	m := openFixture(t, videoFixture(10), audioFixture(10))
	tr, _ := m.Track(1)

	m.Dispose()
	m.Dispose()

	if !m.Disposed() || m.TrackCount() != 0 || m.Duration() != 0 {
		t.Error("Expected a released movie")
	}
	if err := m.DeleteSection(0, 1); !errors.Is(err, ErrStale) {
		t.Errorf("Expected a stale error, got %v", err)
	}
	if err := m.LoadEmpty(); !errors.Is(err, ErrStale) {
		t.Errorf("Expected a stale error on load, got %v", err)
	}
	if err := tr.SetVolume(0.5); !errors.Is(err, ErrStale) {
		t.Errorf("Expected a stale track, got %v", err)
	}
	if tr.ID() != 0 || tr.Volume() != 0 || tr.Enabled() {
		t.Error("Expected zero values from a stale track")
	}
}

func TestChangedStatus(t *testing.T) {
	m := openFixture(t, videoFixture(10))
	tr, _ := m.Track(0)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"disable", tr.Disable},
		{"offset", func() error { return tr.SetOffset(1) }},
		{"new track", func() error { _, err := m.NewTextTrack(100, 20); return err }},
		{"delete section", func() error { return m.DeleteSection(0, 0.5) }},
	}
	for _, s := range steps {
		m.ClearChangedStatus()
		if m.Changed() {
			t.Fatal("Expected ClearChangedStatus to reset the flag")
		}
		if err := s.fn(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if !m.Changed() {
			t.Errorf("%s: expected the movie to be changed", s.name)
		}
	}
}

func TestTrackProperties(t *testing.T) {
	m := openFixture(t, videoFixture(10), audioFixture(10))
	video, _ := m.Track(0)
	audio, _ := m.Track(1)

	if err := audio.SetVolume(0.5); err != nil {
		t.Fatal(err)
	}
	if audio.Volume() != 0.5 {
		t.Errorf("Expected volume 0.5, got %v", audio.Volume())
	}
	audio.SetVolume(3)
	if audio.Volume() != 1 {
		t.Errorf("Expected volume clamped to 1, got %v", audio.Volume())
	}
	audio.SetVolume(0.5)

	video.SetVolume(0.25)
	if video.Volume() != 0 {
		t.Errorf("Expected video volume to stay 0, got %v", video.Volume())
	}

	if err := video.SetOffset(2.5); err != nil {
		t.Fatal(err)
	}
	if video.Offset() != 2.5 {
		t.Errorf("Expected offset 2.5, got %v", video.Offset())
	}
	if m.Duration() != 3.5 {
		t.Errorf("Expected the offset to extend the movie to 3.5s, got %v", m.Duration())
	}
	edits := video.Edits()
	if len(edits) != 2 || !edits[0].Empty() || edits[0].Duration != ToTicks(2.5, m.TimeScale()) {
		t.Fatalf("Expected a leading 2.5s empty edit, got %v", edits)
	}
	edits[1].Duration = 1
	if again := video.Edits(); again[1].Duration == 1 {
		t.Error("Expected Edits to return a copy")
	}
	if err := video.SetOffset(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected a negative offset to fail, got %v", err)
	}

	video.Disable()
	if video.Enabled() {
		t.Error("Expected the track to be disabled")
	}

	// everything survives a flatten round trip
	out, err := m.Flatten(filepath.Join(t.TempDir(), "props.mov"), FlattenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Dispose()
	v2, _ := out.Track(0)
	a2, _ := out.Track(1)
	if v2.Offset() != 2.5 || v2.Enabled() {
		t.Errorf("Expected offset 2.5 on a disabled track, got %v %v", v2.Offset(), v2.Enabled())
	}
	if a2.Volume() != 0.5 {
		t.Errorf("Expected volume 0.5 after reload, got %v", a2.Volume())
	}
	if math.Abs(out.Duration()-3.5) > 1e-9 {
		t.Errorf("Expected 3.5s after reload, got %v", out.Duration())
	}
}

func TestNewTracksAndDelete(t *testing.T) {
	m, err := Empty()
	if err != nil {
		t.Fatal(err)
	}
	defer m.Dispose()
	if m.Changed() || m.TimeScale() != DefaultMovieTimeScale {
		t.Errorf("Unexpected empty movie: changed %v scale %d", m.Changed(), m.TimeScale())
	}

	v, _ := m.NewVideoTrack(320, 240)
	a, _ := m.NewAudioTrack()
	x, _ := m.NewTextTrack(320, 40)

	tests := []struct {
		tr    *Track
		kind  MediaType
		scale int32
	}{
		{v, MediaVideo, DefaultVideoTimeScale},
		{a, MediaAudio, DefaultAudioTimeScale},
		{x, MediaText, DefaultTextTimeScale},
	}
	ids := map[uint32]bool{}
	for _, tt := range tests {
		if tt.tr.MediaType() != tt.kind || tt.tr.TimeScale() != tt.scale || !tt.tr.Enabled() {
			t.Errorf("Unexpected %v track: scale %d", tt.tr.MediaType(), tt.tr.TimeScale())
		}
		if d, err := tt.tr.Descriptor(); d != nil || err != nil {
			t.Errorf("Expected no descriptor for new %v media", tt.kind)
		}
		ids[tt.tr.ID()] = true
	}
	if len(ids) != 3 {
		t.Errorf("Expected distinct track ids, got %v", ids)
	}
	if a.Volume() != 1 {
		t.Errorf("Expected full volume on the new audio track, got %v", a.Volume())
	}

	if err := a.Delete(); err != nil {
		t.Fatal(err)
	}
	if m.TrackCount() != 2 || a.IsAudio() {
		t.Error("Expected the audio track to be gone and stale")
	}
	if err := a.Delete(); !errors.Is(err, ErrStale) {
		t.Errorf("Expected a second delete to fail, got %v", err)
	}

	out, err := m.Flatten(filepath.Join(t.TempDir(), "empty-tracks.mov"), FlattenOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Dispose()
	if out.TrackCount() != 2 || !out.tracks[0].IsVideo() || !out.tracks[1].IsText() {
		t.Errorf("Expected video and text tracks after reload, got %d", out.TrackCount())
	}
}
