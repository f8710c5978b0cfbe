package core

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestFlattenRoundTrip(t *testing.T) {
	m := openFixture(t, videoFixture(30), audioFixture(30))

	tests := []struct {
		name string
		opts FlattenOptions
	}{
		{"default", FlattenOptions{}},
		{"interleaved", FlattenOptions{Interleave: true, ChunkSeconds: 0.25}},
		{"movie data first", FlattenOptions{MovieDataFirst: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.Flatten(filepath.Join(t.TempDir(), "out.mov"), tt.opts)
			if err != nil {
				t.Fatalf("Flatten failed: %v", err)
			}
			defer out.Dispose()

			if out.TrackCount() != m.TrackCount() || out.Duration() != m.Duration() {
				t.Fatalf("Expected %d tracks and %vs, got %d and %vs", m.TrackCount(), m.Duration(), out.TrackCount(), out.Duration())
			}
			for i, tr := range out.tracks {
				orig := m.tracks[i]
				if tr.MediaType() != orig.MediaType() || tr.RawDuration() != orig.RawDuration() || tr.FrameCount() != orig.FrameCount() {
					t.Errorf("track %d differs after reload", i)
				}
			}

			vd, err := out.tracks[0].Descriptor()
			if err != nil {
				t.Fatal(err)
			}
			if codec, _ := vd.Codec(); codec != "H.264" {
				t.Errorf("Expected codec H.264, got %q", codec)
			}
			ad, err := out.tracks[1].Descriptor()
			if err != nil {
				t.Fatal(err)
			}
			layout, _ := ad.ChannelLayout()
			if len(layout) != 2 || layout[0].Role != RoleLeft || layout[1].Role != RoleRight {
				t.Errorf("Expected [Left Right], got %v", layout)
			}

			// sample bytes follow their samples
			src := newSourceSet()
			defer src.Close()
			for i, tr := range out.tracks {
				for _, j := range []int{0, 7, 29} {
					got, err := src.read(tr.media.samples[j])
					if err != nil {
						t.Fatal(err)
					}
					if got[0] != byte(i*64+j) {
						t.Errorf("track %d sample %d: expected fill %d, got %d", i, j, i*64+j, got[0])
					}
				}
			}
		})
	}
}

func TestFlattenAfterEdits(t *testing.T) {
	m := openFixture(t, videoFixture(50), audioFixture(50))
	if err := m.DeleteSection(1, 2); err != nil {
		t.Fatal(err)
	}
	out, err := m.Flatten(filepath.Join(t.TempDir(), "edited.mov"), FlattenOptions{Interleave: true})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Dispose()

	if out.Duration() != 3 {
		t.Errorf("Expected 3s, got %v", out.Duration())
	}
	if out.tracks[0].FrameCount() != m.tracks[0].FrameCount() {
		t.Errorf("Expected only the referenced frames to be written, got %d", out.tracks[0].FrameCount())
	}
	if out.Changed() {
		t.Error("Expected the flattened movie to be unchanged")
	}
}

func TestFlattenRefusesExistingPath(t *testing.T) {
	m := openFixture(t, videoFixture(10))
	path := filepath.Join(t.TempDir(), "exists.mov")
	if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := m.Flatten(path, FlattenOptions{})
	var re *ResourceError
	if !errors.As(err, &re) || re.Code != CodeFileExists || !errors.Is(err, ErrExists) {
		t.Fatalf("Expected a file exists error, got %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "keep me" {
		t.Errorf("Expected the file untouched, got %q", data)
	}
	if err := m.ExportStillImage(path, 0); !errors.Is(err, ErrExists) {
		t.Errorf("Expected still export to refuse too, got %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected no temporary files left, got %d entries", len(entries))
	}
}

func TestFlattenUnsupportedOptions(t *testing.T) {
	m := openFixture(t, videoFixture(10))
	_, err := m.Flatten(filepath.Join(t.TempDir(), "x.mov"), FlattenOptions{CompressMovieResource: true})
	var ue *UnsupportedError
	if !errors.As(err, &ue) || !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected an unsupported error, got %v", err)
	}
	if _, err := m.Flatten(filepath.Join(t.TempDir(), "y.mov"), FlattenOptions{ChunkSeconds: -1}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected negative chunk seconds to fail, got %v", err)
	}
}

func TestFlattenProgress(t *testing.T) {
	m := openFixture(t, videoFixture(30), audioFixture(30))
	var last float64
	calls := 0
	opts := FlattenOptions{Interleave: true, Progress: func(f float64) {
		if f < last {
			t.Errorf("progress went back from %v to %v", last, f)
		}
		last = f
		calls++
	}}
	out, err := m.Flatten(filepath.Join(t.TempDir(), "p.mov"), opts)
	if err != nil {
		t.Fatal(err)
	}
	out.Dispose()
	if calls < 2 || last != 1 {
		t.Errorf("Expected progress up to 1, got %d calls ending at %v", calls, last)
	}
}

func TestExportStillImage(t *testing.T) {
	jpegFrames := videoFixture(10)
	jpegFrames.desc = videoEntry("jpeg", 640, 480, "Photo - JPEG", 24)
	m := openFixture(t, jpegFrames)

	path := filepath.Join(t.TempDir(), "frame.jpg")
	if err := m.ExportStillImage(path, 0.35); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// 0.35s falls in frame 3
	if len(data) != 100 || data[0] != 3 {
		t.Errorf("Expected frame 3 written verbatim, got %d bytes starting %d", len(data), data[0])
	}

	// past the end clamps to the last frame
	late := filepath.Join(t.TempDir(), "late.jpg")
	if err := m.ExportStillImage(late, 60); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(late); len(data) == 0 || data[0] != 9 {
		t.Errorf("Expected the last frame, got %d bytes", len(data))
	}
}

func TestExportRawStillAsPNG(t *testing.T) {
	raw := fixtureTrack{
		kind: MediaVideo, scale: 600, count: 2, dur: 300, size: 4 * 2 * 3,
		desc: videoEntry("raw ", 4, 2, "None", 24), width: 4, height: 2,
	}
	m := openFixture(t, raw)

	path := filepath.Join(t.TempDir(), "frame.png")
	if err := m.ExportStillImage(path, 0.6); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Expected a PNG, got %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("Expected 4x2, got %v", b)
	}
	r, _, _, _ := img.At(0, 0).RGBA()
	if r>>8 != 1 {
		t.Errorf("Expected frame 1 fill in red, got %d", r>>8)
	}
}

func TestExportStillFailures(t *testing.T) {
	audioOnly := openFixture(t, audioFixture(10))
	err := audioOnly.ExportStillImage(filepath.Join(t.TempDir(), "none.png"), 0)
	var re *ResourceError
	if !errors.As(err, &re) || re.Code != CodeNoFrame {
		t.Errorf("Expected a no frame error, got %v", err)
	}

	avc := openFixture(t, videoFixture(10))
	dir := t.TempDir()
	err = avc.ExportStillImage(filepath.Join(dir, "frame.png"), 0)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected unsupported codec error, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("Expected nothing written, got %d entries", len(entries))
	}
}
