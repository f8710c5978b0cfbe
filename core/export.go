package core

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FlattenOptions controls how Flatten lays out the new file.
type FlattenOptions struct {
	Interleave            bool    // interleave tracks in chunks of ChunkSeconds
	ChunkSeconds          float64 // 0 means 0.5s
	MovieDataFirst        bool    // write the movie atom after the sample data
	CompressMovieResource bool    // not supported
	Progress              ProgressFunc
}

// Flatten writes a self-contained copy of m to path, which must not exist,
// and returns the movie loaded back from it.
func (m *Movie) Flatten(path string, opts FlattenOptions) (*Movie, error) {
	const op = "flatten movie"
	if err := m.prepareEdit(op, nil); err != nil {
		return nil, err
	}
	if opts.CompressMovieResource {
		return nil, &UnsupportedError{Op: op, Feature: "compressed movie resource"}
	}
	if opts.ChunkSeconds < 0 || math.IsNaN(opts.ChunkSeconds) {
		return nil, &UsageError{Op: op, Subject: fmt.Sprintf("chunk seconds %g", opts.ChunkSeconds), Err: ErrInvalidArgument}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &ResourceError{Op: op, Path: path, Code: CodeBadPath, Err: err}
	}

	m.editing = true
	defer func() { m.editing = false }()
	rem := newRemuxer(m, opts, brandFor(abs))
	err = publish(op, abs, func(f *os.File) error {
		src := newSourceSet()
		defer src.Close()
		return rem.WriteFile(f, src)
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("flattened %d tracks to %s", len(rem.tracks), abs)
	return Open(abs)
}

func brandFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".m4a":
		return "isom"
	default:
		return "qt  "
	}
}

// ExportStillImage writes the video frame nearest at to path, which must not
// exist. JPEG and PNG frames are written as they are stored; uncompressed
// RGB frames are encoded as PNG.
func (m *Movie) ExportStillImage(path string, at float64) error {
	const op = "export still image"
	if err := m.prepareEdit(op, nil); err != nil {
		return err
	}
	if at < 0 || math.IsNaN(at) {
		return &UsageError{Op: op, Subject: fmt.Sprintf("%g", at), Err: ErrInvalidArgument}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &ResourceError{Op: op, Path: path, Code: CodeBadPath, Err: err}
	}
	if err := checkTarget(op, abs); err != nil {
		return err
	}

	t, s, err := m.frameAt(at)
	if err != nil {
		return &ResourceError{Op: op, Path: abs, Code: CodeNoFrame, Err: err}
	}
	desc, ok := t.media.description(s.DescIndex)
	if !ok {
		return &ResourceError{Op: op, Path: abs, Code: CodeBadDescription, Err: fmt.Errorf("frame has no image description")}
	}
	entry, err := decodeSampleEntry(MediaVideo, desc)
	if err != nil {
		return &ResourceError{Op: op, Path: abs, Code: CodeBadDescription, Err: err}
	}
	enc, err := stillEncoder(entry)
	if err != nil {
		return &UnsupportedError{Op: op, Feature: err.Error()}
	}

	return publish(op, abs, func(f *os.File) error {
		src := newSourceSet()
		defer src.Close()
		frame, err := src.read(s)
		if err != nil {
			return err
		}
		return enc(f, frame)
	})
}

// frameAt picks the first enabled video track with samples and returns the
// sample shown at the given time, clamped to the nearest edit that plays media.
func (m *Movie) frameAt(at float64) (*Track, Sample, error) {
	var t *Track
	for _, c := range m.tracks {
		if c.kind == MediaVideo && c.enabled && len(c.media.samples) > 0 && c.edits.hasContent() {
			t = c
			break
		}
	}
	if t == nil {
		return nil, Sample{}, errors.New("movie has no video frames")
	}

	ticks := ToTicks(at, m.timeScale)
	mt, ok := t.edits.mediaAt(ticks, m.timeScale, t.media.timeScale)
	if !ok {
		best := int64(math.MaxInt64)
		var pos int64
		for _, e := range t.edits {
			if !e.Empty() && e.Duration > 0 {
				switch end := pos + e.Duration - 1; {
				case ticks < pos && pos-ticks < best:
					best, mt = pos-ticks, e.MediaTime
				case ticks > end && ticks-end < best:
					best, mt = ticks-end, e.MediaTime+mediaAdvance(e, e.Duration-1, m.timeScale, t.media.timeScale)
				}
			}
			pos += e.Duration
		}
	}
	return t, t.media.samples[t.media.sampleAt(mt)], nil
}

type stillFunc func(w io.Writer, frame []byte) error

func stillEncoder(e *sampleEntry) (stillFunc, error) {
	switch e.format {
	case "jpeg", "mjpa", "png ":
		return func(w io.Writer, frame []byte) error {
			_, err := w.Write(frame)
			return err
		}, nil
	case "raw ":
		width, height, depth := int(e.visual.Width), int(e.visual.Height), int(e.visual.Depth)
		if depth != 24 && depth != 32 {
			return nil, fmt.Errorf("still export of %d-bit raw frames", depth)
		}
		return func(w io.Writer, frame []byte) error {
			img, err := rawImage(frame, width, height, depth/8)
			if err != nil {
				return err
			}
			return png.Encode(w, img)
		}, nil
	default:
		return nil, fmt.Errorf("still export of %q frames", e.format)
	}
}

// rawImage decodes packed RGB (3 bytes) or ARGB (4 bytes) rows.
func rawImage(frame []byte, width, height, bpp int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raw frame is %dx%d", width, height)
	}
	stride := len(frame) / height
	if stride < width*bpp {
		return nil, fmt.Errorf("raw frame is %d bytes, want at least %d", len(frame), width*bpp*height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := frame[y*stride:]
		for x := 0; x < width; x++ {
			px := row[x*bpp:]
			if bpp == 4 {
				px = px[1:] // skip alpha
			}
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = px[0], px[1], px[2], 0xFF
		}
	}
	return img, nil
}

// checkTarget accepts only a path that does not exist yet.
func checkTarget(op, path string) error {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return &ResourceError{Op: op, Path: path, Code: CodeFileExists, Err: ErrExists}
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return resourceErr(op, path, err)
	}
}

// publish writes a file through a temporary sibling and links it into place.
// path is never replaced and never seen half written.
func publish(op, path string, write func(f *os.File) error) error {
	if err := checkTarget(op, path); err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.Must(uuid.NewV7()).String()))
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return resourceErr(op, tmp, err)
	}
	defer os.Remove(tmp)

	if err := write(f); err != nil {
		f.Close()
		return wrapResource(op, path, err)
	}
	if err := f.Close(); err != nil {
		return resourceErr(op, path, err)
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &ResourceError{Op: op, Path: path, Code: CodeFileExists, Err: ErrExists}
		}
		// no hard links on this file system
		if err := checkTarget(op, path); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return resourceErr(op, path, err)
		}
	}
	return nil
}

// wrapResource keeps typed engine errors and wraps anything else.
func wrapResource(op, path string, err error) error {
	var (
		re *ResourceError
		ue *UsageError
		un *UnsupportedError
	)
	if errors.As(err, &re) || errors.As(err, &ue) || errors.As(err, &un) {
		return err
	}
	return resourceErr(op, path, err)
}

// sourceSet opens sample data files on demand and closes them together.
type sourceSet struct {
	files map[string]*os.File
}

func newSourceSet() *sourceSet {
	return &sourceSet{files: make(map[string]*os.File)}
}

func (s *sourceSet) open(ref *dataRef) (*os.File, error) {
	if ref == nil {
		return nil, &ResourceError{Op: "open sample data", Code: CodeUnresolvedDataRef, Err: errors.New("sample has no data reference")}
	}
	if f, ok := s.files[ref.path]; ok {
		return f, nil
	}
	f, err := os.Open(ref.path)
	if err != nil {
		code := CodeUnresolvedDataRef
		if errors.Is(err, fs.ErrPermission) {
			code = CodePermission
		}
		return nil, &ResourceError{Op: "open sample data", Path: ref.path, Code: code, Err: err}
	}
	s.files[ref.path] = f
	return f, nil
}

func (s *sourceSet) read(smp Sample) ([]byte, error) {
	f, err := s.open(smp.Source)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, smp.Size)
	if _, err := f.ReadAt(buf, smp.Offset); err != nil {
		return nil, &ResourceError{Op: "read sample data", Path: smp.Source.path, Code: CodeIO, Err: err}
	}
	return buf, nil
}

func (s *sourceSet) Close() error {
	var first error
	for path, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = resourceErr("close sample data", path, err)
		}
	}
	s.files = nil
	return first
}
