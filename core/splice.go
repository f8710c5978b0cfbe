package core

import (
	"fmt"
	"math"
	"sort"
)

// Selection is a range in movie ticks. A zero Duration is an insertion point.
type Selection struct {
	Start    int64
	Duration int64
}

// piece is a snapshot of one source track taken before a splice starts.
type piece struct {
	track *Track
	edits editList
	media *media
}

func snapshot(src *Movie) []piece {
	pieces := make([]piece, 0, len(src.tracks))
	for _, t := range src.tracks {
		pieces = append(pieces, piece{track: t, edits: t.edits.clone(), media: t.media})
	}
	return pieces
}

func (m *Movie) prepareEdit(op string, src *Movie) error {
	if err := m.check(op); err != nil {
		return err
	}
	if m.editing {
		return &UsageError{Op: op, Subject: m.path, Err: ErrReentrant}
	}
	if src == nil {
		return nil
	}
	if err := src.check(op); err != nil {
		return err
	}
	if src.editing {
		return &UsageError{Op: op, Subject: src.path, Err: ErrReentrant}
	}
	return nil
}

func (m *Movie) selectRange(op string, start, duration float64) (Selection, error) {
	if start < 0 || duration < 0 || math.IsNaN(start) || math.IsNaN(duration) {
		return Selection{}, &UsageError{Op: op, Subject: fmt.Sprintf("selection %g+%g", start, duration), Err: ErrInvalidArgument}
	}
	return Selection{Start: ToTicks(start, m.timeScale), Duration: ToTicks(duration, m.timeScale)}, nil
}

func (m *Movie) beginEdit(sel Selection) {
	m.sel = sel
	m.editing = true
}

func (m *Movie) endEdit() {
	m.editing = false
	m.recomputeDuration()
	m.markChanged()
}

// CompositeMovie lays src's tracks over m as new tracks starting at at.
// Existing content is not shifted; the movie grows if src runs past its end.
func (m *Movie) CompositeMovie(src *Movie, at float64, progress ProgressFunc) error {
	const op = "composite movie"
	if err := m.prepareEdit(op, src); err != nil {
		return err
	}
	sel, err := m.selectRange(op, at, 0)
	if err != nil {
		return err
	}

	pieces := snapshot(src)
	m.beginEdit(sel)
	defer m.endEdit()
	log.Debugf("%s: %d tracks at %d", op, len(pieces), sel.Start)

	prog := newProgress(progress, len(pieces))
	for _, p := range pieces {
		m.tracks = append(m.tracks, m.adopt(p, p.edits.rescale(src.timeScale, m.timeScale), sel.Start))
		prog.step()
	}
	prog.finish()
	return nil
}

// InsertMovie pastes src at the given time, shifting later content by
// src's duration.
func (m *Movie) InsertMovie(src *Movie, at float64, progress ProgressFunc) error {
	const op = "insert movie"
	if err := m.prepareEdit(op, src); err != nil {
		return err
	}
	sel, err := m.selectRange(op, at, 0)
	if err != nil {
		return err
	}
	m.paste(op, src, sel, progress)
	return nil
}

// AppendMovie pastes src at the current end of m.
func (m *Movie) AppendMovie(src *Movie, progress ProgressFunc) error {
	const op = "append movie"
	if err := m.prepareEdit(op, src); err != nil {
		return err
	}
	m.paste(op, src, Selection{Start: m.duration}, progress)
	return nil
}

func (m *Movie) paste(op string, src *Movie, sel Selection, progress ProgressFunc) {
	pieces := snapshot(src)
	dur := Rescale(src.duration, src.timeScale, m.timeScale)
	m.beginEdit(sel)
	defer m.endEdit()
	log.Debugf("%s: %d tracks, %d ticks at %d", op, len(pieces), dur, sel.Start)

	prog := newProgress(progress, len(pieces))
	at := sel.Start
	used := make(map[*Track]bool)
	var added []*Track
	for _, p := range pieces {
		seg := p.edits.rescale(src.timeScale, m.timeScale)
		dest := m.matchTrack(p, used)
		if dest == nil {
			added = append(added, m.adopt(p, seg, at))
			prog.step()
			continue
		}
		used[dest] = true

		md, base := mergeMedia(dest.media, p.media)
		for i := range seg {
			if !seg[i].Empty() {
				seg[i].MediaTime += base
			}
		}
		if dest.edits.duration() > at {
			if pad := dur - seg.duration(); pad > 0 {
				seg = append(seg, emptyEdit(pad))
			}
		}
		edits := dest.edits.insert(at, seg, m.timeScale, md.timeScale).normalize(m.timeScale, md.timeScale)
		dest.media, dest.edits = compact(md, edits, m.timeScale)
		prog.step()
	}

	for _, t := range m.tracks {
		if used[t] || dur == 0 || t.edits.duration() <= at {
			continue
		}
		t.edits = t.edits.insert(at, editList{emptyEdit(dur)}, m.timeScale, t.media.timeScale).
			normalize(m.timeScale, t.media.timeScale)
	}
	m.tracks = append(m.tracks, added...)
	prog.finish()
}

// matchTrack finds the first unused track that can take p's samples.
func (m *Movie) matchTrack(p piece, used map[*Track]bool) *Track {
	for _, t := range m.tracks {
		if used[t] || t.kind == MediaUnknown {
			continue
		}
		if t.kind == p.track.kind && t.media.timeScale == p.media.timeScale {
			return t
		}
	}
	return nil
}

// adopt turns a source piece into a new track of m starting at movie time at.
func (m *Movie) adopt(p piece, seg editList, at int64) *Track {
	t := p.track.detached()
	t.movie = m
	t.id = m.allocTrackID()
	t.media = p.media
	edits := editList{}
	if at > 0 {
		edits = append(edits, emptyEdit(at))
	}
	t.edits = append(edits, seg...).normalize(m.timeScale, t.media.timeScale)
	return t
}

// mergeMedia appends src's samples after dst's. It returns the merged media
// and the media time src's samples start at.
func mergeMedia(dst, src *media) (*media, int64) {
	out := &media{
		timeScale:    dst.timeScale,
		handler:      dst.handler,
		header:       dst.header,
		descriptions: append([][]byte(nil), dst.descriptions...),
		samples:      make([]Sample, 0, len(dst.samples)+len(src.samples)),
	}
	if out.header.typ == "" {
		out.header = src.header
	}

	remap := make([]int, len(src.descriptions)+1)
	for i, d := range src.descriptions {
		remap[i+1] = descriptionIndex(out, d)
	}

	base := dst.duration()
	out.samples = append(out.samples, dst.samples...)
	for _, s := range src.samples {
		s.Time += base
		if s.DescIndex >= 1 && s.DescIndex < len(remap) {
			s.DescIndex = remap[s.DescIndex]
		}
		out.samples = append(out.samples, s)
	}
	return out, base
}

// descriptionIndex returns the 1-based index of d in md, appending it when absent.
func descriptionIndex(md *media, d []byte) int {
	for i, have := range md.descriptions {
		if string(have) == string(d) {
			return i + 1
		}
	}
	md.descriptions = append(md.descriptions, d)
	return len(md.descriptions)
}

// DeleteSection removes the range and closes the gap.
func (m *Movie) DeleteSection(start, duration float64) error {
	const op = "delete section"
	if err := m.prepareEdit(op, nil); err != nil {
		return err
	}
	sel, err := m.selectRange(op, start, duration)
	if err != nil {
		return err
	}
	m.beginEdit(sel)
	defer m.endEdit()
	log.Debugf("%s: %d+%d", op, sel.Start, sel.Duration)

	for _, t := range m.tracks {
		t.media, t.edits = m.removeRange(t, sel)
	}
	return nil
}

func (m *Movie) removeRange(t *Track, sel Selection) (*media, editList) {
	edits := t.edits.remove(sel.Start, sel.Duration, m.timeScale, t.media.timeScale).
		normalize(m.timeScale, t.media.timeScale)
	return compact(t.media, edits, m.timeScale)
}

// CloneSection returns a new movie holding a copy of the range. m is not modified.
func (m *Movie) CloneSection(start, duration float64, progress ProgressFunc) (*Movie, error) {
	const op = "clone section"
	if err := m.prepareEdit(op, nil); err != nil {
		return nil, err
	}
	sel, err := m.selectRange(op, start, duration)
	if err != nil {
		return nil, err
	}
	m.sel = sel
	m.editing = true
	defer func() { m.editing = false }()
	log.Debugf("%s: %d+%d", op, sel.Start, sel.Duration)

	prog := newProgress(progress, len(m.tracks))
	clone := newMovieFrom(m.timeScale, m.copyRange(sel, prog))
	clone.markChanged()
	prog.finish()
	return clone, nil
}

// ClipSection cuts the range out of m and returns it as a new movie. Both
// halves are computed before m is touched.
func (m *Movie) ClipSection(start, duration float64, progress ProgressFunc) (*Movie, error) {
	const op = "clip section"
	if err := m.prepareEdit(op, nil); err != nil {
		return nil, err
	}
	sel, err := m.selectRange(op, start, duration)
	if err != nil {
		return nil, err
	}
	m.beginEdit(sel)
	defer m.endEdit()
	log.Debugf("%s: %d+%d", op, sel.Start, sel.Duration)

	prog := newProgress(progress, 2*len(m.tracks))
	copied := m.copyRange(sel, prog)

	type cut struct {
		media *media
		edits editList
	}
	cuts := make([]cut, len(m.tracks))
	for i, t := range m.tracks {
		cuts[i].media, cuts[i].edits = m.removeRange(t, sel)
		prog.step()
	}
	for i, t := range m.tracks {
		t.media, t.edits = cuts[i].media, cuts[i].edits
	}

	clip := newMovieFrom(m.timeScale, copied)
	clip.markChanged()
	prog.finish()
	return clip, nil
}

// copyRange returns detached copies of every track that plays media inside sel.
func (m *Movie) copyRange(sel Selection, prog *progressSink) []*Track {
	var out []*Track
	for _, t := range m.tracks {
		seg := t.edits.extract(sel.Start, sel.Duration, m.timeScale, t.media.timeScale)
		if seg.hasContent() {
			c := t.detached()
			c.media, c.edits = compact(t.media, seg.normalize(m.timeScale, t.media.timeScale), m.timeScale)
			out = append(out, c)
		}
		prog.step()
	}
	return out
}

// compact keeps only the samples the edits play, widened back to the
// preceding sync sample, and rebases the edits onto the kept samples.
func compact(md *media, edits editList, movieScale int32) (*media, editList) {
	if len(md.samples) == 0 {
		return md, edits
	}

	type span struct{ lo, hi int }
	starts := gopStarts(md.samples)
	var spans []span
	for _, e := range edits {
		if e.Empty() || e.Duration <= 0 {
			continue
		}
		a := e.MediaTime
		b := a + mediaAdvance(e, e.Duration, movieScale, md.timeScale)
		if b < a {
			a, b = b, a
		}
		lo := syncBefore(starts, md.sampleAt(a))
		hi := md.sampleFrom(b)
		if hi <= lo {
			hi = lo + 1
		}
		spans = append(spans, span{lo, hi})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })
	var merged []span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.lo <= merged[n-1].hi {
			if s.hi > merged[n-1].hi {
				merged[n-1].hi = s.hi
			}
			continue
		}
		merged = append(merged, s)
	}
	if len(merged) == 1 && merged[0].lo == 0 && merged[0].hi == len(md.samples) {
		return md, edits
	}

	out := &media{
		timeScale:    md.timeScale,
		handler:      md.handler,
		header:       md.header,
		descriptions: md.descriptions,
	}
	newStart := make([]int64, len(merged))
	var t int64
	for k, s := range merged {
		newStart[k] = t
		base := md.samples[s.lo].Time
		for i := s.lo; i < s.hi; i++ {
			smp := md.samples[i]
			smp.Time = t + smp.Time - base
			out.samples = append(out.samples, smp)
		}
		last := md.samples[s.hi-1]
		t += last.Time + last.Duration - base
	}

	rebased := edits.clone()
	for i, e := range rebased {
		if e.Empty() || len(merged) == 0 {
			continue
		}
		idx := md.sampleAt(e.MediaTime)
		k := sort.Search(len(merged), func(k int) bool { return merged[k].hi > idx })
		if k == len(merged) {
			k--
		}
		rebased[i].MediaTime = newStart[k] + e.MediaTime - md.samples[merged[k].lo].Time
	}

	log.Debugf("compacted media: %d of %d samples kept", len(out.samples), len(md.samples))
	return out, rebased
}
