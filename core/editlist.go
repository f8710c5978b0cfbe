package core

const (
	emptyMediaTime int64 = -1
	rateOne        int32 = 0x10000 // 1.0 in 16.16 fixed point
)

// Edit is one entry of a track's edit list. Duration is in movie ticks and
// MediaTime in media ticks; MediaTime -1 marks an empty edit.
type Edit struct {
	Duration  int64
	MediaTime int64
	Rate      int32
}

// Empty reports whether the edit plays nothing.
func (e Edit) Empty() bool {
	return e.MediaTime == emptyMediaTime
}

func emptyEdit(d int64) Edit {
	return Edit{Duration: d, MediaTime: emptyMediaTime, Rate: rateOne}
}

// mediaAdvance is the media span covered by movieTicks of edit e.
func mediaAdvance(e Edit, movieTicks int64, movieScale, mediaScale int32) int64 {
	adv := Rescale(movieTicks, movieScale, mediaScale)
	if e.Rate != rateOne {
		adv = adv * int64(e.Rate) / int64(rateOne)
	}
	return adv
}

type editList []Edit

func (l editList) duration() int64 {
	var d int64
	for _, e := range l {
		d += e.Duration
	}
	return d
}

func (l editList) clone() editList {
	if l == nil {
		return nil
	}
	return append(editList(nil), l...)
}

func (l editList) hasContent() bool {
	for _, e := range l {
		if !e.Empty() && e.Duration > 0 {
			return true
		}
	}
	return false
}

// leadingEmpty is the movie time before the first edit that plays media.
func (l editList) leadingEmpty() int64 {
	var d int64
	for _, e := range l {
		if !e.Empty() {
			break
		}
		d += e.Duration
	}
	return d
}

// rescale converts edit durations into another movie time scale. Edit
// boundaries are rounded, not durations, so the total is Rescale(l.duration()).
func (l editList) rescale(from, to int32) editList {
	out := make(editList, len(l))
	var pos, at int64
	for i, e := range l {
		pos += e.Duration
		end := Rescale(pos, from, to)
		e.Duration = end - at
		at = end
		out[i] = e
	}
	return out
}

// splitAt returns a copy of l with an edit boundary at movie time t and the
// index of the first edit starting at t. A t at or past the end yields len.
func (l editList) splitAt(t int64, movieScale, mediaScale int32) (editList, int) {
	out := make(editList, 0, len(l)+1)
	var pos int64
	idx := -1
	for _, e := range l {
		switch {
		case idx >= 0:
			out = append(out, e)
		case t == pos:
			idx = len(out)
			out = append(out, e)
		case t < pos+e.Duration:
			head := e
			head.Duration = t - pos
			tail := e
			tail.Duration = e.Duration - head.Duration
			if !e.Empty() {
				tail.MediaTime = e.MediaTime + mediaAdvance(e, head.Duration, movieScale, mediaScale)
			}
			out = append(out, head)
			idx = len(out)
			out = append(out, tail)
		default:
			out = append(out, e)
		}
		pos += e.Duration
	}
	if idx < 0 {
		idx = len(out)
	}
	return out, idx
}

// extract returns the edits covering [start, start+d).
func (l editList) extract(start, d int64, movieScale, mediaScale int32) editList {
	a, i := l.splitAt(start, movieScale, mediaScale)
	b, j := a.splitAt(start+d, movieScale, mediaScale)
	return b[i:j].clone()
}

// remove cuts [start, start+d) and closes the gap.
func (l editList) remove(start, d int64, movieScale, mediaScale int32) editList {
	a, i := l.splitAt(start, movieScale, mediaScale)
	b, j := a.splitAt(start+d, movieScale, mediaScale)
	out := append(editList(nil), b[:i]...)
	return append(out, b[j:]...)
}

// insert places seg at movie time t, shifting later edits. A t past the end
// is reached with an empty edit.
func (l editList) insert(t int64, seg editList, movieScale, mediaScale int32) editList {
	base := l.clone()
	if total := base.duration(); t > total {
		base = append(base, emptyEdit(t-total))
	}
	a, i := base.splitAt(t, movieScale, mediaScale)
	out := append(editList(nil), a[:i]...)
	out = append(out, seg...)
	return append(out, a[i:]...)
}

// normalize drops zero-length edits and merges neighbours that are both
// empty or that play contiguous media at the same rate.
func (l editList) normalize(movieScale, mediaScale int32) editList {
	out := make(editList, 0, len(l))
	for _, e := range l {
		if e.Duration <= 0 {
			continue
		}
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.Empty() && e.Empty() {
				prev.Duration += e.Duration
				continue
			}
			if !prev.Empty() && !e.Empty() && prev.Rate == e.Rate &&
				prev.MediaTime+mediaAdvance(*prev, prev.Duration, movieScale, mediaScale) == e.MediaTime {
				prev.Duration += e.Duration
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// mediaAt maps movie time t to a media time. ok is false inside empty edits
// and past the end.
func (l editList) mediaAt(t int64, movieScale, mediaScale int32) (int64, bool) {
	var pos int64
	for _, e := range l {
		if t < pos+e.Duration {
			if e.Empty() {
				return 0, false
			}
			return e.MediaTime + mediaAdvance(e, t-pos, movieScale, mediaScale), true
		}
		pos += e.Duration
	}
	return 0, false
}
