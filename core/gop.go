package core

import "sort"

// GOP (Group of Pictures) is a run of samples starting with a sync sample.
type GOP struct {
	Start   int // index of the first sample in the media
	Samples []Sample
}

// Segmenter splits a list of samples into GOPs
type Segmenter struct {
	samples []Sample
	current int
}

func NewSegmenter(samples []Sample) *Segmenter {
	return &Segmenter{samples: samples}
}

// NextGOP returns the next GOP or nil if done
func (s *Segmenter) NextGOP() *GOP {
	if s.current >= len(s.samples) {
		return nil
	}

	start := s.current
	// Find next keyframe or end of samples
	end := start + 1
	for end < len(s.samples) {
		if s.samples[end].IsKeyframe {
			break
		}
		end++
	}

	gop := &GOP{
		Start:   start,
		Samples: s.samples[start:end],
	}
	s.current = end
	return gop
}

// gopStarts lists the first sample index of every GOP.
func gopStarts(samples []Sample) []int {
	var starts []int
	seg := NewSegmenter(samples)
	for g := seg.NextGOP(); g != nil; g = seg.NextGOP() {
		starts = append(starts, g.Start)
	}
	return starts
}

// syncBefore returns the start of the GOP holding sample i.
func syncBefore(starts []int, i int) int {
	k := sort.SearchInts(starts, i+1) - 1
	if k < 0 {
		return 0
	}
	return starts[k]
}
