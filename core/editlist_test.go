package core

import (
	"reflect"
	"testing"
)

func edit(d, mt int64) Edit { return Edit{Duration: d, MediaTime: mt, Rate: rateOne} }

func TestSplitAt(t *testing.T) {
	l := editList{edit(600, 0), emptyEdit(300), edit(600, 1200)}

	tests := []struct {
		name    string
		at      int64
		want    editList
		wantIdx int
	}{
		{"start", 0, l, 0},
		{"boundary", 600, l, 1},
		{"inside media", 200, editList{edit(200, 0), edit(400, 200), emptyEdit(300), edit(600, 1200)}, 1},
		{"inside empty", 700, editList{edit(600, 0), emptyEdit(100), emptyEdit(200), edit(600, 1200)}, 2},
		{"end", 1500, l, 3},
		{"past end", 9000, l, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, idx := l.splitAt(tt.at, 600, 600)
			if !reflect.DeepEqual(got, tt.want) || idx != tt.wantIdx {
				t.Errorf("splitAt(%d) = %v, %d; want %v, %d", tt.at, got, idx, tt.want, tt.wantIdx)
			}
		})
	}
}

func TestSplitAtRescalesMediaTime(t *testing.T) {
	l := editList{edit(600, 0)}
	got, _ := l.splitAt(300, 600, 44100)
	if got[1].MediaTime != 22050 {
		t.Errorf("Expected media time 22050, got %d", got[1].MediaTime)
	}
}

func TestExtractAndRemove(t *testing.T) {
	l := editList{edit(600, 0), edit(600, 1200)}

	if got, want := l.extract(300, 600, 600, 600), (editList{edit(300, 300), edit(300, 1200)}); !reflect.DeepEqual(got, want) {
		t.Errorf("extract = %v, want %v", got, want)
	}
	if got, want := l.remove(300, 600, 600, 600), (editList{edit(300, 0), edit(300, 1500)}); !reflect.DeepEqual(got, want) {
		t.Errorf("remove = %v, want %v", got, want)
	}
	if got := l.extract(2000, 100, 600, 600); len(got) != 0 {
		t.Errorf("Expected nothing past the end, got %v", got)
	}
	if got := l.remove(900, 10000, 600, 600); got.duration() != 900 {
		t.Errorf("Expected removal clamped to the end, got %v", got)
	}
}

func TestRescaleRoundsBoundaries(t *testing.T) {
	l := editList{emptyEdit(1), edit(1001, 0)}
	got := l.rescale(1000, 600)
	if want := (editList{emptyEdit(1), edit(600, 0)}); !reflect.DeepEqual(got, want) {
		t.Errorf("rescale = %v, want %v", got, want)
	}
	if got.duration() != Rescale(l.duration(), 1000, 600) {
		t.Errorf("Expected total %d, got %d", Rescale(l.duration(), 1000, 600), got.duration())
	}
}

func TestInsert(t *testing.T) {
	l := editList{edit(600, 0)}
	seg := editList{edit(100, 5000)}

	if got, want := l.insert(300, seg, 600, 600), (editList{edit(300, 0), edit(100, 5000), edit(300, 300)}); !reflect.DeepEqual(got, want) {
		t.Errorf("insert = %v, want %v", got, want)
	}
	if got, want := l.insert(900, seg, 600, 600), (editList{edit(600, 0), emptyEdit(300), edit(100, 5000)}); !reflect.DeepEqual(got, want) {
		t.Errorf("insert past end = %v, want %v", got, want)
	}
	if len(l) != 1 {
		t.Errorf("insert modified its receiver: %v", l)
	}
}

func TestNormalize(t *testing.T) {
	l := editList{emptyEdit(100), emptyEdit(200), edit(0, 50), edit(300, 0), edit(300, 300), edit(100, 9000), emptyEdit(50)}
	want := editList{emptyEdit(300), edit(600, 0), edit(100, 9000), emptyEdit(50)}
	if got := l.normalize(600, 600); !reflect.DeepEqual(got, want) {
		t.Errorf("normalize = %v, want %v", got, want)
	}

	// a split followed by normalize restores the original list
	orig := editList{edit(600, 0)}
	split, _ := orig.splitAt(250, 600, 44100)
	if got := split.normalize(600, 44100); !reflect.DeepEqual(got, orig) {
		t.Errorf("Expected %v, got %v", orig, got)
	}
}

func TestLeadingEmptyAndMediaAt(t *testing.T) {
	l := editList{emptyEdit(300), edit(600, 1000), emptyEdit(100), edit(200, 0)}
	if got := l.leadingEmpty(); got != 300 {
		t.Errorf("Expected 300, got %d", got)
	}
	tests := []struct {
		at     int64
		want   int64
		wantOK bool
	}{
		{0, 0, false},
		{300, 1000, true},
		{500, 1200, true},
		{950, 0, false},
		{1050, 50, true},
		{1200, 0, false},
	}
	for _, tt := range tests {
		got, ok := l.mediaAt(tt.at, 600, 600)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("mediaAt(%d) = %d, %v; want %d, %v", tt.at, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMediaAdvanceRate(t *testing.T) {
	e := Edit{Duration: 600, MediaTime: 0, Rate: 2 * rateOne}
	if got := mediaAdvance(e, 600, 600, 600); got != 1200 {
		t.Errorf("Expected double rate to cover 1200, got %d", got)
	}
}
