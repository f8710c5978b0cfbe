package core

import "testing"

func TestTicksRoundTrip(t *testing.T) {
	tests := []struct {
		ticks int64
		scale int32
	}{
		{0, 600},
		{1, 600},
		{599, 600},
		{1234567, 600},
		{44099, 44100},
		{90000 * 3600, 90000},
		{7, 1},
		{29, 30},
	}
	for _, tt := range tests {
		got := ToTicks(ToSeconds(tt.ticks, tt.scale), tt.scale)
		if diff := got - tt.ticks; diff > 1 || diff < -1 {
			t.Errorf("round trip of %d@%d: got %d", tt.ticks, tt.scale, got)
		}
	}
}

func TestToTicksRounds(t *testing.T) {
	if got := ToTicks(2.5, 600); got != 1500 {
		t.Errorf("Expected 1500, got %d", got)
	}
	if got := ToTicks(1.0/3.0, 2); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		name     string
		v        int64
		from, to int32
		want     int64
	}{
		{"same scale", 1234, 600, 600, 1234},
		{"up", 600, 600, 44100, 44100},
		{"down", 44100, 44100, 600, 600},
		{"round half up", 1, 2, 1, 1},
		{"negative", -3, 2, 1, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Rescale(tt.v, tt.from, tt.to); got != tt.want {
				t.Errorf("Rescale(%d, %d, %d) = %d, want %d", tt.v, tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestInvalidScalePanics(t *testing.T) {
	for _, scale := range []int32{0, -600} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Expected panic for scale %d", scale)
				}
			}()
			ToSeconds(1, scale)
		}()
	}
}
