package textutil

import "testing"

func TestSanitizeToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "unknown"},
		{"Holiday Photo", "holiday_photo"},
		{"__--", "unknown"},
		{"IMG-0042_b", "img-0042_b"},
	}
	for _, tt := range tests {
		if got := SanitizeToken(tt.in); got != tt.want {
			t.Fatalf("SanitizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOutputStem(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Beach Day.JPG", "beach_day"},
		{"/tmp/frames/frame.0001.png", "frame_0001"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := OutputStem(tt.in); got != tt.want {
			t.Fatalf("OutputStem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStageLabel(t *testing.T) {
	tests := []struct{ in, want string }{
		{"edge", "Edge"},
		{"sink_writer", "Sink Writer"},
		{" desaturate ", "Desaturate"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StageLabel(tt.in); got != tt.want {
			t.Fatalf("StageLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
