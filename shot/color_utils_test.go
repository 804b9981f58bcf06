package shot

import "testing"

func TestCSSToHex(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"hex_passthrough", "#1a2b3c", "#1a2b3c"},
		{"hex_shorthand", "#abc", "#aabbcc"},
		{"hex_with_alpha", "#abcdef7f", "#abcdef"},
		{"named_white", "white", "#ffffff"},
		{"named_black", "black", "#000000"},
		{"transparent_ignored", "transparent", ""},
		{"rgb_function", "rgb(255, 64, 0)", "#ff4000"},
		{"rgba_function", "RGBA(10%,20%,30%,0.5)", "#19334c"},
		{"invalid", "nope", ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CSSToHex(tc.input); got != tc.expected {
				t.Fatalf("CSSToHex(%q) = %q, expected %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestIsDark(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		input      string
		brightness float64
		dark       bool
	}{
		{"threshold_is_light", "#808080", 128, false},
		{"just_below_threshold", "#7f7f7f", 127, true},
		{"nord", "#2e3440", 51.574, true},
		{"white", "#ffffff", 255, false},
		{"unparseable_counts_as_dark", "not-a-color", 127, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Brightness(tc.input); got < tc.brightness-0.001 || got > tc.brightness+0.001 {
				t.Fatalf("Brightness(%q) = %v, expected %v", tc.input, got, tc.brightness)
			}
			if got := IsDark(tc.input); got != tc.dark {
				t.Fatalf("IsDark(%q) = %v, expected %v", tc.input, got, tc.dark)
			}
		})
	}
}
