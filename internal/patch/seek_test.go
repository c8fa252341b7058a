package patch

import "testing"

func TestSeekSequence(t *testing.T) {
	lines := []string{"alpha", "beta  ", "  gamma", "delta", "beta"}

	tests := []struct {
		name    string
		pattern []string
		start   int
		eof     bool
		want    int
		found   bool
	}{
		{"exact", []string{"delta"}, 0, false, 3, true},
		{"trailing whitespace", []string{"beta"}, 0, false, 4, true},
		{"trailing whitespace before start", []string{"beta"}, 2, false, 4, true},
		{"trim both sides", []string{"gamma"}, 0, false, 2, true},
		{"sequence", []string{"beta", "gamma"}, 0, false, 1, true},
		{"eof anchored", []string{"beta"}, 0, true, 4, true},
		{"missing", []string{"epsilon"}, 0, false, 0, false},
		{"pattern longer than file", []string{"a", "b", "c", "d", "e", "f"}, 0, false, 0, false},
		{"empty pattern", nil, 2, false, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := seekSequence(lines, tt.pattern, tt.start, tt.eof)
			if found != tt.found || got != tt.want {
				t.Errorf("seekSequence() = (%d, %v), want (%d, %v)", got, found, tt.want, tt.found)
			}
		})
	}
}

func TestSeekSequence_PrefersStricterMatch(t *testing.T) {
	// "x " matches loosely at 0, exactly at 1
	lines := []string{"x ", "x"}
	got, ok := seekSequence(lines, []string{"x"}, 0, false)
	if !ok || got != 1 {
		t.Errorf("seekSequence() = (%d, %v), want (1, true)", got, ok)
	}
}

func TestSeekSequence_Punctuation(t *testing.T) {
	lines := []string{"say “hello” — it’s fine"}
	got, ok := seekSequence(lines, []string{`say "hello" - it's fine`}, 0, false)
	if !ok || got != 0 {
		t.Errorf("seekSequence() = (%d, %v), want (0, true)", got, ok)
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  a b–c  "); got != "a b-c" {
		t.Errorf("normalize() = %q, want %q", got, "a b-c")
	}
}
