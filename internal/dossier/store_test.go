package dossier

import "testing"

func TestClamp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		score int
		want  int
	}{
		{"below floor", -10, 0},
		{"at floor", 0, 0},
		{"in range", 42, 42},
		{"at ceiling", 100, 100},
		{"above ceiling", 250, 100},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Clamp(tc.score); got != tc.want {
				t.Errorf("Clamp(%d): want %d, got %d", tc.score, tc.want, got)
			}
		})
	}
}
