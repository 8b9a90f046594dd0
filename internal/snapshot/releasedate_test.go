package snapshot

import "testing"

func TestNormalizeReleaseDate(t *testing.T) {
	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"1999", "1999-01-01", true},
		{"2004-07", "2004-07-01", true},
		{"2004-07-15", "2004-07-15", true},
		{" 2010 ", "2010-01-01", true},
		{"circa 2000", UnknownReleaseDate, false},
		{"", UnknownReleaseDate, false},
		{"2004-13", UnknownReleaseDate, false},
		{"2004-02-30", UnknownReleaseDate, false},
		{"99", UnknownReleaseDate, false},
		{"abcd", UnknownReleaseDate, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeReleaseDate(tt.raw)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizeReleaseDate(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStaleOrMissing, "stale_or_missing"},
		{StateFresh, "fresh"},
		{StateRefreshing, "refreshing"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
