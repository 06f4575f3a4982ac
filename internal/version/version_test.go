package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	defer func() { Version, Commit, BuildTime = oldV, oldC, oldB }()

	Version, Commit, BuildTime = "1.2.3", "abc1234", "2024-01-15T00:00:00Z"
	want := "1.2.3 (abc1234) built 2024-01-15T00:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestStringDefaults(t *testing.T) {
	got := String()
	if !strings.HasPrefix(got, Version+" (") {
		t.Errorf("String() = %q, want prefix %q", got, Version+" (")
	}
}
