package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	switch {
	case v == "":
		t.Error("version should not be empty")
	case c == "":
		t.Error("commit should not be empty")
	case d == "":
		t.Error("date should not be empty")
	}
}

func TestAccessorsMatchInfo(t *testing.T) {
	v, c, d := Info()

	if got := GetVersion(); got != v {
		t.Errorf("GetVersion (%s) should match Info version (%s)", got, v)
	}
	if got := GetCommit(); got != c {
		t.Errorf("GetCommit (%s) should match Info commit (%s)", got, c)
	}
	if got := GetDate(); got != d {
		t.Errorf("GetDate (%s) should match Info date (%s)", got, d)
	}
}

func TestString(t *testing.T) {
	s := String()

	for _, part := range []string{"storefront", "version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String should contain %q, got %q", part, s)
		}
	}
}
