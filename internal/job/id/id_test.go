package id

import (
	"regexp"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate("concat")

	if !regexp.MustCompile(`^concat-\d+-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("unexpected ID format: %s", id)
	}

	// Check uniqueness
	id2 := Generate("concat")
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Prefix(t *testing.T) {
	if id := Generate(""); !strings.HasPrefix(id, DefaultPrefix+"-") {
		t.Errorf("expected default prefix, got %s", id)
	}
	if id := Generate("video_to_sequence"); !strings.HasPrefix(id, "video-to-sequence-") {
		t.Errorf("expected underscores replaced, got %s", id)
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate("resize")
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
