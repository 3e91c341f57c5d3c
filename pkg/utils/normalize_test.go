package utils

import (
	"reflect"
	"testing"
)

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		expected string
	}{
		{
			name:     "simple tag",
			tag:      "glasses",
			expected: "glasses",
		},
		{
			name:     "uppercase",
			tag:      "GLASSES",
			expected: "glasses",
		},
		{
			name:     "namespace shortcut",
			tag:      "f:glasses",
			expected: "female:glasses",
		},
		{
			name:     "language shortcut",
			tag:      "lang:chinese",
			expected: "language:chinese",
		},
		{
			name:     "full namespace untouched",
			tag:      "female:glasses",
			expected: "female:glasses",
		},
		{
			name:     "unknown namespace untouched",
			tag:      "weird:thing",
			expected: "weird:thing",
		},
		{
			name:     "extra whitespace collapsed",
			tag:      "  full   color  ",
			expected: "full color",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTag(tt.tag); got != tt.expected {
				t.Errorf("NormalizeTag(%q) = %q, want %q", tt.tag, got, tt.expected)
			}
		})
	}
}

func TestFlattenTags(t *testing.T) {
	tags := map[string][]string{
		"female":   {"Glasses", "swimsuit"},
		"language": {"translated"},
		"misc":     {"full color"},
		"":         {"loose"},
	}

	got := FlattenTags(tags)
	want := map[string]struct{}{
		"female:glasses":      {},
		"female:swimsuit":     {},
		"language:translated": {},
		"full color":          {},
		"loose":               {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FlattenTags() = %v, want %v", got, want)
	}
}

func TestFlattenTagsEmpty(t *testing.T) {
	if got := FlattenTags(nil); len(got) != 0 {
		t.Errorf("FlattenTags(nil) = %v, want empty", got)
	}
}
