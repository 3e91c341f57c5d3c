package utils

import (
	"strings"
)

// shortMap maps tag namespace shortcuts to full names (matching E-Hentai convention)
var shortMap = map[string]string{
	"a":      "artist",
	"c":      "character",
	"char":   "character",
	"cos":    "cosplayer",
	"f":      "female",
	"g":      "group",
	"circle": "group",
	"l":      "language",
	"lang":   "language",
	"loc":    "location",
	"m":      "male",
	"x":      "mixed",
	"o":      "other",
	"p":      "parody",
	"series": "parody",
	"r":      "reclass",
}

// NormalizeTag normalizes a tag by expanding shortcuts and converting to lowercase
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.ToLower(tag)

	// Replace multiple spaces with single space
	tag = strings.Join(strings.Fields(tag), " ")

	// Expand namespace shortcuts (e.g., "f:rape" -> "female:rape")
	if strings.Contains(tag, ":") {
		parts := strings.SplitN(tag, ":", 2)
		if len(parts) == 2 {
			if fullNamespace, ok := shortMap[parts[0]]; ok {
				return fullNamespace + ":" + parts[1]
			}
		}
	}

	return tag
}

// FlattenTags converts a namespaced tag mapping into a lowercase
// "namespace:value" set, the form list-card tags arrive in.
// Tags in the catch-all "misc" namespace stay bare.
func FlattenTags(tags map[string][]string) map[string]struct{} {
	flat := make(map[string]struct{})
	for ns, values := range tags {
		ns = strings.ToLower(strings.TrimSpace(ns))
		for _, v := range values {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if ns == "" || ns == "misc" {
				flat[v] = struct{}{}
				continue
			}
			flat[ns+":"+v] = struct{}{}
		}
	}
	return flat
}
