package database

import "sort"

// CategoryBits maps site category labels to their f_cats filter bit.
// The site filter is an exclusion mask over these 10 labels.
var CategoryBits = map[string]int{
	"Misc":       1,
	"Doujinshi":  2,
	"Manga":      4,
	"Artist CG":  8,
	"Game CG":    16,
	"Image Set":  32,
	"Cosplay":    64,
	"Asian Porn": 128,
	"Non-H":      256,
	"Western":    512,
}

// AllCategoryBits is the full 10-bit exclusion mask
const AllCategoryBits = 1023

// IsValidCategory reports whether label is one of the 10 site categories
func IsValidCategory(label string) bool {
	_, ok := CategoryBits[label]
	return ok
}

// CategoryLabels returns the 10 site category labels in stable order
func CategoryLabels() []string {
	labels := make([]string, 0, len(CategoryBits))
	for label := range CategoryBits {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
