package fonts

import (
	"comic-translator/internal/geometry"
	"comic-translator/internal/types"
)

// MatchCategory picks a font category from a region's style. Dense or
// bold-and-dense ink reads as shouting and gets the sfx font; light text on
// dark panels gets the narrator font.
func MatchCategory(style *geometry.StyleProfile, h types.Heuristics) string {
	if style == nil {
		return CategoryDialogue
	}
	if style.Density > h.ShoutDensity || (style.IsBold && style.Density > h.BoldShoutDensity) {
		return CategorySFX
	}
	if style.IsInverted {
		return CategoryNarrator
	}
	return CategoryDialogue
}
