package heuristics

import (
	"strconv"
	"strings"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

const (
	maxElementText  = 50
	maxSelectorKeys = 2
	cursorPointer   = "pointer"
)

var interactiveTags = map[string]bool{
	"a":        true,
	"button":   true,
	"input":    true,
	"select":   true,
	"textarea": true,
}

// Selector returns "#id", else ".c1.c2" from the first two class names,
// else "tag:nth-child(n)", else the tag name.
func Selector(el domain.Element) string {
	if el.ID != "" {
		return "#" + el.ID
	}

	if classes := strings.Fields(el.ClassName); len(classes) > 0 {
		if len(classes) > maxSelectorKeys {
			classes = classes[:maxSelectorKeys]
		}
		return "." + strings.Join(classes, ".")
	}

	tag := strings.ToLower(el.Tag)
	if el.NthChild > 0 {
		return tag + ":nth-child(" + strconv.Itoa(el.NthChild) + ")"
	}
	return tag
}

// Text returns the element's trimmed text, cut to 50 characters.
func Text(el domain.Element) string {
	runes := []rune(strings.TrimSpace(el.Text))
	if len(runes) > maxElementText {
		runes = runes[:maxElementText]
	}
	return string(runes)
}

// Interactive reports whether the element offers any click affordance.
func Interactive(el domain.Element) bool {
	return interactiveTags[strings.ToLower(el.Tag)] ||
		el.HasClickHandler ||
		el.DataAction ||
		el.HasRole ||
		strings.EqualFold(el.InlineCursor, cursorPointer) ||
		strings.EqualFold(el.ComputedCursor, cursorPointer)
}

func elementParams(el domain.Element) map[string]any {
	return map[string]any{
		"element_selector": Selector(el),
		"element_text":     Text(el),
		"element_type":     strings.ToLower(el.Tag),
	}
}
