package domain

// Element describes a click target as reported by the browser script.
type Element struct {
	// Key identifies the element across clicks within one page.
	Key             string `json:"key"`
	Tag             string `json:"tag"`
	ID              string `json:"id,omitempty"`
	ClassName       string `json:"class_name,omitempty"`
	Text            string `json:"text,omitempty"`
	NthChild        int    `json:"nth_child,omitempty"`
	HasClickHandler bool   `json:"has_click_handler,omitempty"`
	DataAction      bool   `json:"data_action,omitempty"`
	HasRole         bool   `json:"has_role,omitempty"`
	InlineCursor    string `json:"inline_cursor,omitempty"`
	ComputedCursor  string `json:"computed_cursor,omitempty"`
}

// SignalType is the kind of raw interaction reported by the browser.
type SignalType string

const (
	SignalActivity   SignalType = "activity"
	SignalClick      SignalType = "click"
	SignalScroll     SignalType = "scroll"
	SignalVisibility SignalType = "visibility"
)

// Activity sources that reset the idle timer.
const (
	ActivityPointerDown = "pointerdown"
	ActivityKeyDown     = "keydown"
	ActivityScroll      = "scroll"
	ActivityTouchStart  = "touchstart"
)

// Signal is one raw interaction forwarded by a beacon.
type Signal struct {
	Type     SignalType `json:"type"`
	Activity string     `json:"activity,omitempty"`
	Element  *Element   `json:"element,omitempty"`
	// Depth is the scroll position as a percentage of the document (0-100).
	Depth  int  `json:"depth,omitempty"`
	Hidden bool `json:"hidden,omitempty"`
}

// Valid reports whether s carries what its type needs. Clicks need an element
// with a key; scroll depth must be a percentage.
func (s Signal) Valid() bool {
	switch s.Type {
	case SignalActivity, SignalVisibility:
		return true
	case SignalClick:
		return s.Element != nil && s.Element.Key != ""
	case SignalScroll:
		return s.Depth >= 0 && s.Depth <= 100
	default:
		return false
	}
}
