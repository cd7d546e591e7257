package utils

// DetectedSpan is a PII entity located in a text by a recognizer.
type DetectedSpan struct {
	// Match location as UTF-8 byte offsets, End exclusive
	Start int `json:"start"`
	End   int `json:"end"`

	// Classification information
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`

	// Recognizer is the name of the recognizer that produced the span
	Recognizer string `json:"recognizer,omitempty"`
}

// Len returns the number of bytes covered by the span.
func (s DetectedSpan) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether s and o share at least one byte.
func (s DetectedSpan) Overlaps(o DetectedSpan) bool {
	return s.Start < o.End && o.Start < s.End
}

// Contains reports whether o lies entirely within s.
func (s DetectedSpan) Contains(o DetectedSpan) bool {
	return s.Start <= o.Start && o.End <= s.End
}
