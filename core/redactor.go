package core

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/SamuelRCrider/pii-go/utils"
)

// OverlapMode decides what happens when two detected spans share bytes
type OverlapMode string

const (
	// OverlapSkip keeps the first span in sorted order (earliest start, then
	// longest) and drops every span that overlaps an already applied one
	OverlapSkip OverlapMode = "skip"

	// OverlapMerge folds overlapping spans into one span covering their union.
	// The merged span keeps the entity type of the first span and the highest score
	OverlapMerge OverlapMode = "merge"

	// OverlapReject fails the call with an *OverlapError
	OverlapReject OverlapMode = "reject"
)

// ParseOverlapMode maps a configuration value to an OverlapMode. The empty
// string selects OverlapSkip.
func ParseOverlapMode(s string) (OverlapMode, error) {
	switch mode := OverlapMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "":
		return OverlapSkip, nil
	case OverlapSkip, OverlapMerge, OverlapReject:
		return mode, nil
	default:
		return "", configErr("redaction.overlap", "unknown overlap mode %q", s)
	}
}

// AppliedRedaction records one substitution. Start and End are the span's
// boundaries in the output text after index drift was applied.
type AppliedRedaction struct {
	Span        utils.DetectedSpan `json:"span"`
	Start       int                `json:"start"`
	End         int                `json:"end"`
	Replacement string             `json:"replacement"`
}

// RedactionResult is the detailed outcome of a redaction call
type RedactionResult struct {
	Text    string               `json:"text"`
	Applied []AppliedRedaction   `json:"applied"`
	Skipped []utils.DetectedSpan `json:"skipped,omitempty"`
}

// Redactor applies one RedactionPolicy to every span of a text. It holds no
// mutable state and may be shared between goroutines.
type Redactor struct {
	policy  RedactionPolicy
	overlap OverlapMode
	logger  *log.Logger
}

// RedactorOption configures a Redactor
type RedactorOption func(*Redactor)

// WithOverlap sets the overlap handling mode
func WithOverlap(mode OverlapMode) RedactorOption {
	return func(r *Redactor) {
		r.overlap = mode
	}
}

// WithLogger sets the logger used for debug output and invariant failures
func WithLogger(logger *log.Logger) RedactorOption {
	return func(r *Redactor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRedactor validates policy and returns a Redactor for it.
func NewRedactor(policy RedactionPolicy, opts ...RedactorOption) (*Redactor, error) {
	r := &Redactor{
		policy:  policy,
		overlap: OverlapSkip,
		logger:  utils.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}
	if _, err := ParseOverlapMode(string(r.overlap)); err != nil {
		return nil, err
	}
	return r, nil
}

// ApplyRedactions redacts text with policy using the default overlap mode.
func ApplyRedactions(text string, spans []utils.DetectedSpan, policy RedactionPolicy) (string, error) {
	r, err := NewRedactor(policy)
	if err != nil {
		return "", err
	}
	return r.Redact(text, spans)
}

// Policy returns the policy the redactor applies
func (r *Redactor) Policy() RedactionPolicy {
	return r.policy
}

// Redact returns text with every span replaced according to the policy.
func (r *Redactor) Redact(text string, spans []utils.DetectedSpan) (string, error) {
	res, err := r.RedactDetailed(text, spans)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RedactDetailed is Redact plus a record of every substitution and of the
// spans dropped by OverlapSkip. The caller's slice is not modified.
func (r *Redactor) RedactDetailed(text string, spans []utils.DetectedSpan) (*RedactionResult, error) {
	if err := validateSpans(text, spans); err != nil {
		return nil, err
	}

	ordered := sortSpans(spans)
	kept, skipped, err := r.resolveOverlaps(ordered)
	if err != nil {
		return nil, err
	}

	res := &RedactionResult{
		Applied: make([]AppliedRedaction, 0, len(kept)),
		Skipped: skipped,
	}

	var b strings.Builder
	b.Grow(len(text))

	last, offset := 0, 0
	for _, span := range kept {
		repl, err := r.replacement(span, text[span.Start:span.End])
		if err != nil {
			return nil, err
		}

		b.WriteString(text[last:span.Start])
		b.WriteString(repl)
		last = span.End

		res.Applied = append(res.Applied, AppliedRedaction{
			Span:        span,
			Start:       span.Start + offset,
			End:         span.Start + offset + len(repl),
			Replacement: repl,
		})
		offset += len(repl) - span.Len()
	}
	b.WriteString(text[last:])

	res.Text = b.String()

	r.logger.Debug("redacted text",
		"policy", r.policy.Kind(),
		"applied", len(res.Applied),
		"skipped", len(res.Skipped),
		"drift", offset)

	return res, nil
}

func (r *Redactor) replacement(span utils.DetectedSpan, original string) (string, error) {
	switch p := r.policy.(type) {
	case Replace:
		return p.MarkerOrDefault(), nil
	case Mask:
		return p.Placeholder(span.EntityType), nil
	case FormatPreservingEncrypt:
		out, err := p.Obfuscator().Operate(original, p.Key)
		if err != nil {
			var overflow *MappingOverflowError
			if errors.As(err, &overflow) {
				r.logger.Error("format-preserving mapping overflow",
					"entity", span.EntityType, "stream", overflow.Stream,
					"plaintext", overflow.Plaintext, "ciphertext", overflow.Ciphertext)
			}
			return "", err
		}
		return out, nil
	default:
		return "", configErr("policy", "unsupported redaction policy %T", p)
	}
}

func (r *Redactor) resolveOverlaps(ordered []utils.DetectedSpan) (kept, skipped []utils.DetectedSpan, err error) {
	kept = make([]utils.DetectedSpan, 0, len(ordered))
	for _, span := range ordered {
		if len(kept) == 0 {
			kept = append(kept, span)
			continue
		}
		prev := &kept[len(kept)-1]
		if !prev.Overlaps(span) {
			kept = append(kept, span)
			continue
		}

		switch r.overlap {
		case OverlapReject:
			return nil, nil, &OverlapError{First: *prev, Second: span}
		case OverlapMerge:
			if span.End > prev.End {
				prev.End = span.End
			}
			if span.Score > prev.Score {
				prev.Score = span.Score
			}
		default:
			skipped = append(skipped, span)
		}
	}
	return kept, skipped, nil
}

// sortSpans returns a copy ordered by start, longer spans first on ties.
func sortSpans(spans []utils.DetectedSpan) []utils.DetectedSpan {
	ordered := make([]utils.DetectedSpan, len(spans))
	copy(ordered, spans)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End > ordered[j].End
	})
	return ordered
}

func validateSpans(text string, spans []utils.DetectedSpan) error {
	for i, s := range spans {
		reason := ""
		switch {
		case s.Start < 0:
			reason = "start is negative"
		case s.End > len(text):
			reason = "end is past the end of the text"
		case s.Start >= s.End:
			reason = "start is not before end"
		case !utf8.RuneStart(text[s.Start]):
			reason = "start splits a UTF-8 sequence"
		case s.End < len(text) && !utf8.RuneStart(text[s.End]):
			reason = "end splits a UTF-8 sequence"
		}
		if reason != "" {
			return &InvalidSpanError{Index: i, Span: s, TextLen: len(text), Reason: reason}
		}
	}
	return nil
}
