package core

import (
	"errors"
	"fmt"

	"github.com/SamuelRCrider/pii-go/utils"
)

// ErrorCategory groups errors for transports and audit trails
type ErrorCategory string

const (
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryInternal      ErrorCategory = "internal"
)

// InvalidSpanError reports a span whose boundaries do not fit the text.
type InvalidSpanError struct {
	Index   int
	Span    utils.DetectedSpan
	TextLen int
	Reason  string
}

func (e *InvalidSpanError) Error() string {
	return fmt.Sprintf("invalid span %d [%d:%d] (%s) over text of %d bytes: %s",
		e.Index, e.Span.Start, e.Span.End, e.Span.EntityType, e.TextLen, e.Reason)
}

// ConfigurationError reports a missing or invalid key, policy or setting.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Field + ": " + e.Message
}

// MappingOverflowError reports a cipher that returned fewer bytes than the
// stream it was asked to seal. It should be unreachable with the AEADs used
// by the obfuscator.
type MappingOverflowError struct {
	Stream     string
	Plaintext  int
	Ciphertext int
}

func (e *MappingOverflowError) Error() string {
	return fmt.Sprintf("mapping overflow on %s stream: %d ciphertext bytes for %d characters",
		e.Stream, e.Ciphertext, e.Plaintext)
}

// OverlapError is returned by a Redactor configured with OverlapReject when
// two spans share bytes.
type OverlapError struct {
	First  utils.DetectedSpan
	Second utils.DetectedSpan
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping spans [%d:%d] (%s) and [%d:%d] (%s)",
		e.First.Start, e.First.End, e.First.EntityType,
		e.Second.Start, e.Second.End, e.Second.EntityType)
}

func configErr(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Categorize maps an error to its category. Unknown errors are internal.
func Categorize(err error) ErrorCategory {
	var (
		spanErr    *InvalidSpanError
		overlapErr *OverlapError
		cfgErr     *ConfigurationError
	)
	switch {
	case errors.As(err, &spanErr), errors.As(err, &overlapErr), errors.Is(err, ErrUnsupportedFormat):
		return ErrorCategoryValidation
	case errors.As(err, &cfgErr):
		return ErrorCategoryConfiguration
	default:
		return ErrorCategoryInternal
	}
}
