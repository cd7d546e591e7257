package server

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type analyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type anonymizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Policy   string `json:"policy,omitempty"`
}

// requestValidator checks request input before it reaches the service
type requestValidator struct {
	languages []string
	maxLength int
}

func (v requestValidator) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return &RequestError{Field: "text", Message: "must not be empty"}
	}
	if !utf8.ValidString(text) {
		return &RequestError{Field: "text", Message: "must be valid UTF-8"}
	}
	if v.maxLength > 0 && len(text) > v.maxLength {
		return &RequestError{Field: "text", Message: fmt.Sprintf("exceeds maximum length of %d bytes", v.maxLength)}
	}
	return nil
}

// validateLanguage accepts the empty string, which selects the default language
func (v requestValidator) validateLanguage(language string) error {
	if language == "" {
		return nil
	}
	for _, l := range v.languages {
		if strings.EqualFold(l, language) {
			return nil
		}
	}
	return &RequestError{
		Field:   "language",
		Message: fmt.Sprintf("unsupported language %q (supported: %s)", language, strings.Join(v.languages, ", ")),
	}
}
