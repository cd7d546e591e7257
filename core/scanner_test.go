package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelRCrider/pii-go/utils"
)

func predefinedAnalyzer(t *testing.T, opts ...PatternAnalyzerOption) *PatternAnalyzer {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.LoadPredefined())
	return NewPatternAnalyzer(reg, opts...)
}

func analyze(t *testing.T, a *PatternAnalyzer, text string, opts AnalyzeOptions) []utils.DetectedSpan {
	t.Helper()
	spans, err := a.Analyze(context.Background(), text, "en", opts)
	require.NoError(t, err)
	return spans
}

func entityTexts(text string, spans []utils.DetectedSpan) map[string][]string {
	out := make(map[string][]string)
	for _, s := range spans {
		out[s.EntityType] = append(out[s.EntityType], text[s.Start:s.End])
	}
	return out
}

func TestPredefinedRecognizers(t *testing.T) {
	a := predefinedAnalyzer(t)
	text := "Email jane.doe@example.com, call (555) 123-4567, SSN 123-45-6789, " +
		"card 4111 1111 1111 1111 from 192.168.1.20"

	found := entityTexts(text, analyze(t, a, text, AnalyzeOptions{ScoreThreshold: DefaultScoreThreshold}))
	assert.Equal(t, []string{"jane.doe@example.com"}, found["EMAIL_ADDRESS"])
	assert.Equal(t, []string{"(555) 123-4567"}, found["PHONE_NUMBER"])
	assert.Equal(t, []string{"123-45-6789"}, found["US_SSN"])
	assert.Equal(t, []string{"4111 1111 1111 1111"}, found["CREDIT_CARD"])
	assert.Equal(t, []string{"192.168.1.20"}, found["IP_ADDRESS"])
}

func TestValidatorsDropInvalidMatches(t *testing.T) {
	a := predefinedAnalyzer(t)

	text := "card 4111 1111 1111 1112 at 999.1.1.1"
	found := entityTexts(text, analyze(t, a, text, AnalyzeOptions{Entities: []string{"CREDIT_CARD", "IP_ADDRESS"}}))
	assert.Empty(t, found["CREDIT_CARD"], "luhn failure")
	assert.Empty(t, found["IP_ADDRESS"], "octet out of range")
}

func TestAmexVariants(t *testing.T) {
	a := predefinedAnalyzer(t)
	opts := AnalyzeOptions{Entities: []string{"AMEX_ACCOUNT_NUMBER"}}

	for _, number := range []string{
		"371449635398431",
		"3714-4963-5398-431",
		"3782 8224 6310 005",
		"3714 49-63 5398 431",
		"37 14 49 6353 98 43 1",
		"37-828-2246-3100-05",
	} {
		t.Run(number, func(t *testing.T) {
			text := "my AMEX number is " + number + " thanks"
			spans := analyze(t, a, text, opts)
			require.Len(t, spans, 1)
			assert.Equal(t, number, text[spans[0].Start:spans[0].End])
			assert.Equal(t, MaxScore, spans[0].Score)
		})
	}

	spans := analyze(t, a, "my AMEX number is 371449635398432", opts)
	assert.Empty(t, spans, "checksum failure")
}

func TestContextEnhancement(t *testing.T) {
	a := predefinedAnalyzer(t)
	opts := AnalyzeOptions{Entities: []string{"NUMBER"}, ScoreThreshold: DefaultScoreThreshold}

	assert.Empty(t, analyze(t, a, "order 12345678 shipped", opts))

	spans := analyze(t, a, "acct 12345678 pass Ab3xQ9", opts)
	require.Len(t, spans, 1)
	assert.Equal(t, 5, spans[0].Start)
	assert.Equal(t, 13, spans[0].End)
	assert.InDelta(t, 0.75, spans[0].Score, 1e-9)

	// context word too far before the match
	spans = analyze(t, a, "account one two three four five six 12345678", opts)
	assert.Empty(t, spans)
}

func TestEnhanceWithContextFloorAndCap(t *testing.T) {
	text := "password Secret123abc"
	low := utils.DetectedSpan{Start: 9, End: 21, Score: 0.01}
	assert.InDelta(t, 0.46, enhanceWithContext(text, low, []string{"password"}), 1e-9)

	tiny := utils.DetectedSpan{Start: 9, End: 21, Score: -0.1}
	assert.InDelta(t, MinScoreWithContext, enhanceWithContext(text, tiny, []string{"password"}), 1e-9)

	high := utils.DetectedSpan{Start: 9, End: 21, Score: 0.9}
	assert.Equal(t, MaxScore, enhanceWithContext(text, high, []string{"PASSWORD"}))

	none := utils.DetectedSpan{Start: 9, End: 21, Score: 0.3}
	assert.Equal(t, 0.3, enhanceWithContext(text, none, []string{"pin"}))
}

func TestPasswordNeedsContext(t *testing.T) {
	a := predefinedAnalyzer(t)
	opts := AnalyzeOptions{Entities: []string{"PASSWORD"}, ScoreThreshold: DefaultScoreThreshold}

	assert.Empty(t, analyze(t, a, "the weather tomorrow", opts))

	text := "my password is Hunter2Hunter2"
	spans := analyze(t, a, text, opts)
	require.Len(t, spans, 1)
	assert.Equal(t, "Hunter2Hunter2", text[spans[0].Start:spans[0].End])
}

func TestDenyList(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Add(&PatternRecognizer{
		Name:       "codenames",
		EntityType: "CODENAME",
		DenyList:   []string{"Zeus", "Project Apollo"},
	}))
	a := NewPatternAnalyzer(reg)

	text := "status of zeus and project apollo, not zeusian"
	found := entityTexts(text, analyze(t, a, text, AnalyzeOptions{}))
	assert.Equal(t, []string{"zeus", "project apollo"}, found["CODENAME"])
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.LoadPredefined())
	assert.Len(t, reg.Recognizers(), len(PredefinedRecognizers()))

	require.NoError(t, reg.Add(&PatternRecognizer{
		Name:       "SpanishDni",
		EntityType: "ES_DNI",
		Languages:  []string{"es"},
		Patterns:   []Pattern{{Name: "dni", Regex: `\b\d{8}[A-Z]\b`, Score: 0.6}},
	}))
	assert.Contains(t, reg.SupportedEntities("es"), "ES_DNI")
	assert.NotContains(t, reg.SupportedEntities("en"), "ES_DNI")

	// replacing by name keeps the count
	require.NoError(t, reg.Add(&PatternRecognizer{
		Name:       "SpanishDni",
		EntityType: "ES_NIF",
		Patterns:   []Pattern{{Regex: `\b\d{8}[A-Z]\b`, Score: 0.6}},
	}))
	assert.Len(t, reg.Recognizers(), len(PredefinedRecognizers())+1)
	assert.Contains(t, reg.SupportedEntities("en"), "ES_NIF")

	assert.True(t, reg.Remove("SpanishDni"))
	assert.False(t, reg.Remove("SpanishDni"))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		rec  PatternRecognizer
	}{
		{"no name", PatternRecognizer{EntityType: "X", DenyList: []string{"a"}}},
		{"no entity", PatternRecognizer{Name: "x", DenyList: []string{"a"}}},
		{"nothing to match", PatternRecognizer{Name: "x", EntityType: "X"}},
		{"bad regex", PatternRecognizer{Name: "x", EntityType: "X", Patterns: []Pattern{{Regex: "(", Score: 0.5}}}},
		{"bad score", PatternRecognizer{Name: "x", EntityType: "X", Patterns: []Pattern{{Regex: "a", Score: 2}}}},
		{"unknown validator", PatternRecognizer{Name: "x", EntityType: "X", Patterns: []Pattern{{Regex: "a", Score: 0.5}}, Validator: "mod97"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Compile()
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestPatternAnalyzerLanguages(t *testing.T) {
	a := predefinedAnalyzer(t, WithLanguages("en", "es"))
	assert.Equal(t, []string{"en", "es"}, a.Languages())

	_, err := a.Analyze(context.Background(), "hola", "es", AnalyzeOptions{})
	assert.NoError(t, err)

	_, err = a.Analyze(context.Background(), "bonjour", "fr", AnalyzeOptions{})
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = a.SupportedEntities(context.Background(), "fr")
	assert.ErrorAs(t, err, &cfgErr)
}

func TestPatternAnalyzerHonoursCancellation(t *testing.T) {
	a := predefinedAnalyzer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, "jane@example.com", "en", AnalyzeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChecksums(t *testing.T) {
	assert.True(t, luhn("4111111111111111"))
	assert.False(t, luhn("4111111111111112"))
	assert.False(t, luhn(""))
	assert.True(t, validAmexNumber("3782-8224-6310-005"))
	assert.False(t, validAmexNumber("4111111111111111"))
	assert.True(t, validIPv4("10.0.0.255"))
	assert.False(t, validIPv4("10.0.0.256"))
	assert.False(t, validIPv4("10.00.0.1"))
}
