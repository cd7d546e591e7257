package core

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/SamuelRCrider/pii-go/utils"
)

const (
	// MaxScore is assigned to matches confirmed by a validator or deny list
	MaxScore = 1.0

	// ContextSimilarityFactor is added to a score when a context word precedes the match
	ContextSimilarityFactor = 0.45

	// MinScoreWithContext is the floor for a score boosted by context
	MinScoreWithContext = 0.4

	// ContextPrefixWords is how many words before a match are searched for context
	ContextPrefixWords = 5
)

// Pattern is one scoring regular expression of a recognizer
type Pattern struct {
	Name  string  `yaml:"name"`
	Regex string  `yaml:"regex"`
	Score float64 `yaml:"score"`

	re *regexp.Regexp
}

// PatternRecognizer detects one entity type with regular expressions, an
// optional deny list and an optional validator
type PatternRecognizer struct {
	// Name identifies the recognizer in the registry and in detected spans
	Name string `yaml:"name"`

	// EntityType is the label put on every span
	EntityType string `yaml:"supported_entity"`

	// Patterns to match
	Patterns []Pattern `yaml:"patterns,omitempty"`

	// Context words that raise the score of a match when they precede it
	Context []string `yaml:"context,omitempty"`

	// Languages this recognizer serves; empty means all
	Languages []string `yaml:"supported_languages,omitempty"`

	// DenyList holds literal words that are always reported
	DenyList []string `yaml:"deny_list,omitempty"`

	// DenyListScore is the score of deny list hits, MaxScore when zero
	DenyListScore float64 `yaml:"deny_list_score,omitempty"`

	// Validator names a check run on every pattern match: luhn, amex or ipv4.
	// Matches that fail are dropped, matches that pass get MaxScore
	Validator string `yaml:"validator,omitempty"`

	compiled bool
	deny     *regexp.Regexp
}

// validators maps Validator names to their checks
var validators = map[string]func(string) bool{
	"luhn": validCardNumber,
	"amex": validAmexNumber,
	"ipv4": validIPv4,
}

// Compile prepares the recognizer's expressions. It is called by Registry.Add.
func (r *PatternRecognizer) Compile() error {
	if r.Name == "" {
		return configErr("recognizer.name", "recognizer has no name")
	}
	if r.EntityType == "" {
		return configErr("recognizer.supported_entity", "recognizer %s has no entity", r.Name)
	}
	if len(r.Patterns) == 0 && len(r.DenyList) == 0 {
		return configErr("recognizer.patterns", "recognizer %s has neither patterns nor a deny list", r.Name)
	}
	if r.Validator != "" {
		if _, ok := validators[r.Validator]; !ok {
			return configErr("recognizer.validator", "recognizer %s uses unknown validator %q", r.Name, r.Validator)
		}
	}

	for i := range r.Patterns {
		p := &r.Patterns[i]
		if p.Regex == "" {
			return configErr("recognizer.patterns", "pattern %d of %s has no regex", i, r.Name)
		}
		if p.Score < 0 || p.Score > MaxScore {
			return configErr("recognizer.patterns", "pattern %d of %s has score %v outside [0,1]", i, r.Name, p.Score)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return configErr("recognizer.patterns", "invalid pattern %q in %s: %v", p.Name, r.Name, err)
		}
		p.re = re
	}

	if len(r.DenyList) > 0 {
		quoted := make([]string, len(r.DenyList))
		for i, w := range r.DenyList {
			quoted[i] = regexp.QuoteMeta(w)
		}
		r.deny = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	r.compiled = true
	return nil
}

// SupportsLanguage reports whether the recognizer serves language.
func (r *PatternRecognizer) SupportsLanguage(language string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if strings.EqualFold(l, language) {
			return true
		}
	}
	return false
}

// Analyze returns the recognizer's matches in text with context applied.
func (r *PatternRecognizer) Analyze(text string) []utils.DetectedSpan {
	if !r.compiled {
		return nil
	}

	var spans []utils.DetectedSpan
	for _, p := range r.Patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] {
				continue
			}
			score := p.Score
			if r.Validator != "" {
				if !validators[r.Validator](text[loc[0]:loc[1]]) {
					continue
				}
				score = MaxScore
			}
			spans = append(spans, utils.DetectedSpan{
				Start:      loc[0],
				End:        loc[1],
				EntityType: r.EntityType,
				Score:      score,
				Recognizer: r.Name,
			})
		}
	}

	if r.deny != nil {
		score := r.DenyListScore
		if score == 0 {
			score = MaxScore
		}
		for _, loc := range r.deny.FindAllStringIndex(text, -1) {
			spans = append(spans, utils.DetectedSpan{
				Start:      loc[0],
				End:        loc[1],
				EntityType: r.EntityType,
				Score:      score,
				Recognizer: r.Name,
			})
		}
	}

	if len(r.Context) > 0 {
		for i := range spans {
			spans[i].Score = enhanceWithContext(text, spans[i], r.Context)
		}
	}
	return spans
}

// enhanceWithContext raises a span's score when one of the context words is
// among the ContextPrefixWords words before it.
func enhanceWithContext(text string, span utils.DetectedSpan, context []string) float64 {
	if span.Score >= MaxScore {
		return span.Score
	}

	words := strings.FieldsFunc(strings.ToLower(text[:span.Start]), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) > ContextPrefixWords {
		words = words[len(words)-ContextPrefixWords:]
	}

	for _, w := range words {
		for _, c := range context {
			if w == strings.ToLower(c) {
				score := span.Score + ContextSimilarityFactor
				if score < MinScoreWithContext {
					score = MinScoreWithContext
				}
				if score > MaxScore {
					score = MaxScore
				}
				return score
			}
		}
	}
	return span.Score
}

// PredefinedRecognizers returns fresh copies of the built-in recognizers.
func PredefinedRecognizers() []*PatternRecognizer {
	return []*PatternRecognizer{
		{
			Name:       "EmailRecognizer",
			EntityType: "EMAIL_ADDRESS",
			Patterns: []Pattern{{
				Name:  "email",
				Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*\.[A-Za-z]{2,}\b`,
				Score: 1.0,
			}},
			Context: []string{"email", "mail", "e-mail"},
		},
		{
			Name:       "PhoneRecognizer",
			EntityType: "PHONE_NUMBER",
			Patterns: []Pattern{{
				Name:  "phone_us",
				Regex: `(?:\+?1[-. ]?)?(?:\(\d{3}\)|\b\d{3})[-. ]?\d{3}[-. ]\d{4}\b`,
				Score: 0.4,
			}},
			Context: []string{"phone", "number", "telephone", "cell", "mobile", "call", "tel"},
		},
		{
			Name:       "CreditCardRecognizer",
			EntityType: "CREDIT_CARD",
			Patterns: []Pattern{{
				Name:  "credit_card",
				Regex: `\b(?:\d[ -]?){12,18}\d\b`,
				Score: 0.3,
			}},
			Context:   []string{"credit", "card", "visa", "mastercard", "amex", "debit"},
			Validator: "luhn",
		},
		{
			Name:       "UsSsnRecognizer",
			EntityType: "US_SSN",
			Patterns: []Pattern{{
				Name:  "ssn",
				Regex: `\b\d{3}-\d{2}-\d{4}\b`,
				Score: 0.5,
			}},
			Context: []string{"social", "security", "ssn", "ssns"},
		},
		{
			Name:       "IpRecognizer",
			EntityType: "IP_ADDRESS",
			Patterns: []Pattern{{
				Name:  "ipv4",
				Regex: `\b(?:\d{1,3}\.){3}\d{1,3}\b`,
				Score: 0.6,
			}},
			Context:   []string{"ip", "ipv4", "address"},
			Validator: "ipv4",
		},
		{
			Name:       "AmexAccountRecognizer",
			EntityType: "AMEX_ACCOUNT_NUMBER",
			Patterns: []Pattern{{
				Name:  "amex_account_number",
				Regex: `\b3[47](?:[ -]?\d){13}\b`,
				Score: 0.5,
			}},
			Context:   []string{"amex", "american", "express", "card"},
			Validator: "amex",
		},
		{
			Name:       "AccountNumberRecognizer",
			EntityType: "NUMBER",
			Patterns: []Pattern{{
				Name:  "account_number",
				Regex: `\b\d{8,17}\b`,
				Score: 0.3,
			}},
			Context: []string{"account", "acct", "acc"},
		},
		{
			Name:       "PasswordRecognizer",
			EntityType: "PASSWORD",
			Patterns: []Pattern{{
				Name:  "password",
				Regex: `\b[A-Za-z0-9]{8,20}\b`,
				Score: 0.01,
			}},
			Context: []string{"password", "pass"},
		},
	}
}

// Registry holds the pattern recognizers available to a PatternAnalyzer
type Registry struct {
	mu          sync.RWMutex
	recognizers []*PatternRecognizer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// LoadPredefined adds the built-in recognizers.
func (r *Registry) LoadPredefined() error {
	for _, rec := range PredefinedRecognizers() {
		if err := r.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

// Add compiles rec and registers it, replacing a recognizer of the same name.
func (r *Registry) Add(rec *PatternRecognizer) error {
	if err := rec.Compile(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.recognizers {
		if existing.Name == rec.Name {
			r.recognizers[i] = rec
			return nil
		}
	}
	r.recognizers = append(r.recognizers, rec)
	return nil
}

// Remove unregisters the recognizer called name and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.recognizers {
		if existing.Name == name {
			r.recognizers = append(r.recognizers[:i], r.recognizers[i+1:]...)
			return true
		}
	}
	return false
}

// Recognizers returns a snapshot of all registered recognizers
func (r *Registry) Recognizers() []*PatternRecognizer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*PatternRecognizer, len(r.recognizers))
	copy(out, r.recognizers)
	return out
}

// ForLanguage returns the recognizers that serve language
func (r *Registry) ForLanguage(language string) []*PatternRecognizer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*PatternRecognizer
	for _, rec := range r.recognizers {
		if rec.SupportsLanguage(language) {
			out = append(out, rec)
		}
	}
	return out
}

// SupportedEntities lists, sorted and without duplicates, the entity types
// detectable in language
func (r *Registry) SupportedEntities(language string) []string {
	seen := make(map[string]struct{})
	for _, rec := range r.ForLanguage(language) {
		seen[rec.EntityType] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// PatternAnalyzer is the local Analyzer backed by a Registry
type PatternAnalyzer struct {
	registry  *Registry
	languages []string
	logger    *log.Logger
}

// PatternAnalyzerOption configures a PatternAnalyzer
type PatternAnalyzerOption func(*PatternAnalyzer)

// WithLanguages restricts the languages the analyzer accepts
func WithLanguages(languages ...string) PatternAnalyzerOption {
	return func(a *PatternAnalyzer) {
		a.languages = languages
	}
}

// WithAnalyzerLogger sets the analyzer logger
func WithAnalyzerLogger(logger *log.Logger) PatternAnalyzerOption {
	return func(a *PatternAnalyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewPatternAnalyzer creates an analyzer over registry. Without WithLanguages
// only English is accepted.
func NewPatternAnalyzer(registry *Registry, opts ...PatternAnalyzerOption) *PatternAnalyzer {
	a := &PatternAnalyzer{
		registry:  registry,
		languages: []string{"en"},
		logger:    utils.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the analyzer in logs
func (a *PatternAnalyzer) Name() string { return "pattern" }

// Languages returns the languages the analyzer accepts
func (a *PatternAnalyzer) Languages() []string {
	return append([]string(nil), a.languages...)
}

// Analyze runs every recognizer for language over text.
func (a *PatternAnalyzer) Analyze(ctx context.Context, text, language string, opts AnalyzeOptions) ([]utils.DetectedSpan, error) {
	if err := a.checkLanguage(language); err != nil {
		return nil, err
	}

	var spans []utils.DetectedSpan
	for _, rec := range a.registry.ForLanguage(language) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !opts.wantsEntity(rec.EntityType) {
			continue
		}
		found := rec.Analyze(text)
		if len(found) > 0 {
			a.logger.Debug("recognizer matched", "recognizer", rec.Name, "count", len(found))
		}
		spans = append(spans, found...)
	}

	return FilterSpans(text, spans, opts), nil
}

// SupportedEntities lists the entity types detectable in language
func (a *PatternAnalyzer) SupportedEntities(ctx context.Context, language string) ([]string, error) {
	if err := a.checkLanguage(language); err != nil {
		return nil, err
	}
	return a.registry.SupportedEntities(language), nil
}

func (a *PatternAnalyzer) checkLanguage(language string) error {
	for _, l := range a.languages {
		if strings.EqualFold(l, language) {
			return nil
		}
	}
	return configErr("language", "language %q is not supported (supported: %s)",
		language, strings.Join(a.languages, ", "))
}

func digitsOf(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// luhn reports whether a digit string passes the Luhn checksum
func luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func validCardNumber(s string) bool {
	d := digitsOf(s)
	return len(d) >= 13 && len(d) <= 19 && luhn(d)
}

func validAmexNumber(s string) bool {
	d := digitsOf(s)
	return len(d) == 15 && (strings.HasPrefix(d, "34") || strings.HasPrefix(d, "37")) && luhn(d)
}

func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
	}
	return true
}

func (r *PatternRecognizer) String() string {
	return fmt.Sprintf("%s(%s)", r.Name, r.EntityType)
}
