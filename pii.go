// Package pii wires analyzers, redaction policies, keys and the audit trail
// into one explicitly constructed Service. Transports (HTTP, MCP, CLI) hold
// a *Service and call Close when they are done with it.
package pii

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/SamuelRCrider/pii-go/analyzer/presidio"
	"github.com/SamuelRCrider/pii-go/config"
	"github.com/SamuelRCrider/pii-go/core"
	"github.com/SamuelRCrider/pii-go/utils"
)

// ErrClosed is returned by every Service method after Close
var ErrClosed = errors.New("pii service is closed")

// Caller describes who triggered an operation, for logs and the audit trail
type Caller struct {
	RequestID string
	Source    string // http, mcp, cli
	ClientIP  string
}

type callerKey struct{}

// WithCaller attaches caller information to ctx
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached to ctx, if any
func CallerFrom(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey{}).(Caller)
	return c
}

// AnonymizeResult is the outcome of one anonymization
type AnonymizeResult struct {
	RequestID string                  `json:"request_id"`
	Policy    core.PolicyKind         `json:"policy"`
	Text      string                  `json:"text"`
	Spans     []utils.DetectedSpan    `json:"spans"`
	Applied   []core.AppliedRedaction `json:"applied"`
	Skipped   []utils.DetectedSpan    `json:"skipped,omitempty"`
}

// Service analyzes and anonymizes text. It is safe for concurrent use.
type Service struct {
	cfg      *config.Config
	analyzer core.Analyzer
	registry *core.Registry
	overlap  core.OverlapMode
	audit    *core.AuditLogger
	logger   *log.Logger

	mu      sync.RWMutex
	key     []byte
	keyMeta core.KeyMetadata
	closed  bool
}

// Option configures a Service
type Option func(*serviceOptions)

type serviceOptions struct {
	logger   *log.Logger
	analyzer core.Analyzer
	key      []byte
}

// WithLogger sets the service logger
func WithLogger(logger *log.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithAnalyzer replaces the analyzers built from the configuration
func WithAnalyzer(a core.Analyzer) Option {
	return func(o *serviceOptions) {
		o.analyzer = a
	}
}

// WithKey supplies the obfuscation key instead of the configured key source.
// The service keeps its own copy.
func WithKey(key []byte) Option {
	return func(o *serviceOptions) {
		o.key = append([]byte(nil), key...)
	}
}

// New builds a Service from cfg. A nil cfg selects config.DefaultConfig.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.Discard()
	}

	overlap, err := core.ParseOverlapMode(cfg.Redaction.Overlap)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		overlap: overlap,
		logger:  o.logger,
	}

	if err := s.initAnalyzer(o.analyzer); err != nil {
		return nil, err
	}
	if err := s.initKey(o.key); err != nil {
		return nil, err
	}

	if cfg.Audit.Enabled {
		audit, err := core.NewAuditLogger(cfg.CoreAuditConfig())
		if err != nil {
			s.wipeKey()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		s.audit = audit
	}

	s.logger.Info("pii service ready",
		"analyzer", s.analyzer.Name(),
		"languages", strings.Join(cfg.Analyzer.SupportedLanguages, ","),
		"policy", cfg.Redaction.DefaultPolicy,
		"key_id", s.keyMeta.ID,
		"audit", cfg.Audit.Enabled)
	return s, nil
}

func (s *Service) initAnalyzer(override core.Analyzer) error {
	if override != nil {
		s.analyzer = override
		return nil
	}

	b := core.NewRegistryBuilder().WithFile(s.cfg.Analyzer.RecognizersPath)
	if s.cfg.Analyzer.PredefinedRecognizers {
		b.WithPredefined()
	}
	registry, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build recognizer registry: %w", err)
	}
	s.registry = registry

	local := core.NewPatternAnalyzer(registry,
		core.WithLanguages(s.cfg.Analyzer.SupportedLanguages...),
		core.WithAnalyzerLogger(s.logger.WithPrefix("pattern")))

	if s.cfg.Analyzer.PresidioURL == "" {
		s.analyzer = local
		return nil
	}

	remote, err := presidio.New(s.cfg.Analyzer.PresidioURL,
		presidio.WithTimeout(s.cfg.PresidioTimeout()),
		presidio.WithLogger(s.logger.WithPrefix("presidio")))
	if err != nil {
		return err
	}
	s.analyzer = core.NewCompositeAnalyzer(s.logger, local, remote)
	return nil
}

// initKey loads the obfuscation key. A missing key only fails construction
// when fpe is the default policy; otherwise fpe requests fail individually.
func (s *Service) initKey(injected []byte) error {
	if injected != nil {
		s.key = injected
		s.keyMeta = core.KeyMetadata{ID: core.KeyID(injected), Source: "injected"}
		return nil
	}

	key, meta, err := core.LoadKey(s.cfg.CoreKeyConfig())
	if err != nil {
		if policyIsFPE(s.cfg.Redaction.DefaultPolicy) {
			return fmt.Errorf("failed to load obfuscation key: %w", err)
		}
		s.logger.Warn("no obfuscation key, fpe policy disabled", "err", err)
		return nil
	}
	s.key = key
	s.keyMeta = meta
	return nil
}

func policyIsFPE(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fpe", "format-preserving":
		return true
	}
	return false
}

// Config returns the configuration the service was built from
func (s *Service) Config() *config.Config { return s.cfg }

// KeyID returns the fingerprint of the obfuscation key, empty without a key
func (s *Service) KeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyMeta.ID
}

// Languages returns the supported language codes
func (s *Service) Languages() []string {
	return append([]string(nil), s.cfg.Analyzer.SupportedLanguages...)
}

// SupportedEntities lists the entity types detectable in language
func (s *Service) SupportedEntities(ctx context.Context, language string) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.analyzer.SupportedEntities(ctx, s.language(language))
}

// Policy resolves a policy name (fpe, entities, simple; empty selects the
// configured default) into a RedactionPolicy parameterized by the configuration.
func (s *Service) Policy(name string) (core.RedactionPolicy, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = s.cfg.Redaction.DefaultPolicy
	}

	// each policy owns a copy so Close can wipe s.key under running calls
	s.mu.RLock()
	key := append([]byte(nil), s.key...)
	s.mu.RUnlock()

	p, err := core.ParsePolicy(name, key)
	if err != nil {
		return nil, err
	}

	rc := s.cfg.Redaction
	switch p := p.(type) {
	case core.Replace:
		return core.Replace{Marker: rc.Marker}, nil
	case core.Mask:
		return core.Mask{Placeholders: core.NormalizePlaceholders(rc.Placeholders), Format: rc.MaskFormat}, nil
	case core.FormatPreservingEncrypt:
		p.Cipher = core.CipherSuite(rc.Cipher)
		p.Deterministic = rc.Deterministic
		if err := core.ValidatePolicy(p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, &core.ConfigurationError{Field: "policy", Message: fmt.Sprintf("unsupported redaction policy %T", p)}
	}
}

// Analyze detects PII spans in text. An empty language selects the first
// supported language.
func (s *Service) Analyze(ctx context.Context, text, language string) ([]utils.DetectedSpan, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.analyzer.Analyze(ctx, text, s.language(language), s.cfg.AnalyzeOptions())
}

// Anonymize analyzes text and redacts every detected span with policy.
func (s *Service) Anonymize(ctx context.Context, text, language string, policy core.RedactionPolicy) (*AnonymizeResult, error) {
	caller := CallerFrom(ctx)
	if caller.RequestID == "" {
		caller.RequestID = core.NewRequestID()
	}
	language = s.language(language)

	res, err := s.anonymize(ctx, text, language, policy)
	if res != nil {
		res.RequestID = caller.RequestID
	}
	s.record(caller, text, language, policy, res, err)

	if err != nil {
		s.logger.Debug("anonymize failed", "request_id", caller.RequestID, "err", err)
		return nil, err
	}
	s.logger.Debug("anonymized text",
		"request_id", caller.RequestID,
		"policy", res.Policy,
		"spans", len(res.Spans),
		"applied", len(res.Applied))
	return res, nil
}

func (s *Service) anonymize(ctx context.Context, text, language string, policy core.RedactionPolicy) (*AnonymizeResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	redactor, err := core.NewRedactor(policy,
		core.WithOverlap(s.overlap),
		core.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	spans, err := s.analyzer.Analyze(ctx, text, language, s.cfg.AnalyzeOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to analyze text: %w", err)
	}

	detailed, err := redactor.RedactDetailed(text, spans)
	if err != nil {
		return nil, err
	}

	return &AnonymizeResult{
		Policy:  policy.Kind(),
		Text:    detailed.Text,
		Spans:   spans,
		Applied: detailed.Applied,
		Skipped: detailed.Skipped,
	}, nil
}

// AnonymizeFile extracts the text of an uploaded .txt, .csv or .json file
// and anonymizes it.
func (s *Service) AnonymizeFile(ctx context.Context, filename string, r io.Reader, language string, policy core.RedactionPolicy) (*AnonymizeResult, error) {
	text, err := core.ExtractText(filename, r)
	if err != nil {
		return nil, err
	}
	return s.Anonymize(ctx, text, language, policy)
}

// Close releases the audit log and wipes the key. It is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wipeKey()
	if s.audit != nil {
		return s.audit.Close()
	}
	return nil
}

func (s *Service) wipeKey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

func (s *Service) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Service) language(language string) string {
	if language == "" && len(s.cfg.Analyzer.SupportedLanguages) > 0 {
		return s.cfg.Analyzer.SupportedLanguages[0]
	}
	return language
}

func (s *Service) record(caller Caller, text, language string, policy core.RedactionPolicy, res *AnonymizeResult, err error) {
	if s.audit == nil {
		return
	}

	event := core.AuditEvent{
		RequestID:  caller.RequestID,
		EventType:  "anonymize",
		Source:     caller.Source,
		ClientIP:   caller.ClientIP,
		Language:   language,
		InputHash:  core.HashInput(text),
		InputBytes: len(text),
	}
	if policy != nil {
		event.Policy = string(policy.Kind())
		if policy.Kind() == core.PolicyFPE {
			event.KeyID = s.KeyID()
		}
	}

	if err != nil {
		event.Error = err.Error()
		event.ErrorCategory = core.Categorize(err)
		event.Severity = core.SeverityError
		if event.ErrorCategory == core.ErrorCategoryValidation {
			event.Severity = core.SeverityWarning
		}
	} else {
		event.Severity = core.SeverityInfo
		event.Transformed = res.Text
		event.Applied = len(res.Applied)
		event.Skipped = len(res.Skipped)
		event.Entities = make(map[string]int)
		for _, a := range res.Applied {
			event.Entities[a.Span.EntityType]++
		}
	}

	if logErr := s.audit.Log(event); logErr != nil {
		s.logger.Error("failed to write audit event", "request_id", caller.RequestID, "err", logErr)
	}
}
