package core

import (
	"errors"
)

// RegistryBuilder provides a fluent interface for assembling a Registry
type RegistryBuilder struct {
	predefined  bool
	recognizers []*PatternRecognizer
	files       []string
}

// NewRegistryBuilder creates a new registry builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{}
}

// WithPredefined includes the built-in recognizers
func (b *RegistryBuilder) WithPredefined() *RegistryBuilder {
	b.predefined = true
	return b
}

// WithFile includes the recognizers of a YAML recognizer file
func (b *RegistryBuilder) WithFile(path string) *RegistryBuilder {
	if path != "" {
		b.files = append(b.files, path)
	}
	return b
}

// AddPattern adds a recognizer with a single pattern
func (b *RegistryBuilder) AddPattern(name, entity, regex string, score float64) *RegistryBuilder {
	b.recognizers = append(b.recognizers, &PatternRecognizer{
		Name:       name,
		EntityType: entity,
		Patterns:   []Pattern{{Name: name, Regex: regex, Score: score}},
	})
	return b
}

// AddDenyList adds a recognizer that reports the given words
func (b *RegistryBuilder) AddDenyList(name, entity string, words ...string) *RegistryBuilder {
	b.recognizers = append(b.recognizers, &PatternRecognizer{
		Name:       name,
		EntityType: entity,
		DenyList:   words,
	})
	return b
}

// ConfigureLast configures additional properties for the last added recognizer
func (b *RegistryBuilder) ConfigureLast() *RecognizerConfigurator {
	if len(b.recognizers) == 0 {
		b.recognizers = append(b.recognizers, &PatternRecognizer{})
	}
	return &RecognizerConfigurator{
		builder:    b,
		recognizer: b.recognizers[len(b.recognizers)-1],
	}
}

// Build compiles everything into a new Registry
func (b *RegistryBuilder) Build() (*Registry, error) {
	reg := NewRegistry()
	if b.predefined {
		if err := reg.LoadPredefined(); err != nil {
			return nil, err
		}
	}
	for _, path := range b.files {
		f, err := LoadRecognizers(path)
		if err != nil {
			return nil, err
		}
		if err := f.Register(reg); err != nil {
			return nil, err
		}
	}

	var errs []error
	for _, rec := range b.recognizers {
		if err := reg.Add(rec); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

// RecognizerConfigurator provides methods to configure a recognizer
type RecognizerConfigurator struct {
	builder    *RegistryBuilder
	recognizer *PatternRecognizer
}

// WithContext sets the context words of the recognizer
func (c *RecognizerConfigurator) WithContext(words ...string) *RecognizerConfigurator {
	c.recognizer.Context = words
	return c
}

// ForLanguages restricts the recognizer to the given languages
func (c *RecognizerConfigurator) ForLanguages(languages ...string) *RecognizerConfigurator {
	c.recognizer.Languages = languages
	return c
}

// WithValidator sets the validator run on pattern matches
func (c *RecognizerConfigurator) WithValidator(name string) *RecognizerConfigurator {
	c.recognizer.Validator = name
	return c
}

// WithDenyList adds literal words to the recognizer
func (c *RecognizerConfigurator) WithDenyList(words ...string) *RecognizerConfigurator {
	c.recognizer.DenyList = append(c.recognizer.DenyList, words...)
	return c
}

// Done returns to the registry builder
func (c *RecognizerConfigurator) Done() *RegistryBuilder {
	return c.builder
}
