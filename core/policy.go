package core

import (
	"fmt"
	"sort"
	"strings"
)

// PolicyKind names a redaction strategy
type PolicyKind string

const (
	// PolicyReplace replaces every span with one fixed marker
	PolicyReplace PolicyKind = "replace"

	// PolicyMask replaces every span with a placeholder naming its entity
	PolicyMask PolicyKind = "mask"

	// PolicyFPE rewrites every span with format-preserving obfuscation
	PolicyFPE PolicyKind = "fpe"
)

const (
	// DefaultReplaceMarker is used by Replace when no marker is set
	DefaultReplaceMarker = "[REDACTED]"

	// DefaultMaskFormat renders an entity type into a placeholder
	DefaultMaskFormat = "<%s>"
)

// RedactionPolicy is the strategy applied to every detected span of one
// redaction call. The set of implementations is closed: Replace, Mask and
// FormatPreservingEncrypt.
type RedactionPolicy interface {
	Kind() PolicyKind
	isRedactionPolicy()
}

// Replace substitutes a fixed marker for every span.
type Replace struct {
	Marker string
}

// Mask substitutes a per-entity placeholder for every span. Placeholders
// overrides the rendered Format for specific entity types.
type Mask struct {
	Placeholders map[string]string
	Format       string
}

// FormatPreservingEncrypt rewrites every span with the Obfuscator under Key.
// The key is owned by the caller and only borrowed for each call.
type FormatPreservingEncrypt struct {
	Key           []byte
	Cipher        CipherSuite
	Deterministic bool
}

func (Replace) Kind() PolicyKind                 { return PolicyReplace }
func (Mask) Kind() PolicyKind                    { return PolicyMask }
func (FormatPreservingEncrypt) Kind() PolicyKind { return PolicyFPE }

func (Replace) isRedactionPolicy()                 {}
func (Mask) isRedactionPolicy()                    {}
func (FormatPreservingEncrypt) isRedactionPolicy() {}

// MarkerOrDefault returns the configured marker or DefaultReplaceMarker.
func (p Replace) MarkerOrDefault() string {
	if p.Marker == "" {
		return DefaultReplaceMarker
	}
	return p.Marker
}

// NormalizePlaceholders upper-cases placeholder keys, since config loading
// lower-cases map keys. When keys differ only by case the upper-case key
// wins, then the lowest key in sort order.
func NormalizePlaceholders(placeholders map[string]string) map[string]string {
	if len(placeholders) == 0 {
		return nil
	}
	keys := make([]string, 0, len(placeholders))
	for k := range placeholders {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(placeholders))
	for _, k := range keys {
		upper := strings.ToUpper(k)
		if _, taken := out[upper]; taken && k != upper {
			continue
		}
		out[upper] = placeholders[k]
	}
	return out
}

// Placeholder returns the placeholder for an entity type. Keys match
// case-insensitively.
func (p Mask) Placeholder(entityType string) string {
	if ph, ok := p.Placeholders[entityType]; ok {
		return ph
	}
	if ph, ok := NormalizePlaceholders(p.Placeholders)[strings.ToUpper(entityType)]; ok {
		return ph
	}
	format := p.Format
	if format == "" {
		format = DefaultMaskFormat
	}
	return fmt.Sprintf(format, entityType)
}

// Obfuscator returns the obfuscator configured by the policy.
func (p FormatPreservingEncrypt) Obfuscator() Obfuscator {
	return Obfuscator{Cipher: p.Cipher, Deterministic: p.Deterministic}
}

// ValidatePolicy checks that a policy can be applied.
func ValidatePolicy(p RedactionPolicy) error {
	switch p := p.(type) {
	case Replace:
		return nil
	case Mask:
		if p.Format != "" && !strings.Contains(p.Format, "%s") {
			return configErr("policy.mask.format", "format %q has no %%s verb", p.Format)
		}
		return nil
	case FormatPreservingEncrypt:
		return p.Obfuscator().Validate(p.Key)
	case nil:
		return configErr("policy", "no redaction policy selected")
	default:
		return configErr("policy", "unsupported redaction policy %T", p)
	}
}

// ParsePolicy maps an orchestration-level policy name to a RedactionPolicy.
// Accepted names: "fpe", "entities" or "mask", "simple" or "replace".
// key is only used by the fpe policy.
func ParsePolicy(name string, key []byte) (RedactionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fpe", "format-preserving":
		p := FormatPreservingEncrypt{Key: key}
		if err := ValidatePolicy(p); err != nil {
			return nil, err
		}
		return p, nil
	case "entities", "mask":
		return Mask{}, nil
	case "simple", "replace":
		return Replace{}, nil
	default:
		return nil, configErr("policy", "unknown redaction policy %q", name)
	}
}

// PolicyNames lists the names ParsePolicy accepts, one per kind.
func PolicyNames() []string {
	return []string{"fpe", "entities", "simple"}
}
