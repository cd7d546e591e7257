package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name string
		want PolicyKind
	}{
		{"fpe", PolicyFPE},
		{"FPE", PolicyFPE},
		{"format-preserving", PolicyFPE},
		{"entities", PolicyMask},
		{"Entities", PolicyMask},
		{"mask", PolicyMask},
		{"simple", PolicyReplace},
		{" replace ", PolicyReplace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy(tt.name, aesKey)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Kind())
		})
	}

	_, err := ParsePolicy("shred", aesKey)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = ParsePolicy("fpe", nil)
	assert.ErrorAs(t, err, &cfgErr, "fpe without a key is a configuration error")

	for _, name := range PolicyNames() {
		_, err := ParsePolicy(name, aesKey)
		assert.NoError(t, err, name)
	}
}

// Dispatch is an exhaustive type switch; this keeps every kind covered.
func describe(p RedactionPolicy) string {
	switch p := p.(type) {
	case Replace:
		return "replace:" + p.MarkerOrDefault()
	case Mask:
		return "mask:" + p.Placeholder("X")
	case FormatPreservingEncrypt:
		return fmt.Sprintf("fpe:%d", len(p.Key))
	default:
		return "unknown"
	}
}

func TestPolicyVariants(t *testing.T) {
	assert.Equal(t, "replace:[REDACTED]", describe(Replace{}))
	assert.Equal(t, "replace:***", describe(Replace{Marker: "***"}))
	assert.Equal(t, "mask:<X>", describe(Mask{}))
	assert.Equal(t, "mask:{{X}}", describe(Mask{Format: "{{%s}}"}))
	assert.Equal(t, "mask:NAME", describe(Mask{Placeholders: map[string]string{"X": "NAME"}}))
	assert.Equal(t, "fpe:32", describe(FormatPreservingEncrypt{Key: aesKey}))
}

func TestValidatePolicy(t *testing.T) {
	assert.NoError(t, ValidatePolicy(Replace{}))
	assert.NoError(t, ValidatePolicy(Mask{Format: "[%s]"}))
	assert.Error(t, ValidatePolicy(Mask{Format: "[entity]"}))
	assert.NoError(t, ValidatePolicy(FormatPreservingEncrypt{Key: aesKey}))
	assert.NoError(t, ValidatePolicy(FormatPreservingEncrypt{Key: chachaKey, Cipher: CipherXChaCha20Poly1305}))
	assert.Error(t, ValidatePolicy(FormatPreservingEncrypt{}))
	assert.Error(t, ValidatePolicy(nil))
}

func TestMaskPlaceholderIgnoresKeyCase(t *testing.T) {
	m := Mask{Placeholders: map[string]string{"email_address": "<EMAIL>"}}
	assert.Equal(t, "<EMAIL>", m.Placeholder("EMAIL_ADDRESS"))
	assert.Equal(t, "<PHONE_NUMBER>", m.Placeholder("PHONE_NUMBER"))
}

func TestNormalizePlaceholdersCaseCollisions(t *testing.T) {
	in := map[string]string{
		"email_address": "<lower>",
		"EMAIL_ADDRESS": "<upper>",
		"Phone_Number":  "<mixed>",
		"phone_number":  "<lower phone>",
	}

	for i := 0; i < 20; i++ {
		got := NormalizePlaceholders(in)
		assert.Equal(t, map[string]string{
			"EMAIL_ADDRESS": "<upper>",
			"PHONE_NUMBER":  "<mixed>",
		}, got)

		m := Mask{Placeholders: in}
		assert.Equal(t, "<mixed>", m.Placeholder("PHONE_NUMBER"))
	}
	assert.Nil(t, NormalizePlaceholders(nil))
}
