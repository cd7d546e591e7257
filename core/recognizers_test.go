package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recognizerYAML = `metadata:
  version: "1.0.0"
  description: Spanish identifiers
supported_languages: [es]
recognizers:
  - name: SpanishDni
    supported_entity: ES_DNI
    patterns:
      - name: dni
        regex: '\b\d{8}[A-Z]\b'
        score: 0.6
    context: [dni, documento]
  - supported_entity: CODENAME
    supported_languages: [en, es]
    deny_list: [Zeus]
`

func TestParseRecognizers(t *testing.T) {
	f, err := ParseRecognizers([]byte(recognizerYAML))
	require.NoError(t, err)

	require.Len(t, f.Recognizers, 2)
	assert.Equal(t, "SpanishDni", f.Recognizers[0].Name)
	assert.Equal(t, "custom-recognizer-2", f.Recognizers[1].Name)
	assert.Equal(t, []string{"es"}, f.SupportedLanguages)

	reg := NewRegistry()
	require.NoError(t, f.Register(reg))
	assert.Equal(t, []string{"CODENAME", "ES_DNI"}, reg.SupportedEntities("es"))
	assert.Equal(t, []string{"CODENAME"}, reg.SupportedEntities("en"))

	a := NewPatternAnalyzer(reg, WithLanguages("es"))
	text := "mi dni es 12345678Z y el proyecto Zeus"
	spans, err := a.Analyze(context.Background(), text, "es", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "12345678Z", text[spans[0].Start:spans[0].End])
	assert.InDelta(t, 1.0, spans[0].Score, 1e-9)
	assert.Equal(t, "Zeus", text[spans[1].Start:spans[1].End])
}

func TestParseRecognizersErrors(t *testing.T) {
	tests := map[string]string{
		"not yaml":    "recognizers: [",
		"no entity":   "recognizers:\n  - name: x\n    deny_list: [a]\n",
		"no matchers": "recognizers:\n  - name: x\n    supported_entity: X\n",
		"empty regex": "recognizers:\n  - name: x\n    supported_entity: X\n    patterns:\n      - score: 0.5\n",
		"bad hash":    "metadata:\n  hash: deadbeef\nrecognizers: []\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecognizers([]byte(doc))
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestSaveAndLoadRecognizers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recognizers.yaml")
	f := &RecognizerFile{
		Metadata: RecognizerMetadata{Version: "2.0.0", Author: "privacy team"},
		Recognizers: []*PatternRecognizer{{
			Name:       "EmployeeId",
			EntityType: "EMPLOYEE_ID",
			Patterns:   []Pattern{{Name: "emp", Regex: `\bEMP-\d{6}\b`, Score: 0.7}},
		}},
	}
	require.NoError(t, SaveRecognizers(f, path))
	assert.NotEmpty(t, f.Metadata.Hash)
	assert.False(t, f.Metadata.CreatedAt.IsZero())

	loaded, err := LoadRecognizers(path)
	require.NoError(t, err)
	assert.Equal(t, f.Metadata.Hash, loaded.Metadata.Hash)
	assert.Equal(t, "EMPLOYEE_ID", loaded.Recognizers[0].EntityType)

	// any edit without a new hash is rejected
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "EMP-", "EMX-", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = LoadRecognizers(path)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "integrity check failed")
}

func TestLoadRecognizersMissingFile(t *testing.T) {
	_, err := LoadRecognizers(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
