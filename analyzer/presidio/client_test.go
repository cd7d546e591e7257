package presidio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelRCrider/pii-go/core"
)

func newAnalyzer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := New(ts.URL + "/")
	require.NoError(t, err)
	return c
}

func TestAnalyzeConvertsCodePointOffsets(t *testing.T) {
	// "Señor José, mail jose@example.com" has two 2-byte runes before the email
	text := "Señor José, mail jose@example.com"

	var got analyzeRequest
	c := newAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`[
			{"entity_type": "PERSON", "start": 6, "end": 10, "score": 0.85,
			 "recognition_metadata": {"recognizer_name": "SpacyRecognizer"}},
			{"entity_type": "EMAIL_ADDRESS", "start": 17, "end": 33, "score": 1.0}
		]`))
	})

	spans, err := c.Analyze(context.Background(), text, "es", core.AnalyzeOptions{ScoreThreshold: 0.3})
	require.NoError(t, err)

	assert.Equal(t, text, got.Text)
	assert.Equal(t, "es", got.Language)
	assert.Equal(t, 0.3, got.ScoreThreshold)

	require.Len(t, spans, 2)
	assert.Equal(t, "José", text[spans[0].Start:spans[0].End])
	assert.Equal(t, "SpacyRecognizer", spans[0].Recognizer)
	assert.Equal(t, "jose@example.com", text[spans[1].Start:spans[1].End])
	assert.Equal(t, "EMAIL_ADDRESS", spans[1].EntityType)
}

func TestAnalyzeAppliesFilters(t *testing.T) {
	text := "call 555-123-4567 or mail a@b.io"
	c := newAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"entity_type": "EMAIL_ADDRESS", "start": 26, "end": 32, "score": 1.0},
			{"entity_type": "PHONE_NUMBER", "start": 5, "end": 17, "score": 0.4}
		]`))
	})

	spans, err := c.Analyze(context.Background(), text, "en", core.AnalyzeOptions{AllowList: []string{"a@b.io"}})
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "PHONE_NUMBER", spans[0].EntityType)
}

func TestAnalyzeRejectsOutOfRangeSpans(t *testing.T) {
	c := newAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"entity_type": "PERSON", "start": 0, "end": 99, "score": 0.9}]`))
	})

	_, err := c.Analyze(context.Background(), "short", "en", core.AnalyzeOptions{})
	assert.Error(t, err)
}

func TestFailsClosed(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		c := newAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		})
		spans, err := c.Analyze(context.Background(), "hello", "en", core.AnalyzeOptions{})
		require.ErrorIs(t, err, ErrUnavailable)
		assert.Nil(t, spans)
		assert.Contains(t, err.Error(), "model not loaded")
	})

	t.Run("unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		c, err := New(url)
		require.NoError(t, err)
		_, err = c.Analyze(context.Background(), "hello", "en", core.AnalyzeOptions{})
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, c.Health(context.Background()), ErrUnavailable)
	})
}

func TestSupportedEntitiesAndHealth(t *testing.T) {
	c := newAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/supportedentities":
			assert.Equal(t, "en", r.URL.Query().Get("language"))
			_, _ = w.Write([]byte(`["PERSON", "EMAIL_ADDRESS"]`))
		case "/health":
			_, _ = w.Write([]byte("Presidio Analyzer service is up"))
		default:
			http.NotFound(w, r)
		}
	})

	entities, err := c.SupportedEntities(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSON", "EMAIL_ADDRESS"}, entities)
	assert.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "presidio", c.Name())
}

func TestNewRejectsInvalidURL(t *testing.T) {
	for _, raw := range []string{"", "presidio:3000", "://nope"} {
		_, err := New(raw)
		var cfgErr *core.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr, raw)
	}
}

func TestByteOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 1, 3, 4}, byteOffsets("añb"))
	assert.Equal(t, []int{0}, byteOffsets(""))
}
