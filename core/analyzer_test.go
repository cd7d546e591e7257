package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SamuelRCrider/pii-go/utils"
)

type stubAnalyzer struct {
	name     string
	spans    []utils.DetectedSpan
	entities []string
	err      error
	calls    atomic.Int32
}

func (s *stubAnalyzer) Name() string { return s.name }

func (s *stubAnalyzer) Analyze(ctx context.Context, text, language string, opts AnalyzeOptions) ([]utils.DetectedSpan, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.spans, nil
}

func (s *stubAnalyzer) SupportedEntities(ctx context.Context, language string) ([]string, error) {
	return s.entities, s.err
}

func TestFilterSpans(t *testing.T) {
	text := "alice paid bob 12345678 and 87654321"
	spans := []utils.DetectedSpan{
		{Start: 28, End: 36, EntityType: "NUMBER", Score: 0.6},
		{Start: 15, End: 23, EntityType: "NUMBER", Score: 0.3},
		{Start: 15, End: 23, EntityType: "NUMBER", Score: 0.9},
		{Start: 0, End: 5, EntityType: "PERSON", Score: 0.85},
		{Start: 11, End: 14, EntityType: "PERSON", Score: 0.85},
		{Start: 15, End: 23, EntityType: "PASSWORD", Score: 0.01},
	}

	out := FilterSpans(text, spans, AnalyzeOptions{
		ScoreThreshold: DefaultScoreThreshold,
		AllowList:      []string{"bob"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "alice", text[out[0].Start:out[0].End])
	assert.Equal(t, 15, out[1].Start)
	assert.Equal(t, 0.9, out[1].Score, "duplicates keep the highest score")
	assert.Equal(t, 28, out[2].Start)

	out = FilterSpans(text, spans, AnalyzeOptions{Entities: []string{"person"}})
	require.Len(t, out, 2)
	for _, s := range out {
		assert.Equal(t, "PERSON", s.EntityType)
	}
}

func TestCompositeAnalyzerMergesResults(t *testing.T) {
	text := "jane@example.com 555-123-4567"
	a := &stubAnalyzer{
		name:     "a",
		spans:    []utils.DetectedSpan{{Start: 0, End: 16, EntityType: "EMAIL_ADDRESS", Score: 1}},
		entities: []string{"EMAIL_ADDRESS", "PHONE_NUMBER"},
	}
	b := &stubAnalyzer{
		name: "b",
		spans: []utils.DetectedSpan{
			{Start: 17, End: 29, EntityType: "PHONE_NUMBER", Score: 0.7},
			{Start: 0, End: 16, EntityType: "EMAIL_ADDRESS", Score: 0.5},
		},
		entities: []string{"PERSON"},
	}
	c := NewCompositeAnalyzer(nil, a, b)
	assert.Equal(t, "composite(a,b)", c.Name())

	spans, err := c.Analyze(context.Background(), text, "en", AnalyzeOptions{})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "EMAIL_ADDRESS", spans[0].EntityType)
	assert.Equal(t, 1.0, spans[0].Score)
	assert.Equal(t, "PHONE_NUMBER", spans[1].EntityType)

	entities, err := c.SupportedEntities(context.Background(), "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"EMAIL_ADDRESS", "PERSON", "PHONE_NUMBER"}, entities)
}

func TestCompositeAnalyzerFailsClosed(t *testing.T) {
	boom := errors.New("upstream down")
	ok := &stubAnalyzer{name: "ok", spans: []utils.DetectedSpan{{Start: 0, End: 1, EntityType: "X", Score: 1}}}
	bad := &stubAnalyzer{name: "bad", err: boom}

	_, err := NewCompositeAnalyzer(nil, ok, bad).Analyze(context.Background(), "x", "en", AnalyzeOptions{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad analyzer")

	_, err = NewCompositeAnalyzer(nil, ok, bad).SupportedEntities(context.Background(), "en")
	assert.ErrorIs(t, err, boom)
}

func TestCompositeOverPatternAnalyzer(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.LoadPredefined())
	local := NewPatternAnalyzer(reg)
	extra := &stubAnalyzer{name: "ner", spans: []utils.DetectedSpan{{Start: 0, End: 4, EntityType: "PERSON", Score: 0.85}}}

	text := "Jane jane@example.com"
	spans, err := NewCompositeAnalyzer(nil, local, extra).Analyze(context.Background(), text, "en",
		AnalyzeOptions{ScoreThreshold: DefaultScoreThreshold})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "PERSON", spans[0].EntityType)
	assert.Equal(t, "EMAIL_ADDRESS", spans[1].EntityType)
	assert.Equal(t, int32(1), extra.calls.Load())
}
