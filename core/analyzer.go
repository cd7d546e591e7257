package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/SamuelRCrider/pii-go/utils"
)

// DefaultScoreThreshold drops weak matches that no context word confirmed
const DefaultScoreThreshold = 0.35

// AnalyzeOptions narrows an analysis
type AnalyzeOptions struct {
	// Entities restricts detection to these labels; empty means all
	Entities []string `json:"entities,omitempty"`

	// AllowList holds exact values that are never reported
	AllowList []string `json:"allow_list,omitempty"`

	// ScoreThreshold drops spans scoring below it
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

func (o AnalyzeOptions) wantsEntity(entity string) bool {
	if len(o.Entities) == 0 {
		return true
	}
	for _, e := range o.Entities {
		if strings.EqualFold(e, entity) {
			return true
		}
	}
	return false
}

// Analyzer detects PII spans in text. Offsets of returned spans are byte
// offsets into text.
type Analyzer interface {
	Analyze(ctx context.Context, text, language string, opts AnalyzeOptions) ([]utils.DetectedSpan, error)
	SupportedEntities(ctx context.Context, language string) ([]string, error)
	Name() string
}

// FilterSpans applies the entity filter, allow list and score threshold of
// opts, collapses identical spans to the highest score and orders the result
// by start.
func FilterSpans(text string, spans []utils.DetectedSpan, opts AnalyzeOptions) []utils.DetectedSpan {
	allowed := make(map[string]struct{}, len(opts.AllowList))
	for _, a := range opts.AllowList {
		allowed[a] = struct{}{}
	}

	type key struct {
		start, end int
		entity     string
	}
	best := make(map[key]int)
	out := make([]utils.DetectedSpan, 0, len(spans))

	for _, s := range spans {
		if !opts.wantsEntity(s.EntityType) || s.Score < opts.ScoreThreshold {
			continue
		}
		if s.Start >= 0 && s.End <= len(text) && s.Start < s.End {
			if _, ok := allowed[text[s.Start:s.End]]; ok {
				continue
			}
		}
		k := key{s.Start, s.End, s.EntityType}
		if i, ok := best[k]; ok {
			if s.Score > out[i].Score {
				out[i] = s
			}
			continue
		}
		best[k] = len(out)
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End > out[j].End
	})
	return out
}

// CompositeAnalyzer runs several analyzers concurrently and merges their spans
type CompositeAnalyzer struct {
	analyzers []Analyzer
	logger    *log.Logger
}

// NewCompositeAnalyzer combines analyzers. A nil logger discards output.
func NewCompositeAnalyzer(logger *log.Logger, analyzers ...Analyzer) *CompositeAnalyzer {
	if logger == nil {
		logger = utils.Discard()
	}
	return &CompositeAnalyzer{analyzers: analyzers, logger: logger}
}

// Name identifies the analyzer in logs
func (c *CompositeAnalyzer) Name() string {
	names := make([]string, len(c.analyzers))
	for i, a := range c.analyzers {
		names[i] = a.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// Analyze fans out to every analyzer. Any failure fails the whole call so a
// broken recognizer never silently lets PII through.
func (c *CompositeAnalyzer) Analyze(ctx context.Context, text, language string, opts AnalyzeOptions) ([]utils.DetectedSpan, error) {
	results := make([][]utils.DetectedSpan, len(c.analyzers))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range c.analyzers {
		g.Go(func() error {
			spans, err := a.Analyze(gctx, text, language, opts)
			if err != nil {
				return fmt.Errorf("%s analyzer: %w", a.Name(), err)
			}
			results[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []utils.DetectedSpan
	for i, spans := range results {
		c.logger.Debug("analyzer finished", "analyzer", c.analyzers[i].Name(), "spans", len(spans))
		merged = append(merged, spans...)
	}
	return FilterSpans(text, merged, opts), nil
}

// SupportedEntities returns the union of the entities of every analyzer
func (c *CompositeAnalyzer) SupportedEntities(ctx context.Context, language string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, a := range c.analyzers {
		entities, err := a.SupportedEntities(ctx, language)
		if err != nil {
			return nil, fmt.Errorf("%s analyzer: %w", a.Name(), err)
		}
		for _, e := range entities {
			seen[e] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Strings(out)
	return out, nil
}
