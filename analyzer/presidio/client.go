// Package presidio provides a core.Analyzer backed by a Presidio analyzer
// service over its REST API. Presidio reports offsets in code points; the
// client converts them to byte offsets before returning spans.
//
// Unlike a best-effort classifier the client fails closed: an unreachable
// service or an unexpected status is an error, never an empty result.
package presidio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/SamuelRCrider/pii-go/core"
	"github.com/SamuelRCrider/pii-go/utils"
)

// ErrUnavailable wraps transport failures and non-200 answers
var ErrUnavailable = errors.New("presidio analyzer unavailable")

// DefaultTimeout bounds each request when no http.Client is supplied
const DefaultTimeout = 10 * time.Second

// Client calls a Presidio analyzer's /analyze, /supportedentities and
// /health endpoints. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLogger sets the client logger
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Client for the analyzer at baseURL
// (e.g. "http://presidio-analyzer:3000").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &core.ConfigurationError{Field: "analyzer.presidio.url", Message: fmt.Sprintf("invalid URL %q", baseURL)}
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  utils.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name identifies the analyzer in logs
func (c *Client) Name() string { return "presidio" }

type analyzeRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	Entities       []string `json:"entities,omitempty"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
	AllowList      []string `json:"allow_list,omitempty"`
}

type recognizerResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`

	RecognitionMetadata struct {
		RecognizerName string `json:"recognizer_name"`
	} `json:"recognition_metadata"`
}

// Analyze sends text to the analyzer and returns its spans in byte offsets.
func (c *Client) Analyze(ctx context.Context, text, language string, opts core.AnalyzeOptions) ([]utils.DetectedSpan, error) {
	body, err := json.Marshal(analyzeRequest{
		Text:           text,
		Language:       language,
		Entities:       opts.Entities,
		ScoreThreshold: opts.ScoreThreshold,
		AllowList:      opts.AllowList,
	})
	if err != nil {
		return nil, fmt.Errorf("presidio: marshal: %w", err)
	}

	var results []recognizerResult
	if err := c.do(ctx, http.MethodPost, "/analyze", body, &results); err != nil {
		return nil, err
	}

	offsets := byteOffsets(text)
	spans := make([]utils.DetectedSpan, 0, len(results))
	for _, r := range results {
		if r.Start < 0 || r.End >= len(offsets) || r.Start >= r.End {
			return nil, fmt.Errorf("presidio: span [%d:%d] outside text of %d code points", r.Start, r.End, len(offsets)-1)
		}
		spans = append(spans, utils.DetectedSpan{
			Start:      offsets[r.Start],
			End:        offsets[r.End],
			EntityType: r.EntityType,
			Score:      r.Score,
			Recognizer: r.RecognitionMetadata.RecognizerName,
		})
	}

	c.logger.Debug("presidio analyze", "language", language, "spans", len(spans))
	return core.FilterSpans(text, spans, opts), nil
}

// SupportedEntities lists the entity types the analyzer detects for language
func (c *Client) SupportedEntities(ctx context.Context, language string) ([]string, error) {
	var entities []string
	path := "/supportedentities?language=" + url.QueryEscape(language)
	if err := c.do(ctx, http.MethodGet, path, nil, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// Health checks that the analyzer answers
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("presidio: request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("presidio analyzer unreachable", "err", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("presidio analyzer unexpected status", "code", resp.StatusCode, "path", path)
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("presidio: decode: %w", err)
	}
	return nil
}

// byteOffsets maps every code point index of text, plus one past the end,
// to its byte offset.
func byteOffsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
