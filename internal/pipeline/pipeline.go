// Package pipeline runs the multi-step retrieval flow as an explicit state
// machine: retrieve, grade, optionally rewrite and retry, then generate a
// grounded answer with citations.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

// InsufficientContextAnswer is returned when no relevant chunks exist after
// the rewrite budget is spent. It is a normal outcome, not an error; the
// generator is never asked to answer without context.
const InsufficientContextAnswer = "I couldn't find relevant information in your documents to answer this question. " +
	"Try rephrasing, or upload documents that contain this information."

// Config holds pipeline defaults; ask requests may override TopK,
// GradeThreshold, and MaxRewrites per call.
type Config struct {
	TopK           int
	GradeThreshold float64
	MaxRewrites    int
}

// Searcher is the vector store read contract the pipeline consumes.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.SearchHit, error)
}

// Pipeline orchestrates retrieval, grading, rewriting, and generation.
type Pipeline struct {
	store      Searcher
	llm        llm.Client
	cfg        Config
	logger     *zap.Logger
	retryDelay time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRetryDelay sets the backoff before the single retry of a failed model
// call. Tests shrink it.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pipeline) { p.retryDelay = d }
}

// New creates a pipeline with the given dependencies.
func New(store Searcher, client llm.Client, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		llm:        client,
		cfg:        cfg,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// state is the pipeline's explicit control state.
type state int

const (
	stateRetrieve state = iota
	stateGrade
	stateRewrite
	stateGenerate
	stateDone
)

// runState is the working state of one request. Owned by a single run; never
// shared or persisted.
type runState struct {
	query         string
	originalQuery string
	retrieved     []models.SearchHit
	relevant      []models.SearchHit
	rewriteCount  int
	answer        string
	sources       []string
	terminal      string
}

// Run drives the state machine to completion for one question. The loop is
// bounded: each rewrite consumes budget, so at most maxRewrites+1 retrieval
// rounds happen regardless of model output.
func (p *Pipeline) Run(ctx context.Context, req models.AskRequest) (*models.AskResult, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK == 0 {
		topK = p.cfg.TopK
	}
	threshold := req.GradeThreshold
	if threshold == 0 {
		threshold = p.cfg.GradeThreshold
	}
	maxRewrites := p.cfg.MaxRewrites
	if req.MaxRewrites != nil {
		maxRewrites = *req.MaxRewrites
	}

	rs := &runState{query: req.Query, originalQuery: req.Query}
	st := stateRetrieve
	for st != stateDone {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch st {
		case stateRetrieve:
			st, err = p.retrieve(ctx, rs, topK)
		case stateGrade:
			st, err = p.grade(ctx, rs, threshold, maxRewrites)
		case stateRewrite:
			st, err = p.rewrite(ctx, rs)
		case stateGenerate:
			st, err = p.generate(ctx, rs)
		}
		if err != nil {
			return nil, err
		}
	}

	result := &models.AskResult{
		Answer:         rs.answer,
		Sources:        rs.sources,
		ChunkCount:     len(rs.relevant),
		TerminalReason: rs.terminal,
		QueryTime:      time.Since(start).Milliseconds(),
	}
	if rs.query != rs.originalQuery {
		result.RewrittenQuery = rs.query
	}
	return result, nil
}

func (p *Pipeline) retrieve(ctx context.Context, rs *runState, topK int) (state, error) {
	hits, err := p.store.Search(ctx, rs.query, topK)
	if err != nil {
		return stateDone, fmt.Errorf("retrieve: %w", err)
	}
	rs.retrieved = hits
	if p.logger != nil {
		p.logger.Debug("retrieved chunks", zap.String("query", rs.query), zap.Int("count", len(hits)))
	}
	return stateGrade, nil
}

func (p *Pipeline) grade(ctx context.Context, rs *runState, threshold float64, maxRewrites int) (state, error) {
	rs.relevant = rs.relevant[:0]
	for _, hit := range rs.retrieved {
		var score float64
		err := p.callWithRetry(ctx, "grade", func() error {
			s, err := p.llm.Grade(ctx, rs.query, hit.Text)
			if err != nil {
				return err
			}
			score = s
			return nil
		})
		if err != nil {
			return stateDone, err
		}
		if score >= threshold {
			rs.relevant = append(rs.relevant, hit)
		}
	}
	if p.logger != nil {
		p.logger.Debug("graded chunks",
			zap.Int("retrieved", len(rs.retrieved)), zap.Int("relevant", len(rs.relevant)),
			zap.Int("rewrite_count", rs.rewriteCount))
	}
	if len(rs.relevant) > 0 {
		return stateGenerate, nil
	}
	if rs.rewriteCount < maxRewrites {
		return stateRewrite, nil
	}
	rs.terminal = models.TerminalReasonNoRelevantChunks
	return stateGenerate, nil
}

func (p *Pipeline) rewrite(ctx context.Context, rs *runState) (state, error) {
	texts := make([]string, len(rs.retrieved))
	for i, hit := range rs.retrieved {
		texts[i] = hit.Text
	}
	var rewritten string
	err := p.callWithRetry(ctx, "rewrite", func() error {
		q, err := p.llm.Rewrite(ctx, rs.originalQuery, rs.query, texts)
		if err != nil {
			return err
		}
		rewritten = q
		return nil
	})
	if err != nil {
		return stateDone, err
	}
	// The budget is spent even when the rewriter returns the identical query;
	// no progress is not a reason to loop further.
	rs.rewriteCount++
	rs.query = rewritten
	if p.logger != nil {
		p.logger.Debug("query rewritten", zap.String("query", rewritten), zap.Int("rewrite_count", rs.rewriteCount))
	}
	return stateRetrieve, nil
}

func (p *Pipeline) generate(ctx context.Context, rs *runState) (state, error) {
	if len(rs.relevant) == 0 {
		rs.answer = InsufficientContextAnswer
		rs.sources = nil
		return stateDone, nil
	}
	blocks := make([]string, len(rs.relevant))
	for i, hit := range rs.relevant {
		blocks[i] = fmt.Sprintf("[Source: %s, chunk #%d]\n%s", hit.DocName, hit.Position, hit.Text)
	}
	var answer string
	err := p.callWithRetry(ctx, "generate", func() error {
		a, err := p.llm.Generate(ctx, rs.originalQuery, blocks)
		if err != nil {
			return err
		}
		answer = a
		return nil
	})
	if err != nil {
		return stateDone, err
	}
	rs.answer = answer
	rs.sources = citations(rs.relevant)
	return stateDone, nil
}

// citations formats one citation per relevant chunk, deduplicated, in order.
func citations(hits []models.SearchHit) []string {
	seen := make(map[string]bool, len(hits))
	out := make([]string, 0, len(hits))
	for _, hit := range hits {
		c := fmt.Sprintf("%s (chunk #%d)", hit.DocName, hit.Position)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// callWithRetry invokes call; a transient failure is retried once after a
// backoff, anything further is surfaced as a PipelineError naming the stage.
func (p *Pipeline) callWithRetry(ctx context.Context, stage string, call func() error) error {
	err := call()
	if err == nil {
		return nil
	}
	if !llm.IsTransient(err) {
		return &PipelineError{Stage: stage, Err: err}
	}
	if p.logger != nil {
		p.logger.Debug("retrying model call", zap.String("stage", stage), zap.Error(err))
	}
	select {
	case <-time.After(p.retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := call(); err != nil {
		return &PipelineError{Stage: stage, Err: err}
	}
	return nil
}
