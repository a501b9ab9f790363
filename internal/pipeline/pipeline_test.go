package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
)

type fakeSearcher struct {
	hits  []models.SearchHit
	err   error
	calls int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	f.calls++
	return f.hits, f.err
}

func testConfig() Config {
	return Config{TopK: 5, GradeThreshold: 0.5, MaxRewrites: 2}
}

func reportHits() []models.SearchHit {
	return []models.SearchHit{
		{DocID: "d1", DocName: "report.pdf", Text: "Q3 revenue rose 10%.", Position: 0, Score: 0.95},
		{DocID: "d1", DocName: "report.pdf", Text: "Unrelated notes about staffing.", Position: 1, Score: 0.42},
	}
}

func TestPipelineHappyPath(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()}
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) {
			if chunk == "Q3 revenue rose 10%." {
				return 0.9, nil
			}
			return 0.1, nil
		},
		GenerateFunc: func(ctx context.Context, query string, blocks []string) (string, error) {
			if len(blocks) != 1 {
				t.Errorf("generate got %d context blocks", len(blocks))
			}
			return "Q3 revenue rose 10%, per report.pdf.", nil
		},
	}
	p := New(store, client, testConfig())

	result, err := p.Run(context.Background(), models.AskRequest{Query: "What happened to Q3 revenue?"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Answer == "" || result.Answer == InsufficientContextAnswer {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) != 1 || result.Sources[0] != "report.pdf (chunk #0)" {
		t.Errorf("sources = %v", result.Sources)
	}
	if result.ChunkCount != 1 {
		t.Errorf("chunk_count = %d", result.ChunkCount)
	}
	if result.RewrittenQuery != "" {
		t.Errorf("rewritten_query = %q", result.RewrittenQuery)
	}
	if result.TerminalReason != "" {
		t.Errorf("terminal_reason = %q", result.TerminalReason)
	}
	if store.calls != 1 {
		t.Errorf("search calls = %d", store.calls)
	}
	if client.RewriteCalls != 0 {
		t.Errorf("rewrite calls = %d", client.RewriteCalls)
	}
}

func TestPipelineRewriteBudgetBound(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()}
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) {
			return 0, nil // nothing is ever relevant
		},
		RewriteFunc: func(ctx context.Context, original, current string, chunks []string) (string, error) {
			return current + " rephrased", nil
		},
	}
	p := New(store, client, testConfig())

	result, err := p.Run(context.Background(), models.AskRequest{Query: "unanswerable"})
	if err != nil {
		t.Fatal(err)
	}
	if client.RewriteCalls != 2 {
		t.Errorf("rewrite calls = %d, want 2", client.RewriteCalls)
	}
	// maxRewrites+1 retrieval rounds, no more.
	if store.calls != 3 {
		t.Errorf("search calls = %d, want 3", store.calls)
	}
	if result.Answer != InsufficientContextAnswer {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.ChunkCount != 0 {
		t.Errorf("chunk_count = %d", result.ChunkCount)
	}
	if result.TerminalReason != models.TerminalReasonNoRelevantChunks {
		t.Errorf("terminal_reason = %q", result.TerminalReason)
	}
	if result.RewrittenQuery != "unanswerable rephrased rephrased" {
		t.Errorf("rewritten_query = %q", result.RewrittenQuery)
	}
	if len(result.Sources) != 0 {
		t.Errorf("sources = %v", result.Sources)
	}
}

func TestPipelineIdenticalRewriteStillTerminates(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()}
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) { return 0, nil },
		// Default RewriteFunc echoes the current query: no progress.
	}
	p := New(store, client, testConfig())

	result, err := p.Run(context.Background(), models.AskRequest{Query: "stuck"})
	if err != nil {
		t.Fatal(err)
	}
	if store.calls != 3 {
		t.Errorf("search calls = %d", store.calls)
	}
	// Last query equals the original, so no rewritten query is reported.
	if result.RewrittenQuery != "" {
		t.Errorf("rewritten_query = %q", result.RewrittenQuery)
	}
}

func TestPipelineEmptyStore(t *testing.T) {
	store := &fakeSearcher{} // no hits, like a store queried before any ingest
	client := &llm.MockClient{}
	p := New(store, client, testConfig())

	result, err := p.Run(context.Background(), models.AskRequest{Query: "anything at all"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Answer != InsufficientContextAnswer {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.ChunkCount != 0 {
		t.Errorf("chunk_count = %d", result.ChunkCount)
	}
	if client.GradeCalls != 0 {
		t.Errorf("grade calls = %d; no chunks should be graded", client.GradeCalls)
	}
	if client.GenerateCalls != 0 {
		t.Errorf("generate calls = %d; no-context answer must not hit the model", client.GenerateCalls)
	}
}

func TestPipelineTransientRetrySucceeds(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()[:1]}
	failures := 1
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) {
			if failures > 0 {
				failures--
				return 0, &llm.TransientError{Err: errors.New("timeout")}
			}
			return 0.9, nil
		},
		GenerateFunc: func(ctx context.Context, query string, blocks []string) (string, error) {
			return "answer", nil
		},
	}
	p := New(store, client, testConfig(), WithRetryDelay(time.Millisecond))

	result, err := p.Run(context.Background(), models.AskRequest{Query: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if result.ChunkCount != 1 {
		t.Errorf("chunk_count = %d", result.ChunkCount)
	}
	if client.GradeCalls != 2 {
		t.Errorf("grade calls = %d, want 2 (one retry)", client.GradeCalls)
	}
}

func TestPipelineSecondFailureSurfacesStage(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()[:1]}
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) { return 0.9, nil },
		GenerateFunc: func(ctx context.Context, query string, blocks []string) (string, error) {
			return "", &llm.TransientError{Err: errors.New("still down")}
		},
	}
	p := New(store, client, testConfig(), WithRetryDelay(time.Millisecond))

	_, err := p.Run(context.Background(), models.AskRequest{Query: "q"})
	if err == nil {
		t.Fatal("expected pipeline error")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T", err)
	}
	if perr.Stage != "generate" {
		t.Errorf("stage = %q", perr.Stage)
	}
	if client.GenerateCalls != 2 {
		t.Errorf("generate calls = %d", client.GenerateCalls)
	}
}

func TestPipelineMalformedOutputFailsWithoutRetry(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()[:1]}
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) {
			return 0, fmt.Errorf("unparseable score")
		},
	}
	p := New(store, client, testConfig(), WithRetryDelay(time.Millisecond))

	_, err := p.Run(context.Background(), models.AskRequest{Query: "q"})
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != "grade" {
		t.Fatalf("err = %v", err)
	}
	if client.GradeCalls != 1 {
		t.Errorf("grade calls = %d; malformed output must not be retried", client.GradeCalls)
	}
}

func TestPipelineContextCancellation(t *testing.T) {
	store := &fakeSearcher{hits: reportHits()}
	client := &llm.MockClient{
		GradeFunc: func(ctx context.Context, query, chunk string) (float64, error) { return 0, nil },
	}
	p := New(store, client, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, models.AskRequest{Query: "q"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
