package pipeline

import "fmt"

// PipelineError reports a language-model stage that failed after its single
// retry. The pipeline never falls back to a partial answer; callers receive
// this instead of a silently degraded result.
type PipelineError struct {
	Stage string // "grade", "rewrite", or "generate"
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
