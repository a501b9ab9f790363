package llm

import "context"

// MockClient is a scripted Client for tests. Unset funcs return zero values.
type MockClient struct {
	GradeFunc    func(ctx context.Context, query, chunk string) (float64, error)
	RewriteFunc  func(ctx context.Context, original, current string, chunks []string) (string, error)
	GenerateFunc func(ctx context.Context, query string, contextBlocks []string) (string, error)

	GradeCalls    int
	RewriteCalls  int
	GenerateCalls int
}

// Grade calls GradeFunc if set.
func (m *MockClient) Grade(ctx context.Context, query, chunk string) (float64, error) {
	m.GradeCalls++
	if m.GradeFunc != nil {
		return m.GradeFunc(ctx, query, chunk)
	}
	return 0, nil
}

// Rewrite calls RewriteFunc if set; otherwise echoes the current query.
func (m *MockClient) Rewrite(ctx context.Context, original, current string, chunks []string) (string, error) {
	m.RewriteCalls++
	if m.RewriteFunc != nil {
		return m.RewriteFunc(ctx, original, current, chunks)
	}
	return current, nil
}

// Generate calls GenerateFunc if set.
func (m *MockClient) Generate(ctx context.Context, query string, contextBlocks []string) (string, error) {
	m.GenerateCalls++
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, query, contextBlocks)
	}
	return "", nil
}
