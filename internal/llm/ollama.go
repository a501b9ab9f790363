package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kotae/pkg/utils"
)

// chunkPreviewLen bounds how much of each chunk is shown in grading and
// rewrite prompts.
const chunkPreviewLen = 350

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaClient calls the Ollama /api/chat endpoint for grading, rewriting,
// and answer generation.
type OllamaClient struct {
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// NewOllamaClient creates a chat client targeting the given Ollama instance and model.
func NewOllamaClient(baseURL, model string, maxTokens int, temperature float64) *OllamaClient {
	return &OllamaClient{
		baseURL:     baseURL,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// chat sends a conversation to Ollama and returns the assistant's response.
// Network failures and 5xx responses come back as *TransientError.
func (c *OllamaClient) chat(ctx context.Context, temperature float64, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  chatOptions{Temperature: temperature, NumPredict: c.maxTokens},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("chat request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &TransientError{Err: fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return result.Message.Content, nil
}

// Grade asks the model to score the relevance of chunk to query and parses
// the numeric reply. A reply that does not contain a number in [0,1] is a
// malformed-output error, not a transient one.
func (c *OllamaClient) Grade(ctx context.Context, query, chunk string) (float64, error) {
	prompt := fmt.Sprintf(
		"You are a relevance grader. Rate how relevant the document chunk is to the question "+
			"on a scale from 0 to 1. Respond with ONLY the number.\n\nQuestion: %s\n\nChunk:\n%s\n\nScore:",
		query, utils.Truncate(chunk, chunkPreviewLen))

	raw, err := c.chat(ctx, 0, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return 0, err
	}
	score, err := parseScore(raw)
	if err != nil {
		return 0, fmt.Errorf("grade: %w", err)
	}
	return score, nil
}

// parseScore extracts a relevance score in [0,1] from a model reply.
func parseScore(raw string) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty score reply")
	}
	score, err := strconv.ParseFloat(strings.Trim(fields[0], "*`.,"), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable score %q", raw)
	}
	if score < 0 || score > 1 {
		return 0, fmt.Errorf("score %v out of range", score)
	}
	return score, nil
}

// Rewrite asks the model to rephrase the query for better retrieval, showing
// it the original question, the current (possibly already rewritten) one, and
// previews of what the current query retrieved.
func (c *OllamaClient) Rewrite(ctx context.Context, original, current string, chunks []string) (string, error) {
	var sb strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", i, utils.Truncate(chunk, chunkPreviewLen))
	}
	prompt := fmt.Sprintf(
		"Rewrite this question to better match document terminology and improve retrieval. "+
			"Output ONLY the rewritten question.\n\nOriginal: %s\nCurrent: %s\n\nRetrieved so far:\n%s\nRewritten:",
		original, current, sb.String())

	raw, err := c.chat(ctx, 0.3, []Message{{Role: "user", Content: prompt}})
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(raw)
	if rewritten == "" {
		return "", fmt.Errorf("rewrite: empty reply")
	}
	return rewritten, nil
}

const generateSystemPrompt = "You are a helpful document Q&A assistant. " +
	"Answer the question using ONLY the provided document context. " +
	"Be concise and accurate. Cite the document name when referencing information. " +
	"If the answer isn't in the context, say so clearly."

// Generate produces a grounded answer from the context blocks. Each block
// already carries its source header; blocks are joined with separators.
func (c *OllamaClient) Generate(ctx context.Context, query string, contextBlocks []string) (string, error) {
	human := fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:",
		strings.Join(contextBlocks, "\n\n---\n\n"), query)

	raw, err := c.chat(ctx, c.temperature, []Message{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: human},
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(raw)
	if answer == "" {
		return "", fmt.Errorf("generate: empty reply")
	}
	return answer, nil
}
