package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/models"
)

func TestWriteAnswerText(t *testing.T) {
	result := &models.AskResult{
		Answer:     "The revenue was 4.2 million.",
		Sources:    []string{"report.pdf (chunk #0)"},
		ChunkCount: 1,
		QueryTime:  12,
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, result, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "The revenue was 4.2 million.") {
		t.Errorf("answer missing from output: %s", out)
	}
	if !strings.Contains(out, "report.pdf (chunk #0)") {
		t.Errorf("source missing from output: %s", out)
	}
	if strings.Contains(out, "rewritten") {
		t.Errorf("unexpected rewrite note: %s", out)
	}
}

func TestWriteAnswerTextRewritten(t *testing.T) {
	result := &models.AskResult{
		Answer:         "answer",
		RewrittenQuery: "a clearer question",
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, result, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "a clearer question") {
		t.Errorf("rewritten query missing: %s", buf.String())
	}
}

func TestWriteAnswerJSON(t *testing.T) {
	result := &models.AskResult{Answer: "hi", ChunkCount: 2}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, result, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.AskResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Answer != "hi" || decoded.ChunkCount != 2 {
		t.Errorf("roundtrip mismatch: %+v", decoded)
	}
}

func TestWriteDocuments(t *testing.T) {
	docs := []*models.Document{
		{ID: "d1", Name: "notes.txt", Status: models.StatusIndexed, ChunkCount: 3},
	}
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "notes.txt") || !strings.Contains(buf.String(), "indexed") {
		t.Errorf("unexpected listing: %s", buf.String())
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no documents") {
		t.Errorf("empty listing: %s", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	status := map[string]interface{}{
		"documents":     float64(2),
		"total_vectors": float64(10),
		"live_vectors":  float64(8),
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, status, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "documents:") || !strings.Contains(out, "live_vectors:") {
		t.Errorf("unexpected status output: %s", out)
	}
}
