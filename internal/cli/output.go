// Package cli provides output formatting for the kotae command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kotae/internal/models"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteAnswer writes an answer to w in the given format.
func WriteAnswer(w io.Writer, result *models.AskResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		writeAnswerText(w, result)
		return nil
	}
}

func writeAnswerText(w io.Writer, result *models.AskResult) {
	fmt.Fprintf(w, "\n%s\n", result.Answer)
	if result.RewrittenQuery != "" {
		fmt.Fprintf(w, "\n(query rewritten to: %q)\n", result.RewrittenQuery)
	}
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for _, src := range result.Sources {
			fmt.Fprintf(w, "  - %s\n", src)
		}
	}
	fmt.Fprintf(w, "\n%d chunk(s) used, %dms\n", result.ChunkCount, result.QueryTime)
}

// WriteDocuments writes a document listing to w in the given format.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	default:
		if len(docs) == 0 {
			fmt.Fprintln(w, "no documents")
			return nil
		}
		for _, doc := range docs {
			fmt.Fprintf(w, "%-36s  %-10s  %4d chunks  %s\n",
				doc.ID, doc.Status, doc.ChunkCount, doc.Name)
		}
		return nil
	}
}

// WriteStatus writes the raw status payload to w in the given format.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	for _, key := range []string{"documents", "total_vectors", "live_vectors", "disk_usage_bytes"} {
		if v, ok := status[key]; ok {
			fmt.Fprintf(w, "%-18s %v\n", key+":", v)
		}
	}
	return nil
}
