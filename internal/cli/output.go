package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/pdfquery/internal/exchange"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/server"
	"github.com/hyperjump/pdfquery/pkg/utils"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteDocuments writes the document list, marking the active one.
func WriteDocuments(w io.Writer, list *server.DocumentList, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, list)
	}
	if len(list.Documents) == 0 {
		fmt.Fprintln(w, "No documents uploaded.")
		return nil
	}
	for _, d := range list.Documents {
		marker := " "
		if d.ID == list.ActiveID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-40s %8s  %3d msgs  %s\n",
			marker, utils.Truncate(d.Name, 37), humanSize(d.Size), d.Messages, d.ID)
	}
	return nil
}

// WriteTranscript writes a document's conversation.
func WriteTranscript(w io.Writer, doc *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, doc)
	}
	fmt.Fprintf(w, "── %s (%s)\n", doc.Name, doc.ID)
	if preview := TruncateWords(strings.TrimSpace(doc.Text), 24); preview != "" {
		fmt.Fprintf(w, "%s\n", preview)
	}
	writeMessages(w, doc.Transcript)
	return nil
}

// WriteResult writes the last turn of an exchange: the question and its answer.
func WriteResult(w io.Writer, res *exchange.Result, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	msgs := res.Transcript
	if len(msgs) > 2 {
		msgs = msgs[len(msgs)-2:]
	}
	writeMessages(w, msgs)
	return nil
}

func writeMessages(w io.Writer, msgs []models.Message) {
	for _, m := range msgs {
		who := "you"
		if m.Role == models.RoleAssistant {
			who = "assistant"
		}
		fmt.Fprintf(w, "\n[%s]\n%s\n", who, strings.TrimSpace(m.Text))
	}
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
