package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/pdfquery/internal/exchange"
	"github.com/hyperjump/pdfquery/internal/models"
	"github.com/hyperjump/pdfquery/internal/server"
)

func TestWriteDocuments(t *testing.T) {
	list := &server.DocumentList{
		Documents: []models.DocumentSummary{
			{ID: "a.pdf-1", Name: "a.pdf", Size: 2048, Messages: 3, CreatedAt: time.Now()},
			{ID: "b.pdf-2", Name: "b.pdf", Size: 10, Messages: 1, CreatedAt: time.Now()},
		},
		ActiveID: "b.pdf-2",
		Phase:    "ready",
	}

	var buf bytes.Buffer
	if err := WriteDocuments(&buf, list, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "*") || strings.HasPrefix(lines[0], "*") {
		t.Errorf("active marker wrong:\n%s", buf.String())
	}
	if !strings.Contains(lines[0], "2.0 KB") {
		t.Errorf("size not humanized: %s", lines[0])
	}

	buf.Reset()
	if err := WriteDocuments(&buf, list, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded server.DocumentList
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.ActiveID != "b.pdf-2" || len(decoded.Documents) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteDocuments_empty(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteDocuments(&buf, &server.DocumentList{}, OutputText)
	if !strings.Contains(buf.String(), "No documents") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteResult_lastTurn(t *testing.T) {
	res := &exchange.Result{
		DocumentID: "a.pdf-1",
		Transcript: []models.Message{
			{ID: 1, Role: models.RoleAssistant, Text: "Hello!"},
			{ID: 2, Role: models.RoleUser, Text: "What was the revenue?"},
			{ID: 3, Role: models.RoleAssistant, Text: "The revenue was $5M in 2023."},
		},
	}
	var buf bytes.Buffer
	if err := WriteResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "Hello!") {
		t.Errorf("greeting should not be repeated:\n%s", out)
	}
	if !strings.Contains(out, "[you]\nWhat was the revenue?") || !strings.Contains(out, "[assistant]\nThe revenue was $5M in 2023.") {
		t.Errorf("got:\n%s", out)
	}
}

func TestWriteTranscript(t *testing.T) {
	doc := &models.Document{
		ID:         "a.pdf-1",
		Name:       "a.pdf",
		Text:       "Acme Corp reported revenue",
		Transcript: []models.Message{{ID: 1, Role: models.RoleAssistant, Text: "Hello!"}},
	}
	var buf bytes.Buffer
	_ = WriteTranscript(&buf, doc, OutputText)
	out := buf.String()
	if !strings.Contains(out, "a.pdf (a.pdf-1)") || !strings.Contains(out, "Acme Corp") || !strings.Contains(out, "[assistant]\nHello!") {
		t.Errorf("got:\n%s", out)
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: %v %v", f, err)
	}
	if _, err := ParseOutputFormat("compact"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTruncateWords(t *testing.T) {
	if got := TruncateWords("one two three", 2); got != "one two..." {
		t.Errorf("got %q", got)
	}
	if got := TruncateWords("one two", 5); got != "one two" {
		t.Errorf("got %q", got)
	}
}
