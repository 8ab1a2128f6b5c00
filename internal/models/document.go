// Package models defines core data structures for documents, transcripts, and owners.
package models

import (
	"fmt"
	"time"
)

// PageMarker follows every extracted page in Document.Text.
const PageMarker = "\n\n"

// DocumentIDTimeLayout is the timestamp layout embedded in document IDs.
const DocumentIDTimeLayout = "2006-01-02T15:04:05.000Z"

// Document is an uploaded PDF with its extracted text and chat transcript.
type Document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Content    []byte    `json:"-"`
	Text       string    `json:"text,omitempty"`
	Transcript []Message `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DocumentID derives the document ID from its name and creation time.
func DocumentID(name string, createdAt time.Time) string {
	return name + "-" + createdAt.UTC().Format(DocumentIDTimeLayout)
}

// Clone returns a deep copy of d. Content is shared since it is never mutated.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Transcript = CloneMessages(d.Transcript)
	return &c
}

// Summary returns the listing view of d.
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:        d.ID,
		Name:      d.Name,
		Size:      len(d.Content),
		Messages:  len(d.Transcript),
		CreatedAt: d.CreatedAt,
	}
}

// DocumentSummary is a document without its payload, text, or transcript.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// DocumentPatch is a partial update. Nil fields are left untouched by the store.
type DocumentPatch struct {
	Name       *string
	Content    []byte
	Text       *string
	Transcript []Message
	CreatedAt  *time.Time
}

// FullPatch returns a patch carrying every field of d.
func FullPatch(d *Document) DocumentPatch {
	name, text, created := d.Name, d.Text, d.CreatedAt
	transcript := d.Transcript
	if transcript == nil {
		transcript = []Message{}
	}
	return DocumentPatch{
		Name:       &name,
		Content:    d.Content,
		Text:       &text,
		Transcript: transcript,
		CreatedAt:  &created,
	}
}

// TranscriptOnly returns a patch that replaces only the transcript.
func TranscriptOnly(msgs []Message) DocumentPatch {
	if msgs == nil {
		msgs = []Message{}
	}
	return DocumentPatch{Transcript: msgs}
}

// Owner identifies whose documents are in scope.
type Owner struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"anonymous"`
}

// Validate returns an error if the owner has no ID.
func (o Owner) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("owner id cannot be empty")
	}
	return nil
}
