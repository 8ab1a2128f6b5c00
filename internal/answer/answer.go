// Package answer generates answers to questions about a document's text using a language model.
package answer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"text/template"
)

// ErrGeneration wraps every failure of a Generator.
var ErrGeneration = errors.New("answer generation failed")

// Generator answers a question using only the given document text.
type Generator interface {
	GenerateAnswer(ctx context.Context, content, question string) (string, error)
	Name() string
}

//go:embed prompts/*.tmpl
var promptFS embed.FS

var answerPrompt = template.Must(template.ParseFS(promptFS, "prompts/answer.tmpl"))

// BuildPrompt renders the answer prompt for content and question.
func BuildPrompt(content, question string) (string, error) {
	var buf bytes.Buffer
	err := answerPrompt.Execute(&buf, struct {
		Content  string
		Question string
	}{content, question})
	if err != nil {
		return "", fmt.Errorf("%w: render prompt: %v", ErrGeneration, err)
	}
	return buf.String(), nil
}

// Options configures the provider returned by New.
type Options struct {
	Provider  string // ollama, anthropic, lorem
	Model     string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// New returns the Generator for opts.Provider.
func New(opts Options) (Generator, error) {
	switch opts.Provider {
	case "ollama":
		return NewOllama(opts.BaseURL, opts.Model)
	case "anthropic":
		return NewAnthropic(opts.APIKey, opts.BaseURL, opts.Model, opts.MaxTokens)
	case "lorem", "":
		return NewLorem(0), nil
	default:
		return nil, fmt.Errorf("unknown answer provider %q", opts.Provider)
	}
}
