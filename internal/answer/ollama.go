package answer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama generates answers with a local Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates an Ollama generator for model served at baseURL.
func NewOllama(baseURL, model string) (*Ollama, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	return &Ollama{client: api.NewClient(u, http.DefaultClient), model: model}, nil
}

func (o *Ollama) Name() string {
	return "ollama"
}

func (o *Ollama) GenerateAnswer(ctx context.Context, content, question string) (string, error) {
	prompt, err := BuildPrompt(content, question)
	if err != nil {
		return "", err
	}
	stream := false
	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}
	var sb strings.Builder
	err = o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: ollama: %v", ErrGeneration, err)
	}
	answer := strings.TrimSpace(sb.String())
	if answer == "" {
		return "", fmt.Errorf("%w: ollama returned an empty answer", ErrGeneration)
	}
	return answer, nil
}
