package answer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	loremgen "github.com/bozaro/golorem"
)

// Lorem is an offline generator that answers with lorem ipsum text.
// It is safe for concurrent use.
type Lorem struct {
	mu        sync.Mutex
	generator *loremgen.Lorem
	delay     time.Duration
}

// NewLorem returns a Lorem generator that waits delay before answering.
func NewLorem(delay time.Duration) *Lorem {
	return &Lorem{generator: loremgen.New(), delay: delay}
}

func (l *Lorem) Name() string {
	return "lorem"
}

func (l *Lorem) GenerateAnswer(ctx context.Context, content, question string) (string, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrGeneration, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	// One sentence per page of the document, at most three.
	n := strings.Count(content, "\n\n")
	if n < 1 {
		n = 1
	}
	if n > 3 {
		n = 3
	}
	sentences := make([]string, n)
	l.mu.Lock()
	for i := range sentences {
		sentences[i] = l.generator.Sentence(5, 12)
	}
	l.mu.Unlock()
	return strings.Join(sentences, " "), nil
}
