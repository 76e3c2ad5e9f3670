package advisor

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Backend is the subset of Client that Cached wraps.
type Backend interface {
	Suggest(ctx context.Context, symptoms string) (*Suggestion, error)
	Summarize(ctx context.Context, rec PatientRecord) (string, error)
}

// Cached remembers suggestions by normalized symptom text. Failures are not
// cached. Summaries always go to the backend since the record changes.
type Cached struct {
	backend Backend
	cache   *lru.Cache[string, Suggestion]
}

func NewCached(backend Backend, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, Suggestion](size)
	if err != nil {
		return nil, err
	}
	return &Cached{backend: backend, cache: c}, nil
}

func (c *Cached) Suggest(ctx context.Context, symptoms string) (*Suggestion, error) {
	key := strings.Join(strings.Fields(symptoms), " ")
	if s, ok := c.cache.Get(key); ok {
		return cloneSuggestion(s), nil
	}
	s, err := c.backend.Suggest(ctx, symptoms)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, *cloneSuggestion(*s))
	return s, nil
}

func (c *Cached) Summarize(ctx context.Context, rec PatientRecord) (string, error) {
	return c.backend.Summarize(ctx, rec)
}

func cloneSuggestion(s Suggestion) *Suggestion {
	s.Medications = append([]string(nil), s.Medications...)
	return &s
}
