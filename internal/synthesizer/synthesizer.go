// Package synthesizer turns the final ranked papers into a cited answer.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/knoguchi/paperqa/internal/llm"
	"github.com/knoguchi/paperqa/internal/rag"
)

const (
	// ContextExcerptLength bounds each source's matched text in the prompt, in runes.
	ContextExcerptLength = 500

	// SourceExcerptLength bounds SourceReference.Excerpt, in runes.
	SourceExcerptLength = 200

	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 60 * time.Second
)

// SystemPrompt constrains the model to the supplied context.
const SystemPrompt = `You are a research assistant answering questions about academic papers.

Rules:
- Answer ONLY from the numbered context below. Do not use outside knowledge.
- Cite sources inline with their bracketed number, e.g. [1] or [2][3], after each claim they support.
- Keep the answer to two or three short paragraphs.
- If the context does not contain enough information to answer, say so explicitly and explain what is missing.`

// TokenCounter counts prompt tokens.
type TokenCounter interface {
	Count(text string) int
}

// Synthesis is the result of one generation.
type Synthesis struct {
	Answer       string
	Sources      []rag.SourceReference
	ModelUsed    string
	PromptTokens *int
}

// Synthesizer builds grounded prompts and calls the LLM.
type Synthesizer struct {
	client      llm.LLM
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	counter     TokenCounter
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithModel overrides the client's default model.
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithTemperature sets the generation temperature.
func WithTemperature(t float64) Option {
	return func(s *Synthesizer) {
		s.temperature = t
	}
}

// WithMaxTokens limits the answer length.
func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		s.maxTokens = n
	}
}

// WithTimeout sets the per-call generation timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTokenCounter enables prompt token accounting.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *Synthesizer) {
		s.counter = c
	}
}

// New creates a Synthesizer around an LLM client.
func New(client llm.LLM, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		client:      client,
		temperature: 0.3,
		maxTokens:   1024,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the model answers are generated with.
func (s *Synthesizer) Model() string {
	return llm.ResolveModel(s.client, llm.GenerateOptions{Model: s.model})
}

// Generate answers query from sources. Citation [n] refers to sources[n-1].
// With no sources the canned no-results answer is returned without calling
// the LLM.
func (s *Synthesizer) Generate(ctx context.Context, query string, sources []rag.RankedCandidate) (*Synthesis, error) {
	if len(sources) == 0 {
		return &Synthesis{
			Answer:    rag.NoResultsAnswer,
			Sources:   []rag.SourceReference{},
			ModelUsed: s.Model(),
		}, nil
	}

	prompt := BuildPrompt(query, sources)
	opts := llm.GenerateOptions{
		Model:        s.model,
		SystemPrompt: SystemPrompt,
		Temperature:  llm.Temperature(s.temperature),
		MaxTokens:    s.maxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	answer, err := s.client.Generate(ctx, prompt, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rag.ErrSynthesis, err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("%w: %w", rag.ErrSynthesis, errors.New("model returned an empty answer"))
	}

	out := &Synthesis{
		Answer:    answer,
		Sources:   References(sources),
		ModelUsed: llm.ResolveModel(s.client, opts),
	}
	if s.counter != nil {
		n := s.counter.Count(SystemPrompt) + s.counter.Count(prompt)
		out.PromptTokens = &n
	}
	return out, nil
}

// BuildContext enumerates sources as numbered context entries in input order.
func BuildContext(sources []rag.RankedCandidate) string {
	var sb strings.Builder
	for i, src := range sources {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, src.Paper.Title)
		if src.Paper.Authors != "" {
			fmt.Fprintf(&sb, "Authors: %s\n", src.Paper.Authors)
		}
		if src.Paper.Year > 0 {
			fmt.Fprintf(&sb, "Year: %d\n", src.Paper.Year)
		}
		fmt.Fprintf(&sb, "Excerpt: %s\n", truncateRunes(strings.TrimSpace(src.MatchedText), ContextExcerptLength))
	}
	return sb.String()
}

// BuildPrompt assembles the user prompt for query.
func BuildPrompt(query string, sources []rag.RankedCandidate) string {
	var sb strings.Builder
	sb.WriteString("Context:\n\n")
	sb.WriteString(BuildContext(sources))
	sb.WriteString("\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// References projects sources onto SourceReferences in the same order.
func References(sources []rag.RankedCandidate) []rag.SourceReference {
	refs := make([]rag.SourceReference, len(sources))
	for i, src := range sources {
		refs[i] = rag.SourceReference{
			Title:          src.Paper.Title,
			Authors:        src.Paper.Authors,
			Year:           src.Paper.Year,
			Link:           src.Paper.Link,
			Pages:          src.Paper.Pages,
			RelevanceScore: src.RerankScore,
			Excerpt:        Excerpt(src.MatchedText, SourceExcerptLength),
		}
	}
	return refs
}

// Excerpt shortens text to at most max runes. It cuts after the last sentence
// terminator in the second half of the window when there is one, and
// otherwise hard-truncates and appends an ellipsis. Terminators ending a
// common abbreviation are not sentence boundaries.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	window := runes[:max]
	for i := len(window) - 1; i >= max/2; i-- {
		switch window[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				if sentence := string(window[:i+1]); !isAbbreviation(sentence) {
					return sentence
				}
			}
		}
	}
	return strings.TrimRightFunc(string(window), unicode.IsSpace) + "..."
}

// isAbbreviation checks if text ends with an abbreviation common in papers
func isAbbreviation(text string) bool {
	abbreviations := []string{
		"et al.", "e.g.", "i.e.", "cf.", "etc.", "vs.",
		"fig.", "figs.", "eq.", "eqs.", "sec.", "tab.", "ref.",
		"no.", "vol.", "pp.", "approx.", "dr.", "prof.",
	}

	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(lower, abbr) {
			continue
		}
		// whole word only, so "piano." does not match "no."
		rest := lower[:len(lower)-len(abbr)]
		if rest == "" || strings.HasSuffix(rest, " ") || strings.HasSuffix(rest, "(") {
			return true
		}
	}
	return false
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
