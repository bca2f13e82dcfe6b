// Package answer builds prompts from retrieved chunks and asks a language
// model to answer the user's question.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/qest"
)

const (
	// NoInformation is returned when retrieval found nothing.
	NoInformation = "No relevant legal information found. Would you like me to search further?"

	DefaultSystemPrompt = "You are a helpful legal assistant."
	DefaultMaxTokens    = 200
	DefaultTemperature  = 0.7
	DefaultContextDocs  = 1
)

const promptTemplate = `You are a legal assistant. Based on the following context, answer the user's question in a clear and concise manner.
If the information is insufficient, suggest further assistance.

**Context:**
%s

**User Question:**
%s

**Response:**
`

// Options configures a Composer. Zero values select the defaults.
type Options struct {
	// ContextDocs is how many of the best hits feed the prompt.
	ContextDocs  int
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
	Logger       *zap.Logger
}

// Composer turns retrieved hits and a question into an answer.
type Composer struct {
	llm  LLM
	opts Options
}

// NewComposer creates a Composer around llm.
func NewComposer(llm LLM, opts Options) *Composer {
	if opts.ContextDocs <= 0 {
		opts.ContextDocs = DefaultContextDocs
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Composer{llm: llm, opts: opts}
}

// BuildPrompt renders the user prompt from the best ContextDocs hits.
// hits must already be ordered best first.
func (c *Composer) BuildPrompt(query string, hits []qest.SearchHit) string {
	n := min(c.opts.ContextDocs, len(hits))
	texts := make([]string, 0, n)
	for _, h := range hits[:n] {
		texts = append(texts, h.Text())
	}
	return fmt.Sprintf(promptTemplate, strings.Join(texts, "\n"), query)
}

// Compose answers query from hits. It never fails: with no hits it returns
// NoInformation without calling the model, and a model failure is turned
// into a readable message.
func (c *Composer) Compose(ctx context.Context, query string, hits []qest.SearchHit) string {
	answer, _, _ := c.compose(ctx, query, hits)
	return answer
}

func (c *Composer) compose(ctx context.Context, query string, hits []qest.SearchHit) (answer, prompt string, err error) {
	if len(hits) == 0 {
		return NoInformation, "", nil
	}

	prompt = c.BuildPrompt(query, hits)
	answer, err = c.llm.Complete(ctx, Request{
		System:      c.opts.SystemPrompt,
		User:        prompt,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		c.opts.Logger.Error("language model call failed", zap.Error(err))
		return "Error generating response: " + err.Error(), prompt, err
	}
	return strings.TrimSpace(answer), prompt, nil
}

// Retriever is the part of retrieval.Retriever the Agent needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]qest.SearchHit, error)
}

// Agent runs the full query path: retrieve, then compose.
type Agent struct {
	retriever Retriever
	composer  *Composer
	limit     int
	logger    *zap.Logger
}

// NewAgent wires a retriever and a composer. limit 0 uses the retriever's default.
func NewAgent(r Retriever, c *Composer, limit int, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{retriever: r, composer: c, limit: limit, logger: logger}
}

// Ask answers query. The returned context always carries a readable Answer;
// err reports what went wrong, if anything, for callers that care.
func (a *Agent) Ask(ctx context.Context, query string) (qest.QueryContext, error) {
	qc := qest.QueryContext{QueryText: query}

	hits, err := a.retriever.Retrieve(ctx, query, a.limit)
	if err != nil {
		a.logger.Error("retrieval failed", zap.String("query", query), zap.Error(err))
		qc.Answer = "Failed to retrieve legal information: " + err.Error()
		return qc, err
	}
	qc.Retrieved = hits

	answer, prompt, err := a.composer.compose(ctx, query, hits)
	qc.Prompt = prompt
	qc.Answer = answer
	if err != nil && !errors.Is(err, qest.ErrExternal) {
		err = fmt.Errorf("%w: %w", qest.ErrExternal, err)
	}
	return qc, err
}
