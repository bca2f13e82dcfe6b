package cmd

import (
	"go.uber.org/zap"

	"github.com/perbu/qest/pkg/answer"
	"github.com/perbu/qest/pkg/config"
	"github.com/perbu/qest/pkg/retrieval"
	"github.com/perbu/qest/pkg/vectorstore"
)

// buildAgent wires retrieval over Qdrant and the chat model into an Agent.
func buildAgent(cfg *config.Config, limit int, logger *zap.Logger) (*answer.Agent, error) {
	if err := cfg.RequireVectorStore(); err != nil {
		return nil, err
	}
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store := vectorstore.NewQdrant(cfg.QdrantURL, cfg.QdrantAPIKey, cfg.RequestTimeout)
	r, err := retrieval.New(emb, store, cfg.Collection, cfg.RetrievalLimit, logger)
	if err != nil {
		return nil, err
	}

	llm, err := answer.NewChatModel(cfg.OpenAIConfig(), cfg.ChatModel)
	if err != nil {
		return nil, err
	}
	composer := answer.NewComposer(llm, answer.Options{
		ContextDocs: cfg.ContextDocs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Logger:      logger,
	})
	return answer.NewAgent(r, composer, limit, logger), nil
}
