package main

import (
	"fmt"
	"time"

	"deepresearcher/internal/config"
	"deepresearcher/internal/embedding"
	"deepresearcher/internal/history"
	"deepresearcher/internal/llm"
	"deepresearcher/internal/research"
	"deepresearcher/internal/search"
)

// buildEngine returns the configured embedding engine, or nil when
// embeddings are disabled.
func buildEngine(cfg config.Config) (embedding.Engine, error) {
	if !cfg.Embedding.Enabled {
		return nil, nil
	}
	return embedding.NewEngine(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Endpoint:   cfg.Embedding.Endpoint,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
	})
}

// openHistory opens the session archive with the configured engine.
func openHistory(cfg config.Config) (*history.Store, error) {
	engine, err := buildEngine(cfg)
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.History.Path, engine, logger)
}

// buildController wires a ready-to-run loop controller and the history
// store it records into.
func buildController(cfg config.Config) (*research.Controller, *history.Store, error) {
	client, err := llm.New(llm.Config{
		Provider:    cfg.LLM.Provider,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		TimeoutSec:  cfg.LLM.TimeoutSec,
	})
	if err != nil {
		return nil, nil, err
	}

	provider, err := search.New(search.Config{
		Provider:      cfg.Search.Provider,
		SearXNGURL:    cfg.Search.SearXNGURL,
		TavilyAPIKey:  cfg.Search.TavilyAPIKey,
		FetchFullPage: cfg.Search.FetchFullPage,
		CacheTTL:      time.Duration(cfg.Search.CacheTTLMin) * time.Minute,
		Timeout:       time.Duration(cfg.Search.TimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}

	controller, err := research.NewController(client, provider, research.Options{
		MaxLoops:           cfg.Research.MaxLoops,
		MaxResultsPerQuery: cfg.Research.MaxResultsPerQuery,
		RelevanceThreshold: cfg.Research.RelevanceThreshold,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open history store: %w", err)
	}
	controller.SetRecorder(store)

	if cfg.Embedding.Semantic {
		engine, err := buildEngine(cfg)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		controller.SetScorer(embedding.NewSemanticScorer(engine))
	}
	return controller, store, nil
}
