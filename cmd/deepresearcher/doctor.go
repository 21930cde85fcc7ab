package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"deepresearcher/internal/llm"
	"deepresearcher/internal/search"
)

// doctorCmd checks every configured backend so a broken setup fails
// here instead of three minutes into a research run.
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check connectivity to the configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		out := cmd.OutOrStdout()
		failed := false
		check := func(name string, err error) {
			if err != nil {
				failed = true
				fmt.Fprintf(out, "FAIL  %-12s %v\n", name, err)
				return
			}
			fmt.Fprintf(out, "ok    %s\n", name)
		}

		client, err := llm.New(llm.Config{
			Provider:    cfg.LLM.Provider,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			TimeoutSec:  cfg.LLM.TimeoutSec,
		})
		if err != nil {
			check("llm", err)
		} else {
			check("llm", client.Ping(ctx))
		}

		provider, err := search.New(search.Config{
			Provider:     cfg.Search.Provider,
			SearXNGURL:   cfg.Search.SearXNGURL,
			TavilyAPIKey: cfg.Search.TavilyAPIKey,
		})
		if err != nil {
			check("search", err)
		} else {
			_, searchErr := provider.Search(ctx, "connectivity check", 1)
			check("search", searchErr)
		}

		engine, err := buildEngine(cfg)
		switch {
		case err != nil:
			check("embedding", err)
		case engine == nil:
			fmt.Fprintln(out, "skip  embedding (disabled)")
		default:
			_, embedErr := engine.Embed(ctx, "connectivity check")
			check("embedding", embedErr)
		}

		store, err := openHistory(cfg)
		if err != nil {
			check("history", err)
		} else {
			_, statsErr := store.Stats(ctx)
			check("history", statsErr)
			store.Close()
		}

		if failed {
			return fmt.Errorf("one or more checks failed")
		}
		return nil
	},
}
