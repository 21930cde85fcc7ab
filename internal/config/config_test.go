package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"deepresearcher/internal/research"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: lmstudio
  base_url: http://localhost:1234/v1
  model: qwen2.5
research:
  max_loops: 5
search:
  fetch_full_page: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "lmstudio" || cfg.LLM.Model != "qwen2.5" {
		t.Errorf("file values not applied: %+v", cfg.LLM)
	}
	if cfg.Research.MaxLoops != 5 {
		t.Errorf("expected max_loops 5, got %d", cfg.Research.MaxLoops)
	}
	if !cfg.Search.FetchFullPage {
		t.Error("fetch_full_page not applied")
	}
	// Untouched sections keep defaults.
	if diff := cmp.Diff(Default().Embedding, cfg.Embedding); diff != "" {
		t.Errorf("embedding section should keep defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("research:\n  max_loops: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(envMaxLoops, "7")
	t.Setenv(envLLMProvider, "lmstudio")
	t.Setenv(envFetchFullPage, "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Research.MaxLoops != 7 {
		t.Errorf("env should beat file: got %d", cfg.Research.MaxLoops)
	}
	if cfg.LLM.Provider != "lmstudio" {
		t.Errorf("env provider not applied: %s", cfg.LLM.Provider)
	}
	if !cfg.Search.FetchFullPage {
		t.Error("env bool not applied")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"loops too high", func(c *Config) { c.Research.MaxLoops = 11 }},
		{"loops negative", func(c *Config) { c.Research.MaxLoops = -1 }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "watson" }},
		{"unknown search provider", func(c *Config) { c.Search.Provider = "altavista" }},
		{"searxng without url", func(c *Config) { c.Search.Provider = "searxng"; c.Search.SearXNGURL = "" }},
		{"tavily without key", func(c *Config) { c.Search.Provider = "tavily" }},
		{"semantic without embeddings", func(c *Config) { c.Embedding.Semantic = true; c.Embedding.Enabled = false }},
		{"genai without key", func(c *Config) { c.Embedding.Enabled = true; c.Embedding.Provider = "genai" }},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, research.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}
