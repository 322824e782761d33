package engine_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/easyops/contextengine/pkg/core/config"
	"github.com/easyops/contextengine/pkg/core/errors"
	"github.com/easyops/contextengine/pkg/engine"
	"github.com/easyops/contextengine/pkg/knowledge"
	"github.com/easyops/contextengine/pkg/prompt"
	"github.com/easyops/contextengine/pkg/session"
)

const exampleDir = "../../../examples/basic"

func exampleConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Knowledge.FragmentsPath = filepath.Join(exampleDir, "knowledge.yaml")
	cfg.Knowledge.ModulesPath = filepath.Join(exampleDir, "modules.yaml")
	cfg.Prompt.TokenModel = prompt.TokenModelEstimate
	cfg.Observability.Logging.Level = "error"
	return cfg
}

func TestNewFromConfig_KeywordOnly(t *testing.T) {
	eng, err := engine.NewFromConfig(context.Background(), exampleConfig(t))
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	defer eng.Close()

	if eng.Sessions() == nil {
		t.Fatal("expected a session store")
	}

	res := eng.Handle(context.Background(), eng.Sessions(), "s1", "Is there a shuttle from the city?", knowledge.LanguageEnglish)
	if len(res.Detection.Topics) == 0 || res.Detection.Topics[0] != "transport" {
		t.Fatalf("expected transport via trigger term, got %v", res.Detection.Topics)
	}
	if res.Detection.UsedFallback {
		t.Fatal("expected no vector fallback when retrieval is disabled")
	}
}

func TestNewFromConfig_VectorFallback(t *testing.T) {
	cfg := exampleConfig(t)
	cfg.Retrieval.Enabled = true
	cfg.Retrieval.MinScore = 0.05

	eng, err := engine.NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new from config: %v", err)
	}
	defer eng.Close()

	res := eng.Process(context.Background(), "is the cold plunge very cold", knowledge.LanguageEnglish, session.Context{})
	if !res.Detection.UsedFallback {
		t.Fatal("expected vector fallback on keyword miss")
	}
	if len(res.Warnings()) != 0 {
		t.Fatalf("unexpected warnings %v", res.Warnings())
	}
	if len(res.Detection.Topics) == 0 || res.Detection.Topics[0] != "ritual" {
		t.Fatalf("expected ritual from the vector path, got %v", res.Detection.Topics)
	}
	first := res.Prompt.AttachedFragments[0]
	if first.Fragment.ID() != "ritual-en" || first.Source != knowledge.SourceVector {
		t.Fatalf("expected ritual-en from vector, got %s from %s", first.Fragment.ID(), first.Source)
	}
}

func TestNewFromConfig_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"missing knowledge file", func(c *config.Config) { c.Knowledge.FragmentsPath = "does-not-exist.yaml" }},
		{"unknown vector store", func(c *config.Config) {
			c.Retrieval.Enabled = true
			c.VectorStore.Type = "pinecone"
		}},
		{"unknown session store", func(c *config.Config) { c.Session.Type = "redis" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := exampleConfig(t)
			tt.mutate(cfg)
			eng, err := engine.NewFromConfig(context.Background(), cfg)
			if err == nil {
				eng.Close()
				t.Fatal("expected error")
			}
			if strings.Contains(tt.name, "unknown") && !errors.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}
