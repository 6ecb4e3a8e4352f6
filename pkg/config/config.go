// Package config loads the knowledge engine's runtime settings via Viper,
// binding the keys enumerated in the engine configuration table.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EmbeddingProvider enumerates the supported embedding backends.
type EmbeddingProvider string

const (
	ProviderOllama     EmbeddingProvider = "ollama"
	ProviderOpenRouter EmbeddingProvider = "openrouter"
)

// Search holds the tunables for hybrid ranking.
type Search struct {
	RRFK        int     `mapstructure:"rrf_k"`
	MaxResults  int     `mapstructure:"max_results"`
	GraphDepth  int     `mapstructure:"graph_depth"`
	GraphMax    int     `mapstructure:"graph_max"`
	BM25Limit   int     `mapstructure:"bm25_limit"`
	DenseLimit  int     `mapstructure:"dense_limit"`
	DocBoost    float64 `mapstructure:"doc_boost"`
}

// Settings is the full set of engine configuration knobs.
type Settings struct {
	EmbeddingProvider EmbeddingProvider `mapstructure:"embedding_provider"`
	EmbeddingURL      string            `mapstructure:"embedding_url"`
	EmbeddingModel    string            `mapstructure:"embedding_model"`
	EmbeddingDim      int               `mapstructure:"embedding_dim"` // 0 == unset, no dimension check
	EmbeddingBatch    int               `mapstructure:"embedding_batch"`

	ReconcileSeconds int `mapstructure:"reconcile_seconds"`

	TypesAllowlistPath      string `mapstructure:"types_allowlist_path"`
	KnowledgeDBPathOverride string `mapstructure:"knowledge_db_path_override"`
	DataRootOverride        string `mapstructure:"data_root_override"`

	Search Search `mapstructure:"search"`

	// OpenRouterAPIKey is skipped by Unmarshal and filled in by Load only
	// when the provider is openrouter, from the openrouter_api_key key
	// (KOMA_OPENROUTER_API_KEY in the environment, or koma.toml).
	OpenRouterAPIKey string `mapstructure:"-"`
}

// ReconcileInterval returns ReconcileSeconds as a time.Duration.
func (s Settings) ReconcileInterval() time.Duration {
	return time.Duration(s.ReconcileSeconds) * time.Second
}

// Load reads settings from (in ascending priority) defaults, a koma.toml
// file on the given search paths, and KOMA_-prefixed environment variables.
func Load(configPaths ...string) (Settings, error) {
	v := viper.New()
	v.SetConfigName("koma")
	v.SetConfigType("toml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("KOMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Settings{}, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, err
	}

	if s.EmbeddingProvider == ProviderOpenRouter {
		s.OpenRouterAPIKey = v.GetString("openrouter_api_key")
	}

	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("embedding_provider", string(ProviderOllama))
	v.SetDefault("embedding_url", "http://127.0.0.1:11434")
	v.SetDefault("embedding_model", "qwen3-embedding:8b")
	v.SetDefault("embedding_dim", 0)
	v.SetDefault("embedding_batch", 32)
	v.SetDefault("reconcile_seconds", 300)
	v.SetDefault("types_allowlist_path", "")
	v.SetDefault("knowledge_db_path_override", "")
	v.SetDefault("data_root_override", "")
	v.SetDefault("search.rrf_k", 60)
	v.SetDefault("search.max_results", 8)
	v.SetDefault("search.graph_depth", 1)
	v.SetDefault("search.graph_max", 20)
	v.SetDefault("search.bm25_limit", 20)
	v.SetDefault("search.dense_limit", 20)
	v.SetDefault("search.doc_boost", 1.5)
}

// Default returns Settings populated purely with defaults, useful for tests
// that only need the override fields.
func Default() Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	_ = v.Unmarshal(&s)
	return s
}
